// trajstat summarizes a directory of trajectory shards: it prints the probed
// schema and trajectory-length statistics, and renders a length histogram so
// regressions in episode length distributions are easy to spot.
//
// Configuration comes from TRAJSTAT_* environment variables with CLI flags
// taking precedence.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/Noofbiz/trajstream/datasets"
)

type options struct {
	Path    string `env:"TRAJSTAT_PATH"`
	OutDir  string `env:"TRAJSTAT_OUT" envDefault:"output"`
	Bins    int    `env:"TRAJSTAT_BINS" envDefault:"32"`
	Workers int    `env:"TRAJSTAT_WORKERS" envDefault:"0"`
	Verbose bool   `env:"TRAJSTAT_VERBOSE" envDefault:"false"`
}

func main() {
	log := logrus.New()

	var opts options
	if err := env.Parse(&opts); err != nil {
		log.WithError(err).Fatal("parse environment")
	}
	flag.StringVar(&opts.Path, "path", opts.Path, "directory containing *.tfrecord shards")
	flag.StringVar(&opts.OutDir, "out", opts.OutDir, "directory for the histogram PNG")
	flag.IntVar(&opts.Bins, "bins", opts.Bins, "histogram bin count")
	flag.IntVar(&opts.Workers, "workers", opts.Workers, "decode workers (0 = NumCPU)")
	flag.BoolVar(&opts.Verbose, "v", opts.Verbose, "verbose logging")
	flag.Parse()

	if opts.Path == "" {
		log.Fatal("no shard directory given (use -path or TRAJSTAT_PATH)")
	}
	if opts.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if err := run(opts, log); err != nil {
		log.WithError(err).Fatal("trajstat failed")
	}
}

func run(opts options, log *logrus.Logger) error {
	ds, err := datasets.New(datasets.Config{
		Path:              opts.Path,
		ShuffleBufferSize: 1, // statistics want shard order, not a sample
		Workers:           opts.Workers,
		Logger:            log,
	})
	if err != nil {
		return err
	}

	fmt.Println("schema:")
	for _, field := range ds.Schema().Fields() {
		fmt.Printf("  %-20s %-8s %v\n", field.Name, field.DType, field.Shape)
	}

	lengths, err := collectLengths(ds, log)
	if err != nil {
		return err
	}
	if len(lengths) == 0 {
		return fmt.Errorf("no trajectories under %s", opts.Path)
	}

	minLen, maxLen := lengths[0], lengths[0]
	total := 0.0
	for _, l := range lengths {
		if l < minLen {
			minLen = l
		}
		if l > maxLen {
			maxLen = l
		}
		total += l
	}
	fmt.Printf("trajectories: %d\n", len(lengths))
	fmt.Printf("steps:        %.0f\n", total)
	fmt.Printf("length:       min %.0f / mean %.1f / max %.0f\n", minLen, total/float64(len(lengths)), maxLen)

	outPath := filepath.Join(opts.OutDir, "traj_lengths.png")
	if err := plotLengths(lengths, opts.Bins, outPath); err != nil {
		return err
	}
	log.WithField("path", outPath).Info("histogram written")
	return nil
}

// collectLengths runs one pass over the tagged trajectories and records each
// canonical length.
func collectLengths(ds *datasets.Dataset, log *logrus.Logger) (plotter.Values, error) {
	it, err := ds.Trajectories()
	if err != nil {
		return nil, err
	}
	var lengths plotter.Values
	ctx := context.Background()
	for {
		traj, err := it.Next(ctx)
		if err == io.EOF {
			return lengths, nil
		}
		if err != nil {
			return nil, err
		}
		step, err := traj[datasets.FieldLength].Slice(0)
		if err != nil {
			return nil, err
		}
		l, err := step.ScalarInt64Value()
		if err != nil {
			return nil, err
		}
		lengths = append(lengths, float64(l))
		log.WithField("length", l).Debug("trajectory")
	}
}

// plotLengths writes a PNG histogram of trajectory lengths.
func plotLengths(lengths plotter.Values, bins int, outPath string) error {
	p := plot.New()
	p.Title.Text = "Trajectory lengths"
	p.X.Label.Text = "steps"
	p.Y.Label.Text = "trajectories"

	h, err := plotter.NewHist(lengths, bins)
	if err != nil {
		return err
	}
	p.Add(h)

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 6*vg.Inch, outPath)
}
