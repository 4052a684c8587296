// Package datasets streams variable-length trajectories out of sharded
// TFRecord files and reshapes them for minibatch training.
//
// Trajectories are decoded one record at a time, tagged with a stream-unique
// index and their canonical step count, flattened into per-step frames for
// frame-level transforms, regrouped into whole trajectories via the
// composite (length, index) key, and finally shuffled, repeated, batched and
// prefetched. Nothing ever materializes the full dataset in memory; the only
// buffers are the shuffle reservoir, open regrouping windows and any
// explicit Materialize caches.
package datasets

import (
	"context"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/Noofbiz/trajstream/tfrecord"
)

// Config holds every knob of a trajectory dataset. Zero values get the
// defaults documented per field; Path is the only required option.
type Config struct {
	// Path is a directory containing *.tfrecord shard files.
	Path string

	// Seed drives shard-order shuffling and the output reservoir shuffle.
	Seed int64

	// BatchSize is the output mini-batch size. Default 32.
	BatchSize int

	// ShuffleBufferSize is the reservoir capacity. Default 25000; a value
	// of 1 disables shuffling entirely (including shard-order shuffling).
	ShuffleBufferSize int

	// FrameTransforms run over individual steps, in order.
	FrameTransforms []Transform

	// TrajTransforms run over whole trajectories, in order.
	TrajTransforms []Transform

	// TrajTransformsFirst applies the trajectory transforms before
	// flattening instead of after regrouping. When set, the flat frame
	// stream is the final shape and no regrouping happens.
	TrajTransformsFirst bool

	// Workers bounds per-record parallelism (decode, tag, transforms).
	// Default runtime.NumCPU().
	Workers int

	// PrefetchDepth is how many batches the pipeline prepares ahead of the
	// consumer. Default 2.
	PrefetchDepth int

	// InputFields and LabelFields select which batch fields Yield exposes
	// as inputs and labels. InputFields defaults to every numeric schema
	// field; string fields have no gomlx representation and must not be
	// listed. LabelFields defaults to none.
	InputFields []string
	LabelFields []string

	// Logger receives shard progress and data-loss warnings. Defaults to
	// the logrus standard logger.
	Logger logrus.FieldLogger

	// Registerer, when set, exports the pipeline Metrics.
	Registerer prometheus.Registerer
}

func (cfg Config) withDefaults() Config {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.ShuffleBufferSize <= 0 {
		cfg.ShuffleBufferSize = 25000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.PrefetchDepth <= 0 {
		cfg.PrefetchDepth = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return cfg
}

// Dataset is an unbounded, repeating stream of mini-batches assembled from
// trajectory shards. A Dataset expects a single consumer; Next is not safe
// for concurrent use.
type Dataset struct {
	cfg     Config
	schema  *tfrecord.Schema
	log     logrus.FieldLogger
	metrics *Metrics

	trajectories pipeline[Record]
	batches      pipeline[Record]
	current      stream[Record]
}

// New globs the shard files under cfg.Path, probes the schema from the first
// shard and assembles the full pipeline. The schema is inferred exactly once
// and passed to every decode; any record disagreeing with it later fails the
// dataset rather than being reinterpreted.
func New(cfg Config) (*Dataset, error) {
	cfg = cfg.withDefaults()
	log := cfg.Logger

	paths, err := filepath.Glob(filepath.Join(cfg.Path, "*.tfrecord"))
	if err != nil {
		return nil, errors.Wrapf(err, "glob shards under %s", cfg.Path)
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no *.tfrecord shards under %s", cfg.Path)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	if cfg.ShuffleBufferSize > 1 {
		rng.Shuffle(len(paths), func(i, j int) {
			paths[i], paths[j] = paths[j], paths[i]
		})
	}

	schema, err := tfrecord.Probe(paths[0])
	if err != nil {
		return nil, err
	}
	for _, reserved := range []string{FieldIndex, FieldLength} {
		if schema.Has(reserved) {
			return nil, &ReservedFieldError{Field: reserved}
		}
	}

	d := &Dataset{
		cfg:     cfg,
		schema:  schema,
		log:     log,
		metrics: newMetrics(cfg.Registerer),
	}

	// Decode and tag run in parallel per trajectory; only the enumeration
	// itself is sequential, so indexes follow stream order exactly.
	numberedP := enumerate(shardRecords(paths, log))
	d.trajectories = parallelMap(numberedP, func(_ context.Context, item numbered[[]byte]) (Record, error) {
		rec, err := tfrecord.Decode(item.val, schema)
		if err != nil {
			return nil, err
		}
		tagged, err := tagTrajectory(item.idx, rec)
		if err != nil {
			return nil, err
		}
		d.metrics.TrajectoriesDecoded.Inc()
		return tagged, nil
	}, cfg.Workers, true)

	p := d.trajectories
	if cfg.TrajTransformsFirst {
		p = applyTransforms(p, cfg.TrajTransforms, false, cfg.Workers)
		p = flatten(p, d.metrics)
		p = applyTransforms(p, cfg.FrameTransforms, false, cfg.Workers)
	} else {
		p = flatten(p, d.metrics)
		p = applyTransforms(p, cfg.FrameTransforms, true, cfg.Workers)
		p = regroup(p, log, d.metrics)
		p = applyTransforms(p, cfg.TrajTransforms, false, cfg.Workers)
		p = flatten(p, d.metrics)
	}
	p = shuffled(p, cfg.ShuffleBufferSize, rng)
	p = repeated(p)
	p = batched(p, cfg.BatchSize)
	d.batches = prefetch(p, cfg.PrefetchDepth)

	return d, nil
}

// Schema returns the probed per-field schema.
func (d *Dataset) Schema() *tfrecord.Schema { return d.schema }

// Next returns the next mini-batch: a record whose fields carry the batch
// size as their leading dimension. The stream repeats indefinitely; the
// first error encountered terminates iteration, and batches already
// delivered remain valid.
func (d *Dataset) Next(ctx context.Context) (Record, error) {
	if d.current == nil {
		s, err := d.batches()
		if err != nil {
			return nil, err
		}
		d.current = s
	}
	return d.current.Next(ctx)
}

// Trajectories opens one pass over the tagged trajectories, before any
// transforms, flattening or batching. Useful for inspection tooling and
// trajectory-level statistics.
func (d *Dataset) Trajectories() (*Iterator, error) {
	s, err := d.trajectories()
	if err != nil {
		return nil, err
	}
	return &Iterator{s: s}, nil
}

// Iterator yields the records of a single pass over a stream.
type Iterator struct {
	s stream[Record]
}

// Next returns the next record, or io.EOF at the end of the pass.
func (it *Iterator) Next(ctx context.Context) (Record, error) {
	return it.s.Next(ctx)
}

// shardRecords streams raw serialized records from the shard files in order,
// one file at a time.
func shardRecords(paths []string, log logrus.FieldLogger) pipeline[[]byte] {
	return func() (stream[[]byte], error) {
		var (
			idx    int
			file   *os.File
			reader *tfrecord.Reader
		)
		return streamFunc[[]byte](func(ctx context.Context) ([]byte, error) {
			for {
				if err := ctx.Err(); err != nil {
					if file != nil {
						file.Close()
						file, reader = nil, nil
					}
					return nil, err
				}
				if reader == nil {
					if idx >= len(paths) {
						return nil, io.EOF
					}
					f, err := os.Open(paths[idx])
					if err != nil {
						return nil, errors.Wrapf(err, "open shard %s", paths[idx])
					}
					log.WithField("shard", filepath.Base(paths[idx])).Debug("reading shard")
					file, reader = f, tfrecord.NewReader(f)
				}
				rec, err := reader.Next()
				if err == io.EOF {
					file.Close()
					file, reader = nil, nil
					idx++
					continue
				}
				if err != nil {
					file.Close()
					file, reader = nil, nil
					return nil, errors.Wrapf(err, "shard %s", paths[idx])
				}
				return rec, nil
			}
		}), nil
	}
}
