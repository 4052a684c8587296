package datasets

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Noofbiz/trajstream/tensor"
)

// regroup reconstitutes trajectories from a flat stream of tagged frames.
//
// The composite key doubles as the grouping key and the window size: frames
// sharing a key buffer up until the buffer holds exactly the step count the
// key itself encodes, at which point the buffer is stacked into a trajectory
// and the key closes. No global sortedness is required; memory is bounded by
// the frames of all concurrently open keys, so a stream that interleaves many
// long trajectories before completing any of them will hold all of them open
// at once.
//
// A key whose window never fills before the stream ends belongs to a
// truncated trajectory (typically clipped at a shard boundary). Those are
// dropped, with a warning and a metrics count rather than silently.
func regroup(p pipeline[Record], log logrus.FieldLogger, metrics *Metrics) pipeline[Record] {
	return func() (stream[Record], error) {
		up, err := p()
		if err != nil {
			return nil, err
		}
		open := make(map[int64][]Record)
		return streamFunc[Record](func(ctx context.Context) (Record, error) {
			for {
				frame, err := up.Next(ctx)
				if err == io.EOF {
					if len(open) > 0 {
						dropped := 0
						for _, frames := range open {
							dropped += len(frames)
						}
						log.WithFields(logrus.Fields{
							"trajectories": len(open),
							"frames":       dropped,
						}).Warn("dropping incomplete trajectories at end of stream")
						metrics.IncompleteGroupsDropped.Add(float64(len(open)))
						open = make(map[int64][]Record)
					}
					return nil, io.EOF
				}
				if err != nil {
					return nil, err
				}

				key, length, err := frameKey(frame)
				if err != nil {
					return nil, err
				}
				frames := append(open[key], frame)
				if len(frames) < length {
					open[key] = frames
					continue
				}
				delete(open, key)
				traj, err := stackFrames(frames)
				if err != nil {
					return nil, err
				}
				metrics.TrajectoriesRegrouped.Inc()
				return traj, nil
			}
		}), nil
	}
}

// stackFrames reassembles per-step records into one trajectory record with
// the step count as the leading dimension of every field.
func stackFrames(frames []Record) (Record, error) {
	out := make(Record, len(frames[0]))
	steps := make([]*tensor.Tensor, len(frames))
	for name := range frames[0] {
		for i, frame := range frames {
			t, ok := frame[name]
			if !ok {
				return nil, errors.Errorf("frame %d is missing field %q", i, name)
			}
			steps[i] = t
		}
		stacked, err := tensor.Stack(steps)
		if err != nil {
			return nil, errors.Wrapf(err, "stack field %q", name)
		}
		out[name] = stacked
	}
	return out, nil
}
