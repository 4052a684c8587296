package datasets

import (
	"context"
	"io"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/Noofbiz/trajstream/tensor"
)

// shuffled mixes the stream through a fixed-capacity reservoir: the buffer is
// primed from upstream, then every pull emits a uniformly random buffered
// element and backfills its slot with the next upstream element. The rng is
// shared across passes, so repeated epochs see different orders while the
// whole run stays reproducible from the seed.
func shuffled(p pipeline[Record], capacity int, rng *rand.Rand) pipeline[Record] {
	if capacity <= 1 {
		return p
	}
	return func() (stream[Record], error) {
		up, err := p()
		if err != nil {
			return nil, err
		}
		var (
			buf    []Record
			primed bool
		)
		return streamFunc[Record](func(ctx context.Context) (Record, error) {
			if !primed {
				for len(buf) < capacity {
					rec, err := up.Next(ctx)
					if err == io.EOF {
						break
					}
					if err != nil {
						return nil, err
					}
					buf = append(buf, rec)
				}
				primed = true
			}
			if len(buf) == 0 {
				return nil, io.EOF
			}
			i := rng.Intn(len(buf))
			out := buf[i]
			rec, err := up.Next(ctx)
			switch {
			case err == io.EOF:
				buf[i] = buf[len(buf)-1]
				buf = buf[:len(buf)-1]
			case err != nil:
				return nil, err
			default:
				buf[i] = rec
			}
			return out, nil
		}), nil
	}
}

// repeated re-opens the upstream after every exhausted pass, yielding an
// unbounded stream. A pass that produces nothing at all ends the stream
// instead of spinning forever.
func repeated(p pipeline[Record]) pipeline[Record] {
	return func() (stream[Record], error) {
		up, err := p()
		if err != nil {
			return nil, err
		}
		produced := false
		return streamFunc[Record](func(ctx context.Context) (Record, error) {
			for {
				rec, err := up.Next(ctx)
				if err == io.EOF {
					if !produced {
						return nil, io.EOF
					}
					up, err = p()
					if err != nil {
						return nil, err
					}
					produced = false
					continue
				}
				if err != nil {
					return nil, err
				}
				produced = true
				return rec, nil
			}
		}), nil
	}
}

// batched stacks size consecutive records into one record whose fields gain a
// leading batch dimension. A trailing partial batch is emitted as-is; with
// the repeat stage upstream the stream never actually ends, so full batches
// are the steady state.
func batched(p pipeline[Record], size int) pipeline[Record] {
	if size <= 0 {
		size = 1
	}
	return func() (stream[Record], error) {
		up, err := p()
		if err != nil {
			return nil, err
		}
		done := false
		return streamFunc[Record](func(ctx context.Context) (Record, error) {
			if done {
				return nil, io.EOF
			}
			batch := make([]Record, 0, size)
			for len(batch) < size {
				rec, err := up.Next(ctx)
				if err == io.EOF {
					done = true
					break
				}
				if err != nil {
					return nil, err
				}
				batch = append(batch, rec)
			}
			if len(batch) == 0 {
				return nil, io.EOF
			}
			return stackBatch(batch)
		}), nil
	}
}

// stackBatch is stackFrames for arbitrary same-schema records.
func stackBatch(batch []Record) (Record, error) {
	out := make(Record, len(batch[0]))
	parts := make([]*tensor.Tensor, len(batch))
	for name := range batch[0] {
		for i, rec := range batch {
			t, ok := rec[name]
			if !ok {
				return nil, errors.Errorf("batch element %d is missing field %q", i, name)
			}
			parts[i] = t
		}
		stacked, err := tensor.Stack(parts)
		if err != nil {
			return nil, errors.Wrapf(err, "batch field %q", name)
		}
		out[name] = stacked
	}
	return out, nil
}
