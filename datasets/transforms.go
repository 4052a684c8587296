package datasets

import (
	"context"
	"io"
	"maps"
	"sync"

	"github.com/pkg/errors"
)

// TransformFunc rewrites one record into another. Implementations must be
// arity-preserving (one record in, one record out, no filtering) and must not
// mutate the input record or its tensors; they are applied to frame- and
// trajectory-level records alike.
type TransformFunc func(Record) (Record, error)

// Transform is one step of a transform list: either a function applied to
// every record, or a materialize directive that caches the stream at that
// point in memory. After a materialize step, later passes over the dataset
// replay the cached values instead of recomputing upstream steps, freezing
// any upstream randomness for the lifetime of the cache.
type Transform struct {
	fn          TransformFunc
	materialize bool
}

// Apply wraps fn as a transform step.
func Apply(fn TransformFunc) Transform { return Transform{fn: fn} }

// Materialize returns the cache directive.
func Materialize() Transform { return Transform{materialize: true} }

// applyTransforms interprets an ordered transform list over the stream. Apply
// steps fan out across workers; with deterministic set, their outputs are
// reassembled in input order. Step errors propagate verbatim - the applier
// adds no failure mode of its own.
func applyTransforms(p pipeline[Record], steps []Transform, deterministic bool, workers int) pipeline[Record] {
	for _, step := range steps {
		if step.materialize {
			p = newCache().pipeline(p)
			continue
		}
		fn := step.fn
		p = parallelMap(p, func(_ context.Context, rec Record) (Record, error) {
			return fn(rec)
		}, workers, deterministic)
	}
	return p
}

// cache realizes a stream prefix in memory across passes: the first pass
// fills it element by element, and every pass after the fill completes
// replays the stored elements. A consumer is free to stop pulling mid-fill;
// the next open discards the partial contents and starts the fill over,
// superseding the abandoned stream. A superseded stream that is still being
// pulled fails on its next pull, so two consumers racing over a
// not-yet-filled cache are rejected loudly rather than interleaved.
type cache struct {
	mu     sync.Mutex
	gen    int
	filled bool
	items  []Record
}

func newCache() *cache { return &cache{} }

func (c *cache) pipeline(p pipeline[Record]) pipeline[Record] {
	return func() (stream[Record], error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.filled {
			return c.replay(), nil
		}
		up, err := p()
		if err != nil {
			return nil, err
		}
		c.gen++
		c.items = nil
		gen := c.gen
		return streamFunc[Record](func(ctx context.Context) (Record, error) {
			rec, err := up.Next(ctx)
			if err == io.EOF {
				c.mu.Lock()
				defer c.mu.Unlock()
				if c.gen != gen {
					return nil, errors.New("materialized stream was superseded by a newer pass; concurrent iteration over an unfilled cache is not supported")
				}
				c.filled = true
				return nil, io.EOF
			}
			if err != nil {
				return nil, err
			}
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.gen != gen {
				return nil, errors.New("materialized stream was superseded by a newer pass; concurrent iteration over an unfilled cache is not supported")
			}
			c.items = append(c.items, rec)
			return maps.Clone(rec), nil
		}), nil
	}
}

// replay streams the cached elements. Each record map is copied on the way
// out so downstream stages can add fields without corrupting the cache; the
// tensors themselves are shared and immutable by convention.
func (c *cache) replay() stream[Record] {
	i := 0
	return streamFunc[Record](func(ctx context.Context) (Record, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i >= len(c.items) {
			return nil, io.EOF
		}
		rec := maps.Clone(c.items[i])
		i++
		return rec, nil
	})
}
