package datasets

import (
	"context"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"
)

// stream is a pull-based iterator. Next returns io.EOF after the final
// element; any other error is fatal and the stream must not be pulled again.
type stream[T any] interface {
	Next(ctx context.Context) (T, error)
}

type streamFunc[T any] func(ctx context.Context) (T, error)

func (f streamFunc[T]) Next(ctx context.Context) (T, error) { return f(ctx) }

// pipeline is a re-openable recipe for a stream. Stages that iterate their
// upstream more than once (repeat, materialize) open it once per pass;
// anything stateful across passes lives in the closure, not the stream.
type pipeline[T any] func() (stream[T], error)

// numbered carries a stream element together with its zero-based position in
// the original stream order.
type numbered[T any] struct {
	idx int64
	val T
}

// enumerate assigns each element its position in stream order. Numbering
// restarts from zero on every open, and is the one inherently sequential step
// of the pipeline: everything downstream can run in parallel per assigned
// index.
func enumerate[T any](p pipeline[T]) pipeline[numbered[T]] {
	return func() (stream[numbered[T]], error) {
		up, err := p()
		if err != nil {
			return nil, err
		}
		var idx int64
		return streamFunc[numbered[T]](func(ctx context.Context) (numbered[T], error) {
			item, err := up.Next(ctx)
			if err != nil {
				return numbered[T]{}, err
			}
			n := numbered[T]{idx: idx, val: item}
			idx++
			return n, nil
		}), nil
	}
}

// mapped applies fn to every element, sequentially.
func mapped[In, Out any](p pipeline[In], fn func(context.Context, In) (Out, error)) pipeline[Out] {
	return func() (stream[Out], error) {
		up, err := p()
		if err != nil {
			return nil, err
		}
		return streamFunc[Out](func(ctx context.Context) (Out, error) {
			var zero Out
			item, err := up.Next(ctx)
			if err != nil {
				return zero, err
			}
			return fn(ctx, item)
		}), nil
	}
}

// indexed is a worker result tagged with its input sequence number.
type indexed[T any] struct {
	seq uint64
	val T
	err error
}

// parallelMap applies fn across workers goroutines. With deterministic set,
// results are reassembled in input order regardless of completion order; when
// unset, output order follows completion order for higher throughput. The
// logical transformation applied is identical either way. Errors from fn or
// the upstream terminate the stream with the first error observed.
func parallelMap[In, Out any](p pipeline[In], fn func(context.Context, In) (Out, error), workers int, deterministic bool) pipeline[Out] {
	if workers <= 1 {
		return mapped(p, fn)
	}
	return func() (stream[Out], error) {
		up, err := p()
		if err != nil {
			return nil, err
		}

		var (
			once    sync.Once
			results chan indexed[Out]
			pending map[uint64]indexed[Out]
			next    uint64
			failed  error
		)
		if deterministic {
			pending = make(map[uint64]indexed[Out])
		}

		start := func(ctx context.Context) {
			results = make(chan indexed[Out], workers)
			feed := make(chan indexed[In], workers)
			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				defer close(feed)
				for seq := uint64(0); ; seq++ {
					item, err := up.Next(gctx)
					if err == io.EOF {
						return nil
					}
					if err != nil {
						select {
						case results <- indexed[Out]{seq: seq, err: err}:
						case <-gctx.Done():
						}
						return err
					}
					select {
					case feed <- indexed[In]{seq: seq, val: item}:
					case <-gctx.Done():
						return gctx.Err()
					}
				}
			})

			for w := 0; w < workers; w++ {
				g.Go(func() error {
					for item := range feed {
						out, err := fn(gctx, item.val)
						select {
						case results <- indexed[Out]{seq: item.seq, val: out, err: err}:
						case <-gctx.Done():
							return gctx.Err()
						}
						if err != nil {
							return err
						}
					}
					return nil
				})
			}

			go func() {
				g.Wait() //nolint:errcheck // errors travel through results
				close(results)
			}()
		}

		return streamFunc[Out](func(ctx context.Context) (Out, error) {
			var zero Out
			if failed != nil {
				return zero, failed
			}
			once.Do(func() { start(ctx) })
			for {
				if deterministic {
					if item, ok := pending[next]; ok {
						delete(pending, next)
						next++
						if item.err != nil {
							failed = item.err
							return zero, failed
						}
						return item.val, nil
					}
				}
				select {
				case item, ok := <-results:
					if !ok {
						if err := firstPendingError(pending); err != nil {
							failed = err
							return zero, failed
						}
						if deterministic && len(pending) > 0 {
							// Without a buffered error the sequence
							// numbers are contiguous, so the next
							// element must already be buffered.
							continue
						}
						return zero, io.EOF
					}
					if !deterministic {
						if item.err != nil {
							failed = item.err
							return zero, failed
						}
						return item.val, nil
					}
					// Errors are buffered too, so successes with lower
					// sequence numbers still go out first.
					pending[item.seq] = item
				case <-ctx.Done():
					failed = ctx.Err()
					return zero, failed
				}
			}
		}), nil
	}
}

// firstPendingError returns the buffered error with the lowest sequence
// number, if any.
func firstPendingError[Out any](pending map[uint64]indexed[Out]) error {
	var best uint64
	var err error
	for seq, item := range pending {
		if item.err != nil && (err == nil || seq < best) {
			best, err = seq, item.err
		}
	}
	return err
}

// prefetch decouples the consumer from the upstream by pulling up to depth
// elements ahead in a background goroutine. The goroutine stops when the
// stream ends, fails, or the pull context is cancelled.
func prefetch[T any](p pipeline[T], depth int) pipeline[T] {
	if depth <= 0 {
		return p
	}
	return func() (stream[T], error) {
		up, err := p()
		if err != nil {
			return nil, err
		}
		var once sync.Once
		ch := make(chan indexed[T], depth)
		start := func(ctx context.Context) {
			go func() {
				defer close(ch)
				for {
					item, err := up.Next(ctx)
					select {
					case ch <- indexed[T]{val: item, err: err}:
					case <-ctx.Done():
						return
					}
					if err != nil {
						return
					}
				}
			}()
		}
		return streamFunc[T](func(ctx context.Context) (T, error) {
			var zero T
			once.Do(func() { start(ctx) })
			select {
			case item, ok := <-ch:
				if !ok {
					return zero, io.EOF
				}
				if item.err != nil {
					return zero, item.err
				}
				return item.val, nil
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}), nil
	}
}
