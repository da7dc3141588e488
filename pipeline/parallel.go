package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/tahsin716/tandem"
	"github.com/tahsin716/tandem/fault"
)

// Join runs a and b in parallel and returns once both have finished.
//
// a is offered to the pool while b runs on the calling goroutine. If no
// worker has picked a up by the time b returns, the caller runs it itself,
// so Join never waits on queued work. That makes it safe to call from
// inside pool tasks, recursively, even when every worker is busy:
//
//	var left, right int
//	err := pipeline.Join(ctx, pool,
//	    func(ctx context.Context) error { left = sum(xs[:mid]); return nil },
//	    func(ctx context.Context) error { right = sum(xs[mid:]); return nil },
//	)
//
// A failure of b cancels the context handed to a and skips a if it has not
// started. Panics are returned as *fault.PanicError. The result joins both
// errors.
func Join(ctx context.Context, pool *tandem.Pool, a, b func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		claimed atomic.Bool
		errA    error
	)
	h, err := pool.TrySubmit(func() {
		if claimed.CompareAndSwap(false, true) {
			errA = catch(func() error { return a(ctx) })
		}
	})
	if err != nil {
		// Busy or shutting down: a runs here after b.
		h = nil
	}

	errB := catch(func() error { return b(ctx) })
	if errB != nil {
		cancel()
	}

	if claimed.CompareAndSwap(false, true) {
		if errB == nil {
			errA = catch(func() error { return a(ctx) })
		}
	} else if h != nil {
		// A worker owns a; errA is published by the handle.
		if _, err := h.Wait(); err != nil && errA == nil {
			errA = err
		}
	}
	return errors.Join(errA, errB)
}

func catch(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &fault.PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return fn()
}

// Fold splits items into chunks of at most grain elements, folds each chunk
// sequentially starting from init(), and combines neighbouring results with
// combine. Chunks are forked with Join, so the work spreads over the pool
// by stealing. combine must be associative; results are combined in input
// order, so it need not be commutative.
//
//	hist, err := pipeline.Fold(ctx, pool, words, 256,
//	    func() map[int]int { return map[int]int{} },
//	    func(m map[int]int, w string) map[int]int { m[len(w)]++; return m },
//	    mergeCounts,
//	)
func Fold[T, A any](ctx context.Context, pool *tandem.Pool, items []T, grain int,
	init func() A, step func(A, T) A, combine func(A, A) A) (A, error) {
	if grain < 1 {
		grain = 1
	}

	var fold func(ctx context.Context, part []T) (A, error)
	fold = func(ctx context.Context, part []T) (A, error) {
		if len(part) <= grain {
			if err := ctx.Err(); err != nil {
				var zero A
				return zero, fmt.Errorf("pipeline fold: %w", fault.FromContext("pipeline.Fold", err))
			}
			acc := init()
			for _, v := range part {
				acc = step(acc, v)
			}
			return acc, nil
		}

		mid := len(part) / 2
		var left, right A
		err := Join(ctx, pool,
			func(ctx context.Context) (err error) {
				right, err = fold(ctx, part[mid:])
				return err
			},
			func(ctx context.Context) (err error) {
				left, err = fold(ctx, part[:mid])
				return err
			},
		)
		if err != nil {
			var zero A
			return zero, err
		}
		return combine(left, right), nil
	}
	return fold(ctx, items)
}

// Reduce combines items with op in parallel, chunking by grain. identity
// must satisfy op(identity, x) == x; it is returned for an empty slice.
func Reduce[T any](ctx context.Context, pool *tandem.Pool, items []T, grain int, identity T, op func(T, T) T) (T, error) {
	return Fold(ctx, pool, items, grain, func() T { return identity }, op, op)
}
