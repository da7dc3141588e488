// Package pipeline composes chanx stages on top of a tandem.Pool.
//
// A Pipeline owns an errgroup: every stage loop runs on its own goroutine
// inside the group, while per-item work submitted by Map runs on the pool.
// The first stage that fails cancels the pipeline context, which unblocks
// every other stage, and Wait returns that first error.
//
//	p := pipeline.New(ctx, pool)
//	nums := pipeline.Source(p, slices.Values(inputs))
//	squares := pipeline.Map(p, nums, func(ctx context.Context, n int) (int, error) {
//	    return n * n, nil
//	})
//	var out []int
//	pipeline.Collect(p, squares, &out)
//	if err := p.Wait(); err != nil {
//	    return err
//	}
//
// Stages hand items to each other through bounded chanx channels, so a slow
// stage applies backpressure all the way to the source.
//
// MapSlice, Join, Fold and Reduce cover fork-join work over slices. Join
// can be nested inside pool tasks without tying up workers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tahsin716/tandem"
	"github.com/tahsin716/tandem/chanx"
)

const defaultBuffer = 16

// Pipeline supervises a set of connected stages.
type Pipeline struct {
	pool   *tandem.Pool
	group  *errgroup.Group
	ctx    context.Context
	buffer int
	window int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBuffer sets the capacity of the channel between two stages.
func WithBuffer(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.buffer = n
		}
	}
}

// WithWindow bounds how many items a Map stage keeps in flight on the pool.
// The default is twice the pool's worker count.
func WithWindow(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.window = n
		}
	}
}

// New returns a Pipeline whose stages stop when ctx is done.
func New(ctx context.Context, pool *tandem.Pool, opts ...Option) *Pipeline {
	group, gctx := errgroup.WithContext(ctx)
	p := &Pipeline{
		pool:   pool,
		group:  group,
		ctx:    gctx,
		buffer: defaultBuffer,
		window: 2 * pool.NumWorkers(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Context returns the pipeline context. It is cancelled when a stage fails.
func (p *Pipeline) Context() context.Context {
	return p.ctx
}

// Wait blocks until every stage has returned and reports the first error.
func (p *Pipeline) Wait() error {
	return p.group.Wait()
}

// Go runs fn as an additional stage in the pipeline's group.
func (p *Pipeline) Go(fn func(ctx context.Context) error) {
	p.group.Go(func() error { return fn(p.ctx) })
}

// recv reads the next item, reporting false once the input is exhausted.
func recv[T any](ctx context.Context, in *chanx.Receiver[T]) (T, bool, error) {
	v, err := in.RecvContext(ctx)
	if errors.Is(err, chanx.ErrClosed) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	return v, true, nil
}

// send forwards v, reporting false if every downstream receiver is gone.
func send[T any](ctx context.Context, out *chanx.Sender[T], v T) (bool, error) {
	err := out.SendContext(ctx, v)
	if errors.Is(err, chanx.ErrClosed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Source feeds every value of items into a new stage.
func Source[T any](p *Pipeline, items iter.Seq[T]) *chanx.Receiver[T] {
	tx, rx := chanx.Bounded[T](p.buffer)
	p.group.Go(func() error {
		defer tx.Release()
		for v := range items {
			ok, err := send(p.ctx, tx, v)
			if err != nil {
				return fmt.Errorf("pipeline source: %w", err)
			}
			if !ok {
				return nil
			}
		}
		return nil
	})
	return rx
}

// Map applies fn to every item on the pool and emits the results in input
// order. At most the configured window of items is in flight at once.
//
// fn runs on a pool worker, so it should not block on other stages. If the
// pool rejects a submission the pipeline fails with that error.
func Map[In, Out any](p *Pipeline, in *chanx.Receiver[In], fn func(context.Context, In) (Out, error)) *chanx.Receiver[Out] {
	tx, rx := chanx.Bounded[Out](p.buffer)
	pending := make(chan *tandem.Handle[Out], p.window)
	stop := make(chan struct{})

	p.group.Go(func() error {
		defer close(pending)
		defer in.Release()
		for {
			v, ok, err := recv(p.ctx, in)
			if err != nil {
				return fmt.Errorf("pipeline map: %w", err)
			}
			if !ok {
				return nil
			}
			h, err := tandem.SubmitFuncContext(p.ctx, p.pool, func() (Out, error) {
				return fn(p.ctx, v)
			})
			if err != nil {
				return fmt.Errorf("pipeline map: %w", err)
			}
			select {
			case pending <- h:
			case <-stop:
				return nil
			case <-p.ctx.Done():
				return nil
			}
		}
	})

	p.group.Go(func() error {
		defer close(stop)
		defer tx.Release()
		for h := range pending {
			out, err := h.WaitContext(p.ctx)
			if err != nil {
				return fmt.Errorf("pipeline map: %w", err)
			}
			ok, err := send(p.ctx, tx, out)
			if err != nil {
				return fmt.Errorf("pipeline map: %w", err)
			}
			if !ok {
				return nil
			}
		}
		return nil
	})
	return rx
}

// Filter passes on the items for which keep returns true.
func Filter[T any](p *Pipeline, in *chanx.Receiver[T], keep func(T) bool) *chanx.Receiver[T] {
	tx, rx := chanx.Bounded[T](p.buffer)
	p.group.Go(func() error {
		defer tx.Release()
		defer in.Release()
		for {
			v, ok, err := recv(p.ctx, in)
			if err != nil {
				return fmt.Errorf("pipeline filter: %w", err)
			}
			if !ok {
				return nil
			}
			if !keep(v) {
				continue
			}
			if ok, err = send(p.ctx, tx, v); err != nil {
				return fmt.Errorf("pipeline filter: %w", err)
			}
			if !ok {
				return nil
			}
		}
	})
	return rx
}

// Throttle forwards items no faster than limit, allowing bursts of burst.
func Throttle[T any](p *Pipeline, in *chanx.Receiver[T], limit rate.Limit, burst int) *chanx.Receiver[T] {
	limiter := rate.NewLimiter(limit, burst)
	tx, rx := chanx.Bounded[T](p.buffer)
	p.group.Go(func() error {
		defer tx.Release()
		defer in.Release()
		for {
			v, ok, err := recv(p.ctx, in)
			if err != nil {
				return fmt.Errorf("pipeline throttle: %w", err)
			}
			if !ok {
				return nil
			}
			if err := limiter.Wait(p.ctx); err != nil {
				return fmt.Errorf("pipeline throttle: %w", err)
			}
			if ok, err = send(p.ctx, tx, v); err != nil {
				return fmt.Errorf("pipeline throttle: %w", err)
			}
			if !ok {
				return nil
			}
		}
	})
	return rx
}

// Sink consumes every item with fn. An error from fn fails the pipeline.
func Sink[T any](p *Pipeline, in *chanx.Receiver[T], fn func(context.Context, T) error) {
	p.group.Go(func() error {
		defer in.Release()
		for {
			v, ok, err := recv(p.ctx, in)
			if err != nil {
				return fmt.Errorf("pipeline sink: %w", err)
			}
			if !ok {
				return nil
			}
			if err := fn(p.ctx, v); err != nil {
				return err
			}
		}
	})
}

// Collect appends every item to dst. dst is complete once Wait returns nil.
func Collect[T any](p *Pipeline, in *chanx.Receiver[T], dst *[]T) {
	Sink(p, in, func(_ context.Context, v T) error {
		*dst = append(*dst, v)
		return nil
	})
}
