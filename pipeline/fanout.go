package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/tahsin716/tandem"
	"github.com/tahsin716/tandem/chanx"
	"github.com/tahsin716/tandem/fault"
)

// FanOut spreads the items of in over n outputs in round-robin order.
// An output whose receivers are all released drops out of the rotation.
func FanOut[T any](p *Pipeline, in *chanx.Receiver[T], n int) []*chanx.Receiver[T] {
	if n < 1 {
		n = 1
	}
	senders := make([]*chanx.Sender[T], n)
	outs := make([]*chanx.Receiver[T], n)
	for i := range senders {
		senders[i], outs[i] = chanx.Bounded[T](p.buffer)
	}

	p.group.Go(func() error {
		defer in.Release()
		defer func() {
			for _, tx := range senders {
				tx.Release()
			}
		}()

		live := append([]*chanx.Sender[T](nil), senders...)
		next := 0
		for len(live) > 0 {
			v, ok, err := recv(p.ctx, in)
			if err != nil {
				return fmt.Errorf("pipeline fan-out: %w", err)
			}
			if !ok {
				return nil
			}
			for len(live) > 0 {
				next %= len(live)
				ok, err := send(p.ctx, live[next], v)
				if err != nil {
					return fmt.Errorf("pipeline fan-out: %w", err)
				}
				if ok {
					next++
					break
				}
				live = append(live[:next], live[next+1:]...)
			}
		}
		return nil
	})
	return outs
}

// Merge forwards the items of every input into a single output. The output
// closes once every input is exhausted. Order across inputs is not defined.
func Merge[T any](p *Pipeline, ins ...*chanx.Receiver[T]) *chanx.Receiver[T] {
	tx, rx := chanx.Bounded[T](p.buffer)
	defer tx.Release()

	for _, in := range ins {
		out := tx.Clone()
		p.group.Go(func() error {
			defer out.Release()
			defer in.Release()
			for {
				v, ok, err := recv(p.ctx, in)
				if err != nil {
					return fmt.Errorf("pipeline merge: %w", err)
				}
				if !ok {
					return nil
				}
				if ok, err = send(p.ctx, out, v); err != nil {
					return fmt.Errorf("pipeline merge: %w", err)
				}
				if !ok {
					return nil
				}
			}
		})
	}
	return rx
}

// MapSlice runs fn over items on the pool and returns the results in input
// order. The first failure, in completion order, cancels the context handed
// to the remaining calls; MapSlice still waits for every submitted task
// before returning that failure.
func MapSlice[In, Out any](ctx context.Context, pool *tandem.Pool, items []In, fn func(context.Context, In) (Out, error)) ([]Out, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	handles := make([]*tandem.Handle[Out], 0, len(items))
	for _, v := range items {
		h, err := tandem.SubmitFuncContext(ctx, pool, func() (Out, error) {
			defer func() {
				if r := recover(); r != nil {
					fail(&fault.PanicError{Value: r, Stack: string(debug.Stack())})
					panic(r)
				}
			}()
			out, err := fn(ctx, v)
			if err != nil {
				fail(err)
			}
			return out, err
		})
		if err != nil {
			fail(err)
			break
		}
		handles = append(handles, h)
	}

	results := make([]Out, len(handles))
	for i, h := range handles {
		v, err := h.Wait()
		if err != nil {
			fail(err)
		}
		results[i] = v
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}
