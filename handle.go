package tandem

import (
	"context"
	"sync"
	"time"

	"github.com/tahsin716/tandem/fault"
)

// Handle is the result sink of one submitted task. It resolves exactly once:
// with the task's return values, with a *fault.PanicError if the task
// panicked, or with ErrCancelled if the task was dropped by shutdown before
// it started.
type Handle[R any] struct {
	id   uint64
	done chan struct{}
	once sync.Once

	value R
	err   error
}

func newHandle[R any](id uint64) *Handle[R] {
	return &Handle[R]{id: id, done: make(chan struct{})}
}

// ID returns the pool-unique task id. PanicInfo.TaskID refers to it.
func (h *Handle[R]) ID() uint64 {
	return h.id
}

// Done is closed when the handle resolves.
func (h *Handle[R]) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the task finishes and returns its result.
//
// Waiting from inside a pool task holds that worker until the handle
// resolves. Once every worker is waiting on queued work nothing is left to
// run it and the pool deadlocks; use pipeline.Join for nested parallelism.
func (h *Handle[R]) Wait() (R, error) {
	<-h.done
	return h.value, h.err
}

// WaitContext is Wait bounded by ctx. Abandoning the wait does not cancel
// the task.
func (h *Handle[R]) WaitContext(ctx context.Context) (R, error) {
	select {
	case <-h.done:
		return h.value, h.err
	case <-ctx.Done():
		var zero R
		return zero, fault.FromContext("tandem.Handle.Wait", ctx.Err())
	}
}

// WaitTimeout is Wait bounded by d.
func (h *Handle[R]) WaitTimeout(d time.Duration) (R, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return h.WaitContext(ctx)
}

// Err blocks until the task finishes and returns only its error.
func (h *Handle[R]) Err() error {
	_, err := h.Wait()
	return err
}

func (h *Handle[R]) resolve(v R, err error) {
	h.once.Do(func() {
		h.value = v
		h.err = err
		close(h.done)
	})
}

// task is the unit stored in worker queues. exec runs the user function and
// resolves the handle; fail resolves it without a value.
type task struct {
	id   uint64
	exec func()
	fail func(err error)
}

func newTask[R any](id uint64, h *Handle[R], fn func() (R, error)) *task {
	return &task{
		id: id,
		exec: func() {
			v, err := fn()
			h.resolve(v, err)
		},
		fail: func(err error) {
			var zero R
			h.resolve(zero, err)
		},
	}
}
