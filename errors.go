package tandem

import "github.com/tahsin716/tandem/fault"

// Common errors returned by the worker pool. All of them are *fault.Error
// sentinels; compare with errors.Is.
var (
	// ErrQueueClosed is returned by Submit once shutdown has been requested.
	// A closed pool never accepts new tasks.
	//
	// Example:
	//  pool.Shutdown(tandem.Graceful)
	//  _, err := pool.Submit(task)
	//  if errors.Is(err, tandem.ErrQueueClosed) {
	//      log.Println("cannot submit: pool is shut down")
	//  }
	ErrQueueClosed = fault.ErrQueueClosed

	// ErrBusy is returned by TrySubmit, and by Submit under the ReturnError
	// strategy, when every worker inbox is full.
	ErrBusy = fault.ErrBusy

	// ErrNilTask is returned when attempting to submit a nil function.
	ErrNilTask = fault.ErrNilTask

	// ErrTaskPanicked matches the error a Handle resolves with when its task
	// panicked. Use errors.As with *fault.PanicError to reach the value and
	// stack.
	ErrTaskPanicked = fault.ErrTaskPanicked

	// ErrCancelled is the error of a queued task dropped by an Immediate
	// shutdown, and of waits abandoned through a cancelled context.
	ErrCancelled = fault.ErrCancelled

	// ErrTimeout is returned when a bounded wait or shutdown exceeds its
	// deadline.
	ErrTimeout = fault.ErrTimeout

	// ErrInvalidConfig is returned by NewPool for unusable options.
	ErrInvalidConfig = fault.ErrInvalidConfig
)
