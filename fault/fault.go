// Package fault defines the error taxonomy shared by every tandem package.
//
// Each failure has a Kind. Errors returned by the pool, channels, locks and
// barriers are *Error values carrying that Kind, the operation that failed and
// an optional cause. They match the package-level sentinels with errors.Is:
//
//	if errors.Is(err, fault.ErrPoisoned) {
//	    // decide whether to proceed with possibly-inconsistent state
//	}
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindQueueClosed: submission after shutdown was requested.
	KindQueueClosed
	// KindBusy: a non-blocking acquisition or send could not proceed.
	KindBusy
	// KindEmpty: a non-blocking receive found nothing buffered.
	KindEmpty
	// KindClosed: the channel is closed (and, for receivers, drained).
	KindClosed
	// KindPoisoned: the lock was released by a panicking goroutine.
	KindPoisoned
	// KindTaskPanicked: the task panicked; reported through its handle only.
	KindTaskPanicked
	// KindTimeout: a bounded wait exceeded its deadline.
	KindTimeout
	// KindCancelled: a queued task was dropped before it started.
	KindCancelled
	// KindNilTask: a nil function was submitted.
	KindNilTask
	// KindInvalidConfig: construction options failed validation.
	KindInvalidConfig
)

var kindNames = [...]string{
	KindUnknown:       "unknown",
	KindQueueClosed:   "queue closed",
	KindBusy:          "busy",
	KindEmpty:         "empty",
	KindClosed:        "closed",
	KindPoisoned:      "poisoned",
	KindTaskPanicked:  "task panicked",
	KindTimeout:       "timeout",
	KindCancelled:     "cancelled",
	KindNilTask:       "nil task",
	KindInvalidConfig: "invalid config",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Sentinels, one per Kind. Compare with errors.Is, never with ==, since
// returned errors usually carry an operation name and a cause.
var (
	ErrQueueClosed   = &Error{Kind: KindQueueClosed}
	ErrBusy          = &Error{Kind: KindBusy}
	ErrEmpty         = &Error{Kind: KindEmpty}
	ErrClosed        = &Error{Kind: KindClosed}
	ErrPoisoned      = &Error{Kind: KindPoisoned}
	ErrTaskPanicked  = &Error{Kind: KindTaskPanicked}
	ErrTimeout       = &Error{Kind: KindTimeout}
	ErrCancelled     = &Error{Kind: KindCancelled}
	ErrNilTask       = &Error{Kind: KindNilTask}
	ErrInvalidConfig = &Error{Kind: KindInvalidConfig}
)

// Error is a classified failure of a tandem operation.
type Error struct {
	Kind Kind
	Op   string // operation, e.g. "chanx.Send"; empty for sentinels
	Msg  string // optional detail
	Err  error  // underlying cause, if any
}

// New returns an error of the given kind for op.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Newf returns an error of the given kind for op with a formatted detail.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind for op caused by err.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	s := "tandem"
	if e.Op != "" {
		s = e.Op
	}
	s += ": " + e.Kind.String()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind. Sentinels carry
// no Op, so any error of a kind matches that kind's sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// FromContext classifies a context error returned by an abandoned wait:
// deadlines become KindTimeout, cancellation becomes KindCancelled.
func FromContext(op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTimeout, op, err)
	}
	return Wrap(KindCancelled, op, err)
}

// KindOf returns the Kind of the first *Error or *PanicError in err's chain.
func KindOf(err error) Kind {
	var pe *PanicError
	if errors.As(err, &pe) {
		return KindTaskPanicked
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// PanicError wraps a value recovered from a panicking task.
type PanicError struct {
	Value any
	Stack string
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", p.Value)
}

// Is matches ErrTaskPanicked.
func (p *PanicError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == KindTaskPanicked
}

// Unwrap exposes the panic value when it was itself an error.
func (p *PanicError) Unwrap() error {
	if err, ok := p.Value.(error); ok {
		return err
	}
	return nil
}
