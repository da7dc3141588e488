// Package barrier provides a reusable rendezvous point for a fixed number of
// participants across repeated phases.
package barrier

import (
	"context"
	"time"

	"github.com/sasha-s/go-deadlock"

	"github.com/tahsin716/tandem/fault"
	"github.com/tahsin716/tandem/internal/notify"
)

// Errors returned by this package.
var (
	ErrTimeout   = fault.ErrTimeout
	ErrCancelled = fault.ErrCancelled
)

// WaitResult describes how a participant left a phase.
type WaitResult struct {
	// IsLeader is true for exactly one participant per phase: the last to
	// arrive.
	IsLeader bool
	// Generation is the phase that was completed, starting at 0.
	Generation uint64
}

// Barrier blocks each caller of Wait until n callers have arrived for the
// current generation, then releases all of them together and starts the next
// generation. It can be reused for any number of phases.
type Barrier struct {
	mu   deadlock.Mutex
	cond *notify.Cond

	n          int
	arrived    int
	generation uint64
	tripping   bool // leader is running the action

	action func(generation uint64)
}

// New returns a Barrier for n participants. It panics if n < 1.
func New(n int) *Barrier {
	return NewWithAction(n, nil)
}

// NewWithAction returns a Barrier whose leader runs action once per phase,
// after the last arrival and before anyone is released. action runs without
// the barrier's lock held and must not call Wait on the same barrier. If
// action panics, the phase is still released and the panic propagates to
// the leader's Wait.
func NewWithAction(n int, action func(generation uint64)) *Barrier {
	if n < 1 {
		panic("barrier: participant count must be >= 1")
	}
	b := &Barrier{n: n, action: action}
	b.cond = notify.New(&b.mu)
	return b
}

// Wait blocks until all participants of the current generation arrive.
func (b *Barrier) Wait() WaitResult {
	res, _ := b.wait(context.Background())
	return res
}

// WaitContext is Wait bounded by ctx. If ctx ends before the phase
// completes, the caller's arrival is withdrawn, so the phase still needs n
// arrivals, and the error matches ErrTimeout or ErrCancelled.
func (b *Barrier) WaitContext(ctx context.Context) (WaitResult, error) {
	res, err := b.wait(ctx)
	if err != nil {
		return res, fault.FromContext("barrier.Wait", err)
	}
	return res, nil
}

// WaitTimeout is Wait bounded by d.
func (b *Barrier) WaitTimeout(d time.Duration) (WaitResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return b.WaitContext(ctx)
}

func (b *Barrier) wait(ctx context.Context) (WaitResult, error) {
	b.mu.Lock()

	// Arrivals for the next phase wait until the leader has finished.
	for b.tripping {
		if err := b.cond.Wait(ctx); err != nil {
			b.mu.Unlock()
			return WaitResult{Generation: b.generation}, err
		}
	}

	gen := b.generation
	b.arrived++

	if b.arrived == b.n {
		b.tripping = true
		b.mu.Unlock()
		b.trip(gen)
		return WaitResult{IsLeader: true, Generation: gen}, nil
	}

	defer b.mu.Unlock()
	for gen == b.generation {
		if err := b.cond.Wait(ctx); err != nil {
			if gen != b.generation {
				// Tripped while we were giving up: the phase counted us.
				break
			}
			if b.tripping {
				// Every party has arrived; only the action is still running.
				ctx = context.Background()
				continue
			}
			b.arrived--
			return WaitResult{Generation: gen}, err
		}
	}
	return WaitResult{Generation: gen}, nil
}

// trip runs the action for gen without holding the lock, then releases the
// phase. The phase is released even if the action panics; the panic then
// continues in the leader.
func (b *Barrier) trip(gen uint64) {
	defer func() {
		b.mu.Lock()
		b.arrived = 0
		b.generation++
		b.tripping = false
		b.cond.Broadcast()
		b.mu.Unlock()
	}()
	if b.action != nil {
		b.action(gen)
	}
}

// Generation returns the number of completed phases.
func (b *Barrier) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}

// Arrived returns how many participants are waiting in the current phase.
func (b *Barrier) Arrived() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.arrived
}

// Parties returns the participant count.
func (b *Barrier) Parties() int {
	return b.n
}
