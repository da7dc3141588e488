// Package syncx provides value-owning locks with explicit guards and
// poisoning.
//
// A Mutex[T] or RWLock[T] owns its value; the only way to reach it is through
// a guard obtained from an acquisition, and the guard's Release is the only
// way to give it back. Deferring Release directly marks the lock poisoned if
// the holder panics, so the next acquisition reports an error matching
// fault.ErrPoisoned and the caller decides whether to trust the value:
//
//	g, err := m.Lock()
//	if errors.Is(err, syncx.ErrPoisoned) {
//	    repair(g.Get())
//	    m.ClearPoison()
//	}
//	defer g.Release()
//
// Waiters are admitted in arrival order. RWLock prefers writers: once one is
// waiting, new readers queue behind it.
package syncx

import "github.com/tahsin716/tandem/fault"

// Errors returned by this package.
var (
	ErrBusy      = fault.ErrBusy
	ErrPoisoned  = fault.ErrPoisoned
	ErrTimeout   = fault.ErrTimeout
	ErrCancelled = fault.ErrCancelled
)
