// Package notify provides a condition variable whose waits can be abandoned
// through a context. Waiters are woken in arrival order.
package notify

import (
	"container/list"
	"context"
	"sync"
)

// Cond is a condition variable bound to a Locker. Like sync.Cond, L must be
// held when calling Wait, Signal and Broadcast, and callers must re-check
// their predicate in a loop after Wait returns.
type Cond struct {
	L       sync.Locker
	waiters list.List // of chan struct{}
}

// New returns a Cond using l.
func New(l sync.Locker) *Cond {
	return &Cond{L: l}
}

// Wait atomically unlocks L and suspends the caller until Signal/Broadcast
// wakes it or ctx is done. L is re-locked before Wait returns in both cases.
//
// A wakeup that races with cancellation wins: Wait returns nil so the signal
// is never lost. A non-nil error means the caller was not signalled.
func (c *Cond) Wait(ctx context.Context) error {
	ch := make(chan struct{})
	e := c.waiters.PushBack(ch)
	c.L.Unlock()

	select {
	case <-ch:
		c.L.Lock()
		return nil
	case <-ctx.Done():
		c.L.Lock()
		select {
		case <-ch:
			return nil
		default:
		}
		c.waiters.Remove(e)
		return ctx.Err()
	}
}

// Signal wakes the longest-waiting goroutine, if any. It reports whether a
// waiter was woken.
func (c *Cond) Signal() bool {
	e := c.waiters.Front()
	if e == nil {
		return false
	}
	c.waiters.Remove(e)
	close(e.Value.(chan struct{}))
	return true
}

// Broadcast wakes every waiting goroutine.
func (c *Cond) Broadcast() {
	for e := c.waiters.Front(); e != nil; e = c.waiters.Front() {
		c.waiters.Remove(e)
		close(e.Value.(chan struct{}))
	}
}

// Waiters returns the number of suspended goroutines.
func (c *Cond) Waiters() int {
	return c.waiters.Len()
}
