// Package deque holds the lock-free queues behind the worker pool: a
// growable Chase-Lev work-stealing deque owned by one worker, and a bounded
// multi-producer ring used as each worker's inbox.
package deque

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// ChaseLev is a lock-free work-stealing deque of *T.
//
// Properties:
//   - The owner pushes and pops at the bottom (LIFO, newest first)
//   - Thieves steal from the top (FIFO, oldest first)
//   - The buffer grows when full; it never shrinks
//
// Push and Pop must only be called by the owning goroutine. Steal is safe
// from any goroutine. Go atomics are sequentially consistent, which gives
// the full fences the algorithm needs between the bottom store and the top
// load in Pop and Steal.
type ChaseLev[T any] struct {
	_ cpu.CacheLinePad

	// top is the steal end; thieves and the owner's last-element Pop race
	// on it with CAS.
	top atomic.Int64

	_ cpu.CacheLinePad

	// bottom is the owner end. Only the owner writes it.
	bottom atomic.Int64

	_ cpu.CacheLinePad

	array atomic.Pointer[circularArray[T]]
}

// circularArray is the backing store. Its size is fixed; growing replaces
// the whole array.
type circularArray[T any] struct {
	mask  int64
	slots []atomic.Pointer[T]
}

const minCapacity = 16

// NewChaseLev returns an empty deque. The capacity is rounded up to a power
// of two of at least 16.
func NewChaseLev[T any](capacity int) *ChaseLev[T] {
	d := &ChaseLev[T]{}
	d.array.Store(newCircularArray[T](roundPow2(capacity)))
	return d
}

func newCircularArray[T any](capacity int64) *circularArray[T] {
	return &circularArray[T]{
		mask:  capacity - 1,
		slots: make([]atomic.Pointer[T], capacity),
	}
}

func (a *circularArray[T]) capacity() int64 { return a.mask + 1 }

func (a *circularArray[T]) get(i int64) *T { return a.slots[i&a.mask].Load() }

func (a *circularArray[T]) put(i int64, v *T) { a.slots[i&a.mask].Store(v) }

// grow copies the live range [top, bottom) into an array twice as large.
// Indices keep their meaning, so a thief holding the old array still reads
// the right element for any index it can win with CAS.
func (a *circularArray[T]) grow(top, bottom int64) *circularArray[T] {
	next := newCircularArray[T](a.capacity() * 2)
	for i := top; i < bottom; i++ {
		next.put(i, a.get(i))
	}
	return next
}

// Push adds v at the bottom. Owner only. Nil values are ignored.
func (d *ChaseLev[T]) Push(v *T) {
	if v == nil {
		return
	}
	bottom := d.bottom.Load()
	top := d.top.Load()
	array := d.array.Load()

	if bottom-top >= array.capacity()-1 {
		array = array.grow(top, bottom)
		d.array.Store(array)
	}

	array.put(bottom, v)
	// The slot store happens-before the bottom store, so a thief that sees
	// the new bottom also sees the value.
	d.bottom.Store(bottom + 1)
}

// Pop removes the newest element. Owner only. It returns nil when empty or
// when a thief won the race for the last element.
func (d *ChaseLev[T]) Pop() *T {
	bottom := d.bottom.Load() - 1
	array := d.array.Load()
	d.bottom.Store(bottom)

	top := d.top.Load()
	if top > bottom {
		d.bottom.Store(bottom + 1)
		return nil
	}

	v := array.get(bottom)
	if top == bottom {
		// Last element: whoever moves top first owns it.
		if !d.top.CompareAndSwap(top, top+1) {
			v = nil
		}
		d.bottom.Store(bottom + 1)
	}
	return v
}

// Steal removes the oldest element. Safe for concurrent use. It returns nil
// when the deque is empty or the race for the element was lost; callers
// treat both as "try elsewhere".
func (d *ChaseLev[T]) Steal() *T {
	top := d.top.Load()
	bottom := d.bottom.Load()
	if top >= bottom {
		return nil
	}

	v := d.array.Load().get(top)
	if !d.top.CompareAndSwap(top, top+1) {
		return nil
	}
	return v
}

// Len returns a snapshot of the element count.
func (d *ChaseLev[T]) Len() int {
	n := d.bottom.Load() - d.top.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// IsEmpty reports whether the deque looked empty at the time of the call.
func (d *ChaseLev[T]) IsEmpty() bool {
	return d.Len() == 0
}

// Cap returns the current buffer capacity.
func (d *ChaseLev[T]) Cap() int {
	return int(d.array.Load().capacity())
}

func roundPow2(n int) int64 {
	c := int64(minCapacity)
	for c < int64(n) {
		c <<= 1
	}
	return c
}
