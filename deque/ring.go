package deque

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Ring is a bounded, lock-free FIFO queue. Any number of goroutines may
// Push and Pop concurrently.
//
// Each cell carries a sequence number that tells producers and consumers
// whose turn it is, so a slot is never read before its value is published
// and never overwritten before it has been consumed.
type Ring[T any] struct {
	_ cpu.CacheLinePad

	// head is the consumer index.
	head atomic.Uint64

	_ cpu.CacheLinePad

	// tail is the producer index.
	tail atomic.Uint64

	_ cpu.CacheLinePad

	cells []cell[T]
	mask  uint64
}

type cell[T any] struct {
	seq   atomic.Uint64
	value T
}

// NewRing returns an empty ring holding up to capacity elements. It panics
// unless capacity is a positive power of two.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("deque: ring capacity must be a power of two and > 0")
	}
	r := &Ring[T]{
		cells: make([]cell[T], capacity),
		mask:  uint64(capacity - 1),
	}
	for i := range r.cells {
		r.cells[i].seq.Store(uint64(i))
	}
	return r
}

// TryPush appends v. It returns false if the ring is full.
func (r *Ring[T]) TryPush(v T) bool {
	pos := r.tail.Load()
	for attempt := 0; ; attempt++ {
		c := &r.cells[pos&r.mask]
		dif := int64(c.seq.Load()) - int64(pos)
		switch {
		case dif == 0:
			if r.tail.CompareAndSwap(pos, pos+1) {
				c.value = v
				c.seq.Store(pos + 1)
				return true
			}
			backoff(attempt)
			pos = r.tail.Load()
		case dif < 0:
			return false
		default:
			pos = r.tail.Load()
		}
	}
}

// TryPop removes the oldest element. ok is false if the ring is empty or
// the oldest push has claimed its slot but not yet published the value.
func (r *Ring[T]) TryPop() (v T, ok bool) {
	pos := r.head.Load()
	for attempt := 0; ; attempt++ {
		c := &r.cells[pos&r.mask]
		dif := int64(c.seq.Load()) - int64(pos+1)
		switch {
		case dif == 0:
			if r.head.CompareAndSwap(pos, pos+1) {
				v = c.value
				var zero T
				c.value = zero
				c.seq.Store(pos + r.mask + 1)
				return v, true
			}
			backoff(attempt)
			pos = r.head.Load()
		case dif < 0:
			return v, false
		default:
			pos = r.head.Load()
		}
	}
}

// backoff yields progressively longer under CAS contention.
func backoff(attempt int) {
	switch {
	case attempt < 4:
		runtime.Gosched()
	case attempt < 16:
		for i := 0; i < 1<<(attempt-4) && i < 64; i++ {
			runtime.Gosched()
		}
	default:
		for i := 0; i < 64; i++ {
			runtime.Gosched()
		}
	}
}

// Len returns a snapshot of the element count, including claimed but
// unpublished slots.
func (r *Ring[T]) Len() int {
	head := r.head.Load()
	tail := r.tail.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// IsEmpty reports whether the ring looked empty at the time of the call.
func (r *Ring[T]) IsEmpty() bool {
	return r.Len() == 0
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.cells)
}
