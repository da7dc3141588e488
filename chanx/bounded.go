// Package chanx provides a fixed-capacity multi-producer/multi-consumer
// channel with blocking backpressure, explicit close semantics and
// reference-counted handles.
//
// Unlike a native Go channel, sending on a closed chanx channel returns an
// error instead of panicking, every blocking operation has a context-bounded
// variant, and the channel closes itself when the last Sender (or the last
// Receiver) handle is released.
//
//	tx, rx := chanx.Bounded[int](3)
//	go func() {
//	    defer tx.Release()
//	    for i := 0; i < 10; i++ {
//	        if err := tx.Send(i); err != nil {
//	            return
//	        }
//	    }
//	}()
//	for v := range rx.All() {
//	    fmt.Println(v)
//	}
package chanx

import (
	"context"
	"iter"
	"sync/atomic"
	"time"

	"github.com/sasha-s/go-deadlock"

	"github.com/tahsin716/tandem/fault"
	"github.com/tahsin716/tandem/internal/notify"
)

// Errors returned by this package.
var (
	ErrClosed    = fault.ErrClosed
	ErrBusy      = fault.ErrBusy
	ErrEmpty     = fault.ErrEmpty
	ErrTimeout   = fault.ErrTimeout
	ErrCancelled = fault.ErrCancelled
)

// channel is the shared state behind all handles of one channel.
type channel[T any] struct {
	mu       deadlock.Mutex
	notFull  *notify.Cond
	notEmpty *notify.Cond

	buf    []T // ring buffer, len(buf) == capacity
	head   int
	count  int
	closed bool

	senders   atomic.Int64
	receivers atomic.Int64
}

// Bounded creates a channel that buffers at most capacity items and returns
// its first Sender and Receiver handles. It panics if capacity < 1.
func Bounded[T any](capacity int) (*Sender[T], *Receiver[T]) {
	if capacity < 1 {
		panic("chanx: capacity must be >= 1")
	}
	c := &channel[T]{buf: make([]T, capacity)}
	c.notFull = notify.New(&c.mu)
	c.notEmpty = notify.New(&c.mu)
	c.senders.Store(1)
	c.receivers.Store(1)
	return &Sender[T]{c: c}, &Receiver[T]{c: c}
}

func (c *channel[T]) send(ctx context.Context, v T, op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for !c.closed && c.count == len(c.buf) {
		if err := c.notFull.Wait(ctx); err != nil {
			return fault.FromContext(op, err)
		}
	}
	if c.closed {
		return fault.New(fault.KindClosed, op)
	}
	c.push(v)
	return nil
}

func (c *channel[T]) trySend(v T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fault.New(fault.KindClosed, "chanx.TrySend")
	}
	if c.count == len(c.buf) {
		return fault.New(fault.KindBusy, "chanx.TrySend")
	}
	c.push(v)
	return nil
}

// push appends v and wakes one receiver. c.mu must be held.
func (c *channel[T]) push(v T) {
	c.buf[(c.head+c.count)%len(c.buf)] = v
	c.count++
	c.notEmpty.Signal()
}

func (c *channel[T]) recv(ctx context.Context, op string) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for !c.closed && c.count == 0 {
		if err := c.notEmpty.Wait(ctx); err != nil {
			var zero T
			return zero, fault.FromContext(op, err)
		}
	}
	if c.count == 0 {
		var zero T
		return zero, fault.New(fault.KindClosed, op)
	}
	return c.pop(), nil
}

func (c *channel[T]) tryRecv() (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.count == 0 {
		var zero T
		if c.closed {
			return zero, fault.New(fault.KindClosed, "chanx.TryRecv")
		}
		return zero, fault.New(fault.KindEmpty, "chanx.TryRecv")
	}
	return c.pop(), nil
}

// pop removes the oldest item and wakes one sender. c.mu must be held.
func (c *channel[T]) pop() T {
	var zero T
	v := c.buf[c.head]
	c.buf[c.head] = zero
	c.head = (c.head + 1) % len(c.buf)
	c.count--
	c.notFull.Signal()
	return v
}

func (c *channel[T]) close(discard bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if discard {
		var zero T
		for i := range c.buf {
			c.buf[i] = zero
		}
		c.head, c.count = 0, 0
	}
	if c.closed {
		return
	}
	c.closed = true
	c.notFull.Broadcast()
	c.notEmpty.Broadcast()
}

func (c *channel[T]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func (c *channel[T]) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func withTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

// ============================================================================
// Sender
// ============================================================================

// Sender is the producing handle of a channel. A Sender may be used from
// several goroutines; Clone it to hand out independently released references.
type Sender[T any] struct {
	c        *channel[T]
	released atomic.Bool
}

// Send blocks while the channel is full. It fails with ErrClosed once the
// channel is closed.
func (s *Sender[T]) Send(v T) error {
	return s.c.send(context.Background(), v, "chanx.Send")
}

// SendContext is Send bounded by ctx.
func (s *Sender[T]) SendContext(ctx context.Context, v T) error {
	return s.c.send(ctx, v, "chanx.SendContext")
}

// SendTimeout is Send bounded by d.
func (s *Sender[T]) SendTimeout(v T, d time.Duration) error {
	ctx, cancel := withTimeout(d)
	defer cancel()
	return s.c.send(ctx, v, "chanx.SendTimeout")
}

// TrySend buffers v only if there is room right now; otherwise it returns
// ErrBusy.
func (s *Sender[T]) TrySend(v T) error {
	return s.c.trySend(v)
}

// Close closes the channel for every handle. Buffered items stay available
// to receivers. Closing twice is a no-op.
func (s *Sender[T]) Close() {
	s.c.close(false)
}

// Clone returns a new reference to the same channel.
func (s *Sender[T]) Clone() *Sender[T] {
	s.c.senders.Add(1)
	return &Sender[T]{c: s.c}
}

// Release drops this reference. Releasing the last Sender closes the channel.
// Releasing twice is a no-op.
func (s *Sender[T]) Release() {
	if !s.released.CompareAndSwap(false, true) {
		return
	}
	if s.c.senders.Add(-1) == 0 {
		s.c.close(false)
	}
}

// Len returns the number of buffered items.
func (s *Sender[T]) Len() int { return s.c.len() }

// Cap returns the channel capacity.
func (s *Sender[T]) Cap() int { return len(s.c.buf) }

// IsClosed reports whether the channel has been closed.
func (s *Sender[T]) IsClosed() bool { return s.c.isClosed() }

// ============================================================================
// Receiver
// ============================================================================

// Receiver is the consuming handle of a channel.
type Receiver[T any] struct {
	c        *channel[T]
	released atomic.Bool
}

// Recv blocks while the channel is empty. After Close it keeps returning
// buffered items, then ErrClosed.
func (r *Receiver[T]) Recv() (T, error) {
	return r.c.recv(context.Background(), "chanx.Recv")
}

// RecvContext is Recv bounded by ctx.
func (r *Receiver[T]) RecvContext(ctx context.Context) (T, error) {
	return r.c.recv(ctx, "chanx.RecvContext")
}

// RecvTimeout is Recv bounded by d.
func (r *Receiver[T]) RecvTimeout(d time.Duration) (T, error) {
	ctx, cancel := withTimeout(d)
	defer cancel()
	return r.c.recv(ctx, "chanx.RecvTimeout")
}

// TryRecv returns a buffered item without blocking, ErrEmpty when nothing is
// buffered, or ErrClosed when the channel is closed and drained.
func (r *Receiver[T]) TryRecv() (T, error) {
	return r.c.tryRecv()
}

// All iterates over received items until the channel is closed and drained.
func (r *Receiver[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			v, err := r.Recv()
			if err != nil || !yield(v) {
				return
			}
		}
	}
}

// Close closes the channel for every handle.
func (r *Receiver[T]) Close() {
	r.c.close(false)
}

// Clone returns a new reference to the same channel.
func (r *Receiver[T]) Clone() *Receiver[T] {
	r.c.receivers.Add(1)
	return &Receiver[T]{c: r.c}
}

// Release drops this reference. Releasing the last Receiver closes the
// channel and discards anything still buffered, since nobody can read it.
func (r *Receiver[T]) Release() {
	if !r.released.CompareAndSwap(false, true) {
		return
	}
	if r.c.receivers.Add(-1) == 0 {
		r.c.close(true)
	}
}

// Len returns the number of buffered items.
func (r *Receiver[T]) Len() int { return r.c.len() }

// Cap returns the channel capacity.
func (r *Receiver[T]) Cap() int { return len(r.c.buf) }

// IsClosed reports whether the channel has been closed. Buffered items may
// still be pending.
func (r *Receiver[T]) IsClosed() bool { return r.c.isClosed() }
