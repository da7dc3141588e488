package syncx

import (
	"context"
	"time"

	"github.com/tahsin716/tandem/fault"
)

// Mutex owns a value of type T and hands out exclusive access to it through
// a Guard. The value cannot be reached any other way.
//
// Example:
//
//	counter := syncx.NewMutex(int64(0))
//	g, err := counter.Lock()
//	if err != nil {
//	    // poisoned: g is still valid, decide whether to trust *g.Get()
//	}
//	defer g.Release()
//	*g.Get()++
type Mutex[T any] struct {
	core  rwCore
	value T
}

// NewMutex returns a Mutex owning value.
func NewMutex[T any](value T) *Mutex[T] {
	m := &Mutex[T]{value: value}
	m.core.init()
	return m
}

// Lock blocks until the mutex is acquired. If a previous holder panicked,
// the guard is returned together with an error matching fault.ErrPoisoned;
// the caller must still Release it.
func (m *Mutex[T]) Lock() (*Guard[T], error) {
	_ = m.core.acquireWrite(context.Background())
	return m.guard(), m.core.poisonErr("syncx.Lock")
}

// TryLock acquires the mutex only if it is free right now. It returns an
// error matching fault.ErrBusy otherwise.
func (m *Mutex[T]) TryLock() (*Guard[T], error) {
	if !m.core.tryAcquireWrite() {
		return nil, fault.New(fault.KindBusy, "syncx.TryLock")
	}
	return m.guard(), m.core.poisonErr("syncx.TryLock")
}

// LockContext is Lock bounded by ctx. When ctx expires first no guard is
// returned and the error matches fault.ErrTimeout (or fault.ErrCancelled).
func (m *Mutex[T]) LockContext(ctx context.Context) (*Guard[T], error) {
	if err := m.core.acquireWrite(ctx); err != nil {
		return nil, fault.FromContext("syncx.LockContext", err)
	}
	return m.guard(), m.core.poisonErr("syncx.LockContext")
}

// LockTimeout is Lock bounded by d.
func (m *Mutex[T]) LockTimeout(d time.Duration) (*Guard[T], error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return m.LockContext(ctx)
}

// With runs fn with exclusive access to the value. A poisoned mutex is not
// entered; use Lock to recover deliberately. A panic in fn poisons the mutex
// and is re-raised.
func (m *Mutex[T]) With(fn func(v *T) error) error {
	g, err := m.Lock()
	defer g.Release()
	if err != nil {
		return err
	}
	return fn(g.Get())
}

// IsPoisoned reports whether a holder panicked and the poison was not cleared.
func (m *Mutex[T]) IsPoisoned() bool {
	return m.core.poisoned.Load()
}

// ClearPoison marks the value as consistent again.
func (m *Mutex[T]) ClearPoison() {
	m.core.poisoned.Store(false)
}

func (m *Mutex[T]) guard() *Guard[T] {
	return &Guard[T]{value: &m.value, release: m.core.releaseWrite, core: &m.core}
}

// Guard grants exclusive access until Release. It must not be shared
// between goroutines.
type Guard[T any] struct {
	value   *T
	core    *rwCore
	release func()
}

// Get returns the protected value, or nil once the guard is released.
func (g *Guard[T]) Get() *T {
	return g.value
}

// Release unlocks. Deferring it directly (defer g.Release()) also poisons
// the lock when the goroutine is unwinding from a panic; the panic then
// continues. Releasing twice is a no-op.
func (g *Guard[T]) Release() {
	if r := recover(); r != nil {
		g.unlock(true)
		panic(r)
	}
	g.unlock(false)
}

func (g *Guard[T]) unlock(poison bool) {
	if g.release == nil {
		return
	}
	if poison {
		g.core.poisoned.Store(true)
	}
	release := g.release
	g.release = nil
	g.value = nil
	release()
}
