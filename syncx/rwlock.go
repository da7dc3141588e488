package syncx

import (
	"context"
	"time"

	"github.com/tahsin716/tandem/fault"
)

// RWLock owns a value of type T and allows any number of concurrent readers
// or exactly one writer. Once a writer is waiting, new readers queue behind
// it (writer preference).
//
// Only write guards poison the lock: a reader cannot leave the value
// half-updated.
type RWLock[T any] struct {
	core  rwCore
	value T
}

// NewRWLock returns an RWLock owning value.
func NewRWLock[T any](value T) *RWLock[T] {
	l := &RWLock[T]{value: value}
	l.core.init()
	return l
}

// Read blocks until shared access is granted.
func (l *RWLock[T]) Read() (*ReadGuard[T], error) {
	_ = l.core.acquireRead(context.Background())
	return l.readGuard(), l.core.poisonErr("syncx.Read")
}

// TryRead grants shared access only if no writer holds or awaits the lock.
func (l *RWLock[T]) TryRead() (*ReadGuard[T], error) {
	if !l.core.tryAcquireRead() {
		return nil, fault.New(fault.KindBusy, "syncx.TryRead")
	}
	return l.readGuard(), l.core.poisonErr("syncx.TryRead")
}

// ReadContext is Read bounded by ctx.
func (l *RWLock[T]) ReadContext(ctx context.Context) (*ReadGuard[T], error) {
	if err := l.core.acquireRead(ctx); err != nil {
		return nil, fault.FromContext("syncx.ReadContext", err)
	}
	return l.readGuard(), l.core.poisonErr("syncx.ReadContext")
}

// ReadTimeout is Read bounded by d.
func (l *RWLock[T]) ReadTimeout(d time.Duration) (*ReadGuard[T], error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return l.ReadContext(ctx)
}

// Write blocks until exclusive access is granted.
func (l *RWLock[T]) Write() (*Guard[T], error) {
	_ = l.core.acquireWrite(context.Background())
	return l.writeGuard(), l.core.poisonErr("syncx.Write")
}

// TryWrite grants exclusive access only if the lock is free right now.
func (l *RWLock[T]) TryWrite() (*Guard[T], error) {
	if !l.core.tryAcquireWrite() {
		return nil, fault.New(fault.KindBusy, "syncx.TryWrite")
	}
	return l.writeGuard(), l.core.poisonErr("syncx.TryWrite")
}

// WriteContext is Write bounded by ctx.
func (l *RWLock[T]) WriteContext(ctx context.Context) (*Guard[T], error) {
	if err := l.core.acquireWrite(ctx); err != nil {
		return nil, fault.FromContext("syncx.WriteContext", err)
	}
	return l.writeGuard(), l.core.poisonErr("syncx.WriteContext")
}

// WriteTimeout is Write bounded by d.
func (l *RWLock[T]) WriteTimeout(d time.Duration) (*Guard[T], error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return l.WriteContext(ctx)
}

// WithRead runs fn with shared access. fn must not modify *v.
func (l *RWLock[T]) WithRead(fn func(v *T) error) error {
	g, err := l.Read()
	defer g.Release()
	if err != nil {
		return err
	}
	return fn(g.Get())
}

// WithWrite runs fn with exclusive access. A poisoned lock is not entered.
func (l *RWLock[T]) WithWrite(fn func(v *T) error) error {
	g, err := l.Write()
	defer g.Release()
	if err != nil {
		return err
	}
	return fn(g.Get())
}

// IsPoisoned reports whether a writer panicked and the poison was not cleared.
func (l *RWLock[T]) IsPoisoned() bool {
	return l.core.poisoned.Load()
}

// ClearPoison marks the value as consistent again.
func (l *RWLock[T]) ClearPoison() {
	l.core.poisoned.Store(false)
}

func (l *RWLock[T]) readGuard() *ReadGuard[T] {
	return &ReadGuard[T]{value: &l.value, release: l.core.releaseRead}
}

func (l *RWLock[T]) writeGuard() *Guard[T] {
	return &Guard[T]{value: &l.value, release: l.core.releaseWrite, core: &l.core}
}

// ReadGuard grants shared access until Release.
type ReadGuard[T any] struct {
	value   *T
	release func()
}

// Get returns the protected value for reading, or nil once released.
func (g *ReadGuard[T]) Get() *T {
	return g.value
}

// Release gives up shared access. Releasing twice is a no-op.
func (g *ReadGuard[T]) Release() {
	if g.release == nil {
		return
	}
	release := g.release
	g.release = nil
	g.value = nil
	release()
}
