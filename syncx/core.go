package syncx

import (
	"context"
	"sync/atomic"

	"github.com/sasha-s/go-deadlock"

	"github.com/tahsin716/tandem/fault"
	"github.com/tahsin716/tandem/internal/notify"
)

// rwCore is the reader/writer state machine behind both Mutex and RWLock.
//
// Policy: writer preference. Once a writer is waiting, new readers queue
// behind it; waiting writers are admitted one at a time in arrival order and
// queued readers are admitted together once no writer holds or awaits the
// lock. Continuous writers can therefore starve readers, never the reverse.
type rwCore struct {
	mu      deadlock.Mutex
	readCh  *notify.Cond
	writeCh *notify.Cond

	readers        int
	writer         bool
	writersWaiting int

	poisoned atomic.Bool
}

func (c *rwCore) init() {
	c.readCh = notify.New(&c.mu)
	c.writeCh = notify.New(&c.mu)
}

// acquireWrite blocks until the caller is the sole holder or ctx is done.
func (c *rwCore) acquireWrite(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.writer && c.readers == 0 && c.writersWaiting == 0 {
		c.writer = true
		return nil
	}

	c.writersWaiting++
	for c.writer || c.readers > 0 {
		if err := c.writeCh.Wait(ctx); err != nil {
			c.writersWaiting--
			c.abandonWrite()
			return err
		}
	}
	c.writersWaiting--
	c.writer = true
	return nil
}

func (c *rwCore) tryAcquireWrite() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writer || c.readers > 0 {
		return false
	}
	c.writer = true
	return true
}

func (c *rwCore) releaseWrite() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writer = false
	c.wakeAfterWriterLeft()
}

// wakeAfterWriterLeft hands the lock to the next writer, or to every queued
// reader when no writer is waiting. c.mu must be held.
func (c *rwCore) wakeAfterWriterLeft() {
	if c.writer || c.readers > 0 {
		return
	}
	if c.writersWaiting > 0 {
		c.writeCh.Signal()
		return
	}
	c.readCh.Broadcast()
}

// abandonWrite releases readers that queued behind a writer which gave up
// waiting. c.mu must be held.
func (c *rwCore) abandonWrite() {
	if c.writer {
		return
	}
	if c.writersWaiting == 0 {
		c.readCh.Broadcast()
		return
	}
	if c.readers == 0 {
		c.writeCh.Signal()
	}
}

func (c *rwCore) acquireRead(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.writer || c.writersWaiting > 0 {
		if err := c.readCh.Wait(ctx); err != nil {
			return err
		}
	}
	c.readers++
	return nil
}

func (c *rwCore) tryAcquireRead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writer || c.writersWaiting > 0 {
		return false
	}
	c.readers++
	return true
}

func (c *rwCore) releaseRead() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.readers--
	if c.readers == 0 && c.writersWaiting > 0 {
		c.writeCh.Signal()
	}
}

// poisonErr returns the error every acquisition reports once poisoned.
func (c *rwCore) poisonErr(op string) error {
	if c.poisoned.Load() {
		return fault.New(fault.KindPoisoned, op)
	}
	return nil
}
