// Package group runs a set of related tasks on a tandem.Pool with structured
// concurrency: tasks share a context, Wait joins all of them, and errors are
// handled according to the group's ErrorMode.
//
//	g := group.New(ctx, pool, group.WithErrorMode(group.FailFast))
//	for _, url := range urls {
//	    g.Go(func(ctx context.Context) error {
//	        return fetch(ctx, url)
//	    })
//	}
//	if err := g.Wait(); err != nil {
//	    return err
//	}
package group

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/sasha-s/go-deadlock"

	"github.com/tahsin716/tandem"
	"github.com/tahsin716/tandem/fault"
)

// Group manages a collection of tasks submitted to one pool.
type Group struct {
	pool   *tandem.Pool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	config Config

	// Error handling
	errorsMu deadlock.Mutex
	errors   []error
	firstErr error

	// State tracking
	running   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panicked  atomic.Int64
}

// Stats provides information about task execution.
type Stats struct {
	Running   int64
	Completed int64
	Failed    int64
	Panicked  int64
}

// New creates a Group whose tasks run on pool and stop when ctx is done.
func New(ctx context.Context, pool *tandem.Pool, opts ...Option) *Group {
	config := BuildConfig(opts)
	if ctx == nil {
		ctx = context.Background()
	}
	groupCtx, cancel := context.WithCancel(ctx)

	return &Group{
		pool:   pool,
		ctx:    groupCtx,
		cancel: cancel,
		config: config,
	}
}

// Context returns the context passed to every task.
func (g *Group) Context() context.Context {
	return g.ctx
}

// Go submits fn to the pool. A panic in fn is recovered and recorded as a
// *fault.PanicError. If the pool refuses the task, Go records and returns
// the submission error.
func (g *Group) Go(fn func(context.Context) error) error {
	g.wg.Add(1)
	g.running.Add(1)

	_, err := g.pool.SubmitContext(g.ctx, func() { g.run(fn) })
	if err != nil {
		g.running.Add(-1)
		g.handleError(err)
		g.wg.Done()
		return err
	}
	return nil
}

func (g *Group) run(fn func(context.Context) error) {
	defer g.wg.Done()
	defer g.running.Add(-1)
	defer g.completed.Add(1)

	defer func() {
		if r := recover(); r != nil {
			g.panicked.Add(1)
			g.handleError(&fault.PanicError{
				Value: r,
				Stack: string(debug.Stack()),
			})
		}
	}()

	if err := fn(g.ctx); err != nil {
		g.handleError(err)
	}
}

// Wait blocks until every task has finished and returns the group error:
// the first error under FailFast, an AggregateError under CollectAll, and
// nil under IgnoreErrors.
func (g *Group) Wait() error {
	g.wg.Wait()
	g.Stop()

	g.errorsMu.Lock()
	defer g.errorsMu.Unlock()

	switch g.config.errorMode {
	case FailFast:
		return g.firstErr
	case CollectAll:
		if len(g.errors) > 0 {
			return AggregateError{Errors: append([]error(nil), g.errors...)}
		}
	}
	return nil
}

// Stop cancels the group context, signaling every task to stop.
func (g *Group) Stop() {
	g.cancel()
}

// Stats returns a snapshot of the group's counters.
func (g *Group) Stats() Stats {
	return Stats{
		Running:   g.running.Load(),
		Completed: g.completed.Load(),
		Failed:    g.failed.Load(),
		Panicked:  g.panicked.Load(),
	}
}

func (g *Group) handleError(err error) {
	g.failed.Add(1)

	switch g.config.errorMode {
	case IgnoreErrors:
		return

	case FailFast:
		g.errorsMu.Lock()
		first := g.firstErr == nil
		if first {
			g.firstErr = err
		}
		g.errorsMu.Unlock()
		if first {
			g.cancel()
		}

	case CollectAll:
		g.errorsMu.Lock()
		g.errors = append(g.errors, err)
		g.errorsMu.Unlock()
	}
}
