package tandem

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tahsin716/tandem/fault"
)

// State is the pool lifecycle state. It only moves forward:
// Running → ShutdownRequested → Draining → Terminated.
type State int32

const (
	// StateRunning accepts submissions.
	StateRunning State = iota
	// StateShutdownRequested rejects submissions with ErrQueueClosed.
	StateShutdownRequested
	// StateDraining has woken every worker; they finish (or, under
	// Immediate, abandon) what is queued and exit.
	StateDraining
	// StateTerminated has joined every worker and resolved every handle.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShutdownRequested:
		return "shutdown-requested"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ShutdownMode selects what happens to queued tasks.
type ShutdownMode int

const (
	// Graceful runs every queued task before terminating.
	Graceful ShutdownMode = iota
	// Immediate lets running tasks finish and cancels the rest; their
	// handles resolve with ErrCancelled.
	Immediate
)

func (m ShutdownMode) String() string {
	if m == Immediate {
		return "immediate"
	}
	return "graceful"
}

// ShutdownReport summarizes a shutdown.
type ShutdownReport struct {
	// Drained is the number of tasks that started after shutdown was
	// requested.
	Drained int
	// Cancelled is the number of queued tasks dropped without running.
	Cancelled int
}

// shutdown is the lifecycle bookkeeping embedded in Pool.
type shutdown struct {
	once         sync.Once
	cancelQueued atomic.Bool
	workersDone  sync.WaitGroup
	terminated   chan struct{}

	drained   atomic.Int64
	cancelled atomic.Int64

	// report is written once, before terminated is closed.
	report ShutdownReport
}

func (s *shutdown) init() {
	s.terminated = make(chan struct{})
}

// State returns the current lifecycle state.
func (p *Pool) State() State {
	return State(p.state.Load())
}

// IsShutdown reports whether shutdown has been requested.
//
// Example:
//
//	if pool.IsShutdown() {
//	    fmt.Println("pool is no longer accepting tasks")
//	}
func (p *Pool) IsShutdown() bool {
	return p.State() != StateRunning
}

// Terminated is closed once every worker has exited.
func (p *Pool) Terminated() <-chan struct{} {
	return p.terminated
}

// Shutdown stops the pool and blocks until every worker has exited.
//
// Calling it again is a no-op that returns the same report. An Immediate
// call made while a Graceful shutdown is still draining cancels whatever is
// still queued.
//
// Example:
//
//	report := pool.Shutdown(tandem.Graceful)
//	log.Printf("drained %d tasks", report.Drained)
func (p *Pool) Shutdown(mode ShutdownMode) ShutdownReport {
	report, _ := p.ShutdownContext(context.Background(), mode)
	return report
}

// ShutdownContext is Shutdown bounded by ctx. If ctx ends first, queued
// tasks are cancelled, termination finishes in the background, and the
// returned error matches ErrTimeout (or ErrCancelled). The report then holds
// the counts observed so far.
func (p *Pool) ShutdownContext(ctx context.Context, mode ShutdownMode) (ShutdownReport, error) {
	p.once.Do(func() { p.beginShutdown(mode) })
	if mode == Immediate {
		p.cancelQueuedTasks()
	}

	select {
	case <-p.terminated:
		return p.report, nil
	case <-ctx.Done():
		p.logger.Warn("shutdown deadline exceeded, cancelling queued tasks",
			"error", ctx.Err())
		p.cancelQueuedTasks()
		return ShutdownReport{
			Drained:   int(p.drained.Load()),
			Cancelled: int(p.cancelled.Load()),
		}, fault.FromContext("tandem.Shutdown", ctx.Err())
	}
}

// Close shuts the pool down gracefully, bounded by Config.ShutdownTimeout.
func (p *Pool) Close() error {
	ctx := context.Background()
	if d := p.config.ShutdownTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	_, err := p.ShutdownContext(ctx, Graceful)
	return err
}

func (p *Pool) beginShutdown(mode ShutdownMode) {
	p.gate.Lock()
	p.state.Store(int32(StateShutdownRequested))
	p.gate.Unlock()

	p.logger.Info("shutdown requested", "mode", mode.String(),
		"queued", p.Stats().QueueDepth)

	if mode == Immediate {
		p.cancelQueued.Store(true)
	}
	p.state.Store(int32(StateDraining))
	p.wakeAll()

	go p.terminate()
}

// cancelQueuedTasks makes workers stop taking queued work.
func (p *Pool) cancelQueuedTasks() {
	if p.cancelQueued.CompareAndSwap(false, true) {
		p.wakeAll()
	}
}

func (p *Pool) terminate() {
	p.workersDone.Wait()

	// Workers are gone, so their owner-only queue ends are ours now.
	for _, w := range p.workers {
		for {
			t, ok := w.inbox.TryPop()
			if !ok {
				break
			}
			p.cancel(t)
		}
		for t := w.local.Pop(); t != nil; t = w.local.Pop() {
			p.cancel(t)
		}
	}

	p.report = ShutdownReport{
		Drained:   int(p.drained.Load()),
		Cancelled: int(p.cancelled.Load()),
	}
	p.state.Store(int32(StateTerminated))
	p.logger.Info("pool terminated",
		"drained", p.report.Drained,
		"cancelled", p.report.Cancelled)
	close(p.terminated)
}

func (p *Pool) cancel(t *task) {
	t.fail(fault.New(fault.KindCancelled, "tandem.Shutdown"))
	p.cancelled.Add(1)
	p.metrics.cancelled.Add(1)
	p.taskDone()
}
