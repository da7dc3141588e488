package tandem

import (
	"sync/atomic"
	"time"
)

// Stats is a snapshot of pool operation. Counters are read without locks, so
// values may be slightly inconsistent with each other while tasks run.
//
// Example:
//
//	stats := pool.Stats()
//	fmt.Printf("completed %d/%d, %d panicked\n",
//	    stats.Completed, stats.Submitted, stats.Panicked)
type Stats struct {
	// PoolID is the unique id assigned at construction. It also appears in
	// every log record the pool emits.
	PoolID string

	// State is the lifecycle state at the time of the snapshot.
	State State

	// NumWorkers is fixed at pool creation.
	NumWorkers int

	// Submitted is the number of tasks accepted by Submit, TrySubmit or
	// SubmitFunc. Rejected submissions are not included.
	Submitted uint64

	// Completed is the number of tasks that ran to the end, including tasks
	// that panicked and tasks run on the caller under CallerRuns.
	Completed uint64

	// Panicked is the number of tasks whose function panicked.
	Panicked uint64

	// Cancelled is the number of queued tasks dropped by an Immediate (or
	// timed-out) shutdown before they started.
	Cancelled uint64

	// Rejected is the number of submissions refused with ErrBusy because
	// every inbox was full.
	Rejected uint64

	// CallerRuns is the number of tasks executed on the submitting goroutine
	// under the CallerRuns strategy. High values suggest undersized inboxes.
	CallerRuns uint64

	// Stolen is the number of tasks a worker took from another worker.
	Stolen uint64

	// InFlight is the number of accepted tasks that have neither completed
	// nor been cancelled.
	InFlight uint64

	// QueueDepth is the number of tasks waiting in all inboxes and deques.
	// Running tasks are not included.
	QueueDepth int

	// QueueCapacity is NumWorkers * Config.QueueCapacity, the inbox bound.
	QueueCapacity int

	// LatencyAvg is the average execution time of completed tasks, excluding
	// queueing time. Zero if nothing completed.
	LatencyAvg time.Duration

	// LatencyMax is the longest execution time observed for a single task.
	LatencyMax time.Duration

	// Workers holds one entry per worker, indexed by worker id.
	Workers []WorkerStats
}

// WorkerStats contains statistics for one worker goroutine. Each worker keeps
// its own counters to avoid contention.
type WorkerStats struct {
	// WorkerID is the 0-based worker index.
	WorkerID int

	// TasksExecuted counts tasks this worker ran, including panicked ones.
	TasksExecuted uint64

	// TasksPanicked counts tasks that panicked on this worker.
	TasksPanicked uint64

	// TasksStolen counts tasks this worker took from other workers.
	TasksStolen uint64

	// QueueDepth is the number of tasks in this worker's inbox and deque.
	QueueDepth int

	// State is what the worker was doing at snapshot time.
	State WorkerState
}

// poolMetrics tracks pool-wide counters.
type poolMetrics struct {
	submitted  atomic.Uint64
	completed  atomic.Uint64
	panicked   atomic.Uint64
	cancelled  atomic.Uint64
	rejected   atomic.Uint64
	callerRuns atomic.Uint64
	stolen     atomic.Uint64

	latencySum   atomic.Uint64 // microseconds
	latencyCount atomic.Uint64
	latencyMax   atomic.Uint64 // microseconds
}

// recordLatency records one task execution time.
func (m *poolMetrics) recordLatency(d time.Duration) {
	micros := uint64(d.Microseconds())

	m.latencySum.Add(micros)
	m.latencyCount.Add(1)

	for {
		current := m.latencyMax.Load()
		if micros <= current || m.latencyMax.CompareAndSwap(current, micros) {
			return
		}
	}
}

// Stats returns a snapshot of pool statistics.
func (p *Pool) Stats() Stats {
	m := &p.metrics
	submitted := m.submitted.Load()
	completed := m.completed.Load()
	cancelled := m.cancelled.Load()

	var inFlight uint64
	if n := p.inflight.Load(); n > 0 {
		inFlight = uint64(n)
	}

	workers := make([]WorkerStats, len(p.workers))
	depth := 0
	for i, w := range p.workers {
		ws := w.stats()
		depth += ws.QueueDepth
		workers[i] = ws
	}

	var avg, peak time.Duration
	if n := m.latencyCount.Load(); n > 0 {
		avg = time.Duration(m.latencySum.Load()/n) * time.Microsecond
		peak = time.Duration(m.latencyMax.Load()) * time.Microsecond
	}

	return Stats{
		PoolID:        p.id.String(),
		State:         p.State(),
		NumWorkers:    len(p.workers),
		Submitted:     submitted,
		Completed:     completed,
		Panicked:      m.panicked.Load(),
		Cancelled:     cancelled,
		Rejected:      m.rejected.Load(),
		CallerRuns:    m.callerRuns.Load(),
		Stolen:        m.stolen.Load(),
		InFlight:      inFlight,
		QueueDepth:    depth,
		QueueCapacity: len(p.workers) * p.config.QueueCapacity,
		LatencyAvg:    avg,
		LatencyMax:    peak,
		Workers:       workers,
	}
}
