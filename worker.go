package tandem

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/tahsin716/tandem/deque"
	"github.com/tahsin716/tandem/fault"
)

// WorkerState represents what a worker is currently doing.
type WorkerState int32

const (
	WorkerRunning WorkerState = iota
	WorkerSpinning
	WorkerParked
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerRunning:
		return "RUNNING"
	case WorkerSpinning:
		return "SPINNING"
	case WorkerParked:
		return "PARKED"
	case WorkerStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// batchSteal is how many extra tasks a successful thief moves into its own
// deque in one visit.
const batchSteal = 4

// worker owns an inbox that submitters push into and a deque that only the
// worker pushes and pops. Other workers steal from both.
type worker struct {
	id   int
	pool *Pool

	inbox *deque.Ring[*task]
	local *deque.ChaseLev[task]

	state atomic.Int32 // WorkerState

	// wake holds at most one pending wakeup permit.
	wake    chan struct{}
	timer   *time.Timer
	parkFor time.Duration

	seed uint32 // XorShift state, owner only

	executed atomic.Uint64
	panicked atomic.Uint64
	stolen   atomic.Uint64
}

func newWorker(id int, p *Pool) *worker {
	w := &worker{
		id:      id,
		pool:    p,
		inbox:   deque.NewRing[*task](p.config.QueueCapacity),
		local:   deque.NewChaseLev[task](p.config.QueueCapacity),
		wake:    make(chan struct{}, 1),
		timer:   time.NewTimer(time.Hour),
		parkFor: p.config.ParkMin,
		seed:    uint32(time.Now().UnixNano()) + uint32(id)*2654435761 | 1,
	}
	w.timer.Stop()
	w.state.Store(int32(WorkerRunning))
	return w
}

// run is the main worker loop.
func (w *worker) run() {
	p := w.pool
	if p.config.OnWorkerStart != nil {
		p.config.OnWorkerStart(w.id)
	}
	p.logger.Debug("worker started", "worker_id", w.id)

	for !p.cancelQueued.Load() {
		if t := w.findTask(); t != nil {
			w.setState(WorkerRunning)
			p.execute(t, w)
			continue
		}
		if p.State() != StateRunning {
			// Nothing in our own queues and a full sweep found nothing.
			// Submissions are closed, so nothing new can appear.
			if w.inbox.IsEmpty() && w.local.IsEmpty() {
				break
			}
			continue
		}
		w.idle()
	}

	w.setState(WorkerStopped)
	p.logger.Debug("worker stopped", "worker_id", w.id,
		"executed", w.executed.Load(), "stolen", w.stolen.Load())
	if p.config.OnWorkerStop != nil {
		p.config.OnWorkerStop(w.id)
	}
}

// findTask looks for work: own deque (newest first), then own inbox, then
// the oldest work of other workers.
func (w *worker) findTask() *task {
	if t := w.local.Pop(); t != nil {
		return t
	}
	if w.refill() {
		if t := w.local.Pop(); t != nil {
			return t
		}
	}
	return w.steal()
}

// refill moves the inbox into the deque. Moving more than one task means
// there is spare work, so a parked peer is woken to steal some of it.
func (w *worker) refill() bool {
	moved := 0
	for moved < w.inbox.Cap() {
		t, ok := w.inbox.TryPop()
		if !ok {
			break
		}
		w.local.Push(t)
		moved++
	}
	if moved > 1 {
		w.pool.wakeIdle(w.id)
	}
	return moved > 0
}

// steal sweeps every other worker once, starting at a random victim.
func (w *worker) steal() *task {
	workers := w.pool.workers
	n := len(workers)
	if n <= 1 {
		return nil
	}

	start := w.randomVictim()
	for i := 0; i < n; i++ {
		victim := workers[(start+i)%n]
		if victim == w {
			continue
		}
		if t := victim.local.Steal(); t != nil {
			w.recordSteal(1 + w.stealMore(victim))
			return t
		}
		if t, ok := victim.inbox.TryPop(); ok {
			w.recordSteal(1)
			return t
		}
	}
	return nil
}

// stealMore moves a few more of the victim's oldest tasks into our deque.
func (w *worker) stealMore(victim *worker) int {
	n := 0
	for ; n < batchSteal; n++ {
		t := victim.local.Steal()
		if t == nil {
			break
		}
		w.local.Push(t)
	}
	return n
}

func (w *worker) recordSteal(n int) {
	w.stolen.Add(uint64(n))
	w.pool.metrics.stolen.Add(uint64(n))
}

// randomVictim selects a random worker index using XorShift.
func (w *worker) randomVictim() int {
	w.seed ^= w.seed << 13
	w.seed ^= w.seed >> 17
	w.seed ^= w.seed << 5
	return int(w.seed % uint32(len(w.pool.workers)))
}

// idle spins briefly, then parks until woken or until the park timer
// fires. Consecutive timeouts double the park time up to ParkMax.
func (w *worker) idle() {
	p := w.pool

	w.setState(WorkerSpinning)
	for i := 0; i < p.config.SpinCount; i++ {
		if !w.inbox.IsEmpty() || p.State() != StateRunning {
			return
		}
		runtime.Gosched()
	}

	w.setState(WorkerParked)
	p.parked.Add(1)
	defer p.parked.Add(-1)

	// Re-check after publishing the parked state: a submitter that pushed
	// before seeing it has already left a permit or a visible task.
	if !w.inbox.IsEmpty() || p.State() != StateRunning {
		return
	}

	w.timer.Reset(w.parkFor)
	select {
	case <-w.wake:
		w.timer.Stop()
		w.parkFor = p.config.ParkMin
	case <-w.timer.C:
		w.parkFor = min(w.parkFor*2, p.config.ParkMax)
	}
}

// signal leaves a wakeup permit. It never blocks.
func (w *worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker) setState(s WorkerState) {
	w.state.Store(int32(s))
}

func (w *worker) getState() WorkerState {
	return WorkerState(w.state.Load())
}

func (w *worker) stats() WorkerStats {
	return WorkerStats{
		WorkerID:      w.id,
		TasksExecuted: w.executed.Load(),
		TasksPanicked: w.panicked.Load(),
		TasksStolen:   w.stolen.Load(),
		QueueDepth:    w.inbox.Len() + w.local.Len(),
		State:         w.getState(),
	}
}

// execute runs t with panic recovery. w is nil when the task runs on the
// submitting goroutine.
func (p *Pool) execute(t *task, w *worker) {
	if p.State() != StateRunning {
		p.drained.Add(1)
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			t.fail(&fault.PanicError{Value: r, Stack: stack})

			workerID := -1
			if w != nil {
				workerID = w.id
				w.panicked.Add(1)
			}
			p.metrics.panicked.Add(1)
			p.reportPanic(PanicInfo{
				WorkerID: workerID,
				TaskID:   t.id,
				Value:    r,
				Message:  fmt.Sprint(r),
				Stack:    stack,
			})
		}

		p.metrics.recordLatency(time.Since(start))
		p.metrics.completed.Add(1)
		if w != nil {
			w.executed.Add(1)
		}
		p.taskDone()
	}()

	t.exec()
}
