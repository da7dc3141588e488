package tandem

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sasha-s/go-deadlock"

	"github.com/tahsin716/tandem/fault"
	"github.com/tahsin716/tandem/internal/notify"
)

// PanicInfo describes a task panic recovered by the pool.
type PanicInfo struct {
	// WorkerID is the worker that ran the task, or -1 for a task executed on
	// the submitting goroutine under CallerRuns.
	WorkerID int
	TaskID   uint64
	Value    any
	Message  string
	Stack    string
}

// PanicHandler is called on the goroutine that recovered the panic, after
// the task's Handle has resolved.
type PanicHandler func(PanicInfo)

// Pool is a fixed-size work-stealing worker pool.
type Pool struct {
	id      uuid.UUID
	config  Config
	logger  *slog.Logger
	workers []*worker

	state atomic.Int32 // State

	// gate orders submissions against the shutdown state flip: submitters
	// hold it shared while enqueueing, shutdown holds it exclusively while
	// leaving StateRunning. Once the flip is done no enqueue is in progress.
	gate deadlock.RWMutex

	nextTaskID atomic.Uint64
	nextWorker atomic.Uint64
	parked     atomic.Int32

	// inflight counts accepted tasks not yet finished or cancelled.
	inflight atomic.Int64
	idleMu   deadlock.Mutex
	idleCond *notify.Cond

	metrics poolMetrics

	shutdown
}

// NewPool creates a worker pool with the given options and starts its
// workers. It returns an error matching ErrInvalidConfig if the
// configuration is invalid.
//
// Example:
//
//	pool, err := tandem.NewPool(
//	    tandem.WithNumWorkers(4),
//	    tandem.WithQueueCapacity(256),
//	)
func NewPool(opts ...Option) (*Pool, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.resolve()

	p := &Pool{
		id:     uuid.New(),
		config: cfg,
	}
	p.logger = cfg.Logger.With("pool_id", p.id.String())
	p.idleCond = notify.New(&p.idleMu)
	p.shutdown.init()
	p.state.Store(int32(StateRunning))

	p.workers = make([]*worker, cfg.NumWorkers)
	for i := range p.workers {
		p.workers[i] = newWorker(i, p)
	}
	p.workersDone.Add(len(p.workers))
	for _, w := range p.workers {
		go func() {
			defer p.workersDone.Done()
			w.run()
		}()
	}

	p.logger.Info("pool started",
		"workers", cfg.NumWorkers,
		"queue_capacity", cfg.QueueCapacity,
		"overflow", cfg.OverflowStrategy.String())
	return p, nil
}

// New creates a pool of workerCount workers reporting panics to onPanic.
// A nil onPanic keeps the default logging handler.
func New(workerCount int, onPanic PanicHandler, opts ...Option) (*Pool, error) {
	if workerCount < 1 {
		return nil, fault.Newf(fault.KindInvalidConfig, "tandem.New", "workerCount must be >= 1, got %d", workerCount)
	}
	base := []Option{WithNumWorkers(workerCount), WithPanicHandler(onPanic)}
	return NewPool(append(base, opts...)...)
}

// Submit queues fn for execution and returns a Handle that resolves when it
// finishes. A panic in fn resolves the handle with a *fault.PanicError.
//
// Returns ErrNilTask if fn is nil and ErrQueueClosed once shutdown has been
// requested. When every inbox is full the configured OverflowStrategy
// applies.
//
// Example:
//
//	h, err := pool.Submit(func() {
//	    fmt.Println("task executed")
//	})
//	if err != nil {
//	    return err
//	}
//	_, err = h.Wait()
func (p *Pool) Submit(fn func()) (*Handle[struct{}], error) {
	return p.SubmitContext(context.Background(), fn)
}

// SubmitContext is Submit whose Block backoff is bounded by ctx. ctx does
// not affect the task once it is queued.
func (p *Pool) SubmitContext(ctx context.Context, fn func()) (*Handle[struct{}], error) {
	if fn == nil {
		return nil, fault.New(fault.KindNilTask, "tandem.Submit")
	}
	return submit(ctx, p, "tandem.Submit", p.config.OverflowStrategy, wrapUnit(fn))
}

// TrySubmit queues fn only if an inbox has room right now. It never blocks
// and never runs fn on the caller; a full pool returns ErrBusy.
func (p *Pool) TrySubmit(fn func()) (*Handle[struct{}], error) {
	if fn == nil {
		return nil, fault.New(fault.KindNilTask, "tandem.TrySubmit")
	}
	return submit(context.Background(), p, "tandem.TrySubmit", ReturnError, wrapUnit(fn))
}

// SubmitFunc queues fn and returns a Handle carrying its result.
//
// Example:
//
//	h, err := tandem.SubmitFunc(pool, func() (int, error) {
//	    return compute(), nil
//	})
//	v, err := h.Wait()
func SubmitFunc[R any](p *Pool, fn func() (R, error)) (*Handle[R], error) {
	return SubmitFuncContext(context.Background(), p, fn)
}

// SubmitFuncContext is SubmitFunc whose Block backoff is bounded by ctx.
func SubmitFuncContext[R any](ctx context.Context, p *Pool, fn func() (R, error)) (*Handle[R], error) {
	if fn == nil {
		return nil, fault.New(fault.KindNilTask, "tandem.SubmitFunc")
	}
	return submit(ctx, p, "tandem.SubmitFunc", p.config.OverflowStrategy, fn)
}

func wrapUnit(fn func()) func() (struct{}, error) {
	return func() (struct{}, error) {
		fn()
		return struct{}{}, nil
	}
}

func submit[R any](ctx context.Context, p *Pool, op string, strategy OverflowStrategy, fn func() (R, error)) (*Handle[R], error) {
	id := p.nextTaskID.Add(1)
	h := newHandle[R](id)
	if err := p.dispatch(ctx, op, strategy, newTask(id, h, fn)); err != nil {
		return nil, err
	}
	return h, nil
}

// dispatch hands t to a worker, applying strategy when every inbox is full.
func (p *Pool) dispatch(ctx context.Context, op string, strategy OverflowStrategy, t *task) error {
	const (
		minBackoff = 10 * time.Microsecond
		maxBackoff = 5 * time.Millisecond
	)
	backoff := minBackoff

	for {
		p.gate.RLock()
		if p.State() != StateRunning {
			p.gate.RUnlock()
			return fault.New(fault.KindQueueClosed, op)
		}
		p.accept()
		if p.enqueue(t) {
			p.metrics.submitted.Add(1)
			p.gate.RUnlock()
			return nil
		}
		p.unaccept()
		p.gate.RUnlock()

		switch strategy {
		case ReturnError:
			p.metrics.rejected.Add(1)
			return fault.New(fault.KindBusy, op)
		case CallerRuns:
			p.accept()
			p.metrics.submitted.Add(1)
			p.metrics.callerRuns.Add(1)
			p.execute(t, nil)
			return nil
		}

		// Block: wait for a worker to make room without holding the gate,
		// so shutdown is never held up by a blocked submitter.
		select {
		case <-ctx.Done():
			return fault.FromContext(op, ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// enqueue pushes t to a worker inbox and wakes that worker. Parked workers
// are tried first, then every worker round-robin. The caller holds the gate.
func (p *Pool) enqueue(t *task) bool {
	n := len(p.workers)
	start := int(p.nextWorker.Add(1) % uint64(n))

	if p.parked.Load() > 0 {
		for i := 0; i < n; i++ {
			w := p.workers[(start+i)%n]
			if w.getState() == WorkerParked && p.push(w, t) {
				return true
			}
		}
	}
	for i := 0; i < n; i++ {
		if p.push(p.workers[(start+i)%n], t) {
			return true
		}
	}
	return false
}

func (p *Pool) push(w *worker, t *task) bool {
	if !w.inbox.TryPush(t) {
		return false
	}
	w.signal()
	return true
}

// accept counts a task before any worker can see it, so Wait never observes a
// queued task as finished. The submitted counter only moves once the task is
// really queued, so it never goes backwards.
func (p *Pool) accept() {
	p.inflight.Add(1)
}

func (p *Pool) unaccept() {
	p.taskDone()
}

// taskDone marks one accepted task as finished or cancelled.
func (p *Pool) taskDone() {
	if p.inflight.Add(-1) == 0 {
		p.idleMu.Lock()
		p.idleCond.Broadcast()
		p.idleMu.Unlock()
	}
}

// wakeIdle wakes one parked worker other than self.
func (p *Pool) wakeIdle(self int) {
	if p.parked.Load() == 0 {
		return
	}
	for _, w := range p.workers {
		if w.id != self && w.getState() == WorkerParked {
			w.signal()
			return
		}
	}
}

func (p *Pool) wakeAll() {
	for _, w := range p.workers {
		w.signal()
	}
}

// reportPanic hands info to the configured PanicHandler, or logs it. A
// panicking handler is logged and otherwise ignored.
func (p *Pool) reportPanic(info PanicInfo) {
	h := p.config.PanicHandler
	if h == nil {
		p.logger.Error("task panicked",
			"worker_id", info.WorkerID,
			"task_id", info.TaskID,
			"panic", info.Message,
			"stack", info.Stack)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic handler panicked", "task_id", info.TaskID, "panic", r)
		}
	}()
	h(info)
}

// Wait blocks until every task accepted so far has finished or been
// cancelled. It does not shut the pool down.
//
// Example:
//
//	pool.Submit(task1)
//	pool.Submit(task2)
//	pool.Wait() // task1 and task2 are done
func (p *Pool) Wait() {
	_ = p.WaitContext(context.Background())
}

// WaitContext is Wait bounded by ctx.
func (p *Pool) WaitContext(ctx context.Context) error {
	p.idleMu.Lock()
	defer p.idleMu.Unlock()
	for p.inflight.Load() > 0 {
		if err := p.idleCond.Wait(ctx); err != nil {
			return fault.FromContext("tandem.Wait", err)
		}
	}
	return nil
}

// ID returns the pool's unique id.
func (p *Pool) ID() string {
	return p.id.String()
}

// NumWorkers returns the number of workers in the pool.
func (p *Pool) NumWorkers() int {
	return len(p.workers)
}
