// Package tandem provides a fixed-size, work-stealing worker pool with typed
// result handles, overflow strategies and a graceful shutdown protocol.
//
// Each worker owns a bounded lock-free inbox that submitters push into and a
// Chase-Lev deque it works from. A worker runs its newest local work first;
// when it runs dry it steals the oldest work of a randomly chosen peer, and
// after a short spin it parks with an exponentially growing timeout until a
// submitter or a busy peer wakes it.
//
// Sibling packages build on the pool:
//
//   - chanx: bounded channel with backpressure and reference-counted handles
//   - syncx: Mutex and RWLock that own their value and poison on panic
//   - barrier: reusable phase barrier with a leader per phase
//   - pipeline: stages, fan-out and ordered parallel map over a Pool
//   - group: structured task groups with fail-fast or collected errors
//   - metrics: Prometheus collector for Pool.Stats
//
// # Quick Start
//
//	pool, err := tandem.NewPool(tandem.WithNumWorkers(4))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Shutdown(tandem.Graceful)
//
//	h, err := tandem.SubmitFunc(pool, func() (int, error) {
//	    return 6 * 7, nil
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	v, err := h.Wait()
//
// # Overflow Strategies
//
// When every inbox is full, Submit follows the configured strategy:
//
// Block (default) retries with backoff until there is room or the pool shuts
// down. SubmitContext bounds the wait.
//
// ReturnError fails with ErrBusy so the caller can apply its own
// backpressure. TrySubmit behaves this way regardless of configuration.
//
// CallerRuns executes the task on the submitting goroutine, which naturally
// slows producers down.
//
// # Panics
//
// A panicking task never takes down its worker. Its handle resolves with a
// *fault.PanicError (matching ErrTaskPanicked) and the PanicHandler, or the
// pool logger, receives a PanicInfo:
//
//	pool, _ := tandem.New(4, func(info tandem.PanicInfo) {
//	    log.Printf("task %d panicked on worker %d: %s",
//	        info.TaskID, info.WorkerID, info.Message)
//	})
//
// # Shutdown
//
// Shutdown(Graceful) stops accepting work, runs everything already queued
// and joins the workers. Shutdown(Immediate) lets running tasks finish but
// cancels queued ones; their handles resolve with ErrCancelled. Both return a
// ShutdownReport, and calling Shutdown again returns the same report.
//
//	report := pool.Shutdown(tandem.Immediate)
//	log.Printf("drained=%d cancelled=%d", report.Drained, report.Cancelled)
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
package tandem
