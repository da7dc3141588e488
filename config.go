package tandem

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/tahsin716/tandem/fault"
)

// OverflowStrategy defines what Submit does when every worker inbox is full.
type OverflowStrategy int

const (
	// Block retries with backoff until an inbox has room or the pool shuts
	// down. This is the default.
	Block OverflowStrategy = iota
	// ReturnError fails the submission with ErrBusy.
	ReturnError
	// CallerRuns executes the task on the submitting goroutine.
	CallerRuns
)

func (s OverflowStrategy) String() string {
	switch s {
	case Block:
		return "block"
	case ReturnError:
		return "return-error"
	case CallerRuns:
		return "caller-runs"
	default:
		return "unknown"
	}
}

// Config contains all configuration options for the worker pool.
type Config struct {
	// NumWorkers is the number of worker goroutines.
	// If 0, defaults to runtime.GOMAXPROCS(0).
	NumWorkers int

	// QueueCapacity is the size of each worker's inbox.
	// Must be a power of 2. Defaults to 1024.
	QueueCapacity int

	// OverflowStrategy determines behavior when all inboxes are full.
	// Defaults to Block.
	OverflowStrategy OverflowStrategy

	// PanicHandler is called after a task panics. If nil, the panic is
	// logged at error level.
	PanicHandler PanicHandler

	// OnWorkerStart is called on the worker goroutine before it takes work.
	OnWorkerStart func(workerID int)

	// OnWorkerStop is called on the worker goroutine as it exits.
	OnWorkerStop func(workerID int)

	// ShutdownTimeout bounds Close. Zero means wait indefinitely.
	// Defaults to 30s.
	ShutdownTimeout time.Duration

	// SpinCount is the number of yields an idle worker makes before parking.
	// Defaults to 30.
	SpinCount int

	// ParkMin and ParkMax bound an idle worker's sleep. Each consecutive
	// timeout doubles the sleep from ParkMin up to ParkMax; any wakeup resets
	// it. Defaults to 50µs and 10ms.
	ParkMin time.Duration
	ParkMax time.Duration

	// Logger receives lifecycle and panic logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Option configures a Pool.
type Option func(*Config)

// WithNumWorkers sets the number of workers.
func WithNumWorkers(n int) Option {
	return func(c *Config) { c.NumWorkers = n }
}

// WithQueueCapacity sets the per-worker inbox capacity (a power of 2).
func WithQueueCapacity(n int) Option {
	return func(c *Config) { c.QueueCapacity = n }
}

// WithOverflowStrategy sets the behavior for full inboxes.
func WithOverflowStrategy(s OverflowStrategy) Option {
	return func(c *Config) { c.OverflowStrategy = s }
}

// WithPanicHandler sets the task panic callback.
func WithPanicHandler(h PanicHandler) Option {
	return func(c *Config) { c.PanicHandler = h }
}

// WithShutdownTimeout bounds Close.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Config) { c.ShutdownTimeout = d }
}

// WithLogger sets the pool logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithSpinCount sets how long idle workers spin before parking.
func WithSpinCount(n int) Option {
	return func(c *Config) { c.SpinCount = n }
}

// WithParkTime sets the idle backoff range.
func WithParkTime(lo, hi time.Duration) Option {
	return func(c *Config) {
		c.ParkMin = lo
		c.ParkMax = hi
	}
}

// WithWorkerHooks sets both lifecycle hooks.
func WithWorkerHooks(onStart, onStop func(workerID int)) Option {
	return func(c *Config) {
		c.OnWorkerStart = onStart
		c.OnWorkerStop = onStop
	}
}

// WithOnWorkerStart sets the worker start hook.
func WithOnWorkerStart(fn func(workerID int)) Option {
	return func(c *Config) { c.OnWorkerStart = fn }
}

// WithOnWorkerStop sets the worker stop hook.
func WithOnWorkerStop(fn func(workerID int)) Option {
	return func(c *Config) { c.OnWorkerStop = fn }
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		NumWorkers:       0, // resolved to GOMAXPROCS
		QueueCapacity:    1024,
		OverflowStrategy: Block,
		ShutdownTimeout:  30 * time.Second,
		SpinCount:        30,
		ParkMin:          50 * time.Microsecond,
		ParkMax:          10 * time.Millisecond,
	}
}

// Validate checks the configuration and returns an error matching
// ErrInvalidConfig if it is unusable.
func (c *Config) Validate() error {
	const op = "tandem.Config"
	switch {
	case c.NumWorkers < 0:
		return fault.Newf(fault.KindInvalidConfig, op, "NumWorkers must be >= 0")
	case !isPowerOfTwo(c.QueueCapacity):
		return fault.Newf(fault.KindInvalidConfig, op, "QueueCapacity must be a power of 2")
	case c.OverflowStrategy < Block || c.OverflowStrategy > CallerRuns:
		return fault.Newf(fault.KindInvalidConfig, op, "unknown OverflowStrategy %d", c.OverflowStrategy)
	case c.ShutdownTimeout < 0:
		return fault.Newf(fault.KindInvalidConfig, op, "ShutdownTimeout must be >= 0")
	case c.SpinCount < 0:
		return fault.Newf(fault.KindInvalidConfig, op, "SpinCount must be >= 0")
	case c.ParkMin <= 0 || c.ParkMax < c.ParkMin:
		return fault.Newf(fault.KindInvalidConfig, op, "park time requires 0 < ParkMin <= ParkMax")
	}
	return nil
}

// resolve fills in defaults that depend on the runtime.
func (c *Config) resolve() {
	if c.NumWorkers == 0 {
		c.NumWorkers = runtime.GOMAXPROCS(0)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

func isPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}
