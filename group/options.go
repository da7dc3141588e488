package group

// ErrorMode defines how the Group handles errors from its tasks.
type ErrorMode int

const (
	// FailFast cancels the group on the first error and returns it.
	FailFast ErrorMode = iota
	// CollectAll waits for every task and returns all errors together.
	CollectAll
	// IgnoreErrors discards task errors. Stats still counts them.
	IgnoreErrors
)

func (m ErrorMode) String() string {
	switch m {
	case FailFast:
		return "fail-fast"
	case CollectAll:
		return "collect-all"
	case IgnoreErrors:
		return "ignore-errors"
	default:
		return "unknown"
	}
}

// Config holds configuration for a Group.
type Config struct {
	errorMode ErrorMode
}

// Option configures a Group.
type Option func(*Config)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		errorMode: CollectAll,
	}
}

// BuildConfig applies opts on top of DefaultConfig.
func BuildConfig(opts []Option) Config {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

// WithErrorMode sets how errors are handled.
func WithErrorMode(mode ErrorMode) Option {
	return func(c *Config) {
		c.errorMode = mode
	}
}
