// Package config loads demo settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/tahsin716/tandem"
)

// Environment variables read by Load.
const (
	EnvWorkers         = "TANDEM_WORKERS"
	EnvQueueCapacity   = "TANDEM_QUEUE_CAPACITY"
	EnvOverflow        = "TANDEM_OVERFLOW"
	EnvShutdownTimeout = "TANDEM_SHUTDOWN_TIMEOUT"
	EnvLogLevel        = "TANDEM_LOG_LEVEL"
)

type Config struct {
	Workers         int // 0 means GOMAXPROCS
	QueueCapacity   int
	Overflow        tandem.OverflowStrategy
	ShutdownTimeout time.Duration
	LogLevel        slog.Level
}

// Load reads files (".env" when none are given) into the environment without
// overriding variables that are already set, then parses the TANDEM_*
// variables. Missing files are not an error.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load env file: %w", err)
	}

	defaults := tandem.DefaultConfig()
	cfg := &Config{
		QueueCapacity:   defaults.QueueCapacity,
		Overflow:        defaults.OverflowStrategy,
		ShutdownTimeout: defaults.ShutdownTimeout,
		LogLevel:        slog.LevelInfo,
	}

	var err error
	if cfg.Workers, err = getInt(EnvWorkers, cfg.Workers); err != nil {
		return nil, err
	}
	if cfg.QueueCapacity, err = getInt(EnvQueueCapacity, cfg.QueueCapacity); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration(EnvShutdownTimeout, cfg.ShutdownTimeout); err != nil {
		return nil, err
	}
	if v := os.Getenv(EnvOverflow); v != "" {
		if cfg.Overflow, err = parseOverflow(v); err != nil {
			return nil, err
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("config: %s=%q: %w", EnvLogLevel, v, err)
		}
	}
	return cfg, nil
}

// Options converts the configuration into pool options.
func (c *Config) Options() []tandem.Option {
	return []tandem.Option{
		tandem.WithNumWorkers(c.Workers),
		tandem.WithQueueCapacity(c.QueueCapacity),
		tandem.WithOverflowStrategy(c.Overflow),
		tandem.WithShutdownTimeout(c.ShutdownTimeout),
	}
}

func getInt(k string, fallback int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not an integer: %w", k, v, err)
	}
	return n, nil
}

func getDuration(k string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not a valid duration: %w", k, v, err)
	}
	return d, nil
}

func parseOverflow(v string) (tandem.OverflowStrategy, error) {
	switch strings.ToLower(v) {
	case "block":
		return tandem.Block, nil
	case "error", "return-error":
		return tandem.ReturnError, nil
	case "caller-runs", "callerruns":
		return tandem.CallerRuns, nil
	}
	return 0, fmt.Errorf("config: %s=%q: want block, error or caller-runs", EnvOverflow, v)
}
