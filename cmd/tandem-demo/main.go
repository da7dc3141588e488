// Command tandem-demo runs the tandem scenarios against a live pool and logs
// the outcome of each one.
//
// Usage:
//
//	tandem-demo [-scenario all|counter|backpressure|barrier|pipeline] [-metrics-addr :9090]
//
// Pool settings come from TANDEM_* environment variables or a .env file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/tahsin716/tandem"
	"github.com/tahsin716/tandem/internal/config"
	"github.com/tahsin716/tandem/metrics"
)

var (
	scenario    = flag.String("scenario", "all", "scenario to run: all, counter, backpressure, barrier or pipeline")
	metricsAddr = flag.String("metrics-addr", "", "serve Prometheus metrics on this address after the scenarios finish")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logger.Debug(fmt.Sprintf(format, args...))
	})); err != nil {
		logger.Warn("failed to set GOMAXPROCS", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("demo failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	pool, err := tandem.NewPool(append(cfg.Options(), tandem.WithLogger(logger))...)
	if err != nil {
		return err
	}

	reg := prom.NewRegistry()
	if err := reg.Register(metrics.NewCollector(pool)); err != nil {
		pool.Shutdown(tandem.Immediate)
		return err
	}

	selected, err := pick(*scenario)
	if err != nil {
		pool.Shutdown(tandem.Immediate)
		return err
	}

	var failed []error
	for _, s := range selected {
		start := time.Now()
		err := s.run(ctx, pool, logger)
		if err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", s.name, err))
		}
		logger.Info("scenario finished",
			"scenario", s.name,
			"elapsed", time.Since(start),
			"ok", err == nil)
	}

	if *metricsAddr != "" {
		serveMetrics(ctx, reg, logger)
	}

	if err := pool.Close(); err != nil {
		failed = append(failed, err)
	}
	stats := pool.Stats()
	logger.Info("pool stats",
		"submitted", stats.Submitted,
		"completed", stats.Completed,
		"stolen", stats.Stolen,
		"latency_avg", stats.LatencyAvg)

	return errors.Join(failed...)
}

// serveMetrics blocks until ctx is cancelled.
func serveMetrics(ctx context.Context, reg *prom.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              *metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", "error", err)
		}
	}()

	logger.Info("serving metrics", "addr", *metricsAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "error", err)
	}
}
