package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tahsin716/tandem"
	"github.com/tahsin716/tandem/barrier"
	"github.com/tahsin716/tandem/chanx"
	"github.com/tahsin716/tandem/pipeline"
	"github.com/tahsin716/tandem/syncx"
)

type scenarioFunc func(ctx context.Context, pool *tandem.Pool, logger *slog.Logger) error

type demoScenario struct {
	name string
	run  scenarioFunc
}

var scenarios = []demoScenario{
	{"counter", counterScenario},
	{"backpressure", backpressureScenario},
	{"barrier", barrierScenario},
	{"pipeline", pipelineScenario},
}

func pick(name string) ([]demoScenario, error) {
	if name == "all" {
		return scenarios, nil
	}
	for _, s := range scenarios {
		if s.name == name {
			return []demoScenario{s}, nil
		}
	}
	names := make([]string, len(scenarios))
	for i, s := range scenarios {
		names[i] = s.name
	}
	return nil, fmt.Errorf("unknown scenario %q (want all, %s)", name, strings.Join(names, ", "))
}

// counterScenario increments a shared counter from 1,000 tasks on a
// dedicated 4-worker pool and checks the total after a graceful shutdown.
func counterScenario(ctx context.Context, _ *tandem.Pool, logger *slog.Logger) error {
	pool, err := tandem.New(4, nil, tandem.WithLogger(logger))
	if err != nil {
		return err
	}

	const tasks = 1000
	counter := syncx.NewMutex[int64](0)
	for i := 0; i < tasks; i++ {
		_, err := pool.SubmitContext(ctx, func() {
			g, err := counter.Lock()
			if err != nil {
				panic(err)
			}
			defer g.Release()
			*g.Get()++
		})
		if err != nil {
			pool.Shutdown(tandem.Immediate)
			return err
		}
	}
	report := pool.Shutdown(tandem.Graceful)

	var total int64
	if err := counter.With(func(v *int64) error {
		total = *v
		return nil
	}); err != nil {
		return err
	}
	logger.Info("counter", "total", total, "drained", report.Drained)
	if total != tasks {
		return fmt.Errorf("counter = %d, want %d", total, tasks)
	}
	return nil
}

// backpressureScenario pushes 10 items through a channel of capacity 3 to a
// consumer that needs 100ms per item. The producer has to block once the
// buffer fills, so the run takes at least 700ms.
func backpressureScenario(ctx context.Context, pool *tandem.Pool, logger *slog.Logger) error {
	const (
		items    = 10
		capacity = 3
		perItem  = 100 * time.Millisecond
	)
	tx, rx := chanx.Bounded[int](capacity)
	start := time.Now()

	producer, err := pool.SubmitContext(ctx, func() {
		defer tx.Release()
		for i := 0; i < items; i++ {
			if err := tx.SendContext(ctx, i); err != nil {
				return
			}
		}
	})
	if err != nil {
		return err
	}

	consumed := 0
	for range rx.All() {
		time.Sleep(perItem)
		consumed++
	}
	rx.Release()
	if _, err := producer.WaitContext(ctx); err != nil {
		return err
	}

	elapsed := time.Since(start)
	logger.Info("backpressure", "consumed", consumed, "elapsed", elapsed)
	if consumed != items {
		return fmt.Errorf("consumed %d items, want %d", consumed, items)
	}
	if floor := (items - capacity) * perItem; elapsed < floor {
		return fmt.Errorf("finished in %s, producer never blocked (want >= %s)", elapsed, floor)
	}
	return nil
}

// barrierScenario runs 3 participants through 3 phases and checks that no
// participant ever sees a peer move backwards or run ahead of the barrier.
func barrierScenario(ctx context.Context, pool *tandem.Pool, logger *slog.Logger) error {
	const (
		parties = 3
		phases  = 3
	)
	if pool.NumWorkers() < parties {
		return fmt.Errorf("barrier scenario needs %d workers, pool has %d", parties, pool.NumWorkers())
	}

	b := barrier.NewWithAction(parties, func(gen uint64) {
		logger.Debug("phase complete", "generation", gen)
	})
	var progress [parties]atomic.Uint64

	handles := make([]*tandem.Handle[struct{}], parties)
	for i := range handles {
		h, err := tandem.SubmitFuncContext(ctx, pool, func() (struct{}, error) {
			var seen [parties]uint64
			for phase := uint64(0); phase < phases; phase++ {
				progress[i].Store(phase)
				if _, err := b.WaitContext(ctx); err != nil {
					return struct{}{}, err
				}
				gen := b.Generation()
				for j := range progress {
					p := progress[j].Load()
					if p < seen[j] || p > gen {
						return struct{}{}, fmt.Errorf("participant %d saw peer %d at phase %d (last %d, generation %d)",
							i, j, p, seen[j], gen)
					}
					seen[j] = p
				}
			}
			return struct{}{}, nil
		})
		if err != nil {
			return err
		}
		handles[i] = h
	}

	for _, h := range handles {
		if _, err := h.WaitContext(ctx); err != nil {
			return err
		}
	}
	logger.Info("barrier", "generations", b.Generation())
	if g := b.Generation(); g != phases {
		return fmt.Errorf("barrier generation = %d, want %d", g, phases)
	}
	return nil
}

// pipelineScenario squares a range of numbers on the pool, keeps the even
// results and throttles the output.
func pipelineScenario(ctx context.Context, pool *tandem.Pool, logger *slog.Logger) error {
	p := pipeline.New(ctx, pool)

	nums := pipeline.Source(p, slices.Values([]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}))
	squares := pipeline.Map(p, nums, func(_ context.Context, n int) (int, error) {
		return n * n, nil
	})
	evens := pipeline.Filter(p, squares, func(n int) bool { return n%2 == 0 })
	var out []int
	pipeline.Collect(p, pipeline.Throttle(p, evens, rate.Limit(50), 1), &out)

	if err := p.Wait(); err != nil {
		return err
	}
	logger.Info("pipeline", "results", out)
	if want := []int{4, 16, 36, 64, 100}; !slices.Equal(out, want) {
		return fmt.Errorf("pipeline results = %v, want %v", out, want)
	}
	return nil
}
