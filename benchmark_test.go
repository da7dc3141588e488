package tandem

import (
	"math/rand/v2"
	"runtime"
	"sync"
	"testing"
	"time"
)

func benchPool(b *testing.B, opts ...Option) *Pool {
	b.Helper()
	pool, err := NewPool(append([]Option{WithLogger(quiet)}, opts...)...)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { pool.Shutdown(Graceful) })
	return pool
}

// ============================================================================
// Throughput Under Different Task Durations
// ============================================================================

func BenchmarkThroughput_Pool_Instant(b *testing.B) {
	pool := benchPool(b, WithQueueCapacity(1024))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = pool.Submit(func() {})
	}
	pool.Wait()

	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "tasks/sec")
}

func BenchmarkThroughput_Goroutines_Instant(b *testing.B) {
	var wg sync.WaitGroup

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wg.Add(1)
		go wg.Done()
	}
	wg.Wait()

	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "tasks/sec")
}

func BenchmarkThroughput_Pool_10us(b *testing.B) {
	pool := benchPool(b,
		WithNumWorkers(runtime.GOMAXPROCS(0)*10),
		WithQueueCapacity(512),
	)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = pool.Submit(func() {
			time.Sleep(10 * time.Microsecond)
		})
	}
	pool.Wait()

	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "tasks/sec")
}

func BenchmarkThroughput_Goroutines_10us(b *testing.B) {
	var wg sync.WaitGroup

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wg.Add(1)
		go func() {
			time.Sleep(10 * time.Microsecond)
			wg.Done()
		}()
	}
	wg.Wait()

	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "tasks/sec")
}

// ============================================================================
// Results Through Handles
// ============================================================================

func BenchmarkSubmitFunc_WaitEach(b *testing.B) {
	pool := benchPool(b)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h, err := SubmitFunc(pool, func() (int, error) { return i, nil })
		if err != nil {
			b.Fatal(err)
		}
		if _, err := h.Wait(); err != nil {
			b.Fatal(err)
		}
	}
}

// ============================================================================
// Mixed and Bursty Load
// ============================================================================

func Benchmark_Pool_MixedLoad(b *testing.B) {
	slowTask := func() { time.Sleep(100 * time.Microsecond) }
	fastTask := func() {}

	pool := benchPool(b,
		WithNumWorkers(runtime.GOMAXPROCS(0)*10),
		WithQueueCapacity(512),
	)

	b.ResetTimer()
	b.SetParallelism(100)
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			// 10% slow, 90% fast
			if rand.IntN(10) == 0 {
				_, _ = pool.Submit(slowTask)
			} else {
				_, _ = pool.Submit(fastTask)
			}
			if rand.IntN(100) == 0 {
				time.Sleep(50 * time.Microsecond)
			}
		}
	})
	pool.Wait()
}

func BenchmarkBurst_Pool_SpikeyLoad(b *testing.B) {
	pool := benchPool(b,
		WithNumWorkers(runtime.GOMAXPROCS(0)*10),
		WithQueueCapacity(512),
	)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := 0; j < 100; j++ {
			_, _ = pool.Submit(func() {
				time.Sleep(10 * time.Microsecond)
			})
		}
		pool.Wait()
		time.Sleep(100 * time.Microsecond)
	}
}

// ============================================================================
// Contention Benchmarks
// ============================================================================

func BenchmarkContention_Pool_HighSubmitters(b *testing.B) {
	pool := benchPool(b, WithNumWorkers(runtime.GOMAXPROCS(0)*10))

	b.ResetTimer()
	b.SetParallelism(100)
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = pool.Submit(func() {
				time.Sleep(time.Microsecond)
			})
		}
	})
	pool.Wait()
}

func BenchmarkContention_Pool_CallerRuns(b *testing.B) {
	pool := benchPool(b,
		WithNumWorkers(2),
		WithQueueCapacity(16),
		WithOverflowStrategy(CallerRuns),
	)

	b.ResetTimer()
	b.SetParallelism(16)
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = pool.Submit(func() {
				sum := 0
				for i := 0; i < 1000; i++ {
					sum += i
				}
				_ = sum
			})
		}
	})
	pool.Wait()
	b.ReportMetric(float64(pool.Stats().CallerRuns)/float64(b.N), "caller-runs/op")
}
