package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tahsin716/tandem"
	"github.com/tahsin716/tandem/fault"
)

func fib(ctx context.Context, pool *tandem.Pool, n int) (int, error) {
	if n < 2 {
		return n, nil
	}
	var x, y int
	err := Join(ctx, pool,
		func(ctx context.Context) (err error) {
			x, err = fib(ctx, pool, n-1)
			return err
		},
		func(ctx context.Context) (err error) {
			y, err = fib(ctx, pool, n-2)
			return err
		},
	)
	return x + y, err
}

// ============================================================================
// Join Tests
// ============================================================================

func TestJoin_RunsBoth(t *testing.T) {
	pool := newPool(t, 2)

	var a, b atomic.Bool
	err := Join(context.Background(), pool,
		func(context.Context) error { a.Store(true); return nil },
		func(context.Context) error { b.Store(true); return nil },
	)
	require.NoError(t, err)
	assert.True(t, a.Load())
	assert.True(t, b.Load())
}

func TestJoin_RecursiveOnSingleWorker(t *testing.T) {
	pool := newPool(t, 1)

	h, err := tandem.SubmitFunc(pool, func() (int, error) {
		return fib(context.Background(), pool, 18)
	})
	require.NoError(t, err)

	v, err := h.WaitTimeout(10 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2584, v)
}

func TestJoin_RecursiveOnSaturatedQueue(t *testing.T) {
	pool, err := tandem.NewPool(
		tandem.WithNumWorkers(2),
		tandem.WithQueueCapacity(2),
		tandem.WithOverflowStrategy(tandem.ReturnError),
		tandem.WithLogger(slog.New(slog.DiscardHandler)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Shutdown(tandem.Immediate) })

	v, err := fib(context.Background(), pool, 16)
	require.NoError(t, err)
	assert.Equal(t, 987, v)
}

func TestJoin_FailureSkipsUnstartedWork(t *testing.T) {
	pool := newPool(t, 1)
	boom := errors.New("boom")

	// Keep the only worker busy so a stays queued.
	release := make(chan struct{})
	busy := make(chan struct{})
	_, err := pool.Submit(func() {
		close(busy)
		<-release
	})
	require.NoError(t, err)
	defer close(release)
	<-busy

	var ran atomic.Bool
	err = Join(context.Background(), pool,
		func(context.Context) error { ran.Store(true); return nil },
		func(context.Context) error { return boom },
	)
	assert.ErrorIs(t, err, boom)
	assert.False(t, ran.Load())
}

func TestJoin_FailureCancelsRunningWork(t *testing.T) {
	pool := newPool(t, 2)
	boom := errors.New("boom")

	started := make(chan struct{})
	err := Join(context.Background(), pool,
		func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
		func(context.Context) error {
			select {
			case <-started:
			case <-time.After(time.Second):
			}
			return boom
		},
	)
	assert.ErrorIs(t, err, boom)
}

func TestJoin_PanicBecomesError(t *testing.T) {
	pool := newPool(t, 1)

	err := Join(context.Background(), pool,
		func(context.Context) error { return nil },
		func(context.Context) error { panic("split failed") },
	)
	require.ErrorIs(t, err, fault.ErrTaskPanicked)

	var pe *fault.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "split failed", pe.Value)
}

func TestJoin_ClosedPoolRunsInline(t *testing.T) {
	pool := newPool(t, 1)
	pool.Shutdown(tandem.Graceful)

	var n atomic.Int32
	err := Join(context.Background(), pool,
		func(context.Context) error { n.Add(1); return nil },
		func(context.Context) error { n.Add(1); return nil },
	)
	require.NoError(t, err)
	assert.Equal(t, int32(2), n.Load())
}

// ============================================================================
// Fold / Reduce Tests
// ============================================================================

func TestReduce_Sum(t *testing.T) {
	pool := newPool(t, 4)

	items := make([]int, 10000)
	for i := range items {
		items[i] = i + 1
	}
	sum, err := Reduce(context.Background(), pool, items, 64, 0, func(a, b int) int { return a + b })
	require.NoError(t, err)
	assert.Equal(t, 10000*10001/2, sum)
}

func TestReduce_Empty(t *testing.T) {
	pool := newPool(t, 1)

	v, err := Reduce(context.Background(), pool, nil, 8, 1, func(a, b int) int { return a * b })
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestReduce_NonCommutativeKeepsOrder(t *testing.T) {
	pool := newPool(t, 4)

	words := strings.Split("the quick brown fox jumps over the lazy dog", " ")
	got, err := Reduce(context.Background(), pool, words, 1, "", func(a, b string) string { return a + b })
	require.NoError(t, err)
	assert.Equal(t, strings.Join(words, ""), got)
}

func TestFold_Histogram(t *testing.T) {
	pool := newPool(t, 4)

	items := make([]int, 5000)
	for i := range items {
		items[i] = i % 10
	}
	hist, err := Fold(context.Background(), pool, items, 100,
		func() map[int]int { return map[int]int{} },
		func(m map[int]int, v int) map[int]int { m[v]++; return m },
		func(a, b map[int]int) map[int]int {
			for k, v := range b {
				a[k] += v
			}
			return a
		},
	)
	require.NoError(t, err)

	want := map[int]int{}
	for k := range 10 {
		want[k] = 500
	}
	assert.True(t, maps.Equal(want, hist), "got %v", hist)
}

func TestFold_CancelledContext(t *testing.T) {
	pool := newPool(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Reduce(ctx, pool, sequence(1000), 10, 0, func(a, b int) int { return a + b })
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFold_GrainBelowOne(t *testing.T) {
	pool := newPool(t, 2)

	sum, err := Reduce(context.Background(), pool, sequence(100), 0, 0, func(a, b int) int { return a + b })
	require.NoError(t, err)
	assert.Equal(t, 4950, sum)
}
