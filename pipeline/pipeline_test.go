package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/tahsin716/tandem"
	"github.com/tahsin716/tandem/chanx"
	"github.com/tahsin716/tandem/fault"
)

func newPool(t *testing.T, workers int) *tandem.Pool {
	t.Helper()
	pool, err := tandem.NewPool(
		tandem.WithNumWorkers(workers),
		tandem.WithLogger(slog.New(slog.DiscardHandler)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Shutdown(tandem.Immediate) })
	return pool
}

func sequence(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}

// ============================================================================
// Stage Tests
// ============================================================================

func TestPipeline_MapPreservesOrder(t *testing.T) {
	pool := newPool(t, 4)
	p := New(context.Background(), pool, WithWindow(8), WithBuffer(4))

	src := Source(p, slices.Values(sequence(200)))
	squares := Map(p, src, func(_ context.Context, n int) (int, error) {
		// Later items finish first to shake the ordering.
		time.Sleep(time.Duration(200-n) * time.Microsecond)
		return n * n, nil
	})
	var got []int
	Collect(p, squares, &got)

	require.NoError(t, p.Wait())
	require.Len(t, got, 200)
	for i, v := range got {
		assert.Equal(t, i*i, v)
	}
}

func TestPipeline_Filter(t *testing.T) {
	pool := newPool(t, 2)
	p := New(context.Background(), pool)

	evens := Filter(p, Source(p, slices.Values(sequence(20))), func(n int) bool {
		return n%2 == 0
	})
	var got []int
	Collect(p, evens, &got)

	require.NoError(t, p.Wait())
	assert.Equal(t, []int{0, 2, 4, 6, 8, 10, 12, 14, 16, 18}, got)
}

func TestPipeline_MapErrorStopsPipeline(t *testing.T) {
	pool := newPool(t, 4)
	p := New(context.Background(), pool)
	boom := errors.New("boom")

	out := Map(p, Source(p, slices.Values(sequence(1000))), func(_ context.Context, n int) (int, error) {
		if n == 10 {
			return 0, boom
		}
		return n, nil
	})
	var got []int
	Collect(p, out, &got)

	err := p.Wait()
	require.ErrorIs(t, err, boom)
	assert.Less(t, len(got), 1000)
	assert.Error(t, p.Context().Err())
}

func TestPipeline_MapPanicSurfaces(t *testing.T) {
	pool := newPool(t, 2)
	p := New(context.Background(), pool)

	out := Map(p, Source(p, slices.Values([]int{1})), func(context.Context, int) (int, error) {
		panic("bad item")
	})
	Sink(p, out, func(context.Context, int) error { return nil })

	assert.ErrorIs(t, p.Wait(), tandem.ErrTaskPanicked)
}

func TestPipeline_SinkErrorCancelsUpstream(t *testing.T) {
	pool := newPool(t, 2)
	p := New(context.Background(), pool, WithBuffer(1))
	stop := errors.New("stop")

	infinite := func(yield func(int) bool) {
		for i := 0; ; i++ {
			if !yield(i) {
				return
			}
		}
	}
	var seen atomic.Int32
	Sink(p, Source(p, infinite), func(_ context.Context, n int) error {
		if seen.Add(1) == 5 {
			return stop
		}
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- p.Wait() }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, stop)
	case <-time.After(2 * time.Second):
		t.Fatal("source was not cancelled")
	}
}

func TestPipeline_ParentContextCancelled(t *testing.T) {
	pool := newPool(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	p := New(ctx, pool)

	tx, rx := chanx.Bounded[int](1)
	defer tx.Release()
	Sink(p, rx, func(context.Context, int) error { return nil })

	cancel()
	err := p.Wait()
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, chanx.ErrCancelled)
}

func TestPipeline_Throttle(t *testing.T) {
	pool := newPool(t, 2)
	p := New(context.Background(), pool)

	// 5 items at 100/s with a burst of 1 need at least 40ms.
	start := time.Now()
	var got []int
	Collect(p, Throttle(p, Source(p, slices.Values(sequence(5))), rate.Limit(100), 1), &got)

	require.NoError(t, p.Wait())
	assert.Equal(t, sequence(5), got)
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestPipeline_Go(t *testing.T) {
	pool := newPool(t, 1)
	p := New(context.Background(), pool)
	custom := errors.New("custom")

	p.Go(func(ctx context.Context) error { return custom })
	assert.ErrorIs(t, p.Wait(), custom)
}

// ============================================================================
// Fan-out / Fan-in Tests
// ============================================================================

func TestPipeline_FanOutMerge(t *testing.T) {
	pool := newPool(t, 4)
	p := New(context.Background(), pool)

	branches := FanOut(p, Source(p, slices.Values(sequence(100))), 3)
	require.Len(t, branches, 3)

	doubled := make([]*chanx.Receiver[int], len(branches))
	for i, b := range branches {
		doubled[i] = Map(p, b, func(_ context.Context, n int) (int, error) {
			return n * 2, nil
		})
	}
	var got []int
	Collect(p, Merge(p, doubled...), &got)

	require.NoError(t, p.Wait())
	sort.Ints(got)
	want := make([]int, 100)
	for i := range want {
		want[i] = i * 2
	}
	assert.Equal(t, want, got)
}

func TestPipeline_FanOutSkipsReleasedOutput(t *testing.T) {
	pool := newPool(t, 2)
	p := New(context.Background(), pool)

	tx, rx := chanx.Bounded[int](16)
	outs := FanOut(p, rx, 2)
	outs[0].Release()
	for _, n := range sequence(10) {
		require.NoError(t, tx.Send(n))
	}
	tx.Release()

	var got []int
	Collect(p, outs[1], &got)

	require.NoError(t, p.Wait())
	assert.Equal(t, sequence(10), got)
}

func TestPipeline_MergeNoInputs(t *testing.T) {
	pool := newPool(t, 1)
	p := New(context.Background(), pool)

	out := Merge[int](p)
	assert.True(t, out.IsClosed())
	require.NoError(t, p.Wait())
}

// ============================================================================
// MapSlice Tests
// ============================================================================

func TestMapSlice_Order(t *testing.T) {
	pool := newPool(t, 4)

	got, err := MapSlice(context.Background(), pool, sequence(50), func(_ context.Context, n int) (string, error) {
		time.Sleep(time.Duration(50-n) * 10 * time.Microsecond)
		return string(rune('a' + n%26)), nil
	})
	require.NoError(t, err)
	require.Len(t, got, 50)
	for i, s := range got {
		assert.Equal(t, string(rune('a'+i%26)), s)
	}
}

func TestMapSlice_FirstErrorCancelsRest(t *testing.T) {
	pool := newPool(t, 2)
	boom := errors.New("boom")

	var cancelled atomic.Int32
	_, err := MapSlice(context.Background(), pool, sequence(100), func(ctx context.Context, n int) (int, error) {
		if n == 0 {
			return 0, boom
		}
		select {
		case <-ctx.Done():
			cancelled.Add(1)
			return 0, ctx.Err()
		case <-time.After(time.Millisecond):
			return n, nil
		}
	})
	assert.ErrorIs(t, err, boom)
	assert.Positive(t, cancelled.Load())
}

func TestMapSlice_LaterFailureCancelsEarlierItems(t *testing.T) {
	pool := newPool(t, 2)
	boom := errors.New("boom")

	start := time.Now()
	_, err := MapSlice(context.Background(), pool, sequence(8), func(ctx context.Context, n int) (int, error) {
		switch n {
		case 0:
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(5 * time.Second):
				return 0, nil
			}
		case 5:
			return 0, boom
		default:
			return n, nil
		}
	})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestMapSlice_PanicReportedAsFirstFailure(t *testing.T) {
	pool := newPool(t, 2)

	_, err := MapSlice(context.Background(), pool, sequence(4), func(ctx context.Context, n int) (int, error) {
		if n == 2 {
			panic("bad item")
		}
		if n == 0 {
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return n, nil
	})
	assert.ErrorIs(t, err, fault.ErrTaskPanicked)
}

func TestMapSlice_Empty(t *testing.T) {
	pool := newPool(t, 1)

	got, err := MapSlice(context.Background(), pool, nil, func(_ context.Context, n int) (int, error) {
		return n, nil
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}
