package syncx

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Mutual Exclusion Tests
// ============================================================================

func TestMutex_CounterUnderContention(t *testing.T) {
	m := NewMutex(int64(0))

	const goroutines, increments = 8, 500
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < increments; j++ {
				assert.NoError(t, m.With(func(v *int64) error {
					*v++
					return nil
				}))
			}
		}()
	}
	wg.Wait()

	g, err := m.Lock()
	require.NoError(t, err)
	defer g.Release()
	assert.Equal(t, int64(goroutines*increments), *g.Get())
}

func TestMutex_AtMostOneHolder(t *testing.T) {
	m := NewMutex(struct{}{})

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				g, err := m.Lock()
				assert.NoError(t, err)
				n := inside.Add(1)
				for {
					cur := maxInside.Load()
					if n <= cur || maxInside.CompareAndSwap(cur, n) {
						break
					}
				}
				inside.Add(-1)
				g.Release()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
}

func TestMutex_TryLockBusy(t *testing.T) {
	m := NewMutex(0)

	g, err := m.Lock()
	require.NoError(t, err)

	_, err = m.TryLock()
	assert.ErrorIs(t, err, ErrBusy)

	g.Release()

	g2, err := m.TryLock()
	require.NoError(t, err)
	g2.Release()
}

func TestMutex_LockTimeout(t *testing.T) {
	m := NewMutex(0)
	g, err := m.Lock()
	require.NoError(t, err)
	defer g.Release()

	start := time.Now()
	g2, err := m.LockTimeout(30 * time.Millisecond)
	assert.Nil(t, g2)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestMutex_LockContextCancelled(t *testing.T) {
	m := NewMutex(0)
	g, err := m.Lock()
	require.NoError(t, err)
	defer g.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = m.LockContext(ctx)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestMutex_GuardReleaseIsIdempotent(t *testing.T) {
	m := NewMutex(7)
	g, err := m.Lock()
	require.NoError(t, err)

	g.Release()
	g.Release()
	assert.Nil(t, g.Get())

	g2, err := m.TryLock()
	require.NoError(t, err)
	assert.Equal(t, 7, *g2.Get())
	g2.Release()
}

func TestMutex_WaitersServedInOrder(t *testing.T) {
	m := NewMutex([]int{})
	g, err := m.Lock()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			assert.NoError(t, m.With(func(v *[]int) error {
				*v = append(*v, id)
				return nil
			}))
		}(i)
		require.Eventually(t, func() bool {
			m.core.mu.Lock()
			defer m.core.mu.Unlock()
			return m.core.writersWaiting == i+1
		}, time.Second, time.Millisecond)
	}

	g.Release()
	wg.Wait()

	require.NoError(t, m.With(func(v *[]int) error {
		assert.Equal(t, []int{0, 1, 2, 3, 4}, *v)
		return nil
	}))
}

// ============================================================================
// Poisoning Tests
// ============================================================================

func panicHolding(m *Mutex[int]) {
	defer func() { _ = recover() }()

	g, _ := m.Lock()
	defer g.Release()
	*g.Get() = -1
	panic("half-way through an update")
}

func TestMutex_PanicPoisons(t *testing.T) {
	m := NewMutex(10)
	panicHolding(m)

	assert.True(t, m.IsPoisoned())

	g, err := m.Lock()
	require.NotNil(t, g, "poisoned lock still hands out a guard")
	assert.ErrorIs(t, err, ErrPoisoned)
	assert.Equal(t, -1, *g.Get())

	*g.Get() = 10
	m.ClearPoison()
	g.Release()

	g, err = m.Lock()
	require.NoError(t, err)
	assert.Equal(t, 10, *g.Get())
	g.Release()
}

func TestMutex_WithRefusesPoisonedValue(t *testing.T) {
	m := NewMutex(0)
	panicHolding(m)

	called := false
	err := m.With(func(v *int) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrPoisoned)
	assert.False(t, called)

	// With must have released the guard.
	g, err := m.TryLock()
	require.NotNil(t, g)
	assert.ErrorIs(t, err, ErrPoisoned)
	g.Release()
}

func TestMutex_WithPanicPoisonsAndRepanics(t *testing.T) {
	m := NewMutex(0)

	assert.PanicsWithValue(t, "boom", func() {
		_ = m.With(func(v *int) error {
			panic("boom")
		})
	})
	assert.True(t, m.IsPoisoned())
}

func TestMutex_NormalReleaseDoesNotPoison(t *testing.T) {
	m := NewMutex(0)
	func() {
		g, err := m.Lock()
		require.NoError(t, err)
		defer g.Release()
		*g.Get() = 1
	}()
	assert.False(t, m.IsPoisoned())
}
