package axql

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axql/axql/driver"
)

func newTestPool(t *testing.T, minSize, maxSize int) *Pool {
	t.Helper()
	pool := NewPool(PoolConfig{
		Dialect: "sqlite",
		Options: driver.Options{DataSource: ":memory:"},
		MinSize: minSize,
		MaxSize: maxSize,
	})
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func TestPool_AcquireReleaseRoundTrip(t *testing.T) {
	pool := newTestPool(t, 0, 2)
	ctx := context.Background()

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pool.Stats().Size)
	assert.Equal(t, 1, pool.Stats().InUse)

	pool.Release(conn)
	assert.Equal(t, 1, pool.Stats().Idle)
}

func TestPool_NeverExceedsMaxSize(t *testing.T) {
	pool := newTestPool(t, 0, 2)
	ctx := context.Background()

	c1, err := pool.Acquire(ctx)
	require.NoError(t, err)
	c2, err := pool.Acquire(ctx)
	require.NoError(t, err)

	acquireCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(acquireCtx)
	assert.Error(t, err)

	pool.Release(c1)
	pool.Release(c2)
	assert.LessOrEqual(t, pool.Stats().Size, 2)
}

// TestPool_AcquireIsFIFO saturates a single-slot pool with one holder,
// then queues waiters in order; released in arrival order, they should
// also acquire the freed slot in that same order, per spec section
// 4.F's fairness requirement.
func TestPool_AcquireIsFIFO(t *testing.T) {
	pool := newTestPool(t, 0, 1)
	ctx := context.Background()

	holder, err := pool.Acquire(ctx)
	require.NoError(t, err)

	const waiters = 5
	order := make(chan int, waiters)
	var wg sync.WaitGroup
	var started sync.WaitGroup
	started.Add(waiters)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			time.Sleep(time.Duration(i) * 5 * time.Millisecond) // stagger arrival
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return
			}
			order <- i
			pool.Release(conn)
		}(i)
	}

	// Ensure every waiter has called Acquire (and so entered the
	// semaphore's FIFO queue) before releasing the holder.
	time.Sleep(waiters * 5 * time.Millisecond)
	pool.Release(holder)

	wg.Wait()
	close(order)

	var got []int
	for i := range order {
		got = append(got, i)
	}
	require.Len(t, got, waiters)
	for i := 0; i < waiters; i++ {
		assert.Equal(t, i, got[i], "waiter %d acquired out of FIFO order", i)
	}
}

func TestPool_BrokenConnectionIsNotRecycled(t *testing.T) {
	pool := newTestPool(t, 0, 1)
	ctx := context.Background()

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	_ = conn.Close() // force classifyAndMark to see a closed session on next op
	_, _ = conn.Execute(ctx, "SELECT 1")

	pool.Release(conn)
	assert.Equal(t, 0, pool.Stats().Idle)

	conn2, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.NotSame(t, conn, conn2)
	pool.Release(conn2)
}

func TestPool_CloseRejectsFurtherAcquire(t *testing.T) {
	pool := NewPool(PoolConfig{
		Dialect: "sqlite",
		Options: driver.Options{DataSource: ":memory:"},
		MaxSize: 2,
	})
	require.NoError(t, pool.Close())

	_, err := pool.Acquire(context.Background())
	assert.ErrorIs(t, err, driver.ErrPoolClosed)
}

func TestPool_HooksReceiveCacheAndRollbackEvents(t *testing.T) {
	hooks := &countingHooks{}
	pool := NewPool(PoolConfig{
		Dialect: "sqlite",
		Options: driver.Options{DataSource: ":memory:"},
		MaxSize: 1,
		Hooks:   hooks,
	})
	defer pool.Close()

	ctx := context.Background()
	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	_, err = conn.Execute(ctx, "CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)
	_, err = conn.Execute(ctx, "INSERT INTO t (id) VALUES (?)", 1)
	require.NoError(t, err)
	_, err = conn.Execute(ctx, "INSERT INTO t (id) VALUES (?)", 2)
	require.NoError(t, err)

	tx, err := conn.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))
	pool.Release(conn)

	assert.GreaterOrEqual(t, hooks.hits.Load(), int64(1))
	assert.Equal(t, int64(1), hooks.rollbacks.Load())
}

func TestPool_SetHooksAppliesToSubsequentDials(t *testing.T) {
	pool := newTestPool(t, 0, 1)
	hooks := &countingHooks{}
	pool.SetHooks(hooks)

	ctx := context.Background()
	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	_, err = conn.Execute(ctx, "CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)
	pool.Release(conn)

	assert.GreaterOrEqual(t, hooks.misses.Load(), int64(1))
}

func TestPool_MaxLifetimeRetiresConnectionOnRelease(t *testing.T) {
	pool := NewPool(PoolConfig{
		Dialect:     "sqlite",
		Options:     driver.Options{DataSource: ":memory:"},
		MaxSize:     1,
		MaxLifetime: 10 * time.Millisecond,
	})
	t.Cleanup(func() { _ = pool.Close() })
	ctx := context.Background()

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	pool.Release(conn)

	assert.Equal(t, 0, pool.Stats().Idle)
	assert.Equal(t, 0, pool.Stats().Size)
}

func TestPool_TestOnAcquireDiscardsDeadIdleConnection(t *testing.T) {
	pool := NewPool(PoolConfig{
		Dialect:       "sqlite",
		Options:       driver.Options{DataSource: ":memory:"},
		MaxSize:       1,
		TestOnAcquire: true,
	})
	t.Cleanup(func() { _ = pool.Close() })
	ctx := context.Background()

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, conn.session.Close()) // simulate the backend dropping the connection silently
	pool.Release(conn)
	assert.Equal(t, 1, pool.Stats().Idle, "Release should still recycle: Broken() hasn't observed the drop yet")

	conn2, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.NotSame(t, conn, conn2, "test_on_acquire ping should have discarded the dead connection and dialed fresh")
	pool.Release(conn2)
}

func TestPool_UnfairAcquireReleaseRoundTrip(t *testing.T) {
	pool := NewPool(PoolConfig{
		Dialect: "sqlite",
		Options: driver.Options{DataSource: ":memory:"},
		MaxSize: 2,
		Unfair:  true,
	})
	t.Cleanup(func() { _ = pool.Close() })
	ctx := context.Background()

	c1, err := pool.Acquire(ctx)
	require.NoError(t, err)
	c2, err := pool.Acquire(ctx)
	require.NoError(t, err)

	acquireCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(acquireCtx)
	assert.Error(t, err, "unfair mode still must not exceed MaxSize")

	pool.Release(c1)
	pool.Release(c2)
	assert.LessOrEqual(t, pool.Stats().Size, 2)
}

type countingHooks struct {
	hits      atomic.Int64
	misses    atomic.Int64
	rollbacks atomic.Int64
}

func (h *countingHooks) CacheHit()   { h.hits.Add(1) }
func (h *countingHooks) CacheMiss()  { h.misses.Add(1) }
func (h *countingHooks) TxRollback() { h.rollbacks.Add(1) }
