package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/gateway/internal/ratelimit/store"
)

func TestFixedWindow_FirstCallAllowed(t *testing.T) {
	t.Parallel()

	l := NewFixedWindowLimiter(nil, 1, time.Minute, nil)

	res, err := l.Allow(context.Background(), "fresh-key")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Limit)
	assert.Zero(t, res.Remaining)
}

func TestFixedWindow_ExhaustsAndRejects(t *testing.T) {
	t.Parallel()

	l := NewFixedWindowLimiter(nil, 3, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, res.Allowed, i)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Zero(t, res.Remaining)
	assert.Positive(t, res.RetryAfter)
}

func TestFixedWindow_RejectionLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	l := NewFixedWindowLimiter(nil, 1, time.Minute, nil)
	ctx := context.Background()

	res, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	for i := 0; i < 5; i++ {
		res, err = l.Allow(ctx, "k")
		require.NoError(t, err)
		assert.False(t, res.Allowed)
	}

	// Status still reports a consistent view: zero remaining, limit 1.
	status, err := l.Status(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, status.Remaining)
	assert.Equal(t, 1, status.Limit)
}

func TestFixedWindow_WindowReset(t *testing.T) {
	t.Parallel()

	l := NewFixedWindowLimiter(nil, 1, 50*time.Millisecond, nil)
	ctx := context.Background()

	res, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	require.False(t, res.Allowed)

	time.Sleep(60 * time.Millisecond)

	res, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestFixedWindow_StatusDoesNotConsume(t *testing.T) {
	t.Parallel()

	l := NewFixedWindowLimiter(nil, 5, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		status, err := l.Status(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, 5, status.Remaining)
		assert.Equal(t, 5, status.Limit)
	}

	_, err := l.Allow(ctx, "k")
	require.NoError(t, err)

	status, err := l.Status(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 4, status.Remaining)
}

func TestFixedWindow_StatusBounds(t *testing.T) {
	t.Parallel()

	l := NewFixedWindowLimiter(nil, 2, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := l.Allow(ctx, "k")
		require.NoError(t, err)

		status, err := l.Status(ctx, "k")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, status.Remaining, 0)
		assert.LessOrEqual(t, status.Remaining, status.Limit)
		assert.Positive(t, status.Limit)
	}
}

func TestFixedWindow_IndependentKeys(t *testing.T) {
	t.Parallel()

	l := NewFixedWindowLimiter(nil, 1, time.Minute, nil)
	ctx := context.Background()

	res, err := l.Allow(ctx, "a")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = l.Allow(ctx, "a")
	require.NoError(t, err)
	require.False(t, res.Allowed)

	// Key "b" has its own window.
	res, err = l.Allow(ctx, "b")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestFixedWindow_Reset(t *testing.T) {
	t.Parallel()

	l := NewFixedWindowLimiter(nil, 1, time.Minute, nil)
	ctx := context.Background()

	_, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, l.Reset(ctx, "k"))

	res, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestFixedWindow_ConcurrentNeverOveradmits(t *testing.T) {
	t.Parallel()

	const limit = 10
	l := NewFixedWindowLimiter(nil, limit, time.Minute, nil)
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Allow(ctx, "shared")
			if err == nil && res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), allowed.Load())
}

func TestFixedWindow_DistributedStore(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	redisStore, err := store.NewRedisStore(store.RedisConfig{Address: mr.Addr()}, nil)
	require.NoError(t, err)
	defer redisStore.Close()

	l := NewFixedWindowLimiter(redisStore, 2, time.Minute, nil)
	ctx := context.Background()

	res, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)

	res, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Zero(t, res.Remaining)

	res, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	status, err := l.Status(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, status.Remaining)
}

func TestFixedWindow_Cleanup(t *testing.T) {
	t.Parallel()

	l := NewFixedWindowLimiter(nil, 1, 20*time.Millisecond, nil)
	_, err := l.Allow(context.Background(), "stale")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	l.Cleanup()

	_, ok := l.counters.Load("stale")
	assert.False(t, ok)
}
