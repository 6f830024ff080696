package ratelimit

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopLimiter(t *testing.T) {
	t.Parallel()

	l := NewNoopLimiter()
	ctx := context.Background()

	res, err := l.Allow(ctx, "any")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Status(ctx, "any")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.NoError(t, l.Reset(ctx, "any"))
}

func TestTokenBucket_FirstCallAllowed(t *testing.T) {
	t.Parallel()

	l := NewTokenBucketLimiter(1, time.Minute, nil)
	defer l.Close()

	res, err := l.Allow(context.Background(), "fresh")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestTokenBucket_ExhaustsBurst(t *testing.T) {
	t.Parallel()

	l := NewTokenBucketLimiter(3, time.Hour, nil)
	defer l.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, res.Allowed, i)
	}

	res, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Positive(t, res.RetryAfter)
}

func TestTokenBucket_StatusBounds(t *testing.T) {
	t.Parallel()

	l := NewTokenBucketLimiter(5, time.Minute, nil)
	defer l.Close()
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := l.Allow(ctx, "k")
		require.NoError(t, err)

		status, err := l.Status(ctx, "k")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, status.Remaining, 0)
		assert.LessOrEqual(t, status.Remaining, status.Limit)
		assert.Positive(t, status.Limit)
	}
}

func TestTokenBucket_Reset(t *testing.T) {
	t.Parallel()

	l := NewTokenBucketLimiter(1, time.Hour, nil)
	defer l.Close()
	ctx := context.Background()

	res, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	require.False(t, res.Allowed)

	require.NoError(t, l.Reset(ctx, "k"))

	res, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestHeaderKeyFunc(t *testing.T) {
	t.Parallel()

	fn := HeaderKeyFunc("X-User-ID")

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-User-ID", "user-7")
	assert.Equal(t, "user-7", fn(r))

	r = httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.1.2.3:9999"
	assert.Equal(t, "10.1.2.3", fn(r))
}

func TestHeaderKeyFunc_DefaultHeader(t *testing.T) {
	t.Parallel()

	fn := HeaderKeyFunc("")
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set(DefaultCallerHeader, "caller-1")
	assert.Equal(t, "caller-1", fn(r))
}

func TestCompositeKeyFunc(t *testing.T) {
	t.Parallel()

	fn := CompositeKeyFunc(HeaderKeyFunc("X-User-ID"), IPKeyFunc)
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.1.2.3:9999"
	r.Header.Set("X-User-ID", "user-7")
	assert.Equal(t, "user-7:10.1.2.3", fn(r))

	empty := CompositeKeyFunc()
	assert.Equal(t, "10.1.2.3", empty(r))
}

func TestNewLimiter_Factory(t *testing.T) {
	t.Parallel()

	l, err := NewLimiter(nil)
	require.NoError(t, err)
	assert.IsType(t, &FixedWindowLimiter{}, l)

	l, err = NewLimiter(&FactoryConfig{Algorithm: AlgorithmTokenBucket, Requests: 10, Window: time.Minute})
	require.NoError(t, err)
	assert.IsType(t, &TokenBucketLimiter{}, l)
	l.(*TokenBucketLimiter).Close()

	_, err = NewLimiter(&FactoryConfig{Algorithm: "sliding"})
	assert.Error(t, err)

	_, err = NewLimiter(&FactoryConfig{StoreType: "etcd"})
	assert.Error(t, err)
}
