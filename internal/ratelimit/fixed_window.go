package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opsdeck/gateway/internal/observability"
	"github.com/opsdeck/gateway/internal/ratelimit/store"
)

// FixedWindowLimiter divides time into fixed windows and counts requests
// per key within each window. The whole counter resets when the window
// elapses. State for a key is created lazily on first use.
type FixedWindowLimiter struct {
	store  store.Store
	limit  int
	window time.Duration
	logger observability.Logger

	// In-memory state used when no distributed store is configured.
	counters sync.Map
}

// windowCounter is the per-key counter for one fixed window.
type windowCounter struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
}

// NewFixedWindowLimiter creates a fixed window limiter. A nil store keeps
// all counters in process memory.
func NewFixedWindowLimiter(s store.Store, limit int, window time.Duration, logger observability.Logger) *FixedWindowLimiter {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}

	return &FixedWindowLimiter{
		store:  s,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

// Allow implements Limiter.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN implements Limiter.
func (l *FixedWindowLimiter) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	if l.store == nil {
		return l.allowLocal(key, n), nil
	}
	return l.allowDistributed(ctx, key, n)
}

// Status implements Limiter. It never consumes quota.
func (l *FixedWindowLimiter) Status(ctx context.Context, key string) (*Result, error) {
	now := time.Now()
	windowStart := l.windowStart(now)

	var count int
	if l.store == nil {
		if v, ok := l.counters.Load(key); ok {
			wc := v.(*windowCounter)
			wc.mu.Lock()
			if wc.windowStart.Equal(windowStart) {
				count = wc.count
			}
			wc.mu.Unlock()
		}
	} else {
		current, err := l.store.Get(ctx, l.windowKey(key, windowStart))
		if err != nil && !store.IsKeyNotFound(err) {
			return nil, err
		}
		count = int(current)
	}

	// Allowed reflects whether a next request would still be admitted.
	return l.result(count < l.limit, count, windowStart, now), nil
}

// Limit implements Limiter.
func (l *FixedWindowLimiter) Limit() Limit {
	return Limit{Requests: l.limit, Window: l.window}
}

// Reset implements Limiter.
func (l *FixedWindowLimiter) Reset(ctx context.Context, key string) error {
	l.counters.Delete(key)

	if l.store != nil {
		windowStart := l.windowStart(time.Now())
		if err := l.store.Delete(ctx, l.windowKey(key, windowStart)); err != nil {
			l.logger.Warn("failed to delete window counter", observability.Error(err))
			return err
		}
	}
	return nil
}

// windowStart returns the start of the window containing t.
func (l *FixedWindowLimiter) windowStart(t time.Time) time.Time {
	windowNanos := l.window.Nanoseconds()
	return time.Unix(0, (t.UnixNano()/windowNanos)*windowNanos)
}

// windowKey builds the distributed-store key for one window of one caller.
func (l *FixedWindowLimiter) windowKey(key string, windowStart time.Time) string {
	return fmt.Sprintf("%s:fw:%d", key, windowStart.UnixNano())
}

// result assembles a Result, clamping remaining to [0, limit].
func (l *FixedWindowLimiter) result(allowed bool, count int, windowStart, now time.Time) *Result {
	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}

	resetAfter := windowStart.Add(l.window).Sub(now)
	if resetAfter < 0 {
		resetAfter = 0
	}

	var retryAfter time.Duration
	if !allowed {
		retryAfter = resetAfter
	}

	return &Result{
		Allowed:    allowed,
		Limit:      l.limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
	}
}

// allowLocal checks and commits against the in-memory counter.
func (l *FixedWindowLimiter) allowLocal(key string, n int) *Result {
	now := time.Now()
	windowStart := l.windowStart(now)

	value, _ := l.counters.LoadOrStore(key, &windowCounter{windowStart: windowStart})
	wc := value.(*windowCounter)

	wc.mu.Lock()
	defer wc.mu.Unlock()

	if !wc.windowStart.Equal(windowStart) {
		wc.count = 0
		wc.windowStart = windowStart
	}

	allowed := wc.count+n <= l.limit
	if allowed {
		wc.count += n
	}

	return l.result(allowed, wc.count, windowStart, now)
}

// allowDistributed checks and commits against the shared store.
func (l *FixedWindowLimiter) allowDistributed(ctx context.Context, key string, n int) (*Result, error) {
	now := time.Now()
	windowStart := l.windowStart(now)
	windowKey := l.windowKey(key, windowStart)

	current, err := l.store.Get(ctx, windowKey)
	if err != nil && !store.IsKeyNotFound(err) {
		return nil, err
	}

	allowed := int(current)+n <= l.limit
	if allowed {
		// Expiry gets a one second buffer against clock skew.
		newCount, err := l.store.IncrementWithExpiry(ctx, windowKey, int64(n), l.window+time.Second)
		if err != nil {
			return nil, err
		}
		current = newCount
	}

	return l.result(allowed, int(current), windowStart, now), nil
}

// Cleanup removes in-memory counters left over from past windows.
func (l *FixedWindowLimiter) Cleanup() {
	windowStart := l.windowStart(time.Now())

	l.counters.Range(func(key, value interface{}) bool {
		wc := value.(*windowCounter)
		wc.mu.Lock()
		if wc.windowStart.Before(windowStart) {
			l.counters.Delete(key)
		}
		wc.mu.Unlock()
		return true
	})
}
