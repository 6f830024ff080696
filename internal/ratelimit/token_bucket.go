package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/opsdeck/gateway/internal/observability"
)

// DefaultKeyTTL is how long an idle caller's bucket is kept before the
// cleanup loop drops it.
const DefaultKeyTTL = 10 * time.Minute

// bucketEntry holds one caller's bucket and its last access time.
type bucketEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// TokenBucketLimiter admits requests from a continuously refilled bucket
// per key, built on golang.org/x/time/rate. Unlike the fixed window it has
// no hard reset boundary, so bursts drain smoothly.
type TokenBucketLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucketEntry
	limit   int
	window  time.Duration
	refill  rate.Limit
	logger  observability.Logger
	keyTTL  time.Duration
	stopCh  chan struct{}
	stopped bool
}

// NewTokenBucketLimiter creates a token bucket limiter admitting limit
// requests per window per key, with a burst of limit.
func NewTokenBucketLimiter(limit int, window time.Duration, logger observability.Logger) *TokenBucketLimiter {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}

	l := &TokenBucketLimiter{
		buckets: make(map[string]*bucketEntry),
		limit:   limit,
		window:  window,
		refill:  rate.Limit(float64(limit) / window.Seconds()),
		logger:  logger,
		keyTTL:  DefaultKeyTTL,
		stopCh:  make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// cleanupLoop drops buckets idle longer than the key TTL.
func (l *TokenBucketLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for key, e := range l.buckets {
				if now.Sub(e.lastAccess) > l.keyTTL {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// bucket returns the entry for a key, creating it if needed.
func (l *TokenBucketLimiter) bucket(key string) *rate.Limiter {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.buckets[key]
	if !ok {
		e = &bucketEntry{limiter: rate.NewLimiter(l.refill, l.limit)}
		l.buckets[key] = e
	}
	e.lastAccess = now
	return e.limiter
}

// Allow implements Limiter.
func (l *TokenBucketLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN implements Limiter.
func (l *TokenBucketLimiter) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	bucket := l.bucket(key)
	allowed := bucket.AllowN(time.Now(), n)
	return l.resultFor(bucket, allowed), nil
}

// Status implements Limiter.
func (l *TokenBucketLimiter) Status(ctx context.Context, key string) (*Result, error) {
	return l.resultFor(l.bucket(key), true), nil
}

// resultFor converts the bucket's token count into a Result.
func (l *TokenBucketLimiter) resultFor(bucket *rate.Limiter, allowed bool) *Result {
	remaining := int(math.Floor(bucket.Tokens()))
	if remaining < 0 {
		remaining = 0
	}
	if remaining > l.limit {
		remaining = l.limit
	}

	var retryAfter time.Duration
	if !allowed && l.refill > 0 {
		retryAfter = time.Duration(float64(time.Second) / float64(l.refill))
	}

	return &Result{
		Allowed:    allowed,
		Limit:      l.limit,
		Remaining:  remaining,
		ResetAfter: retryAfter,
		RetryAfter: retryAfter,
	}
}

// Limit implements Limiter.
func (l *TokenBucketLimiter) Limit() Limit {
	return Limit{Requests: l.limit, Window: l.window}
}

// Reset implements Limiter.
func (l *TokenBucketLimiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
	return nil
}

// Close stops the cleanup loop.
func (l *TokenBucketLimiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.stopped {
		l.stopped = true
		close(l.stopCh)
	}
}
