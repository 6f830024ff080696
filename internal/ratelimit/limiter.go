// Package ratelimit provides per-caller admission control for the gateway.
// Fixed-window counting is the default algorithm; a token-bucket variant is
// available for callers that prefer smoothed admission over hard window
// resets.
package ratelimit

import (
	"context"
	"time"
)

// Limiter defines the interface for rate limiting.
type Limiter interface {
	// Allow checks whether a single request is admitted for the key,
	// committing the consumption when it is.
	Allow(ctx context.Context, key string) (*Result, error)

	// AllowN checks whether n requests are admitted for the key.
	AllowN(ctx context.Context, key string, n int) (*Result, error)

	// Status reports the current quota for the key without consuming
	// anything. Remaining is always within [0, Limit].
	Status(ctx context.Context, key string) (*Result, error)

	// Limit returns the configured limit.
	Limit() Limit

	// Reset clears the rate limit state for the key.
	Reset(ctx context.Context, key string) error
}

// Limit represents rate limit configuration.
type Limit struct {
	// Requests is the maximum number of requests allowed per window.
	Requests int

	// Window is the time window for the limit.
	Window time.Duration
}

// Result represents the outcome of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is admitted.
	Allowed bool

	// Limit is the maximum number of requests allowed per window.
	Limit int

	// Remaining is the number of requests left in the current window.
	Remaining int

	// ResetAfter is the duration until the window resets.
	ResetAfter time.Duration

	// RetryAfter is the duration to wait before retrying (zero when allowed).
	RetryAfter time.Duration
}

// Algorithm selects the rate limiting algorithm.
type Algorithm string

const (
	// AlgorithmFixedWindow counts requests in fixed time windows.
	AlgorithmFixedWindow Algorithm = "fixed_window"

	// AlgorithmTokenBucket refills permits continuously.
	AlgorithmTokenBucket Algorithm = "token_bucket"
)

// NoopLimiter admits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// NewNoopLimiter creates a limiter that always allows.
func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

// Allow implements Limiter.
func (l *NoopLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return &Result{Allowed: true}, nil
}

// AllowN implements Limiter.
func (l *NoopLimiter) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	return &Result{Allowed: true}, nil
}

// Status implements Limiter.
func (l *NoopLimiter) Status(ctx context.Context, key string) (*Result, error) {
	return &Result{Allowed: true}, nil
}

// Limit implements Limiter.
func (l *NoopLimiter) Limit() Limit {
	return Limit{}
}

// Reset implements Limiter.
func (l *NoopLimiter) Reset(ctx context.Context, key string) error {
	return nil
}
