package util

import (
	"context"
	"time"
)

// Context keys.
type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
	ctxKeyCallerKey ctxKey = "caller_key"
	ctxKeyRoute     ctxKey = "route"
	ctxKeyStartTime ctxKey = "start_time"
)

// ContextWithRequestID adds a request ID to the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// ContextWithCallerKey adds the rate-limit caller key to the context.
func ContextWithCallerKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ctxKeyCallerKey, key)
}

// CallerKeyFromContext extracts the rate-limit caller key from context.
func CallerKeyFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyCallerKey).(string); ok {
		return v
	}
	return ""
}

// ContextWithRoute adds the matched route's service name to the context.
func ContextWithRoute(ctx context.Context, service string) context.Context {
	return context.WithValue(ctx, ctxKeyRoute, service)
}

// RouteFromContext extracts the matched route's service name from context.
func RouteFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRoute).(string); ok {
		return v
	}
	return ""
}

// ContextWithStartTime adds a start time to the context.
func ContextWithStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ctxKeyStartTime, t)
}

// StartTimeFromContext extracts the start time from context.
func StartTimeFromContext(ctx context.Context) time.Time {
	if v, ok := ctx.Value(ctxKeyStartTime).(time.Time); ok {
		return v
	}
	return time.Time{}
}

// ElapsedTime returns the elapsed time since the start time in context.
func ElapsedTime(ctx context.Context) time.Duration {
	startTime := StartTimeFromContext(ctx)
	if startTime.IsZero() {
		return 0
	}
	return time.Since(startTime)
}
