package util

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContextRequestID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))

	ctx = ContextWithRequestID(ctx, "req-123")
	assert.Equal(t, "req-123", RequestIDFromContext(ctx))
}

func TestContextCallerKey(t *testing.T) {
	t.Parallel()

	ctx := ContextWithCallerKey(context.Background(), "user-42")
	assert.Equal(t, "user-42", CallerKeyFromContext(ctx))
	assert.Empty(t, CallerKeyFromContext(context.Background()))
}

func TestContextRoute(t *testing.T) {
	t.Parallel()

	ctx := ContextWithRoute(context.Background(), "vault")
	assert.Equal(t, "vault", RouteFromContext(ctx))
}

func TestElapsedTime(t *testing.T) {
	t.Parallel()

	assert.Zero(t, ElapsedTime(context.Background()))

	ctx := ContextWithStartTime(context.Background(), time.Now().Add(-time.Second))
	assert.GreaterOrEqual(t, ElapsedTime(ctx), time.Second)
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		xff        string
		realIP     string
		remoteAddr string
		want       string
	}{
		{"forwarded single", "10.0.0.1", "", "192.168.1.1:1234", "10.0.0.1"},
		{"forwarded chain", "10.0.0.1, 10.0.0.2", "", "192.168.1.1:1234", "10.0.0.1"},
		{"real ip", "", "10.0.0.3", "192.168.1.1:1234", "10.0.0.3"},
		{"remote addr", "", "", "192.168.1.1:1234", "192.168.1.1"},
		{"remote addr no port", "", "", "192.168.1.1", "192.168.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}

			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}
