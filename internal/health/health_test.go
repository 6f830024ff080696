package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/gateway/internal/discovery"
)

func TestHealthAlwaysHealthy(t *testing.T) {
	t.Parallel()

	checker := NewChecker("1.2.3")
	resp := checker.Health()

	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.NotEmpty(t, resp.Uptime)
	assert.WithinDuration(t, time.Now(), resp.Timestamp, time.Second)
}

func TestReadinessAggregation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		checks   map[string]Status
		expected Status
	}{
		{
			name:     "no checks",
			checks:   map[string]Status{},
			expected: StatusHealthy,
		},
		{
			name:     "all healthy",
			checks:   map[string]Status{"a": StatusHealthy, "b": StatusHealthy},
			expected: StatusHealthy,
		},
		{
			name:     "one degraded",
			checks:   map[string]Status{"a": StatusHealthy, "b": StatusDegraded},
			expected: StatusDegraded,
		},
		{
			name:     "unhealthy wins over degraded",
			checks:   map[string]Status{"a": StatusDegraded, "b": StatusUnhealthy},
			expected: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			checker := NewChecker("test")
			for name, status := range tt.checks {
				status := status
				checker.RegisterCheck(name, func() Check {
					return Check{Status: status}
				})
			}

			resp := checker.Readiness()
			assert.Equal(t, tt.expected, resp.Status)
			assert.Len(t, resp.Checks, len(tt.checks))
		})
	}
}

func TestUnregisterCheck(t *testing.T) {
	t.Parallel()

	checker := NewChecker("test")
	checker.RegisterCheck("flaky", func() Check {
		return Check{Status: StatusUnhealthy}
	})
	require.Equal(t, StatusUnhealthy, checker.Readiness().Status)

	checker.UnregisterCheck("flaky")
	assert.Equal(t, StatusHealthy, checker.Readiness().Status)
}

func TestBackendCheck(t *testing.T) {
	t.Parallel()

	registry := discovery.NewRegistry()
	check := BackendCheck(registry)

	// Empty registry keeps the gateway ready.
	assert.Equal(t, StatusHealthy, check().Status)

	require.NoError(t, registry.Register(
		discovery.NewInstance("u-1", "users", "10.0.0.1", 8080, discovery.HealthHealthy)))
	assert.Equal(t, StatusHealthy, check().Status)

	require.NoError(t, registry.Register(
		discovery.NewInstance("o-1", "orders", "10.0.0.2", 8080, discovery.HealthUnhealthy)))
	result := check()
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Contains(t, result.Message, "1 of 2")
}
