package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sampleYAML = `
server:
  listenAddr: ":9090"
  readTimeout: "10s"
proxy:
  timeout: "5s"
  requestHopHeaders:
    - Host
    - Connection
rateLimit:
  enabled: true
  algorithm: fixed_window
  requests: 50
  window: "30s"
  callerHeader: X-Caller-ID
routes:
  - serviceName: users
    pathPrefix: /api/v1/users
    target: http://users.internal:8080
    methods: [GET, POST]
services:
  - id: users-1
    serviceName: users
    address: 10.0.0.1
    port: 8080
    health: healthy
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, 100, cfg.RateLimit.Requests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window.Duration())
}

func TestLoadMergesOverDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout.Duration())
	assert.Equal(t, 5*time.Second, cfg.Proxy.Timeout.Duration())
	assert.Equal(t, []string{"Host", "Connection"}, cfg.Proxy.RequestHopHeaders)
	assert.Equal(t, 50, cfg.RateLimit.Requests)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window.Duration())
	assert.Equal(t, "X-Caller-ID", cfg.RateLimit.CallerHeader)

	// Untouched sections keep their defaults.
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)

	require.Len(t, cfg.Routes, 1)
	assert.Equal(t, "users", cfg.Routes[0].ServiceName)
	assert.Equal(t, []string{"GET", "POST"}, cfg.Routes[0].Methods)

	require.Len(t, cfg.Services, 1)
	assert.Equal(t, "users-1", cfg.Services[0].ID)
	assert.Equal(t, 8080, cfg.Services[0].Port)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	t.Run("empty path", func(t *testing.T) {
		t.Parallel()
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorContains(t, err, "does not exist")
	})

	t.Run("directory", func(t *testing.T) {
		t.Parallel()
		_, err := Load(t.TempDir())
		assert.ErrorContains(t, err, "directory")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		t.Parallel()
		_, err := Load(writeConfig(t, "server: [not a mapping"))
		assert.ErrorContains(t, err, "parse")
	})
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*GatewayConfig)
		wantErr string
	}{
		{
			name:    "missing listen addr",
			mutate:  func(c *GatewayConfig) { c.Server.ListenAddr = "" },
			wantErr: "listenAddr",
		},
		{
			name:    "zero rate limit",
			mutate:  func(c *GatewayConfig) { c.RateLimit.Requests = 0 },
			wantErr: "requests",
		},
		{
			name:    "bad algorithm",
			mutate:  func(c *GatewayConfig) { c.RateLimit.Algorithm = "sliding_log" },
			wantErr: "algorithm",
		},
		{
			name: "redis store without addr",
			mutate: func(c *GatewayConfig) {
				c.RateLimit.Store = "redis"
			},
			wantErr: "redis.addr",
		},
		{
			name: "route missing target",
			mutate: func(c *GatewayConfig) {
				c.Routes = []RouteConfig{{ServiceName: "users", PathPrefix: "/api"}}
			},
			wantErr: "target is required",
		},
		{
			name: "instance port out of range",
			mutate: func(c *GatewayConfig) {
				c.Services = []InstanceConfig{{ServiceName: "users", Address: "10.0.0.1", Port: 70000}}
			},
			wantErr: "out of range",
		},
		{
			name: "tracing without endpoint",
			mutate: func(c *GatewayConfig) {
				c.Tracing.Enabled = true
			},
			wantErr: "otlpEndpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDurationRoundTrip(t *testing.T) {
	t.Parallel()

	t.Run("yaml", func(t *testing.T) {
		t.Parallel()

		var d Duration
		require.NoError(t, yaml.Unmarshal([]byte(`"1h30m"`), &d))
		assert.Equal(t, 90*time.Minute, d.Duration())

		out, err := yaml.Marshal(Duration(45 * time.Second))
		require.NoError(t, err)
		assert.Equal(t, "45s\n", string(out))
	})

	t.Run("json", func(t *testing.T) {
		t.Parallel()

		var d Duration
		require.NoError(t, json.Unmarshal([]byte(`"250ms"`), &d))
		assert.Equal(t, 250*time.Millisecond, d.Duration())

		require.NoError(t, json.Unmarshal([]byte(`null`), &d))
		assert.Equal(t, time.Duration(0), d.Duration())

		out, err := json.Marshal(Duration(2 * time.Minute))
		require.NoError(t, err)
		assert.Equal(t, `"2m0s"`, string(out))
	})
}
