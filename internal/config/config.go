// Package config provides configuration loading, validation, and live
// reload for the gateway.
package config

import (
	"fmt"
	"time"
)

// GatewayConfig is the root configuration.
type GatewayConfig struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Proxy     ProxyConfig     `yaml:"proxy" json:"proxy"`
	RateLimit RateLimitConfig `yaml:"rateLimit" json:"rateLimit"`
	Breaker   BreakerConfig   `yaml:"circuitBreaker" json:"circuitBreaker"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing" json:"tracing"`

	// Routes and Services seed the registries at startup. Both can also
	// be managed at runtime through the admin API.
	Routes   []RouteConfig    `yaml:"routes" json:"routes"`
	Services []InstanceConfig `yaml:"services" json:"services"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddr      string   `yaml:"listenAddr" json:"listenAddr"`
	ReadTimeout     Duration `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout" json:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout" json:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`
}

// ProxyConfig configures the dispatcher's outbound behavior.
type ProxyConfig struct {
	// Timeout bounds each proxied call.
	Timeout Duration `yaml:"timeout" json:"timeout"`

	// RequestHopHeaders overrides the outbound header blocklist.
	RequestHopHeaders []string `yaml:"requestHopHeaders" json:"requestHopHeaders"`

	// ResponseHopHeaders overrides the response header blocklist.
	ResponseHopHeaders []string `yaml:"responseHopHeaders" json:"responseHopHeaders"`
}

// RateLimitConfig configures per-caller admission control.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Algorithm is "fixed_window" or "token_bucket".
	Algorithm string `yaml:"algorithm" json:"algorithm"`

	// Requests per window per caller.
	Requests int      `yaml:"requests" json:"requests"`
	Window   Duration `yaml:"window" json:"window"`

	// CallerHeader names the identity header used as the rate-limit key.
	// Callers without the header are keyed by client IP.
	CallerHeader string `yaml:"callerHeader" json:"callerHeader"`

	// Store is "memory" or "redis".
	Store string      `yaml:"store" json:"store"`
	Redis RedisConfig `yaml:"redis" json:"redis"`
}

// RedisConfig configures the distributed rate-limit store.
type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	KeyPrefix string `yaml:"keyPrefix" json:"keyPrefix"`
}

// BreakerConfig configures per-instance circuit breaking.
type BreakerConfig struct {
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	Threshold int      `yaml:"threshold" json:"threshold"`
	Timeout   Duration `yaml:"timeout" json:"timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint" json:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate" json:"samplingRate"`
}

// RouteConfig is one statically configured route.
type RouteConfig struct {
	ServiceName string   `yaml:"serviceName" json:"serviceName"`
	PathPrefix  string   `yaml:"pathPrefix" json:"pathPrefix"`
	Target      string   `yaml:"target" json:"target"`
	Methods     []string `yaml:"methods" json:"methods"`
}

// InstanceConfig is one statically configured backend instance.
type InstanceConfig struct {
	ID          string            `yaml:"id" json:"id"`
	ServiceName string            `yaml:"serviceName" json:"serviceName"`
	Address     string            `yaml:"address" json:"address"`
	Port        int               `yaml:"port" json:"port"`
	Health      string            `yaml:"health" json:"health"`
	Metadata    map[string]string `yaml:"metadata" json:"metadata"`
}

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() *GatewayConfig {
	return &GatewayConfig{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			IdleTimeout:     Duration(120 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Proxy: ProxyConfig{
			Timeout: Duration(30 * time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:      true,
			Algorithm:    "fixed_window",
			Requests:     100,
			Window:       Duration(time.Minute),
			CallerHeader: "X-User-ID",
			Store:        "memory",
		},
		Breaker: BreakerConfig{
			Enabled:   false,
			Threshold: 5,
			Timeout:   Duration(30 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "gateway",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			SamplingRate: 0.1,
		},
	}
}

// Validate checks the configuration for inconsistencies.
func (c *GatewayConfig) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listenAddr is required")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Requests < 1 {
			return fmt.Errorf("rateLimit.requests must be at least 1")
		}
		if c.RateLimit.Window.Duration() <= 0 {
			return fmt.Errorf("rateLimit.window must be positive")
		}
		switch c.RateLimit.Algorithm {
		case "", "fixed_window", "token_bucket":
		default:
			return fmt.Errorf("rateLimit.algorithm %q is not supported", c.RateLimit.Algorithm)
		}
		switch c.RateLimit.Store {
		case "", "memory":
		case "redis":
			if c.RateLimit.Redis.Addr == "" {
				return fmt.Errorf("rateLimit.redis.addr is required for the redis store")
			}
		default:
			return fmt.Errorf("rateLimit.store %q is not supported", c.RateLimit.Store)
		}
	}

	if c.Proxy.Timeout.Duration() < 0 {
		return fmt.Errorf("proxy.timeout must not be negative")
	}

	if c.Breaker.Enabled && c.Breaker.Threshold < 1 {
		return fmt.Errorf("circuitBreaker.threshold must be at least 1")
	}

	if c.Tracing.Enabled && c.Tracing.OTLPEndpoint == "" {
		return fmt.Errorf("tracing.otlpEndpoint is required when tracing is enabled")
	}

	for i, r := range c.Routes {
		if r.ServiceName == "" {
			return fmt.Errorf("routes[%d]: serviceName is required", i)
		}
		if r.PathPrefix == "" {
			return fmt.Errorf("routes[%d]: pathPrefix is required", i)
		}
		if r.Target == "" {
			return fmt.Errorf("routes[%d]: target is required", i)
		}
	}

	for i, s := range c.Services {
		if s.ServiceName == "" {
			return fmt.Errorf("services[%d]: serviceName is required", i)
		}
		if s.Address == "" {
			return fmt.Errorf("services[%d]: address is required", i)
		}
		if s.Port < 1 || s.Port > 65535 {
			return fmt.Errorf("services[%d]: port %d is out of range", i, s.Port)
		}
	}

	return nil
}
