package ratelimit

import (
	"fmt"
	"time"

	"github.com/opsdeck/gateway/internal/observability"
	"github.com/opsdeck/gateway/internal/ratelimit/store"
)

// FactoryConfig holds configuration for creating rate limiters.
type FactoryConfig struct {
	// Algorithm selects the rate limiting algorithm.
	Algorithm Algorithm

	// Requests is the maximum number of requests allowed per window.
	Requests int

	// Window is the time window for the rate limit.
	Window time.Duration

	// StoreType selects counter storage: "memory" (default) keeps counters
	// in process, "redis" shares them across replicas. Only the fixed
	// window algorithm uses the store.
	StoreType string

	// Redis configuration, used when StoreType is "redis".
	Redis store.RedisConfig

	// Logger for the limiter.
	Logger observability.Logger
}

// DefaultFactoryConfig returns a FactoryConfig with default values.
func DefaultFactoryConfig() *FactoryConfig {
	return &FactoryConfig{
		Algorithm: AlgorithmFixedWindow,
		Requests:  100,
		Window:    time.Minute,
		StoreType: "memory",
	}
}

// NewLimiter creates a rate limiter from the configuration.
func NewLimiter(config *FactoryConfig) (Limiter, error) {
	if config == nil {
		config = DefaultFactoryConfig()
	}

	switch config.Algorithm {
	case AlgorithmTokenBucket:
		return NewTokenBucketLimiter(config.Requests, config.Window, config.Logger), nil
	case AlgorithmFixedWindow, "":
	default:
		return nil, fmt.Errorf("unknown rate limit algorithm: %q", config.Algorithm)
	}

	var s store.Store
	switch config.StoreType {
	case "", "memory":
		// Local counters inside the limiter, no external store.
	case "redis":
		redisStore, err := store.NewRedisStore(config.Redis, config.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		s = redisStore
	default:
		return nil, fmt.Errorf("unknown rate limit store type: %q", config.StoreType)
	}

	return NewFixedWindowLimiter(s, config.Requests, config.Window, config.Logger), nil
}
