package proxy

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/opsdeck/gateway/internal/observability"
)

// BreakerConfig configures the per-instance circuit breakers.
type BreakerConfig struct {
	// Threshold is the minimum number of requests in a window before the
	// failure ratio is evaluated.
	Threshold int

	// Timeout is how long an open breaker stays open before probing.
	Timeout time.Duration
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold: 5,
		Timeout:   30 * time.Second,
	}
}

// BreakerGroup holds one circuit breaker per backend instance, created
// lazily on first use.
type BreakerGroup struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	config   BreakerConfig
	logger   observability.Logger
}

// NewBreakerGroup creates an empty breaker group.
func NewBreakerGroup(config BreakerConfig, logger observability.Logger) *BreakerGroup {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &BreakerGroup{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		config:   config,
		logger:   logger,
	}
}

// Get returns the breaker for an instance, creating it on first use.
func (g *BreakerGroup) Get(instanceID string) *gobreaker.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cb, ok := g.breakers[instanceID]; ok {
		return cb
	}

	threshold := safeIntToUint32(g.config.Threshold)
	settings := gobreaker.Settings{
		Name:        instanceID,
		MaxRequests: threshold,
		Interval:    g.config.Timeout,
		Timeout:     g.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= threshold && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			g.logger.Info("circuit breaker state change",
				observability.String("instance", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	}

	cb := gobreaker.NewCircuitBreaker(settings)
	g.breakers[instanceID] = cb
	return cb
}

// Remove drops the breaker for a deregistered instance.
func (g *BreakerGroup) Remove(instanceID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.breakers, instanceID)
}

// IsOpen reports whether an error came from an open or throttled breaker.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests)
}

func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n)
}
