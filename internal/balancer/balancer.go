// Package balancer implements health-aware instance selection over the
// service registry. Round-robin was chosen over random selection so traffic
// distribution is deterministic and testable; both satisfy the contract of
// never picking an unhealthy instance and eventually covering every healthy
// one.
package balancer

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/opsdeck/gateway/internal/discovery"
	"github.com/opsdeck/gateway/internal/util"
)

// ErrNoInstances is returned when a service has no registered instances at
// all, of any health. The dispatcher falls back to the route's static
// target in that case.
var ErrNoInstances = errors.New("no instances registered")

// RoundRobin selects healthy instances with a per-service cursor.
type RoundRobin struct {
	registry *discovery.Registry
	cursors  sync.Map // service name -> *atomic.Uint64
}

// NewRoundRobin creates a round-robin balancer over the given registry.
func NewRoundRobin(registry *discovery.Registry) *RoundRobin {
	return &RoundRobin{registry: registry}
}

// cursor returns the selection cursor for a service, creating it if needed.
func (b *RoundRobin) cursor(serviceName string) *atomic.Uint64 {
	if v, ok := b.cursors.Load(serviceName); ok {
		return v.(*atomic.Uint64)
	}
	v, _ := b.cursors.LoadOrStore(serviceName, &atomic.Uint64{})
	return v.(*atomic.Uint64)
}

// Select picks one healthy instance of the service. It returns
// ErrNoInstances when the service has no instances registered at all, and
// an UnavailableError when instances exist but none is healthy. Unhealthy
// and unknown instances are never returned.
func (b *RoundRobin) Select(serviceName string) (*discovery.Instance, error) {
	instances := b.registry.Instances(serviceName)
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	healthy := make([]*discovery.Instance, 0, len(instances))
	for _, inst := range instances {
		if inst.Health() == discovery.HealthHealthy {
			healthy = append(healthy, inst)
		}
	}
	if len(healthy) == 0 {
		return nil, util.NewUnavailableError(serviceName)
	}

	idx := b.cursor(serviceName).Add(1) - 1
	return healthy[idx%uint64(len(healthy))], nil
}
