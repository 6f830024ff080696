// Package discovery implements the gateway's service registry: live backend
// instances per logical service, each with a mutable health state. The
// registry performs no probing itself; an external prober reports health
// through UpdateHealth.
package discovery

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Health represents the health state of a backend instance.
type Health int32

const (
	// HealthUnknown indicates the instance has not been probed yet.
	HealthUnknown Health = iota
	// HealthHealthy indicates the instance is serving traffic.
	HealthHealthy
	// HealthUnhealthy indicates the instance must not receive traffic.
	HealthUnhealthy
)

// String returns the string representation of the health state.
func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// ParseHealth parses a health state string. Unrecognized values map to
// HealthUnknown with an error.
func ParseHealth(s string) (Health, error) {
	switch s {
	case "healthy":
		return HealthHealthy, nil
	case "unhealthy":
		return HealthUnhealthy, nil
	case "unknown":
		return HealthUnknown, nil
	default:
		return HealthUnknown, fmt.Errorf("invalid health state: %q", s)
	}
}

// Instance is one addressable deployment of a backend service.
type Instance struct {
	// ID is globally unique across all services.
	ID string `json:"id" yaml:"id"`

	// ServiceName is the logical service this instance serves.
	ServiceName string `json:"service_name" yaml:"serviceName"`

	// Address and Port give the network location.
	Address string `json:"address" yaml:"address"`
	Port    int    `json:"port" yaml:"port"`

	// Metadata carries informational tags such as version labels.
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	health atomic.Int32
}

// NewInstance creates an instance with the given health state. An empty id
// gets a generated UUID.
func NewInstance(id, serviceName, address string, port int, health Health) *Instance {
	if id == "" {
		id = uuid.NewString()
	}
	inst := &Instance{
		ID:          id,
		ServiceName: serviceName,
		Address:     address,
		Port:        port,
	}
	inst.health.Store(int32(health))
	return inst
}

// Health returns the current health state.
func (i *Instance) Health() Health {
	return Health(i.health.Load())
}

// SetHealth updates the health state.
func (i *Instance) SetHealth(h Health) {
	i.health.Store(int32(h))
}

// URL returns the instance's base URL.
func (i *Instance) URL() string {
	return fmt.Sprintf("http://%s:%d", i.Address, i.Port)
}

// Snapshot is an immutable view of an instance used by the admin API.
type Snapshot struct {
	ID          string            `json:"id"`
	ServiceName string            `json:"service_name"`
	Address     string            `json:"address"`
	Port        int               `json:"port"`
	Health      string            `json:"health"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Snapshot returns an immutable view of the instance.
func (i *Instance) Snapshot() Snapshot {
	return Snapshot{
		ID:          i.ID,
		ServiceName: i.ServiceName,
		Address:     i.Address,
		Port:        i.Port,
		Health:      i.Health().String(),
		Metadata:    i.Metadata,
	}
}
