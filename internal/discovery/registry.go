package discovery

import (
	"sort"
	"sync"
	"time"

	"github.com/opsdeck/gateway/internal/observability"
	"github.com/opsdeck/gateway/internal/util"
)

// Registry tracks backend instances per service. State is sharded by service
// name so traffic for one service never contends on another's lock; the
// global ID index is a sync.Map keyed by instance ID.
type Registry struct {
	mu     sync.RWMutex
	shards map[string]*shard
	byID   sync.Map // instance ID -> *Instance
	logger observability.Logger
}

// shard holds the ordered instance list for one service.
type shard struct {
	mu        sync.RWMutex
	instances []*Instance
}

// RegistryOption is a functional option for configuring the registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger for the registry.
func WithLogger(logger observability.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty service registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		shards: make(map[string]*shard),
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// getShard returns the shard for a service, creating it if needed.
func (r *Registry) getShard(serviceName string) *shard {
	r.mu.RLock()
	s, ok := r.shards[serviceName]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.shards[serviceName]; ok {
		return s
	}
	s = &shard{}
	r.shards[serviceName] = s
	return s
}

// Register stores a new instance. The instance ID must be globally unique;
// a duplicate fails with a ConflictError and the stored instance keeps
// whatever health state it was supplied with.
func (r *Registry) Register(inst *Instance) error {
	if inst.ServiceName == "" {
		return util.NewValidationError("serviceName", "service name is required")
	}
	if inst.Address == "" {
		return util.NewValidationError("address", "address is required")
	}

	if _, loaded := r.byID.LoadOrStore(inst.ID, inst); loaded {
		return util.NewConflictError("instance", inst.ID)
	}

	s := r.getShard(inst.ServiceName)
	s.mu.Lock()
	s.instances = append(s.instances, inst)
	s.mu.Unlock()

	r.logger.Info("instance registered",
		observability.String("service", inst.ServiceName),
		observability.String("instance", inst.ID),
		observability.String("address", inst.Address),
		observability.Int("port", inst.Port),
		observability.String("health", inst.Health().String()),
	)

	return nil
}

// Deregister removes the instance with the given ID. Removing an unknown ID
// is a no-op success, so repeated deregistrations are idempotent.
func (r *Registry) Deregister(id string) error {
	v, loaded := r.byID.LoadAndDelete(id)
	if !loaded {
		return nil
	}
	inst := v.(*Instance)

	s := r.getShard(inst.ServiceName)
	s.mu.Lock()
	for i, candidate := range s.instances {
		if candidate.ID == id {
			s.instances = append(s.instances[:i], s.instances[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	r.logger.Info("instance deregistered",
		observability.String("service", inst.ServiceName),
		observability.String("instance", id),
	)

	return nil
}

// UpdateHealth sets the health state of a registered instance. Unknown IDs
// fail with a NotFoundError.
func (r *Registry) UpdateHealth(id string, health Health) error {
	v, ok := r.byID.Load(id)
	if !ok {
		return util.NewNotFoundError("instance", id)
	}
	inst := v.(*Instance)
	inst.SetHealth(health)

	r.logger.Debug("instance health updated",
		observability.String("service", inst.ServiceName),
		observability.String("instance", id),
		observability.String("health", health.String()),
	)

	return nil
}

// Get returns the instance with the given ID.
func (r *Registry) Get(id string) (*Instance, error) {
	v, ok := r.byID.Load(id)
	if !ok {
		return nil, util.NewNotFoundError("instance", id)
	}
	return v.(*Instance), nil
}

// Instances returns all instances for a service, any health, in
// registration order.
func (r *Registry) Instances(serviceName string) []*Instance {
	r.mu.RLock()
	s, ok := r.shards[serviceName]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Instance, len(s.instances))
	copy(out, s.instances)
	return out
}

// Services returns the names of all services with at least one registered
// instance, sorted for stable output.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.shards))
	for name, s := range r.shards {
		s.mu.RLock()
		n := len(s.instances)
		s.mu.RUnlock()
		if n > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ServiceHealth summarizes one service for the health endpoint.
type ServiceHealth struct {
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	Healthy   int        `json:"healthy_instances"`
	Total     int        `json:"total_instances"`
	Instances []Snapshot `json:"instances"`
}

// ClusterHealth aggregates the health of every registered service.
type ClusterHealth struct {
	OverallStatus   string          `json:"overall_status"`
	HealthyServices int             `json:"healthy_services"`
	TotalServices   int             `json:"total_services"`
	Services        []ServiceHealth `json:"services"`
	Timestamp       time.Time       `json:"timestamp"`
}

// HealthSnapshot returns the aggregate health of all registered services.
// A service counts as healthy when at least one instance is healthy.
func (r *Registry) HealthSnapshot() ClusterHealth {
	names := r.Services()

	snapshot := ClusterHealth{
		TotalServices: len(names),
		Services:      make([]ServiceHealth, 0, len(names)),
		Timestamp:     time.Now().UTC(),
	}

	for _, name := range names {
		instances := r.Instances(name)
		sh := ServiceHealth{
			Name:      name,
			Total:     len(instances),
			Instances: make([]Snapshot, 0, len(instances)),
		}
		for _, inst := range instances {
			if inst.Health() == HealthHealthy {
				sh.Healthy++
			}
			sh.Instances = append(sh.Instances, inst.Snapshot())
		}
		if sh.Healthy > 0 {
			sh.Status = "healthy"
			snapshot.HealthyServices++
		} else {
			sh.Status = "unhealthy"
		}
		snapshot.Services = append(snapshot.Services, sh)
	}

	switch {
	case snapshot.TotalServices == 0:
		snapshot.OverallStatus = "unknown"
	case snapshot.HealthyServices == snapshot.TotalServices:
		snapshot.OverallStatus = "healthy"
	case snapshot.HealthyServices > 0:
		snapshot.OverallStatus = "degraded"
	default:
		snapshot.OverallStatus = "unhealthy"
	}

	return snapshot
}
