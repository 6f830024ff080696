package route

import (
	"sync"

	"github.com/opsdeck/gateway/internal/observability"
	"github.com/opsdeck/gateway/internal/util"
)

// Registry holds the registered routes. Registrations happen at startup or
// through the admin API; lookups happen on every proxied request, so reads
// take only a shared lock.
type Registry struct {
	mu     sync.RWMutex
	routes []*Route
	byPath map[string]*Route
	logger observability.Logger
}

// RegistryOption is a functional option for configuring the registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger for the registry.
func WithLogger(logger observability.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty route registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		routes: make([]*Route, 0),
		byPath: make(map[string]*Route),
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register validates and stores a route. It fails with a ValidationError
// naming the missing field, or a ConflictError when the path prefix is
// already taken. Stored routes are immutable.
func (r *Registry) Register(route Route) error {
	if route.ServiceName == "" {
		return util.NewValidationError("serviceName", "service name is required")
	}
	if route.PathPrefix == "" {
		return util.NewValidationError("pathPrefix", "path is required")
	}
	if route.Target == "" {
		return util.NewValidationError("target", "target is required")
	}

	route.Methods = normalizeMethods(route.Methods)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byPath[route.PathPrefix]; exists {
		return util.NewConflictError("route", route.PathPrefix)
	}

	stored := route
	r.routes = append(r.routes, &stored)
	r.byPath[route.PathPrefix] = &stored

	r.logger.Info("route registered",
		observability.String("service", route.ServiceName),
		observability.String("prefix", route.PathPrefix),
		observability.String("target", route.Target),
	)

	return nil
}

// Deregister removes the route with the given path prefix. Unknown prefixes
// return a NotFoundError.
func (r *Registry) Deregister(pathPrefix string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byPath[pathPrefix]; !exists {
		return util.NewNotFoundError("route", pathPrefix)
	}

	delete(r.byPath, pathPrefix)
	for i, route := range r.routes {
		if route.PathPrefix == pathPrefix {
			r.routes = append(r.routes[:i], r.routes[i+1:]...)
			break
		}
	}

	r.logger.Info("route deregistered", observability.String("prefix", pathPrefix))
	return nil
}

// Routes returns all registered routes in registration order.
func (r *Registry) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make([]Route, len(r.routes))
	for i, route := range r.routes {
		routes[i] = *route
	}
	return routes
}

// Find returns the route whose path prefix is the longest prefix match of
// path, or a NotFoundError when nothing matches.
func (r *Registry) Find(path string) (*Route, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Route
	for _, route := range r.routes {
		if !route.Matches(path) {
			continue
		}
		if best == nil || len(route.PathPrefix) > len(best.PathPrefix) {
			best = route
		}
	}

	if best == nil {
		return nil, util.NewNotFoundError("route", path)
	}

	found := *best
	return &found, nil
}

// Len returns the number of registered routes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}
