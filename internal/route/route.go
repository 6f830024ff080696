// Package route implements the gateway's route registry: the mapping from
// URL path prefixes to logical backend services.
package route

import (
	"net/http"
	"strings"
)

// Route maps a path prefix to a logical backend service.
type Route struct {
	// ServiceName identifies the logical backend service.
	ServiceName string `json:"service_name" yaml:"serviceName"`

	// PathPrefix is the URL path prefix this route matches, e.g. "/api/v1/vault".
	PathPrefix string `json:"path_prefix" yaml:"pathPrefix"`

	// Target is the static base address used when no instance is registered
	// for ServiceName in the service registry.
	Target string `json:"target" yaml:"target"`

	// Methods is the set of allowed HTTP methods. Empty means all methods
	// are allowed.
	Methods []string `json:"methods,omitempty" yaml:"methods,omitempty"`
}

// Allows reports whether the route permits the given HTTP method.
func (r *Route) Allows(method string) bool {
	if len(r.Methods) == 0 {
		return true
	}
	for _, m := range r.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// Matches reports whether the route's prefix matches the given path.
func (r *Route) Matches(path string) bool {
	return strings.HasPrefix(path, r.PathPrefix)
}

// normalizeMethods upper-cases the method set so Allows comparisons and the
// admin API output are stable.
func normalizeMethods(methods []string) []string {
	if len(methods) == 0 {
		return nil
	}
	out := make([]string, len(methods))
	for i, m := range methods {
		out[i] = strings.ToUpper(strings.TrimSpace(m))
	}
	return out
}

// knownMethods is used by the admin API to reject typos in method sets.
var knownMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodConnect: true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
}

// IsKnownMethod reports whether m is a standard HTTP method.
func IsKnownMethod(m string) bool {
	return knownMethods[strings.ToUpper(m)]
}
