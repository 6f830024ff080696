package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// unmatchedService is the label value used for requests that do not match
// any registered route, keeping label cardinality bounded.
const unmatchedService = "unmatched"

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeRequests  *prometheus.GaugeVec
	rateLimitHits   *prometheus.CounterVec
	instanceHealth  *prometheus.GaugeVec
	upstreamErrors  *prometheus.CounterVec
	registry        *prometheus.Registry
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of proxied HTTP requests",
		},
		[]string{"method", "service", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Proxied HTTP request duration in seconds",
			Buckets: []float64{
				.001, .005, .01, .025, .05,
				.1, .25, .5, 1, 2.5, 5, 10,
			},
		},
		[]string{"method", "service", "status"},
	)

	m.activeRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of in-flight proxied requests",
		},
		[]string{"service"},
	)

	m.rateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of rate-limited requests",
		},
		[]string{"service"},
	)

	m.instanceHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instance_healthy",
			Help:      "Health of a registered backend instance (1 healthy, 0 otherwise)",
		},
		[]string{"service", "instance"},
	)

	m.upstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Total number of upstream failures by kind",
		},
		[]string{"service", "kind"},
	)

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.activeRequests,
		m.rateLimitHits,
		m.instanceHealth,
		m.upstreamErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveRequest records a completed proxied request.
func (m *Metrics) ObserveRequest(method, service string, status int, seconds float64) {
	if service == "" {
		service = unmatchedService
	}
	code := strconv.Itoa(status)
	m.requestsTotal.WithLabelValues(method, service, code).Inc()
	m.requestDuration.WithLabelValues(method, service, code).Observe(seconds)
}

// RequestStarted increments the in-flight gauge for a service.
func (m *Metrics) RequestStarted(service string) {
	if service == "" {
		service = unmatchedService
	}
	m.activeRequests.WithLabelValues(service).Inc()
}

// RequestFinished decrements the in-flight gauge for a service.
func (m *Metrics) RequestFinished(service string) {
	if service == "" {
		service = unmatchedService
	}
	m.activeRequests.WithLabelValues(service).Dec()
}

// RateLimited records a rate-limit rejection.
func (m *Metrics) RateLimited(service string) {
	if service == "" {
		service = unmatchedService
	}
	m.rateLimitHits.WithLabelValues(service).Inc()
}

// SetInstanceHealth records the health of a backend instance.
func (m *Metrics) SetInstanceHealth(service, instance string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.instanceHealth.WithLabelValues(service, instance).Set(v)
}

// RemoveInstance drops the health series for a deregistered instance.
func (m *Metrics) RemoveInstance(service, instance string) {
	m.instanceHealth.DeleteLabelValues(service, instance)
}

// UpstreamError records an upstream failure. Kind is "timeout",
// "unreachable", or "breaker_open".
func (m *Metrics) UpstreamError(service, kind string) {
	m.upstreamErrors.WithLabelValues(service, kind).Inc()
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
