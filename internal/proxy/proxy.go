// Package proxy implements the gateway's request dispatcher: route
// matching, CORS preflight handling, middleware execution, rate limiting,
// instance selection, and the proxied call itself.
package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opsdeck/gateway/internal/balancer"
	"github.com/opsdeck/gateway/internal/middleware"
	"github.com/opsdeck/gateway/internal/observability"
	"github.com/opsdeck/gateway/internal/ratelimit"
	"github.com/opsdeck/gateway/internal/route"
	"github.com/opsdeck/gateway/internal/util"
)

// DefaultTimeout bounds each proxied call when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// defaultRequestHopHeaders are stripped from the outbound request.
var defaultRequestHopHeaders = []string{
	"Host",
	"Connection",
	"Upgrade",
	"Proxy-Connection",
}

// defaultResponseHopHeaders are stripped from the relayed response.
var defaultResponseHopHeaders = []string{
	"Host",
	"Connection",
	"Upgrade",
	"Proxy-Connection",
	"Transfer-Encoding",
}

// Dispatcher is the gateway's entry point for proxied traffic. It owns no
// registry state of its own; every request consults the shared route
// registry, balancer, rate limiter, and middleware chain.
type Dispatcher struct {
	routes    *route.Registry
	balancer  *balancer.RoundRobin
	chain     *middleware.Chain
	limiter   ratelimit.Limiter
	keyFunc   ratelimit.KeyFunc
	transport http.RoundTripper
	timeout   time.Duration
	breakers  *BreakerGroup
	ws        *websocketProxy
	logger    observability.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer

	requestHopHeaders  []string
	responseHopHeaders []string
}

// Option is a functional option for configuring the dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger observability.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

// WithTracer enables a span around each proxied call.
func WithTracer(tracer *observability.Tracer) Option {
	return func(d *Dispatcher) {
		d.tracer = tracer
	}
}

// WithTransport sets the outbound transport.
func WithTransport(transport http.RoundTripper) Option {
	return func(d *Dispatcher) {
		d.transport = transport
	}
}

// WithTimeout bounds each proxied call.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithLimiter sets the rate limiter consulted for every proxied request.
func WithLimiter(limiter ratelimit.Limiter) Option {
	return func(d *Dispatcher) {
		d.limiter = limiter
	}
}

// WithKeyFunc sets how the rate-limit caller key is derived.
func WithKeyFunc(keyFunc ratelimit.KeyFunc) Option {
	return func(d *Dispatcher) {
		d.keyFunc = keyFunc
	}
}

// WithBreakers enables per-instance circuit breaking.
func WithBreakers(breakers *BreakerGroup) Option {
	return func(d *Dispatcher) {
		d.breakers = breakers
	}
}

// WithRequestHopHeaders overrides the outbound header blocklist.
func WithRequestHopHeaders(headers []string) Option {
	return func(d *Dispatcher) {
		if len(headers) > 0 {
			d.requestHopHeaders = headers
		}
	}
}

// WithResponseHopHeaders overrides the response header blocklist.
func WithResponseHopHeaders(headers []string) Option {
	return func(d *Dispatcher) {
		if len(headers) > 0 {
			d.responseHopHeaders = headers
		}
	}
}

// NewDispatcher creates a dispatcher over the shared registries.
func NewDispatcher(routes *route.Registry, lb *balancer.RoundRobin, chain *middleware.Chain, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		routes:             routes,
		balancer:           lb,
		chain:              chain,
		limiter:            ratelimit.NewNoopLimiter(),
		keyFunc:            ratelimit.HeaderKeyFunc(ratelimit.DefaultCallerHeader),
		transport:          http.DefaultTransport,
		timeout:            DefaultTimeout,
		logger:             observability.NopLogger(),
		requestHopHeaders:  defaultRequestHopHeaders,
		responseHopHeaders: defaultResponseHopHeaders,
	}

	for _, opt := range opts {
		opt(d)
	}

	d.ws = &websocketProxy{logger: d.logger}

	return d
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if isCORSPreflight(r) {
		d.handlePreflight(w, r)
		return
	}

	matched, err := d.routes.Find(r.URL.Path)
	if err != nil {
		d.logger.Debug("no route for path",
			observability.String("path", r.URL.Path),
			observability.String("method", r.Method),
		)
		writeError(w, http.StatusNotFound, "Endpoint not found")
		return
	}

	service := matched.ServiceName
	ctx := util.ContextWithRoute(r.Context(), service)
	r = r.WithContext(ctx)

	if d.metrics != nil {
		d.metrics.RequestStarted(service)
		defer d.metrics.RequestFinished(service)
	}

	if !matched.Allows(r.Method) {
		writeMethodNotAllowed(w, r.Method)
		return
	}

	r, err = d.chain.Run(r.Context(), r)
	if err != nil {
		d.logger.Debug("middleware aborted request",
			observability.String("service", service),
			observability.Error(err),
		)
		writeError(w, util.HTTPStatus(err), err.Error())
		return
	}

	if !d.allow(w, r, service) {
		return
	}

	target, instanceID, err := d.resolveTarget(matched)
	if err != nil {
		d.logger.Warn("no backend available",
			observability.String("service", service),
			observability.Error(err),
		)
		writeServiceError(w, http.StatusServiceUnavailable, err.Error(), service)
		return
	}

	if websocket.IsWebSocketUpgrade(r) {
		d.forwardWebSocket(w, r, target, service)
		return
	}

	d.forward(w, r, target, service, instanceID)
}

// allow consults the rate limiter. A limiter backend error fails open so a
// store outage never takes down proxying. Returns false when the response
// has already been written.
func (d *Dispatcher) allow(w http.ResponseWriter, r *http.Request, service string) bool {
	key := d.keyFunc(r)

	result, err := d.limiter.Allow(r.Context(), key)
	if err != nil {
		d.logger.Warn("rate limiter unavailable, failing open",
			observability.String("key", key),
			observability.Error(err),
		)
		return true
	}

	if result.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	}

	if !result.Allowed {
		if d.metrics != nil {
			d.metrics.RateLimited(service)
		}
		if result.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds()+1)))
		}
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}

	return true
}

// resolveTarget picks a backend URL for the route: a healthy registered
// instance when any exist, or the route's static target when the service
// registry holds no instances at all. instanceID is empty for the static
// fallback.
func (d *Dispatcher) resolveTarget(matched *route.Route) (*url.URL, string, error) {
	instance, err := d.balancer.Select(matched.ServiceName)
	if err == nil {
		target, parseErr := url.Parse(instance.URL())
		if parseErr != nil {
			return nil, "", parseErr
		}
		return target, instance.ID, nil
	}

	if errors.Is(err, balancer.ErrNoInstances) {
		target, parseErr := parseTarget(matched.Target)
		if parseErr != nil {
			return nil, "", parseErr
		}
		return target, "", nil
	}

	return nil, "", err
}

// parseTarget parses a static target, defaulting the scheme to http.
func parseTarget(target string) (*url.URL, error) {
	if !strings.Contains(target, "://") {
		target = "http://" + target
	}
	return url.Parse(target)
}

// forward performs the proxied call and relays the outcome verbatim.
func (d *Dispatcher) forward(w http.ResponseWriter, r *http.Request, target *url.URL, service, instanceID string) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(r.Context(), d.timeout)
	defer cancel()

	var span trace.Span
	if d.tracer != nil {
		ctx, span = d.tracer.StartSpan(ctx, "gateway.forward",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("gateway.service", service),
				attribute.String("http.method", r.Method),
				attribute.String("upstream.host", target.Host),
			),
		)
		defer span.End()
	}

	outReq, err := d.buildOutboundRequest(ctx, r, target)
	if err != nil {
		d.logger.Error("failed to build outbound request",
			observability.String("service", service),
			observability.Error(err),
		)
		writeServiceError(w, http.StatusBadGateway, "failed to build upstream request", service)
		return
	}

	resp, err := d.roundTrip(outReq, instanceID)
	if err != nil {
		if span != nil {
			span.RecordError(err)
		}
		d.handleUpstreamError(w, r, err, service, start)
		return
	}
	defer resp.Body.Close()

	header := w.Header()
	for name, values := range resp.Header {
		if d.isResponseHopHeader(name) {
			continue
		}
		for _, v := range values {
			header.Add(name, v)
		}
	}
	if span != nil {
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	}
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		d.logger.Debug("response relay interrupted",
			observability.String("service", service),
			observability.Error(err),
		)
	}

	if d.metrics != nil {
		d.metrics.ObserveRequest(r.Method, service, resp.StatusCode, time.Since(start).Seconds())
	}
}

// roundTrip executes the outbound call, through the instance's circuit
// breaker when breakers are enabled.
func (d *Dispatcher) roundTrip(outReq *http.Request, instanceID string) (*http.Response, error) {
	if d.breakers == nil || instanceID == "" {
		return d.transport.RoundTrip(outReq)
	}

	result, err := d.breakers.Get(instanceID).Execute(func() (interface{}, error) {
		return d.transport.RoundTrip(outReq)
	})
	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}

// buildOutboundRequest copies the method, body, and headers onto a request
// aimed at the target, dropping hop-by-hop headers.
func (d *Dispatcher) buildOutboundRequest(ctx context.Context, r *http.Request, target *url.URL) (*http.Request, error) {
	outURL := *target
	outURL.Path = joinPath(target.Path, r.URL.Path)
	outURL.RawQuery = r.URL.RawQuery

	outReq, err := http.NewRequestWithContext(ctx, r.Method, outURL.String(), r.Body)
	if err != nil {
		return nil, err
	}
	outReq.ContentLength = r.ContentLength

	for name, values := range r.Header {
		if d.isRequestHopHeader(name) {
			continue
		}
		for _, v := range values {
			outReq.Header.Add(name, v)
		}
	}

	if clientIP, _, splitErr := net.SplitHostPort(r.RemoteAddr); splitErr == nil {
		if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		outReq.Header.Set("X-Forwarded-For", clientIP)
	}
	if r.TLS != nil {
		outReq.Header.Set("X-Forwarded-Proto", "https")
	} else {
		outReq.Header.Set("X-Forwarded-Proto", "http")
	}
	outReq.Header.Set("X-Forwarded-Host", r.Host)

	return outReq, nil
}

// handleUpstreamError maps transport failures to gateway responses:
// timeouts to 504, everything else (refused connections, DNS failures,
// open breakers) to 502 or 503.
func (d *Dispatcher) handleUpstreamError(w http.ResponseWriter, r *http.Request, err error, service string, start time.Time) {
	if r.Context().Err() == context.Canceled {
		// Client went away; nothing useful to write.
		d.logger.Debug("client disconnected during proxied call",
			observability.String("service", service),
		)
		return
	}

	var status int
	var message, kind string

	switch {
	case isTimeout(err):
		status = http.StatusGatewayTimeout
		message = "upstream request timed out"
		kind = "timeout"
	case IsOpen(err):
		status = http.StatusServiceUnavailable
		message = "circuit breaker open"
		kind = "breaker_open"
	default:
		status = http.StatusBadGateway
		message = "upstream unreachable"
		kind = "unreachable"
	}

	d.logger.Warn("proxied call failed",
		observability.String("service", service),
		observability.String("kind", kind),
		observability.Duration("elapsed", time.Since(start)),
		observability.Error(err),
	)
	if d.metrics != nil {
		d.metrics.UpstreamError(service, kind)
		d.metrics.ObserveRequest(r.Method, service, status, time.Since(start).Seconds())
	}

	writeServiceError(w, status, message, service)
}

// forwardWebSocket relays a WebSocket upgrade to the backend.
func (d *Dispatcher) forwardWebSocket(w http.ResponseWriter, r *http.Request, target *url.URL, service string) {
	if err := d.ws.proxy(w, r, target, d.transport); err != nil {
		d.logger.Warn("websocket proxying failed",
			observability.String("service", service),
			observability.Error(err),
		)
	}
}

func (d *Dispatcher) isRequestHopHeader(name string) bool {
	return containsFold(d.requestHopHeaders, name)
}

func (d *Dispatcher) isResponseHopHeader(name string) bool {
	return containsFold(d.responseHopHeaders, name)
}

func containsFold(headers []string, name string) bool {
	for _, h := range headers {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

// isCORSPreflight reports whether the request is a CORS preflight: an
// OPTIONS request carrying both Origin and Access-Control-Request-Method.
func isCORSPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions &&
		r.Header.Get("Origin") != "" &&
		r.Header.Get("Access-Control-Request-Method") != ""
}

// handlePreflight answers a CORS preflight permissively without consulting
// the route registry.
func (d *Dispatcher) handlePreflight(w http.ResponseWriter, r *http.Request) {
	header := w.Header()
	header.Set("Access-Control-Allow-Origin", r.Header.Get("Origin"))
	header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")

	if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
		header.Set("Access-Control-Allow-Headers", requested)
	} else {
		header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	}
	header.Set("Access-Control-Max-Age", "86400")

	w.WriteHeader(http.StatusOK)
}

// joinPath joins a target base path with the request path without
// doubling slashes.
func joinPath(base, path string) string {
	if base == "" || base == "/" {
		return path
	}
	return strings.TrimSuffix(base, "/") + path
}

// isTimeout reports whether err is a deadline or network timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
