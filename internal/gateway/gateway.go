// Package gateway wires the registries, balancer, rate limiter, middleware
// chain, and dispatcher into one runnable server with an admin API.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/opsdeck/gateway/internal/balancer"
	"github.com/opsdeck/gateway/internal/config"
	"github.com/opsdeck/gateway/internal/discovery"
	"github.com/opsdeck/gateway/internal/health"
	"github.com/opsdeck/gateway/internal/middleware"
	"github.com/opsdeck/gateway/internal/observability"
	"github.com/opsdeck/gateway/internal/proxy"
	"github.com/opsdeck/gateway/internal/ratelimit"
	"github.com/opsdeck/gateway/internal/ratelimit/store"
	"github.com/opsdeck/gateway/internal/route"
)

// ginModeOnce guards the global gin mode switch.
var ginModeOnce sync.Once

// Gateway composes every gateway component behind one HTTP listener.
type Gateway struct {
	config   *config.GatewayConfig
	logger   observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	routes   *route.Registry
	services *discovery.Registry
	balancer *balancer.RoundRobin
	limiter  ratelimit.Limiter
	chain    *middleware.Chain
	checker  *health.Checker

	dispatcher *proxy.Dispatcher
	engine     *gin.Engine
	server     *http.Server

	mu      sync.Mutex
	running bool
}

// Option is a functional option for a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithVersion sets the build version reported by the health endpoint.
func WithVersion(version string) Option {
	return func(g *Gateway) {
		g.checker = health.NewChecker(version)
	}
}

// New builds a gateway from configuration, seeding the registries with the
// statically configured routes and instances.
func New(cfg *config.GatewayConfig, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Gateway{
		config:  cfg,
		logger:  observability.NopLogger(),
		checker: health.NewChecker("dev"),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.routes = route.NewRegistry(route.WithLogger(g.logger))
	g.services = discovery.NewRegistry(discovery.WithLogger(g.logger))
	g.balancer = balancer.NewRoundRobin(g.services)
	g.chain = middleware.NewChain()

	if cfg.Metrics.Enabled {
		g.metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  "gateway",
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Enabled:      cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	g.tracer = tracer

	g.limiter, err = g.buildLimiter(cfg)
	if err != nil {
		return nil, err
	}

	g.dispatcher = g.buildDispatcher(cfg)
	g.checker.RegisterCheck("backends", health.BackendCheck(g.services))

	if err := g.seed(cfg); err != nil {
		return nil, err
	}

	g.buildEngine()

	return g, nil
}

// buildLimiter constructs the rate limiter from configuration.
func (g *Gateway) buildLimiter(cfg *config.GatewayConfig) (ratelimit.Limiter, error) {
	if !cfg.RateLimit.Enabled {
		return ratelimit.NewNoopLimiter(), nil
	}

	limiter, err := ratelimit.NewLimiter(&ratelimit.FactoryConfig{
		Algorithm: ratelimit.Algorithm(cfg.RateLimit.Algorithm),
		Requests:  cfg.RateLimit.Requests,
		Window:    cfg.RateLimit.Window.Duration(),
		StoreType: cfg.RateLimit.Store,
		Redis: store.RedisConfig{
			Address:  cfg.RateLimit.Redis.Addr,
			Password: cfg.RateLimit.Redis.Password,
			DB:       cfg.RateLimit.Redis.DB,
			Prefix:   cfg.RateLimit.Redis.KeyPrefix,
		},
		Logger: g.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build rate limiter: %w", err)
	}
	return limiter, nil
}

// buildDispatcher constructs the proxy dispatcher from configuration.
func (g *Gateway) buildDispatcher(cfg *config.GatewayConfig) *proxy.Dispatcher {
	callerHeader := cfg.RateLimit.CallerHeader
	if callerHeader == "" {
		callerHeader = ratelimit.DefaultCallerHeader
	}

	opts := []proxy.Option{
		proxy.WithLogger(g.logger),
		proxy.WithLimiter(g.limiter),
		proxy.WithKeyFunc(ratelimit.HeaderKeyFunc(callerHeader)),
		proxy.WithTimeout(cfg.Proxy.Timeout.Duration()),
		proxy.WithRequestHopHeaders(cfg.Proxy.RequestHopHeaders),
		proxy.WithResponseHopHeaders(cfg.Proxy.ResponseHopHeaders),
	}
	if g.metrics != nil {
		opts = append(opts, proxy.WithMetrics(g.metrics))
	}
	if g.tracer != nil {
		opts = append(opts, proxy.WithTracer(g.tracer))
	}
	if cfg.Breaker.Enabled {
		opts = append(opts, proxy.WithBreakers(proxy.NewBreakerGroup(proxy.BreakerConfig{
			Threshold: cfg.Breaker.Threshold,
			Timeout:   cfg.Breaker.Timeout.Duration(),
		}, g.logger)))
	}

	return proxy.NewDispatcher(g.routes, g.balancer, g.chain, opts...)
}

// seed registers statically configured routes and instances.
func (g *Gateway) seed(cfg *config.GatewayConfig) error {
	for _, rc := range cfg.Routes {
		err := g.routes.Register(route.Route{
			ServiceName: rc.ServiceName,
			PathPrefix:  rc.PathPrefix,
			Target:      rc.Target,
			Methods:     rc.Methods,
		})
		if err != nil {
			return fmt.Errorf("failed to register route %s: %w", rc.PathPrefix, err)
		}
	}

	for _, sc := range cfg.Services {
		h := discovery.HealthUnknown
		if sc.Health != "" {
			parsed, err := discovery.ParseHealth(sc.Health)
			if err != nil {
				return fmt.Errorf("instance %s: %w", sc.ID, err)
			}
			h = parsed
		}

		inst := discovery.NewInstance(sc.ID, sc.ServiceName, sc.Address, sc.Port, h)
		inst.Metadata = sc.Metadata
		if err := g.services.Register(inst); err != nil {
			return fmt.Errorf("failed to register instance %s: %w", inst.ID, err)
		}
		g.recordInstanceHealth(inst)
	}

	return nil
}

// ApplyConfig absorbs a reloaded configuration: routes and instances not
// yet known are registered, existing ones are left untouched. Listener
// level settings require a restart.
func (g *Gateway) ApplyConfig(cfg *config.GatewayConfig) {
	for _, rc := range cfg.Routes {
		err := g.routes.Register(route.Route{
			ServiceName: rc.ServiceName,
			PathPrefix:  rc.PathPrefix,
			Target:      rc.Target,
			Methods:     rc.Methods,
		})
		if err != nil {
			g.logger.Debug("route unchanged on reload",
				observability.String("path_prefix", rc.PathPrefix),
				observability.Error(err),
			)
		}
	}

	for _, sc := range cfg.Services {
		h := discovery.HealthUnknown
		if parsed, err := discovery.ParseHealth(sc.Health); err == nil {
			h = parsed
		}
		inst := discovery.NewInstance(sc.ID, sc.ServiceName, sc.Address, sc.Port, h)
		inst.Metadata = sc.Metadata
		if err := g.services.Register(inst); err != nil {
			g.logger.Debug("instance unchanged on reload",
				observability.String("id", inst.ID),
				observability.Error(err),
			)
			continue
		}
		g.recordInstanceHealth(inst)
	}
}

func (g *Gateway) recordInstanceHealth(inst *discovery.Instance) {
	if g.metrics != nil {
		g.metrics.SetInstanceHealth(inst.ServiceName, inst.ID, inst.Health() == discovery.HealthHealthy)
	}
}

// Chain exposes the middleware chain for interceptor registration.
func (g *Gateway) Chain() *middleware.Chain {
	return g.chain
}

// Routes exposes the route registry.
func (g *Gateway) Routes() *route.Registry {
	return g.routes
}

// Services exposes the service registry.
func (g *Gateway) Services() *discovery.Registry {
	return g.services
}

// Engine exposes the gin engine, mainly for tests.
func (g *Gateway) Engine() *gin.Engine {
	return g.engine
}

// buildEngine assembles the gin engine: admin endpoints on fixed paths,
// everything else handed to the dispatcher.
func (g *Gateway) buildEngine() {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	engine := gin.New()
	engine.Use(gin.Recovery())

	g.registerAdminRoutes(engine)

	dispatch := middleware.RequestID()(
		middleware.AccessLog(g.logger)(
			middleware.Recovery(g.logger)(g.dispatcher),
		),
	)
	engine.NoRoute(gin.WrapH(dispatch))

	g.engine = engine
}

// Start runs the HTTP listener until it fails or Stop is called.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return fmt.Errorf("gateway already running")
	}

	g.server = &http.Server{
		Addr:         g.config.Server.ListenAddr,
		Handler:      g.engine,
		ReadTimeout:  g.config.Server.ReadTimeout.Duration(),
		WriteTimeout: g.config.Server.WriteTimeout.Duration(),
		IdleTimeout:  g.config.Server.IdleTimeout.Duration(),
	}
	g.running = true
	g.mu.Unlock()

	g.logger.Info("starting gateway",
		observability.String("addr", g.config.Server.ListenAddr),
	)

	err := g.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		g.mu.Lock()
		g.running = false
		g.mu.Unlock()
		return fmt.Errorf("gateway server error: %w", err)
	}
	return nil
}

// Stop drains connections and shuts the gateway down.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = false
	server := g.server
	g.mu.Unlock()

	g.logger.Info("stopping gateway")

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.Server.ShutdownTimeout.Duration())
	defer cancel()

	var firstErr error
	if err := server.Shutdown(shutdownCtx); err != nil {
		firstErr = err
	}
	if err := g.tracer.Shutdown(shutdownCtx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
