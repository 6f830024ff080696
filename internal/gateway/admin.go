package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opsdeck/gateway/internal/discovery"
	"github.com/opsdeck/gateway/internal/health"
	"github.com/opsdeck/gateway/internal/observability"
	"github.com/opsdeck/gateway/internal/route"
	"github.com/opsdeck/gateway/internal/util"
)

// registerAdminRoutes mounts the gateway's own API: probes, metrics, and
// the route/service management surface.
func (g *Gateway) registerAdminRoutes(engine *gin.Engine) {
	engine.GET("/health", g.handleHealth)
	engine.GET("/ready", g.handleReady)
	if g.metrics != nil {
		engine.GET("/metrics", gin.WrapH(g.metrics.Handler()))
	}

	engine.GET("/routes", g.handleListRoutes)
	engine.POST("/routes", g.handleRegisterRoute)
	engine.DELETE("/routes", g.handleDeregisterRoute)

	engine.GET("/services", g.handleListServices)
	engine.GET("/services/health", g.handleServicesHealth)
	engine.POST("/services", g.handleRegisterInstance)
	engine.DELETE("/services/:id", g.handleDeregisterInstance)
	engine.PUT("/services/:id/health", g.handleUpdateInstanceHealth)
}

func (g *Gateway) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, g.checker.Health())
}

func (g *Gateway) handleReady(c *gin.Context) {
	resp := g.checker.Readiness()

	status := http.StatusOK
	if resp.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

func (g *Gateway) handleListRoutes(c *gin.Context) {
	routes := g.routes.Routes()
	c.JSON(http.StatusOK, gin.H{
		"routes": routes,
		"total":  len(routes),
	})
}

func (g *Gateway) handleRegisterRoute(c *gin.Context) {
	var r route.Route
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := g.routes.Register(r); err != nil {
		c.JSON(util.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, r)
}

func (g *Gateway) handleDeregisterRoute(c *gin.Context) {
	prefix := c.Query("prefix")
	if prefix == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prefix query parameter is required"})
		return
	}

	if err := g.routes.Deregister(prefix); err != nil {
		c.JSON(util.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

// serviceEntry is one service in the listing response.
type serviceEntry struct {
	Name      string               `json:"name"`
	Instances []discovery.Snapshot `json:"instances"`
}

func (g *Gateway) handleListServices(c *gin.Context) {
	names := g.services.Services()

	services := make([]serviceEntry, 0, len(names))
	for _, name := range names {
		instances := g.services.Instances(name)
		entry := serviceEntry{
			Name:      name,
			Instances: make([]discovery.Snapshot, 0, len(instances)),
		}
		for _, inst := range instances {
			entry.Instances = append(entry.Instances, inst.Snapshot())
		}
		services = append(services, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"services": services,
		"total":    len(services),
	})
}

func (g *Gateway) handleServicesHealth(c *gin.Context) {
	c.JSON(http.StatusOK, g.services.HealthSnapshot())
}

// instanceRequest is the registration payload for a backend instance.
type instanceRequest struct {
	ID          string            `json:"id"`
	ServiceName string            `json:"service_name"`
	Address     string            `json:"address"`
	Port        int               `json:"port"`
	Health      string            `json:"health"`
	Metadata    map[string]string `json:"metadata"`
}

func (g *Gateway) handleRegisterInstance(c *gin.Context) {
	var req instanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	h := discovery.HealthUnknown
	if req.Health != "" {
		parsed, err := discovery.ParseHealth(req.Health)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h = parsed
	}

	inst := discovery.NewInstance(req.ID, req.ServiceName, req.Address, req.Port, h)
	inst.Metadata = req.Metadata

	if err := g.services.Register(inst); err != nil {
		c.JSON(util.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	g.recordInstanceHealth(inst)

	c.JSON(http.StatusCreated, inst.Snapshot())
}

func (g *Gateway) handleDeregisterInstance(c *gin.Context) {
	id := c.Param("id")

	inst, err := g.services.Get(id)
	if err == nil && g.metrics != nil {
		g.metrics.RemoveInstance(inst.ServiceName, inst.ID)
	}

	// Deregistration is idempotent; deleting an absent instance succeeds.
	if err := g.services.Deregister(id); err != nil {
		c.JSON(util.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

// healthUpdateRequest is the payload for a health transition.
type healthUpdateRequest struct {
	Health string `json:"health" binding:"required"`
}

func (g *Gateway) handleUpdateInstanceHealth(c *gin.Context) {
	id := c.Param("id")

	var req healthUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "health field is required"})
		return
	}

	h, err := discovery.ParseHealth(req.Health)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := g.services.UpdateHealth(id, h); err != nil {
		c.JSON(util.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	if inst, err := g.services.Get(id); err == nil {
		g.recordInstanceHealth(inst)
		g.logger.Info("instance health updated",
			observability.String("id", id),
			observability.String("service", inst.ServiceName),
			observability.String("health", h.String()),
		)
	}

	c.Status(http.StatusNoContent)
}
