package handlers

import (
	"context"
	"net/http"

	"example.com/backstage/services/keygate/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// HealthHandler serves /health and /metrics
type HealthHandler struct {
	metrics *metrics.Metrics
	checks  map[string]HealthCheck
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(m *metrics.Metrics, checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{
		metrics: m,
		checks:  checks,
	}
}

// HandleGetHealthCheck runs every probe and reports the overall status
func (h *HealthHandler) HandleGetHealthCheck(c *gin.Context) {
	details := make(map[string]bool, len(h.checks))
	healthy := true
	for name, check := range h.checks {
		ok := check(c.Request.Context()) == nil
		h.metrics.SetHealth(name, ok)
		details[name] = ok
		healthy = healthy && ok
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":  healthy,
		"details": details,
		"uptime":  h.metrics.GetUptimeSeconds(),
	})
}

// RegisterRoutes registers the handler's routes. /metrics is only served when collectors exist.
func (h *HealthHandler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/health", h.HandleGetHealthCheck)
	if registry := h.metrics.Registry(); registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}
}
