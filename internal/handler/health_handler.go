package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports liveness and readiness
type HealthHandler struct {
	master  Pinger
	tenants func() int
}

// NewHealthHandler creates a new HealthHandler. tenants reports the number of
// open tenant pools and may be nil.
func NewHealthHandler(master Pinger, tenants func() int) *HealthHandler {
	return &HealthHandler{master: master, tenants: tenants}
}

// Health handles liveness
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready checks the master database
// GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{"status": "ready"}
	if h.tenants != nil {
		body["tenant_pools"] = h.tenants()
	}
	if err := h.master.Ping(ctx); err != nil {
		body["status"] = "unavailable"
		body["error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}

	c.JSON(http.StatusOK, body)
}
