package di

import (
	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/taskflow/internal/middleware"
	pkgmw "github.com/prohmpiriya/taskflow/pkg/middleware"
)

// Router builds the HTTP surface:
//
//	/health, /ready, /metrics     unauthenticated
//	/api/v1/...                   JWT, tenant resolution, per-tenant rate limit
//	/admin/...                    admin key, audited
func (c *Container) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), c.Metrics.Middleware())

	router.GET("/health", c.Health.Health)
	router.GET("/ready", c.Health.Ready)
	router.GET("/metrics", c.Metrics.Handler())

	rl := c.Config.RateLimit
	if !rl.Enabled {
		rl.Requests = 0
	}
	v1 := router.Group("/api/v1",
		pkgmw.JWTMiddleware(&pkgmw.JWTConfig{
			Secret: c.Config.JWT.Secret,
			Issuer: c.Config.JWT.Issuer,
		}),
		middleware.Tenant(c.Registry, c.Metrics, c.Log),
		middleware.TenantRateLimit(middleware.RateLimitConfig{
			Requests: rl.Requests,
			Window:   rl.Window,
		}, c.Limiter, c.Metrics, c.Log),
	)
	c.Tasks.RegisterRoutes(v1)
	c.Projects.RegisterRoutes(v1)
	c.Users.RegisterRoutes(v1)

	if c.TenantAdmin != nil && c.Config.Admin.APIKey != "" {
		admin := router.Group("/admin",
			middleware.AdminKey(c.Config.Admin.APIKey),
			pkgmw.AuditMiddleware(c.AuditLog),
		)
		c.TenantAdmin.RegisterRoutes(admin)
	}

	return router
}
