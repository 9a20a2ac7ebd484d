package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prohmpiriya/taskflow/internal/domain"
	"github.com/prohmpiriya/taskflow/internal/tenantctx"
	"github.com/prohmpiriya/taskflow/internal/tenantdb"
	"github.com/prohmpiriya/taskflow/pkg/logger"
	pkgmw "github.com/prohmpiriya/taskflow/pkg/middleware"
)

// TenantResolver resolves tenant handles. *tenantdb.Registry satisfies it.
type TenantResolver interface {
	Resolve(ctx context.Context, tenantID string) (*tenantdb.Handle, error)
}

const contextKeyActor = "actor"

// Tenant resolves the tenant named by the JWT tenant_id claim and binds the
// handle to the request context. It must run after JWTMiddleware.
func Tenant(resolver TenantResolver, metrics *HTTPMetrics, log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.Nop()
	}
	return func(c *gin.Context) {
		tenantID, _ := pkgmw.GetTenantID(c)
		if tenantID == "" {
			metrics.tenantMissing()
			AbortWithError(c, domain.ErrTenantNotFound)
			return
		}

		h, err := resolver.Resolve(c.Request.Context(), tenantID)
		if err != nil {
			log.WarnContext(c.Request.Context(), "tenant resolution failed",
				zap.String("tenant_id", tenantID),
				zap.Error(err),
			)
			AbortWithError(c, err)
			return
		}

		userID, _ := pkgmw.GetUserID(c)
		role, _ := pkgmw.GetRole(c)
		actor := domain.Actor{ID: userID, Role: domain.ParseRole(role)}
		c.Set(contextKeyActor, actor)

		ctx := tenantctx.WithHandle(c.Request.Context(), h)
		ctx = context.WithValue(ctx, logger.ActorIDKey, userID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// GetActor returns the authenticated actor
func GetActor(c *gin.Context) domain.Actor {
	if v, ok := c.Get(contextKeyActor); ok {
		if a, ok := v.(domain.Actor); ok {
			return a
		}
	}
	return domain.Actor{}
}

// GetHandle returns the tenant handle bound by Tenant
func GetHandle(c *gin.Context) (*tenantdb.Handle, bool) {
	return tenantctx.FromContext(c.Request.Context())
}
