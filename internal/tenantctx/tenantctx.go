// Package tenantctx carries the resolved tenant handle of one in-flight
// operation through a context.Context.
package tenantctx

import (
	"context"

	"github.com/prohmpiriya/taskflow/internal/tenantdb"
	"github.com/prohmpiriya/taskflow/pkg/logger"
)

type handleKey struct{}

// WithHandle returns a child context carrying h. The tenant id is also set
// for the logger.
func WithHandle(ctx context.Context, h *tenantdb.Handle) context.Context {
	ctx = context.WithValue(ctx, handleKey{}, h)
	return context.WithValue(ctx, logger.TenantIDKey, h.TenantID())
}

// FromContext returns the handle attached by WithHandle
func FromContext(ctx context.Context) (*tenantdb.Handle, bool) {
	h, ok := ctx.Value(handleKey{}).(*tenantdb.Handle)
	return h, ok && h != nil
}
