package middleware

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/sitepulse/pkg/models"
)

type contextKey string

const tenantKey contextKey = "tenant"

// SetTenant attaches the caller's tenant to ctx.
func SetTenant(ctx context.Context, t models.Tenant) context.Context {
	return context.WithValue(ctx, tenantKey, t)
}

// GetTenant returns the tenant identified for the request, if any.
func GetTenant(r *http.Request) (models.Tenant, bool) {
	t, ok := r.Context().Value(tenantKey).(models.Tenant)
	if !ok || t.IsZero() {
		return models.Tenant{}, false
	}
	return t, true
}
