package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/kiranshivaraju/sitepulse/internal/api/response"
)

const healthCheckTimeout = 3 * time.Second

// Pinger is a dependency the health endpoint probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health that
// pings every named dependency.
func NewHealthHandler(deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		checks := make(map[string]string, len(deps))
		degraded := false
		for name, dep := range deps {
			checks[name] = "ok"
			if err := dep.Ping(ctx); err != nil {
				checks[name] = "degraded"
				degraded = true
			}
		}

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, response.CodeDegraded,
				"One or more services degraded", checks)
			return
		}
		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
