package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	mw "github.com/kiranshivaraju/sitepulse/internal/api/middleware"
	"github.com/kiranshivaraju/sitepulse/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	SubmitJobHandler    http.HandlerFunc
	GetJobHandler       http.HandlerFunc
	RetryJobHandler     http.HandlerFunc
	CancelJobHandler    http.HandlerFunc
	AdoptSessionHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Tenant-scoped routes. Callers without an API key act for the session
	// in X-Session-ID.
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Identify)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/jobs", orNotImplemented(deps.SubmitJobHandler))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
		r.Post("/api/v1/jobs/{jobID}/retry", orNotImplemented(deps.RetryJobHandler))
		r.Post("/api/v1/jobs/{jobID}/cancel", orNotImplemented(deps.CancelJobHandler))

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireUser)
			r.Post("/api/v1/session/adopt", orNotImplemented(deps.AdoptSessionHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, response.CodeNotImplemented, "Endpoint not yet implemented", nil)
	}
}
