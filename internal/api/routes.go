package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured. When gatherer
// is non-nil, Prometheus metrics are exposed at /metrics without auth.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes (no auth required)
		r.Get("/health", h.Health)

		// Protected routes (auth required)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))

			r.Route("/users/{userID}", func(r chi.Router) {
				r.Use(UserMiddleware)
				r.Post("/submissions", h.Submit)
				r.Get("/clarification", h.GetClarification)
				r.Delete("/clarification", h.CancelClarification)
			})

			r.Post("/admin/sweep", h.Sweep)
			r.Get("/admin/snapshot", h.SnapshotURL)
		})
	})

	return r
}
