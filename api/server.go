/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/time/*        Time dimension
  /api/dimensions/*  SCD Type 2 versioning and reads
  /api/facts/*       Fact computation and reads
  /api/pipeline/*    Full rebuild
  /api/runs          Run history
  /api/health        Liveness
  /metrics           Prometheus (optional, when a handler is passed)

SECURITY NOTE:
  No authentication middleware. The service is meant to sit behind an
  internal gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured. metricsHandler
// may be nil when metrics are disabled.
func NewRouter(h *Handler, metricsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/time", func(r chi.Router) {
			r.Get("/", h.ListTimePeriods)
			r.Post("/rebuild", h.RebuildTime)
		})

		r.Route("/dimensions", func(r chi.Router) {
			r.Post("/{type}/version", h.VersionDimension)
			r.Get("/{type}/versions", h.ListVersions)
		})

		r.Route("/facts", func(r chi.Router) {
			r.Get("/{type}", h.ListFacts)
			r.Post("/{type}/compute", h.ComputeFacts)
		})

		r.Post("/pipeline/run", h.RunPipeline)
		r.Get("/runs", h.ListRuns)
		r.Get("/health", h.Health)
	})

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	return r
}
