package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/espresso-hep/espresso/internal/eventbus"
	"github.com/espresso-hep/espresso/internal/store"
	"github.com/espresso-hep/espresso/internal/weights"
)

func NewRouter(s store.Store, bus eventbus.Bus, canceller Canceller, reg *weights.Registry, adminToken string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(RateLimitMiddleware(120))

	runs := NewRunsHandler(s, bus, canceller, reg)
	registry := NewRegistryHandler(reg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/runs", runs.Create)
		r.Get("/runs", runs.List)
		r.Get("/runs/{id}", runs.Get)
		r.Get("/runs/{id}/config", runs.Config)
		r.Get("/runs/{id}/report", runs.Report)
		r.Get("/runs/{id}/chunks", runs.Chunks)

		r.Get("/registry/weights", registry.Weights)
		r.Get("/registry/modifiers", registry.Modifiers)

		r.Group(func(r chi.Router) {
			r.Use(AdminAuthMiddleware(adminToken))
			r.Post("/runs/{id}/cancel", runs.Cancel)
			r.Get("/stats", runs.Stats)
		})
	})

	return r
}

func NewMetricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
