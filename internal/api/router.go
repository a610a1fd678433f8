// Package api assembles the node's HTTP facade: the middleware chain plus
// the route table for spec §6.1's endpoints. Grounded on the teacher's
// internal/api/router.go, trimmed to this domain's much smaller surface —
// no agent/recipe/model-router/kitchen resource tree, since a swarm node
// exposes sessions and swarm control rather than a catalog.
package api

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/go-chi/chi/v5"

	"github.com/agentswarm/swarmnode/internal/api/handlers"
	"github.com/agentswarm/swarmnode/internal/api/middleware"
)

// NewRouter builds the HTTP router for a node's facade.
func NewRouter(h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.AppNameExtractor)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-App-Name", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)
	r.Get("/version", h.Version)

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.Chat)
		r.Post("/cancel", h.Cancel)
		r.Post("/stop_worker", h.StopWorker)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.CreateSession)
			r.Get("/", h.ListSessions)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/history", h.SessionHistory)
				r.Delete("/", h.DeleteSession)
			})
		})
	})

	return r
}
