package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/thirdeye-labs/overseer/internal/api/handlers"
	"github.com/thirdeye-labs/overseer/internal/api/middleware"
	"github.com/thirdeye-labs/overseer/internal/config"
	"github.com/thirdeye-labs/overseer/internal/metrics"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers, m metrics.Metrics) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.TenantExtractor)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant", "X-Agent-Identity", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))
	if prom, ok := m.(*metrics.Prom); ok {
		r.Handle("/metrics", prom.Handler())
	}

	// MCP (agent-facing, JSON-RPC 2.0)
	r.Post("/mcp", h.MCPEndpoint)

	// API v1 (observer/operator-facing)
	r.Route("/api/v1", func(r chi.Router) {
		// Compression helps the JSON query surface; event streams are
		// mounted outside this group so upgrades and SSE stay unbuffered.
		r.Group(func(r chi.Router) {
			r.Use(chimw.Compress(5))

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", h.ListSessions)
				r.Route("/{sessionID}", func(r chi.Router) {
					r.Get("/", h.GetSession)
					r.Get("/events", h.SessionEvents)
					r.Get("/runs", h.SessionRuns)
					r.Get("/summary", h.SessionSummary)
				})
			})

			r.Route("/personas", func(r chi.Router) {
				r.Get("/", h.ListPersonas)
				r.Route("/{gate}", func(r chi.Router) {
					r.Get("/", h.GetPersona)
					r.Put("/", h.UpsertPersona)
					r.Delete("/", h.DeletePersona)
				})
			})

			r.Route("/providers", func(r chi.Router) {
				r.Get("/health", h.ProviderHealth)
				r.Get("/models", h.ProviderModels)
			})
		})

		// Event streams
		r.Get("/sessions/{sessionID}/events/ws", h.SessionEventsWS)
		r.Get("/sessions/{sessionID}/events/stream", h.SessionEventsSSE)
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "overseer",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "overseer",
		})
	}
}
