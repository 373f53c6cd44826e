package api

import (
	"encoding/json"
	"net/http"

	"github.com/agentoven/agentdesk/internal/api/handlers"
	"github.com/agentoven/agentdesk/internal/api/middleware"
	"github.com/agentoven/agentdesk/internal/config"
	"github.com/agentoven/agentdesk/pkg/contracts"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes. blobs serves locally
// stored knowledge files under /blobs and may be nil.
func NewRouter(cfg *config.Config, h *handlers.Handlers, chain contracts.AuthProviderChain, blobs http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id", cfg.Auth.UserHeader},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.NewAuthMiddleware(chain, cfg.Auth.RequireAuth).Handler)
	r.Use(middleware.Logger)

	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	if blobs != nil {
		r.Handle("/blobs/*", http.StripPrefix("/blobs", blobs))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.ListAgents)
			r.Post("/", h.CreateAgent)
			r.Route("/{agentID}", func(r chi.Router) {
				r.Get("/", h.GetAgent)
				r.Put("/", h.UpdateAgent)
				r.Delete("/", h.DeleteAgent)

				r.Route("/knowledge", func(r chi.Router) {
					r.Get("/", h.ListKnowledge)
					r.Post("/", h.AddKnowledge)
					r.Delete("/{itemID}", h.DeleteKnowledge)
				})

				r.Post("/chat", h.Chat)

				r.Route("/conversations", func(r chi.Router) {
					r.Get("/", h.ListConversations)
					r.Route("/{conversationID}", func(r chi.Router) {
						r.Get("/messages", h.ListMessages)
						r.Post("/track", h.TrackConversation)
						r.Post("/end", h.EndConversation)
					})
				})
			})
		})

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/threads", h.ListThreads)
			r.Get("/threads/{threadID}/steps", h.ListThreadSteps)
		})

		r.Get("/tools", h.ListTools)
		r.Post("/admin/reconcile", h.Reconcile)
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "agentdesk",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "agentdesk",
		})
	}
}
