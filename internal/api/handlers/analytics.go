package handlers

import (
	"net/http"

	"github.com/agentoven/agentdesk/internal/apperr"
	"github.com/agentoven/agentdesk/internal/integrations/platform"
	"github.com/agentoven/agentdesk/pkg/middleware"
	"github.com/go-chi/chi/v5"
)

// ── Analytics ────────────────────────────────────────────────

func (h *Handlers) ListThreads(w http.ResponseWriter, r *http.Request) {
	if middleware.CallerID(r.Context()) == "" {
		respondError(w, r, apperr.Forbidden("authentication required"))
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"threads": h.Traces.ListThreads(r.Context())})
}

func (h *Handlers) ListThreadSteps(w http.ResponseWriter, r *http.Request) {
	if middleware.CallerID(r.Context()) == "" {
		respondError(w, r, apperr.Forbidden("authentication required"))
		return
	}
	steps := h.Traces.ListThreadSteps(r.Context(), chi.URLParam(r, "threadID"))
	respondJSON(w, http.StatusOK, map[string]interface{}{"steps": steps})
}

// ── Platform ─────────────────────────────────────────────────

func (h *Handlers) ListTools(w http.ResponseWriter, r *http.Request) {
	if h.Tools == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"tools": []platform.Tool{}})
		return
	}
	tools, err := h.Tools.ListTools(r.Context())
	if err != nil {
		respondError(w, r, apperr.Upstream("list tools", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"tools": tools})
}

// Reconcile runs one mirror sweep now.
func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	if middleware.CallerID(r.Context()) == "" {
		respondError(w, r, apperr.Forbidden("authentication required"))
		return
	}
	respondJSON(w, http.StatusOK, h.Reconciler.Sweep(r.Context()))
}
