package handlers

import (
	"net/http"

	"github.com/agentoven/agentdesk/pkg/middleware"
	"github.com/agentoven/agentdesk/pkg/models"
	"github.com/go-chi/chi/v5"
)

func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.Agents.List(r.Context(), middleware.CallerID(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, agents)
}

func (h *Handlers) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var in models.AgentInput
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, r, err)
		return
	}

	agent, err := h.Agents.Create(r.Context(), middleware.CallerID(r.Context()), in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, agent)
}

func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.Agents.Get(r.Context(), middleware.CallerID(r.Context()), chi.URLParam(r, "agentID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

func (h *Handlers) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	var patch models.AgentPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		respondError(w, r, err)
		return
	}

	agent, err := h.Agents.Update(r.Context(), middleware.CallerID(r.Context()), chi.URLParam(r, "agentID"), patch)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

func (h *Handlers) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.Agents.Delete(r.Context(), middleware.CallerID(r.Context()), chi.URLParam(r, "agentID")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
