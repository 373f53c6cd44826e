package handlers

import (
	"net/http"

	"github.com/agentoven/agentdesk/pkg/middleware"
	"github.com/agentoven/agentdesk/pkg/models"
	"github.com/go-chi/chi/v5"
)

// Chat runs one turn. Invocation failures still answer 200 with the
// conversation id and an error field so the client can retry in place.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	req.AgentID = chi.URLParam(r, "agentID")
	req.CallerID = middleware.CallerID(r.Context())

	res, err := h.Conversations.Chat(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.Conversations.ListConversations(r.Context(), middleware.CallerID(r.Context()), chi.URLParam(r, "agentID"), queryInt(r, "limit", 50))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, convs)
}

func (h *Handlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	conv, err := h.Conversations.Conversation(r.Context(), middleware.CallerID(r.Context()), chi.URLParam(r, "agentID"), chi.URLParam(r, "conversationID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	msgs, err := h.Conversations.Messages(r.Context(), conv.ID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, msgs)
}

type trackRequest struct {
	Messages []models.Message `json:"messages"`
}

// TrackConversation sends a client-held transcript to the trace, skipping
// messages already tracked for the conversation.
func (h *Handlers) TrackConversation(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	conv, err := h.Conversations.Conversation(r.Context(), middleware.CallerID(r.Context()), chi.URLParam(r, "agentID"), chi.URLParam(r, "conversationID"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	n := h.Conversations.TrackTranscript(r.Context(), conv.ID, req.Messages)
	respondJSON(w, http.StatusAccepted, map[string]int{"tracked": n})
}

func (h *Handlers) EndConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.Conversations.Conversation(r.Context(), middleware.CallerID(r.Context()), chi.URLParam(r, "agentID"), chi.URLParam(r, "conversationID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	h.Conversations.EndConversation(r.Context(), conv.ID)
	w.WriteHeader(http.StatusAccepted)
}
