// Package handlers implements the HTTP handlers of the agentdesk API.
// Handlers decode the request, take the caller id from the context and
// delegate to the services in pkg/contracts; they hold no business logic.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/agentoven/agentdesk/internal/apperr"
	"github.com/agentoven/agentdesk/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// maxJSONBody caps JSON request bodies.
const maxJSONBody = 1 << 20

// Handlers holds all handler dependencies. Tools may be nil when no
// execution platform is configured.
type Handlers struct {
	Agents        contracts.AgentService
	Knowledge     contracts.KnowledgeService
	Conversations contracts.ChatService
	Traces        contracts.TraceReader
	Tools         contracts.ToolCatalog
	Reconciler    contracts.MirrorReconciler
}

// ── Helpers ──────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError renders err as {"error": kind, "message": msg}.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	respondJSON(w, status, map[string]string{
		"error":   string(apperr.KindOf(err)),
		"message": apperr.Message(err),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation("request body exceeds %d bytes", tooLarge.Limit)
		}
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return def
}
