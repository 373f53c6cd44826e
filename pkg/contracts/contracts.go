// Package contracts defines the service interfaces the HTTP layer depends on.
//
// The concrete implementations live in internal/agentsync, internal/knowledge
// and internal/chat; pkg/server wires them together. Anything embedding the
// server can swap one for its own implementation.
package contracts

import (
	"context"

	"github.com/agentoven/agentdesk/internal/agentsync"
	"github.com/agentoven/agentdesk/internal/integrations/observability"
	"github.com/agentoven/agentdesk/internal/integrations/platform"
	"github.com/agentoven/agentdesk/internal/store"
	"github.com/agentoven/agentdesk/pkg/models"
)

// Store is a type alias for the internal Store interface.
type Store = store.Store

// ErrNotFound is a type alias for the internal ErrNotFound error.
type ErrNotFound = store.ErrNotFound

// ── Agents ──────────────────────────────────────────────────

// AgentService manages agents and their execution platform mirror.
// Implementation: internal/agentsync.Service
type AgentService interface {
	Create(ctx context.Context, ownerID string, in models.AgentInput) (*models.Agent, error)
	Update(ctx context.Context, callerID, agentID string, patch models.AgentPatch) (*models.Agent, error)
	Delete(ctx context.Context, callerID, agentID string) error
	Get(ctx context.Context, callerID, agentID string) (*models.Agent, error)
	List(ctx context.Context, callerID string) ([]models.Agent, error)
}

// MirrorReconciler re-mirrors agents whose platform copy is missing.
// Implementation: internal/agentsync.Reconciler
type MirrorReconciler interface {
	Sweep(ctx context.Context) agentsync.SweepStats
}

// ── Knowledge ───────────────────────────────────────────────

// KnowledgeService validates and stores knowledge items.
// Implementation: internal/knowledge.Service
type KnowledgeService interface {
	Add(ctx context.Context, callerID, agentID string, in models.KnowledgeInput) (*models.KnowledgeItem, error)
	Delete(ctx context.Context, callerID, agentID, itemID string) error
	List(ctx context.Context, callerID, agentID string) ([]models.KnowledgeItem, error)
}

// ── Conversations ───────────────────────────────────────────

// ChatService runs chat turns and their trace.
// Implementation: internal/chat.Orchestrator
type ChatService interface {
	Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResult, error)
	Conversation(ctx context.Context, callerID, agentID, conversationID string) (*models.Conversation, error)
	ListConversations(ctx context.Context, callerID, agentID string, limit int) ([]models.Conversation, error)
	Messages(ctx context.Context, conversationID string) ([]models.Message, error)
	TrackTranscript(ctx context.Context, conversationID string, msgs []models.Message) int
	EndConversation(ctx context.Context, conversationID string)
}

// TraceReader lists what was recorded on the observability platform.
// Implementation: internal/integrations/observability.Tracker
type TraceReader interface {
	ListThreads(ctx context.Context) []observability.Thread
	ListThreadSteps(ctx context.Context, threadID string) []observability.Step
}

// ToolCatalog lists the tools agents can be given.
// Implementation: internal/integrations/platform.Client
type ToolCatalog interface {
	ListTools(ctx context.Context) ([]platform.Tool, error)
}
