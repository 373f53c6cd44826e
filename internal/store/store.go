// Package store provides the primary record store for agents, knowledge,
// conversations and messages. The store is the source of truth; external
// mirrors are reconciled against it, never the other way round.
package store

import (
	"context"

	"github.com/agentoven/agentdesk/pkg/models"
)

// Store is the primary storage interface.
// Services depend on this interface so tests can run on the in-memory
// implementation while production uses PostgreSQL or SQLite.
type Store interface {
	AgentStore
	KnowledgeStore
	ConversationStore
	MessageStore

	// Ping checks if the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Agent Store ─────────────────────────────────────────────

type AgentStore interface {
	CreateAgent(ctx context.Context, agent *models.Agent) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	ListAgentsByOwner(ctx context.Context, ownerID string) ([]models.Agent, error)
	ListPublicAgents(ctx context.Context) ([]models.Agent, error)
	UpdateAgent(ctx context.Context, agent *models.Agent) error
	DeleteAgent(ctx context.Context, id string) error

	// SetAgentExternalRef patches only config.externalRef, leaving the rest
	// of the row as the last writer left it.
	SetAgentExternalRef(ctx context.Context, id, ref string) error

	// ListUnmirroredAgents returns up to limit agents without an externalRef
	// whose id sorts after afterID, in id order. Pass "" to start at the top.
	ListUnmirroredAgents(ctx context.Context, afterID string, limit int) ([]models.Agent, error)
}

// ── Knowledge Store ─────────────────────────────────────────

type KnowledgeStore interface {
	CreateKnowledge(ctx context.Context, item *models.KnowledgeItem) error
	GetKnowledge(ctx context.Context, id string) (*models.KnowledgeItem, error)
	ListKnowledge(ctx context.Context, agentID string) ([]models.KnowledgeItem, error)
	DeleteKnowledge(ctx context.Context, id string) error

	// DeleteKnowledgeByAgent removes every item of an agent and returns how many went.
	DeleteKnowledgeByAgent(ctx context.Context, agentID string) (int, error)
}

// ── Conversation Store ──────────────────────────────────────

type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	SetConversationThread(ctx context.Context, id, threadID string) error
	ListConversations(ctx context.Context, agentID string, limit int) ([]models.Conversation, error)
}

// ── Message Store ───────────────────────────────────────────

type MessageStore interface {
	AppendMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ErrConflict is returned when a write violates a uniqueness constraint.
type ErrConflict struct {
	Entity string
	Key    string
}

func (e *ErrConflict) Error() string {
	return e.Entity + " already exists: " + e.Key
}

const defaultListLimit = 100

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
