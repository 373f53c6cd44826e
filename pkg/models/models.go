package models

import (
	"strings"
	"time"
)

// ── Agent ────────────────────────────────────────────────────

// Agent is a configured LLM persona owned by a single user.
// The primary store is the source of truth; Config.ExternalRef links the
// record to its mirror on the execution platform once mirroring succeeds.
type Agent struct {
	ID          string      `json:"id" db:"id"`
	OwnerID     string      `json:"owner_id" db:"owner_id"`
	Name        string      `json:"name" db:"name"`
	Description string      `json:"description" db:"description"`
	Public      bool        `json:"is_public" db:"is_public"`
	Config      AgentConfig `json:"config" db:"config"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// AgentConfig is the free-form configuration blob of an agent.
// Fields the application understands are typed; anything else the caller
// sends survives in Extra.
type AgentConfig struct {
	Model        string                 `json:"model,omitempty"`
	Temperature  float64                `json:"temperature,omitempty"`
	SystemPrompt string                 `json:"system_prompt,omitempty"`
	Tools        []string               `json:"tools,omitempty"`
	ExternalRef  string                 `json:"externalRef,omitempty"`
	Extra        map[string]interface{} `json:"extra,omitempty"`
}

// Mirrored reports whether the agent has a counterpart on the execution platform.
func (a *Agent) Mirrored() bool {
	return a != nil && a.Config.ExternalRef != ""
}

// AgentInput is the payload accepted when an owner creates an agent.
type AgentInput struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Public      bool        `json:"is_public"`
	Config      AgentConfig `json:"config"`
}

// AgentPatch carries the fields to change on an existing agent.
// Nil fields are left untouched. ExternalRef inside Config is never taken
// from callers; the synchronization service owns it.
type AgentPatch struct {
	Name        *string      `json:"name,omitempty"`
	Description *string      `json:"description,omitempty"`
	Public      *bool        `json:"is_public,omitempty"`
	Config      *AgentConfig `json:"config,omitempty"`
}

// ── Knowledge ────────────────────────────────────────────────

// ContentType enumerates the kinds of knowledge an agent can be fed.
type ContentType string

const (
	ContentText ContentType = "text"
	ContentURL  ContentType = "url"
	ContentFile ContentType = "file"
)

// Valid reports whether c is one of the three supported content types.
func (c ContentType) Valid() bool {
	switch c {
	case ContentText, ContentURL, ContentFile:
		return true
	}
	return false
}

// KnowledgeItem is one piece of knowledge attached to an agent.
// For file items Content holds the storage URL, never the bytes.
type KnowledgeItem struct {
	ID          string                 `json:"id" db:"id"`
	AgentID     string                 `json:"agent_id" db:"agent_id"`
	ContentType ContentType            `json:"content_type" db:"content_type"`
	Content     string                 `json:"content" db:"content"`
	FileName    string                 `json:"file_name,omitempty" db:"file_name"`
	Metadata    map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time              `json:"created_at" db:"created_at"`
}

// Metadata keys the service sets on file items. Submitted metadata cannot
// carry them.
const (
	MetaStoragePath = "storage_path"
	MetaSize        = "size"
	MetaMimeType    = "mime_type"
)

// StoragePath returns where the item's blob lives, or "" when it has none.
// Only file items own a blob, and only under their agent's prefix.
func (k KnowledgeItem) StoragePath() string {
	if k.ContentType != ContentFile {
		return ""
	}
	path, _ := k.Metadata[MetaStoragePath].(string)
	if !strings.HasPrefix(path, k.AgentID+"/") || strings.Contains(path, "..") {
		return ""
	}
	return path
}

// KnowledgeInput is a knowledge submission before validation.
// Data and MimeType are only meaningful for file submissions.
type KnowledgeInput struct {
	ContentType ContentType            `json:"content_type"`
	Content     string                 `json:"content"`
	FileName    string                 `json:"file_name,omitempty"`
	MimeType    string                 `json:"mime_type,omitempty"`
	Data        []byte                 `json:"-"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// ── Conversations ────────────────────────────────────────────

// Conversation is one chat session between a caller and an agent.
// CallerID is empty for anonymous callers.
type Conversation struct {
	ID        string    `json:"id" db:"id"`
	AgentID   string    `json:"agent_id" db:"agent_id"`
	CallerID  string    `json:"caller_id,omitempty" db:"caller_id"`
	ThreadID  string    `json:"thread_id,omitempty" db:"thread_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Role identifies the author of a chat message.
type Role string

const (
	RoleHuman  Role = "human"
	RoleAI     Role = "ai"
	RoleSystem Role = "system"
)

// Message is one chat turn. IDs are ULIDs, so lexical order is creation order.
type Message struct {
	ID             string                 `json:"id" db:"id"`
	ConversationID string                 `json:"conversation_id" db:"conversation_id"`
	Role           Role                   `json:"role" db:"role"`
	Content        string                 `json:"content" db:"content"`
	Metadata       map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt      time.Time              `json:"created_at" db:"created_at"`
}

// ── Chat ─────────────────────────────────────────────────────

// ChatRequest is one inbound chat turn.
type ChatRequest struct {
	AgentID        string `json:"agent_id"`
	CallerID       string `json:"-"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ChatResult is what the caller gets back for a chat turn. Exactly one of
// Message and Error is set; ConversationID is always set so the client can
// retry inside the same conversation.
type ChatResult struct {
	ConversationID string                 `json:"conversation_id"`
	Message        string                 `json:"message,omitempty"`
	Error          string                 `json:"error,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}
