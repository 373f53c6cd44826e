// Package platform is the client for the external agent execution platform:
// the service that actually runs an agent's LLM logic. The primary store
// mirrors each agent and its knowledge there; chat turns are invoked there.
package platform

import (
	"context"
	"errors"
)

// Client is the execution platform contract. Implementations make a single
// attempt per call; retry policy belongs to the caller.
type Client interface {
	CreateAgent(ctx context.Context, spec AgentSpec) (*ExternalAgent, error)
	UpdateAgent(ctx context.Context, externalID string, spec AgentSpec) (*ExternalAgent, error)
	DeleteAgent(ctx context.Context, externalID string) error

	AddTextKnowledge(ctx context.Context, externalID string, p KnowledgePayload) error
	AddURLKnowledge(ctx context.Context, externalID string, p KnowledgePayload) error
	AddFileKnowledge(ctx context.Context, externalID string, p KnowledgePayload) error
	DeleteKnowledge(ctx context.Context, externalID, itemID string) error

	InvokeAgent(ctx context.Context, externalID, input, conversationID string) (*Invocation, error)
	ListTools(ctx context.Context) ([]Tool, error)
}

// AgentSpec is the agent representation the platform accepts.
type AgentSpec struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	Model        string                 `json:"model,omitempty"`
	Temperature  float64                `json:"temperature,omitempty"`
	Instructions string                 `json:"instructions,omitempty"`
	Tools        []string               `json:"tools,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ExternalAgent is the platform's view of a mirrored agent.
type ExternalAgent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// KnowledgePayload is one knowledge source pushed to a mirrored agent.
// ItemID is the primary-store id, so later deletes can address it.
type KnowledgePayload struct {
	ItemID   string                 `json:"item_id"`
	Content  string                 `json:"content,omitempty"`
	URL      string                 `json:"url,omitempty"`
	FileName string                 `json:"file_name,omitempty"`
	MimeType string                 `json:"mime_type,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Invocation is the result of running an agent once.
type Invocation struct {
	Output   string                 `json:"output"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Tool is a capability agents on the platform can be given.
type Tool struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Error is the single failure type of the client. Status is zero when the
// request never got a response.
type Error struct {
	Op      string
	Status  int
	Payload string
	Err     error
}

func (e *Error) Error() string {
	msg := "platform " + e.Op
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Payload != "" {
		msg += ": " + e.Payload
	}
	return msg
}

// StatusCode returns the HTTP status of a platform failure, or 0.
func StatusCode(err error) int {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Status
	}
	return 0
}

func (e *Error) Unwrap() error { return e.Err }
