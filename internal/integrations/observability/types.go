// Package observability records conversations on the external tracing
// platform as Threads (one per conversation) holding Steps (one per turn),
// each Step carrying an Event with the literal content.
//
// Client is the raw capability. Tracker wraps it with the failure policy the
// chat flow relies on: tracking never returns an error and never blocks a
// reply on the tracing backend being healthy.
package observability

import (
	"context"
	"time"
)

// StepType is the author or nature of a Step.
type StepType string

const (
	StepHuman  StepType = "human"
	StepAI     StepType = "ai"
	StepSystem StepType = "system"
	StepError  StepType = "error"
)

type Thread struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`

	// Placeholder marks a value synthesized by Tracker after a failed write.
	Placeholder bool `json:"-"`
}

type Step struct {
	ID        string                 `json:"id"`
	ThreadID  string                 `json:"thread_id"`
	Name      string                 `json:"name"`
	Type      StepType               `json:"type"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`

	Placeholder bool `json:"-"`
}

type Event struct {
	ID        string                 `json:"id"`
	StepID    string                 `json:"step_id"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Client is the observability platform contract. Every method may fail.
type Client interface {
	CreateThread(ctx context.Context, name string, metadata map[string]interface{}) (*Thread, error)
	CreateStep(ctx context.Context, threadID, name string, stepType StepType, metadata map[string]interface{}) (*Step, error)
	CreateEvent(ctx context.Context, stepID, content string, metadata map[string]interface{}) (*Event, error)
	ListThreads(ctx context.Context) ([]Thread, error)
	ListThreadSteps(ctx context.Context, threadID string) ([]Step, error)
}
