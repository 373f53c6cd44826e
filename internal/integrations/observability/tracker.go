package observability

import (
	"context"
	"strings"
	"time"

	"github.com/agentoven/agentdesk/internal/besteffort"
	"github.com/agentoven/agentdesk/internal/textutil"
	"github.com/google/uuid"
)

// Tracker applies the tracking failure policy on top of a Client. Writes
// never return an error and never return nil; a failed write yields a
// placeholder marked with Placeholder=true. Reads return empty slices on
// failure.
type Tracker struct {
	client Client
}

func NewTracker(client Client) *Tracker {
	return &Tracker{client: client}
}

const placeholderPrefix = "placeholder-"

// IsPlaceholderID reports whether id was synthesized after a failed write.
func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, placeholderPrefix)
}

func placeholderThread(name string, metadata map[string]interface{}) *Thread {
	return &Thread{
		ID:          placeholderPrefix + uuid.NewString(),
		Name:        name,
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
		Placeholder: true,
	}
}

func placeholderStep(threadID, name string, stepType StepType, metadata map[string]interface{}) *Step {
	return &Step{
		ID:          placeholderPrefix + uuid.NewString(),
		ThreadID:    threadID,
		Name:        name,
		Type:        stepType,
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
		Placeholder: true,
	}
}

func (t *Tracker) CreateThread(ctx context.Context, name string, metadata map[string]interface{}) *Thread {
	thread, ok := besteffort.Value(ctx, "observability.create_thread", besteffort.Fields{"thread_name": name},
		func(ctx context.Context) (*Thread, error) {
			return t.client.CreateThread(ctx, name, metadata)
		})
	if !ok || thread == nil {
		return placeholderThread(name, metadata)
	}
	return thread
}

func (t *Tracker) CreateStep(ctx context.Context, threadID, name string, stepType StepType, metadata map[string]interface{}) *Step {
	if threadID == "" || IsPlaceholderID(threadID) {
		return placeholderStep(threadID, name, stepType, metadata)
	}
	step, ok := besteffort.Value(ctx, "observability.create_step", besteffort.Fields{"thread_id": threadID, "step_type": string(stepType)},
		func(ctx context.Context) (*Step, error) {
			return t.client.CreateStep(ctx, threadID, name, stepType, metadata)
		})
	if !ok || step == nil {
		return placeholderStep(threadID, name, stepType, metadata)
	}
	return step
}

// track creates a Step and then the Event carrying content. The event is
// skipped when the step itself could not be recorded.
func (t *Tracker) track(ctx context.Context, threadID, name string, stepType StepType, content string, metadata map[string]interface{}) *Step {
	step := t.CreateStep(ctx, threadID, name, stepType, metadata)
	if step.Placeholder {
		return step
	}
	besteffort.Do(ctx, "observability.create_event", besteffort.Fields{"thread_id": threadID, "step_id": step.ID},
		func(ctx context.Context) error {
			_, err := t.client.CreateEvent(ctx, step.ID, content, metadata)
			return err
		})
	return step
}

func (t *Tracker) TrackUserMessage(ctx context.Context, threadID, content string, metadata map[string]interface{}) *Step {
	return t.track(ctx, threadID, "user_message", StepHuman, content, metadata)
}

// TrackAssistantMessage truncates oversized replies and records their token count.
func (t *Tracker) TrackAssistantMessage(ctx context.Context, threadID, content string, metadata map[string]interface{}) *Step {
	meta := make(map[string]interface{}, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	meta["token_count"] = CountTokens(content)
	return t.track(ctx, threadID, "assistant_message", StepAI, textutil.Truncate(content), meta)
}

func (t *Tracker) TrackError(ctx context.Context, threadID, message string, metadata map[string]interface{}) *Step {
	return t.track(ctx, threadID, "error", StepError, message, metadata)
}

func (t *Tracker) TrackSystem(ctx context.Context, threadID, name, content string, metadata map[string]interface{}) *Step {
	return t.track(ctx, threadID, name, StepSystem, content, metadata)
}

func (t *Tracker) ListThreads(ctx context.Context) []Thread {
	threads, ok := besteffort.Value(ctx, "observability.list_threads", nil, t.client.ListThreads)
	if !ok || threads == nil {
		return []Thread{}
	}
	return threads
}

func (t *Tracker) ListThreadSteps(ctx context.Context, threadID string) []Step {
	steps, ok := besteffort.Value(ctx, "observability.list_thread_steps", besteffort.Fields{"thread_id": threadID},
		func(ctx context.Context) ([]Step, error) {
			return t.client.ListThreadSteps(ctx, threadID)
		})
	if !ok || steps == nil {
		return []Step{}
	}
	return steps
}
