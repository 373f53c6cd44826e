package observability_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/agentoven/agentdesk/internal/integrations/observability"
	"github.com/agentoven/agentdesk/internal/testutil"
	"github.com/agentoven/agentdesk/internal/textutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_HealthyBackend(t *testing.T) {
	fake := testutil.NewFakeObservability()
	tr := observability.NewTracker(fake)
	ctx := context.Background()

	thread := tr.CreateThread(ctx, "conversation c1", map[string]interface{}{"agent_id": "a1"})
	require.NotNil(t, thread)
	assert.False(t, thread.Placeholder)

	user := tr.TrackUserMessage(ctx, thread.ID, "hello", nil)
	ai := tr.TrackAssistantMessage(ctx, thread.ID, "hi there", nil)
	assert.False(t, user.Placeholder)
	assert.False(t, ai.Placeholder)

	steps := tr.ListThreadSteps(ctx, thread.ID)
	require.Len(t, steps, 2)
	assert.Equal(t, observability.StepHuman, steps[0].Type)
	assert.Equal(t, observability.StepAI, steps[1].Type)

	events := fake.Events(ai.ID)
	require.Len(t, events, 1)
	assert.Equal(t, "hi there", events[0].Content)
	assert.Contains(t, events[0].Metadata, "token_count")
}

func TestTracker_FailingBackendNeverErrors(t *testing.T) {
	fake := testutil.NewFakeObservability()
	fake.Fail(testutil.ErrInjected)
	tr := observability.NewTracker(fake)
	ctx := context.Background()

	thread := tr.CreateThread(ctx, "c1", nil)
	require.NotNil(t, thread)
	assert.True(t, thread.Placeholder)
	assert.True(t, observability.IsPlaceholderID(thread.ID))

	step := tr.TrackUserMessage(ctx, "thr_real", "hello", nil)
	require.NotNil(t, step)
	assert.True(t, step.Placeholder)

	assert.NotNil(t, tr.TrackError(ctx, "thr_real", "boom", nil))
	assert.Empty(t, tr.ListThreads(ctx))
	assert.NotNil(t, tr.ListThreads(ctx))
	assert.NotNil(t, tr.ListThreadSteps(ctx, "thr_real"))
}

func TestTracker_PlaceholderThreadSkipsBackend(t *testing.T) {
	fake := testutil.NewFakeObservability()
	tr := observability.NewTracker(fake)

	step := tr.TrackUserMessage(context.Background(), "placeholder-abc", "hello", nil)
	assert.True(t, step.Placeholder)
	assert.Empty(t, fake.Steps())
}

func TestTracker_StalledBackendHonoursDeadline(t *testing.T) {
	fake := testutil.NewFakeObservability()
	fake.Stall(time.Minute)
	tr := observability.NewTracker(fake)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	thread := tr.CreateThread(ctx, "c1", nil)
	assert.True(t, thread.Placeholder)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestTracker_AssistantMessageTruncated(t *testing.T) {
	fake := testutil.NewFakeObservability()
	tr := observability.NewTracker(fake)
	ctx := context.Background()

	thread := tr.CreateThread(ctx, "c1", nil)
	step := tr.TrackAssistantMessage(ctx, thread.ID, strings.Repeat("x", textutil.MaxTextLength+1), map[string]interface{}{"model": "m"})

	events := fake.Events(step.ID)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Content, "[truncated: original length 100001 characters]")
	assert.Equal(t, "m", events[0].Metadata["model"])
	assert.Positive(t, events[0].Metadata["token_count"])
}

func TestCountTokens(t *testing.T) {
	assert.Zero(t, observability.CountTokens(""))
	assert.Positive(t, observability.CountTokens("The quick brown fox jumps over the lazy dog."))
}
