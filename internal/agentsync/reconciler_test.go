package agentsync_test

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/agentoven/agentdesk/internal/agentsync"
	"github.com/agentoven/agentdesk/internal/integrations/platform"
	"github.com/agentoven/agentdesk/internal/store"
	"github.com/agentoven/agentdesk/internal/testutil"
	"github.com/agentoven/agentdesk/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions() agentsync.ReconcilerOptions {
	return agentsync.ReconcilerOptions{
		Concurrency:    2,
		MaxAttempts:    3,
		BatchSize:      10,
		InitialBackoff: time.Millisecond,
	}
}

func TestReconciler_SweepRetriesUntilMirrored(t *testing.T) {
	svc, s, p := newService(t)
	ctx := context.Background()

	p.Fail("create_agent", testutil.ErrInjected)
	a, err := svc.Create(ctx, "user-1", models.AgentInput{Name: "A"})
	require.NoError(t, err)
	b, err := svc.Create(ctx, "user-1", models.AgentInput{Name: "B"})
	require.NoError(t, err)
	p.Fail("create_agent", nil)

	// Two transient failures fit inside three attempts.
	p.FailNext("create_agent", 2)

	stats := agentsync.NewReconciler(svc, fastOptions()).Sweep(ctx)
	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 2, stats.Mirrored)
	assert.Zero(t, stats.Failed)

	for _, id := range []string{a.ID, b.ID} {
		stored, err := s.GetAgent(ctx, id)
		require.NoError(t, err)
		assert.True(t, stored.Mirrored(), "agent %s not mirrored", id)
	}
	assert.Equal(t, 2, p.AgentCount())
}

func TestReconciler_GivesUpAfterMaxAttempts(t *testing.T) {
	svc, s, p := newService(t)
	ctx := context.Background()

	p.Fail("create_agent", testutil.ErrInjected)
	a, err := svc.Create(ctx, "user-1", models.AgentInput{Name: "A"})
	require.NoError(t, err)
	before := p.Calls("create_agent")

	stats := agentsync.NewReconciler(svc, fastOptions()).Sweep(ctx)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, before+3, p.Calls("create_agent"))

	stored, _ := s.GetAgent(ctx, a.ID)
	assert.False(t, stored.Mirrored())
}

func TestReconciler_PermanentErrorNotRetried(t *testing.T) {
	s := store.NewMemoryStore("")
	defer s.Close()
	ctx := context.Background()

	rejecting := &rejectingPlatform{FakePlatform: testutil.NewFakePlatform()}
	svc := agentsync.NewService(s, rejecting)
	_, err := svc.Create(ctx, "user-1", models.AgentInput{Name: "A"})
	require.NoError(t, err)
	require.Equal(t, 1, rejecting.creates)

	stats := agentsync.NewReconciler(svc, fastOptions()).Sweep(ctx)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 2, rejecting.creates)
}

func TestReconciler_RejectedAgentWaitsForEdit(t *testing.T) {
	s := store.NewMemoryStore("")
	defer s.Close()
	ctx := context.Background()

	rejecting := &rejectingPlatform{FakePlatform: testutil.NewFakePlatform()}
	svc := agentsync.NewService(s, rejecting)
	a, err := svc.Create(ctx, "user-1", models.AgentInput{Name: "A"})
	require.NoError(t, err)

	r := agentsync.NewReconciler(svc, fastOptions())
	r.Sweep(ctx)
	require.Equal(t, 2, rejecting.creates)

	stats := r.Sweep(ctx)
	assert.Equal(t, 1, stats.Scanned)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 2, rejecting.creates, "unchanged agent retried")

	name := "A2"
	_, err = svc.Update(ctx, "user-1", a.ID, models.AgentPatch{Name: &name})
	require.NoError(t, err)
	require.Equal(t, 3, rejecting.creates)

	stats = r.Sweep(ctx)
	assert.Zero(t, stats.Rejected)
	assert.Equal(t, 4, rejecting.creates, "edited agent not retried")
}

func TestReconciler_PagesThroughBacklog(t *testing.T) {
	svc, s, p := newService(t)
	ctx := context.Background()

	p.Fail("create_agent", testutil.ErrInjected)
	var ids []string
	for _, name := range []string{"A", "B", "C"} {
		a, err := svc.Create(ctx, "user-1", models.AgentInput{Name: name})
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}
	sort.Strings(ids)

	opts := fastOptions()
	opts.BatchSize = 2
	opts.MaxAttempts = 1
	r := agentsync.NewReconciler(svc, opts)

	first := r.Sweep(ctx)
	assert.Equal(t, 2, first.Scanned)
	assert.Equal(t, 2, first.Failed)

	// The head of the list keeps failing; the next sweep must still reach
	// the agent behind it.
	p.Fail("create_agent", nil)
	second := r.Sweep(ctx)
	assert.Equal(t, 1, second.Scanned)
	assert.Equal(t, 1, second.Mirrored)

	last, err := s.GetAgent(ctx, ids[2])
	require.NoError(t, err)
	assert.True(t, last.Mirrored())

	third := r.Sweep(ctx)
	assert.Equal(t, 2, third.Scanned, "sweep should wrap to the start")
}

func TestReconciler_NothingToDo(t *testing.T) {
	svc, _, _ := newService(t)
	stats := agentsync.NewReconciler(svc, fastOptions()).Sweep(context.Background())
	assert.Zero(t, stats.Scanned)
	assert.False(t, stats.Skipped)
}

func TestReconciler_StartDisabledReturns(t *testing.T) {
	svc, _, _ := newService(t)
	done := make(chan struct{})
	go func() {
		agentsync.NewReconciler(svc, fastOptions()).Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start with zero interval should return immediately")
	}
}

func TestReconciler_StartStopsOnCancel(t *testing.T) {
	svc, s, p := newService(t)
	ctx, cancel := context.WithCancel(context.Background())

	p.Fail("create_agent", testutil.ErrInjected)
	a, err := svc.Create(ctx, "user-1", models.AgentInput{Name: "A"})
	require.NoError(t, err)
	p.Fail("create_agent", nil)

	opts := fastOptions()
	opts.Interval = 10 * time.Millisecond
	done := make(chan struct{})
	go func() {
		agentsync.NewReconciler(svc, opts).Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		stored, err := s.GetAgent(context.Background(), a.ID)
		return err == nil && stored.Mirrored()
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop after cancel")
	}
}

// rejectingPlatform answers every create with a 422.
type rejectingPlatform struct {
	*testutil.FakePlatform
	creates int
}

func (r *rejectingPlatform) CreateAgent(_ context.Context, _ platform.AgentSpec) (*platform.ExternalAgent, error) {
	r.creates++
	return nil, &platform.Error{Op: "create_agent", Status: 422, Payload: "invalid model"}
}
