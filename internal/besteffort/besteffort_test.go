package besteffort_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentoven/agentdesk/internal/besteffort"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo(t *testing.T) {
	ctx := context.Background()

	ok := besteffort.Do(ctx, "ok", nil, func(context.Context) error { return nil })
	assert.True(t, ok)

	ok = besteffort.Do(ctx, "fails", besteffort.Fields{"agent_id": "a1"}, func(context.Context) error {
		return errors.New("platform unreachable")
	})
	assert.False(t, ok)
}

func TestDo_RecoversPanic(t *testing.T) {
	ok := besteffort.Do(context.Background(), "panics", nil, func(context.Context) error {
		panic("nil map write")
	})
	assert.False(t, ok)
}

func TestValue(t *testing.T) {
	ctx := context.Background()

	v, ok := besteffort.Value(ctx, "get", nil, func(context.Context) (string, error) {
		return "ext-1", nil
	})
	require.True(t, ok)
	assert.Equal(t, "ext-1", v)

	v, ok = besteffort.Value(ctx, "get", nil, func(context.Context) (string, error) {
		return "partial", errors.New("boom")
	})
	assert.False(t, ok)
	assert.Empty(t, v)
}

func TestRunner_AsyncSurvivesCanceledContext(t *testing.T) {
	r := besteffort.NewRunner(true, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Bool
	r.Go(ctx, "track", nil, func(ctx context.Context) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ran.Store(true)
		return nil
	})
	r.Wait()

	assert.True(t, ran.Load(), "detached call should not see the caller's cancellation")
}

func TestRunner_SyncRunsInline(t *testing.T) {
	r := besteffort.NewRunner(false, 0)

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		r.Go(context.Background(), "track", nil, func(context.Context) error {
			order = append(order, i)
			return nil
		})
	}
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestRunner_PanicDoesNotEscape(t *testing.T) {
	r := besteffort.NewRunner(true, 0)
	r.Go(context.Background(), "track", nil, func(context.Context) error {
		panic("boom")
	})
	assert.NotPanics(t, r.Wait)
}
