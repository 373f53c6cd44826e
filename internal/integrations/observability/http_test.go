package observability_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentoven/agentdesk/internal/config"
	"github.com/agentoven/agentdesk/internal/integrations/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_ThreadStepEvent(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer obs-key", r.Header.Get("Authorization"))
		paths = append(paths, r.Method+" "+r.URL.Path)

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/threads":
			var body map[string]interface{}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "conversation c1", body["name"])
			io.WriteString(w, `{"id":"thr_1","name":"conversation c1"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/api/threads/thr_1/steps":
			io.WriteString(w, `{"id":"stp_1","type":"human"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/api/steps/stp_1/events":
			io.WriteString(w, `{"id":"evt_1","step_id":"stp_1","content":"hello"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/api/threads":
			io.WriteString(w, `{"threads":[{"id":"thr_1"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := observability.NewHTTPClient(srv.URL, "obs-key", time.Second, srv.Client())
	ctx := context.Background()

	thread, err := c.CreateThread(ctx, "conversation c1", nil)
	require.NoError(t, err)
	step, err := c.CreateStep(ctx, thread.ID, "user_message", observability.StepHuman, nil)
	require.NoError(t, err)
	assert.Equal(t, "thr_1", step.ThreadID)
	_, err = c.CreateEvent(ctx, step.ID, "hello", nil)
	require.NoError(t, err)

	threads, err := c.ListThreads(ctx)
	require.NoError(t, err)
	assert.Len(t, threads, 1)

	_, err = c.ListThreadSteps(ctx, "missing")
	assert.Error(t, err)

	assert.Equal(t, []string{
		"POST /api/threads",
		"POST /api/threads/thr_1/steps",
		"POST /api/steps/stp_1/events",
		"GET /api/threads",
		"GET /api/threads/missing/steps",
	}, paths)
}

func TestNew_DemoModeWithoutKey(t *testing.T) {
	c := observability.New(config.ObservabilityConfig{BaseURL: "https://obs.example.com"})
	assert.IsType(t, &observability.LocalClient{}, c)

	c = observability.New(config.ObservabilityConfig{BaseURL: "https://obs.example.com", APIKey: "k"})
	assert.IsType(t, &observability.HTTPClient{}, c)
}

func TestLocalClient_SynthesizesIDs(t *testing.T) {
	c := observability.NewLocalClient()
	ctx := context.Background()

	a, _ := c.CreateThread(ctx, "a", nil)
	b, _ := c.CreateThread(ctx, "b", nil)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)

	threads, _ := c.ListThreads(ctx)
	assert.Len(t, threads, 2)
}
