package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentoven/agentdesk/internal/config"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// New picks the live client when an API key is configured and the local demo
// client otherwise.
func New(cfg config.ObservabilityConfig) Client {
	if cfg.APIKey == "" || cfg.BaseURL == "" {
		log.Info().Msg("Observability platform not configured, tracking in demo mode")
		return NewLocalClient()
	}
	log.Info().Str("base_url", cfg.BaseURL).Msg("Observability platform configured")
	return NewHTTPClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout, nil)
}

// HTTPClient talks to the live observability platform.
type HTTPClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a live client. A nil httpClient gets an instrumented
// default with the given timeout.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &HTTPClient{client: httpClient, baseURL: strings.TrimSuffix(baseURL, "/"), apiKey: apiKey}
}

type threadRequest struct {
	Name     string                 `json:"name"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type stepRequest struct {
	Name     string                 `json:"name"`
	Type     StepType               `json:"type"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type eventRequest struct {
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (c *HTTPClient) CreateThread(ctx context.Context, name string, metadata map[string]interface{}) (*Thread, error) {
	var out Thread
	if err := c.do(ctx, http.MethodPost, "/api/threads", threadRequest{Name: name, Metadata: metadata}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) CreateStep(ctx context.Context, threadID, name string, stepType StepType, metadata map[string]interface{}) (*Step, error) {
	var out Step
	path := "/api/threads/" + url.PathEscape(threadID) + "/steps"
	if err := c.do(ctx, http.MethodPost, path, stepRequest{Name: name, Type: stepType, Metadata: metadata}, &out); err != nil {
		return nil, err
	}
	if out.ThreadID == "" {
		out.ThreadID = threadID
	}
	return &out, nil
}

func (c *HTTPClient) CreateEvent(ctx context.Context, stepID, content string, metadata map[string]interface{}) (*Event, error) {
	var out Event
	path := "/api/steps/" + url.PathEscape(stepID) + "/events"
	if err := c.do(ctx, http.MethodPost, path, eventRequest{Content: content, Metadata: metadata}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ListThreads(ctx context.Context) ([]Thread, error) {
	var out struct {
		Threads []Thread `json:"threads"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/threads", nil, &out); err != nil {
		return nil, err
	}
	return out.Threads, nil
}

func (c *HTTPClient) ListThreadSteps(ctx context.Context, threadID string) ([]Step, error) {
	var out struct {
		Steps []Step `json:"steps"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/threads/"+url.PathEscape(threadID)+"/steps", nil, &out); err != nil {
		return nil, err
	}
	return out.Steps, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("observability %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("observability %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("observability %s %s: decode response: %w", method, path, err)
	}
	return nil
}
