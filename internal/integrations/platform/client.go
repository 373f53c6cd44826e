package platform

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

	"github.com/agentoven/agentdesk/internal/textutil"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPClient talks to the execution platform's REST API with a bearer token.
type HTTPClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
	timeout time.Duration
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client. timeout bounds every call except
// InvokeAgent, which runs until the caller's context ends. A nil httpClient
// gets an instrumented default.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &HTTPClient{
		client:  httpClient,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
	}
}

// ── Agents ──────────────────────────────────────────────────

func (c *HTTPClient) CreateAgent(ctx context.Context, spec AgentSpec) (*ExternalAgent, error) {
	var out ExternalAgent
	if err := c.do(ctx, "create_agent", http.MethodPost, "/v1/agents", spec, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, &Error{Op: "create_agent", Err: fmt.Errorf("response carries no agent id")}
	}
	return &out, nil
}

func (c *HTTPClient) UpdateAgent(ctx context.Context, externalID string, spec AgentSpec) (*ExternalAgent, error) {
	var out ExternalAgent
	if err := c.do(ctx, "update_agent", http.MethodPatch, "/v1/agents/"+url.PathEscape(externalID), spec, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		out.ID = externalID
	}
	return &out, nil
}

func (c *HTTPClient) DeleteAgent(ctx context.Context, externalID string) error {
	return c.do(ctx, "delete_agent", http.MethodDelete, "/v1/agents/"+url.PathEscape(externalID), nil, nil)
}

// ── Knowledge ───────────────────────────────────────────────

type knowledgeRequest struct {
	Type string `json:"type"`
	KnowledgePayload
}

func (c *HTTPClient) addKnowledge(ctx context.Context, kind, externalID string, p KnowledgePayload) error {
	path := "/v1/agents/" + url.PathEscape(externalID) + "/knowledge"
	return c.do(ctx, "add_"+kind+"_knowledge", http.MethodPost, path, knowledgeRequest{Type: kind, KnowledgePayload: p}, nil)
}

func (c *HTTPClient) AddTextKnowledge(ctx context.Context, externalID string, p KnowledgePayload) error {
	return c.addKnowledge(ctx, "text", externalID, p)
}

func (c *HTTPClient) AddURLKnowledge(ctx context.Context, externalID string, p KnowledgePayload) error {
	return c.addKnowledge(ctx, "url", externalID, p)
}

func (c *HTTPClient) AddFileKnowledge(ctx context.Context, externalID string, p KnowledgePayload) error {
	return c.addKnowledge(ctx, "file", externalID, p)
}

func (c *HTTPClient) DeleteKnowledge(ctx context.Context, externalID, itemID string) error {
	path := "/v1/agents/" + url.PathEscape(externalID) + "/knowledge/" + url.PathEscape(itemID)
	return c.do(ctx, "delete_knowledge", http.MethodDelete, path, nil, nil)
}

// ── Invocation ──────────────────────────────────────────────

type invokeRequest struct {
	Input          string `json:"input"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// InvokeAgent runs the agent once. Output and every string in the metadata
// are capped at textutil.MaxTextLength characters.
func (c *HTTPClient) InvokeAgent(ctx context.Context, externalID, input, conversationID string) (*Invocation, error) {
	var out Invocation
	path := "/v1/agents/" + url.PathEscape(externalID) + "/invoke"
	if err := c.send(ctx, "invoke_agent", http.MethodPost, path, invokeRequest{Input: input, ConversationID: conversationID}, &out); err != nil {
		return nil, err
	}
	out.Output = textutil.Truncate(out.Output)
	out.Metadata = textutil.TruncateMetadata(out.Metadata)
	return &out, nil
}

func (c *HTTPClient) ListTools(ctx context.Context) ([]Tool, error) {
	var out struct {
		Tools []Tool `json:"tools"`
	}
	if err := c.do(ctx, "list_tools", http.MethodGet, "/v1/tools", nil, &out); err != nil {
		return nil, err
	}
	if out.Tools == nil {
		out.Tools = []Tool{}
	}
	return out.Tools, nil
}

// ── Transport ───────────────────────────────────────────────

// do sends one request bounded by the client timeout.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.send(ctx, op, method, path, body, out)
}

// send sends one request. Any failure, including a 2xx with an undecodable
// body, comes back as *Error.
func (c *HTTPClient) send(ctx context.Context, op, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("build request: %w", err)}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{
			Op:      op,
			Status:  resp.StatusCode,
			Payload: strings.TrimSpace(string(respBody)),
			Err:     fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Payload: truncatePayload(respBody), Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func truncatePayload(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
