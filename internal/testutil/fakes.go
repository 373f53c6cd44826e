package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentoven/agentdesk/internal/integrations/observability"
	"github.com/agentoven/agentdesk/internal/integrations/platform"
)

// ErrInjected is the default failure returned by fakes.
var ErrInjected = errors.New("injected failure")

// ── Platform ────────────────────────────────────────────────

// FakePlatform is an in-memory execution platform. Individual operations can
// be made to fail permanently or for the next n calls. Operation names match
// platform.Error.Op: create_agent, update_agent, delete_agent,
// add_knowledge, delete_knowledge, invoke_agent, list_tools.
type FakePlatform struct {
	mu         sync.Mutex
	seq        int
	agents     map[string]platform.AgentSpec
	knowledge  map[string]map[string]platform.KnowledgePayload
	failAlways map[string]error
	failNext   map[string]int
	calls      map[string]int

	// InvokeFunc overrides the default echo reply.
	InvokeFunc func(ctx context.Context, externalID, input, conversationID string) (*platform.Invocation, error)
	Tools      []platform.Tool
}

var _ platform.Client = (*FakePlatform)(nil)

func NewFakePlatform() *FakePlatform {
	return &FakePlatform{
		agents:     make(map[string]platform.AgentSpec),
		knowledge:  make(map[string]map[string]platform.KnowledgePayload),
		failAlways: make(map[string]error),
		failNext:   make(map[string]int),
		calls:      make(map[string]int),
	}
}

// Fail makes op fail with err until cleared with Fail(op, nil).
func (f *FakePlatform) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failAlways, op)
		return
	}
	f.failAlways[op] = err
}

// FailNext makes the next n calls of op fail with ErrInjected.
func (f *FakePlatform) FailNext(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[op] = n
}

// Calls returns how many times op was attempted.
func (f *FakePlatform) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Agent returns the mirrored spec stored under externalID.
func (f *FakePlatform) Agent(externalID string) (platform.AgentSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[externalID]
	return a, ok
}

// AgentCount returns how many agents are mirrored.
func (f *FakePlatform) AgentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.agents)
}

// Knowledge returns the knowledge item ids held for externalID.
func (f *FakePlatform) Knowledge(externalID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.knowledge[externalID]))
	for id := range f.knowledge[externalID] {
		ids = append(ids, id)
	}
	return ids
}

// enter records a call and returns the injected failure, if any. Caller holds mu.
func (f *FakePlatform) enter(op string) error {
	f.calls[op]++
	if err, ok := f.failAlways[op]; ok {
		return &platform.Error{Op: op, Status: 503, Err: err}
	}
	if f.failNext[op] > 0 {
		f.failNext[op]--
		return &platform.Error{Op: op, Status: 503, Err: ErrInjected}
	}
	return nil
}

func (f *FakePlatform) CreateAgent(_ context.Context, spec platform.AgentSpec) (*platform.ExternalAgent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("create_agent"); err != nil {
		return nil, err
	}
	f.seq++
	id := fmt.Sprintf("ext-%d", f.seq)
	f.agents[id] = spec
	return &platform.ExternalAgent{ID: id, Name: spec.Name}, nil
}

func (f *FakePlatform) UpdateAgent(_ context.Context, externalID string, spec platform.AgentSpec) (*platform.ExternalAgent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("update_agent"); err != nil {
		return nil, err
	}
	if _, ok := f.agents[externalID]; !ok {
		return nil, &platform.Error{Op: "update_agent", Status: 404, Payload: "agent not found"}
	}
	f.agents[externalID] = spec
	return &platform.ExternalAgent{ID: externalID, Name: spec.Name}, nil
}

func (f *FakePlatform) DeleteAgent(_ context.Context, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("delete_agent"); err != nil {
		return err
	}
	delete(f.agents, externalID)
	delete(f.knowledge, externalID)
	return nil
}

func (f *FakePlatform) addKnowledge(externalID string, p platform.KnowledgePayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("add_knowledge"); err != nil {
		return err
	}
	if f.knowledge[externalID] == nil {
		f.knowledge[externalID] = make(map[string]platform.KnowledgePayload)
	}
	f.knowledge[externalID][p.ItemID] = p
	return nil
}

func (f *FakePlatform) AddTextKnowledge(_ context.Context, externalID string, p platform.KnowledgePayload) error {
	return f.addKnowledge(externalID, p)
}

func (f *FakePlatform) AddURLKnowledge(_ context.Context, externalID string, p platform.KnowledgePayload) error {
	return f.addKnowledge(externalID, p)
}

func (f *FakePlatform) AddFileKnowledge(_ context.Context, externalID string, p platform.KnowledgePayload) error {
	return f.addKnowledge(externalID, p)
}

func (f *FakePlatform) DeleteKnowledge(_ context.Context, externalID, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("delete_knowledge"); err != nil {
		return err
	}
	delete(f.knowledge[externalID], itemID)
	return nil
}

func (f *FakePlatform) InvokeAgent(ctx context.Context, externalID, input, conversationID string) (*platform.Invocation, error) {
	f.mu.Lock()
	err := f.enter("invoke_agent")
	fn := f.InvokeFunc
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(ctx, externalID, input, conversationID)
	}
	return &platform.Invocation{
		Output:   "echo: " + input,
		Metadata: map[string]interface{}{"external_id": externalID},
	}, nil
}

func (f *FakePlatform) ListTools(_ context.Context) ([]platform.Tool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("list_tools"); err != nil {
		return nil, err
	}
	return append([]platform.Tool{}, f.Tools...), nil
}

// ── Observability ───────────────────────────────────────────

// FakeObservability records like the demo client but can be made to fail or
// to stall every call.
type FakeObservability struct {
	*observability.LocalClient

	mu    sync.Mutex
	err   error
	delay time.Duration
	steps []observability.Step
}

var _ observability.Client = (*FakeObservability)(nil)

func NewFakeObservability() *FakeObservability {
	return &FakeObservability{LocalClient: observability.NewLocalClient()}
}

// Fail makes every call return err; nil restores normal behaviour.
func (f *FakeObservability) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Stall delays every call by d, or until the call's context ends.
func (f *FakeObservability) Stall(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

func (f *FakeObservability) gate(ctx context.Context) error {
	f.mu.Lock()
	err, delay := f.err, f.delay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Steps returns every step recorded so far, across threads, in call order.
func (f *FakeObservability) Steps() []observability.Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]observability.Step{}, f.steps...)
}

func (f *FakeObservability) CreateThread(ctx context.Context, name string, metadata map[string]interface{}) (*observability.Thread, error) {
	if err := f.gate(ctx); err != nil {
		return nil, err
	}
	return f.LocalClient.CreateThread(ctx, name, metadata)
}

func (f *FakeObservability) CreateStep(ctx context.Context, threadID, name string, stepType observability.StepType, metadata map[string]interface{}) (*observability.Step, error) {
	if err := f.gate(ctx); err != nil {
		return nil, err
	}
	step, err := f.LocalClient.CreateStep(ctx, threadID, name, stepType, metadata)
	if err == nil {
		f.mu.Lock()
		f.steps = append(f.steps, *step)
		f.mu.Unlock()
	}
	return step, err
}

func (f *FakeObservability) CreateEvent(ctx context.Context, stepID, content string, metadata map[string]interface{}) (*observability.Event, error) {
	if err := f.gate(ctx); err != nil {
		return nil, err
	}
	return f.LocalClient.CreateEvent(ctx, stepID, content, metadata)
}

func (f *FakeObservability) ListThreads(ctx context.Context) ([]observability.Thread, error) {
	if err := f.gate(ctx); err != nil {
		return nil, err
	}
	return f.LocalClient.ListThreads(ctx)
}

func (f *FakeObservability) ListThreadSteps(ctx context.Context, threadID string) ([]observability.Step, error) {
	if err := f.gate(ctx); err != nil {
		return nil, err
	}
	return f.LocalClient.ListThreadSteps(ctx, threadID)
}
