package observability

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// LocalClient is the credential-less demo mode. Writes are kept in memory
// with synthesized ids so the analytics views still have something to show.
type LocalClient struct {
	mu      sync.RWMutex
	threads map[string]*Thread
	steps   map[string][]Step // key: thread id
	events  map[string][]Event
}

var _ Client = (*LocalClient)(nil)

func NewLocalClient() *LocalClient {
	return &LocalClient{
		threads: make(map[string]*Thread),
		steps:   make(map[string][]Step),
		events:  make(map[string][]Event),
	}
}

func localID(prefix string) string {
	return prefix + "_" + ulid.Make().String()
}

func (c *LocalClient) CreateThread(_ context.Context, name string, metadata map[string]interface{}) (*Thread, error) {
	t := &Thread{ID: localID("thr"), Name: name, Metadata: metadata, CreatedAt: time.Now().UTC()}
	c.mu.Lock()
	c.threads[t.ID] = t
	c.mu.Unlock()
	out := *t
	return &out, nil
}

func (c *LocalClient) CreateStep(_ context.Context, threadID, name string, stepType StepType, metadata map[string]interface{}) (*Step, error) {
	s := Step{ID: localID("stp"), ThreadID: threadID, Name: name, Type: stepType, Metadata: metadata, CreatedAt: time.Now().UTC()}
	c.mu.Lock()
	c.steps[threadID] = append(c.steps[threadID], s)
	c.mu.Unlock()
	return &s, nil
}

func (c *LocalClient) CreateEvent(_ context.Context, stepID, content string, metadata map[string]interface{}) (*Event, error) {
	e := Event{ID: localID("evt"), StepID: stepID, Content: content, Metadata: metadata, CreatedAt: time.Now().UTC()}
	c.mu.Lock()
	c.events[stepID] = append(c.events[stepID], e)
	c.mu.Unlock()
	return &e, nil
}

// ListThreads returns the newest threads first.
func (c *LocalClient) ListThreads(_ context.Context) ([]Thread, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Thread, 0, len(c.threads))
	for _, t := range c.threads {
		result = append(result, *t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return result, nil
}

func (c *LocalClient) ListThreadSteps(_ context.Context, threadID string) ([]Step, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Step{}, c.steps[threadID]...), nil
}

// Events returns the events recorded for a step.
func (c *LocalClient) Events(stepID string) []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Event{}, c.events[stepID]...)
}
