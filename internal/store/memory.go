package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/agentoven/agentdesk/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Agents        map[string]*models.Agent         `json:"agents"`
	Knowledge     map[string]*models.KnowledgeItem `json:"knowledge"`
	Conversations map[string]*models.Conversation  `json:"conversations"`
	Messages      map[string][]*models.Message     `json:"messages"` // key: conversation id
}

// MemoryStore implements Store with in-memory maps.
// Used for local dev and tests. When a snapshot path is given the data is
// flushed to a JSON file so it survives restarts.
type MemoryStore struct {
	mu            sync.RWMutex
	agents        map[string]*models.Agent
	knowledge     map[string]*models.KnowledgeItem
	conversations map[string]*models.Conversation
	messages      map[string][]*models.Message

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{}
}

// NewMemoryStore creates a new in-memory store. An empty snapshotPath keeps
// everything in memory only.
func NewMemoryStore(snapshotPath string) *MemoryStore {
	m := &MemoryStore{
		agents:        make(map[string]*models.Agent),
		knowledge:     make(map[string]*models.KnowledgeItem),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]*models.Message),
		saveCh:        make(chan struct{}, 1),
		doneCh:        make(chan struct{}),
	}

	if snapshotPath != "" {
		if err := os.MkdirAll(filepath.Dir(snapshotPath), 0755); err != nil {
			log.Warn().Err(err).Str("path", snapshotPath).Msg("Cannot create snapshot dir, persistence disabled")
		} else {
			m.snapshotPath = snapshotPath
			m.loadSnapshot()
			go m.saveLoop()
		}
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

// saveLoop debounces save requests (max 1 write per 500ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond)
			m.saveSnapshot()
		}
	}
}

func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Agents:        m.agents,
		Knowledge:     m.knowledge,
		Conversations: m.conversations,
		Messages:      m.messages,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}
	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.Agents != nil {
		m.agents = snap.Agents
	}
	if snap.Knowledge != nil {
		m.knowledge = snap.Knowledge
	}
	if snap.Conversations != nil {
		m.conversations = snap.Conversations
	}
	if snap.Messages != nil {
		m.messages = snap.Messages
	}

	log.Info().
		Int("agents", len(m.agents)).
		Int("knowledge", len(m.knowledge)).
		Int("conversations", len(m.conversations)).
		Str("path", m.snapshotPath).
		Msg("Snapshot loaded")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops the save loop and forces a final snapshot write.
// Safe to call multiple times.
func (m *MemoryStore) Close() error {
	select {
	case <-m.doneCh:
		return nil
	default:
		close(m.doneCh)
	}

	if m.snapshotPath != "" {
		log.Info().Msg("Flushing final snapshot before shutdown...")
		m.saveSnapshot()
	}

	log.Info().Msg("Memory store closed")
	return nil
}

// ── Agents ──────────────────────────────────────────────────

func cloneAgent(a *models.Agent) *models.Agent {
	c := *a
	if a.Config.Tools != nil {
		c.Config.Tools = append([]string(nil), a.Config.Tools...)
	}
	if a.Config.Extra != nil {
		c.Config.Extra = make(map[string]interface{}, len(a.Config.Extra))
		for k, v := range a.Config.Extra {
			c.Config.Extra[k] = v
		}
	}
	return &c
}

func sortAgents(agents []models.Agent) {
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].CreatedAt.Equal(agents[j].CreatedAt) {
			return agents[i].ID < agents[j].ID
		}
		return agents[i].CreatedAt.Before(agents[j].CreatedAt)
	})
}

func (m *MemoryStore) CreateAgent(_ context.Context, agent *models.Agent) error {
	m.mu.Lock()
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	if _, ok := m.agents[agent.ID]; ok {
		m.mu.Unlock()
		return &ErrConflict{Entity: "agent", Key: agent.ID}
	}
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = agent.CreatedAt
	m.agents[agent.ID] = cloneAgent(agent)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetAgent(_ context.Context, id string) (*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "agent", Key: id}
	}
	return cloneAgent(a), nil
}

func (m *MemoryStore) ListAgentsByOwner(_ context.Context, ownerID string) ([]models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Agent, 0)
	for _, a := range m.agents {
		if a.OwnerID == ownerID {
			result = append(result, *cloneAgent(a))
		}
	}
	sortAgents(result)
	return result, nil
}

func (m *MemoryStore) ListPublicAgents(_ context.Context) ([]models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Agent, 0)
	for _, a := range m.agents {
		if a.Public {
			result = append(result, *cloneAgent(a))
		}
	}
	sortAgents(result)
	return result, nil
}

func (m *MemoryStore) UpdateAgent(_ context.Context, agent *models.Agent) error {
	m.mu.Lock()
	existing, ok := m.agents[agent.ID]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "agent", Key: agent.ID}
	}
	agent.CreatedAt = existing.CreatedAt
	agent.UpdatedAt = time.Now().UTC()
	m.agents[agent.ID] = cloneAgent(agent)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) SetAgentExternalRef(_ context.Context, id, ref string) error {
	m.mu.Lock()
	a, ok := m.agents[id]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "agent", Key: id}
	}
	a.Config.ExternalRef = ref
	a.UpdatedAt = time.Now().UTC()
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteAgent(_ context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.agents[id]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "agent", Key: id}
	}
	delete(m.agents, id)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListUnmirroredAgents(_ context.Context, afterID string, limit int) ([]models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Agent, 0)
	for _, a := range m.agents {
		if !a.Mirrored() && a.ID > afterID {
			result = append(result, *cloneAgent(a))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if n := listLimit(limit); len(result) > n {
		result = result[:n]
	}
	return result, nil
}

// ── Knowledge ───────────────────────────────────────────────

func (m *MemoryStore) CreateKnowledge(_ context.Context, item *models.KnowledgeItem) error {
	m.mu.Lock()
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	c := *item
	m.knowledge[item.ID] = &c
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetKnowledge(_ context.Context, id string) (*models.KnowledgeItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.knowledge[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "knowledge", Key: id}
	}
	c := *k
	return &c, nil
}

func (m *MemoryStore) ListKnowledge(_ context.Context, agentID string) ([]models.KnowledgeItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.KnowledgeItem, 0)
	for _, k := range m.knowledge {
		if k.AgentID == agentID {
			result = append(result, *k)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) DeleteKnowledge(_ context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.knowledge[id]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "knowledge", Key: id}
	}
	delete(m.knowledge, id)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteKnowledgeByAgent(_ context.Context, agentID string) (int, error) {
	m.mu.Lock()
	n := 0
	for id, k := range m.knowledge {
		if k.AgentID == agentID {
			delete(m.knowledge, id)
			n++
		}
	}
	m.mu.Unlock()
	if n > 0 {
		m.requestSave()
	}
	return n, nil
}

// ── Conversations ───────────────────────────────────────────

func (m *MemoryStore) CreateConversation(_ context.Context, conv *models.Conversation) error {
	m.mu.Lock()
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if _, ok := m.conversations[conv.ID]; ok {
		m.mu.Unlock()
		return &ErrConflict{Entity: "conversation", Key: conv.ID}
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	c := *conv
	m.conversations[conv.ID] = &c
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "conversation", Key: id}
	}
	out := *c
	return &out, nil
}

func (m *MemoryStore) SetConversationThread(_ context.Context, id, threadID string) error {
	m.mu.Lock()
	c, ok := m.conversations[id]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "conversation", Key: id}
	}
	c.ThreadID = threadID
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ListConversations returns the newest conversations of an agent first.
func (m *MemoryStore) ListConversations(_ context.Context, agentID string, limit int) ([]models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Conversation, 0)
	for _, c := range m.conversations {
		if c.AgentID == agentID {
			result = append(result, *c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if n := listLimit(limit); len(result) > n {
		result = result[:n]
	}
	return result, nil
}

// ── Messages ────────────────────────────────────────────────

func (m *MemoryStore) AppendMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	if _, ok := m.conversations[msg.ConversationID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "conversation", Key: msg.ConversationID}
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	c := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &c)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ListMessages returns the messages of a conversation in id order.
func (m *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[conversationID]
	result := make([]models.Message, 0, len(msgs))
	for _, msg := range msgs {
		result = append(result, *msg)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}
