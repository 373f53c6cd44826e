package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentoven/agentdesk/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-file Store for small deployments.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and applies the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; modernc serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}

	log.Info().Str("path", path).Msg("SQLite store initialized")
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id          TEXT PRIMARY KEY,
			owner_id    TEXT NOT NULL,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			is_public   INTEGER NOT NULL DEFAULT 0,
			config      TEXT NOT NULL DEFAULT '{}',
			created_at  TIMESTAMP NOT NULL,
			updated_at  TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS knowledge_items (
			id           TEXT PRIMARY KEY,
			agent_id     TEXT NOT NULL,
			content_type TEXT NOT NULL,
			content      TEXT NOT NULL,
			file_name    TEXT NOT NULL DEFAULT '',
			metadata     TEXT NOT NULL DEFAULT '{}',
			created_at   TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			agent_id   TEXT NOT NULL,
			caller_id  TEXT NOT NULL DEFAULT '',
			thread_id  TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			metadata        TEXT NOT NULL DEFAULT '{}',
			created_at      TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_owner ON agents(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_agent ON knowledge_items(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_agent ON conversations(agent_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func isSQLiteConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ── Agents ──────────────────────────────────────────────────

const sqliteAgentColumns = `id, owner_id, name, description, is_public, config, created_at, updated_at`

func scanSQLiteAgent(row interface{ Scan(...any) error }) (*models.Agent, error) {
	var (
		a      models.Agent
		config string
	)
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Description, &a.Public, &config, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(config), &a.Config); err != nil {
		return nil, fmt.Errorf("decode agent config: %w", err)
	}
	return &a, nil
}

func (s *SQLiteStore) queryAgents(ctx context.Context, query string, args ...any) ([]models.Agent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]models.Agent, 0)
	for rows.Next() {
		a, err := scanSQLiteAgent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *models.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}
	agent.UpdatedAt = agent.CreatedAt

	config, err := json.Marshal(agent.Config)
	if err != nil {
		return fmt.Errorf("encode agent config: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (`+sqliteAgentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.ID, agent.OwnerID, agent.Name, agent.Description, agent.Public, string(config), agent.CreatedAt, agent.UpdatedAt)
	if isSQLiteConflict(err) {
		return &ErrConflict{Entity: "agent", Key: agent.ID}
	}
	return err
}

func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteAgentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanSQLiteAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "agent", Key: id}
	}
	return a, err
}

func (s *SQLiteStore) ListAgentsByOwner(ctx context.Context, ownerID string) ([]models.Agent, error) {
	return s.queryAgents(ctx, `SELECT `+sqliteAgentColumns+` FROM agents WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
}

func (s *SQLiteStore) ListPublicAgents(ctx context.Context) ([]models.Agent, error) {
	return s.queryAgents(ctx, `SELECT `+sqliteAgentColumns+` FROM agents WHERE is_public = 1 ORDER BY created_at, id`)
}

func (s *SQLiteStore) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	agent.UpdatedAt = time.Now().UTC()
	config, err := json.Marshal(agent.Config)
	if err != nil {
		return fmt.Errorf("encode agent config: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET name = ?, description = ?, is_public = ?, config = ?, updated_at = ? WHERE id = ?`,
		agent.Name, agent.Description, agent.Public, string(config), agent.UpdatedAt, agent.ID)
	if err != nil {
		return err
	}
	return sqliteAffected(res, "agent", agent.ID)
}

func (s *SQLiteStore) SetAgentExternalRef(ctx context.Context, id, ref string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET config = json_set(config, '$.externalRef', ?), updated_at = ? WHERE id = ?`,
		ref, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return sqliteAffected(res, "agent", id)
}

func (s *SQLiteStore) DeleteAgent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return sqliteAffected(res, "agent", id)
}

func (s *SQLiteStore) ListUnmirroredAgents(ctx context.Context, afterID string, limit int) ([]models.Agent, error) {
	return s.queryAgents(ctx,
		`SELECT `+sqliteAgentColumns+` FROM agents
		WHERE COALESCE(json_extract(config, '$.externalRef'), '') = '' AND id > ?
		ORDER BY id LIMIT ?`, afterID, listLimit(limit))
}

func sqliteAffected(res sql.Result, entity, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &ErrNotFound{Entity: entity, Key: key}
	}
	return nil
}

// ── Knowledge ───────────────────────────────────────────────

func (s *SQLiteStore) CreateKnowledge(ctx context.Context, item *models.KnowledgeItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(nonNilMap(item.Metadata))
	if err != nil {
		return fmt.Errorf("encode knowledge metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO knowledge_items (id, agent_id, content_type, content, file_name, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.AgentID, string(item.ContentType), item.Content, item.FileName, string(meta), item.CreatedAt)
	if isSQLiteConflict(err) {
		return &ErrConflict{Entity: "knowledge", Key: item.ID}
	}
	return err
}

func scanSQLiteKnowledge(row interface{ Scan(...any) error }) (*models.KnowledgeItem, error) {
	var (
		k    models.KnowledgeItem
		ct   string
		meta string
	)
	if err := row.Scan(&k.ID, &k.AgentID, &ct, &k.Content, &k.FileName, &meta, &k.CreatedAt); err != nil {
		return nil, err
	}
	k.ContentType = models.ContentType(ct)
	if err := json.Unmarshal([]byte(meta), &k.Metadata); err != nil {
		return nil, fmt.Errorf("decode knowledge metadata: %w", err)
	}
	return &k, nil
}

func (s *SQLiteStore) GetKnowledge(ctx context.Context, id string) (*models.KnowledgeItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, content_type, content, file_name, metadata, created_at FROM knowledge_items WHERE id = ?`, id)
	k, err := scanSQLiteKnowledge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "knowledge", Key: id}
	}
	return k, err
}

func (s *SQLiteStore) ListKnowledge(ctx context.Context, agentID string) ([]models.KnowledgeItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, content_type, content, file_name, metadata, created_at
		FROM knowledge_items WHERE agent_id = ? ORDER BY created_at, id`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]models.KnowledgeItem, 0)
	for rows.Next() {
		k, err := scanSQLiteKnowledge(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *k)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) DeleteKnowledge(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_items WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return sqliteAffected(res, "knowledge", id)
}

func (s *SQLiteStore) DeleteKnowledgeByAgent(ctx context.Context, agentID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_items WHERE agent_id = ?`, agentID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ── Conversations ───────────────────────────────────────────

func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, agent_id, caller_id, thread_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.AgentID, conv.CallerID, conv.ThreadID, conv.CreatedAt)
	if isSQLiteConflict(err) {
		return &ErrConflict{Entity: "conversation", Key: conv.ID}
	}
	return err
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, caller_id, thread_id, created_at FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.AgentID, &c.CallerID, &c.ThreadID, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "conversation", Key: id}
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) SetConversationThread(ctx context.Context, id, threadID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET thread_id = ? WHERE id = ?`, threadID, id)
	if err != nil {
		return err
	}
	return sqliteAffected(res, "conversation", id)
}

func (s *SQLiteStore) ListConversations(ctx context.Context, agentID string, limit int) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, caller_id, thread_id, created_at FROM conversations
		WHERE agent_id = ? ORDER BY created_at DESC LIMIT ?`, agentID, listLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]models.Conversation, 0)
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.AgentID, &c.CallerID, &c.ThreadID, &c.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// ── Messages ────────────────────────────────────────────────

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(nonNilMap(msg.Metadata))
	if err != nil {
		return fmt.Errorf("encode message metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, string(meta), msg.CreatedAt)
	if err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
		return &ErrNotFound{Entity: "conversation", Key: msg.ConversationID}
	}
	return err
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, metadata, created_at FROM messages
		WHERE conversation_id = ? ORDER BY id`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]models.Message, 0)
	for rows.Next() {
		var (
			m    models.Message
			role string
			meta string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &meta, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = models.Role(role)
		if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
			return nil, fmt.Errorf("decode message metadata: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func nonNilMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
