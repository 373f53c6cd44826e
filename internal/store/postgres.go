package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentoven/agentdesk/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresStore implements Store on PostgreSQL through a pgx connection pool.
// Agent config and metadata columns are JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to connURL, pings and applies the schema.
func NewPostgresStore(ctx context.Context, connURL string, maxConns int) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Int32("max_conns", poolCfg.MaxConns).Msg("PostgreSQL store initialized")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS agents (
			id          TEXT PRIMARY KEY,
			owner_id    TEXT NOT NULL,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			is_public   BOOLEAN NOT NULL DEFAULT FALSE,
			config      JSONB NOT NULL DEFAULT '{}',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS knowledge_items (
			id           TEXT PRIMARY KEY,
			agent_id     TEXT NOT NULL,
			content_type TEXT NOT NULL,
			content      TEXT NOT NULL,
			file_name    TEXT NOT NULL DEFAULT '',
			metadata     JSONB NOT NULL DEFAULT '{}',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			agent_id   TEXT NOT NULL,
			caller_id  TEXT NOT NULL DEFAULT '',
			thread_id  TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			metadata        JSONB NOT NULL DEFAULT '{}',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_agents_owner ON agents (owner_id);
		CREATE INDEX IF NOT EXISTS idx_agents_unmirrored ON agents (created_at) WHERE COALESCE(config->>'externalRef', '') = '';
		CREATE INDEX IF NOT EXISTS idx_knowledge_agent ON knowledge_items (agent_id);
		CREATE INDEX IF NOT EXISTS idx_conversations_agent ON conversations (agent_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, id);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func pgAffected(tag pgconn.CommandTag, entity, key string) error {
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: entity, Key: key}
	}
	return nil
}

// ── Agents ──────────────────────────────────────────────────

const pgAgentColumns = `id, owner_id, name, description, is_public, config, created_at, updated_at`

func scanPgAgent(row pgx.Row) (*models.Agent, error) {
	var (
		a      models.Agent
		config []byte
	)
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Description, &a.Public, &config, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(config, &a.Config); err != nil {
		return nil, fmt.Errorf("decode agent config: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) queryAgents(ctx context.Context, query string, args ...any) ([]models.Agent, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]models.Agent, 0)
	for rows.Next() {
		a, err := scanPgAgent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (s *PostgresStore) CreateAgent(ctx context.Context, agent *models.Agent) error {
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
	_, err = s.pool.Exec(ctx,
		`INSERT INTO agents (`+pgAgentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		agent.ID, agent.OwnerID, agent.Name, agent.Description, agent.Public, config, agent.CreatedAt, agent.UpdatedAt)
	if pgErrCode(err) == pgUniqueViolation {
		return &ErrConflict{Entity: "agent", Key: agent.ID}
	}
	return err
}

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	a, err := scanPgAgent(s.pool.QueryRow(ctx, `SELECT `+pgAgentColumns+` FROM agents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "agent", Key: id}
	}
	return a, err
}

func (s *PostgresStore) ListAgentsByOwner(ctx context.Context, ownerID string) ([]models.Agent, error) {
	return s.queryAgents(ctx, `SELECT `+pgAgentColumns+` FROM agents WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
}

func (s *PostgresStore) ListPublicAgents(ctx context.Context) ([]models.Agent, error) {
	return s.queryAgents(ctx, `SELECT `+pgAgentColumns+` FROM agents WHERE is_public ORDER BY created_at, id`)
}

func (s *PostgresStore) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	agent.UpdatedAt = time.Now().UTC()
	config, err := json.Marshal(agent.Config)
	if err != nil {
		return fmt.Errorf("encode agent config: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET name = $2, description = $3, is_public = $4, config = $5, updated_at = $6 WHERE id = $1`,
		agent.ID, agent.Name, agent.Description, agent.Public, config, agent.UpdatedAt)
	if err != nil {
		return err
	}
	return pgAffected(tag, "agent", agent.ID)
}

func (s *PostgresStore) SetAgentExternalRef(ctx context.Context, id, ref string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET config = jsonb_set(config, '{externalRef}', to_jsonb($2::text)), updated_at = NOW() WHERE id = $1`,
		id, ref)
	if err != nil {
		return err
	}
	return pgAffected(tag, "agent", id)
}

func (s *PostgresStore) DeleteAgent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return pgAffected(tag, "agent", id)
}

func (s *PostgresStore) ListUnmirroredAgents(ctx context.Context, afterID string, limit int) ([]models.Agent, error) {
	return s.queryAgents(ctx,
		`SELECT `+pgAgentColumns+` FROM agents
		WHERE COALESCE(config->>'externalRef', '') = '' AND id COLLATE "C" > $1
		ORDER BY id COLLATE "C" LIMIT $2`, afterID, listLimit(limit))
}

// ── Knowledge ───────────────────────────────────────────────

const pgKnowledgeColumns = `id, agent_id, content_type, content, file_name, metadata, created_at`

func scanPgKnowledge(row pgx.Row) (*models.KnowledgeItem, error) {
	var (
		k    models.KnowledgeItem
		ct   string
		meta []byte
	)
	if err := row.Scan(&k.ID, &k.AgentID, &ct, &k.Content, &k.FileName, &meta, &k.CreatedAt); err != nil {
		return nil, err
	}
	k.ContentType = models.ContentType(ct)
	if err := json.Unmarshal(meta, &k.Metadata); err != nil {
		return nil, fmt.Errorf("decode knowledge metadata: %w", err)
	}
	return &k, nil
}

func (s *PostgresStore) CreateKnowledge(ctx context.Context, item *models.KnowledgeItem) error {
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
	_, err = s.pool.Exec(ctx,
		`INSERT INTO knowledge_items (`+pgKnowledgeColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		item.ID, item.AgentID, string(item.ContentType), item.Content, item.FileName, meta, item.CreatedAt)
	if pgErrCode(err) == pgUniqueViolation {
		return &ErrConflict{Entity: "knowledge", Key: item.ID}
	}
	return err
}

func (s *PostgresStore) GetKnowledge(ctx context.Context, id string) (*models.KnowledgeItem, error) {
	k, err := scanPgKnowledge(s.pool.QueryRow(ctx, `SELECT `+pgKnowledgeColumns+` FROM knowledge_items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "knowledge", Key: id}
	}
	return k, err
}

func (s *PostgresStore) ListKnowledge(ctx context.Context, agentID string) ([]models.KnowledgeItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgKnowledgeColumns+` FROM knowledge_items WHERE agent_id = $1 ORDER BY created_at, id`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]models.KnowledgeItem, 0)
	for rows.Next() {
		k, err := scanPgKnowledge(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *k)
	}
	return result, rows.Err()
}

func (s *PostgresStore) DeleteKnowledge(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM knowledge_items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return pgAffected(tag, "knowledge", id)
}

func (s *PostgresStore) DeleteKnowledgeByAgent(ctx context.Context, agentID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM knowledge_items WHERE agent_id = $1`, agentID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ── Conversations ───────────────────────────────────────────

func (s *PostgresStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, agent_id, caller_id, thread_id, created_at) VALUES ($1, $2, $3, $4, $5)`,
		conv.ID, conv.AgentID, conv.CallerID, conv.ThreadID, conv.CreatedAt)
	if pgErrCode(err) == pgUniqueViolation {
		return &ErrConflict{Entity: "conversation", Key: conv.ID}
	}
	return err
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, agent_id, caller_id, thread_id, created_at FROM conversations WHERE id = $1`, id).
		Scan(&c.ID, &c.AgentID, &c.CallerID, &c.ThreadID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "conversation", Key: id}
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) SetConversationThread(ctx context.Context, id, threadID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE conversations SET thread_id = $2 WHERE id = $1`, id, threadID)
	if err != nil {
		return err
	}
	return pgAffected(tag, "conversation", id)
}

func (s *PostgresStore) ListConversations(ctx context.Context, agentID string, limit int) ([]models.Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, agent_id, caller_id, thread_id, created_at FROM conversations
		WHERE agent_id = $1 ORDER BY created_at DESC LIMIT $2`, agentID, listLimit(limit))
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

func (s *PostgresStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(nonNilMap(msg.Metadata))
	if err != nil {
		return fmt.Errorf("encode message metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, metadata, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, meta, msg.CreatedAt)
	if pgErrCode(err) == pgForeignKeyViolation {
		return &ErrNotFound{Entity: "conversation", Key: msg.ConversationID}
	}
	return err
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, role, content, metadata, created_at FROM messages
		WHERE conversation_id = $1 ORDER BY id`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]models.Message, 0)
	for rows.Next() {
		var (
			m    models.Message
			role string
			meta []byte
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &meta, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = models.Role(role)
		if err := json.Unmarshal(meta, &m.Metadata); err != nil {
			return nil, fmt.Errorf("decode message metadata: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}
