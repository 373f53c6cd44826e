package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentoven/agentdesk/internal/config"
	"github.com/rs/zerolog/log"
)

// Open picks a backend from cfg.URL:
//
//	postgres://... or postgresql://...  PostgresStore
//	sqlite:<path> or file:<path>        SQLiteStore
//	memory or empty                     MemoryStore (optionally snapshotted)
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	url := strings.TrimSpace(cfg.URL)
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return NewPostgresStore(ctx, url, cfg.MaxConnections)
	case strings.HasPrefix(url, "sqlite:"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(url, "sqlite:"))
	case strings.HasPrefix(url, "file:"):
		return NewSQLiteStore(ctx, url)
	case url == "" || url == "memory":
		log.Info().Msg("Using in-memory store")
		return NewMemoryStore(cfg.SnapshotPath), nil
	default:
		return nil, fmt.Errorf("unsupported database url scheme: %q", url)
	}
}
