// Package blob stores uploaded knowledge files and hands back a URL the
// execution platform can fetch them from.
package blob

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentoven/agentdesk/internal/config"
)

// ErrNotFound is returned when a requested path does not exist in storage.
var ErrNotFound = errors.New("blob not found")

// Store is the object storage used for file knowledge.
type Store interface {
	// Upload writes data at path and returns its retrievable URL.
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, path string) error
}

// New builds the configured backend.
func New(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalStore(cfg.LocalDir, cfg.PublicBaseURL)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, errors.New("blob backend s3 requires a bucket")
		}
		return NewS3Store(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.S3Region)
	default:
		return nil, fmt.Errorf("unsupported blob backend: %q", cfg.Backend)
	}
}
