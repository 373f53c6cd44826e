package blob

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// LocalStore keeps blobs on the local filesystem. URLs are built from a
// public base URL under which Handler is mounted.
type LocalStore struct {
	basePath string
	baseURL  string
	mu       sync.RWMutex
}

// NewLocalStore creates a LocalStore rooted at basePath.
func NewLocalStore(basePath, publicBaseURL string) (*LocalStore, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve blob dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &LocalStore{basePath: abs, baseURL: strings.TrimSuffix(publicBaseURL, "/")}, nil
}

// resolve keeps every path inside basePath.
func (s *LocalStore) resolve(path string) string {
	return filepath.Join(s.basePath, filepath.Clean("/"+path))
}

func (s *LocalStore) Upload(_ context.Context, path string, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	full := s.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}

	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename %s: %w", path, err)
	}
	return s.baseURL + "/" + strings.TrimPrefix(filepath.ToSlash(filepath.Clean("/"+path)), "/"), nil
}

func (s *LocalStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.resolve(path)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// Handler serves stored blobs read-only.
func (s *LocalStore) Handler() http.Handler {
	return http.FileServer(http.Dir(s.basePath))
}
