package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/agentoven/agentdesk/pkg/contracts"
)

// ErrInvalidAPIKey is returned when a presented key matches no configured key.
var ErrInvalidAPIKey = errors.New("invalid API key")

// APIKeyProvider authenticates Authorization: Bearer <key> or X-API-Key
// headers against a key to user id map (AGENTDESK_AUTH_API_KEYS).
type APIKeyProvider struct {
	mu   sync.RWMutex
	keys map[string]string
}

// NewAPIKeyProvider creates a provider for keys. It is disabled when keys is empty.
func NewAPIKeyProvider(keys map[string]string) *APIKeyProvider {
	p := &APIKeyProvider{keys: make(map[string]string, len(keys))}
	for k, user := range keys {
		k, user = strings.TrimSpace(k), strings.TrimSpace(user)
		if k != "" && user != "" {
			p.keys[k] = user
		}
	}
	return p
}

func (p *APIKeyProvider) Name() string { return "apikey" }

func (p *APIKeyProvider) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.keys) > 0
}

// Authenticate returns (nil, nil) when the request carries no key and an
// error when it carries an unknown one.
func (p *APIKeyProvider) Authenticate(_ context.Context, r *http.Request) (*contracts.Identity, error) {
	apiKey := extractAPIKey(r)
	if apiKey == "" {
		return nil, nil
	}

	user, ok := p.lookup(apiKey)
	if !ok {
		return nil, ErrInvalidAPIKey
	}
	return &contracts.Identity{
		Subject:     user,
		Provider:    "apikey",
		DisplayName: user,
	}, nil
}

// lookup compares against every key so timing does not reveal which matched.
func (p *APIKeyProvider) lookup(candidate string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var user string
	found := false
	for key, u := range p.keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			user, found = u, true
		}
	}
	return user, found
}

// AddKey adds a key for user at runtime.
func (p *APIKeyProvider) AddKey(key, user string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[key] = user
}

// RemoveKey removes a key at runtime.
func (p *APIKeyProvider) RemoveKey(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.keys, key)
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
