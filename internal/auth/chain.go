// Package auth provides the authentication provider chain.
//
// Providers:
//   - APIKeyProvider: configured API keys, each mapped to a user id
//   - HeaderProvider: an identity header set by a trusted upstream proxy
//
// A request no provider claims is anonymous; the caller id is then "".
// Everything keyed by caller id (agent ownership, conversation resumption)
// relies on an authenticated identity never carrying an empty subject.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/agentoven/agentdesk/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// ErrEmptySubject is returned when a provider claims a request but names no
// user. Letting it through would make the caller indistinguishable from an
// anonymous one.
var ErrEmptySubject = errors.New("auth provider returned an identity without a subject")

// ProviderChain implements contracts.AuthProviderChain.
// It walks registered providers in order until one returns an Identity.
//
// Registration is safe while requests are being served.
type ProviderChain struct {
	mu        sync.RWMutex
	providers []contracts.AuthProvider
}

// NewProviderChain creates an empty auth provider chain.
func NewProviderChain() *ProviderChain {
	return &ProviderChain{
		providers: make([]contracts.AuthProvider, 0),
	}
}

// RegisterProvider adds a provider to the end of the chain.
// Providers are tried in registration order, so register the stricter
// credential (API keys) before the trusted header.
func (c *ProviderChain) RegisterProvider(provider contracts.AuthProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers = append(c.providers, provider)
	log.Info().
		Str("provider", provider.Name()).
		Bool("enabled", provider.Enabled()).
		Msg("Auth provider registered")
}

// Authenticate walks the chain of providers in order.
//
// Contract:
//   - (*Identity, nil) → authenticated, stop walking
//   - (nil, nil) → this provider doesn't handle this request, try next
//   - (nil, error) → auth attempted but failed, reject immediately
//
// The returned identity always has a trimmed, non-empty Subject and names
// the provider that produced it.
func (c *ProviderChain) Authenticate(ctx context.Context, r *http.Request) (*contracts.Identity, error) {
	c.mu.RLock()
	providers := make([]contracts.AuthProvider, len(c.providers))
	copy(providers, c.providers)
	c.mu.RUnlock()

	for _, p := range providers {
		if !p.Enabled() {
			continue
		}
		identity, err := p.Authenticate(ctx, r)
		if err != nil {
			// A presented credential that fails never falls through to a weaker provider.
			log.Debug().
				Str("provider", p.Name()).
				Err(err).
				Msg("Auth provider rejected request")
			return nil, err
		}
		if identity == nil {
			continue
		}

		identity.Subject = strings.TrimSpace(identity.Subject)
		if identity.Subject == "" {
			log.Warn().Str("provider", p.Name()).Msg("Auth provider returned an empty subject")
			return nil, ErrEmptySubject
		}
		if identity.Provider == "" {
			identity.Provider = p.Name()
		}
		log.Debug().
			Str("provider", identity.Provider).
			Str("subject", identity.Subject).
			Msg("Request authenticated")
		return identity, nil
	}

	// Anonymous
	return nil, nil
}

// ListProviders returns the names of all registered providers, in chain order.
func (c *ProviderChain) ListProviders() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}
