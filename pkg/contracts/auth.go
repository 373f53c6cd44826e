package contracts

import (
	"context"
	"net/http"
)

// ── Identity ────────────────────────────────────────────────

// Identity is an authenticated caller. Subject is the user id that owns
// agents and conversations; handlers never see how it was established.
type Identity struct {
	Subject     string `json:"subject"`
	DisplayName string `json:"display_name,omitempty"`

	// Provider names the AuthProvider that produced the identity: "apikey" or "header".
	Provider string `json:"provider"`
}

// ── AuthProvider ────────────────────────────────────────────

// AuthProvider authenticates an HTTP request with one strategy.
//
// The chain pattern:
//   - Return (*Identity, nil) → authenticated, stop chain
//   - Return (nil, nil) → this provider doesn't handle this request, try next
//   - Return (nil, error) → authentication was attempted but failed, reject
type AuthProvider interface {
	Name() string
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	Enabled() bool
}

// AuthProviderChain tries providers in order until one returns an Identity.
type AuthProviderChain interface {
	// Authenticate returns the first Identity, or (nil, nil) for an anonymous request.
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	RegisterProvider(provider AuthProvider)
}
