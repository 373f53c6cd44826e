package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentoven/agentdesk/internal/api/middleware"
	"github.com/agentoven/agentdesk/internal/auth"
	pkgmw "github.com/agentoven/agentdesk/pkg/middleware"
)

func chain() *auth.ProviderChain {
	c := auth.NewProviderChain()
	c.RegisterProvider(auth.NewAPIKeyProvider(map[string]string{"valid-key": "alice"}))
	return c
}

// echoCaller writes the caller id the handler sees.
var echoCaller = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(pkgmw.CallerID(r.Context())))
})

func TestAuth_ValidKeySetsIdentity(t *testing.T) {
	handler := middleware.NewAuthMiddleware(chain(), false).Handler(echoCaller)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	req.Header.Set("Authorization", "Bearer valid-key")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Body.String(); got != "alice" {
		t.Errorf("caller = %q, want alice", got)
	}
}

func TestAuth_InvalidKeyRejected(t *testing.T) {
	handler := middleware.NewAuthMiddleware(chain(), false).Handler(echoCaller)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if w.Header().Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate header")
	}
}

func TestAuth_AnonymousAllowedUnlessRequired(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)

	w := httptest.NewRecorder()
	middleware.NewAuthMiddleware(chain(), false).Handler(echoCaller).ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "" {
		t.Errorf("optional auth: status = %d body = %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	middleware.NewAuthMiddleware(chain(), true).Handler(echoCaller).ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("required auth: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuth_PublicPathsSkipAuth(t *testing.T) {
	handler := middleware.NewAuthMiddleware(chain(), true).Handler(echoCaller)

	for _, path := range []string{"/health", "/version"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer wrong-key")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want %d", path, w.Code, http.StatusOK)
		}
	}
}
