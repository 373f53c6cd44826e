package apperr_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/agentoven/agentdesk/internal/apperr"
	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", apperr.Validation("bad %s", "input"), http.StatusBadRequest},
		{"forbidden", apperr.Forbidden("no"), http.StatusForbidden},
		{"not found", apperr.NotFound("agent", "a1"), http.StatusNotFound},
		{"upstream", apperr.Upstream("platform down", errors.New("dial")), http.StatusBadGateway},
		{"internal", apperr.Internal("db", errors.New("boom")), http.StatusInternalServerError},
		{"plain error", errors.New("whatever"), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("ctx: %w", apperr.Forbidden("no")), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apperr.HTTPStatus(tt.err))
		})
	}
}

func TestMessageHidesUnclassifiedErrors(t *testing.T) {
	assert.Equal(t, "internal error", apperr.Message(errors.New("pq: relation does not exist")))
	assert.Equal(t, "agent not found: a1", apperr.Message(apperr.NotFound("agent", "a1")))
}

func TestErrorUnwrap(t *testing.T) {
	root := errors.New("root cause")
	err := apperr.Internal("store write failed", root)
	assert.ErrorIs(t, err, root)
	assert.True(t, apperr.Is(err, apperr.KindInternal))
	assert.False(t, apperr.Is(err, apperr.KindNotFound))
}
