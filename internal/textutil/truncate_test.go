package textutil_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/agentoven/agentdesk/internal/textutil"
	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		truncated bool
	}{
		{"empty", "", false},
		{"at cap", strings.Repeat("x", textutil.MaxTextLength), false},
		{"over cap", strings.Repeat("x", textutil.MaxTextLength+1), true},
		{"multibyte over cap", strings.Repeat("é", textutil.MaxTextLength+10), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := textutil.Truncate(tt.in)
			if !tt.truncated {
				assert.Equal(t, tt.in, got)
				return
			}
			assert.True(t, utf8.ValidString(got))
			body, marker, found := strings.Cut(got, "\n\n[truncated: ")
			assert.True(t, found)
			assert.Equal(t, textutil.MaxTextLength, utf8.RuneCountInString(body))
			assert.Contains(t, marker, "original length")
		})
	}
}

func TestTruncateMetadata_Nil(t *testing.T) {
	assert.Nil(t, textutil.TruncateMetadata(nil))
}
