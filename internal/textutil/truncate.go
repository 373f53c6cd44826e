// Package textutil caps text sent to or received from the external platforms.
package textutil

import (
	"fmt"
	"unicode/utf8"
)

// MaxTextLength is the character cap for a single text field.
const MaxTextLength = 100_000

// Truncate cuts s to MaxTextLength characters and appends a marker carrying
// the original length. Shorter strings are returned unchanged.
func Truncate(s string) string {
	n := utf8.RuneCountInString(s)
	if n <= MaxTextLength {
		return s
	}
	cut := 0
	for i := range s {
		if cut == MaxTextLength {
			s = s[:i]
			break
		}
		cut++
	}
	return s + fmt.Sprintf("\n\n[truncated: original length %d characters]", n)
}

// truncateValue applies Truncate to every string reachable through maps and slices.
func truncateValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return Truncate(t)
	case map[string]interface{}:
		for k, inner := range t {
			t[k] = truncateValue(inner)
		}
		return t
	case []interface{}:
		for i, inner := range t {
			t[i] = truncateValue(inner)
		}
		return t
	default:
		return v
	}
}

// TruncateMetadata applies Truncate recursively to every string in m.
func TruncateMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	truncateValue(m)
	return m
}
