// Package textutil provides common text helpers shared by the collector and
// the record normalizers.
package textutil

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeWhitespace collapses runs of whitespace into single spaces and
// trims the result.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts a string to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}

	runes := []rune(s)
	if len(runes) <= max {
		return s
	}

	return string(runes[:max])
}

// Ellipsis truncates to max runes, appending "..." when cut.
func Ellipsis(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}

	return string(runes[:max]) + "..."
}

// HashText returns the hex-encoded SHA-256 digest of the text.
func HashText(s string) string {
	sum := sha256.Sum256([]byte(s))

	return hex.EncodeToString(sum[:])
}

// FirstNonEmpty returns the first value with non-whitespace content.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}

	return ""
}
