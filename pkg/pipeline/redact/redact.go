// Package redact scrubs credentials from strings before they are logged or surfaced.
package redact

import (
	"regexp"
	"strings"
)

var (
	// Matches "Bearer <token>" (JWTs and opaque tokens).
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s"']+`)

	// Common key=value formats that sometimes leak in error strings.
	apiKeyKVRe = regexp.MustCompile(`(?i)\b(api[_-]?key|access[_-]?token|token)\b\s*[:=]\s*[^\s"',]+`)

	// The anonymous per-browser identifier is not a secret, but it is a stable tracking id.
	userIDHeaderRe = regexp.MustCompile(`(?i)\bX-User-ID\s*:\s*[^\s"',]+`)
)

// Secrets removes obvious secret-bearing substrings from error/log strings.
func Secrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = bearerTokenRe.ReplaceAllString(out, "Bearer <redacted>")
	out = apiKeyKVRe.ReplaceAllString(out, "<redacted_kv>")
	out = userIDHeaderRe.ReplaceAllString(out, "X-User-ID: <redacted>")
	return strings.TrimSpace(out)
}
