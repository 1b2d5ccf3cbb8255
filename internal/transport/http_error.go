package transport

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/shpitdev/email-batch-validator/internal/batch"
	"github.com/shpitdev/email-batch-validator/pkg/pipeline/redact"
)

// errorEnvelope is the error body returned by the validation API.
// Real responses may include additional fields; we intentionally ignore them.
type errorEnvelope struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func newTransportError(op string, resp *http.Response, body []byte) *batch.TransportError {
	te := &batch.TransportError{Op: op}
	if resp != nil {
		te.StatusCode = resp.StatusCode
		te.Status = resp.Status
	}

	// Best effort: prefer the structured message.
	var env errorEnvelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil {
		msg := strings.TrimSpace(env.Detail)
		if msg == "" {
			msg = strings.TrimSpace(env.Error)
		}
		if msg != "" {
			te.Snippet = redactAndTruncate([]byte(msg))
			return te
		}
	}

	// Fallback: include a small, redacted hint only.
	te.Snippet = redactAndTruncate(body)
	return te
}

func redactAndTruncate(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	// Keep this small: response bodies can contain submitted addresses.
	const max = 256
	b := body
	if len(b) > max {
		b = b[:max]
	}
	s := redact.Secrets(string(b))
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(body) > max {
		return s + "..."
	}
	return s
}
