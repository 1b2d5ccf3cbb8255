package batch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

var (
	// ErrNoEmails is returned when normalization yields nothing to validate.
	ErrNoEmails = eris.New("no emails provided")

	// ErrAborted is returned when the caller cancels a submission that produced no results.
	ErrAborted = eris.New("validation aborted")

	// ErrJobInFlight is returned when a session already has a submission running.
	ErrJobInFlight = eris.New("a batch validation is already in progress for this session")

	// ErrStreamIncomplete marks a stream that closed before its complete event.
	ErrStreamIncomplete = eris.New("stream ended before complete event")
)

// QuotaError rejects a batch before any network call is made.
type QuotaError struct {
	Role      Role
	Tier      string
	Requested int
	Remaining int

	// NextTier and NextTierLimit are empty when there is no higher tier to suggest.
	NextTier      string
	NextTierLimit int

	// Reason overrides the generated message (e.g. batch mode disabled for anonymous callers).
	Reason string
}

func (e *QuotaError) Error() string {
	if e == nil {
		return "quota exceeded"
	}
	if strings.TrimSpace(e.Reason) != "" {
		return "quota exceeded: " + e.Reason
	}
	msg := fmt.Sprintf(
		"quota exceeded: requested %d validations but only %d remain (short by %d)",
		e.Requested,
		e.Remaining,
		e.Shortfall(),
	)
	if e.NextTier != "" {
		msg += fmt.Sprintf("; upgrade to %s for %d validations", e.NextTier, e.NextTierLimit)
	}
	return msg
}

// Shortfall is the number of validations the batch exceeds the remaining quota by.
func (e *QuotaError) Shortfall() int {
	if e == nil || e.Requested <= e.Remaining {
		return 0
	}
	return e.Requested - e.Remaining
}

// IsPreflight reports whether err is a rejection raised before any network call.
func IsPreflight(err error) bool {
	if errors.Is(err, ErrNoEmails) {
		return true
	}
	var qe *QuotaError
	return errors.As(err, &qe)
}

// TransportError is a network failure or non-2xx response from the backend.
//
// Snippet must already be redacted; raw response bodies can carry tokens.
type TransportError struct {
	Op         string
	StatusCode int
	Status     string
	Snippet    string
	Err        error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "transport error"
	}
	parts := []string{"transport error: op=" + strings.TrimSpace(e.Op)}
	if strings.TrimSpace(e.Status) != "" {
		parts = append(parts, "status="+strings.TrimSpace(e.Status))
	}
	if strings.TrimSpace(e.Snippet) != "" {
		parts = append(parts, "body="+strings.TrimSpace(e.Snippet))
	}
	if e.Err != nil {
		parts = append(parts, "err="+e.Err.Error())
	}
	return strings.Join(parts, " ")
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TimeoutError is raised when the hard submission ceiling elapses.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	if e == nil {
		return "validation timed out"
	}
	return fmt.Sprintf("validation timed out after %s", e.After)
}

// DecodeError describes a stream line that could not be decoded. It is never fatal.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return "decode error"
	}
	line := e.Line
	if len(line) > 120 {
		line = line[:120] + "..."
	}
	return fmt.Sprintf("decode event %q: %v", line, e.Err)
}

func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// PartialResultsWarning downgrades a mid-stream failure once results exist.
type PartialResultsWarning struct {
	Retained int
	Cause    error
}

func (w *PartialResultsWarning) Error() string {
	if w == nil {
		return "partial results"
	}
	if w.Cause == nil {
		return fmt.Sprintf("partial results: %d validations retained", w.Retained)
	}
	return fmt.Sprintf("partial results: %d validations retained: %v", w.Retained, w.Cause)
}

func (w *PartialResultsWarning) Unwrap() error {
	if w == nil {
		return nil
	}
	return w.Cause
}
