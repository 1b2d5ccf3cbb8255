// Package mockvalidator is an in-process stand-in for the validation backend. It serves every
// batch contract and exposes knobs for the failure modes clients must survive.
package mockvalidator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shpitdev/email-batch-validator/internal/batch"
	"github.com/shpitdev/email-batch-validator/internal/reconcile"
	"github.com/shpitdev/email-batch-validator/internal/stream"
	"github.com/shpitdev/email-batch-validator/internal/transport"
	"github.com/shpitdev/email-batch-validator/pkg/pipeline/core"
	"github.com/shpitdev/email-batch-validator/pkg/pipeline/worker"
)

// Call records a request made to the mock service.
type Call struct {
	Method        string
	Path          string
	Authorization string
	UserID        string
	Emails        int
}

// Behavior tunes how responses are produced.
type Behavior struct {
	// Workers is the validation pool size. Results stream in completion order.
	Workers int
	// ResultDelay is slept before each verdict.
	ResultDelay time.Duration
	// DropAfter aborts the connection after this many result events (0 = never).
	DropAfter int
	// MalformedEvery injects an undecodable line after every N result events (0 = never).
	MalformedEvery int
	// OmitComplete ends the stream cleanly without a complete event.
	OmitComplete bool
	// FailStatus rejects every request with this status (0 = disabled).
	FailStatus int
}

// Server implements the batch validation API surface.
type Server struct {
	validator core.Validator

	mu       sync.Mutex
	calls    []Call
	behavior Behavior
	quota    batch.Quota

	expectedAuthorization string
}

// New constructs a mock server. A nil validator uses DefaultValidator.
func New(v core.Validator) *Server {
	if v == nil {
		v = DefaultValidator()
	}
	return &Server{
		validator: v,
		behavior:  Behavior{Workers: 4},
		quota:     batch.Quota{Limit: 10000},
	}
}

// RequireBearerToken enforces that bearer-authenticated routes carry this token.
// If token is empty, any non-empty bearer token is accepted.
func (s *Server) RequireBearerToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token = strings.TrimSpace(token)
	if token == "" {
		s.expectedAuthorization = ""
		return
	}
	s.expectedAuthorization = "Bearer " + token
}

// SetBehavior replaces the response knobs.
func (s *Server) SetBehavior(b Behavior) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.behavior = b
}

// SetQuota seeds the usage reported to authenticated callers.
func (s *Server) SetQuota(q batch.Quota) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quota = q
}

// Quota returns the current authenticated usage.
func (s *Server) Quota() batch.Quota {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quota
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Handler returns an http.Handler that serves the mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/validate/batch/stream", s.route(transport.ContractAuthenticated))
	mux.HandleFunc("POST /api/validate/batch/stream/anonymous", s.route(transport.ContractAnonymous))
	mux.HandleFunc("POST /api/validate/batch", s.route(transport.ContractAuthenticatedBulk))
	mux.HandleFunc("POST /api/validate/batch/anonymous", s.route(transport.ContractAnonymousBulk))
	mux.HandleFunc("POST /api/admin/validate/batch", s.route(transport.ContractAdmin))
	return mux
}

func (s *Server) route(c transport.Contract) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transport.Request
		decodeErr := json.NewDecoder(io.LimitReader(r.Body, 8<<20)).Decode(&req)
		s.recordCall(r, len(req.Emails))

		b := s.currentBehavior()
		if b.FailStatus != 0 {
			writeError(w, b.FailStatus, "mock failure", "configured to fail")
			return
		}
		if !s.authorize(w, r, c) {
			return
		}
		if decodeErr != nil {
			writeError(w, http.StatusBadRequest, "invalid request", decodeErr.Error())
			return
		}
		if len(req.Emails) == 0 {
			writeError(w, http.StatusBadRequest, "invalid request", "no emails provided")
			return
		}

		emails, dups := dedupe(req.Emails, req.RemoveDuplicates)
		if c.Streaming {
			s.serveStream(w, r, c, b, emails, len(req.Emails), dups)
			return
		}
		s.serveBulk(w, r, c, b, emails, len(req.Emails), dups)
	}
}

func (s *Server) currentBehavior() Behavior {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.behavior
}

func (s *Server) recordCall(r *http.Request, emails int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{
		Method:        r.Method,
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		UserID:        r.Header.Get("X-User-ID"),
		Emails:        emails,
	})
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request, c transport.Contract) bool {
	switch c.Credential {
	case transport.CredentialUserID:
		if strings.TrimSpace(r.Header.Get("X-User-ID")) == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing X-User-ID")
			return false
		}
	case transport.CredentialBearer:
		s.mu.Lock()
		expected := s.expectedAuthorization
		s.mu.Unlock()

		got := r.Header.Get("Authorization")
		if !strings.HasPrefix(got, "Bearer ") || (expected != "" && got != expected) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
			return false
		}
	}
	return true
}

var errDropped = errors.New("connection dropped")

func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, c transport.Contract, b Behavior, emails []string, original, dups int) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", "")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	started := time.Now()
	emit := func(ev stream.Event) error {
		line, err := stream.Encode(ev)
		if err != nil {
			return err
		}
		if _, err := w.Write(line); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := emit(stream.Event{Type: stream.EventStart, Start: &stream.StartEvent{
		Total:             len(emails),
		OriginalCount:     original,
		DuplicatesRemoved: dups,
	}}); err != nil {
		return
	}

	var results []batch.Result
	err := worker.Run(r.Context(), emails, s.validate(b), func(res worker.Result[string, batch.Result]) error {
		out := verdict(res)
		results = append(results, out)
		n := len(results)
		if err := emit(stream.Event{Type: stream.EventResult, Result: &stream.ResultEvent{
			Result: out,
			Progress: stream.ServerProgress{
				Current:    n,
				Total:      len(emails),
				Percentage: float64(n) / float64(len(emails)) * 100,
			},
		}}); err != nil {
			return err
		}
		if b.MalformedEvery > 0 && n%b.MalformedEvery == 0 {
			_, _ = io.WriteString(w, "data: {\"type\":\"result\",\"result\":\n\n")
			flusher.Flush()
		}
		if b.DropAfter > 0 && n >= b.DropAfter {
			return errDropped
		}
		return nil
	}, worker.Options{Workers: b.Workers})

	if errors.Is(err, errDropped) {
		// Abort without terminating the chunked body so the client sees a broken stream.
		panic(http.ErrAbortHandler)
	}
	if err != nil || b.OmitComplete {
		return
	}

	elapsed := time.Since(started).Seconds()
	complete := s.summarize(c, results, elapsed)
	_ = emit(stream.Event{Type: stream.EventComplete, Complete: &stream.CompleteEvent{
		ValidCount:        complete.ValidCount,
		InvalidCount:      complete.InvalidCount,
		Total:             complete.Total,
		DuplicatesRemoved: dups,
		DomainStats:       complete.DomainStats,
		ProcessingTime:    complete.ProcessingTime,
		QuotaUsage:        complete.QuotaUsage,
	}})
}

func (s *Server) serveBulk(w http.ResponseWriter, r *http.Request, c transport.Contract, b Behavior, emails []string, original, dups int) {
	started := time.Now()
	out, err := worker.ProcessAll(r.Context(), emails, s.validate(b), worker.Options{Workers: b.Workers})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "validation interrupted", err.Error())
		return
	}
	results := make([]batch.Result, 0, len(out))
	for _, res := range out {
		results = append(results, verdict(res))
	}

	resp := s.summarize(c, results, time.Since(started).Seconds())
	resp.OriginalCount = original
	resp.DuplicatesRemoved = dups
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) validate(b Behavior) func(ctx context.Context, email string) (batch.Result, error) {
	return func(ctx context.Context, email string) (batch.Result, error) {
		if b.ResultDelay > 0 {
			t := time.NewTimer(b.ResultDelay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return batch.Result{}, ctx.Err()
			}
		}
		return s.validator.Validate(ctx, email)
	}
}

// summarize builds the totals shared by the complete event and the bulk body. Quota usage is
// charged for authenticated, non-admin contracts only.
func (s *Server) summarize(c transport.Contract, results []batch.Result, elapsed float64) transport.BulkResponse {
	resp := transport.BulkResponse{
		Results:        results,
		Total:          len(results),
		OriginalCount:  len(results),
		ProcessingTime: &elapsed,
		DomainStats:    reconcile.DomainStats(results),
	}
	for _, r := range results {
		if r.Valid {
			resp.ValidCount++
		} else {
			resp.InvalidCount++
		}
	}
	if c.Credential == transport.CredentialBearer && c.Name != transport.ContractAdmin.Name {
		s.mu.Lock()
		s.quota.Used += len(results)
		q := s.quota
		s.mu.Unlock()
		resp.QuotaUsage = &q
	}
	return resp
}

// verdict turns a pool result into a wire result; validator errors become invalid verdicts.
func verdict(res worker.Result[string, batch.Result]) batch.Result {
	if res.Err != nil {
		return batch.Result{Email: res.Input, Valid: false, Checks: map[string]bool{"error": true}}
	}
	out := res.Output
	if out.Email == "" {
		out.Email = res.Input
	}
	return out
}

func dedupe(emails []string, remove bool) ([]string, int) {
	if !remove {
		return emails, 0
	}
	seen := make(map[string]bool, len(emails))
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		k := strings.ToLower(e)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out, len(emails) - len(out)
}

func writeError(w http.ResponseWriter, status int, msg, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":  msg,
		"detail": detail,
	})
}
