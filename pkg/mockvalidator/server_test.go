package mockvalidator_test

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shpitdev/email-batch-validator/internal/batch"
	"github.com/shpitdev/email-batch-validator/internal/stream"
	"github.com/shpitdev/email-batch-validator/internal/transport"
	"github.com/shpitdev/email-batch-validator/pkg/mockvalidator"
)

func emails(n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, "user"+string(rune('a'+i%26))+strings.Repeat("x", i/26)+"@corp.io")
	}
	return out
}

// readEvents decodes every event until the body ends and returns the read error, if any.
func readEvents(t *testing.T, body io.Reader) ([]stream.Event, error) {
	t.Helper()
	var out []stream.Event
	br := bufio.NewReader(body)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			if ev, decErr := stream.DecodeEvent(line); decErr == nil {
				out = append(out, ev)
			}
		}
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}

func newClient(t *testing.T, url string) *transport.Client {
	t.Helper()
	c, err := transport.NewClient(url, "", "test")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestMockValidator_AnonymousStream(t *testing.T) {
	t.Parallel()

	srv := mockvalidator.New(nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body, err := newClient(t, ts.URL).OpenStream(context.Background(), transport.ContractAnonymous,
		transport.Credentials{UserID: "browser-1"},
		transport.Request{Emails: []string{"alice@corp.io", "ALICE@corp.io", "bad@@corp.io"}, RemoveDuplicates: true},
	)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer func() { _ = body.Close() }()

	events, err := readEvents(t, body)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected start + 2 results + complete, got %d events", len(events))
	}
	if events[0].Type != stream.EventStart || events[0].Start.Total != 2 || events[0].Start.DuplicatesRemoved != 1 {
		t.Fatalf("unexpected start event: %#v", events[0].Start)
	}
	last := events[len(events)-1]
	if last.Type != stream.EventComplete {
		t.Fatalf("expected complete event last, got %s", last.Type)
	}
	if last.Complete.ValidCount != 1 || last.Complete.InvalidCount != 1 {
		t.Fatalf("unexpected totals: %#v", last.Complete)
	}
	if last.Complete.QuotaUsage != nil {
		t.Fatalf("anonymous callers must not receive quota usage")
	}

	calls := srv.Calls()
	if len(calls) != 1 || calls[0].UserID != "browser-1" || calls[0].Emails != 3 {
		t.Fatalf("unexpected calls: %#v", calls)
	}
}

func TestMockValidator_RejectsMissingCredentials(t *testing.T) {
	t.Parallel()

	srv := mockvalidator.New(nil)
	srv.RequireBearerToken("secret")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for _, path := range []string{"/api/validate/batch/stream/anonymous", "/api/validate/batch/stream", "/api/admin/validate/batch"} {
		req, err := http.NewRequest(http.MethodPost, ts.URL+path, strings.NewReader(`{"emails":["a@corp.io"]}`))
		if err != nil {
			t.Fatalf("build request: %v", err)
		}
		if path != "/api/validate/batch/stream/anonymous" {
			req.Header.Set("Authorization", "Bearer wrong")
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("do: %v", err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, resp.StatusCode)
		}
	}
}

func TestMockValidator_DropAfter(t *testing.T) {
	t.Parallel()

	srv := mockvalidator.New(nil)
	srv.SetBehavior(mockvalidator.Behavior{Workers: 1, DropAfter: 3})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body, err := newClient(t, ts.URL).OpenStream(context.Background(), transport.ContractAuthenticated,
		transport.Credentials{Token: "tok"}, transport.Request{Emails: emails(10)})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer func() { _ = body.Close() }()

	events, err := readEvents(t, body)
	if err == nil {
		t.Fatalf("expected a broken stream")
	}
	results := 0
	for _, ev := range events {
		if ev.Type == stream.EventComplete {
			t.Fatalf("unexpected complete event after drop")
		}
		if ev.Type == stream.EventResult {
			results++
		}
	}
	if results != 3 {
		t.Fatalf("expected 3 results before drop, got %d", results)
	}
}

func TestMockValidator_BulkChargesAuthenticatedQuotaOnly(t *testing.T) {
	t.Parallel()

	srv := mockvalidator.New(nil)
	srv.SetQuota(batch.Quota{Used: 5, Limit: 100})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	c := newClient(t, ts.URL)
	ctx := context.Background()

	admin, err := c.ValidateBulk(ctx, transport.ContractAdmin, transport.Credentials{Token: "tok"}, transport.Request{Emails: emails(4)})
	if err != nil {
		t.Fatalf("admin bulk: %v", err)
	}
	if admin.Total != 4 || len(admin.Results) != 4 || admin.QuotaUsage != nil {
		t.Fatalf("unexpected admin response: %#v", admin)
	}
	if admin.Results[0].Email != emails(4)[0] {
		t.Fatalf("bulk results must keep input order, got %q first", admin.Results[0].Email)
	}

	user, err := c.ValidateBulk(ctx, transport.ContractAuthenticatedBulk, transport.Credentials{Token: "tok"}, transport.Request{Emails: emails(3)})
	if err != nil {
		t.Fatalf("authenticated bulk: %v", err)
	}
	if user.QuotaUsage == nil || user.QuotaUsage.Used != 8 {
		t.Fatalf("unexpected quota usage: %#v", user.QuotaUsage)
	}
	if got := srv.Quota().Used; got != 8 {
		t.Fatalf("expected server quota 8, got %d", got)
	}
}

func TestMockValidator_FailStatus(t *testing.T) {
	t.Parallel()

	srv := mockvalidator.New(nil)
	srv.SetBehavior(mockvalidator.Behavior{FailStatus: http.StatusServiceUnavailable})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	_, err := newClient(t, ts.URL).ValidateBulk(context.Background(), transport.ContractAdmin,
		transport.Credentials{Token: "tok"}, transport.Request{Emails: emails(1)})
	var te *batch.TransportError
	if !errors.As(err, &te) || te.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 transport error, got %v", err)
	}
}

func TestDefaultValidator(t *testing.T) {
	t.Parallel()

	v := mockvalidator.DefaultValidator()
	tests := []struct {
		email      string
		valid      bool
		disposable bool
		role       bool
	}{
		{email: "alice@corp.io", valid: true},
		{email: "info@corp.io", valid: true, role: true},
		{email: "bob@mailinator.com", disposable: true},
		{email: "a..b@corp.io"},
		{email: "no-at-sign"},
		{email: "two@@corp.io"},
	}
	for _, tt := range tests {
		got, err := v.Validate(context.Background(), tt.email)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.email, err)
		}
		if got.Valid != tt.valid || got.Checks["disposable"] != tt.disposable || got.Checks["role_based"] != tt.role {
			t.Fatalf("%s: unexpected verdict %#v", tt.email, got)
		}
		if got.ConfidenceScore == nil {
			t.Fatalf("%s: expected a confidence score", tt.email)
		}
	}
}
