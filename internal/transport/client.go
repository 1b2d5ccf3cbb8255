package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/shpitdev/email-batch-validator/internal/batch"
)

// maxErrorBody bounds how much of a non-2xx body is read for diagnostics.
const maxErrorBody = 4096

// Client speaks every backend contract against one API base URL.
type Client struct {
	baseURL   *url.URL
	userAgent string
	http      *http.Client
}

// NewClient constructs a client for the validation API.
//
// baseURL should look like "https://validator.example.com". caPath is optional and, when
// provided, is used as the trust store for TLS.
func NewClient(baseURL, caPath, userAgent string) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	hc, err := newHTTPClient(caPath)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:   base,
		userAgent: strings.TrimSpace(userAgent),
		http:      hc,
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, eris.New("api base URL is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, eris.Wrap(err, "parse api base URL")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, eris.Errorf("api base URL must include a host (got %q)", raw)
	}
	// Ensure the base path ends with a slash so ResolveReference treats it as a directory.
	u.Path = strings.TrimRight(u.Path, "/") + "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// newHTTPClient sets no client-wide Timeout; deadlines come from the submission context.
func newHTTPClient(caPath string) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if strings.TrimSpace(caPath) != "" {
		b, err := os.ReadFile(strings.TrimSpace(caPath))
		if err != nil {
			return nil, eris.Wrap(err, "read CA bundle")
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(b); !ok {
			return nil, eris.New("parse CA bundle PEM: no certs found")
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return &http.Client{Transport: tr}, nil
}

// OpenStream issues a streaming request and returns the open response body on 2xx.
// The caller owns the body and must close it.
func (c *Client) OpenStream(ctx context.Context, contract Contract, creds Credentials, body Request) (io.ReadCloser, error) {
	if !contract.Streaming {
		return nil, eris.Errorf("contract %s does not stream", contract.Name)
	}
	op := "stream:" + contract.Name
	req, err := c.newRequest(ctx, contract, creds, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &batch.TransportError{Op: op, Err: err}
	}
	if resp.StatusCode/100 != 2 {
		defer func() {
			_ = resp.Body.Close()
		}()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, newTransportError(op, resp, b)
	}
	return resp.Body, nil
}

// ValidateBulk issues a non-streaming request and decodes the complete response.
func (c *Client) ValidateBulk(ctx context.Context, contract Contract, creds Credentials, body Request) (BulkResponse, error) {
	if contract.Streaming {
		return BulkResponse{}, eris.Errorf("contract %s streams; use OpenStream", contract.Name)
	}
	op := "bulk:" + contract.Name
	req, err := c.newRequest(ctx, contract, creds, body)
	if err != nil {
		return BulkResponse{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return BulkResponse{}, &batch.TransportError{Op: op, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return BulkResponse{}, newTransportError(op, resp, b)
	}

	var out BulkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return BulkResponse{}, &batch.TransportError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Err:        fmt.Errorf("parse bulk response: %w", err),
		}
	}
	return out, nil
}

func (c *Client) newRequest(ctx context.Context, contract Contract, creds Credentials, body Request) (*http.Request, error) {
	if body.Emails == nil {
		body.Emails = []string{}
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "marshal request")
	}

	u := c.resolve(contract.Path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(b))
	if err != nil {
		return nil, eris.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	switch contract.Credential {
	case CredentialBearer:
		token := strings.TrimSpace(creds.Token)
		if token == "" {
			return nil, eris.Errorf("contract %s requires a bearer token", contract.Name)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case CredentialUserID:
		id := strings.TrimSpace(creds.UserID)
		if id == "" {
			return nil, eris.Errorf("contract %s requires a user id", contract.Name)
		}
		req.Header.Set("X-User-ID", id)
	}
	return req, nil
}

func (c *Client) resolve(relPath string) *url.URL {
	relPath = strings.TrimPrefix(relPath, "/")
	rel := &url.URL{Path: relPath}
	return c.baseURL.ResolveReference(rel)
}
