// Package transport issues the HTTP requests made by the gateway config cache
// and the event relay.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds every request, including event delivery.
const DefaultTimeout = 60 * time.Second

// maxResponseBody caps how much of a response is buffered.
const maxResponseBody = 1 << 20

// Response is the outcome of a request that reached the server.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport is the HTTP collaborator used by the relay core.
type Transport interface {
	// Get requests path relative to the configured base URL.
	Get(ctx context.Context, path string, params url.Values) (*Response, error)
	// PostJSON posts body to an absolute URL.
	PostJSON(ctx context.Context, rawURL string, body []byte) (*Response, error)
}

// HTTPTransport is a Transport backed by net/http. The client carries no
// cookie jar, so cookies are never stored or replayed.
type HTTPTransport struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// New returns an HTTPTransport resolving Get paths against baseURL. A zero
// timeout selects DefaultTimeout.
func New(baseURL, sdkVersion string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ua := "capi-relay"
	if sdkVersion != "" {
		ua += "/" + sdkVersion
	}
	return &HTTPTransport{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: ua,
		client:    &http.Client{Timeout: timeout},
	}
}

// Get issues a GET for baseURL/path with params encoded as the query.
func (t *HTTPTransport) Get(ctx context.Context, path string, params url.Values) (*Response, error) {
	u := t.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return t.do(req)
}

// PostJSON posts body with Content-Type application/json.
func (t *HTTPTransport) PostJSON(ctx context.Context, rawURL string, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(req)
}

func (t *HTTPTransport) do(req *http.Request) (*Response, error) {
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &Response{StatusCode: resp.StatusCode}, fmt.Errorf("read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}
