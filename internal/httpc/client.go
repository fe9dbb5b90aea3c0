// Package httpc provides the shared HTTP client used for every outbound API
// call (transcription, embeddings, vector DB, tool APIs).
// Use this instead of http.DefaultClient to ensure timeouts are set.
package httpc

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"
)

// Default timeouts for HTTP operations.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second

	// MaxErrorBody caps how much of a failed response body is kept in errors.
	MaxErrorBody = 4 << 10
)

func newTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   DefaultConnectTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Client is a shared HTTP client with production-ready defaults.
// It is safe for concurrent use by every connection.
var Client = &http.Client{
	Timeout:   DefaultTimeout,
	Transport: newTransport(),
}

// NewClient creates a new HTTP client with the specified timeout.
// For most cases, use the shared Client variable instead.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: newTransport(),
	}
}

// NewRequest builds a request bound to ctx and sets a JSON content type when
// a body is present.
func NewRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// SetBearer attaches an Authorization header when token is non-empty.
func SetBearer(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// ReadErrorBody reads at most MaxErrorBody bytes of a response body.
func ReadErrorBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, MaxErrorBody))
	return string(data)
}
