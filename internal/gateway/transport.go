package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"payment-orchestration/internal/models"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 1 << 20
)

// HTTPDoer is the synchronous send port every adapter uses. *http.Client
// satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type response struct {
	StatusCode int
	Body       []byte
}

func (r response) ok() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

type transport struct {
	gateway string
	client  HTTPDoer
	timeout time.Duration
}

func newTransport(gateway string, client HTTPDoer, timeout time.Duration) transport {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return transport{gateway: gateway, client: client, timeout: timeout}
}

// do sends req bounded by the transport timeout. Connection failures,
// timeouts and unreadable bodies are CommunicationErrors; the status code is
// left to the caller.
func (t transport) do(ctx context.Context, req *http.Request) (response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	resp, err := t.client.Do(req.WithContext(ctx))
	if err != nil {
		return response{}, t.commError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return response{}, t.commError(fmt.Errorf("read response: %w", err))
	}
	return response{StatusCode: resp.StatusCode, Body: body}, nil
}

// expectOK is do plus a CommunicationError for any non-2xx answer.
func (t transport) expectOK(ctx context.Context, req *http.Request) (response, error) {
	resp, err := t.do(ctx, req)
	if err != nil {
		return resp, err
	}
	if !resp.ok() {
		return resp, t.commError(fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(resp.Body, 256)))
	}
	return resp, nil
}

func (t transport) commError(err error) *models.CommunicationError {
	return &models.CommunicationError{Gateway: t.gateway, Err: err}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
