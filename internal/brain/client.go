package brain

import (
	"bytes"
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"main/internal/schema"
	"main/pkg/exception"
)

// DefaultDeadline bounds a single context fetch. The decision loop
// never waits longer than this for cognition.
const DefaultDeadline = 20 * time.Millisecond

var json = sonic.ConfigFastest

// Client fetches semantic context from the cognitive service. A slow
// or failing service degrades the caller into blind mode; it never
// stalls the cycle and never retries within a cycle.
type Client struct {
	endpoint string
	deadline time.Duration
	http     *http.Client

	timeouts  uint64
	failures  uint64
	successes uint64
}

// New builds a client for the given context endpoint. A non-positive
// deadline falls back to DefaultDeadline.
func New(endpoint string, deadline time.Duration) *Client {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	return &Client{
		endpoint: endpoint,
		deadline: deadline,
		http: &http.Client{
			Timeout: deadline,
			Transport: &http.Transport{
				MaxIdleConns:        2,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// Fetch requests context for the current kinematic state. On any
// failure it returns a nil context and a classified error; the caller
// decides what blind mode means.
func (c *Client) Fetch(ctx context.Context, req schema.ContextRequest) (*schema.ContextResponse, error) {
	if c == nil || c.endpoint == "" {
		return nil, exception.ErrContextDegraded
	}

	body, err := json.Marshal(req)
	if err != nil {
		atomic.AddUint64(&c.failures, 1)
		return nil, errors.Wrap(err, "marshal context request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		atomic.AddUint64(&c.failures, 1)
		return nil, errors.Wrap(err, "build context request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			atomic.AddUint64(&c.timeouts, 1)
			return nil, exception.ErrContextTimeout
		}
		atomic.AddUint64(&c.failures, 1)
		return nil, errors.Wrap(err, "context request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		atomic.AddUint64(&c.failures, 1)
		return nil, errors.Wrapf(exception.ErrContextDegraded, "status %d", resp.StatusCode)
	}

	var out schema.ContextResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		atomic.AddUint64(&c.failures, 1)
		return nil, errors.Wrap(err, "decode context response")
	}

	atomic.AddUint64(&c.successes, 1)
	return &out, nil
}

// Stats returns the lifetime fetch counters.
func (c *Client) Stats() (successes, timeouts, failures uint64) {
	if c == nil {
		return 0, 0, 0
	}
	return atomic.LoadUint64(&c.successes),
		atomic.LoadUint64(&c.timeouts),
		atomic.LoadUint64(&c.failures)
}
