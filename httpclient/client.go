// Package httpclient is the slim HTTP client used by the health prober and
// by callers running remote operations under failover. It carries per-call
// timeouts and optional retry, and never panics on non-2xx responses.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/acgov/go-mesh/retry"
)

// Client wraps http.Client with mesh defaults.
type Client struct {
	httpClient *http.Client
	config     *config
}

// NewClient creates a client. Options set the defaults every call inherits.
func NewClient(opts ...Option) *Client {
	cfg := newConfig()
	applyOptions(cfg, opts)

	if cfg.transport == nil {
		cfg.transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	return &Client{
		httpClient: &http.Client{Transport: cfg.transport},
		config:     cfg,
	}
}

// Do executes one request. Per-call options override the client defaults.
func (c *Client) Do(ctx context.Context, method, url string, body io.Reader, opts ...Option) (*Response, error) {
	reqCfg := newConfig()
	applyOptions(reqCfg, opts)
	cfg := c.config.merge(reqCfg)

	if cfg.baseURL != "" && !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = strings.TrimRight(cfg.baseURL, "/") + "/" + strings.TrimLeft(url, "/")
	}

	// Retried requests need a rewindable body.
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
	}

	start := time.Now()
	var resp *Response

	attempt := func(ctx context.Context) error {
		var err error
		resp, err = c.doRequest(ctx, method, url, bodyBytes, cfg)
		if err != nil {
			return err
		}
		if cfg.retryEnabled && (resp.IsServerError() || resp.StatusCode == http.StatusTooManyRequests) {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
		}
		return nil
	}

	var err error
	if cfg.retryEnabled {
		err = retry.Do(ctx, attempt, cfg.retryOpts...)
	} else {
		err = attempt(ctx)
	}
	if err != nil {
		// A retry run that ended on a retryable status still has a usable
		// response; surface it so callers can inspect the status.
		if resp != nil {
			resp.Duration = time.Since(start)
			return resp, nil
		}
		return nil, err
	}

	resp.Duration = time.Since(start)
	return resp, nil
}

func (c *Client) doRequest(ctx context.Context, method, url string, body []byte, cfg *config) (*Response, error) {
	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range cfg.headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	return newResponse(httpResp)
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, url string, opts ...Option) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil, opts...)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, url string, opts ...Option) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, url, nil, opts...)
}

// PostJSON posts a JSON-encoded body.
func (c *Client) PostJSON(ctx context.Context, url string, data any, opts ...Option) (*Response, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	opts = append(opts, WithHeader("Content-Type", "application/json"))
	return c.Do(ctx, http.MethodPost, url, bytes.NewReader(payload), opts...)
}

// GetJSON fetches and decodes a JSON response into T.
func GetJSON[T any](ctx context.Context, c *Client, url string, opts ...Option) (*T, error) {
	resp, err := c.Get(ctx, url, opts...)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	var result T
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &result, nil
}
