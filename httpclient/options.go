package httpclient

import (
	"net/http"
	"time"

	"github.com/acgov/go-mesh/retry"
)

type config struct {
	baseURL      string
	timeout      time.Duration
	headers      map[string]string
	transport    http.RoundTripper
	retryEnabled bool
	retryOpts    []retry.Option
}

func newConfig() *config {
	return &config{headers: make(map[string]string)}
}

// Option adjusts client or per-call behavior.
type Option func(*config)

func applyOptions(cfg *config, opts []Option) {
	for _, opt := range opts {
		opt(cfg)
	}
}

// merge layers per-call settings over client defaults.
func (c *config) merge(over *config) *config {
	out := &config{
		baseURL:      c.baseURL,
		timeout:      c.timeout,
		headers:      make(map[string]string, len(c.headers)+len(over.headers)),
		transport:    c.transport,
		retryEnabled: c.retryEnabled,
		retryOpts:    c.retryOpts,
	}
	for k, v := range c.headers {
		out.headers[k] = v
	}
	for k, v := range over.headers {
		out.headers[k] = v
	}
	if over.baseURL != "" {
		out.baseURL = over.baseURL
	}
	if over.timeout > 0 {
		out.timeout = over.timeout
	}
	if over.transport != nil {
		out.transport = over.transport
	}
	if over.retryEnabled {
		out.retryEnabled = true
		out.retryOpts = over.retryOpts
	}
	return out
}

// WithBaseURL prefixes relative request URLs.
func WithBaseURL(baseURL string) Option {
	return func(c *config) { c.baseURL = baseURL }
}

// WithTimeout bounds each request, including retried attempts individually.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithHeader sets a default header.
func WithHeader(key, value string) Option {
	return func(c *config) { c.headers[key] = value }
}

// WithTransport replaces the underlying transport.
func WithTransport(t http.RoundTripper) Option {
	return func(c *config) { c.transport = t }
}

// WithRetry enables retry on transport errors, 5xx, and 429.
func WithRetry(opts ...retry.Option) Option {
	return func(c *config) {
		c.retryEnabled = true
		c.retryOpts = opts
	}
}
