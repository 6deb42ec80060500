// Package retry runs fallible operations with bounded attempts and a
// pluggable backoff strategy.
package retry

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Config controls a retry run.
type Config struct {
	maxAttempts int
	backoff     BackoffStrategy
	timeout     time.Duration // per-attempt timeout, 0 disables
	shouldRetry func(err error, attempt int) bool
	onRetry     func(attempt int, err error)
}

// Option mutates the retry configuration.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		maxAttempts: 3,
		backoff:     NoBackoff(),
		shouldRetry: func(error, int) bool { return true },
	}
}

// WithMaxAttempts sets the total number of attempts (including the first).
func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff sets the delay strategy between attempts.
func WithBackoff(b BackoffStrategy) Option {
	return func(c *Config) {
		if b != nil {
			c.backoff = b
		}
	}
}

// WithAttemptTimeout bounds each individual attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.timeout = d
	}
}

// WithRetryIf installs a predicate deciding whether an error is retryable.
func WithRetryIf(fn func(err error, attempt int) bool) Option {
	return func(c *Config) {
		if fn != nil {
			c.shouldRetry = fn
		}
	}
}

// WithOnRetry installs a callback fired before each retry sleep.
func WithOnRetry(fn func(attempt int, err error)) Option {
	return func(c *Config) {
		c.onRetry = fn
	}
}

// MultiError collects the error of every failed attempt.
type MultiError struct {
	Errors   []error
	Attempts int
}

// Error renders all attempt errors.
func (m *MultiError) Error() string {
	parts := make([]string, 0, len(m.Errors))
	for i, err := range m.Errors {
		parts = append(parts, fmt.Sprintf("attempt %d: %v", i+1, err))
	}
	return fmt.Sprintf("%d attempts failed: %s", m.Attempts, strings.Join(parts, "; "))
}

// Unwrap exposes the last error for errors.Is/As.
func (m *MultiError) Unwrap() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m.Errors[len(m.Errors)-1]
}

// Do runs operation until it succeeds, attempts are exhausted, the predicate
// rejects the error, or ctx is cancelled.
func Do(ctx context.Context, operation func(ctx context.Context) error, opts ...Option) error {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	var errs []error
	for attempt := 1; attempt <= cfg.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := runAttempt(ctx, operation, cfg.timeout)
		if err == nil {
			return nil
		}
		errs = append(errs, err)

		if attempt == cfg.maxAttempts || !cfg.shouldRetry(err, attempt) {
			return &MultiError{Errors: errs, Attempts: attempt}
		}

		if cfg.onRetry != nil {
			cfg.onRetry(attempt, err)
		}

		delay := cfg.backoff.Next(attempt)
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return &MultiError{Errors: errs, Attempts: cfg.maxAttempts}
}

func runAttempt(ctx context.Context, operation func(ctx context.Context) error, timeout time.Duration) error {
	if timeout <= 0 {
		return operation(ctx)
	}
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return operation(opCtx)
}
