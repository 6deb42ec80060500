package retry

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy computes the delay before retry attempt N (1-based).
type BackoffStrategy interface {
	Next(attempt int) time.Duration
}

// BackoffOption tunes a backoff strategy.
type BackoffOption func(*backoffConfig)

type backoffConfig struct {
	multiplier float64
	maxDelay   time.Duration
	jitter     float64
}

func defaultBackoffConfig() *backoffConfig {
	return &backoffConfig{
		multiplier: 2.0,
		maxDelay:   30 * time.Second,
		jitter:     0,
	}
}

// WithMultiplier sets the exponential multiplier.
func WithMultiplier(m float64) BackoffOption {
	return func(c *backoffConfig) {
		if m > 0 {
			c.multiplier = m
		}
	}
}

// WithMaxDelay caps the computed delay.
func WithMaxDelay(d time.Duration) BackoffOption {
	return func(c *backoffConfig) {
		if d > 0 {
			c.maxDelay = d
		}
	}
}

// WithJitter adds random jitter in [-ratio, +ratio] of the delay.
func WithJitter(ratio float64) BackoffOption {
	return func(c *backoffConfig) {
		if ratio >= 0 && ratio <= 1.0 {
			c.jitter = ratio
		}
	}
}

type exponentialBackoff struct {
	base   time.Duration
	config *backoffConfig
}

// ExponentialBackoff grows the delay as base * multiplier^(attempt-1).
func ExponentialBackoff(base time.Duration, opts ...BackoffOption) BackoffStrategy {
	config := defaultBackoffConfig()
	for _, opt := range opts {
		opt(config)
	}
	return &exponentialBackoff{base: base, config: config}
}

func (b *exponentialBackoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := float64(b.base) * math.Pow(b.config.multiplier, float64(attempt-1))
	return b.config.clamp(delay)
}

type linearBackoff struct {
	base   time.Duration
	config *backoffConfig
}

// LinearBackoff grows the delay as base * attempt. Graceful failover uses
// this: retryDelay, 2*retryDelay, 3*retryDelay, ...
func LinearBackoff(base time.Duration, opts ...BackoffOption) BackoffStrategy {
	config := defaultBackoffConfig()
	for _, opt := range opts {
		opt(config)
	}
	return &linearBackoff{base: base, config: config}
}

func (b *linearBackoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return b.config.clamp(float64(b.base) * float64(attempt))
}

type constantBackoff struct {
	delay  time.Duration
	config *backoffConfig
}

// ConstantBackoff waits the same delay between every attempt.
func ConstantBackoff(delay time.Duration, opts ...BackoffOption) BackoffStrategy {
	config := defaultBackoffConfig()
	for _, opt := range opts {
		opt(config)
	}
	return &constantBackoff{delay: delay, config: config}
}

func (b *constantBackoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return b.config.clamp(float64(b.delay))
}

type noBackoff struct{}

// NoBackoff retries immediately.
func NoBackoff() BackoffStrategy {
	return &noBackoff{}
}

func (b *noBackoff) Next(attempt int) time.Duration {
	return 0
}

func (c *backoffConfig) clamp(delay float64) time.Duration {
	if delay > float64(c.maxDelay) {
		delay = float64(c.maxDelay)
	}
	if c.jitter > 0 {
		delta := delay * c.jitter
		delay += (rand.Float64()*2 - 1) * delta
		if delay < 0 {
			delay = 0
		}
	}
	return time.Duration(delay)
}
