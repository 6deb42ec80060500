// Package failover implements per-instance circuit breaking and
// multi-strategy failover over the primary/backup instance partition of a
// service type.
package failover

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state machine position.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerConfig controls one instance's breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	RecoveryTimeout  time.Duration // open duration before a half-open probe
}

// DefaultBreakerConfig returns the production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	}
}

// CircuitBreaker tracks consecutive failures for a single instance.
// Transitions: closed -> open after FailureThreshold consecutive failures;
// open -> half-open once RecoveryTimeout has elapsed; half-open -> closed on
// one success, half-open -> open on one failure.
type CircuitBreaker struct {
	mu              sync.Mutex
	cfg             BreakerConfig
	state           BreakerState
	failureCount    int
	lastFailureTime time.Time

	now func() time.Time // test hook
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultBreakerConfig().RecoveryTimeout
	}
	return &CircuitBreaker{
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Allow reports whether a call may proceed, moving an expired open breaker
// to half-open as a side effect.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailureTime) >= b.cfg.RecoveryTimeout {
			b.state = StateHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess resets the breaker. A half-open success closes it.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
}

// RecordFailure counts a failure and opens the breaker at the threshold.
// Any half-open failure reopens immediately.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureTime = b.now()
	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.failureCount = 0
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = StateOpen
		}
	}
}

// State returns the current position, applying the open -> half-open
// timeout so observers see the same answer Allow would act on.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.lastFailureTime) >= b.cfg.RecoveryTimeout {
		b.state = StateHalfOpen
	}
	return b.state
}

// FailureCount returns the consecutive-failure count.
func (b *CircuitBreaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// Reset forces the breaker closed.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
}
