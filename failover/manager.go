package failover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/acgov/go-mesh/logger"
	"github.com/acgov/go-mesh/mesh"
	"github.com/acgov/go-mesh/retry"
)

// Strategy selects how ExecuteWithFailover reacts to failures.
type Strategy string

const (
	StrategyImmediate    Strategy = "immediate"
	StrategyGraceful     Strategy = "graceful"
	StrategyCircuitBreak Strategy = "circuit_break"
	StrategyLoadShed     Strategy = "load_shed"
)

// Config controls a per-service-type failover manager.
type Config struct {
	Strategy           Strategy      `mapstructure:"strategy"`
	FailureThreshold   int           `mapstructure:"failure_threshold"`
	RecoveryTimeout    time.Duration `mapstructure:"recovery_timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
	DegradationEnabled bool          `mapstructure:"degradation_enabled"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Strategy:           StrategyGraceful,
		FailureThreshold:   5,
		RecoveryTimeout:    30 * time.Second,
		MaxRetries:         3,
		RetryDelay:         200 * time.Millisecond,
		DegradationEnabled: true,
	}
}

// Operation is the caller-supplied remote call, invoked against one
// concrete instance at a time.
type Operation func(ctx context.Context, instance *mesh.ServiceInstance) error

// DegradedResponse is the soft-failure payload returned when every option
// is exhausted but degradation is enabled.
type DegradedResponse struct {
	ServiceType mesh.ServiceType `json:"service_type"`
	InstanceID  string           `json:"instance_id,omitempty"`
	Message     string           `json:"message"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Manager owns the breakers and the primary/backup partition of one
// service type.
type Manager struct {
	serviceType mesh.ServiceType
	cfg         Config
	log         *logger.CtxZapLogger

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	primary  []*mesh.ServiceInstance
	backup   []*mesh.ServiceInstance
	degraded bool
}

// NewManager creates a failover manager for one service type.
func NewManager(serviceType mesh.ServiceType, cfg Config, log *logger.CtxZapLogger) *Manager {
	if cfg.Strategy == "" {
		cfg.Strategy = DefaultConfig().Strategy
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Manager{
		serviceType: serviceType,
		cfg:         cfg,
		log:         log.With(zap.String("service_type", serviceType.String())),
		breakers:    make(map[string]*CircuitBreaker),
	}
}

// RegisterInstances replaces the managed instance set, partitioning it into
// primary (priority <= 1) and backup (priority > 1) and creating one breaker
// per instance. Breakers of instances that survive the update keep their
// state.
func (m *Manager) RegisterInstances(instances []*mesh.ServiceInstance) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.primary = m.primary[:0]
	m.backup = m.backup[:0]
	seen := make(map[string]bool, len(instances))
	for _, inst := range instances {
		seen[inst.InstanceID] = true
		if _, ok := m.breakers[inst.InstanceID]; !ok {
			m.breakers[inst.InstanceID] = NewCircuitBreaker(BreakerConfig{
				FailureThreshold: m.cfg.FailureThreshold,
				RecoveryTimeout:  m.cfg.RecoveryTimeout,
			})
		}
		if inst.Priority <= 1 {
			m.primary = append(m.primary, inst)
		} else {
			m.backup = append(m.backup, inst)
		}
	}
	for id := range m.breakers {
		if !seen[id] {
			delete(m.breakers, id)
		}
	}
}

// ExecuteWithFailover runs op under circuit-breaker protection and the
// configured failover strategy. A nil error with a nil response means
// success; a non-nil DegradedResponse means the call soft-failed into
// degraded mode.
func (m *Manager) ExecuteWithFailover(ctx context.Context, op Operation, instanceID string) (*DegradedResponse, error) {
	target := m.resolveTarget(instanceID)
	if target == nil {
		return nil, fmt.Errorf("%w: no instance registered for %s", mesh.ErrServiceUnavailable, m.serviceType)
	}

	switch m.cfg.Strategy {
	case StrategyLoadShed:
		if m.sheddingLoad() {
			return nil, fmt.Errorf("%w: load shedding for %s", mesh.ErrServiceUnavailable, m.serviceType)
		}
		return m.executeGraceful(ctx, op, target)
	case StrategyCircuitBreak:
		if m.breakerFor(target.InstanceID).State() == StateOpen {
			return nil, m.executeImmediate(ctx, op, target)
		}
		return m.executeGraceful(ctx, op, target)
	case StrategyImmediate:
		return nil, m.executeImmediate(ctx, op, target)
	default:
		return m.executeGraceful(ctx, op, target)
	}
}

// executeImmediate tries the target once, then the first reachable backup.
func (m *Manager) executeImmediate(ctx context.Context, op Operation, target *mesh.ServiceInstance) error {
	err := m.tryOnce(ctx, op, target)
	if err == nil {
		m.clearDegraded()
		return nil
	}
	m.log.WarnCtx(ctx, "primary call failed, failing over immediately",
		zap.String("instance_id", target.InstanceID), zap.Error(err))
	if backupErr := m.tryBackups(ctx, op, target.InstanceID); backupErr == nil {
		m.clearDegraded()
		return nil
	}
	return fmt.Errorf("%w: immediate failover exhausted for %s", mesh.ErrServiceUnavailable, m.serviceType)
}

// executeGraceful retries the target with linear backoff, then tries each
// backup once, then degrades if allowed.
func (m *Manager) executeGraceful(ctx context.Context, op Operation, target *mesh.ServiceInstance) (*DegradedResponse, error) {
	err := retry.Do(ctx,
		func(ctx context.Context) error { return m.tryOnce(ctx, op, target) },
		retry.WithMaxAttempts(m.cfg.MaxRetries),
		retry.WithBackoff(retry.LinearBackoff(m.cfg.RetryDelay)),
		retry.WithRetryIf(func(err error, _ int) bool {
			// An open breaker means retrying the same instance is pointless.
			return !errors.Is(err, mesh.ErrCircuitOpen)
		}),
	)
	if err == nil {
		m.clearDegraded()
		return nil, nil
	}

	m.log.WarnCtx(ctx, "retries exhausted, trying backups",
		zap.String("instance_id", target.InstanceID), zap.Error(err))
	if backupErr := m.tryBackups(ctx, op, target.InstanceID); backupErr == nil {
		m.clearDegraded()
		return nil, nil
	}

	if m.cfg.DegradationEnabled {
		m.setDegraded()
		return &DegradedResponse{
			ServiceType: m.serviceType,
			InstanceID:  target.InstanceID,
			Message:     fmt.Sprintf("service %s degraded: all instances unavailable", m.serviceType),
			Timestamp:   time.Now(),
		}, nil
	}
	return nil, fmt.Errorf("%w: failover exhausted for %s", mesh.ErrServiceUnavailable, m.serviceType)
}

// tryOnce runs op against one instance under its breaker.
func (m *Manager) tryOnce(ctx context.Context, op Operation, inst *mesh.ServiceInstance) error {
	br := m.breakerFor(inst.InstanceID)
	if !br.Allow() {
		return fmt.Errorf("%w: instance %s", mesh.ErrCircuitOpen, inst.InstanceID)
	}
	if err := op(ctx, inst); err != nil {
		br.RecordFailure()
		inst.RecordFailure()
		return err
	}
	br.RecordSuccess()
	return nil
}

// tryBackups tries each backup once, skipping the excluded instance and any
// open breaker.
func (m *Manager) tryBackups(ctx context.Context, op Operation, excludeID string) error {
	m.mu.RLock()
	backups := append([]*mesh.ServiceInstance{}, m.backup...)
	m.mu.RUnlock()

	var lastErr error
	for _, inst := range backups {
		if inst.InstanceID == excludeID {
			continue
		}
		if err := m.tryOnce(ctx, op, inst); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = mesh.ErrNoHealthyInstance
	}
	return lastErr
}

// resolveTarget finds the starting instance: the named one, or the first
// healthy primary, falling back to any primary, then any backup.
func (m *Manager) resolveTarget(instanceID string) *mesh.ServiceInstance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if instanceID != "" {
		for _, inst := range m.primary {
			if inst.InstanceID == instanceID {
				return inst
			}
		}
		for _, inst := range m.backup {
			if inst.InstanceID == instanceID {
				return inst
			}
		}
		return nil
	}
	for _, inst := range m.primary {
		if inst.IsHealthy() {
			return inst
		}
	}
	if len(m.primary) > 0 {
		return m.primary[0]
	}
	if len(m.backup) > 0 {
		return m.backup[0]
	}
	return nil
}

// sheddingLoad reports whether more than half of this type's breakers are
// open.
func (m *Manager) sheddingLoad() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.breakers) == 0 {
		return false
	}
	open := 0
	for _, br := range m.breakers {
		if br.State() == StateOpen {
			open++
		}
	}
	return open*2 > len(m.breakers)
}

// BreakerState returns the state of one instance's breaker.
func (m *Manager) BreakerState(instanceID string) (BreakerState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	br, ok := m.breakers[instanceID]
	if !ok {
		return StateClosed, false
	}
	return br.State(), true
}

// BreakerStates snapshots every breaker of this service type.
func (m *Manager) BreakerStates() map[string]BreakerState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]BreakerState, len(m.breakers))
	for id, br := range m.breakers {
		out[id] = br.State()
	}
	return out
}

// RecordFailure counts an externally observed failure against an instance's
// breaker, e.g. when a caller bypasses ExecuteWithFailover.
func (m *Manager) RecordFailure(instanceID string) {
	m.mu.RLock()
	br, ok := m.breakers[instanceID]
	m.mu.RUnlock()
	if ok {
		br.RecordFailure()
	}
}

// Degraded reports whether this service type is in degraded mode.
func (m *Manager) Degraded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.degraded
}

func (m *Manager) breakerFor(instanceID string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	br, ok := m.breakers[instanceID]
	if !ok {
		br = NewCircuitBreaker(BreakerConfig{
			FailureThreshold: m.cfg.FailureThreshold,
			RecoveryTimeout:  m.cfg.RecoveryTimeout,
		})
		m.breakers[instanceID] = br
	}
	return br
}

func (m *Manager) setDegraded() {
	m.mu.Lock()
	wasDegraded := m.degraded
	m.degraded = true
	m.mu.Unlock()
	if !wasDegraded {
		m.log.Warn("entering degraded mode")
	}
}

func (m *Manager) clearDegraded() {
	m.mu.Lock()
	wasDegraded := m.degraded
	m.degraded = false
	m.mu.Unlock()
	if wasDegraded {
		m.log.Info("leaving degraded mode")
	}
}
