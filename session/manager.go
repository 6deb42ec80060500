package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acgov/go-mesh/logger"
	"github.com/acgov/go-mesh/mesh"
)

// Config controls session lifetimes.
type Config struct {
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SessionTTL:      time.Hour,
		CleanupInterval: 5 * time.Minute,
	}
}

// ExpireFunc is called for each session the sweep moves to expired, after
// its affinities have been cleared. Used to release instance pins held
// elsewhere.
type ExpireFunc func(sess *GovernanceSession)

// Manager owns governance session lifecycle on top of a Store.
type Manager struct {
	store    Store
	cfg      Config
	log      *logger.CtxZapLogger
	onExpire ExpireFunc

	now func() time.Time // test hook
}

// NewManager creates a session manager.
func NewManager(store Store, cfg Config, log *logger.CtxZapLogger) *Manager {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultConfig().SessionTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultConfig().CleanupInterval
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Manager{
		store: store,
		cfg:   cfg,
		log:   log,
		now:   time.Now,
	}
}

// OnExpire installs the expiry callback. Must be set before the sweep runs.
func (m *Manager) OnExpire(fn ExpireFunc) {
	m.onExpire = fn
}

// CleanupInterval returns the configured sweep period for the scheduler.
func (m *Manager) CleanupInterval() time.Duration {
	return m.cfg.CleanupInterval
}

// CreateSession starts a new active session for a workflow.
func (m *Manager) CreateSession(ctx context.Context, workflowType WorkflowType, metadata map[string]string) (*GovernanceSession, error) {
	if _, err := ParseWorkflowType(string(workflowType)); err != nil {
		return nil, err
	}
	now := m.now()
	sess := &GovernanceSession{
		SessionID:         uuid.NewString(),
		WorkflowType:      workflowType,
		State:             StateActive,
		CreatedAt:         now,
		LastActivity:      now,
		ServiceAffinities: make(map[mesh.ServiceType]string),
		Metadata:          metadata,
	}
	if err := m.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	m.log.InfoCtx(ctx, "governance session created",
		zap.String("session_id", sess.SessionID),
		zap.String("workflow_type", string(workflowType)))
	return sess, nil
}

// GetSession loads a session by ID.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*GovernanceSession, error) {
	return m.store.Get(ctx, sessionID)
}

// SetServiceAffinity pins a service type to an instance for this session.
func (m *Manager) SetServiceAffinity(ctx context.Context, sessionID string, serviceType mesh.ServiceType, instanceID string) error {
	return m.update(ctx, sessionID, func(sess *GovernanceSession) error {
		if sess.State.Terminal() {
			return mesh.ErrSessionTerminal
		}
		if sess.ServiceAffinities == nil {
			sess.ServiceAffinities = make(map[mesh.ServiceType]string)
		}
		sess.ServiceAffinities[serviceType] = instanceID
		return nil
	})
}

// GetServiceAffinity returns the pinned instance ID, or "" if none is set.
func (m *Manager) GetServiceAffinity(ctx context.Context, sessionID string, serviceType mesh.ServiceType) (string, error) {
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return sess.ServiceAffinities[serviceType], nil
}

// AdvanceWorkflowStep closes the current step, recording its duration, and
// starts timing the next one.
func (m *Manager) AdvanceWorkflowStep(ctx context.Context, sessionID, nextStep string) error {
	return m.update(ctx, sessionID, func(sess *GovernanceSession) error {
		if sess.State.Terminal() {
			return mesh.ErrSessionTerminal
		}
		now := m.now()
		if sess.CurrentStep != "" {
			sess.CompletedSteps = append(sess.CompletedSteps, CompletedStep{
				Name:        sess.CurrentStep,
				Duration:    now.Sub(sess.StepStartedAt),
				CompletedAt: now,
			})
		}
		sess.CurrentStep = nextStep
		sess.StepStartedAt = now
		return nil
	})
}

// SuspendSession pauses an active session.
func (m *Manager) SuspendSession(ctx context.Context, sessionID string) error {
	return m.transition(ctx, sessionID, StateActive, StateSuspended)
}

// ResumeSession reactivates a suspended session.
func (m *Manager) ResumeSession(ctx context.Context, sessionID string) error {
	return m.transition(ctx, sessionID, StateSuspended, StateActive)
}

// CompleteSession finishes a session, closing the in-flight step.
func (m *Manager) CompleteSession(ctx context.Context, sessionID string) error {
	return m.update(ctx, sessionID, func(sess *GovernanceSession) error {
		if sess.State.Terminal() {
			return mesh.ErrSessionTerminal
		}
		now := m.now()
		if sess.CurrentStep != "" {
			sess.CompletedSteps = append(sess.CompletedSteps, CompletedStep{
				Name:        sess.CurrentStep,
				Duration:    now.Sub(sess.StepStartedAt),
				CompletedAt: now,
			})
			sess.CurrentStep = ""
		}
		sess.State = StateCompleted
		return nil
	})
}

// FailSession terminates a session with a recorded reason.
func (m *Manager) FailSession(ctx context.Context, sessionID, reason string) error {
	return m.update(ctx, sessionID, func(sess *GovernanceSession) error {
		if sess.State.Terminal() {
			return mesh.ErrSessionTerminal
		}
		sess.State = StateFailed
		sess.FailureReason = reason
		return nil
	})
}

// CleanupExpired moves sessions idle past SessionTTL to expired, releases
// their affinities, and returns how many it expired.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	sessions, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("cleanup sweep: %w", err)
	}

	now := m.now()
	expired := 0
	for _, sess := range sessions {
		if sess.State.Terminal() {
			continue
		}
		if now.Sub(sess.LastActivity) <= m.cfg.SessionTTL {
			continue
		}
		sess.State = StateExpired
		sess.ServiceAffinities = nil
		// Do not touch LastActivity so the record shows when it went idle.
		if err := m.store.Put(ctx, sess); err != nil {
			m.log.WarnCtx(ctx, "failed to persist expired session",
				zap.String("session_id", sess.SessionID), zap.Error(err))
			continue
		}
		if m.onExpire != nil {
			m.onExpire(sess)
		}
		expired++
	}
	if expired > 0 {
		m.log.InfoCtx(ctx, "expired idle governance sessions", zap.Int("count", expired))
	}
	return expired, nil
}

func (m *Manager) transition(ctx context.Context, sessionID string, from, to State) error {
	return m.update(ctx, sessionID, func(sess *GovernanceSession) error {
		if sess.State.Terminal() {
			return mesh.ErrSessionTerminal
		}
		if sess.State != from {
			return fmt.Errorf("session %s is %s, expected %s", sessionID, sess.State, from)
		}
		sess.State = to
		return nil
	})
}

// update applies a read-modify-write with a LastActivity touch.
func (m *Manager) update(ctx context.Context, sessionID string, mutate func(*GovernanceSession) error) error {
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := mutate(sess); err != nil {
		return err
	}
	sess.touch(m.now())
	return m.store.Put(ctx, sess)
}
