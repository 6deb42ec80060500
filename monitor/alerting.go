package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/acgov/go-mesh/logger"
)

// Sink delivers one alert notification to an external channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, alert *Alert) error
}

// AlertingConfig sets the per-severity notification cooldowns. Higher
// severities get shorter cooldowns.
type AlertingConfig struct {
	InfoCooldown      time.Duration `mapstructure:"info_cooldown"`
	WarningCooldown   time.Duration `mapstructure:"warning_cooldown"`
	CriticalCooldown  time.Duration `mapstructure:"critical_cooldown"`
	EmergencyCooldown time.Duration `mapstructure:"emergency_cooldown"`
}

// DefaultAlertingConfig returns the production cooldowns.
func DefaultAlertingConfig() AlertingConfig {
	return AlertingConfig{
		InfoCooldown:      30 * time.Minute,
		WarningCooldown:   15 * time.Minute,
		CriticalCooldown:  5 * time.Minute,
		EmergencyCooldown: time.Minute,
	}
}

type sentRecord struct {
	severity Severity
	at       time.Time
}

// AlertingSystem fans alerts out to its sinks, suppressing repeats for the
// same alert key within a severity-dependent cooldown. A failing sink never
// blocks the others.
type AlertingSystem struct {
	cfg   AlertingConfig
	log   *logger.CtxZapLogger
	sinks []Sink

	mu       sync.Mutex
	lastSent map[alertKey]sentRecord

	now func() time.Time // test hook
}

// NewAlertingSystem creates an alerting system with the given sinks.
func NewAlertingSystem(cfg AlertingConfig, log *logger.CtxZapLogger, sinks ...Sink) *AlertingSystem {
	def := DefaultAlertingConfig()
	if cfg.InfoCooldown <= 0 {
		cfg.InfoCooldown = def.InfoCooldown
	}
	if cfg.WarningCooldown <= 0 {
		cfg.WarningCooldown = def.WarningCooldown
	}
	if cfg.CriticalCooldown <= 0 {
		cfg.CriticalCooldown = def.CriticalCooldown
	}
	if cfg.EmergencyCooldown <= 0 {
		cfg.EmergencyCooldown = def.EmergencyCooldown
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &AlertingSystem{
		cfg:      cfg,
		log:      log,
		sinks:    sinks,
		lastSent: make(map[alertKey]sentRecord),
		now:      time.Now,
	}
}

// AddSink registers an additional notification channel.
func (a *AlertingSystem) AddSink(s Sink) {
	a.mu.Lock()
	a.sinks = append(a.sinks, s)
	a.mu.Unlock()
}

// Notify delivers the alert unless a same-or-higher-severity notification
// for its key was sent within the cooldown window.
func (a *AlertingSystem) Notify(ctx context.Context, alert *Alert) {
	key := alertKey{alert.ServiceType, alert.InstanceID, alert.Metric}
	now := a.now()

	a.mu.Lock()
	if last, ok := a.lastSent[key]; ok {
		if alert.Severity <= last.severity && now.Sub(last.at) < a.cooldown(alert.Severity) {
			a.mu.Unlock()
			return
		}
	}
	a.lastSent[key] = sentRecord{severity: alert.Severity, at: now}
	sinks := append([]Sink{}, a.sinks...)
	a.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.Send(ctx, alert); err != nil {
			a.log.WarnCtx(ctx, "alert sink failed",
				zap.String("sink", sink.Name()),
				zap.String("alert_id", alert.AlertID),
				zap.Error(err))
		}
	}
}

func (a *AlertingSystem) cooldown(s Severity) time.Duration {
	switch s {
	case SeverityEmergency:
		return a.cfg.EmergencyCooldown
	case SeverityCritical:
		return a.cfg.CriticalCooldown
	case SeverityWarning:
		return a.cfg.WarningCooldown
	default:
		return a.cfg.InfoCooldown
	}
}

// ConsoleSink writes alert notifications to the structured log. It is the
// reference sink and is always safe to enable.
type ConsoleSink struct {
	log *logger.CtxZapLogger
}

// NewConsoleSink creates a log-backed sink.
func NewConsoleSink(log *logger.CtxZapLogger) *ConsoleSink {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &ConsoleSink{log: log}
}

// Name identifies the sink in failure logs.
func (s *ConsoleSink) Name() string { return "console" }

// Send logs the alert.
func (s *ConsoleSink) Send(ctx context.Context, alert *Alert) error {
	s.log.WarnCtx(ctx, "performance alert",
		zap.String("alert_id", alert.AlertID),
		zap.String("service_type", alert.ServiceType.String()),
		zap.String("instance_id", alert.InstanceID),
		zap.String("metric", string(alert.Metric)),
		zap.String("severity", alert.Severity.String()),
		zap.Float64("current_value", alert.CurrentValue),
		zap.Float64("threshold_value", alert.ThresholdValue))
	return nil
}
