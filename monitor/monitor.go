package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acgov/go-mesh/logger"
	"github.com/acgov/go-mesh/mesh"
)

// Config controls sample retention and threshold levels.
type Config struct {
	BufferSize int                      `mapstructure:"buffer_size"`
	Retention  time.Duration            `mapstructure:"retention"`
	Thresholds map[MetricType]Threshold `mapstructure:"thresholds"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 1000,
		Retention:  time.Hour,
		Thresholds: DefaultThresholds(),
	}
}

// Notifier receives every new or escalated alert. Implemented by
// AlertingSystem.
type Notifier interface {
	Notify(ctx context.Context, alert *Alert)
}

// Recorder receives every accepted sample. Implemented by HistoryStore.
type Recorder interface {
	Append(ctx context.Context, m Metrics) error
}

// Option configures optional monitor collaborators.
type Option func(*Monitor)

// WithNotifier routes alerts into an alerting system.
func WithNotifier(n Notifier) Option {
	return func(m *Monitor) { m.notifier = n }
}

// WithRecorder persists accepted samples into a history store.
func WithRecorder(r Recorder) Option {
	return func(m *Monitor) { m.recorder = r }
}

// WithOTel exports sample and alert counts through OpenTelemetry.
func WithOTel(o *OTelMetrics) Option {
	return func(m *Monitor) { m.otel = o }
}

type bufferKey struct {
	serviceType mesh.ServiceType
	instanceID  string
}

// Monitor ingests samples and maintains the active alert set.
type Monitor struct {
	cfg Config
	log *logger.CtxZapLogger

	mu      sync.RWMutex
	buffers map[bufferKey]*ringBuffer
	active  map[alertKey]*Alert

	notifier Notifier
	recorder Recorder
	otel     *OTelMetrics

	now func() time.Time // test hook
}

// New creates a monitor.
func New(cfg Config, log *logger.CtxZapLogger, opts ...Option) *Monitor {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig().Retention
	}
	if cfg.Thresholds == nil {
		cfg.Thresholds = DefaultThresholds()
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	m := &Monitor{
		cfg:     cfg,
		log:     log,
		buffers: make(map[bufferKey]*ringBuffer),
		active:  make(map[alertKey]*Alert),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record appends a sample, evaluates every metric against its threshold,
// and returns the alerts this sample raised or escalated.
func (m *Monitor) Record(ctx context.Context, sample Metrics) []*Alert {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = m.now()
	}

	m.mu.Lock()
	key := bufferKey{sample.ServiceType, sample.InstanceID}
	buf, ok := m.buffers[key]
	if !ok {
		buf = newRingBuffer(m.cfg.BufferSize)
		m.buffers[key] = buf
	}
	buf.append(sample)
	m.mu.Unlock()

	if m.recorder != nil {
		if err := m.recorder.Append(ctx, sample); err != nil {
			m.log.WarnCtx(ctx, "metric history append failed", zap.Error(err))
		}
	}
	if m.otel != nil {
		m.otel.RecordSample(ctx, sample)
	}

	var raised []*Alert
	for _, eval := range []struct {
		metric MetricType
		value  float64
	}{
		{MetricResponseTime, sample.ResponseTimeMs},
		{MetricAvailability, sample.AvailabilityPercent},
		{MetricErrorRate, sample.ErrorRatePercent},
		{MetricConcurrentUsers, sample.ConcurrentUsers},
		{MetricResourceUsage, sample.ResourceUsagePercent},
	} {
		threshold, ok := m.cfg.Thresholds[eval.metric]
		if !ok {
			continue
		}
		// Only samples that carry availability data are evaluated against
		// the inverted threshold; 0% from a reporting sample is a breach.
		if eval.metric == MetricAvailability && !sample.AvailabilityReported {
			continue
		}
		severity, level, breached := threshold.Evaluate(eval.value)
		if !breached {
			continue
		}
		if alert := m.raiseAlert(sample, eval.metric, severity, eval.value, level); alert != nil {
			raised = append(raised, alert)
			if m.notifier != nil {
				m.notifier.Notify(ctx, alert)
			}
			if m.otel != nil {
				m.otel.RecordAlert(ctx, alert)
			}
		}
	}
	return raised
}

// raiseAlert applies the de-duplication rule: one active alert per key, a
// higher severity replaces it, an equal severity refreshes value and
// timestamp without a new alert, a lower severity is ignored.
func (m *Monitor) raiseAlert(sample Metrics, metric MetricType, severity Severity, value, level float64) *Alert {
	key := alertKey{sample.ServiceType, sample.InstanceID, metric}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.active[key]
	if ok {
		if severity < existing.Severity {
			return nil
		}
		escalated := severity > existing.Severity
		existing.Severity = severity
		existing.SeverityLabel = severity.String()
		existing.CurrentValue = value
		existing.ThresholdValue = level
		existing.Timestamp = sample.Timestamp
		if !escalated {
			return nil
		}
		m.log.Warn("alert escalated",
			zap.String("service_type", sample.ServiceType.String()),
			zap.String("instance_id", sample.InstanceID),
			zap.String("metric", string(metric)),
			zap.String("severity", severity.String()))
		return existing
	}

	alert := &Alert{
		AlertID:        uuid.NewString(),
		ServiceType:    sample.ServiceType,
		InstanceID:     sample.InstanceID,
		Metric:         metric,
		Severity:       severity,
		SeverityLabel:  severity.String(),
		CurrentValue:   value,
		ThresholdValue: level,
		Timestamp:      sample.Timestamp,
	}
	m.active[key] = alert
	m.log.Warn("alert raised",
		zap.String("service_type", sample.ServiceType.String()),
		zap.String("instance_id", sample.InstanceID),
		zap.String("metric", string(metric)),
		zap.String("severity", severity.String()),
		zap.Float64("value", value))
	return alert
}

// ActiveAlerts snapshots the unresolved alert set.
func (m *Monitor) ActiveAlerts() []*Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Alert, 0, len(m.active))
	for _, a := range m.active {
		cp := *a
		out = append(out, &cp)
	}
	return out
}

// ResolveAlert marks an alert resolved and frees its dedup slot.
func (m *Monitor) ResolveAlert(alertID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, a := range m.active {
		if a.AlertID == alertID {
			a.Resolved = true
			a.ResolvedAt = m.now()
			delete(m.active, key)
			return true
		}
	}
	return false
}

// SetHealthyInstances publishes the per-type healthy-instance gauge when
// OpenTelemetry export is enabled.
func (m *Monitor) SetHealthyInstances(ctx context.Context, serviceType mesh.ServiceType, count int) {
	if m.otel != nil {
		m.otel.SetHealthyInstances(ctx, serviceType, count)
	}
}

// Samples returns a chronological snapshot of one instance's buffer.
func (m *Monitor) Samples(serviceType mesh.ServiceType, instanceID string) []Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	buf, ok := m.buffers[bufferKey{serviceType, instanceID}]
	if !ok {
		return nil
	}
	return buf.snapshot()
}

// FailureRiskScore estimates how likely an instance is to fail soon, from
// its recent samples: recent error rate, response-time trend against its
// own median, and reported availability. Returns 0 when there is no history.
func (m *Monitor) FailureRiskScore(serviceType mesh.ServiceType, instanceID string) float64 {
	samples := m.Samples(serviceType, instanceID)
	if len(samples) == 0 {
		return 0
	}

	window := samples
	if len(window) > 10 {
		window = window[len(window)-10:]
	}

	var errSum, availSum, respSum float64
	availReported := 0
	for _, s := range window {
		errSum += s.ErrorRatePercent
		respSum += s.ResponseTimeMs
		if s.AvailabilityReported {
			availSum += s.AvailabilityPercent
			availReported++
		}
	}
	n := float64(len(window))
	errRisk := clamp01(errSum / n / 100)
	availRisk := 0.0
	if availReported > 0 {
		availRisk = clamp01(1 - availSum/float64(availReported)/100)
	}

	// Response trend: compare the window average to the full history
	// average; a window 2x slower than baseline scores 1.
	var baseSum float64
	for _, s := range samples {
		baseSum += s.ResponseTimeMs
	}
	base := baseSum / float64(len(samples))
	trendRisk := 0.0
	if base > 0 {
		trendRisk = clamp01((respSum/n)/base - 1)
	}

	return clamp01(0.4*errRisk + 0.3*trendRisk + 0.3*availRisk)
}

// RetentionSweep drops samples older than the retention window and returns
// how many were removed.
func (m *Monitor) RetentionSweep() int {
	cutoff := m.now().Add(-m.cfg.Retention)
	m.mu.Lock()
	defer m.mu.Unlock()
	dropped := 0
	for key, buf := range m.buffers {
		dropped += buf.dropOlderThan(cutoff)
		if buf.len() == 0 {
			delete(m.buffers, key)
		}
	}
	return dropped
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
