package monitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acgov/go-mesh/logger"
	"github.com/acgov/go-mesh/mesh"
)

func newTestMonitor(opts ...Option) (*Monitor, *time.Time) {
	m := New(DefaultConfig(), logger.NewNopLogger(), opts...)
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now
}

func authSample(responseMs float64) Metrics {
	return Metrics{
		ServiceType:    mesh.ServiceAuth,
		InstanceID:     "auth-0",
		ResponseTimeMs: responseMs,
	}
}

func TestRecord_RaisesAlertOnBreach(t *testing.T) {
	m, _ := newTestMonitor()

	raised := m.Record(context.Background(), authSample(600))
	require.Len(t, raised, 1)
	alert := raised[0]
	assert.Equal(t, MetricResponseTime, alert.Metric)
	assert.Equal(t, SeverityWarning, alert.Severity)
	assert.Equal(t, 600.0, alert.CurrentValue)
	assert.Equal(t, 500.0, alert.ThresholdValue)
}

func TestRecord_DeduplicatesSameSeverity(t *testing.T) {
	m, _ := newTestMonitor()
	ctx := context.Background()

	first := m.Record(ctx, authSample(1200))
	require.Len(t, first, 1)
	require.Equal(t, SeverityCritical, first[0].Severity)

	// Same severity again: no new alert, existing one refreshed.
	second := m.Record(ctx, authSample(1300))
	assert.Empty(t, second)

	active := m.ActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, first[0].AlertID, active[0].AlertID)
	assert.Equal(t, 1300.0, active[0].CurrentValue)
}

func TestRecord_EscalatesSeverityInPlace(t *testing.T) {
	m, _ := newTestMonitor()
	ctx := context.Background()

	first := m.Record(ctx, authSample(600))
	require.Len(t, first, 1)

	escalated := m.Record(ctx, authSample(2500))
	require.Len(t, escalated, 1)
	assert.Equal(t, first[0].AlertID, escalated[0].AlertID)
	assert.Equal(t, SeverityEmergency, escalated[0].Severity)

	assert.Len(t, m.ActiveAlerts(), 1)
}

func TestRecord_LowerSeverityIsIgnored(t *testing.T) {
	m, _ := newTestMonitor()
	ctx := context.Background()

	m.Record(ctx, authSample(2500)) // emergency
	m.Record(ctx, authSample(600))  // warning, ignored

	active := m.ActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, SeverityEmergency, active[0].Severity)
	assert.Equal(t, 2500.0, active[0].CurrentValue)
}

func TestRecord_AvailabilityIsInverted(t *testing.T) {
	m, _ := newTestMonitor()

	raised := m.Record(context.Background(), Metrics{
		ServiceType:          mesh.ServicePGC,
		InstanceID:           "pgc-0",
		AvailabilityPercent:  94,
		AvailabilityReported: true,
	})
	require.Len(t, raised, 1)
	assert.Equal(t, MetricAvailability, raised[0].Metric)
	assert.Equal(t, SeverityEmergency, raised[0].Severity)
}

func TestRecord_TotalOutageRaisesAvailabilityAlert(t *testing.T) {
	m, _ := newTestMonitor()
	ctx := context.Background()

	// Samples without availability data never trip the inverted threshold.
	silent := m.Record(ctx, Metrics{ServiceType: mesh.ServicePGC, InstanceID: "pgc-0"})
	assert.Empty(t, silent)

	// A reporting sample at 0% is the worst breach, not "not reported".
	raised := m.Record(ctx, Metrics{
		ServiceType:          mesh.ServicePGC,
		AvailabilityPercent:  0,
		AvailabilityReported: true,
	})
	require.Len(t, raised, 1)
	assert.Equal(t, MetricAvailability, raised[0].Metric)
	assert.Equal(t, SeverityEmergency, raised[0].Severity)
	assert.Zero(t, raised[0].CurrentValue)
}

func TestSetHealthyInstances(t *testing.T) {
	m, _ := newTestMonitor()
	// No exporter configured: a plain no-op.
	require.NotPanics(t, func() {
		m.SetHealthyInstances(context.Background(), mesh.ServiceAuth, 3)
	})

	instruments, err := NewOTelMetrics()
	require.NoError(t, err)
	withOTel := New(DefaultConfig(), logger.NewNopLogger(), WithOTel(instruments))
	require.NotPanics(t, func() {
		withOTel.SetHealthyInstances(context.Background(), mesh.ServiceAuth, 2)
	})
}

func TestRecord_SeparateKeysGetSeparateAlerts(t *testing.T) {
	m, _ := newTestMonitor()
	ctx := context.Background()

	m.Record(ctx, Metrics{ServiceType: mesh.ServiceAuth, InstanceID: "auth-0", ResponseTimeMs: 600})
	m.Record(ctx, Metrics{ServiceType: mesh.ServiceAuth, InstanceID: "auth-1", ResponseTimeMs: 600})
	m.Record(ctx, Metrics{ServiceType: mesh.ServiceAuth, InstanceID: "auth-0", ErrorRatePercent: 7})

	assert.Len(t, m.ActiveAlerts(), 3)
}

func TestResolveAlertFreesDedupSlot(t *testing.T) {
	m, _ := newTestMonitor()
	ctx := context.Background()

	raised := m.Record(ctx, authSample(600))
	require.Len(t, raised, 1)

	assert.True(t, m.ResolveAlert(raised[0].AlertID))
	assert.Empty(t, m.ActiveAlerts())
	assert.False(t, m.ResolveAlert(raised[0].AlertID))

	// The next breach creates a fresh alert.
	again := m.Record(ctx, authSample(600))
	require.Len(t, again, 1)
	assert.NotEqual(t, raised[0].AlertID, again[0].AlertID)
}

func TestRingBufferBoundedAndChronological(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSize = 5
	m := New(cfg, logger.NewNopLogger())

	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 8; i++ {
		m.Record(context.Background(), Metrics{
			ServiceType:    mesh.ServiceAuth,
			InstanceID:     "auth-0",
			Timestamp:      base.Add(time.Duration(i) * time.Second),
			ResponseTimeMs: float64(i),
		})
	}

	samples := m.Samples(mesh.ServiceAuth, "auth-0")
	require.Len(t, samples, 5)
	for i, s := range samples {
		assert.Equal(t, float64(i+3), s.ResponseTimeMs, "oldest three must have been evicted")
	}
}

func TestRetentionSweepDropsOldSamples(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retention = time.Minute
	m := New(cfg, logger.NewNopLogger())
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.Record(context.Background(), Metrics{
		ServiceType: mesh.ServiceAuth, InstanceID: "auth-0",
		Timestamp: now.Add(-5 * time.Minute), ResponseTimeMs: 10,
	})
	m.Record(context.Background(), Metrics{
		ServiceType: mesh.ServiceAuth, InstanceID: "auth-0",
		Timestamp: now.Add(-10 * time.Second), ResponseTimeMs: 20,
	})

	assert.Equal(t, 1, m.RetentionSweep())
	samples := m.Samples(mesh.ServiceAuth, "auth-0")
	require.Len(t, samples, 1)
	assert.Equal(t, 20.0, samples[0].ResponseTimeMs)
}

func TestFailureRiskScoreRange(t *testing.T) {
	m, _ := newTestMonitor()
	ctx := context.Background()

	assert.Zero(t, m.FailureRiskScore(mesh.ServiceAuth, "auth-0"))

	// Healthy history keeps the score low.
	for i := 0; i < 20; i++ {
		m.Record(ctx, Metrics{
			ServiceType: mesh.ServiceAuth, InstanceID: "auth-0",
			ResponseTimeMs: 50, AvailabilityPercent: 100, AvailabilityReported: true,
		})
	}
	low := m.FailureRiskScore(mesh.ServiceAuth, "auth-0")

	// A burst of errors and slowdowns pushes it up.
	for i := 0; i < 10; i++ {
		m.Record(ctx, Metrics{
			ServiceType: mesh.ServiceAuth, InstanceID: "auth-0",
			ResponseTimeMs: 400, ErrorRatePercent: 50,
			AvailabilityPercent: 50, AvailabilityReported: true,
		})
	}
	high := m.FailureRiskScore(mesh.ServiceAuth, "auth-0")

	assert.GreaterOrEqual(t, low, 0.0)
	assert.LessOrEqual(t, high, 1.0)
	assert.Greater(t, high, low)
}

type recordingSink struct {
	name string
	sent []*Alert
	err  error
}

func (s *recordingSink) Name() string { return s.name }
func (s *recordingSink) Send(_ context.Context, a *Alert) error {
	s.sent = append(s.sent, a)
	return s.err
}

func TestAlertingSystem_CooldownSuppression(t *testing.T) {
	sink := &recordingSink{name: "test"}
	a := NewAlertingSystem(DefaultAlertingConfig(), logger.NewNopLogger(), sink)
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	alert := &Alert{
		AlertID: "a-1", ServiceType: mesh.ServiceAuth, InstanceID: "auth-0",
		Metric: MetricResponseTime, Severity: SeverityCritical,
	}
	ctx := context.Background()

	a.Notify(ctx, alert)
	a.Notify(ctx, alert) // inside the 5m critical cooldown
	assert.Len(t, sink.sent, 1)

	now = now.Add(6 * time.Minute)
	a.Notify(ctx, alert)
	assert.Len(t, sink.sent, 2)
}

func TestAlertingSystem_EscalationBypassesCooldown(t *testing.T) {
	sink := &recordingSink{name: "test"}
	a := NewAlertingSystem(DefaultAlertingConfig(), logger.NewNopLogger(), sink)
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }
	ctx := context.Background()

	warning := &Alert{AlertID: "a-1", ServiceType: mesh.ServiceAuth, Metric: MetricResponseTime, Severity: SeverityWarning}
	emergency := &Alert{AlertID: "a-1", ServiceType: mesh.ServiceAuth, Metric: MetricResponseTime, Severity: SeverityEmergency}

	a.Notify(ctx, warning)
	a.Notify(ctx, emergency)
	assert.Len(t, sink.sent, 2)
}

func TestAlertingSystem_SinkFailureIsIsolated(t *testing.T) {
	failing := &recordingSink{name: "failing", err: fmt.Errorf("broker down")}
	healthy := &recordingSink{name: "healthy"}
	a := NewAlertingSystem(DefaultAlertingConfig(), logger.NewNopLogger(), failing, healthy)

	a.Notify(context.Background(), &Alert{AlertID: "a-1", ServiceType: mesh.ServiceAuth, Metric: MetricErrorRate, Severity: SeverityWarning})

	assert.Len(t, failing.sent, 1)
	assert.Len(t, healthy.sent, 1)
}

func TestThresholdEvaluate(t *testing.T) {
	th := DefaultThresholds()[MetricResponseTime]

	sev, level, breached := th.Evaluate(300)
	assert.False(t, breached)
	assert.Equal(t, SeverityInfo, sev)
	assert.Zero(t, level)

	sev, level, breached = th.Evaluate(1500)
	assert.True(t, breached)
	assert.Equal(t, SeverityCritical, sev)
	assert.Equal(t, 1000.0, level)
}

func TestHistoryStoreSQLite(t *testing.T) {
	store, err := NewHistoryStore(HistoryConfig{Driver: "sqlite", DSN: "file::memory:?cache=shared"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Append(ctx, Metrics{
			ServiceType:    mesh.ServiceGS,
			InstanceID:     "gs-0",
			Timestamp:      base.Add(time.Duration(i) * time.Minute),
			ResponseTimeMs: float64(100 + i),
		}))
	}

	rows, err := store.Recent(ctx, mesh.ServiceGS, "gs-0", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 102.0, rows[0].ResponseTimeMs)

	pruned, err := store.PruneBefore(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)
}
