// Package orchestrator assembles the mesh components into one lifecycle:
// discovery, failover, sessions, monitoring, alerting, the sweep scheduler
// and the admin surface start and stop as a unit.
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/acgov/go-mesh/adminapi"
	"github.com/acgov/go-mesh/component"
	"github.com/acgov/go-mesh/discovery"
	"github.com/acgov/go-mesh/failover"
	"github.com/acgov/go-mesh/logger"
	"github.com/acgov/go-mesh/mesh"
	"github.com/acgov/go-mesh/monitor"
	"github.com/acgov/go-mesh/registry"
	"github.com/acgov/go-mesh/session"
)

// Orchestrator owns the component graph. Build with New, then Start once;
// Stop releases everything in reverse order.
type Orchestrator struct {
	cfg Config
	log *logger.CtxZapLogger

	failover  *failover.Registry
	discovery *discovery.Discovery
	sessions  *session.Manager
	monitor   *monitor.Monitor
	alerting  *monitor.AlertingSystem

	sessionStore session.Store
	history      *monitor.HistoryStore
	alertSink    *monitor.KafkaSink
	scheduler    gocron.Scheduler
	sources      []registry.Source
	admin        *adminapi.Server
	lifecycle    *component.Registry

	startedAt time.Time

	mu      sync.Mutex
	started bool
	stopped bool
}

// New wires the component graph from a validated configuration. Nothing
// is started; registry sources are not yet loaded.
func New(cfg Config, log *logger.CtxZapLogger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator config: %w", err)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	foCfg := cfg.Failover
	if !cfg.Features.CircuitBreakers {
		// Threshold no failure count can reach: breakers never trip.
		foCfg.FailureThreshold = math.MaxInt32
	}
	if !cfg.Features.AutoFailover {
		foCfg.Strategy = failover.StrategyImmediate
		foCfg.DegradationEnabled = false
	}
	foRegistry := failover.NewRegistry(foCfg, log)

	dCfg := cfg.Discovery
	dCfg.HealthCheckInterval = time.Duration(cfg.HealthCheckIntervalSeconds) * time.Second
	disc, err := discovery.New(dCfg, foRegistry, log)
	if err != nil {
		return nil, fmt.Errorf("build discovery: %w", err)
	}

	o := &Orchestrator{
		cfg:       cfg,
		log:       log,
		failover:  foRegistry,
		discovery: disc,
	}

	if err := o.buildSessions(); err != nil {
		return nil, err
	}
	if err := o.buildMonitoring(); err != nil {
		return nil, err
	}
	if err := o.buildScheduler(); err != nil {
		return nil, err
	}
	o.buildSources()

	if cfg.AdminAddr != "" {
		o.admin = adminapi.NewServer(adminapi.Config{Addr: cfg.AdminAddr}, adminapi.Deps{
			Discovery: disc,
			Monitor:   o.monitor,
			Sessions:  o.sessions,
			Status: func(ctx context.Context) interface{} {
				return o.SystemStatus(ctx)
			},
		}, log)
	}
	return o, nil
}

func (o *Orchestrator) buildSessions() error {
	if o.cfg.SessionRedis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		store, err := session.NewRedisStore(ctx, *o.cfg.SessionRedis)
		if err != nil {
			return fmt.Errorf("session redis: %w", err)
		}
		o.sessionStore = store
	} else {
		o.sessionStore = session.NewMemoryStore()
	}

	o.sessions = session.NewManager(o.sessionStore, o.cfg.Session, o.log)

	// Expired sessions release their instance pins so routing stops
	// honoring stale affinity.
	o.sessions.OnExpire(func(s *session.GovernanceSession) {
		o.discovery.Affinity().RemoveSession(s.SessionID)
	})
	return nil
}

func (o *Orchestrator) buildMonitoring() error {
	o.alerting = monitor.NewAlertingSystem(o.cfg.Alerting, o.log, monitor.NewConsoleSink(o.log))
	if o.cfg.AlertKafka != nil {
		sink, err := monitor.NewKafkaSink(*o.cfg.AlertKafka)
		if err != nil {
			return fmt.Errorf("alert kafka sink: %w", err)
		}
		o.alertSink = sink
		o.alerting.AddSink(sink)
	}

	opts := []monitor.Option{monitor.WithNotifier(o.alerting)}
	if o.cfg.History != nil {
		history, err := monitor.NewHistoryStore(*o.cfg.History)
		if err != nil {
			return fmt.Errorf("metric history: %w", err)
		}
		o.history = history
		opts = append(opts, monitor.WithRecorder(history))
	}
	if o.cfg.Features.PerformanceMonitoring {
		otelMetrics, err := monitor.NewOTelMetrics()
		if err != nil {
			return fmt.Errorf("otel instruments: %w", err)
		}
		opts = append(opts, monitor.WithOTel(otelMetrics))
	}
	o.monitor = monitor.New(o.cfg.Monitor, o.log, opts...)

	if o.cfg.Features.PerformanceMonitoring {
		o.discovery.SetProbeObserver(o.probeToMetrics)
	}
	return nil
}

// probeToMetrics feeds every health-check result into the monitor.
func (o *Orchestrator) probeToMetrics(sample discovery.ProbeSample) {
	m := monitor.Metrics{
		ServiceType:         sample.ServiceType,
		InstanceID:          sample.InstanceID,
		Timestamp:           time.Now(),
		ResponseTimeMs:      sample.ResponseTimeMs,
		AvailabilityPercent: sample.AvailabilityPercent,
		CurrentConnections:  sample.CurrentConnections,
		TotalRequests:       sample.TotalRequests,
		FailureCount:        sample.FailedRequests,
	}
	if sample.AvailabilityReported {
		m.AvailabilityReported = true
		o.monitor.SetHealthyInstances(context.Background(), sample.ServiceType, sample.HealthyInstances)
	}
	if sample.TotalRequests > 0 {
		m.ErrorRatePercent = 100 * float64(sample.FailedRequests) / float64(sample.TotalRequests)
	}
	o.monitor.Record(context.Background(), m)
}

func (o *Orchestrator) buildScheduler() error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}
	o.scheduler = scheduler

	jobs := []struct {
		name     string
		interval time.Duration
		task     func()
	}{
		{"affinity_sweep", time.Minute, func() {
			if n := o.discovery.Affinity().Sweep(); n > 0 {
				o.log.Debug("affinity sweep", zap.Int("expired", n))
			}
		}},
		{"session_cleanup", o.sessions.CleanupInterval(), func() {
			n, err := o.sessions.CleanupExpired(context.Background())
			if err != nil {
				o.log.Warn("session cleanup failed", zap.Error(err))
				return
			}
			if n > 0 {
				o.log.Info("session cleanup", zap.Int("expired", n))
			}
		}},
		{"metrics_retention", 10 * time.Minute, func() {
			if n := o.monitor.RetentionSweep(); n > 0 {
				o.log.Debug("metrics retention sweep", zap.Int("dropped", n))
			}
		}},
	}
	for _, j := range jobs {
		_, err := scheduler.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(j.task),
			gocron.WithName(j.name),
		)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
	}
	return nil
}

func (o *Orchestrator) buildSources() {
	o.sources = append(o.sources, registry.NewStaticSource(o.cfg.Services))
	// The etcd source is constructed lazily in Start so New stays free of
	// network dials.
}

// lifecycleUnit adapts one start/stop pair to the component lifecycle so
// the registry orders them.
type lifecycleUnit struct {
	name  string
	deps  []string
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

func (u *lifecycleUnit) Name() string        { return u.name }
func (u *lifecycleUnit) DependsOn() []string { return u.deps }

func (u *lifecycleUnit) Init(ctx context.Context, _ component.ConfigLoader) error { return nil }

func (u *lifecycleUnit) Start(ctx context.Context) error {
	if u.start == nil {
		return nil
	}
	return u.start(ctx)
}

func (u *lifecycleUnit) Stop(ctx context.Context) error {
	if u.stop == nil {
		return nil
	}
	return u.stop(ctx)
}

// buildLifecycle lays out start order: stores and sources first, then the
// health loop, then the scheduler and admin surface. Stop runs in reverse.
func (o *Orchestrator) buildLifecycle() *component.Registry {
	lifecycle := component.NewRegistry()

	lifecycle.MustRegister(&lifecycleUnit{
		name: "stores",
		stop: func(ctx context.Context) error {
			return o.closeStores()
		},
	})

	lifecycle.MustRegister(&lifecycleUnit{
		name: "sources",
		start: func(ctx context.Context) error {
			if !o.cfg.Features.Discovery {
				return nil
			}
			if o.cfg.Etcd != nil {
				etcdSource, err := registry.NewEtcdSource(*o.cfg.Etcd, o.log)
				if err != nil {
					return err
				}
				o.sources = append(o.sources, etcdSource)
			}
			for _, src := range o.sources {
				if err := src.Load(ctx, o.discovery); err != nil {
					return fmt.Errorf("load %s source: %w", src.Name(), err)
				}
			}
			return nil
		},
		stop: func(ctx context.Context) error {
			var firstErr error
			for _, src := range o.sources {
				if err := src.Stop(); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			return firstErr
		},
	})

	lifecycle.MustRegister(&lifecycleUnit{
		name: "discovery",
		deps: []string{"sources"},
		start: func(ctx context.Context) error {
			if !o.cfg.Features.HealthMonitoring {
				return nil
			}
			// The health loop outlives the start call; it ends in Stop.
			return o.discovery.Start(context.Background())
		},
		stop: func(ctx context.Context) error {
			return o.discovery.Stop()
		},
	})

	lifecycle.MustRegister(&lifecycleUnit{
		name: "scheduler",
		deps: []string{"discovery"},
		start: func(ctx context.Context) error {
			o.scheduler.Start()
			return nil
		},
		stop: func(ctx context.Context) error {
			return o.scheduler.Shutdown()
		},
	})

	if o.admin != nil {
		lifecycle.MustRegister(&lifecycleUnit{
			name: "adminapi",
			deps: []string{"discovery"},
			start: func(ctx context.Context) error {
				return o.admin.Start()
			},
			stop: func(ctx context.Context) error {
				return o.admin.Stop(ctx)
			},
		})
	}
	return lifecycle
}

// Start brings the mesh up in dependency order.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already started")
	}
	o.started = true
	o.startedAt = time.Now()
	o.lifecycle = o.buildLifecycle()
	o.mu.Unlock()

	if err := o.lifecycle.Start(ctx); err != nil {
		return err
	}

	o.log.Info("mesh orchestrator started",
		zap.String("mode", string(o.cfg.Mode)),
		zap.String("admin_addr", o.cfg.AdminAddr))
	return nil
}

// Stop shuts everything down in reverse start order. Idempotent.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return nil
	}
	o.stopped = true
	lifecycle := o.lifecycle
	o.mu.Unlock()

	if lifecycle == nil {
		// Never started; only the stores and sinks hold resources.
		return o.closeStores()
	}

	err := lifecycle.Stop(ctx)
	o.log.Info("mesh orchestrator stopped")
	return err
}

// closeStores releases the session store, metric history and alert sink.
func (o *Orchestrator) closeStores() error {
	var firstErr error
	if err := o.sessionStore.Close(); err != nil {
		firstErr = err
	}
	if o.history != nil {
		if err := o.history.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if o.alertSink != nil {
		if err := o.alertSink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Discovery exposes the routing surface.
func (o *Orchestrator) Discovery() *discovery.Discovery { return o.discovery }

// Sessions exposes the governance session manager.
func (o *Orchestrator) Sessions() *session.Manager { return o.sessions }

// Monitor exposes the performance monitor.
func (o *Orchestrator) Monitor() *monitor.Monitor { return o.monitor }

// Failover exposes the per-service failover registry.
func (o *Orchestrator) Failover() *failover.Registry { return o.failover }

// GetServiceInstance routes one request. With load balancing disabled the
// first healthy instance is always used.
func (o *Orchestrator) GetServiceInstance(serviceType mesh.ServiceType, sessionID string) *mesh.ServiceInstance {
	if !o.cfg.Features.LoadBalancing {
		healthy := o.discovery.GetHealthyInstances(serviceType)
		if len(healthy) == 0 {
			return nil
		}
		inst := healthy[0]
		inst.AcquireConnection()
		return inst
	}
	return o.discovery.GetBestInstance(serviceType, "", sessionID, "")
}

// ServiceSummary is one service family's slice of the system status.
type ServiceSummary struct {
	discovery.ServiceStatus
	BreakerStates map[string]string  `json:"breaker_states,omitempty"`
	RiskScores    map[string]float64 `json:"risk_scores,omitempty"`
}

// SLAStatus compares observed behavior against the configured targets.
type SLAStatus struct {
	TargetAvailabilityPercent  float64 `json:"target_availability_percent"`
	CurrentAvailabilityPercent float64 `json:"current_availability_percent"`
	Compliant                  bool    `json:"compliant"`
}

// SystemStatus is the aggregated view served by /mesh/status.
type SystemStatus struct {
	Mode             Mode                                `json:"mode"`
	Timestamp        time.Time                           `json:"timestamp"`
	UptimeSeconds    float64                             `json:"uptime_seconds"`
	Services         map[mesh.ServiceType]ServiceSummary `json:"services"`
	TotalInstances   int                                 `json:"total_instances"`
	HealthyInstances int                                 `json:"healthy_instances"`
	DegradedServices []mesh.ServiceType                  `json:"degraded_services"`
	ActiveAlerts     int                                 `json:"active_alerts"`
	SLA              SLAStatus                           `json:"sla"`
}

// SystemStatus aggregates discovery, failover and alerting state.
func (o *Orchestrator) SystemStatus(ctx context.Context) SystemStatus {
	statuses := o.discovery.GetAllServicesStatus()
	breakers := o.failover.BreakerStates()

	services := make(map[mesh.ServiceType]ServiceSummary, len(statuses))
	total, healthy := 0, 0
	for serviceType, status := range statuses {
		summary := ServiceSummary{ServiceStatus: status}
		if states, ok := breakers[serviceType]; ok {
			summary.BreakerStates = make(map[string]string, len(states))
			for id, state := range states {
				summary.BreakerStates[id] = state.String()
			}
		}
		if o.cfg.Features.PredictiveAnalysis {
			summary.RiskScores = make(map[string]float64, len(status.Instances))
			for _, inst := range status.Instances {
				summary.RiskScores[inst.InstanceID] = o.monitor.FailureRiskScore(serviceType, inst.InstanceID)
			}
		}
		services[serviceType] = summary
		total += status.TotalInstances
		healthy += status.HealthyInstances
	}

	availability := 100.0
	if total > 0 {
		availability = 100 * float64(healthy) / float64(total)
	}

	return SystemStatus{
		Mode:             o.cfg.Mode,
		Timestamp:        time.Now(),
		UptimeSeconds:    time.Since(o.startedAt).Seconds(),
		Services:         services,
		TotalInstances:   total,
		HealthyInstances: healthy,
		DegradedServices: o.failover.DegradedServices(),
		ActiveAlerts:     len(o.monitor.ActiveAlerts()),
		SLA: SLAStatus{
			TargetAvailabilityPercent:  o.cfg.TargetAvailabilityPercent,
			CurrentAvailabilityPercent: availability,
			Compliant:                  availability >= o.cfg.TargetAvailabilityPercent,
		},
	}
}
