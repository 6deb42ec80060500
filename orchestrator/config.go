package orchestrator

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/acgov/go-mesh/discovery"
	"github.com/acgov/go-mesh/failover"
	"github.com/acgov/go-mesh/monitor"
	"github.com/acgov/go-mesh/registry"
	"github.com/acgov/go-mesh/session"
)

// Mode selects a preset tuned for one deployment environment.
type Mode string

const (
	ModeDevelopment      Mode = "development"
	ModeStaging          Mode = "staging"
	ModeProduction       Mode = "production"
	ModeHighAvailability Mode = "high_availability"
)

// Features toggles individual mesh capabilities. A disabled capability is
// not started at all rather than started idle.
type Features struct {
	Discovery             bool `mapstructure:"discovery"`
	LoadBalancing         bool `mapstructure:"load_balancing"`
	CircuitBreakers       bool `mapstructure:"circuit_breakers"`
	AutoFailover          bool `mapstructure:"auto_failover"`
	HealthMonitoring      bool `mapstructure:"health_monitoring"`
	PerformanceMonitoring bool `mapstructure:"performance_monitoring"`
	PredictiveAnalysis    bool `mapstructure:"predictive_analysis"`
}

// Config is the orchestrator's top-level configuration. SLA targets feed
// SystemStatus compliance reporting; the nested sections configure the
// components directly.
type Config struct {
	Mode                       Mode     `mapstructure:"mode"`
	TargetAvailabilityPercent  float64  `mapstructure:"target_availability_percent"`
	TargetResponseTimeMs       float64  `mapstructure:"target_response_time_ms"`
	TargetErrorRatePercent     float64  `mapstructure:"target_error_rate_percent"`
	HealthCheckIntervalSeconds int      `mapstructure:"health_check_interval_seconds"`
	Features                   Features `mapstructure:"features"`

	Discovery discovery.Config       `mapstructure:"discovery"`
	Failover  failover.Config        `mapstructure:"failover"`
	Session   session.Config         `mapstructure:"session"`
	Monitor   monitor.Config         `mapstructure:"monitor"`
	Alerting  monitor.AlertingConfig `mapstructure:"alerting"`

	Services     registry.StaticConfig    `mapstructure:"registry"`
	Etcd         *registry.EtcdConfig     `mapstructure:"etcd"`
	SessionRedis *session.RedisConfig     `mapstructure:"session_redis"`
	History      *monitor.HistoryConfig   `mapstructure:"history"`
	AlertKafka   *monitor.KafkaSinkConfig `mapstructure:"alert_kafka"`
	AdminAddr    string                   `mapstructure:"admin_addr"`
}

// PresetConfig returns the full configuration for a mode. Loaded config
// files overlay it, so unset keys keep the preset value.
func PresetConfig(mode Mode) Config {
	cfg := Config{
		Mode:                       mode,
		TargetAvailabilityPercent:  99.5,
		TargetResponseTimeMs:       500,
		TargetErrorRatePercent:     1.0,
		HealthCheckIntervalSeconds: 15,
		Features: Features{
			Discovery:             true,
			LoadBalancing:         true,
			CircuitBreakers:       true,
			AutoFailover:          true,
			HealthMonitoring:      true,
			PerformanceMonitoring: true,
			PredictiveAnalysis:    false,
		},
		Discovery: discovery.DefaultConfig(),
		Failover:  failover.DefaultConfig(),
		Session:   session.DefaultConfig(),
		Monitor:   monitor.DefaultConfig(),
		Alerting:  monitor.DefaultAlertingConfig(),
		AdminAddr: ":7070",
	}

	switch mode {
	case ModeDevelopment:
		cfg.TargetAvailabilityPercent = 99.0
		cfg.TargetResponseTimeMs = 2000
		cfg.TargetErrorRatePercent = 5.0
		cfg.HealthCheckIntervalSeconds = 30
		cfg.Features.PerformanceMonitoring = false
	case ModeStaging:
		cfg.TargetResponseTimeMs = 1000
	case ModeHighAvailability:
		cfg.TargetAvailabilityPercent = 99.9
		cfg.TargetResponseTimeMs = 200
		cfg.TargetErrorRatePercent = 0.5
		cfg.HealthCheckIntervalSeconds = 5
		cfg.Features.PredictiveAnalysis = true
	}
	return cfg
}

// Validate rejects configurations the orchestrator cannot honor.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Mode, validation.Required, validation.In(
			ModeDevelopment, ModeStaging, ModeProduction, ModeHighAvailability)),
		validation.Field(&c.TargetAvailabilityPercent,
			validation.Required, validation.Min(0.0).Exclusive(), validation.Max(100.0)),
		validation.Field(&c.TargetResponseTimeMs,
			validation.Required, validation.Min(0.0).Exclusive()),
		validation.Field(&c.TargetErrorRatePercent,
			validation.Min(0.0), validation.Max(100.0).Exclusive()),
		validation.Field(&c.HealthCheckIntervalSeconds, validation.Required, validation.Min(1)),
	)
}
