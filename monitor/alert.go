package monitor

import (
	"time"

	"github.com/acgov/go-mesh/mesh"
)

// Alert is one active or resolved threshold breach.
type Alert struct {
	AlertID        string           `json:"alert_id"`
	ServiceType    mesh.ServiceType `json:"service_type"`
	InstanceID     string           `json:"instance_id,omitempty"`
	Metric         MetricType       `json:"metric"`
	Severity       Severity         `json:"severity"`
	SeverityLabel  string           `json:"severity_label"`
	CurrentValue   float64          `json:"current_value"`
	ThresholdValue float64          `json:"threshold_value"`
	Timestamp      time.Time        `json:"timestamp"`
	Resolved       bool             `json:"resolved"`
	ResolvedAt     time.Time        `json:"resolved_at,omitempty"`
}

// alertKey identifies the one active alert slot per instance and metric.
type alertKey struct {
	serviceType mesh.ServiceType
	instanceID  string
	metric      MetricType
}
