// Package monitor ingests per-instance performance samples, evaluates them
// against severity thresholds, and de-duplicates the resulting alerts.
package monitor

import (
	"time"

	"github.com/acgov/go-mesh/mesh"
)

// MetricType identifies one monitored dimension.
type MetricType string

const (
	MetricResponseTime    MetricType = "response_time"
	MetricAvailability    MetricType = "availability"
	MetricErrorRate       MetricType = "error_rate"
	MetricConcurrentUsers MetricType = "concurrent_users"
	MetricResourceUsage   MetricType = "resource_usage"
)

// Severity orders alert levels. Higher is worse.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
	SeverityEmergency
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	case SeverityEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Metrics is one performance sample for a service instance. Availability is
// only evaluated when AvailabilityReported is set, so a fully down service
// (0% available) still alerts while samples without availability data do not.
type Metrics struct {
	ServiceType          mesh.ServiceType `json:"service_type"`
	InstanceID           string           `json:"instance_id"`
	Timestamp            time.Time        `json:"timestamp"`
	ResponseTimeMs       float64          `json:"response_time_ms"`
	AvailabilityPercent  float64          `json:"availability_percent"`
	AvailabilityReported bool             `json:"availability_reported"`
	ErrorRatePercent     float64          `json:"error_rate_percent"`
	ConcurrentUsers      float64          `json:"concurrent_users"`
	ResourceUsagePercent float64          `json:"resource_usage_percent"`
	SuccessCount         int64            `json:"success_count"`
	FailureCount         int64            `json:"failure_count"`
	CurrentConnections   int64            `json:"current_connections"`
	TotalRequests        int64            `json:"total_requests"`
}

// ringBuffer keeps the most recent samples for one (type, instance) pair.
type ringBuffer struct {
	samples []Metrics
	next    int
	full    bool
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{samples: make([]Metrics, capacity)}
}

func (r *ringBuffer) append(m Metrics) {
	r.samples[r.next] = m
	r.next++
	if r.next == len(r.samples) {
		r.next = 0
		r.full = true
	}
}

// snapshot returns samples in chronological order.
func (r *ringBuffer) snapshot() []Metrics {
	if !r.full {
		return append([]Metrics{}, r.samples[:r.next]...)
	}
	out := make([]Metrics, 0, len(r.samples))
	out = append(out, r.samples[r.next:]...)
	out = append(out, r.samples[:r.next]...)
	return out
}

func (r *ringBuffer) len() int {
	if r.full {
		return len(r.samples)
	}
	return r.next
}

// dropOlderThan rewrites the buffer without samples before cutoff and
// returns how many were dropped.
func (r *ringBuffer) dropOlderThan(cutoff time.Time) int {
	kept := make([]Metrics, 0, r.len())
	for _, m := range r.snapshot() {
		if !m.Timestamp.Before(cutoff) {
			kept = append(kept, m)
		}
	}
	dropped := r.len() - len(kept)
	r.next = 0
	r.full = false
	for i := range r.samples {
		r.samples[i] = Metrics{}
	}
	for _, m := range kept {
		r.append(m)
	}
	return dropped
}
