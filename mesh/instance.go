package mesh

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// InstanceStatus is the health state of one replica.
type InstanceStatus string

const (
	StatusHealthy   InstanceStatus = "healthy"
	StatusUnhealthy InstanceStatus = "unhealthy"
	StatusUnknown   InstanceStatus = "unknown"
)

// Default instance weight when the registry descriptor omits one.
const DefaultWeight = 100

// ServiceInstance is the mutable record of one running replica. Identity
// fields are immutable after registration; health fields are written only
// by the discovery prober; request counters are updated atomically by the
// routing path.
type ServiceInstance struct {
	ServiceType ServiceType
	InstanceID  string
	BaseURL     string
	Port        int
	HealthURL   string
	Weight      int
	Priority    int // lower is preferred; <=1 is primary, >1 backup
	Metadata    map[string]string

	// Health state, guarded by mu. Only the discovery prober transitions
	// Status; LastCheck and response time follow each probe.
	mu             sync.RWMutex
	status         InstanceStatus
	lastCheck      time.Time
	responseTimeMs float64
	hasResponse    bool

	// Request counters, atomic. Lost updates here corrupt load balancing
	// and alerting decisions.
	currentConnections int64
	totalRequests      int64
	failedRequests     int64
}

// NewServiceInstance creates an instance in the unknown state.
func NewServiceInstance(serviceType ServiceType, instanceID, baseURL string, port int, healthURL string) *ServiceInstance {
	return &ServiceInstance{
		ServiceType: serviceType,
		InstanceID:  instanceID,
		BaseURL:     baseURL,
		Port:        port,
		HealthURL:   healthURL,
		Weight:      DefaultWeight,
		Priority:    1,
		Metadata:    make(map[string]string),
		status:      StatusUnknown,
	}
}

// URL returns the instance base address including the port.
func (s *ServiceInstance) URL() string {
	return fmt.Sprintf("%s:%d", s.BaseURL, s.Port)
}

// Status returns the current health status.
func (s *ServiceInstance) Status() InstanceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// IsHealthy reports whether the instance is currently routable.
func (s *ServiceInstance) IsHealthy() bool {
	return s.Status() == StatusHealthy
}

// SetStatus applies a probe result. Reserved for the discovery prober;
// returns the previous status so transitions can fire callbacks.
func (s *ServiceInstance) SetStatus(status InstanceStatus, checkedAt time.Time) InstanceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.status
	s.status = status
	s.lastCheck = checkedAt
	return prev
}

// RecordResponseTime stores the latest successful probe latency.
func (s *ServiceInstance) RecordResponseTime(ms float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responseTimeMs = ms
	s.hasResponse = true
}

// ResponseTimeMs returns the last probe latency and whether one exists.
func (s *ServiceInstance) ResponseTimeMs() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.responseTimeMs, s.hasResponse
}

// LastCheck returns the time of the most recent probe.
func (s *ServiceInstance) LastCheck() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastCheck
}

// SetMeta writes one metadata entry; an empty value deletes the key.
func (s *ServiceInstance) SetMeta(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == "" {
		delete(s.Metadata, key)
		return
	}
	s.Metadata[key] = value
}

// Meta reads one metadata entry.
func (s *ServiceInstance) Meta(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Metadata[key]
}

// AcquireConnection increments the live connection counter.
func (s *ServiceInstance) AcquireConnection() {
	atomic.AddInt64(&s.currentConnections, 1)
	atomic.AddInt64(&s.totalRequests, 1)
}

// ReleaseConnection decrements the live connection counter, never below zero.
func (s *ServiceInstance) ReleaseConnection() {
	for {
		cur := atomic.LoadInt64(&s.currentConnections)
		if cur <= 0 {
			return
		}
		if atomic.CompareAndSwapInt64(&s.currentConnections, cur, cur-1) {
			return
		}
	}
}

// RecordFailure marks one failed request.
func (s *ServiceInstance) RecordFailure() {
	atomic.AddInt64(&s.failedRequests, 1)
}

// CurrentConnections returns the live connection count.
func (s *ServiceInstance) CurrentConnections() int64 {
	return atomic.LoadInt64(&s.currentConnections)
}

// TotalRequests returns the total routed request count.
func (s *ServiceInstance) TotalRequests() int64 {
	return atomic.LoadInt64(&s.totalRequests)
}

// FailedRequests returns the failed request count.
func (s *ServiceInstance) FailedRequests() int64 {
	return atomic.LoadInt64(&s.failedRequests)
}

// SuccessRate is (total-failed)/total, 1.0 when no request was routed yet.
func (s *ServiceInstance) SuccessRate() float64 {
	total := s.TotalRequests()
	if total == 0 {
		return 1.0
	}
	failed := s.FailedRequests()
	return float64(total-failed) / float64(total)
}

// LoadFactor is currentConnections/(weight*2), capped at 1.0.
func (s *ServiceInstance) LoadFactor() float64 {
	weight := s.Weight
	if weight <= 0 {
		weight = DefaultWeight
	}
	lf := float64(s.CurrentConnections()) / float64(weight*2)
	if lf > 1.0 {
		return 1.0
	}
	return lf
}

// LoadScore ranks instances for the least-response-time strategy; lower is
// better. It blends normalized probe latency, connection load and recent
// failure rate. The exact weights are tunable, not a contract.
func (s *ServiceInstance) LoadScore() float64 {
	respNorm := 0.0
	if ms, ok := s.ResponseTimeMs(); ok {
		respNorm = ms / 1000.0
		if respNorm > 1.0 {
			respNorm = 1.0
		}
	}
	return 0.4*respNorm + 0.3*s.LoadFactor() + 0.3*(1.0-s.SuccessRate())
}

// InstanceSnapshot is an immutable view of an instance for status reporting.
type InstanceSnapshot struct {
	ServiceType        ServiceType       `json:"service_type"`
	InstanceID         string            `json:"instance_id"`
	URL                string            `json:"url"`
	HealthURL          string            `json:"health_url"`
	Status             InstanceStatus    `json:"status"`
	LastCheck          time.Time         `json:"last_check"`
	ResponseTimeMs     float64           `json:"response_time_ms"`
	Weight             int               `json:"weight"`
	Priority           int               `json:"priority"`
	CurrentConnections int64             `json:"current_connections"`
	TotalRequests      int64             `json:"total_requests"`
	FailedRequests     int64             `json:"failed_requests"`
	SuccessRate        float64           `json:"success_rate"`
	LoadScore          float64           `json:"load_score"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// Snapshot captures the current instance state.
func (s *ServiceInstance) Snapshot() InstanceSnapshot {
	ms, _ := s.ResponseTimeMs()
	s.mu.RLock()
	meta := make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		meta[k] = v
	}
	s.mu.RUnlock()
	return InstanceSnapshot{
		ServiceType:        s.ServiceType,
		InstanceID:         s.InstanceID,
		URL:                s.URL(),
		HealthURL:          s.HealthURL,
		Status:             s.Status(),
		LastCheck:          s.LastCheck(),
		ResponseTimeMs:     ms,
		Weight:             s.Weight,
		Priority:           s.Priority,
		CurrentConnections: s.CurrentConnections(),
		TotalRequests:      s.TotalRequests(),
		FailedRequests:     s.FailedRequests(),
		SuccessRate:        s.SuccessRate(),
		LoadScore:          s.LoadScore(),
		Metadata:           meta,
	}
}
