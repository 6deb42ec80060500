package failover

import (
	"context"
	"sync"

	"github.com/acgov/go-mesh/logger"
	"github.com/acgov/go-mesh/mesh"
)

// Registry holds one failover manager per service type and aggregates the
// system-wide degraded count.
type Registry struct {
	cfg Config
	log *logger.CtxZapLogger

	mu       sync.RWMutex
	managers map[mesh.ServiceType]*Manager
}

// NewRegistry creates a registry applying cfg to every service type.
func NewRegistry(cfg Config, log *logger.CtxZapLogger) *Registry {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Registry{
		cfg:      cfg,
		log:      log,
		managers: make(map[mesh.ServiceType]*Manager),
	}
}

// Manager returns the manager for a service type, creating it on first use.
func (r *Registry) Manager(serviceType mesh.ServiceType) *Manager {
	r.mu.RLock()
	m, ok := r.managers[serviceType]
	r.mu.RUnlock()
	if ok {
		return m
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok = r.managers[serviceType]; ok {
		return m
	}
	m = NewManager(serviceType, r.cfg, r.log)
	r.managers[serviceType] = m
	return m
}

// RegisterInstances forwards the instance set to the type's manager.
func (r *Registry) RegisterInstances(serviceType mesh.ServiceType, instances []*mesh.ServiceInstance) {
	r.Manager(serviceType).RegisterInstances(instances)
}

// ExecuteWithFailover runs op through the type's manager.
func (r *Registry) ExecuteWithFailover(ctx context.Context, serviceType mesh.ServiceType, op Operation, instanceID string) (*DegradedResponse, error) {
	return r.Manager(serviceType).ExecuteWithFailover(ctx, op, instanceID)
}

// RecordFailure counts an externally observed failure.
func (r *Registry) RecordFailure(serviceType mesh.ServiceType, instanceID string) {
	r.Manager(serviceType).RecordFailure(instanceID)
}

// DegradedServices lists every service type currently degraded.
func (r *Registry) DegradedServices() []mesh.ServiceType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []mesh.ServiceType
	for t, m := range r.managers {
		if m.Degraded() {
			out = append(out, t)
		}
	}
	return out
}

// DegradedServiceCount returns how many service types are degraded.
func (r *Registry) DegradedServiceCount() int {
	return len(r.DegradedServices())
}

// BreakerStates snapshots all breakers, keyed by service type.
func (r *Registry) BreakerStates() map[mesh.ServiceType]map[string]BreakerState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[mesh.ServiceType]map[string]BreakerState, len(r.managers))
	for t, m := range r.managers {
		out[t] = m.BreakerStates()
	}
	return out
}
