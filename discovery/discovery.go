// Package discovery owns the service instance inventory, runs the periodic
// health-check loop, and is the facade callers use to resolve instances and
// execute remote operations with failover.
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/acgov/go-mesh/affinity"
	"github.com/acgov/go-mesh/balancer"
	"github.com/acgov/go-mesh/failover"
	"github.com/acgov/go-mesh/httpclient"
	"github.com/acgov/go-mesh/logger"
	"github.com/acgov/go-mesh/mesh"
)

// Config controls the health-check loop and affinity TTL.
type Config struct {
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	HealthCheckTimeout  time.Duration `mapstructure:"health_check_timeout"`
	ProbeConcurrency    int           `mapstructure:"probe_concurrency"`
	AffinityTTL         time.Duration `mapstructure:"affinity_ttl"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		HealthCheckInterval: 15 * time.Second,
		HealthCheckTimeout:  5 * time.Second,
		ProbeConcurrency:    32,
		AffinityTTL:         30 * time.Minute,
	}
}

// Callback observes instance status transitions. Callbacks run synchronously
// inside the health-check loop and must be fast.
type Callback func(serviceType mesh.ServiceType, instanceID string)

// ProbeSample reports one completed health check to an observer. Per-type
// availability samples (empty InstanceID) set AvailabilityReported so a 0%
// availability is distinguishable from an instance sample that carries none.
type ProbeSample struct {
	ServiceType          mesh.ServiceType
	InstanceID           string
	Healthy              bool
	ResponseTimeMs       float64
	AvailabilityPercent  float64
	AvailabilityReported bool
	HealthyInstances     int
	CurrentConnections   int64
	TotalRequests        int64
	FailedRequests       int64
}

// ProbeObserver receives a sample after every health check.
type ProbeObserver func(sample ProbeSample)

// shard holds one service type's instances. Registration order is
// preserved for deterministic round-robin cycling.
type shard struct {
	mu        sync.RWMutex
	instances []*mesh.ServiceInstance
	byID      map[string]*mesh.ServiceInstance
}

// Discovery is the instance inventory plus health loop plus facade.
type Discovery struct {
	cfg      Config
	log      *logger.CtxZapLogger
	balancer *balancer.Balancer
	affinity *affinity.Manager
	failover *failover.Registry
	client   *httpclient.Client
	pool     *ants.Pool

	shardMu sync.RWMutex
	shards  map[mesh.ServiceType]*shard

	cbMu          sync.RWMutex
	upCallbacks   []Callback
	downCallbacks []Callback
	observer      ProbeObserver

	stopCh  chan struct{}
	wg      sync.WaitGroup
	startMu sync.Mutex
	started bool
}

// New creates a discovery service. The failover registry is required; the
// balancer and affinity manager default when nil.
func New(cfg Config, fo *failover.Registry, log *logger.CtxZapLogger) (*Discovery, error) {
	if fo == nil {
		return nil, fmt.Errorf("discovery: failover registry is required")
	}
	def := DefaultConfig()
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = def.HealthCheckInterval
	}
	if cfg.HealthCheckTimeout <= 0 {
		cfg.HealthCheckTimeout = def.HealthCheckTimeout
	}
	if cfg.ProbeConcurrency <= 0 {
		cfg.ProbeConcurrency = def.ProbeConcurrency
	}
	if cfg.AffinityTTL <= 0 {
		cfg.AffinityTTL = def.AffinityTTL
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	pool, err := ants.NewPool(cfg.ProbeConcurrency)
	if err != nil {
		return nil, fmt.Errorf("discovery: create probe pool: %w", err)
	}
	return &Discovery{
		cfg:      cfg,
		log:      log,
		balancer: balancer.New(),
		affinity: affinity.NewManager(cfg.AffinityTTL),
		failover: fo,
		client:   httpclient.NewClient(httpclient.WithTimeout(cfg.HealthCheckTimeout)),
		pool:     pool,
		shards:   make(map[mesh.ServiceType]*shard),
		stopCh:   make(chan struct{}),
	}, nil
}

// Affinity exposes the affinity manager for the orchestrator's sweep.
func (d *Discovery) Affinity() *affinity.Manager { return d.affinity }

// Start launches the health-check loop. The first sweep runs immediately.
func (d *Discovery) Start(ctx context.Context) error {
	d.startMu.Lock()
	defer d.startMu.Unlock()
	if d.started {
		return nil
	}
	d.started = true

	d.wg.Add(1)
	go d.runHealthLoop(ctx)
	d.log.InfoCtx(ctx, "service discovery started",
		zap.Duration("interval", d.cfg.HealthCheckInterval))
	return nil
}

// Stop cancels the health loop and releases the probe pool. In-flight
// checks finish before Stop returns.
func (d *Discovery) Stop() error {
	d.startMu.Lock()
	defer d.startMu.Unlock()
	if !d.started {
		return nil
	}
	d.started = false
	close(d.stopCh)
	d.wg.Wait()
	d.pool.Release()
	d.log.Info("service discovery stopped")
	return nil
}

// AddServiceInstance registers a replica. Duplicate IDs within a service
// type are rejected.
func (d *Discovery) AddServiceInstance(inst *mesh.ServiceInstance) error {
	sh := d.shardFor(inst.ServiceType)

	sh.mu.Lock()
	if _, exists := sh.byID[inst.InstanceID]; exists {
		sh.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", mesh.ErrDuplicateInstance, inst.ServiceType, inst.InstanceID)
	}
	sh.instances = append(sh.instances, inst)
	sh.byID[inst.InstanceID] = inst
	snapshot := append([]*mesh.ServiceInstance{}, sh.instances...)
	sh.mu.Unlock()

	d.failover.RegisterInstances(inst.ServiceType, snapshot)
	d.log.Info("service instance registered",
		zap.String("service_type", inst.ServiceType.String()),
		zap.String("instance_id", inst.InstanceID),
		zap.String("url", inst.URL()))
	return nil
}

// RemoveServiceInstance deregisters a replica and drops any affinity
// entries pinned to it.
func (d *Discovery) RemoveServiceInstance(serviceType mesh.ServiceType, instanceID string) error {
	sh := d.shardFor(serviceType)

	sh.mu.Lock()
	if _, exists := sh.byID[instanceID]; !exists {
		sh.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", mesh.ErrInstanceNotFound, serviceType, instanceID)
	}
	delete(sh.byID, instanceID)
	for i, inst := range sh.instances {
		if inst.InstanceID == instanceID {
			sh.instances = append(sh.instances[:i], sh.instances[i+1:]...)
			break
		}
	}
	snapshot := append([]*mesh.ServiceInstance{}, sh.instances...)
	sh.mu.Unlock()

	d.affinity.RemoveInstance(serviceType, instanceID)
	d.failover.RegisterInstances(serviceType, snapshot)
	d.log.Info("service instance removed",
		zap.String("service_type", serviceType.String()),
		zap.String("instance_id", instanceID))
	return nil
}

// GetHealthyInstances returns the healthy replicas in registration order.
func (d *Discovery) GetHealthyInstances(serviceType mesh.ServiceType) []*mesh.ServiceInstance {
	sh := d.shardFor(serviceType)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	out := make([]*mesh.ServiceInstance, 0, len(sh.instances))
	for _, inst := range sh.instances {
		if inst.IsHealthy() {
			out = append(out, inst)
		}
	}
	return out
}

// GetBestInstance resolves an instance: an existing healthy affinity wins,
// otherwise the balancer selects from the healthy set. A successful
// selection acquires a connection slot; callers release it with
// ReleaseInstanceConnection. Returns nil when no healthy instance exists.
func (d *Discovery) GetBestInstance(serviceType mesh.ServiceType, strategy, sessionKey, hashKey string) *mesh.ServiceInstance {
	if sessionKey != "" {
		if pinned := d.affinity.Get(sessionKey, serviceType); pinned != "" {
			if inst := d.instanceByID(serviceType, pinned); inst != nil && inst.IsHealthy() {
				inst.AcquireConnection()
				return inst
			}
			// The pin points at a gone or unhealthy instance.
			d.affinity.Remove(sessionKey, serviceType)
		}
	}

	healthy := d.GetHealthyInstances(serviceType)
	if len(healthy) == 0 {
		return nil
	}
	key := hashKey
	if key == "" {
		key = sessionKey
	}
	inst, err := d.balancer.Select(strategy, serviceType, healthy, key)
	if err != nil {
		d.log.Warn("instance selection failed",
			zap.String("service_type", serviceType.String()),
			zap.String("strategy", strategy),
			zap.Error(err))
		return nil
	}
	if inst == nil {
		return nil
	}
	if sessionKey != "" {
		d.affinity.Set(sessionKey, serviceType, inst.InstanceID)
	}
	inst.AcquireConnection()
	return inst
}

// GetServiceURL returns the best instance's base URL, or "".
func (d *Discovery) GetServiceURL(serviceType mesh.ServiceType) string {
	inst := d.GetBestInstance(serviceType, "", "", "")
	if inst == nil {
		return ""
	}
	defer inst.ReleaseConnection()
	return inst.URL()
}

// IsServiceAvailable reports whether at least one replica is healthy.
func (d *Discovery) IsServiceAvailable(serviceType mesh.ServiceType) bool {
	return len(d.GetHealthyInstances(serviceType)) > 0
}

// RecordInstanceFailure feeds an application-level failure into the
// instance's counters and its circuit breaker.
func (d *Discovery) RecordInstanceFailure(serviceType mesh.ServiceType, instanceID string) {
	if inst := d.instanceByID(serviceType, instanceID); inst != nil {
		inst.RecordFailure()
	}
	d.failover.RecordFailure(serviceType, instanceID)
}

// ReleaseInstanceConnection returns a connection slot taken by
// GetBestInstance.
func (d *Discovery) ReleaseInstanceConnection(serviceType mesh.ServiceType, instanceID string) {
	if inst := d.instanceByID(serviceType, instanceID); inst != nil {
		inst.ReleaseConnection()
	}
}

// ServiceStatus is one service type's availability snapshot.
type ServiceStatus struct {
	ServiceType         mesh.ServiceType        `json:"service_type"`
	TotalInstances      int                     `json:"total_instances"`
	HealthyInstances    int                     `json:"healthy_instances"`
	AvailabilityPercent float64                 `json:"availability_percent"`
	Degraded            bool                    `json:"degraded"`
	Instances           []mesh.InstanceSnapshot `json:"instances"`
}

// GetServiceStatus snapshots one service type.
func (d *Discovery) GetServiceStatus(serviceType mesh.ServiceType) ServiceStatus {
	sh := d.shardFor(serviceType)
	sh.mu.RLock()
	instances := append([]*mesh.ServiceInstance{}, sh.instances...)
	sh.mu.RUnlock()

	status := ServiceStatus{
		ServiceType: serviceType,
		Degraded:    d.failover.Manager(serviceType).Degraded(),
	}
	for _, inst := range instances {
		snap := inst.Snapshot()
		status.Instances = append(status.Instances, snap)
		status.TotalInstances++
		if snap.Status == mesh.StatusHealthy {
			status.HealthyInstances++
		}
	}
	if status.TotalInstances > 0 {
		status.AvailabilityPercent = 100 * float64(status.HealthyInstances) / float64(status.TotalInstances)
	}
	return status
}

// GetAllServicesStatus snapshots every service type with instances.
func (d *Discovery) GetAllServicesStatus() map[mesh.ServiceType]ServiceStatus {
	d.shardMu.RLock()
	types := make([]mesh.ServiceType, 0, len(d.shards))
	for t := range d.shards {
		types = append(types, t)
	}
	d.shardMu.RUnlock()

	out := make(map[mesh.ServiceType]ServiceStatus, len(types))
	for _, t := range types {
		out[t] = d.GetServiceStatus(t)
	}
	return out
}

// RegisterServiceUpCallback fires when an instance transitions to healthy.
func (d *Discovery) RegisterServiceUpCallback(cb Callback) {
	d.cbMu.Lock()
	d.upCallbacks = append(d.upCallbacks, cb)
	d.cbMu.Unlock()
}

// RegisterServiceDownCallback fires when an instance leaves healthy.
func (d *Discovery) RegisterServiceDownCallback(cb Callback) {
	d.cbMu.Lock()
	d.downCallbacks = append(d.downCallbacks, cb)
	d.cbMu.Unlock()
}

// SetProbeObserver installs the per-check sample observer.
func (d *Discovery) SetProbeObserver(obs ProbeObserver) {
	d.cbMu.Lock()
	d.observer = obs
	d.cbMu.Unlock()
}

// ExecuteWithFailover resolves an instance if instanceID is empty and runs
// op under the service type's failover manager.
func (d *Discovery) ExecuteWithFailover(ctx context.Context, serviceType mesh.ServiceType, op failover.Operation, instanceID string) (*failover.DegradedResponse, error) {
	if instanceID == "" {
		if inst := d.GetBestInstance(serviceType, "", "", ""); inst != nil {
			instanceID = inst.InstanceID
			defer inst.ReleaseConnection()
		}
	}
	return d.failover.ExecuteWithFailover(ctx, serviceType, op, instanceID)
}

func (d *Discovery) shardFor(serviceType mesh.ServiceType) *shard {
	d.shardMu.RLock()
	sh, ok := d.shards[serviceType]
	d.shardMu.RUnlock()
	if ok {
		return sh
	}
	d.shardMu.Lock()
	defer d.shardMu.Unlock()
	if sh, ok = d.shards[serviceType]; ok {
		return sh
	}
	sh = &shard{byID: make(map[string]*mesh.ServiceInstance)}
	d.shards[serviceType] = sh
	return sh
}

func (d *Discovery) instanceByID(serviceType mesh.ServiceType, instanceID string) *mesh.ServiceInstance {
	sh := d.shardFor(serviceType)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.byID[instanceID]
}

func (d *Discovery) allInstances() []*mesh.ServiceInstance {
	d.shardMu.RLock()
	shards := make([]*shard, 0, len(d.shards))
	for _, sh := range d.shards {
		shards = append(shards, sh)
	}
	d.shardMu.RUnlock()

	var out []*mesh.ServiceInstance
	for _, sh := range shards {
		sh.mu.RLock()
		out = append(out, sh.instances...)
		sh.mu.RUnlock()
	}
	return out
}
