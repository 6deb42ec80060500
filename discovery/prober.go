package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/acgov/go-mesh/mesh"
)

// healthBody is the optional JSON payload a service health endpoint returns.
type healthBody struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}

// dependencyOK recognizes the states a dependency may report and still count
// as working.
func dependencyOK(state string) bool {
	switch strings.ToLower(state) {
	case "connected", "operational", "healthy", "true", "ok":
		return true
	}
	return false
}

// runHealthLoop probes every registered instance each tick. The tick blocks
// until all checks finish or time out individually, so one slow instance
// never delays the others beyond its own timeout.
func (d *Discovery) runHealthLoop(ctx context.Context) {
	defer d.wg.Done()

	// Probe immediately so a fresh process learns instance health before
	// the first tick.
	d.probeAll(ctx)

	ticker := time.NewTicker(d.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.probeAll(ctx)
		}
	}
}

// probeAll fans health checks out on the worker pool and waits for the
// whole sweep. Check errors never escape the loop.
func (d *Discovery) probeAll(ctx context.Context) {
	instances := d.allInstances()
	if len(instances) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, inst := range instances {
		inst := inst
		wg.Add(1)
		if err := d.pool.Submit(func() {
			defer wg.Done()
			d.probeOne(ctx, inst)
		}); err != nil {
			// Pool released mid-shutdown; still wait for the probes
			// already in flight.
			wg.Done()
			break
		}
	}
	wg.Wait()
	d.reportAvailability()
}

// probeOne runs a single bounded health check and applies the transition.
func (d *Discovery) probeOne(ctx context.Context, inst *mesh.ServiceInstance) {
	start := time.Now()
	resp, err := d.client.Get(ctx, inst.URL()+inst.HealthURL)
	elapsedMs := float64(time.Since(start).Microseconds()) / 1000

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			err = fmt.Errorf("%w: %s after %.0fms", mesh.ErrHealthCheckTimeout, inst.InstanceID, elapsedMs)
		} else {
			err = fmt.Errorf("%w: %s: %v", mesh.ErrHealthCheckFailed, inst.InstanceID, err)
		}
	} else if resp.StatusCode != 200 {
		err = fmt.Errorf("%w: %s returned %d", mesh.ErrHealthCheckFailed, inst.InstanceID, resp.StatusCode)
	}

	newStatus := mesh.StatusUnhealthy
	if err == nil && resp.StatusCode == 200 {
		newStatus = mesh.StatusHealthy
		inst.RecordResponseTime(elapsedMs)

		var body healthBody
		degraded := false
		if jsonErr := resp.JSON(&body); jsonErr == nil {
			for _, state := range body.Dependencies {
				if !dependencyOK(state) {
					degraded = true
					break
				}
			}
		}
		if degraded {
			inst.SetMeta("degraded", "true")
		} else {
			inst.SetMeta("degraded", "")
		}
	}

	prev := inst.SetStatus(newStatus, time.Now())
	if prev != newStatus {
		d.fireTransition(inst, prev, newStatus, err)
	}
	d.observeSample(inst, newStatus == mesh.StatusHealthy, elapsedMs)
}

// fireTransition runs the up/down callbacks synchronously, in registration
// order.
func (d *Discovery) fireTransition(inst *mesh.ServiceInstance, prev, next mesh.InstanceStatus, probeErr error) {
	d.cbMu.RLock()
	up := append([]Callback{}, d.upCallbacks...)
	down := append([]Callback{}, d.downCallbacks...)
	d.cbMu.RUnlock()

	switch {
	case next == mesh.StatusHealthy:
		d.log.Info("instance became healthy",
			zap.String("service_type", inst.ServiceType.String()),
			zap.String("instance_id", inst.InstanceID))
		for _, cb := range up {
			cb(inst.ServiceType, inst.InstanceID)
		}
	case prev == mesh.StatusHealthy || prev == mesh.StatusUnknown:
		d.log.Warn("instance became unhealthy",
			zap.String("service_type", inst.ServiceType.String()),
			zap.String("instance_id", inst.InstanceID),
			zap.Error(probeErr))
		for _, cb := range down {
			cb(inst.ServiceType, inst.InstanceID)
		}
	}
}

// observeSample forwards one probe result to the observer, if installed.
func (d *Discovery) observeSample(inst *mesh.ServiceInstance, healthy bool, responseMs float64) {
	d.cbMu.RLock()
	obs := d.observer
	d.cbMu.RUnlock()
	if obs == nil {
		return
	}
	snap := inst.Snapshot()
	obs(ProbeSample{
		ServiceType:        inst.ServiceType,
		InstanceID:         inst.InstanceID,
		Healthy:            healthy,
		ResponseTimeMs:     responseMs,
		CurrentConnections: snap.CurrentConnections,
		TotalRequests:      snap.TotalRequests,
		FailedRequests:     snap.FailedRequests,
	})
}

// reportAvailability tells the observer the post-sweep availability of each
// service type, so availability alerts reflect whole-type health rather
// than single probes.
func (d *Discovery) reportAvailability() {
	d.cbMu.RLock()
	obs := d.observer
	d.cbMu.RUnlock()
	if obs == nil {
		return
	}
	for serviceType, status := range d.GetAllServicesStatus() {
		if status.TotalInstances == 0 {
			continue
		}
		obs(ProbeSample{
			ServiceType:          serviceType,
			AvailabilityPercent:  status.AvailabilityPercent,
			AvailabilityReported: true,
			HealthyInstances:     status.HealthyInstances,
			Healthy:              status.HealthyInstances > 0,
		})
	}
}
