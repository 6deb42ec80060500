package mesh

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestServiceInstance_SuccessRate(t *testing.T) {
	inst := NewServiceInstance(ServiceAuth, "auth-1", "http://10.0.0.1", 8000, "http://10.0.0.1:8000/health")

	// No traffic yet: perfect by definition.
	assert.Equal(t, 1.0, inst.SuccessRate())

	for i := 0; i < 10; i++ {
		inst.AcquireConnection()
	}
	inst.RecordFailure()
	inst.RecordFailure()
	assert.InDelta(t, 0.8, inst.SuccessRate(), 1e-9)
}

func TestServiceInstance_ConnectionsNeverNegative(t *testing.T) {
	inst := NewServiceInstance(ServicePGC, "pgc-1", "http://10.0.0.2", 8010, "http://10.0.0.2:8010/health")

	inst.ReleaseConnection()
	assert.Equal(t, int64(0), inst.CurrentConnections())

	inst.AcquireConnection()
	inst.ReleaseConnection()
	inst.ReleaseConnection()
	assert.Equal(t, int64(0), inst.CurrentConnections())
}

func TestServiceInstance_ConcurrentCounters(t *testing.T) {
	inst := NewServiceInstance(ServiceGS, "gs-1", "http://10.0.0.3", 8020, "http://10.0.0.3:8020/health")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				inst.AcquireConnection()
				inst.ReleaseConnection()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(0), inst.CurrentConnections())
	assert.Equal(t, int64(5000), inst.TotalRequests())
}

func TestServiceInstance_LoadFactorCapped(t *testing.T) {
	inst := NewServiceInstance(ServiceAC, "ac-1", "http://10.0.0.4", 8001, "http://10.0.0.4:8001/health")
	inst.Weight = 10

	for i := 0; i < 100; i++ {
		inst.AcquireConnection()
	}
	assert.Equal(t, 1.0, inst.LoadFactor())
}

func TestServiceInstance_LoadScoreOrdering(t *testing.T) {
	fast := NewServiceInstance(ServiceFV, "fv-fast", "http://10.0.0.5", 8030, "http://10.0.0.5:8030/health")
	fast.RecordResponseTime(50)

	slow := NewServiceInstance(ServiceFV, "fv-slow", "http://10.0.0.6", 8030, "http://10.0.0.6:8030/health")
	slow.RecordResponseTime(900)
	for i := 0; i < 10; i++ {
		slow.AcquireConnection()
		slow.RecordFailure()
	}

	assert.Less(t, fast.LoadScore(), slow.LoadScore())
}

func TestServiceInstance_StatusTransition(t *testing.T) {
	inst := NewServiceInstance(ServiceEC, "ec-1", "http://10.0.0.7", 8040, "http://10.0.0.7:8040/health")
	assert.Equal(t, StatusUnknown, inst.Status())
	assert.False(t, inst.IsHealthy())

	now := time.Now()
	prev := inst.SetStatus(StatusHealthy, now)
	assert.Equal(t, StatusUnknown, prev)
	assert.True(t, inst.IsHealthy())
	assert.Equal(t, now, inst.LastCheck())
}

func TestParseServiceType(t *testing.T) {
	st, err := ParseServiceType("pgc")
	assert.NoError(t, err)
	assert.Equal(t, ServicePGC, st)

	_, err = ParseServiceType("bogus")
	assert.Error(t, err)
}
