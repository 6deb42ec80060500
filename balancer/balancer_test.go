package balancer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acgov/go-mesh/mesh"
)

func makeInstances(n int, weight int) []*mesh.ServiceInstance {
	out := make([]*mesh.ServiceInstance, 0, n)
	for i := 0; i < n; i++ {
		inst := mesh.NewServiceInstance(mesh.ServiceAuth, fmt.Sprintf("auth-%d", i), "http://localhost", 8000+i, "/health")
		inst.Weight = weight
		out = append(out, inst)
	}
	return out
}

func TestRoundRobinCyclesInOrder(t *testing.T) {
	s := NewRoundRobin()
	instances := makeInstances(3, 100)

	for round := 0; round < 3; round++ {
		for i := 0; i < 3; i++ {
			got := s.Select(mesh.ServiceAuth, instances, "")
			assert.Equal(t, instances[i].InstanceID, got.InstanceID)
		}
	}
}

func TestRoundRobinCountersAreIndependentPerServiceType(t *testing.T) {
	s := NewRoundRobin()
	instances := makeInstances(3, 100)

	assert.Equal(t, "auth-0", s.Select(mesh.ServiceAuth, instances, "").InstanceID)
	assert.Equal(t, "auth-1", s.Select(mesh.ServiceAuth, instances, "").InstanceID)
	// A different service type starts its own cycle.
	assert.Equal(t, "auth-0", s.Select(mesh.ServiceGS, instances, "").InstanceID)
}

func TestLeastConnectionsPicksQuietestInstance(t *testing.T) {
	s := NewLeastConnections()
	instances := makeInstances(3, 100)
	instances[0].AcquireConnection()
	instances[0].AcquireConnection()
	instances[1].AcquireConnection()

	got := s.Select(mesh.ServiceAuth, instances, "")
	assert.Equal(t, "auth-2", got.InstanceID)
}

func TestLeastConnectionsTieGoesToFirst(t *testing.T) {
	s := NewLeastConnections()
	instances := makeInstances(3, 100)

	got := s.Select(mesh.ServiceAuth, instances, "")
	assert.Equal(t, "auth-0", got.InstanceID)
}

func TestWeightedRoundRobinConvergesToWeightRatio(t *testing.T) {
	s := NewWeightedRoundRobin()
	heavy := mesh.NewServiceInstance(mesh.ServiceAC, "ac-heavy", "http://localhost", 9000, "/health")
	heavy.Weight = 200
	light := mesh.NewServiceInstance(mesh.ServiceAC, "ac-light", "http://localhost", 9001, "/health")
	light.Weight = 100
	instances := []*mesh.ServiceInstance{heavy, light}

	counts := map[string]int{}
	const picks = 3000
	for i := 0; i < picks; i++ {
		counts[s.Select(mesh.ServiceAC, instances, "").InstanceID]++
	}

	ratio := float64(counts["ac-heavy"]) / float64(counts["ac-light"])
	assert.InDelta(t, 2.0, ratio, 0.4, "2:1 weights should yield ~2:1 selection, got %v", counts)
}

func TestWeightedRoundRobinLowWeightStillGetsOneSlot(t *testing.T) {
	s := NewWeightedRoundRobin()
	tiny := mesh.NewServiceInstance(mesh.ServiceAC, "ac-tiny", "http://localhost", 9000, "/health")
	tiny.Weight = 3
	instances := []*mesh.ServiceInstance{tiny}

	got := s.Select(mesh.ServiceAC, instances, "")
	require.NotNil(t, got)
	assert.Equal(t, "ac-tiny", got.InstanceID)
}

func TestLeastResponseTimePrefersLowestLoadScore(t *testing.T) {
	s := NewLeastResponseTime()
	instances := makeInstances(2, 100)
	instances[0].RecordResponseTime(800)
	instances[1].RecordResponseTime(20)

	got := s.Select(mesh.ServiceAuth, instances, "")
	assert.Equal(t, "auth-1", got.InstanceID)
}

func TestConsistentHashIsStableForSameKey(t *testing.T) {
	s := NewConsistentHash()
	instances := makeInstances(5, 100)

	first := s.Select(mesh.ServiceGS, instances, "session-abc")
	require.NotNil(t, first)
	for i := 0; i < 100; i++ {
		got := s.Select(mesh.ServiceGS, instances, "session-abc")
		require.Equal(t, first.InstanceID, got.InstanceID)
	}
}

func TestConsistentHashRebuildsRingWhenSetChanges(t *testing.T) {
	s := NewConsistentHash()
	instances := makeInstances(5, 100)

	before := map[string]string{}
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("session-%d", i)
		before[key] = s.Select(mesh.ServiceGS, instances, key).InstanceID
	}

	// Remove one instance and count remapped keys. Only keys owned by the
	// removed instance (plus ring-boundary neighbors) should move.
	removed := instances[2].InstanceID
	shrunk := append([]*mesh.ServiceInstance{}, instances[:2]...)
	shrunk = append(shrunk, instances[3:]...)

	moved := 0
	for key, prev := range before {
		got := s.Select(mesh.ServiceGS, shrunk, key).InstanceID
		assert.NotEqual(t, removed, got)
		if got != prev {
			moved++
		}
	}
	assert.Less(t, moved, 50, "removing one instance must not remap every key")
}

func TestConsistentHashEmptyKeyFallsBack(t *testing.T) {
	s := NewConsistentHash()
	instances := makeInstances(3, 100)

	got := s.Select(mesh.ServiceGS, instances, "")
	require.NotNil(t, got)
	assert.Equal(t, "auth-0", got.InstanceID)
}

func TestRandomStaysWithinCandidates(t *testing.T) {
	s := NewRandom()
	instances := makeInstances(3, 100)
	valid := map[string]bool{"auth-0": true, "auth-1": true, "auth-2": true}

	for i := 0; i < 100; i++ {
		got := s.Select(mesh.ServiceAuth, instances, "")
		require.NotNil(t, got)
		assert.True(t, valid[got.InstanceID])
	}
}

func TestAllStrategiesReturnNilOnEmptyList(t *testing.T) {
	b := New()
	for _, name := range []string{
		StrategyRoundRobin, StrategyLeastConnections, StrategyWeightedRoundRobin,
		StrategyLeastResponseTime, StrategyConsistentHash, StrategyRandom,
	} {
		got, err := b.Select(name, mesh.ServiceAuth, nil, "key")
		require.NoError(t, err, name)
		assert.Nil(t, got, name)
	}
}

func TestBalancerDefaultsToLeastResponseTime(t *testing.T) {
	b := New()
	s, err := b.Strategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyLeastResponseTime, s.Name())
}

func TestBalancerRejectsUnknownStrategy(t *testing.T) {
	b := New()
	_, err := b.Strategy("not-a-strategy")
	assert.ErrorIs(t, err, mesh.ErrUnknownStrategy)
}
