package balancer

import (
	"math/rand"
	"sync"
	"time"

	"github.com/acgov/go-mesh/mesh"
)

// RoundRobin cycles through instances in list order with one monotonic
// counter per service type.
type RoundRobin struct {
	mu       sync.Mutex
	counters map[mesh.ServiceType]uint64
}

// NewRoundRobin creates a round-robin strategy.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{counters: make(map[mesh.ServiceType]uint64)}
}

// Name returns the strategy name.
func (s *RoundRobin) Name() string { return StrategyRoundRobin }

// Select returns the next instance in cycle order.
func (s *RoundRobin) Select(serviceType mesh.ServiceType, instances []*mesh.ServiceInstance, _ string) *mesh.ServiceInstance {
	if len(instances) == 0 {
		return nil
	}
	s.mu.Lock()
	idx := s.counters[serviceType]
	s.counters[serviceType] = idx + 1
	s.mu.Unlock()
	return instances[int(idx%uint64(len(instances)))]
}

// LeastConnections picks the instance with the fewest live connections.
type LeastConnections struct{}

// NewLeastConnections creates a least-connections strategy.
func NewLeastConnections() *LeastConnections {
	return &LeastConnections{}
}

// Name returns the strategy name.
func (s *LeastConnections) Name() string { return StrategyLeastConnections }

// Select returns argmin(currentConnections); ties go to the earlier entry.
func (s *LeastConnections) Select(_ mesh.ServiceType, instances []*mesh.ServiceInstance, _ string) *mesh.ServiceInstance {
	if len(instances) == 0 {
		return nil
	}
	best := instances[0]
	bestConns := best.CurrentConnections()
	for _, inst := range instances[1:] {
		if conns := inst.CurrentConnections(); conns < bestConns {
			best = inst
			bestConns = conns
		}
	}
	return best
}

// WeightedRoundRobin expands each instance into max(1, weight/10) slots and
// round-robins over the expanded list, so selection frequency converges to
// the weight ratio.
type WeightedRoundRobin struct {
	mu       sync.Mutex
	counters map[mesh.ServiceType]uint64
}

// NewWeightedRoundRobin creates a weighted round-robin strategy.
func NewWeightedRoundRobin() *WeightedRoundRobin {
	return &WeightedRoundRobin{counters: make(map[mesh.ServiceType]uint64)}
}

// Name returns the strategy name.
func (s *WeightedRoundRobin) Name() string { return StrategyWeightedRoundRobin }

// Select cycles through the weight-expanded candidate list.
func (s *WeightedRoundRobin) Select(serviceType mesh.ServiceType, instances []*mesh.ServiceInstance, _ string) *mesh.ServiceInstance {
	if len(instances) == 0 {
		return nil
	}

	expanded := make([]*mesh.ServiceInstance, 0, len(instances))
	for _, inst := range instances {
		copies := virtualCopies(inst.Weight)
		for i := 0; i < copies; i++ {
			expanded = append(expanded, inst)
		}
	}

	s.mu.Lock()
	idx := s.counters[serviceType]
	s.counters[serviceType] = idx + 1
	s.mu.Unlock()
	return expanded[int(idx%uint64(len(expanded)))]
}

// LeastResponseTime picks the instance with the lowest load score (probe
// latency + connection load + failure rate). This is the default strategy.
type LeastResponseTime struct{}

// NewLeastResponseTime creates a least-response-time strategy.
func NewLeastResponseTime() *LeastResponseTime {
	return &LeastResponseTime{}
}

// Name returns the strategy name.
func (s *LeastResponseTime) Name() string { return StrategyLeastResponseTime }

// Select returns argmin(loadScore); ties go to the earlier entry.
func (s *LeastResponseTime) Select(_ mesh.ServiceType, instances []*mesh.ServiceInstance, _ string) *mesh.ServiceInstance {
	if len(instances) == 0 {
		return nil
	}
	best := instances[0]
	bestScore := best.LoadScore()
	for _, inst := range instances[1:] {
		if score := inst.LoadScore(); score < bestScore {
			best = inst
			bestScore = score
		}
	}
	return best
}

// Random picks uniformly. Used only as an explicit fallback.
type Random struct {
	mu   sync.Mutex
	rand *rand.Rand
}

// NewRandom creates a random strategy.
func NewRandom() *Random {
	return &Random{rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Name returns the strategy name.
func (s *Random) Name() string { return StrategyRandom }

// Select returns a uniformly random instance.
func (s *Random) Select(_ mesh.ServiceType, instances []*mesh.ServiceInstance, _ string) *mesh.ServiceInstance {
	if len(instances) == 0 {
		return nil
	}
	s.mu.Lock()
	idx := s.rand.Intn(len(instances))
	s.mu.Unlock()
	return instances[idx]
}

// virtualCopies is the weight expansion shared by weighted round-robin and
// the consistent-hash ring.
func virtualCopies(weight int) int {
	copies := weight / 10
	if copies < 1 {
		copies = 1
	}
	return copies
}
