// Package balancer implements instance selection strategies. Strategies are
// pure selection over a candidate list; the only owned state is small
// per-service-type counters and hash rings.
package balancer

import (
	"github.com/acgov/go-mesh/mesh"
)

// Strategy names.
const (
	StrategyRoundRobin         = "round_robin"
	StrategyLeastConnections   = "least_connections"
	StrategyWeightedRoundRobin = "weighted_round_robin"
	StrategyLeastResponseTime  = "least_response_time"
	StrategyConsistentHash     = "consistent_hash"
	StrategyRandom             = "random"
)

// DefaultStrategy is used when the caller does not request one.
const DefaultStrategy = StrategyLeastResponseTime

// Strategy selects one instance from a candidate list. key carries the hash
// key for consistent hashing and is ignored by other strategies. A nil
// return means no candidate is selectable; callers must handle it.
type Strategy interface {
	Name() string
	Select(serviceType mesh.ServiceType, instances []*mesh.ServiceInstance, key string) *mesh.ServiceInstance
}

// Balancer is the strategy registry. Adding a strategy is a closed,
// testable operation: implement Strategy and register it here.
type Balancer struct {
	strategies map[string]Strategy
}

// New creates a balancer with all built-in strategies registered.
func New() *Balancer {
	b := &Balancer{strategies: make(map[string]Strategy)}
	b.Register(NewRoundRobin())
	b.Register(NewLeastConnections())
	b.Register(NewWeightedRoundRobin())
	b.Register(NewLeastResponseTime())
	b.Register(NewConsistentHash())
	b.Register(NewRandom())
	return b
}

// Register adds or replaces a strategy.
func (b *Balancer) Register(s Strategy) {
	b.strategies[s.Name()] = s
}

// Strategy looks up a strategy by name.
func (b *Balancer) Strategy(name string) (Strategy, error) {
	if name == "" {
		name = DefaultStrategy
	}
	s, ok := b.strategies[name]
	if !ok {
		return nil, mesh.ErrUnknownStrategy
	}
	return s, nil
}

// Select runs the named strategy over the candidates.
func (b *Balancer) Select(strategyName string, serviceType mesh.ServiceType, instances []*mesh.ServiceInstance, key string) (*mesh.ServiceInstance, error) {
	s, err := b.Strategy(strategyName)
	if err != nil {
		return nil, err
	}
	return s.Select(serviceType, instances, key), nil
}
