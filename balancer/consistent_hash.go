package balancer

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/acgov/go-mesh/mesh"
)

// ConsistentHash maps a session key to a stable instance via a hash ring.
// Each instance contributes max(1, weight/10) virtual points. The ring is
// rebuilt lazily when the instance set for a service type changes.
type ConsistentHash struct {
	mu    sync.Mutex
	rings map[mesh.ServiceType]*hashRing
}

type hashRing struct {
	signature string
	points    []ringPoint
}

type ringPoint struct {
	hash     uint64
	instance *mesh.ServiceInstance
}

// NewConsistentHash creates a consistent-hash strategy.
func NewConsistentHash() *ConsistentHash {
	return &ConsistentHash{rings: make(map[mesh.ServiceType]*hashRing)}
}

// Name returns the strategy name.
func (s *ConsistentHash) Name() string { return StrategyConsistentHash }

// Select returns the ring owner of key. An empty key falls back to the
// first candidate so callers without a session still get an instance.
func (s *ConsistentHash) Select(serviceType mesh.ServiceType, instances []*mesh.ServiceInstance, key string) *mesh.ServiceInstance {
	if len(instances) == 0 {
		return nil
	}
	if key == "" {
		return instances[0]
	}

	s.mu.Lock()
	ring := s.ringFor(serviceType, instances)
	s.mu.Unlock()

	h := hashKey(key)
	idx := sort.Search(len(ring.points), func(i int) bool {
		return ring.points[i].hash >= h
	})
	if idx == len(ring.points) {
		idx = 0
	}
	return ring.points[idx].instance
}

func (s *ConsistentHash) ringFor(serviceType mesh.ServiceType, instances []*mesh.ServiceInstance) *hashRing {
	sig := ringSignature(instances)
	if ring, ok := s.rings[serviceType]; ok && ring.signature == sig {
		return ring
	}

	ring := &hashRing{signature: sig}
	for _, inst := range instances {
		copies := virtualCopies(inst.Weight)
		for i := 0; i < copies; i++ {
			ring.points = append(ring.points, ringPoint{
				hash:     hashKey(fmt.Sprintf("%s:%d", inst.InstanceID, i)),
				instance: inst,
			})
		}
	}
	sort.Slice(ring.points, func(i, j int) bool {
		return ring.points[i].hash < ring.points[j].hash
	})
	s.rings[serviceType] = ring
	return ring
}

// ringSignature identifies the candidate set independent of order.
func ringSignature(instances []*mesh.ServiceInstance) string {
	ids := make([]string, len(instances))
	for i, inst := range instances {
		ids[i] = inst.InstanceID
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

func hashKey(key string) uint64 {
	sum := sha256.Sum256([]byte(key))
	return binary.BigEndian.Uint64(sum[:8])
}
