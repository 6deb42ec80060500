// Package affinity provides the in-process TTL map that pins a session key
// to a previously selected instance. The externally persisted analogue for
// multi-step workflows lives in package session.
package affinity

import (
	"sync"
	"time"

	"github.com/acgov/go-mesh/mesh"
)

// DefaultTTL is applied when the manager is created with a non-positive TTL.
const DefaultTTL = 30 * time.Minute

type entry struct {
	instanceID string
	expiresAt  time.Time
}

type key struct {
	sessionID   string
	serviceType mesh.ServiceType
}

// Manager maps (sessionID, serviceType) to an instance ID with TTL expiry.
// Entries are dropped lazily on read and in bulk by Sweep.
type Manager struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[key]entry

	now func() time.Time // test hook
}

// NewManager creates an affinity manager with the given entry TTL.
func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		ttl:     ttl,
		entries: make(map[key]entry),
		now:     time.Now,
	}
}

// Set records or refreshes the affinity for a session and service type.
func (m *Manager) Set(sessionID string, serviceType mesh.ServiceType, instanceID string) {
	if sessionID == "" || instanceID == "" {
		return
	}
	m.mu.Lock()
	m.entries[key{sessionID, serviceType}] = entry{
		instanceID: instanceID,
		expiresAt:  m.now().Add(m.ttl),
	}
	m.mu.Unlock()
}

// Get returns the pinned instance ID, or "" if no live affinity exists.
// An expired entry is removed on the spot.
func (m *Manager) Get(sessionID string, serviceType mesh.ServiceType) string {
	k := key{sessionID, serviceType}

	m.mu.RLock()
	e, ok := m.entries[k]
	m.mu.RUnlock()
	if !ok {
		return ""
	}
	if m.now().After(e.expiresAt) {
		m.mu.Lock()
		// Re-check under the write lock; Set may have refreshed it.
		if cur, ok := m.entries[k]; ok && m.now().After(cur.expiresAt) {
			delete(m.entries, k)
		}
		m.mu.Unlock()
		return ""
	}
	return e.instanceID
}

// Remove drops a single affinity entry.
func (m *Manager) Remove(sessionID string, serviceType mesh.ServiceType) {
	m.mu.Lock()
	delete(m.entries, key{sessionID, serviceType})
	m.mu.Unlock()
}

// RemoveSession drops every affinity held by a session.
func (m *Manager) RemoveSession(sessionID string) {
	m.mu.Lock()
	for k := range m.entries {
		if k.sessionID == sessionID {
			delete(m.entries, k)
		}
	}
	m.mu.Unlock()
}

// RemoveInstance drops every affinity pointing at an instance. Called when
// discovery removes the instance so stale pins cannot outlive it.
func (m *Manager) RemoveInstance(serviceType mesh.ServiceType, instanceID string) {
	m.mu.Lock()
	for k, e := range m.entries {
		if k.serviceType == serviceType && e.instanceID == instanceID {
			delete(m.entries, k)
		}
	}
	m.mu.Unlock()
}

// Sweep removes all expired entries and returns how many were dropped.
func (m *Manager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
			dropped++
		}
	}
	return dropped
}

// Len reports the number of live plus not-yet-swept entries.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
