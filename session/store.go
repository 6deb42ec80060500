package session

import (
	"context"
	"sync"

	"github.com/acgov/go-mesh/mesh"
)

// Store persists governance sessions. Implementations must return
// mesh.ErrSessionNotFound for unknown or expired session IDs.
type Store interface {
	Put(ctx context.Context, s *GovernanceSession) error
	Get(ctx context.Context, sessionID string) (*GovernanceSession, error)
	Delete(ctx context.Context, sessionID string) error
	// List returns every stored session; used by the expiry sweep.
	List(ctx context.Context) ([]*GovernanceSession, error)
	Close() error
}

// MemoryStore is the in-process store used in tests, development, and as
// the fallback when Redis is not configured.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*GovernanceSession
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*GovernanceSession)}
}

// Put stores a deep-enough copy so later caller mutations cannot leak in.
func (s *MemoryStore) Put(_ context.Context, sess *GovernanceSession) error {
	s.mu.Lock()
	s.sessions[sess.SessionID] = cloneSession(sess)
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the stored session.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (*GovernanceSession, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, mesh.ErrSessionNotFound
	}
	return cloneSession(sess), nil
}

// Delete removes a session; deleting an unknown ID is not an error.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

// List returns copies of all stored sessions.
func (s *MemoryStore) List(_ context.Context) ([]*GovernanceSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*GovernanceSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, cloneSession(sess))
	}
	return out, nil
}

// Close is a no-op for the in-process store.
func (s *MemoryStore) Close() error { return nil }

func cloneSession(in *GovernanceSession) *GovernanceSession {
	out := *in
	if in.CompletedSteps != nil {
		out.CompletedSteps = append([]CompletedStep{}, in.CompletedSteps...)
	}
	if in.ServiceAffinities != nil {
		out.ServiceAffinities = make(map[mesh.ServiceType]string, len(in.ServiceAffinities))
		for k, v := range in.ServiceAffinities {
			out.ServiceAffinities[k] = v
		}
	}
	if in.Metadata != nil {
		out.Metadata = make(map[string]string, len(in.Metadata))
		for k, v := range in.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

var _ Store = (*MemoryStore)(nil)
