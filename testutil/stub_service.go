// Package testutil provides stub governance service instances for
// discovery, failover, and end-to-end tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/acgov/go-mesh/mesh"
)

// HealthResponse is the body a stub serves on its health endpoint.
type HealthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// StubService is one scriptable fake service instance. Its health endpoint
// behavior can be changed at any time from the test goroutine.
type StubService struct {
	Server *httptest.Server

	mu       sync.Mutex
	status   int
	body     HealthResponse
	latency  time.Duration
	requests int
}

// NewStubService starts a stub that reports healthy until scripted
// otherwise. It is shut down automatically when the test ends.
func NewStubService(t *testing.T) *StubService {
	t.Helper()
	s := &StubService{
		status: http.StatusOK,
		body:   HealthResponse{Status: "healthy"},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Server.Close)
	return s
}

func (s *StubService) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status := s.status
	body := s.body
	latency := s.latency
	s.requests++
	s.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// SetHealthy scripts a 200 healthy response.
func (s *StubService) SetHealthy() {
	s.script(http.StatusOK, HealthResponse{Status: "healthy"}, 0)
}

// SetUnhealthy scripts a 503 response.
func (s *StubService) SetUnhealthy() {
	s.script(http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy"}, 0)
}

// SetDegraded scripts a 200 response with a broken dependency.
func (s *StubService) SetDegraded(dependency, state string) {
	s.script(http.StatusOK, HealthResponse{
		Status:       "degraded",
		Dependencies: map[string]string{dependency: state},
	}, 0)
}

// SetLatency delays every response, for health-check timeout tests.
func (s *StubService) SetLatency(d time.Duration) {
	s.mu.Lock()
	s.latency = d
	s.mu.Unlock()
}

func (s *StubService) script(status int, body HealthResponse, latency time.Duration) {
	s.mu.Lock()
	s.status = status
	s.body = body
	s.latency = latency
	s.mu.Unlock()
}

// Requests returns how many health checks the stub has served.
func (s *StubService) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Instance builds a ServiceInstance pointing at the stub.
func (s *StubService) Instance(t *testing.T, serviceType mesh.ServiceType, instanceID string) *mesh.ServiceInstance {
	t.Helper()
	u, err := url.Parse(s.Server.URL)
	if err != nil {
		t.Fatalf("parse stub url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse stub port: %v", err)
	}
	return mesh.NewServiceInstance(serviceType, instanceID, u.Scheme+"://"+u.Hostname(), port, "/health")
}
