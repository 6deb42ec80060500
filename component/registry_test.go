package component

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeComponent struct {
	name    string
	deps    []string
	mu      *sync.Mutex
	events  *[]string
	initErr error
}

func (f *fakeComponent) Name() string        { return f.name }
func (f *fakeComponent) DependsOn() []string { return f.deps }

func (f *fakeComponent) Init(ctx context.Context, loader ConfigLoader) error {
	f.record("init:" + f.name)
	return f.initErr
}

func (f *fakeComponent) Start(ctx context.Context) error {
	f.record("start:" + f.name)
	return nil
}

func (f *fakeComponent) Stop(ctx context.Context) error {
	f.record("stop:" + f.name)
	return nil
}

func (f *fakeComponent) record(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*f.events = append(*f.events, event)
}

func newFake(name string, mu *sync.Mutex, events *[]string, deps ...string) *fakeComponent {
	return &fakeComponent{name: name, deps: deps, mu: mu, events: events}
}

func indexOf(events []string, target string) int {
	for i, e := range events {
		if e == target {
			return i
		}
	}
	return -1
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	var mu sync.Mutex
	var events []string

	r := NewRegistry()
	require.NoError(t, r.Register(newFake("discovery", &mu, &events)))
	assert.Error(t, r.Register(newFake("discovery", &mu, &events)))
}

func TestRegistry_ResolveOrder(t *testing.T) {
	var mu sync.Mutex
	var events []string

	r := NewRegistry()
	require.NoError(t, r.Register(newFake("monitor", &mu, &events, "discovery")))
	require.NoError(t, r.Register(newFake("discovery", &mu, &events)))
	require.NoError(t, r.Register(newFake("orchestrator", &mu, &events, "discovery", "monitor")))

	require.NoError(t, r.Init(context.Background(), nil))

	discovery := indexOf(events, "init:discovery")
	monitor := indexOf(events, "init:monitor")
	orch := indexOf(events, "init:orchestrator")
	assert.Less(t, discovery, monitor)
	assert.Less(t, monitor, orch)
}

func TestRegistry_MissingDependency(t *testing.T) {
	var mu sync.Mutex
	var events []string

	r := NewRegistry()
	require.NoError(t, r.Register(newFake("monitor", &mu, &events, "discovery")))

	_, err := r.Resolve()
	assert.ErrorContains(t, err, "unregistered")
}

func TestRegistry_OptionalDependencySkipped(t *testing.T) {
	var mu sync.Mutex
	var events []string

	r := NewRegistry()
	require.NoError(t, r.Register(newFake("session", &mu, &events, "optional:redis")))

	comps, err := r.Resolve()
	require.NoError(t, err)
	assert.Len(t, comps, 1)
}

func TestRegistry_CycleDetected(t *testing.T) {
	var mu sync.Mutex
	var events []string

	r := NewRegistry()
	require.NoError(t, r.Register(newFake("a", &mu, &events, "b")))
	require.NoError(t, r.Register(newFake("b", &mu, &events, "a")))

	_, err := r.Resolve()
	assert.ErrorContains(t, err, "cycle")
}

func TestRegistry_StopReverseOrder(t *testing.T) {
	var mu sync.Mutex
	var events []string

	r := NewRegistry()
	require.NoError(t, r.Register(newFake("discovery", &mu, &events)))
	require.NoError(t, r.Register(newFake("monitor", &mu, &events, "discovery")))

	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Stop(context.Background()))

	assert.Less(t, indexOf(events, "stop:monitor"), indexOf(events, "stop:discovery"))
}
