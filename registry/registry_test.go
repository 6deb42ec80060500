package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/acgov/go-mesh/logger"
	"github.com/acgov/go-mesh/mesh"
)

// fakeTarget records registrations the way the discovery inventory would.
type fakeTarget struct {
	instances map[string]*mesh.ServiceInstance
	failNext  error
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{instances: make(map[string]*mesh.ServiceInstance)}
}

func (t *fakeTarget) key(serviceType mesh.ServiceType, instanceID string) string {
	return fmt.Sprintf("%s/%s", serviceType, instanceID)
}

func (t *fakeTarget) AddServiceInstance(inst *mesh.ServiceInstance) error {
	if t.failNext != nil {
		err := t.failNext
		t.failNext = nil
		return err
	}
	k := t.key(inst.ServiceType, inst.InstanceID)
	if _, exists := t.instances[k]; exists {
		return mesh.ErrDuplicateInstance
	}
	t.instances[k] = inst
	return nil
}

func (t *fakeTarget) RemoveServiceInstance(serviceType mesh.ServiceType, instanceID string) error {
	k := t.key(serviceType, instanceID)
	if _, exists := t.instances[k]; !exists {
		return mesh.ErrInstanceNotFound
	}
	delete(t.instances, k)
	return nil
}

func TestStaticSource_LoadRegistersConfiguredInstances(t *testing.T) {
	src := NewStaticSource(StaticConfig{
		Services: map[string][]InstanceDescriptor{
			"auth": {
				{InstanceID: "auth-1", BaseURL: "http://localhost", Port: 8000, Weight: 200, Priority: 1},
				{InstanceID: "auth-2", BaseURL: "http://localhost", Port: 8010, Priority: 2},
			},
			"pgc": {
				{InstanceID: "pgc-1", BaseURL: "http://localhost", Port: 8005, HealthURL: "/api/health"},
			},
		},
	})
	target := newFakeTarget()

	require.NoError(t, src.Load(context.Background(), target))
	require.Len(t, target.instances, 3)

	auth1 := target.instances["auth/auth-1"]
	require.NotNil(t, auth1)
	assert.Equal(t, 200, auth1.Weight)
	assert.Equal(t, 1, auth1.Priority)
	assert.Equal(t, "/health", auth1.HealthURL)

	auth2 := target.instances["auth/auth-2"]
	require.NotNil(t, auth2)
	assert.Equal(t, mesh.DefaultWeight, auth2.Weight)
	assert.Equal(t, 2, auth2.Priority)

	pgc1 := target.instances["pgc/pgc-1"]
	require.NotNil(t, pgc1)
	assert.Equal(t, "/api/health", pgc1.HealthURL)
}

func TestStaticSource_GeneratesInstanceIDs(t *testing.T) {
	src := NewStaticSource(StaticConfig{
		Services: map[string][]InstanceDescriptor{
			"gs": {
				{BaseURL: "http://localhost", Port: 8004},
				{BaseURL: "http://localhost", Port: 8014},
			},
		},
	})
	target := newFakeTarget()

	require.NoError(t, src.Load(context.Background(), target))
	assert.Contains(t, target.instances, "gs/gs-1")
	assert.Contains(t, target.instances, "gs/gs-2")
}

func TestStaticSource_RejectsUnknownServiceType(t *testing.T) {
	src := NewStaticSource(StaticConfig{
		Services: map[string][]InstanceDescriptor{
			"billing": {{InstanceID: "b-1", BaseURL: "http://localhost", Port: 9000}},
		},
	})

	err := src.Load(context.Background(), newFakeTarget())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown service type")
}

func TestStaticSource_RejectsMissingBaseURL(t *testing.T) {
	src := NewStaticSource(StaticConfig{
		Services: map[string][]InstanceDescriptor{
			"fv": {{InstanceID: "fv-1", Port: 8003}},
		},
	})

	err := src.Load(context.Background(), newFakeTarget())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no base_url")
}

func TestSplitInstanceKey(t *testing.T) {
	serviceType, instanceID, err := splitInstanceKey("/mesh/services/auth/auth-1")
	require.NoError(t, err)
	assert.Equal(t, mesh.ServiceAuth, serviceType)
	assert.Equal(t, "auth-1", instanceID)

	_, _, err = splitInstanceKey("/other/prefix/auth/auth-1")
	assert.Error(t, err)

	_, _, err = splitInstanceKey("/mesh/services/auth")
	assert.Error(t, err)

	_, _, err = splitInstanceKey("/mesh/services/billing/b-1")
	assert.Error(t, err)
}

func TestParseInstance(t *testing.T) {
	value, err := json.Marshal(InstanceDescriptor{
		BaseURL:  "http://10.0.0.7",
		Port:     8005,
		Weight:   150,
		Priority: 2,
		Metadata: map[string]string{"zone": "eu-1"},
	})
	require.NoError(t, err)

	inst, err := parseInstance("/mesh/services/pgc/pgc-7", value)
	require.NoError(t, err)
	assert.Equal(t, mesh.ServicePGC, inst.ServiceType)
	assert.Equal(t, "pgc-7", inst.InstanceID)
	assert.Equal(t, "http://10.0.0.7:8005", inst.URL())
	assert.Equal(t, 150, inst.Weight)
	assert.Equal(t, 2, inst.Priority)
	assert.Equal(t, "eu-1", inst.Metadata["zone"])

	_, err = parseInstance("/mesh/services/pgc/pgc-8", []byte("not json"))
	assert.Error(t, err)

	_, err = parseInstance("/mesh/services/pgc/pgc-9", []byte(`{"port": 8005}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no base_url")
}

func putEvent(key string, d InstanceDescriptor) *clientv3.Event {
	value, _ := json.Marshal(d)
	return &clientv3.Event{
		Type: clientv3.EventTypePut,
		Kv:   &mvccpb.KeyValue{Key: []byte(key), Value: value},
	}
}

func deleteEvent(key string) *clientv3.Event {
	return &clientv3.Event{
		Type: clientv3.EventTypeDelete,
		Kv:   &mvccpb.KeyValue{Key: []byte(key)},
	}
}

func testEtcdSource() *EtcdSource {
	ctx, cancel := context.WithCancel(context.Background())
	return &EtcdSource{ctx: ctx, cancel: cancel}
}

func TestHandleWatchEvents_PutRegistersInstance(t *testing.T) {
	src := testEtcdSource()
	defer src.cancel()
	src.log = logger.NewNopLogger()
	target := newFakeTarget()

	src.handleWatchEvents(target, []*clientv3.Event{
		putEvent("/mesh/services/ac/ac-1", InstanceDescriptor{BaseURL: "http://localhost", Port: 8001}),
	})

	require.Contains(t, target.instances, "ac/ac-1")
	assert.Equal(t, mesh.ServiceAC, target.instances["ac/ac-1"].ServiceType)
}

func TestHandleWatchEvents_PutReplacesExistingRecord(t *testing.T) {
	src := testEtcdSource()
	defer src.cancel()
	src.log = logger.NewNopLogger()
	target := newFakeTarget()

	src.handleWatchEvents(target, []*clientv3.Event{
		putEvent("/mesh/services/ac/ac-1", InstanceDescriptor{BaseURL: "http://localhost", Port: 8001, Weight: 100}),
		putEvent("/mesh/services/ac/ac-1", InstanceDescriptor{BaseURL: "http://localhost", Port: 8001, Weight: 300}),
	})

	require.Contains(t, target.instances, "ac/ac-1")
	assert.Equal(t, 300, target.instances["ac/ac-1"].Weight)
}

func TestHandleWatchEvents_DeleteRemovesInstance(t *testing.T) {
	src := testEtcdSource()
	defer src.cancel()
	src.log = logger.NewNopLogger()
	target := newFakeTarget()

	src.handleWatchEvents(target, []*clientv3.Event{
		putEvent("/mesh/services/ec/ec-1", InstanceDescriptor{BaseURL: "http://localhost", Port: 8006}),
		deleteEvent("/mesh/services/ec/ec-1"),
	})

	assert.Empty(t, target.instances)
}

func TestHandleWatchEvents_SkipsMalformedRecords(t *testing.T) {
	src := testEtcdSource()
	defer src.cancel()
	src.log = logger.NewNopLogger()
	target := newFakeTarget()

	src.handleWatchEvents(target, []*clientv3.Event{
		{
			Type: clientv3.EventTypePut,
			Kv:   &mvccpb.KeyValue{Key: []byte("/mesh/services/fv/fv-1"), Value: []byte("garbage")},
		},
		deleteEvent("/mesh/services/fv/never-registered"),
		putEvent("/mesh/services/fv/fv-2", InstanceDescriptor{BaseURL: "http://localhost", Port: 8003}),
	})

	assert.Len(t, target.instances, 1)
	assert.Contains(t, target.instances, "fv/fv-2")
}
