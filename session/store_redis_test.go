package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acgov/go-mesh/mesh"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := NewRedisStore(context.Background(), RedisConfig{Addr: mr.Addr(), TTL: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStore_PutGetRoundTrip(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	sess := &GovernanceSession{
		SessionID:    "sess-1",
		WorkflowType: WorkflowPolicySynthesis,
		State:        StateActive,
		CreatedAt:    time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC),
		LastActivity: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC),
		ServiceAffinities: map[mesh.ServiceType]string{
			mesh.ServiceAuth: "auth-1",
		},
		CompletedSteps: []CompletedStep{
			{Name: "collect", Duration: 3 * time.Second, CompletedAt: time.Date(2026, 1, 10, 12, 0, 3, 0, time.UTC)},
		},
	}
	require.NoError(t, store.Put(ctx, sess))

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, sess.WorkflowType, got.WorkflowType)
	assert.Equal(t, sess.State, got.State)
	assert.Equal(t, "auth-1", got.ServiceAffinities[mesh.ServiceAuth])
	require.Len(t, got.CompletedSteps, 1)
	assert.Equal(t, 3*time.Second, got.CompletedSteps[0].Duration)
}

func TestRedisStore_GetUnknownID(t *testing.T) {
	store, _ := newRedisStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, mesh.ErrSessionNotFound)
}

func TestRedisStore_KeyExpiresAfterTTL(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &GovernanceSession{SessionID: "sess-1", State: StateActive}))

	mr.FastForward(2 * time.Hour)

	_, err := store.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, mesh.ErrSessionNotFound)
}

func TestRedisStore_ListAndDelete(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &GovernanceSession{SessionID: "sess-1", State: StateActive}))
	require.NoError(t, store.Put(ctx, &GovernanceSession{SessionID: "sess-2", State: StateSuspended}))

	sessions, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	require.NoError(t, store.Delete(ctx, "sess-1"))
	sessions, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess-2", sessions[0].SessionID)
}

func TestManagerOnRedisStore(t *testing.T) {
	store, _ := newRedisStore(t)
	m := NewManager(store, Config{SessionTTL: time.Hour}, nil)
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, WorkflowFormalVerification, nil)
	require.NoError(t, err)
	require.NoError(t, m.SetServiceAffinity(ctx, sess.SessionID, mesh.ServiceFV, "fv-0"))

	got, err := m.GetServiceAffinity(ctx, sess.SessionID, mesh.ServiceFV)
	require.NoError(t, err)
	assert.Equal(t, "fv-0", got)
}
