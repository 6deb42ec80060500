package affinity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/acgov/go-mesh/mesh"
)

func newTestManager(ttl time.Duration) (*Manager, *time.Time) {
	m := NewManager(ttl)
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestAffinityReadYourWrites(t *testing.T) {
	m, _ := newTestManager(time.Minute)

	m.Set("sess-1", mesh.ServiceAuth, "auth-0")
	for i := 0; i < 10; i++ {
		assert.Equal(t, "auth-0", m.Get("sess-1", mesh.ServiceAuth))
	}
}

func TestAffinityIsScopedPerServiceType(t *testing.T) {
	m, _ := newTestManager(time.Minute)

	m.Set("sess-1", mesh.ServiceAuth, "auth-0")
	m.Set("sess-1", mesh.ServicePGC, "pgc-2")

	assert.Equal(t, "auth-0", m.Get("sess-1", mesh.ServiceAuth))
	assert.Equal(t, "pgc-2", m.Get("sess-1", mesh.ServicePGC))
	assert.Empty(t, m.Get("sess-1", mesh.ServiceGS))
}

func TestAffinityExpiresLazilyOnRead(t *testing.T) {
	m, now := newTestManager(time.Minute)

	m.Set("sess-1", mesh.ServiceAuth, "auth-0")
	*now = now.Add(2 * time.Minute)

	assert.Empty(t, m.Get("sess-1", mesh.ServiceAuth))
	assert.Equal(t, 0, m.Len())
}

func TestAffinitySetRefreshesTTL(t *testing.T) {
	m, now := newTestManager(time.Minute)

	m.Set("sess-1", mesh.ServiceAuth, "auth-0")
	*now = now.Add(45 * time.Second)
	m.Set("sess-1", mesh.ServiceAuth, "auth-0")
	*now = now.Add(45 * time.Second)

	assert.Equal(t, "auth-0", m.Get("sess-1", mesh.ServiceAuth))
}

func TestSweepDropsOnlyExpiredEntries(t *testing.T) {
	m, now := newTestManager(time.Minute)

	m.Set("old", mesh.ServiceAuth, "auth-0")
	*now = now.Add(50 * time.Second)
	m.Set("fresh", mesh.ServiceAuth, "auth-1")
	*now = now.Add(30 * time.Second)

	assert.Equal(t, 1, m.Sweep())
	assert.Empty(t, m.Get("old", mesh.ServiceAuth))
	assert.Equal(t, "auth-1", m.Get("fresh", mesh.ServiceAuth))
}

func TestRemoveSessionDropsAllServiceTypes(t *testing.T) {
	m, _ := newTestManager(time.Minute)

	m.Set("sess-1", mesh.ServiceAuth, "auth-0")
	m.Set("sess-1", mesh.ServiceAC, "ac-0")
	m.Set("sess-2", mesh.ServiceAuth, "auth-1")

	m.RemoveSession("sess-1")

	assert.Empty(t, m.Get("sess-1", mesh.ServiceAuth))
	assert.Empty(t, m.Get("sess-1", mesh.ServiceAC))
	assert.Equal(t, "auth-1", m.Get("sess-2", mesh.ServiceAuth))
}

func TestRemoveInstanceDropsStalePins(t *testing.T) {
	m, _ := newTestManager(time.Minute)

	m.Set("sess-1", mesh.ServiceAuth, "auth-0")
	m.Set("sess-2", mesh.ServiceAuth, "auth-0")
	m.Set("sess-3", mesh.ServiceAuth, "auth-1")

	m.RemoveInstance(mesh.ServiceAuth, "auth-0")

	assert.Empty(t, m.Get("sess-1", mesh.ServiceAuth))
	assert.Empty(t, m.Get("sess-2", mesh.ServiceAuth))
	assert.Equal(t, "auth-1", m.Get("sess-3", mesh.ServiceAuth))
}
