package discovery

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/gateway/internal/util"
)

func TestHealth_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "healthy", HealthHealthy.String())
	assert.Equal(t, "unhealthy", HealthUnhealthy.String())
	assert.Equal(t, "unknown", HealthUnknown.String())
	assert.Equal(t, "unknown", Health(42).String())
}

func TestParseHealth(t *testing.T) {
	t.Parallel()

	h, err := ParseHealth("healthy")
	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, h)

	h, err = ParseHealth("unhealthy")
	require.NoError(t, err)
	assert.Equal(t, HealthUnhealthy, h)

	_, err = ParseHealth("bogus")
	assert.Error(t, err)
}

func TestNewInstance_GeneratesID(t *testing.T) {
	t.Parallel()

	inst := NewInstance("", "vault", "10.0.0.1", 8200, HealthUnknown)
	assert.NotEmpty(t, inst.ID)
	assert.Equal(t, "http://10.0.0.1:8200", inst.URL())
}

func TestRegistry_Register(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	inst := NewInstance("vault-1", "vault", "10.0.0.1", 8200, HealthHealthy)
	require.NoError(t, r.Register(inst))

	instances := r.Instances("vault")
	require.Len(t, instances, 1)
	assert.Equal(t, "vault-1", instances[0].ID)
	assert.Equal(t, HealthHealthy, instances[0].Health())
}

func TestRegistry_Register_DuplicateID(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(NewInstance("x-1", "vault", "10.0.0.1", 8200, HealthHealthy)))

	// The same ID is rejected even under a different service.
	err := r.Register(NewInstance("x-1", "tasks", "10.0.0.2", 8300, HealthHealthy))
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrConflict))
	assert.Empty(t, r.Instances("tasks"))
}

func TestRegistry_Register_Validation(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	err := r.Register(NewInstance("a", "", "10.0.0.1", 80, HealthUnknown))
	assert.True(t, errors.Is(err, util.ErrInvalidInput))

	err = r.Register(NewInstance("b", "vault", "", 80, HealthUnknown))
	assert.True(t, errors.Is(err, util.ErrInvalidInput))
}

func TestRegistry_Deregister(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	inst := NewInstance("vault-1", "vault", "10.0.0.1", 8200, HealthHealthy)
	require.NoError(t, r.Register(inst))

	require.NoError(t, r.Deregister("vault-1"))
	assert.Empty(t, r.Instances("vault"))

	// Idempotent: deregistering again still succeeds.
	require.NoError(t, r.Deregister("vault-1"))
	require.NoError(t, r.Deregister("never-registered"))
}

func TestRegistry_UpdateHealth(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(NewInstance("vault-1", "vault", "10.0.0.1", 8200, HealthUnknown)))

	require.NoError(t, r.UpdateHealth("vault-1", HealthHealthy))
	inst, err := r.Get("vault-1")
	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, inst.Health())

	require.NoError(t, r.UpdateHealth("vault-1", HealthUnhealthy))
	assert.Equal(t, HealthUnhealthy, inst.Health())
}

func TestRegistry_UpdateHealth_Unknown(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	err := r.UpdateHealth("ghost", HealthHealthy)
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrNotFound))
}

func TestRegistry_Instances_RegistrationOrder(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("tasks-%d", i)
		require.NoError(t, r.Register(NewInstance(id, "tasks", "10.0.0.1", 8000+i, HealthHealthy)))
	}

	instances := r.Instances("tasks")
	require.Len(t, instances, 5)
	for i, inst := range instances {
		assert.Equal(t, fmt.Sprintf("tasks-%d", i), inst.ID)
	}
}

func TestRegistry_Services(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(NewInstance("v-1", "vault", "10.0.0.1", 1, HealthHealthy)))
	require.NoError(t, r.Register(NewInstance("t-1", "tasks", "10.0.0.2", 2, HealthHealthy)))
	require.NoError(t, r.Register(NewInstance("a-1", "analytics", "10.0.0.3", 3, HealthUnhealthy)))

	assert.Equal(t, []string{"analytics", "tasks", "vault"}, r.Services())

	require.NoError(t, r.Deregister("a-1"))
	assert.Equal(t, []string{"tasks", "vault"}, r.Services())
}

func TestRegistry_HealthSnapshot(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(NewInstance("v-1", "vault", "10.0.0.1", 1, HealthHealthy)))
	require.NoError(t, r.Register(NewInstance("v-2", "vault", "10.0.0.2", 1, HealthUnhealthy)))
	require.NoError(t, r.Register(NewInstance("t-1", "tasks", "10.0.0.3", 2, HealthUnhealthy)))

	snap := r.HealthSnapshot()
	assert.Equal(t, "degraded", snap.OverallStatus)
	assert.Equal(t, 1, snap.HealthyServices)
	assert.Equal(t, 2, snap.TotalServices)
	require.Len(t, snap.Services, 2)

	// Sorted by name: tasks first.
	assert.Equal(t, "tasks", snap.Services[0].Name)
	assert.Equal(t, "unhealthy", snap.Services[0].Status)
	assert.Equal(t, "vault", snap.Services[1].Name)
	assert.Equal(t, "healthy", snap.Services[1].Status)
	assert.Equal(t, 1, snap.Services[1].Healthy)
	assert.Equal(t, 2, snap.Services[1].Total)
	assert.False(t, snap.Timestamp.IsZero())
}

func TestRegistry_HealthSnapshot_Empty(t *testing.T) {
	t.Parallel()

	snap := NewRegistry().HealthSnapshot()
	assert.Equal(t, "unknown", snap.OverallStatus)
	assert.Zero(t, snap.TotalServices)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		id := fmt.Sprintf("inst-%d", i)
		go func(id string, i int) {
			defer wg.Done()
			_ = r.Register(NewInstance(id, fmt.Sprintf("svc-%d", i%5), "10.0.0.1", 80, HealthHealthy))
		}(id, i)
		go func(id string) {
			defer wg.Done()
			_ = r.UpdateHealth(id, HealthUnhealthy)
		}(id)
		go func(i int) {
			defer wg.Done()
			_ = r.Instances(fmt.Sprintf("svc-%d", i%5))
		}(i)
	}
	wg.Wait()

	total := 0
	for _, name := range r.Services() {
		total += len(r.Instances(name))
	}
	assert.Equal(t, 50, total)
}
