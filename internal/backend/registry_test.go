package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stub(id string, role Role, unavailable bool) *Func {
	return &Func{
		BackendID:   id,
		BackendRole: role,
		Unavailable: unavailable,
		Fn: func(ctx context.Context, req *Request) (*Response, error) {
			return &Response{Output: "ok", RawConfidence: 0.9}, nil
		},
	}
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stub("a", RoleFastExecutor, false)))
	require.NoError(t, r.Register(stub("b", RoleFastExecutor, false)))

	err := r.Register(stub("a", RoleDeepExecutor, false))
	assert.Error(t, err, "duplicate id must be rejected even under a different role")
	assert.Equal(t, 2, r.Count())
}

func TestRegistryForRole(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stub("a", RoleEnsembleMember, false)))
	require.NoError(t, r.Register(stub("b", RoleEnsembleMember, false)))
	require.NoError(t, r.Register(stub("c", RoleClassifier, false)))

	members := r.ForRole(RoleEnsembleMember)
	require.Len(t, members, 2)
	assert.Equal(t, "a", members[0].ID(), "priority order is registration order")

	// Mutating the returned slice must not affect the registry.
	members[0] = nil
	again := r.ForRole(RoleEnsembleMember)
	assert.Equal(t, "a", again[0].ID())
}

func TestRegistryFirstAvailable(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stub("down", RoleDeepExecutor, true)))
	require.NoError(t, r.Register(stub("up", RoleDeepExecutor, false)))

	b, err := r.FirstAvailable(RoleDeepExecutor)
	require.NoError(t, err)
	assert.Equal(t, "up", b.ID())

	_, err = r.FirstAvailable(RoleCriticalValidator)
	assert.ErrorIs(t, err, ErrNoBackend)
}

func TestRegistryGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stub("a", RoleClassifier, false)))

	b, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, RoleClassifier, b.Role())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}
