package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/botdetect/internal/core"
)

func policy(name string) *core.DetectionPolicy {
	return &core.DetectionPolicy{Name: name}
}

func TestRegistry_ExactMatchBeatsWildcard(t *testing.T) {
	routes := []Route{
		{Pattern: "/api/**", Policy: policy("api-catchall")},
		{Pattern: "/api/login", Policy: policy("login-exact")},
	}
	reg := NewRegistry(routes, nil, policy("default"))

	got := reg.Resolve("/api/login")
	require.NotNil(t, got)
	assert.Equal(t, "login-exact", got.Name)
}

func TestRegistry_SingleSegmentWildcard(t *testing.T) {
	routes := []Route{
		{Pattern: "/users/*", Policy: policy("users-one-segment")},
	}
	reg := NewRegistry(routes, nil, policy("default"))

	assert.Equal(t, "users-one-segment", reg.Resolve("/users/42").Name)
	assert.Equal(t, "default", reg.Resolve("/users/42/orders").Name, "two segments should not match /*")
	assert.Equal(t, "default", reg.Resolve("/users").Name, "bare prefix should not match /*")
}

func TestRegistry_DoubleStarMatchesAnyDepth(t *testing.T) {
	routes := []Route{
		{Pattern: "/admin/**", Policy: policy("admin-any")},
	}
	reg := NewRegistry(routes, nil, policy("default"))

	assert.Equal(t, "admin-any", reg.Resolve("/admin").Name)
	assert.Equal(t, "admin-any", reg.Resolve("/admin/users").Name)
	assert.Equal(t, "admin-any", reg.Resolve("/admin/users/42/ban").Name)
}

func TestRegistry_NoMatchFallsBackToDefault(t *testing.T) {
	routes := []Route{{Pattern: "/api/login", Policy: policy("login")}}
	reg := NewRegistry(routes, nil, policy("default"))

	assert.Equal(t, "default", reg.Resolve("/checkout").Name)
}

func TestRegistry_LongestLiteralPrefixWins(t *testing.T) {
	routes := []Route{
		{Pattern: "/api/**", Policy: policy("api-wide")},
		{Pattern: "/api/v2/**", Policy: policy("api-v2")},
	}
	reg := NewRegistry(routes, nil, policy("default"))

	assert.Equal(t, "api-v2", reg.Resolve("/api/v2/orders").Name)
	assert.Equal(t, "api-wide", reg.Resolve("/api/v1/orders").Name)
}

func TestRegistry_ActionPolicyLookup(t *testing.T) {
	action := &core.ActionPolicy{Name: "block-hard", Type: core.ActionBlock}
	reg := NewRegistry(nil, []*core.ActionPolicy{action}, policy("default"))

	got, ok := reg.ActionPolicy("block-hard")
	require.True(t, ok)
	assert.Equal(t, core.ActionBlock, got.Type)

	_, ok = reg.ActionPolicy("missing")
	assert.False(t, ok)
}

func TestRegistry_ReloadSwapsSnapshotAtomically(t *testing.T) {
	reg := NewRegistry([]Route{{Pattern: "/x", Policy: policy("v1")}}, nil, policy("default"))
	assert.Equal(t, "v1", reg.Resolve("/x").Name)

	reg.Reload([]Route{{Pattern: "/x", Policy: policy("v2")}}, nil, policy("default"))
	assert.Equal(t, "v2", reg.Resolve("/x").Name)
}

func TestRegistry_EmptyRegistryReturnsDefault(t *testing.T) {
	reg := NewRegistry(nil, nil, policy("default"))
	assert.Equal(t, "default", reg.Resolve("/anything").Name)
}
