package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localplatform/homeroute/internal/agent"
	"github.com/localplatform/homeroute/internal/proxy"
)

func newTestRegistry(t *testing.T) *agent.Registry {
	t.Helper()
	reg, err := agent.NewRegistry(t.TempDir(), nil)
	require.NoError(t, err)
	return reg
}

func TestReconcileRoutesIncludesStaticRoutes(t *testing.T) {
	reg := newTestRegistry(t)
	static := []proxy.RouteConfig{{ID: "static", Domain: "nas.home.arpa", TargetHost: "192.168.1.10", TargetPort: 443, Enabled: true}}

	routes := reconcileRoutes(reg, static)

	require.Len(t, routes, 1)
	assert.Equal(t, "static", routes[0].ID)
}

func TestReconcileRoutesSkipsDisconnectedAgents(t *testing.T) {
	reg := newTestRegistry(t)
	a, err := reg.Register("blog", "blog-container", "token123")
	require.NoError(t, err)
	a.Status = agent.StatusDisconnected
	a.Routes = []agent.Route{{Domain: "blog.home.arpa", TargetPort: 8080}}

	routes := reconcileRoutes(reg, nil)

	assert.Empty(t, routes)
}

func TestReconcileRoutesUsesContainerNameAsTargetHost(t *testing.T) {
	reg := newTestRegistry(t)
	a, err := reg.Register("blog", "blog-container", "token123")
	require.NoError(t, err)
	a.Status = agent.StatusConnected
	a.Routes = []agent.Route{{Domain: "blog.home.arpa", TargetPort: 8080, AuthRequired: true, AllowedGroups: []string{"family"}}}

	routes := reconcileRoutes(reg, nil)

	require.Len(t, routes, 1)
	r := routes[0]
	assert.Equal(t, "blog.home.arpa", r.Domain)
	assert.Equal(t, "blog-container", r.TargetHost)
	assert.Equal(t, 8080, r.TargetPort)
	assert.True(t, r.RequireAuth)
	assert.Equal(t, []string{"family"}, r.AllowedGroups)
	assert.True(t, r.Enabled)
}

func TestReconcileRoutesCombinesStaticAndAgentRoutes(t *testing.T) {
	reg := newTestRegistry(t)
	a, err := reg.Register("blog", "blog-container", "token123")
	require.NoError(t, err)
	a.Status = agent.StatusConnected
	a.Routes = []agent.Route{{Domain: "blog.home.arpa", TargetPort: 8080}}

	static := []proxy.RouteConfig{{ID: "static", Domain: "nas.home.arpa", TargetHost: "192.168.1.10", TargetPort: 443, Enabled: true}}
	routes := reconcileRoutes(reg, static)

	require.Len(t, routes, 2)
}
