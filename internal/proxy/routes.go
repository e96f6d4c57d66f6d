package proxy

import "sync/atomic"

// RouteTable is an immutable snapshot of the active routes, indexed by
// domain. Readers hold a reference via Load; Store atomically swaps in a
// new snapshot so in-flight requests keep running against the table they
// started with (spec.md §4.5 "Hot-reload").
type RouteTable struct {
	ptr atomic.Pointer[map[string]RouteConfig]
}

// NewRouteTable builds a RouteTable from the given routes.
func NewRouteTable(routes []RouteConfig) *RouteTable {
	rt := &RouteTable{}
	rt.Store(routes)
	return rt
}

// Store atomically replaces the route set.
func (rt *RouteTable) Store(routes []RouteConfig) {
	m := routesByDomain(routes)
	rt.ptr.Store(&m)
}

// Lookup finds the route for domain (already lowercased, port stripped).
func (rt *RouteTable) Lookup(domain string) (RouteConfig, bool) {
	m := rt.ptr.Load()
	if m == nil {
		return RouteConfig{}, false
	}
	r, ok := (*m)[domain]
	return r, ok
}

// All returns every currently active route.
func (rt *RouteTable) All() []RouteConfig {
	m := rt.ptr.Load()
	if m == nil {
		return nil
	}
	out := make([]RouteConfig, 0, len(*m))
	for _, r := range *m {
		out = append(out, r)
	}
	return out
}
