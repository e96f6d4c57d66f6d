package proxy

// Config is the reverse proxy's top-level configuration
// (hr-proxy/src/config.rs::ProxyConfig).
type Config struct {
	HTTPPort             int           `json:"http_port"`
	HTTPSPort            int           `json:"https_port"`
	BaseDomain           string        `json:"base_domain"`
	TLSMode              string        `json:"tls_mode"`
	CAStoragePath        string        `json:"ca_storage_path"`
	Routes               []RouteConfig `json:"routes"`
	AccessLogPath        string        `json:"access_log_path,omitempty"`
	BackendDialTimeoutMS int           `json:"backend_dial_timeout_ms,omitempty"`
}

// DefaultConfig returns the documented defaults (hr-proxy/src/config.rs).
func DefaultConfig() Config {
	return Config{
		HTTPPort:             80,
		HTTPSPort:            443,
		TLSMode:              "local-ca",
		CAStoragePath:        "/var/lib/homeroute/ca",
		BackendDialTimeoutMS: 30_000,
	}
}

// RouteConfig is one proxied domain (hr-proxy/src/config.rs::RouteConfig).
// AllowedGroups supplements the distilled shape: the forward-auth check
// (hr-auth/src/forward_auth.rs::check_forward_auth) takes an allowed-groups
// list per call, so each auth-requiring route carries its own.
type RouteConfig struct {
	ID            string   `json:"id"`
	Domain        string   `json:"domain"`
	Backend       string   `json:"backend"`
	TargetHost    string   `json:"target_host"`
	TargetPort    int      `json:"target_port"`
	LocalOnly     bool     `json:"local_only"`
	RequireAuth   bool     `json:"require_auth"`
	Enabled       bool     `json:"enabled"`
	CertID        string   `json:"cert_id,omitempty"`
	AllowedGroups []string `json:"allowed_groups,omitempty"`
}

// activeRoutes returns only the enabled routes.
func activeRoutes(routes []RouteConfig) []RouteConfig {
	out := make([]RouteConfig, 0, len(routes))
	for _, r := range routes {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

// routesByDomain indexes the active routes by domain, last write wins for
// duplicate domains (matching the original's HashMap collection).
func routesByDomain(routes []RouteConfig) map[string]RouteConfig {
	m := make(map[string]RouteConfig, len(routes))
	for _, r := range activeRoutes(routes) {
		m[r.Domain] = r
	}
	return m
}
