package config

// CurrentSchemaVersion is bumped whenever a Config block gains or loses a
// required field in an incompatible way.
const CurrentSchemaVersion = "1.0"

// Config is the top-level root daemon configuration (spec.md §9's
// "dynamic JSON configuration" note, expanded to the ambient HCL2 config
// layer grimm-is-glacic/internal/config.Config carries).
type Config struct {
	SchemaVersion string `hcl:"schema_version,optional" json:"schema_version,omitempty"`

	Network *Network `hcl:"network,block" json:"network,omitempty"`
	DHCP    *DHCP    `hcl:"dhcp,block" json:"dhcp,omitempty"`
	DNS     *DNS     `hcl:"dns,block" json:"dns,omitempty"`
	Adblock *Adblock `hcl:"adblock,block" json:"adblock,omitempty"`
	Proxy   *Proxy   `hcl:"proxy,block" json:"proxy,omitempty"`
	PKI     *PKI     `hcl:"pki,block" json:"pki,omitempty"`
	Agent   *Agent   `hcl:"agent,block" json:"agent,omitempty"`
	Relay   *Relay   `hcl:"relay,block" json:"relay,omitempty"`
	Metrics *Metrics `hcl:"metrics,block" json:"metrics,omitempty"`

	// StateDir is the root of every subsystem's default persisted-state
	// path (lease file, adblock cache, CA storage, agent registry) when
	// that subsystem's own path field is left empty.
	StateDir string `hcl:"state_dir,optional" json:"state_dir,omitempty"`
}

// Network configures the interface HomeRoute binds its dataplane
// services to, and the base domain routes/DNS records live under.
type Network struct {
	Interface  string `hcl:"interface,optional" json:"interface,omitempty"`
	BaseDomain string `hcl:"base_domain,optional" json:"base_domain,omitempty"`
}

// StaticLeaseBlock is one administrator-pinned MAC→IP DHCP assignment.
type StaticLeaseBlock struct {
	MAC      string `hcl:"mac,label" json:"mac"`
	IP       string `hcl:"ip" json:"ip"`
	Hostname string `hcl:"hostname,optional" json:"hostname,omitempty"`
}

// DHCP configures the DHCPv4 server (spec.md §4.2).
type DHCP struct {
	Enabled          bool                `hcl:"enabled,optional" json:"enabled"`
	RangeStart       string              `hcl:"range_start" json:"range_start"`
	RangeEnd         string              `hcl:"range_end" json:"range_end"`
	Netmask          string              `hcl:"netmask,optional" json:"netmask,omitempty"`
	Gateway          string              `hcl:"gateway" json:"gateway"`
	DNSServers       []string            `hcl:"dns_servers,optional" json:"dns_servers,omitempty"`
	Domain           string              `hcl:"domain,optional" json:"domain,omitempty"`
	DefaultLeaseTime int                 `hcl:"default_lease_time,optional" json:"default_lease_time,omitempty"`
	LeaseFile        string             `hcl:"lease_file,optional" json:"lease_file,omitempty"`
	StaticLeases     []StaticLeaseBlock `hcl:"static_lease,block" json:"static_leases,omitempty"`
}

// StaticRecordBlock is one administrator-configured DNS override.
type StaticRecordBlock struct {
	Name  string `hcl:"name,label" json:"name"`
	Type  string `hcl:"type" json:"type"`
	Value string `hcl:"value" json:"value"`
	TTL   int    `hcl:"ttl,optional" json:"ttl,omitempty"`
}

// UpstreamBlock is one resolver HomeRoute forwards cache-miss queries to.
type UpstreamBlock struct {
	Addr string `hcl:"addr,label" json:"addr"`
}

// DNS configures the DNS server and resolver (spec.md §4.3).
type DNS struct {
	Enabled         bool                `hcl:"enabled,optional" json:"enabled"`
	ExpandHosts     bool                `hcl:"expand_hosts,optional" json:"expand_hosts"`
	LocalDomain     string              `hcl:"local_domain,optional" json:"local_domain,omitempty"`
	WildcardIPv4    string              `hcl:"wildcard_ipv4,optional" json:"wildcard_ipv4,omitempty"`
	WildcardIPv6    string              `hcl:"wildcard_ipv6,optional" json:"wildcard_ipv6,omitempty"`
	AdblockEnabled  bool                `hcl:"adblock_enabled,optional" json:"adblock_enabled"`
	BlockResponse   string              `hcl:"block_response,optional" json:"block_response,omitempty"` // "nxdomain" or "zero_ip"
	CacheMaxEntries int                 `hcl:"cache_max_entries,optional" json:"cache_max_entries,omitempty"`
	UpstreamTimeout int                 `hcl:"upstream_timeout_ms,optional" json:"upstream_timeout_ms,omitempty"`
	Upstreams       []UpstreamBlock     `hcl:"upstream,block" json:"upstreams,omitempty"`
	StaticRecords   []StaticRecordBlock `hcl:"record,block" json:"static_records,omitempty"`
}

// Adblock configures the blocklist engine (spec.md §4.4).
type Adblock struct {
	Enabled         bool     `hcl:"enabled,optional" json:"enabled"`
	BlockResponse   string   `hcl:"block_response,optional" json:"block_response,omitempty"`
	Sources         []string `hcl:"sources,optional" json:"sources,omitempty"`
	Allowlist       []string `hcl:"allowlist,optional" json:"allowlist,omitempty"`
	CachePath       string   `hcl:"cache_path,optional" json:"cache_path,omitempty"`
	AutoUpdateEvery string   `hcl:"auto_update_every,optional" json:"auto_update_every,omitempty"` // Go duration string
}

// RouteBlock is one proxied domain (spec.md §4.5).
type RouteBlock struct {
	ID            string   `hcl:"id,label" json:"id"`
	Domain        string   `hcl:"domain" json:"domain"`
	TargetHost    string   `hcl:"target_host" json:"target_host"`
	TargetPort    int      `hcl:"target_port" json:"target_port"`
	LocalOnly     bool     `hcl:"local_only,optional" json:"local_only"`
	RequireAuth   bool     `hcl:"require_auth,optional" json:"require_auth"`
	Enabled       bool     `hcl:"enabled,optional" json:"enabled"`
	CertID        string   `hcl:"cert_id,optional" json:"cert_id,omitempty"`
	AllowedGroups []string `hcl:"allowed_groups,optional" json:"allowed_groups,omitempty"`
}

// Proxy configures the TLS-terminating reverse proxy (spec.md §4.5).
type Proxy struct {
	HTTPPort             int          `hcl:"http_port,optional" json:"http_port,omitempty"`
	HTTPSPort            int          `hcl:"https_port,optional" json:"https_port,omitempty"`
	BaseDomain           string       `hcl:"base_domain,optional" json:"base_domain,omitempty"`
	TLSMode              string       `hcl:"tls_mode,optional" json:"tls_mode,omitempty"`
	AccessLogPath        string       `hcl:"access_log_path,optional" json:"access_log_path,omitempty"`
	BackendDialTimeoutMS int          `hcl:"backend_dial_timeout_ms,optional" json:"backend_dial_timeout_ms,omitempty"`
	Routes               []RouteBlock `hcl:"route,block" json:"routes,omitempty"`
}

// PKI configures the local certificate authority (supplement §4.9).
type PKI struct {
	StoragePath          string `hcl:"storage_path,optional" json:"storage_path,omitempty"`
	Organization         string `hcl:"organization,optional" json:"organization,omitempty"`
	CommonName           string `hcl:"common_name,optional" json:"common_name,omitempty"`
	RootValidityDays     int    `hcl:"root_validity_days,optional" json:"root_validity_days,omitempty"`
	CertValidityDays     int    `hcl:"cert_validity_days,optional" json:"cert_validity_days,omitempty"`
	RenewalThresholdDays int    `hcl:"renewal_threshold_days,optional" json:"renewal_threshold_days,omitempty"`
}

// Agent configures the on-prem agent registry (spec.md §4.7). Addr is
// where the registry's WebSocket session endpoint listens, separate
// from the reverse proxy so agent sessions survive a proxy reload.
type Agent struct {
	Enabled bool   `hcl:"enabled,optional" json:"enabled"`
	DataDir string `hcl:"data_dir,optional" json:"data_dir,omitempty"`
	Addr    string `hcl:"addr,optional" json:"addr,omitempty"`
}

// Relay configures the QUIC cloud relay (spec.md §4.8). Role selects
// which side of the tunnel this process runs: "vps" or "client".
type Relay struct {
	Enabled          bool   `hcl:"enabled,optional" json:"enabled"`
	Role             string `hcl:"role,optional" json:"role,omitempty"`
	QUICPort         int    `hcl:"quic_port,optional" json:"quic_port,omitempty"`
	TCPPort          int    `hcl:"tcp_port,optional" json:"tcp_port,omitempty"`
	HTTPRedirectPort int    `hcl:"http_redirect_port,optional" json:"http_redirect_port,omitempty"`
	VPSAddr          string `hcl:"vps_addr,optional" json:"vps_addr,omitempty"`
	LocalTarget      string `hcl:"local_target,optional" json:"local_target,omitempty"`
	VPSHost          string `hcl:"vps_host,optional" json:"vps_host,omitempty"` // SAN for the server cert IssueTunnelCerts mints
	PingIntervalMS   int    `hcl:"ping_interval_ms,optional" json:"ping_interval_ms,omitempty"`
	PongTimeoutMS    int    `hcl:"pong_timeout_ms,optional" json:"pong_timeout_ms,omitempty"`
}

// Metrics configures the Prometheus exporter.
type Metrics struct {
	Enabled bool   `hcl:"enabled,optional" json:"enabled"`
	Addr    string `hcl:"addr,optional" json:"addr,omitempty"`
}
