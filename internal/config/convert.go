package config

import (
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"

	"github.com/localplatform/homeroute/internal/adblock"
	hrdns "github.com/localplatform/homeroute/internal/dns"
	"github.com/localplatform/homeroute/internal/dhcp"
	"github.com/localplatform/homeroute/internal/pki"
	"github.com/localplatform/homeroute/internal/proxy"
	"github.com/localplatform/homeroute/internal/relay"
)

// ToDHCPConfig converts the dhcp block into internal/dhcp.Config, filling
// in the subsystem's own documented defaults for anything left empty
// (grimm-is-glacic/internal/config/zone_resolver.go's orDefault pattern).
func (c *Config) ToDHCPConfig() (dhcp.Config, error) {
	d := c.DHCP
	if d == nil {
		return dhcp.Config{}, fmt.Errorf("dhcp block is not configured")
	}

	rangeStart := net.ParseIP(d.RangeStart)
	rangeEnd := net.ParseIP(d.RangeEnd)
	gateway := net.ParseIP(d.Gateway)
	if rangeStart == nil || rangeEnd == nil || gateway == nil {
		return dhcp.Config{}, fmt.Errorf("dhcp.range_start/range_end/gateway must be valid IPs")
	}
	netmask := net.IPMask(net.ParseIP(orDefault(d.Netmask, "255.255.255.0")).To4())

	var dnsServers []net.IP
	for _, s := range d.DNSServers {
		if ip := net.ParseIP(s); ip != nil {
			dnsServers = append(dnsServers, ip)
		}
	}
	if dnsServers == nil {
		dnsServers = []net.IP{gateway}
	}

	var leases []dhcp.StaticLease
	for _, sl := range d.StaticLeases {
		leases = append(leases, dhcp.StaticLease{MAC: sl.MAC, IP: net.ParseIP(sl.IP), Hostname: sl.Hostname})
	}

	return dhcp.Config{
		Interface:        c.networkInterface(),
		RangeStart:       rangeStart,
		RangeEnd:         rangeEnd,
		Netmask:          netmask,
		Gateway:          gateway,
		DNSServers:       dnsServers,
		Domain:           orDefault(d.Domain, c.networkBaseDomain()),
		DefaultLeaseTime: uint32(orDefaultInt(d.DefaultLeaseTime, 86400)),
		LeaseFile:        orDefault(d.LeaseFile, c.statePath("dhcp/leases.json")),
		StaticLeases:     leases,
	}, nil
}

// ToDNSConfig converts the dns block into internal/dns.Config.
func (c *Config) ToDNSConfig() (hrdns.Config, error) {
	dn := c.DNS
	if dn == nil {
		return hrdns.Config{}, fmt.Errorf("dns block is not configured")
	}

	blockResponse := hrdns.BlockResponseZeroIP
	if dn.BlockResponse == "nxdomain" {
		blockResponse = hrdns.BlockResponseNXDOMAIN
	}

	var upstreams []hrdns.Upstream
	for _, u := range dn.Upstreams {
		upstreams = append(upstreams, hrdns.Upstream{Addr: u.Addr})
	}

	var records []hrdns.StaticRecord
	for _, r := range dn.StaticRecords {
		rtype, ok := dns.StringToType[normalizeRRType(r.Type)]
		if !ok {
			return hrdns.Config{}, fmt.Errorf("dns.record %q: unknown type %q", r.Name, r.Type)
		}
		records = append(records, hrdns.StaticRecord{Name: r.Name, Type: rtype, Value: r.Value, TTL: uint32(orDefaultInt(r.TTL, 300))})
	}

	return hrdns.Config{
		ExpandHosts:     dn.ExpandHosts,
		LocalDomain:     orDefault(dn.LocalDomain, c.networkBaseDomain()),
		StaticRecords:   records,
		WildcardIPv4:    net.ParseIP(dn.WildcardIPv4),
		WildcardIPv6:    net.ParseIP(dn.WildcardIPv6),
		AdblockEnabled:  dn.AdblockEnabled,
		BlockResponse:   blockResponse,
		CacheMaxEntries: orDefaultInt(dn.CacheMaxEntries, 10_000),
		Upstreams:       upstreams,
		UpstreamTimeout: orDefaultInt(dn.UpstreamTimeout, 2_000),
	}, nil
}

// ToAdblockConfig converts the adblock block into internal/adblock.Config.
func (c *Config) ToAdblockConfig() (adblock.Config, error) {
	ab := c.Adblock
	if ab == nil {
		return adblock.DefaultConfig(), nil
	}

	interval, err := time.ParseDuration(orDefault(ab.AutoUpdateEvery, "24h"))
	if err != nil {
		return adblock.Config{}, fmt.Errorf("adblock.auto_update_every: %w", err)
	}

	var sources []adblock.Source
	for _, url := range ab.Sources {
		sources = append(sources, adblock.Source{URL: url})
	}

	return adblock.Config{
		Enabled:         ab.Enabled,
		BlockResponse:   orDefault(ab.BlockResponse, "zero_ip"),
		Sources:         sources,
		Allowlist:       ab.Allowlist,
		CachePath:       orDefault(ab.CachePath, c.statePath("adblock/cache.json")),
		AutoUpdateEvery: interval,
	}, nil
}

// ToProxyConfig converts the proxy block into internal/proxy.Config.
func (c *Config) ToProxyConfig() (proxy.Config, error) {
	p := c.Proxy
	if p == nil {
		return proxy.DefaultConfig(), nil
	}

	var routes []proxy.RouteConfig
	for _, r := range p.Routes {
		routes = append(routes, proxy.RouteConfig{
			ID:            r.ID,
			Domain:        r.Domain,
			TargetHost:    r.TargetHost,
			TargetPort:    r.TargetPort,
			LocalOnly:     r.LocalOnly,
			RequireAuth:   r.RequireAuth,
			Enabled:       r.Enabled,
			CertID:        r.CertID,
			AllowedGroups: r.AllowedGroups,
		})
	}

	return proxy.Config{
		HTTPPort:             orDefaultInt(p.HTTPPort, 80),
		HTTPSPort:            orDefaultInt(p.HTTPSPort, 443),
		BaseDomain:           orDefault(p.BaseDomain, c.networkBaseDomain()),
		TLSMode:              orDefault(p.TLSMode, "local-ca"),
		CAStoragePath:        c.pkiStoragePath(),
		Routes:               routes,
		AccessLogPath:        p.AccessLogPath,
		BackendDialTimeoutMS: orDefaultInt(p.BackendDialTimeoutMS, 30_000),
	}, nil
}

// ToPKIConfig converts the pki block into internal/pki.Config.
func (c *Config) ToPKIConfig() pki.Config {
	base := pki.DefaultConfig()
	p := c.PKI
	if p == nil {
		base.StoragePath = c.pkiStoragePath()
		return base
	}
	return pki.Config{
		StoragePath:          orDefault(p.StoragePath, c.pkiStoragePath()),
		Organization:         orDefault(p.Organization, base.Organization),
		CommonName:           orDefault(p.CommonName, base.CommonName),
		RootValidityDays:     orDefaultInt(p.RootValidityDays, base.RootValidityDays),
		CertValidityDays:     orDefaultInt(p.CertValidityDays, base.CertValidityDays),
		RenewalThresholdDays: orDefaultInt(p.RenewalThresholdDays, base.RenewalThresholdDays),
	}
}

// AgentDataDir returns the agent registry's configured data directory,
// falling back to StateDir/agent.
func (c *Config) AgentDataDir() string {
	if c.Agent != nil && c.Agent.DataDir != "" {
		return c.Agent.DataDir
	}
	return c.statePath("agent")
}

// AgentAddr returns the agent registry's WebSocket listen address.
func (c *Config) AgentAddr() string {
	if c.Agent != nil && c.Agent.Addr != "" {
		return c.Agent.Addr
	}
	return ":7900"
}

// ToRelayConfig converts the relay block into internal/relay.Config.
func (c *Config) ToRelayConfig() (relay.Config, error) {
	r := c.Relay
	if r == nil {
		return relay.Config{}, fmt.Errorf("relay block is not configured")
	}
	cfg := relay.DefaultConfig()
	if r.QUICPort > 0 {
		cfg.QUICPort = r.QUICPort
	}
	if r.TCPPort > 0 {
		cfg.TCPPort = r.TCPPort
	}
	if r.HTTPRedirectPort > 0 {
		cfg.HTTPRedirectPort = r.HTTPRedirectPort
	}
	cfg.VPSAddr = r.VPSAddr
	cfg.LocalTarget = r.LocalTarget
	if r.PingIntervalMS > 0 {
		cfg.PingInterval = time.Duration(r.PingIntervalMS) * time.Millisecond
	}
	if r.PongTimeoutMS > 0 {
		cfg.PongTimeout = time.Duration(r.PongTimeoutMS) * time.Millisecond
	}
	return cfg, nil
}

func (c *Config) networkInterface() string {
	if c.Network != nil {
		return c.Network.Interface
	}
	return ""
}

func (c *Config) networkBaseDomain() string {
	if c.Network != nil && c.Network.BaseDomain != "" {
		return c.Network.BaseDomain
	}
	return "home.arpa"
}

func (c *Config) pkiStoragePath() string {
	if c.PKI != nil && c.PKI.StoragePath != "" {
		return c.PKI.StoragePath
	}
	return c.statePath("ca")
}

func (c *Config) statePath(rel string) string {
	base := c.StateDir
	if base == "" {
		base = "/var/lib/homeroute"
	}
	return base + "/" + rel
}

func normalizeRRType(t string) string {
	upper := make([]byte, len(t))
	for i := 0; i < len(t); i++ {
		b := t[i]
		if b >= 'a' && b <= 'z' {
			b -= 'a' - 'A'
		}
		upper[i] = b
	}
	return string(upper)
}

func orDefault(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func orDefaultInt(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}
