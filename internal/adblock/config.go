package adblock

import "time"

// Source is one list to download and merge into the blocked set.
type Source struct {
	Name   string
	URL    string
	Format string // "hosts", "domain_list", or "dnsmasq"
}

// Config is the adblock service configuration (spec.md §4.4).
type Config struct {
	Enabled         bool
	BlockResponse   string // "zero_ip" or "nxdomain"
	Sources         []Source
	Allowlist       []string
	CachePath       string
	AutoUpdateEvery time.Duration
}

// DefaultConfig mirrors the original daemon's documented defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		BlockResponse:   "zero_ip",
		CachePath:       "/var/lib/homeroute/adblock/cache.json",
		AutoUpdateEvery: 24 * time.Hour,
	}
}
