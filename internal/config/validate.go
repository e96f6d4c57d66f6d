package config

import (
	"fmt"
	"net"
)

// Validate checks cfg for structural problems that would otherwise
// surface as a confusing panic or silent misbehavior deep inside a
// subsystem (spec.md §7's "fail fast on invalid configuration").
func Validate(cfg *Config) error {
	var errs []string

	if d := cfg.DHCP; d != nil && d.Enabled {
		if net.ParseIP(d.RangeStart) == nil {
			errs = append(errs, "dhcp.range_start is not a valid IP")
		}
		if net.ParseIP(d.RangeEnd) == nil {
			errs = append(errs, "dhcp.range_end is not a valid IP")
		}
		if net.ParseIP(d.Gateway) == nil {
			errs = append(errs, "dhcp.gateway is not a valid IP")
		}
		for _, sl := range d.StaticLeases {
			if net.ParseIP(sl.IP) == nil {
				errs = append(errs, fmt.Sprintf("dhcp.static_lease %q: ip is not valid", sl.MAC))
			}
		}
	}

	if dn := cfg.DNS; dn != nil && dn.Enabled {
		if dn.BlockResponse != "" && dn.BlockResponse != "nxdomain" && dn.BlockResponse != "zero_ip" {
			errs = append(errs, "dns.block_response must be \"nxdomain\" or \"zero_ip\"")
		}
		for _, u := range dn.Upstreams {
			if _, _, err := net.SplitHostPort(u.Addr); err != nil {
				errs = append(errs, fmt.Sprintf("dns.upstream %q: %v", u.Addr, err))
			}
		}
	}

	if p := cfg.Proxy; p != nil {
		seen := make(map[string]bool, len(p.Routes))
		for _, r := range p.Routes {
			if r.Domain == "" {
				errs = append(errs, fmt.Sprintf("proxy.route %q: domain is required", r.ID))
			}
			if seen[r.Domain] {
				errs = append(errs, fmt.Sprintf("proxy.route %q: duplicate domain %q", r.ID, r.Domain))
			}
			seen[r.Domain] = true
		}
		if p.TLSMode != "" && p.TLSMode != "local-ca" && p.TLSMode != "acme" {
			errs = append(errs, "proxy.tls_mode must be \"local-ca\" or \"acme\"")
		}
	}

	if r := cfg.Relay; r != nil && r.Enabled {
		switch r.Role {
		case "vps":
			if r.QUICPort <= 0 {
				errs = append(errs, "relay.quic_port is required when role is \"vps\"")
			}
		case "client":
			if r.VPSAddr == "" {
				errs = append(errs, "relay.vps_addr is required when role is \"client\"")
			}
			if r.LocalTarget == "" {
				errs = append(errs, "relay.local_target is required when role is \"client\"")
			}
		default:
			errs = append(errs, "relay.role must be \"vps\" or \"client\"")
		}
	}

	if len(errs) == 0 {
		return nil
	}
	msg := errs[0]
	for _, e := range errs[1:] {
		msg += "; " + e
	}
	return fmt.Errorf("invalid configuration: %s", msg)
}
