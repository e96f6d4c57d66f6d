// Package config handles HomeRoute's root daemon configuration: HCL2
// parsing (with a JSON fallback) into a single [Config] tree, validation,
// and conversion into each subsystem's own Config type.
//
// # Configuration Blocks
//
//   - network: host interface, base domain
//   - dhcp: DHCP server scope and static leases
//   - dns: DNS server settings, static records, upstreams
//   - adblock: blocklist sources and auto-update cadence
//   - proxy: reverse proxy ports, TLS mode, routes
//   - pki: local CA identity and validity periods
//   - agent: agent registry data directory
//   - relay: QUIC cloud relay role and endpoints
//   - metrics: Prometheus exporter bind address
package config
