// Package dhcp implements the DHCPv4 server: a persistent, indexed lease
// store and an RFC 2131 state machine built on insomniacslk/dhcp.
package dhcp

import "net"

// Lease is a DHCP binding of a MAC address to an IPv4 address, with an
// absolute expiry and optional hostname/client-id.
type Lease struct {
	Expiry   uint64 // unix seconds; active iff Expiry > now
	MAC      string // canonical lowercase, e.g. "aa:bb:cc:dd:ee:ff"
	IP       net.IP // always a 4-byte IPv4 address
	Hostname string // "" if unknown
	ClientID string // "" if unknown
}

// StaticLease is an administrator-configured MAC→IP reservation.
type StaticLease struct {
	MAC      string
	IP       net.IP
	Hostname string
}
