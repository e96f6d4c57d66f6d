// Package events is the cross-cutting event bus: a bounded, non-blocking
// broadcast channel that every dataplane component publishes to; its one
// subscriber is cmd/homeroute's debug event logger. Slow subscribers drop
// events rather than stall a publisher (§9 "async channels for event
// bus").
package events

import "time"

// Type identifies the category of an Event.
type Type string

const (
	TypeDHCPLease    Type = "dhcp.lease"
	TypeDHCPExpire   Type = "dhcp.expire"
	TypeDNSQuery     Type = "dns.query"
	TypeDNSBlock     Type = "dns.block"
	TypeProxyAccess  Type = "proxy.access"
	TypeServiceState Type = "service.state"
	TypeAgentConnect Type = "agent.connect"
	TypeAgentOffline Type = "agent.offline"
	TypeRouteChange  Type = "route.change"
	TypeRelayStream  Type = "relay.stream"
)

// Event is the envelope passed through the bus.
type Event struct {
	Type      Type        `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source"`
	Data      interface{} `json:"data"`
}

// DHCPLeaseData is the payload for TypeDHCPLease/TypeDHCPExpire.
type DHCPLeaseData struct {
	MAC      string `json:"mac"`
	IP       string `json:"ip"`
	Hostname string `json:"hostname,omitempty"`
}

// DNSQueryData is the payload for TypeDNSQuery/TypeDNSBlock.
type DNSQueryData struct {
	ClientIP   string `json:"client_ip"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Blocked    bool   `json:"blocked"`
	Cached     bool   `json:"cached"`
	DurationMS int64  `json:"duration_ms"`
}

// ProxyAccessData is the payload for TypeProxyAccess.
type ProxyAccessData struct {
	ClientIP   string `json:"client_ip"`
	Host       string `json:"host"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	Status     int    `json:"status"`
	DurationMS int64  `json:"duration_ms"`
}

// ServiceStateData is the payload for TypeServiceState.
type ServiceStateData struct {
	Name          string `json:"name"`
	State         string `json:"state"`
	RestartCount  uint32 `json:"restart_count"`
	Error         string `json:"error,omitempty"`
}

// AgentStateData is the payload for TypeAgentConnect/TypeAgentOffline.
type AgentStateData struct {
	AgentID string `json:"agent_id"`
	Slug    string `json:"slug"`
}

// RelayStreamData is the payload for TypeRelayStream.
type RelayStreamData struct {
	ActiveStreams int64 `json:"active_streams"`
	TotalBytes    int64 `json:"total_bytes"`
}
