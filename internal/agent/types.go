package agent

import "time"

// Status is an agent's connection lifecycle state (spec.md §3).
type Status string

const (
	StatusPending      Status = "pending"
	StatusDeploying    Status = "deploying"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// Agent is one registered application's agent record (spec.md §3 "Agent
// record"). slug and IPv6Suffix are unique per registry; the JSON index
// file is the durable copy.
type Agent struct {
	ID                string        `json:"id"`
	Slug              string        `json:"slug"`
	ContainerName     string        `json:"container_name"`
	TokenHash         string        `json:"token_hash"`
	IPv6Suffix        uint16        `json:"ipv6_suffix"`
	Status            Status        `json:"status"`
	LastHeartbeat     *time.Time    `json:"last_heartbeat,omitempty"`
	AgentVersion      string        `json:"agent_version,omitempty"`
	Routes            []Route       `json:"routes,omitempty"`
	Metrics           *AgentMetrics `json:"-"` // volatile, not persisted
	Services          ServiceConfig `json:"services"`
	PowerPolicy       PowerPolicy   `json:"power_policy"`
	CodeServerEnabled bool          `json:"code_server_enabled"`
	CertIDs           []string      `json:"cert_ids,omitempty"`
	DNSRecordIDs      []string      `json:"dns_record_ids,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`

	missedHeartbeats int
}

// registryState is the on-disk shape of the agent index
// (hr-registry/src/types.rs::RegistryState).
type registryState struct {
	Agents     []*Agent `json:"agents"`
	NextSuffix uint16   `json:"next_suffix"`
}
