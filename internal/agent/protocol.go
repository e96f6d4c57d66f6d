// Package agent is HomeRoute's agent registry: a WebSocket server that
// application containers connect to, authenticate against, and exchange a
// tagged-union JSON protocol with (spec.md §4.7), grounded on
// original_source/crates/hr-registry/src/protocol.rs.
package agent

import (
	"encoding/json"
	"fmt"
)

// ServiceState mirrors a managed service's lifecycle state.
type ServiceState string

const (
	ServiceRunning     ServiceState = "running"
	ServiceStopped     ServiceState = "stopped"
	ServiceStarting    ServiceState = "starting"
	ServiceStopping    ServiceState = "stopping"
	ServiceManuallyOff ServiceState = "manually_off"
)

// ServiceType is which managed service a message concerns.
type ServiceType string

const (
	ServiceTypeCodeServer ServiceType = "code_server"
	ServiceTypeApp        ServiceType = "app"
	ServiceTypeDB         ServiceType = "db"
)

// ServiceAction is a command sent to a managed service.
type ServiceAction string

const (
	ActionStart ServiceAction = "start"
	ActionStop  ServiceAction = "stop"
)

// ServiceConfig lists the systemd units the agent should manage per type.
type ServiceConfig struct {
	App []string `json:"app,omitempty"`
	DB  []string `json:"db,omitempty"`
}

// PowerPolicy controls idle auto-stop for code-server.
type PowerPolicy struct {
	CodeServerIdleTimeoutSecs *uint64 `json:"code_server_idle_timeout_secs,omitempty"`
}

// AgentMetrics is the periodic resource/service snapshot an agent reports.
type AgentMetrics struct {
	CodeServerStatus   ServiceState `json:"code_server_status"`
	AppStatus          ServiceState `json:"app_status"`
	DBStatus           ServiceState `json:"db_status"`
	MemoryBytes        uint64       `json:"memory_bytes"`
	CPUPercent         float32      `json:"cpu_percent"`
	CodeServerIdleSecs uint64       `json:"code_server_idle_secs"`
}

// Route is a domain an agent publishes for reverse-proxy registration.
type Route struct {
	Domain        string      `json:"domain"`
	TargetPort    uint16      `json:"target_port"`
	ServiceType   ServiceType `json:"service_type"`
	AuthRequired  bool        `json:"auth_required"`
	AllowedGroups []string    `json:"allowed_groups,omitempty"`
}

// SchemaTableInfo/SchemaColumnInfo/SchemaRelationInfo describe an agent's
// Dataverse-style database schema, forwarded to the registry for the admin
// UI's live schema view (spec.md §4.7 "schema_metadata").
type SchemaTableInfo struct {
	Name     string             `json:"name"`
	Slug     string             `json:"slug"`
	Columns  []SchemaColumnInfo `json:"columns"`
	RowCount uint64             `json:"row_count"`
}

type SchemaColumnInfo struct {
	Name      string `json:"name"`
	FieldType string `json:"field_type"`
	Required  bool   `json:"required"`
	Unique    bool   `json:"unique"`
}

type SchemaRelationInfo struct {
	FromTable    string `json:"from_table"`
	FromColumn   string `json:"from_column"`
	ToTable      string `json:"to_table"`
	ToColumn     string `json:"to_column"`
	RelationType string `json:"relation_type"`
}

// AgentMessage is the tagged union an agent sends the registry. Exactly
// one of the typed fields is populated, selected by Type.
type AgentMessage struct {
	Type string `json:"type"`

	// auth
	Token       string  `json:"token,omitempty"`
	ServiceName string  `json:"service_name,omitempty"`
	Version     string  `json:"version,omitempty"`
	IPv4Address *string `json:"ipv4_address,omitempty"`

	// heartbeat
	UptimeSecs        uint64 `json:"uptime_secs,omitempty"`
	ConnectionsActive uint32 `json:"connections_active,omitempty"`

	// config_ack
	ConfigVersion uint64 `json:"config_version,omitempty"`

	// error
	Message string `json:"message,omitempty"`

	// metrics: the AgentMetrics snapshot, nested under the "metrics" key
	Metrics *AgentMetrics `json:"metrics,omitempty"`

	// service_state_changed
	ServiceType ServiceType  `json:"service_type,omitempty"`
	NewState    ServiceState `json:"new_state,omitempty"`

	// publish_routes
	Routes []Route `json:"routes,omitempty"`

	// schema_metadata
	Tables      []SchemaTableInfo    `json:"tables,omitempty"`
	Relations   []SchemaRelationInfo `json:"relations,omitempty"`
	SchemaVer   uint64               `json:"schema_version,omitempty"`
	DBSizeBytes uint64               `json:"db_size_bytes,omitempty"`
}

// Agent→Registry message type discriminators.
const (
	MsgAuth                = "auth"
	MsgHeartbeat           = "heartbeat"
	MsgConfigAck           = "config_ack"
	MsgError               = "error"
	MsgMetrics             = "metrics"
	MsgServiceStateChanged = "service_state_changed"
	MsgPublishRoutes       = "publish_routes"
	MsgSchemaMetadata      = "schema_metadata"
)

// ParseAgentMessage decodes a WebSocket text frame into an AgentMessage,
// validating that Type is one of the known discriminators.
func ParseAgentMessage(data []byte) (AgentMessage, error) {
	var msg AgentMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return AgentMessage{}, fmt.Errorf("decode agent message: %w", err)
	}
	switch msg.Type {
	case MsgAuth, MsgHeartbeat, MsgConfigAck, MsgError, MsgMetrics, MsgServiceStateChanged, MsgPublishRoutes, MsgSchemaMetadata:
		return msg, nil
	default:
		return AgentMessage{}, fmt.Errorf("unknown agent message type %q", msg.Type)
	}
}

// RegistryMessage is the tagged union the registry sends an agent.
type RegistryMessage struct {
	Type string `json:"type"`

	// auth_result
	Success bool    `json:"success,omitempty"`
	Error   *string `json:"error,omitempty"`

	// config
	ConfigVersion     uint64        `json:"config_version,omitempty"`
	Services          ServiceConfig `json:"services,omitempty"`
	PowerPolicy       PowerPolicy   `json:"power_policy,omitempty"`
	BaseDomain        string        `json:"base_domain,omitempty"`
	Slug              string        `json:"slug,omitempty"`
	CodeServerEnabled bool          `json:"code_server_enabled,omitempty"`

	// update_available
	UpdateVersion string `json:"update_version,omitempty"`
	DownloadURL   string `json:"download_url,omitempty"`
	SHA256        string `json:"sha256,omitempty"`

	// service_command / activity_ping
	ServiceType ServiceType   `json:"service_type,omitempty"`
	Action      ServiceAction `json:"action,omitempty"`
}

// Registry→Agent message type discriminators.
const (
	MsgAuthResult        = "auth_result"
	MsgConfig            = "config"
	MsgUpdateAvailable   = "update_available"
	MsgShutdown          = "shutdown"
	MsgPowerPolicyUpdate = "power_policy_update"
	MsgServiceCommand    = "service_command"
	MsgActivityPing      = "activity_ping"
)

func newAuthResultOK() RegistryMessage {
	return RegistryMessage{Type: MsgAuthResult, Success: true}
}

func newAuthResultError(reason string) RegistryMessage {
	return RegistryMessage{Type: MsgAuthResult, Success: false, Error: &reason}
}
