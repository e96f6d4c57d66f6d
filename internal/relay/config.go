package relay

import "time"

// Config configures both relay roles. VPS fields (QUICPort, TCPPort,
// HTTPRedirectPort) are ignored by the on-prem Client; VPSAddr is ignored
// by the VPS Server.
type Config struct {
	QUICPort         int    // VPS: UDP port for the mTLS QUIC endpoint
	TCPPort          int    // VPS: TCP port relayed to the active tunnel
	HTTPRedirectPort int    // VPS: plain-HTTP port redirecting to the local proxy over HTTPS
	VPSAddr          string // on-prem: "host:port" of the VPS QUIC endpoint
	LocalTarget      string // on-prem: "host:port" each relayed stream is piped to

	PingInterval time.Duration // VPS -> on-prem keepalive period, default 5s
	PongTimeout  time.Duration // time without a Pong before closing, default 30s
}

// DefaultConfig mirrors hr-cloud-relay/src/main.rs's documented defaults.
func DefaultConfig() Config {
	return Config{
		QUICPort:         4443,
		TCPPort:          443,
		HTTPRedirectPort: 80,
		PingInterval:     5 * time.Second,
		PongTimeout:      30 * time.Second,
	}
}

const (
	reconnectBaseDelay = 5 * time.Second
	reconnectMaxDelay  = 60 * time.Second
)

// reconnectBackoff implements spec.md §4.7/§4.8's shared reconnect
// schedule: 5s doubling, capped at 60s.
func reconnectBackoff(attempt int) time.Duration {
	d := reconnectBaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= reconnectMaxDelay {
			return reconnectMaxDelay
		}
	}
	return d
}
