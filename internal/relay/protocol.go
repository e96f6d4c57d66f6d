// Package relay is HomeRoute's QUIC cloud relay (spec.md §4.8): a VPS-side
// mTLS QUIC acceptor plus TCP/443 relay, and the on-prem client that keeps
// one outbound QUIC connection to it. Grounded on
// original_source/crates/hr-tunnel/src/{protocol,quic}.rs and
// hr-cloud-relay/src/main.rs.
package relay

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
)

// Stream header written once at the start of every relayed QUIC stream
// (spec.md §6's "Per-stream framing"): version(1) | ip_type(1) |
// ip_bytes(4 or 16) | timestamp_ns(8, big-endian).
const streamHeaderVersion = 1

// EncodeStreamHeader writes the per-stream header for clientIP/timestampNS.
func EncodeStreamHeader(clientIP net.IP, timestampNS uint64) ([]byte, error) {
	v4 := clientIP.To4()
	var ipType byte
	var ipBytes []byte
	if v4 != nil {
		ipType, ipBytes = 4, v4
	} else if v6 := clientIP.To16(); v6 != nil {
		ipType, ipBytes = 6, v6
	} else {
		return nil, fmt.Errorf("invalid client IP %v", clientIP)
	}

	buf := make([]byte, 2+len(ipBytes)+8)
	buf[0] = streamHeaderVersion
	buf[1] = ipType
	copy(buf[2:], ipBytes)
	binary.BigEndian.PutUint64(buf[2+len(ipBytes):], timestampNS)
	return buf, nil
}

// DecodeStreamHeader reads a stream header from r.
func DecodeStreamHeader(r io.Reader) (clientIP net.IP, timestampNS uint64, err error) {
	var prefix [2]byte
	if _, err = io.ReadFull(r, prefix[:]); err != nil {
		return nil, 0, fmt.Errorf("read stream header prefix: %w", err)
	}
	if prefix[0] != streamHeaderVersion {
		return nil, 0, fmt.Errorf("unsupported stream header version %d", prefix[0])
	}

	var ipLen int
	switch prefix[1] {
	case 4:
		ipLen = 4
	case 6:
		ipLen = 16
	default:
		return nil, 0, fmt.Errorf("invalid stream header ip_type %d", prefix[1])
	}

	ipBuf := make([]byte, ipLen)
	if _, err = io.ReadFull(r, ipBuf); err != nil {
		return nil, 0, fmt.Errorf("read stream header ip: %w", err)
	}

	var tsBuf [8]byte
	if _, err = io.ReadFull(r, tsBuf[:]); err != nil {
		return nil, 0, fmt.Errorf("read stream header timestamp: %w", err)
	}
	return net.IP(ipBuf), binary.BigEndian.Uint64(tsBuf[:]), nil
}

// Control message type discriminators (spec.md §4.8's dedicated control
// stream).
const (
	CtrlPing       = "ping"
	CtrlPong       = "pong"
	CtrlRelayStats = "relay_stats"
	CtrlShutdown   = "shutdown"
)

// ControlMessage is the tagged union carried on the control stream,
// length-prefixed JSON per spec.md §6.
type ControlMessage struct {
	Type          string `json:"type"`
	Ts            int64  `json:"ts,omitempty"`
	LatencyUs     int64  `json:"latency_us,omitempty"`
	ActiveStreams uint32 `json:"active_streams,omitempty"`
	TotalBytes    uint64 `json:"total_bytes,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// WriteControlMessage encodes msg as a u32-BE length prefix followed by
// its JSON body.
func WriteControlMessage(w io.Writer, msg ControlMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal control message: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write control message length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write control message body: %w", err)
	}
	return nil
}

// ReadControlMessage decodes one length-prefixed control message from r.
func ReadControlMessage(r io.Reader) (ControlMessage, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return ControlMessage{}, fmt.Errorf("read control message length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return ControlMessage{}, fmt.Errorf("read control message body: %w", err)
	}
	var msg ControlMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return ControlMessage{}, fmt.Errorf("unmarshal control message: %w", err)
	}
	return msg, nil
}
