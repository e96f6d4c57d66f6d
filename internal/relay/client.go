package relay

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"

	"github.com/localplatform/homeroute/internal/logging"
	"github.com/localplatform/homeroute/internal/metrics"
)

// Client is the on-prem side of the tunnel: it keeps one outbound QUIC
// connection to the VPS relay, answers its control-stream pings, and
// pipes each data stream it receives to LocalTarget (spec.md §4.8's
// "On-prem side").
type Client struct {
	cfg       Config
	tlsConfig *tls.Config
	log       *logging.Logger
	metrics   *metrics.Registry
}

// NewClient builds an on-prem relay Client. tlsConfig should come from
// ClientTLSConfig.
func NewClient(cfg Config, tlsConfig *tls.Config) *Client {
	return &Client{cfg: cfg, tlsConfig: tlsConfig, log: logging.WithComponent("relay-client"), metrics: metrics.Get()}
}

// Run implements internal/supervisor.Factory: it dials the VPS, serves
// the connection until it closes, and reconnects with exponential
// backoff (spec.md §4.8's "Resilience" / the same schedule as §4.7).
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	first := true
	for ctx.Err() == nil {
		conn, err := quic.DialAddr(ctx, c.cfg.VPSAddr, c.tlsConfig, quicClientConfig())
		if err != nil {
			c.log.Warn("dial relay failed", "error", err, "attempt", attempt)
			if !sleepCtx(ctx, reconnectBackoff(attempt)) {
				return nil
			}
			attempt++
			continue
		}

		c.log.Info("tunnel connection established", "remote", c.cfg.VPSAddr)
		if !first {
			c.metrics.RelayReconnects.Inc()
		}
		first = false
		attempt = 0
		c.handleConnection(ctx, conn)
	}
	return nil
}

func (c *Client) handleConnection(ctx context.Context, conn quic.Connection) {
	defer conn.CloseWithError(0, "reconnecting")

	first := true
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		if first {
			first = false
			go c.handleControlStream(stream)
			continue
		}
		go c.handleDataStream(stream)
	}
}

// handleControlStream answers every Ping with a Pong carrying the
// round-trip latency, and returns on Shutdown.
func (c *Client) handleControlStream(stream quic.Stream) {
	defer stream.Close()
	for {
		msg, err := ReadControlMessage(stream)
		if err != nil {
			return
		}
		switch msg.Type {
		case CtrlPing:
			now := time.Now().UnixNano()
			pong := ControlMessage{Type: CtrlPong, Ts: msg.Ts, LatencyUs: (now - msg.Ts) / 1000}
			if err := WriteControlMessage(stream, pong); err != nil {
				return
			}
		case CtrlShutdown:
			c.log.Info("relay requested shutdown", "reason", msg.Reason)
			return
		}
	}
}

// handleDataStream decodes the per-stream header, dials LocalTarget, and
// pipes bytes in both directions. A PROXY protocol v1 line carries the
// original client IP to LocalTarget, since the relayed bytes are opaque
// TLS once piped past this point (spec.md §4.8's "X-Forwarded-For
// equivalent").
func (c *Client) handleDataStream(stream quic.Stream) {
	defer stream.Close()

	clientIP, _, err := DecodeStreamHeader(stream)
	if err != nil {
		c.log.Warn("decode stream header", "error", err)
		return
	}

	localConn, err := net.Dial("tcp", c.cfg.LocalTarget)
	if err != nil {
		c.log.Warn("dial local target", "error", err, "target", c.cfg.LocalTarget)
		return
	}
	defer localConn.Close()

	if err := writeProxyProtocolHeader(localConn, clientIP); err != nil {
		c.log.Warn("write proxy protocol header", "error", err)
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(stream, localConn)
		stream.Close()
	}()
	go func() {
		defer wg.Done()
		io.Copy(localConn, stream)
		if cw, ok := localConn.(interface{ CloseWrite() error }); ok {
			cw.CloseWrite()
		}
	}()
	wg.Wait()
}

// writeProxyProtocolHeader emits a PROXY protocol v1 header line so a
// proxy_protocol-aware listener on conn can recover the original client
// IP. The stream header (spec.md §6) carries only the client IP and a
// timestamp, not a source port, so the source port is written as 0.
func writeProxyProtocolHeader(conn net.Conn, clientIP net.IP) error {
	dstHost, dstPort, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		dstHost, dstPort = conn.RemoteAddr().String(), "0"
	}
	proto := "TCP4"
	if clientIP.To4() == nil {
		proto = "TCP6"
	}
	_, err = fmt.Fprintf(conn, "PROXY %s %s %s 0 %s\r\n", proto, clientIP.String(), dstHost, dstPort)
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func quicClientConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:        30 * time.Second,
		KeepAlivePeriod:       10 * time.Second,
		MaxIncomingStreams:    4096,
		MaxIncomingUniStreams: 256,
	}
}
