package relay

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	quic "github.com/quic-go/quic-go"

	"github.com/localplatform/homeroute/internal/herr"
	"github.com/localplatform/homeroute/internal/logging"
	"github.com/localplatform/homeroute/internal/metrics"
)

// Server is the VPS-side relay acceptor: a QUIC endpoint that accepts at
// most one active tunnel connection at a time, and a TCP listener on
// TCPPort that pipes each inbound connection through it (spec.md §4.8).
type Server struct {
	cfg       Config
	tlsConfig *tls.Config
	log       *logging.Logger
	metrics   *metrics.Registry

	mu     sync.RWMutex
	active quic.Connection

	activeStreams atomic.Int32
	totalBytes    atomic.Int64
}

// NewServer builds a relay Server. tlsConfig should come from
// ServerTLSConfig.
func NewServer(cfg Config, tlsConfig *tls.Config) *Server {
	return &Server{cfg: cfg, tlsConfig: tlsConfig, log: logging.WithComponent("relay"), metrics: metrics.Get()}
}

// Run implements internal/supervisor.Factory: it blocks, running the QUIC
// acceptor, the TCP relay listener, and (if configured) the plain-HTTP
// redirect server, until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	quicLn, err := quic.ListenAddr(fmt.Sprintf(":%d", s.cfg.QUICPort), s.tlsConfig, quicServerConfig())
	if err != nil {
		return herr.Wrap(herr.IO, "listen quic", err)
	}
	defer quicLn.Close()

	tcpLn, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.TCPPort))
	if err != nil {
		return herr.Wrap(herr.IO, "listen tcp relay", err)
	}
	defer tcpLn.Close()

	var httpSrv *http.Server
	if s.cfg.HTTPRedirectPort > 0 {
		httpSrv = &http.Server{
			Addr:    fmt.Sprintf(":%d", s.cfg.HTTPRedirectPort),
			Handler: http.HandlerFunc(s.redirectToHTTPS),
		}
		go httpSrv.ListenAndServe()
	}

	go s.acceptQUIC(ctx, quicLn)
	go s.acceptTCP(ctx, tcpLn)

	<-ctx.Done()
	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}
	if active := s.currentActive(); active != nil {
		active.CloseWithError(0, "server shutting down")
	}
	return nil
}

func (s *Server) redirectToHTTPS(w http.ResponseWriter, r *http.Request) {
	target := "https://" + hostOnly(r.Host) + r.URL.RequestURI()
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

func (s *Server) acceptQUIC(ctx context.Context, ln *quic.Listener) {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("quic accept error", "error", err)
			continue
		}
		s.log.Info("tunnel connection established", "remote", conn.RemoteAddr())
		s.replaceActive(conn)
		go s.runControlStream(ctx, conn)
	}
}

func (s *Server) replaceActive(conn quic.Connection) {
	s.mu.Lock()
	old := s.active
	s.active = conn
	s.mu.Unlock()
	if old != nil {
		old.CloseWithError(0, "replaced by new tunnel connection")
	}
}

func (s *Server) currentActive() quic.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *Server) clearIfCurrent(conn quic.Connection) {
	s.mu.Lock()
	if s.active == conn {
		s.active = nil
	}
	s.mu.Unlock()
}

// runControlStream opens the dedicated control stream for conn, pings
// every PingInterval, and closes the connection if no Pong arrives within
// PongTimeout (spec.md §4.8's "Connection lifecycle").
func (s *Server) runControlStream(ctx context.Context, conn quic.Connection) {
	defer s.clearIfCurrent(conn)

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		s.log.Warn("open control stream", "error", err)
		return
	}
	defer stream.Close()

	pingInterval := s.cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 5 * time.Second
	}
	pongTimeout := s.cfg.PongTimeout
	if pongTimeout <= 0 {
		pongTimeout = 30 * time.Second
	}

	pongCh := make(chan struct{}, 1)
	statsCh := make(chan ControlMessage, 1)
	go func() {
		for {
			msg, err := ReadControlMessage(stream)
			if err != nil {
				return
			}
			switch msg.Type {
			case CtrlPong:
				select {
				case pongCh <- struct{}{}:
				default:
				}
			case CtrlRelayStats:
				select {
				case statsCh <- msg:
				default:
				}
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	timeout := time.NewTimer(pongTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			WriteControlMessage(stream, ControlMessage{Type: CtrlShutdown, Reason: "server shutting down"})
			return
		case <-ticker.C:
			if err := WriteControlMessage(stream, ControlMessage{Type: CtrlPing, Ts: time.Now().UnixNano()}); err != nil {
				return
			}
		case <-pongCh:
			if !timeout.Stop() {
				<-timeout.C
			}
			timeout.Reset(pongTimeout)
		case <-statsCh:
			// informational only; counters are also tracked locally via
			// activeStreams/totalBytes.
		case <-timeout.C:
			s.log.Warn("tunnel pong timeout, closing connection")
			conn.CloseWithError(0, "pong timeout")
			return
		}
	}
}

func (s *Server) acceptTCP(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		go s.relayTCP(ctx, conn)
	}
}

// relayTCP implements spec.md §4.8's dataplane steps: open a stream on
// the active tunnel, write the per-stream header, then pipe bytes in
// both directions until either side closes. If there is no active
// tunnel, the TCP connection is closed immediately with no bytes sent.
func (s *Server) relayTCP(ctx context.Context, tcpConn net.Conn) {
	defer tcpConn.Close()

	active := s.currentActive()
	if active == nil {
		return
	}

	stream, err := active.OpenStreamSync(ctx)
	if err != nil {
		s.log.Warn("open data stream", "error", err)
		return
	}
	defer stream.Close()

	clientIP := parseIP(tcpConn.RemoteAddr())
	header, err := EncodeStreamHeader(clientIP, uint64(time.Now().UnixNano()))
	if err != nil {
		s.log.Warn("encode stream header", "error", err)
		return
	}
	if _, err := stream.Write(header); err != nil {
		return
	}

	s.activeStreams.Add(1)
	s.metrics.RelayActiveStreams.Set(float64(s.activeStreams.Load()))
	defer func() {
		s.activeStreams.Add(-1)
		s.metrics.RelayActiveStreams.Set(float64(s.activeStreams.Load()))
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		n, _ := io.Copy(stream, tcpConn)
		s.totalBytes.Add(n)
		s.metrics.RelayBytesTotal.WithLabelValues("tx").Add(float64(n))
		stream.Close()
	}()
	go func() {
		defer wg.Done()
		n, _ := io.Copy(tcpConn, stream)
		s.totalBytes.Add(n)
		s.metrics.RelayBytesTotal.WithLabelValues("rx").Add(float64(n))
		if cw, ok := tcpConn.(interface{ CloseWrite() error }); ok {
			cw.CloseWrite()
		}
	}()
	wg.Wait()
}

// Stats returns the current active-stream count and cumulative byte
// total, for a future relay_stats control message or admin surface.
func (s *Server) Stats() (activeStreams int32, totalBytes int64) {
	return s.activeStreams.Load(), s.totalBytes.Load()
}

func parseIP(addr net.Addr) net.IP {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return net.ParseIP(addr.String())
	}
	return net.ParseIP(host)
}

func hostOnly(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func quicServerConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:        30 * time.Second,
		KeepAlivePeriod:       10 * time.Second,
		MaxIncomingStreams:    4096,
		MaxIncomingUniStreams: 256,
	}
}
