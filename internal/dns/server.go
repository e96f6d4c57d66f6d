package dns

import (
	"context"
	"net"

	"github.com/localplatform/homeroute/internal/logging"
	"github.com/miekg/dns"
)

// Server runs UDP and TCP listeners on :53 behind a shared Resolver,
// mirroring the teacher's dns.Server/dns.Handler wiring.
type Server struct {
	resolver *Resolver
	addr     string
	log      *logging.Logger

	udp *dns.Server
	tcp *dns.Server
}

// NewServer builds a Server bound to addr (host:port, typically ":53").
func NewServer(resolver *Resolver, addr string) *Server {
	return &Server{resolver: resolver, addr: addr, log: logging.WithComponent("dns")}
}

// ServeDNS implements dns.Handler.
func (s *Server) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	clientIP := ""
	if a, ok := w.RemoteAddr().(*net.UDPAddr); ok {
		clientIP = a.IP.String()
	} else if a, ok := w.RemoteAddr().(*net.TCPAddr); ok {
		clientIP = a.IP.String()
	}

	resp := s.resolver.Resolve(context.Background(), clientIP, r)
	if err := w.WriteMsg(resp); err != nil {
		s.log.Warn("failed to write DNS response", "client", clientIP, "error", err)
	}
}

// Run starts the UDP and TCP listeners and blocks until ctx is
// cancelled. It implements the internal/supervisor.Factory signature.
func (s *Server) Run(ctx context.Context) error {
	s.udp = &dns.Server{Addr: s.addr, Net: "udp", Handler: s}
	s.tcp = &dns.Server{Addr: s.addr, Net: "tcp", Handler: s}

	errCh := make(chan error, 2)
	go func() { errCh <- s.udp.ListenAndServe() }()
	go func() { errCh <- s.tcp.ListenAndServe() }()

	select {
	case <-ctx.Done():
		s.udp.Shutdown()
		s.tcp.Shutdown()
		return nil
	case err := <-errCh:
		s.udp.Shutdown()
		s.tcp.Shutdown()
		return err
	}
}
