package dhcp

import (
	"context"
	"net"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/server4"
	"github.com/localplatform/homeroute/internal/logging"
)

// Server binds UDP/67, enabling SO_BROADCAST/SO_REUSEADDR via
// server4.NewIPv4UDPConn, and runs Handler against every inbound packet.
type Server struct {
	handler *Handler
	log     *logging.Logger
	conn    net.PacketConn
}

// NewServer builds a Server for handler. iface, if non-empty, restricts
// the bind to one named network interface.
func NewServer(handler *Handler, iface string) (*Server, error) {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: 67}
	conn, err := server4.NewIPv4UDPConn(iface, addr)
	if err != nil {
		return nil, err
	}
	return &Server{handler: handler, log: logging.WithComponent("dhcp"), conn: conn}, nil
}

// Run reads packets until ctx is cancelled or the socket errors. It
// implements the internal/supervisor.Factory signature.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	buf := make([]byte, 4096)
	for {
		n, peer, err := s.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		pkt, err := dhcpv4.FromBytes(buf[:n])
		if err != nil {
			s.log.Debug("dropping malformed DHCP packet", "error", err)
			continue
		}
		if pkt.OpCode != dhcpv4.OpcodeBootRequest {
			continue
		}

		reply := s.handler.Handle(pkt)
		if reply == nil {
			continue
		}
		dest := s.destinationFor(pkt, reply, peer)
		if _, err := s.conn.WriteTo(reply.ToBytes(), dest); err != nil {
			s.log.Warn("failed to send DHCP reply", "dest", dest, "error", err)
		}
	}
}

// destinationFor picks broadcast vs unicast per spec.md §4.2: NAK is
// always broadcast; otherwise broadcast if the client set the broadcast
// flag or ciaddr is unspecified, unicast to ciaddr:68 otherwise.
func (s *Server) destinationFor(request, reply *dhcpv4.DHCPv4, peer net.Addr) net.Addr {
	broadcastAddr := &net.UDPAddr{IP: net.IPv4bcast, Port: 68}

	if reply.MessageType() == dhcpv4.MessageTypeNak {
		return broadcastAddr
	}
	if request.IsBroadcast() || request.ClientIPAddr.IsUnspecified() {
		return broadcastAddr
	}
	return &net.UDPAddr{IP: request.ClientIPAddr, Port: 68}
}
