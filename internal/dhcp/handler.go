package dhcp

import (
	"net"
	"strings"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/localplatform/homeroute/internal/clock"
	"github.com/localplatform/homeroute/internal/events"
	"github.com/localplatform/homeroute/internal/logging"
	"github.com/localplatform/homeroute/internal/metrics"
)

// shortReservation is how long a DISCOVER's OFFER reserves an IP before
// it is either promoted by a REQUEST or falls off naturally.
const shortReservation = 60 * time.Second

// Handler runs the RFC 2131 state machine for one scope against its
// LeaseStore, building dhcpv4 reply packets.
type Handler struct {
	cfg      *Config
	leases   *LeaseStore
	serverIP net.IP
	clk      clock.Clock
	hub      *events.Hub
	log      *logging.Logger
	metrics  *metrics.Registry
}

// NewHandler builds a Handler for cfg, backed by leases.
func NewHandler(cfg *Config, leases *LeaseStore, serverIP net.IP, hub *events.Hub) *Handler {
	return &Handler{
		cfg:      cfg,
		leases:   leases,
		serverIP: serverIP,
		clk:      &clock.RealClock{},
		hub:      hub,
		log:      logging.WithComponent("dhcp"),
		metrics:  metrics.Get(),
	}
}

// WithClock overrides the clock, for deterministic lease-expiry tests.
func (h *Handler) WithClock(clk clock.Clock) *Handler {
	h.clk = clk
	return h
}

// Handle dispatches m to the appropriate state-machine step and returns
// the reply to send, or nil if the server must stay silent.
func (h *Handler) Handle(m *dhcpv4.DHCPv4) *dhcpv4.DHCPv4 {
	h.metrics.DHCPRequestsTotal.WithLabelValues(strings.ToLower(m.MessageType().String())).Inc()
	switch m.MessageType() {
	case dhcpv4.MessageTypeDiscover:
		return h.handleDiscover(m)
	case dhcpv4.MessageTypeRequest:
		return h.handleRequest(m)
	case dhcpv4.MessageTypeRelease:
		h.handleRelease(m)
		return nil
	case dhcpv4.MessageTypeDecline:
		h.handleDecline(m)
		return nil
	case dhcpv4.MessageTypeInform:
		return h.handleInform(m)
	default:
		h.log.Debug("ignoring message type", "type", m.MessageType().String())
		return nil
	}
}

func (h *Handler) handleDiscover(m *dhcpv4.DHCPv4) *dhcpv4.DHCPv4 {
	mac := strings.ToLower(m.ClientHWAddr.String())
	h.log.Info("DHCPDISCOVER", "mac", mac)

	ip, hostname, ok := h.leases.AllocateIP(mac, h.cfg.RangeStart, h.cfg.RangeEnd, h.cfg.StaticLeases)
	if !ok {
		h.log.Warn("DHCP pool exhausted", "mac", mac)
		h.metrics.DHCPPoolExhausted.Inc()
		return nil
	}

	h.leases.AddOrReplace(&Lease{
		Expiry:   uint64(h.clk.Now().Add(shortReservation).Unix()),
		MAC:      mac,
		IP:       ip,
		Hostname: hostname,
		ClientID: clientID(m),
	})

	h.log.Info("DHCPOFFER", "mac", mac, "ip", ip)

	opts := h.standardOptions()
	if hostname != "" {
		opts = append(opts, dhcpv4.OptGeneric(dhcpv4.OptionHostName, []byte(hostname)))
	}

	modifiers := append([]dhcpv4.Modifier{
		dhcpv4.WithMessageType(dhcpv4.MessageTypeOffer),
		dhcpv4.WithYourIP(ip),
	}, optionModifiers(opts)...)

	reply, err := dhcpv4.NewReplyFromRequest(m, modifiers...)
	if err != nil {
		h.log.Error("building OFFER failed", "error", err)
		return nil
	}
	// DHCPOFFER: ciaddr is always 0 (RFC 2131 §4.3.1).
	reply.ClientIPAddr = net.IPv4zero
	return reply
}

func (h *Handler) handleRequest(m *dhcpv4.DHCPv4) *dhcpv4.DHCPv4 {
	mac := strings.ToLower(m.ClientHWAddr.String())

	if serverID := m.ServerIdentifier(); serverID != nil && !serverID.Equal(h.serverIP) {
		h.log.Debug("DHCPREQUEST for a different server", "mac", mac, "server", serverID)
		return nil
	}

	requestedIP := m.RequestedIPAddress()
	if requestedIP == nil || requestedIP.IsUnspecified() {
		if !m.ClientIPAddr.IsUnspecified() {
			requestedIP = m.ClientIPAddr
		}
	}
	if requestedIP == nil || requestedIP.IsUnspecified() {
		h.log.Warn("DHCPREQUEST without a requested IP", "mac", mac)
		return h.buildNAK(m)
	}

	isInitReboot := m.ServerIdentifier() == nil && m.RequestedIPAddress() != nil && m.ClientIPAddr.IsUnspecified()
	if isInitReboot {
		if _, ok := h.leases.FindByMAC(mac); !ok {
			h.log.Debug("INIT-REBOOT with no record, staying silent", "mac", mac, "ip", requestedIP)
			return nil
		}
	}

	isStatic := false
	for _, st := range h.cfg.StaticLeases {
		if strings.ToLower(st.MAC) == mac && st.IP.Equal(requestedIP) {
			isStatic = true
			break
		}
	}
	inRange := ipToUint32(requestedIP) >= ipToUint32(h.cfg.RangeStart) && ipToUint32(requestedIP) <= ipToUint32(h.cfg.RangeEnd)
	if !isStatic && !inRange {
		h.log.Warn("DHCPNAK: requested IP out of range", "mac", mac, "ip", requestedIP)
		return h.buildNAK(m)
	}

	if existing, ok := h.leases.GetByIP(requestedIP); ok && existing.MAC != mac {
		if existing.Expiry > uint64(h.clk.Now().Unix()) {
			h.log.Warn("DHCPNAK: IP leased to a different MAC", "mac", mac, "ip", requestedIP, "holder", existing.MAC)
			return h.buildNAK(m)
		}
	}

	hostname := m.HostName()
	if hostname == "" {
		for _, st := range h.cfg.StaticLeases {
			if strings.ToLower(st.MAC) == mac && st.Hostname != "" {
				hostname = st.Hostname
				break
			}
		}
	}

	leaseTime := h.cfg.DefaultLeaseTime
	if leaseTime == 0 {
		leaseTime = 86400
	}
	h.leases.AddOrReplace(&Lease{
		Expiry:   uint64(h.clk.Now().Unix()) + uint64(leaseTime),
		MAC:      mac,
		IP:       requestedIP,
		Hostname: hostname,
		ClientID: clientID(m),
	})

	h.log.Info("DHCPACK", "mac", mac, "ip", requestedIP, "hostname", hostname)
	h.metrics.DHCPLeaseCount.Set(float64(len(h.leases.All())))
	if h.hub != nil {
		h.hub.Publish(events.Event{Type: events.TypeDHCPLease, Data: events.DHCPLeaseData{MAC: mac, IP: requestedIP.String(), Hostname: hostname}})
	}

	opts := h.standardOptions()
	if hostname != "" {
		opts = append(opts, dhcpv4.OptGeneric(dhcpv4.OptionHostName, []byte(hostname)))
	}

	modifiers := append([]dhcpv4.Modifier{
		dhcpv4.WithMessageType(dhcpv4.MessageTypeAck),
		dhcpv4.WithYourIP(requestedIP),
	}, optionModifiers(opts)...)

	reply, err := dhcpv4.NewReplyFromRequest(m, modifiers...)
	if err != nil {
		h.log.Error("building ACK failed", "error", err)
		return nil
	}
	// DHCPACK: echo the client's ciaddr (RFC 2131 §4.3.1 Table 3).
	reply.ClientIPAddr = m.ClientIPAddr
	return reply
}

func (h *Handler) handleRelease(m *dhcpv4.DHCPv4) {
	mac := strings.ToLower(m.ClientHWAddr.String())
	ip := m.ClientIPAddr
	if ip == nil || ip.IsUnspecified() {
		return
	}
	if existing, ok := h.leases.GetByIP(ip); ok && existing.MAC != mac {
		h.log.Warn("DHCPRELEASE MAC mismatch", "mac", mac, "ip", ip, "holder", existing.MAC)
		return
	}
	h.log.Info("DHCPRELEASE", "mac", mac, "ip", ip)
	h.leases.Remove(ip)
	h.metrics.DHCPLeaseCount.Set(float64(len(h.leases.All())))
	if h.hub != nil {
		h.hub.Publish(events.Event{Type: events.TypeDHCPExpire, Data: events.DHCPLeaseData{MAC: mac, IP: ip.String()}})
	}
}

func (h *Handler) handleDecline(m *dhcpv4.DHCPv4) {
	mac := strings.ToLower(m.ClientHWAddr.String())
	ip := m.RequestedIPAddress()
	if ip == nil {
		return
	}
	if existing, ok := h.leases.GetByIP(ip); ok && existing.MAC != mac {
		h.log.Warn("DHCPDECLINE MAC mismatch", "mac", mac, "ip", ip, "holder", existing.MAC)
		return
	}
	h.log.Info("DHCPDECLINE", "mac", mac, "ip", ip)
	h.leases.Remove(ip)
	h.metrics.DHCPLeaseCount.Set(float64(len(h.leases.All())))
}

func (h *Handler) handleInform(m *dhcpv4.DHCPv4) *dhcpv4.DHCPv4 {
	mac := strings.ToLower(m.ClientHWAddr.String())
	h.log.Info("DHCPINFORM", "mac", mac)

	modifiers := append([]dhcpv4.Modifier{
		dhcpv4.WithMessageType(dhcpv4.MessageTypeAck),
		dhcpv4.WithYourIP(net.IPv4zero),
	}, optionModifiers(h.standardOptions())...)

	reply, err := dhcpv4.NewReplyFromRequest(m, modifiers...)
	if err != nil {
		h.log.Error("building INFORM reply failed", "error", err)
		return nil
	}
	// INFORM: yiaddr=0, echo the client's ciaddr.
	reply.ClientIPAddr = m.ClientIPAddr
	return reply
}

func (h *Handler) buildNAK(m *dhcpv4.DHCPv4) *dhcpv4.DHCPv4 {
	modifiers := append([]dhcpv4.Modifier{
		dhcpv4.WithMessageType(dhcpv4.MessageTypeNak),
		dhcpv4.WithYourIP(net.IPv4zero),
	}, optionModifiers([]dhcpv4.Option{
		dhcpv4.OptGeneric(dhcpv4.OptionServerIdentifier, h.serverIP.To4()),
	})...)

	reply, err := dhcpv4.NewReplyFromRequest(m, modifiers...)
	if err != nil {
		h.log.Error("building NAK failed", "error", err)
		return nil
	}
	// DHCPNAK: ciaddr and yiaddr are always 0 (RFC 2131 §4.3.2).
	reply.ClientIPAddr = net.IPv4zero
	return reply
}

// standardOptions builds the option set every OFFER/ACK/INFORM carries:
// server identifier, lease time, T1/T2, netmask, router, DNS, domain and
// broadcast address.
func (h *Handler) standardOptions() []dhcpv4.Option {
	leaseTime := h.cfg.DefaultLeaseTime
	if leaseTime == 0 {
		leaseTime = 86400
	}
	t1 := leaseTime / 2
	t2 := leaseTime * 7 / 8

	opts := []dhcpv4.Option{
		dhcpv4.OptGeneric(dhcpv4.OptionServerIdentifier, h.serverIP.To4()),
		dhcpv4.OptGeneric(dhcpv4.OptionIPAddressLeaseTime, uint32Bytes(leaseTime)),
		dhcpv4.OptGeneric(dhcpv4.GenericOptionCode(58), uint32Bytes(t1)),
		dhcpv4.OptGeneric(dhcpv4.GenericOptionCode(59), uint32Bytes(t2)),
	}
	if len(h.cfg.Netmask) == 4 {
		opts = append(opts, dhcpv4.OptGeneric(dhcpv4.OptionSubnetMask, []byte(h.cfg.Netmask)))
	}
	if h.cfg.Gateway != nil {
		opts = append(opts, dhcpv4.OptGeneric(dhcpv4.OptionRouter, h.cfg.Gateway.To4()))
	}
	if len(h.cfg.DNSServers) > 0 {
		var b []byte
		for _, ip := range h.cfg.DNSServers {
			b = append(b, ip.To4()...)
		}
		opts = append(opts, dhcpv4.OptGeneric(dhcpv4.OptionDomainNameServer, b))
	}
	if h.cfg.Domain != "" {
		opts = append(opts, dhcpv4.OptGeneric(dhcpv4.OptionDomainName, []byte(h.cfg.Domain)))
	}
	if bcast := h.cfg.BroadcastAddress(); bcast != nil {
		opts = append(opts, dhcpv4.OptGeneric(dhcpv4.OptionBroadcastAddress, bcast.To4()))
	}
	return opts
}

func uint32Bytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func optionModifiers(opts []dhcpv4.Option) []dhcpv4.Modifier {
	mods := make([]dhcpv4.Modifier, len(opts))
	for i, o := range opts {
		mods[i] = dhcpv4.WithOption(o)
	}
	return mods
}

func clientID(m *dhcpv4.DHCPv4) string {
	opt := m.Options.Get(dhcpv4.OptionClientIdentifier)
	if opt == nil {
		return ""
	}
	return string(opt)
}
