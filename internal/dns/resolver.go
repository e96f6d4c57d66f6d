package dns

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/localplatform/homeroute/internal/clock"
	"github.com/localplatform/homeroute/internal/dhcp"
	"github.com/localplatform/homeroute/internal/events"
	"github.com/localplatform/homeroute/internal/logging"
	"github.com/localplatform/homeroute/internal/metrics"
	"github.com/miekg/dns"
)

// BlockChecker decides whether a query name is on an adblock list. The
// concrete implementation (internal/adblock) is injected so this package
// never depends on the list-format parsers.
type BlockChecker interface {
	IsBlocked(name string) bool
}

const (
	hostExpansionTTL = 60
	wildcardTTL      = 300
	blockTTL         = 300
)

// Resolver implements the six-step resolution chain of spec.md §4.3:
// DHCP host expansion → static records → wildcard local domain →
// adblock → cache → upstream forward.
type Resolver struct {
	cfg     *Config
	leases  *dhcp.LeaseStore // nil if host expansion has no backing DHCP scope
	adblock BlockChecker     // nil disables adblock entirely
	cache   *Cache
	client  *dns.Client
	hub     *events.Hub
	log     *logging.Logger
	clk     clock.Clock
	metrics *metrics.Registry
}

// NewResolver builds a Resolver. leases and adblock may be nil to
// disable those steps.
func NewResolver(cfg *Config, leases *dhcp.LeaseStore, adblock BlockChecker, hub *events.Hub) *Resolver {
	timeout := time.Duration(cfg.UpstreamTimeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	maxEntries := cfg.CacheMaxEntries
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &Resolver{
		cfg:     cfg,
		leases:  leases,
		adblock: adblock,
		cache:   NewCache(maxEntries),
		client:  &dns.Client{Timeout: timeout},
		hub:     hub,
		log:     logging.WithComponent("dns"),
		clk:     &clock.RealClock{},
		metrics: metrics.Get(),
	}
}

// WithClock overrides the clock used for query-duration event metadata.
func (r *Resolver) WithClock(clk clock.Clock) *Resolver {
	r.clk = clk
	return r
}

// Resolve answers one question from req, trying each resolution step in
// order and falling through on a miss. req must carry exactly one
// question, as sent by client stub resolvers.
func (r *Resolver) Resolve(ctx context.Context, clientIP string, req *dns.Msg) *dns.Msg {
	start := r.clk.Now()
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Compress = false

	if len(req.Question) != 1 {
		resp.Rcode = dns.RcodeFormatError
		return resp
	}
	q := req.Question[0]
	name := strings.ToLower(q.Name)

	if rrs, ok := r.resolveHostExpansion(name, q.Qtype); ok {
		resp.Answer = rrs
		r.finish(clientIP, name, q.Qtype, resp, false, false, start)
		return resp
	}

	if rrs, ok := r.resolveStatic(name, q.Qtype); ok {
		resp.Answer = rrs
		r.finish(clientIP, name, q.Qtype, resp, false, false, start)
		return resp
	}

	if rrs, hit := r.resolveWildcard(name, q.Qtype); hit {
		resp.Answer = rrs // may be empty: NOERROR/NODATA, not NXDOMAIN
		r.finish(clientIP, name, q.Qtype, resp, false, false, start)
		return resp
	}

	if r.adblock != nil && r.cfg.AdblockEnabled && r.adblock.IsBlocked(name) {
		r.blockedReply(resp, q.Qtype)
		r.finish(clientIP, name, q.Qtype, resp, true, false, start)
		return resp
	}

	if rrs, negative, ok := r.cache.Get(name, q.Qtype); ok {
		r.metrics.DNSCacheHits.Inc()
		if negative {
			resp.Rcode = dns.RcodeNameError
		} else {
			resp.Answer = rrs
		}
		r.finish(clientIP, name, q.Qtype, resp, false, true, start)
		return resp
	}
	r.metrics.DNSCacheMisses.Inc()

	upstreamResp := r.forwardUpstream(req)
	if upstreamResp == nil {
		resp.Rcode = dns.RcodeServerFailure
		r.finish(clientIP, name, q.Qtype, resp, false, false, start)
		return resp
	}

	if len(upstreamResp.Answer) > 0 {
		r.cache.Insert(name, q.Qtype, upstreamResp.Answer)
	} else if upstreamResp.Rcode == dns.RcodeNameError || upstreamResp.Rcode == dns.RcodeSuccess {
		r.cache.InsertNegative(name, q.Qtype, soaMinimum(upstreamResp))
	}

	upstreamResp.Id = req.Id
	r.finish(clientIP, name, q.Qtype, upstreamResp, false, false, start)
	return upstreamResp
}

// finish records the query's outcome to both the event bus and the
// Prometheus registry, then returns. resp is the final answer sent to
// the client, inspected only to classify the result label.
func (r *Resolver) finish(clientIP, name string, qtype uint16, resp *dns.Msg, blocked, cached bool, start time.Time) {
	r.metrics.DNSQueriesTotal.WithLabelValues(dns.TypeToString[qtype], queryResult(resp, blocked)).Inc()

	if r.hub == nil {
		return
	}
	typ := events.TypeDNSQuery
	if blocked {
		typ = events.TypeDNSBlock
	}
	r.hub.Publish(events.Event{
		Type:   typ,
		Source: "dns",
		Data: events.DNSQueryData{
			ClientIP:   clientIP,
			Name:       name,
			Type:       dns.TypeToString[qtype],
			Blocked:    blocked,
			Cached:     cached,
			DurationMS: r.clk.Now().Sub(start).Milliseconds(),
		},
	})
}

// queryResult classifies resp into the DNSQueriesTotal "result" label.
func queryResult(resp *dns.Msg, blocked bool) string {
	switch {
	case blocked:
		return "blocked"
	case resp.Rcode == dns.RcodeNameError:
		return "nxdomain"
	case resp.Rcode == dns.RcodeServerFailure:
		return "servfail"
	default:
		return "answered"
	}
}

// resolveHostExpansion answers A queries for DHCP lease hostnames,
// stripping the configured local-domain suffix if present. Responses are
// never cached: leases can be renewed or released at any time.
func (r *Resolver) resolveHostExpansion(name string, qtype uint16) ([]dns.RR, bool) {
	if !r.cfg.ExpandHosts || r.leases == nil || qtype != dns.TypeA {
		return nil, false
	}
	hostname := strings.TrimSuffix(name, ".")
	if r.cfg.LocalDomain != "" {
		suffix := "." + strings.ToLower(strings.TrimSuffix(r.cfg.LocalDomain, "."))
		hostname = strings.TrimSuffix(hostname, suffix)
	}
	lease, ok := r.leases.FindByHostname(hostname)
	if !ok || lease.IP == nil {
		return nil, false
	}
	rr := &dns.A{
		Hdr: dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: hostExpansionTTL},
		A:   lease.IP.To4(),
	}
	return []dns.RR{rr}, true
}

func (r *Resolver) resolveStatic(name string, qtype uint16) ([]dns.RR, bool) {
	var matches []dns.RR
	for _, rec := range r.cfg.StaticRecords {
		if strings.ToLower(dns.Fqdn(rec.Name)) != name {
			continue
		}
		if qtype != dns.TypeANY && rec.Type != qtype {
			continue
		}
		rr, err := buildRR(name, rec)
		if err != nil {
			continue
		}
		matches = append(matches, rr)
	}
	return matches, len(matches) > 0
}

// resolveWildcard answers any A/AAAA/ANY query under the configured local
// domain (or an exact match of it) with the configured wildcard address.
// A hit with no matching type still counts as a hit (empty NOERROR), so
// the caller does not fall through to adblock/upstream for local names.
func (r *Resolver) resolveWildcard(name string, qtype uint16) ([]dns.RR, bool) {
	if r.cfg.LocalDomain == "" {
		return nil, false
	}
	domain := strings.ToLower(dns.Fqdn(r.cfg.LocalDomain))
	if name != domain && !strings.HasSuffix(name, "."+domain) {
		return nil, false
	}
	if qtype != dns.TypeA && qtype != dns.TypeAAAA && qtype != dns.TypeANY {
		return nil, true
	}
	var rrs []dns.RR
	if (qtype == dns.TypeA || qtype == dns.TypeANY) && r.cfg.WildcardIPv4 != nil {
		rrs = append(rrs, &dns.A{
			Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: wildcardTTL},
			A:   r.cfg.WildcardIPv4.To4(),
		})
	}
	if (qtype == dns.TypeAAAA || qtype == dns.TypeANY) && r.cfg.WildcardIPv6 != nil {
		rrs = append(rrs, &dns.AAAA{
			Hdr:  dns.RR_Header{Name: name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: wildcardTTL},
			AAAA: r.cfg.WildcardIPv6.To16(),
		})
	}
	return rrs, true
}

// blockedReply fills resp per the configured BlockResponse.
func (r *Resolver) blockedReply(resp *dns.Msg, qtype uint16) {
	if r.cfg.BlockResponse == BlockResponseZeroIP && (qtype == dns.TypeA || qtype == dns.TypeAAAA) {
		name := resp.Question[0].Name
		if qtype == dns.TypeA {
			resp.Answer = []dns.RR{&dns.A{
				Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: blockTTL},
				A:   net.IPv4zero,
			}}
		} else {
			resp.Answer = []dns.RR{&dns.AAAA{
				Hdr:  dns.RR_Header{Name: name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: blockTTL},
				AAAA: net.IPv6zero,
			}}
		}
		return
	}
	resp.Rcode = dns.RcodeNameError
}

// forwardUpstream tries the configured upstreams in order: the first at
// half the configured timeout, the rest at the full timeout (spec.md
// §4.3/§5). A truncated UDP reply is retried over TCP. A reply that
// cannot be parsed counts as a failure of that upstream, and the next one
// is tried. Returns nil if every upstream failed; the caller turns that
// into SERVFAIL rather than relaying raw bytes.
func (r *Resolver) forwardUpstream(req *dns.Msg) *dns.Msg {
	query := new(dns.Msg)
	query.SetQuestion(req.Question[0].Name, req.Question[0].Qtype)
	query.RecursionDesired = true

	for i, up := range r.cfg.Upstreams {
		timeout := r.client.Timeout
		if i == 0 {
			timeout /= 2
		}
		client := &dns.Client{Timeout: timeout}
		resp, rtt, err := client.Exchange(query, up.Addr)
		if err != nil || resp == nil {
			r.log.Debug("upstream exchange failed", "upstream", up.Addr, "error", err)
			continue
		}
		r.metrics.DNSUpstreamMS.WithLabelValues(up.Addr).Observe(rtt.Seconds())
		if resp.Truncated {
			tcpClient := &dns.Client{Net: "tcp", Timeout: r.client.Timeout}
			if tcpResp, _, tcpErr := tcpClient.Exchange(query, up.Addr); tcpErr == nil && tcpResp != nil {
				resp = tcpResp
			}
		}
		return resp
	}
	return nil
}

func buildRR(name string, rec StaticRecord) (dns.RR, error) {
	hdr := dns.RR_Header{Name: name, Rrtype: rec.Type, Class: dns.ClassINET, Ttl: rec.TTL}
	switch rec.Type {
	case dns.TypeA:
		return &dns.A{Hdr: hdr, A: net.ParseIP(rec.Value).To4()}, nil
	case dns.TypeAAAA:
		return &dns.AAAA{Hdr: hdr, AAAA: net.ParseIP(rec.Value).To16()}, nil
	case dns.TypeCNAME:
		return &dns.CNAME{Hdr: hdr, Target: dns.Fqdn(rec.Value)}, nil
	case dns.TypeTXT:
		return &dns.TXT{Hdr: hdr, Txt: []string{rec.Value}}, nil
	case dns.TypePTR:
		return &dns.PTR{Hdr: hdr, Ptr: dns.Fqdn(rec.Value)}, nil
	default:
		return dns.NewRR(rec.Value)
	}
}

func soaMinimum(resp *dns.Msg) uint32 {
	for _, rr := range resp.Ns {
		if soa, ok := rr.(*dns.SOA); ok {
			return soa.Minimum
		}
	}
	return 60
}
