package dns

import (
	"context"
	"net"
	"testing"

	"github.com/localplatform/homeroute/internal/dhcp"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlocker struct {
	blocked map[string]bool
}

func (f *fakeBlocker) IsBlocked(name string) bool { return f.blocked[name] }

func question(name string, qtype uint16) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	return m
}

func TestResolveHostExpansionBeatsWildcard(t *testing.T) {
	leases := dhcp.NewLeaseStore(t.TempDir() + "/leases")
	leases.AddOrReplace(&dhcp.Lease{Expiry: 9_999_999_999, MAC: "aa:bb:cc:dd:ee:01", IP: net.ParseIP("10.0.0.50").To4(), Hostname: "laptop"})

	cfg := &Config{
		ExpandHosts:  true,
		LocalDomain:  "lan.",
		WildcardIPv4: net.ParseIP("10.0.0.1"),
	}
	r := NewResolver(cfg, leases, nil, nil)

	resp := r.Resolve(context.Background(), "10.0.0.2", question("laptop.lan.", dns.TypeA))
	require.Len(t, resp.Answer, 1)
	a := resp.Answer[0].(*dns.A)
	assert.Equal(t, "10.0.0.50", a.A.String())
}

func TestResolveStaticRecordExactMatch(t *testing.T) {
	cfg := &Config{
		StaticRecords: []StaticRecord{{Name: "router.lan.", Type: dns.TypeA, Value: "10.0.0.1", TTL: 300}},
	}
	r := NewResolver(cfg, nil, nil, nil)

	resp := r.Resolve(context.Background(), "10.0.0.2", question("router.lan.", dns.TypeA))
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
}

func TestResolveWildcardEmptyForUnmatchedTypeIsNoerrorNotNxdomain(t *testing.T) {
	cfg := &Config{LocalDomain: "lan.", WildcardIPv4: net.ParseIP("10.0.0.1")}
	r := NewResolver(cfg, nil, nil, nil)

	resp := r.Resolve(context.Background(), "10.0.0.2", question("host.lan.", dns.TypeMX))
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	assert.Empty(t, resp.Answer)
}

func TestResolveAdblockNXDOMAIN(t *testing.T) {
	cfg := &Config{AdblockEnabled: true, BlockResponse: BlockResponseNXDOMAIN}
	r := NewResolver(cfg, nil, &fakeBlocker{blocked: map[string]bool{"ads.example.": true}}, nil)

	resp := r.Resolve(context.Background(), "10.0.0.2", question("ads.example.", dns.TypeA))
	assert.Equal(t, dns.RcodeNameError, resp.Rcode)
}

func TestResolveAdblockZeroIP(t *testing.T) {
	cfg := &Config{AdblockEnabled: true, BlockResponse: BlockResponseZeroIP}
	r := NewResolver(cfg, nil, &fakeBlocker{blocked: map[string]bool{"ads.example.": true}}, nil)

	resp := r.Resolve(context.Background(), "10.0.0.2", question("ads.example.", dns.TypeA))
	require.Len(t, resp.Answer, 1)
	a := resp.Answer[0].(*dns.A)
	assert.True(t, a.A.Equal(net.IPv4zero))
}

func TestResolveCacheHitSkipsUpstream(t *testing.T) {
	cfg := &Config{Upstreams: []Upstream{{Addr: "127.0.0.1:1"}}}
	r := NewResolver(cfg, nil, nil, nil)
	r.cache.Insert("cached.example.", dns.TypeA, []dns.RR{aRecord("cached.example.", 300)})

	resp := r.Resolve(context.Background(), "10.0.0.2", question("cached.example.", dns.TypeA))
	require.Len(t, resp.Answer, 1)
}

func TestResolveNoUpstreamsReturnsServfail(t *testing.T) {
	cfg := &Config{}
	r := NewResolver(cfg, nil, nil, nil)

	resp := r.Resolve(context.Background(), "10.0.0.2", question("unknown.example.", dns.TypeA))
	assert.Equal(t, dns.RcodeServerFailure, resp.Rcode)
}

func TestResolveRejectsMultiQuestionMessages(t *testing.T) {
	r := NewResolver(&Config{}, nil, nil, nil)
	m := question("a.example.", dns.TypeA)
	m.Question = append(m.Question, dns.Question{Name: "b.example.", Qtype: dns.TypeA, Qclass: dns.ClassINET})

	resp := r.Resolve(context.Background(), "10.0.0.2", m)
	assert.Equal(t, dns.RcodeFormatError, resp.Rcode)
}
