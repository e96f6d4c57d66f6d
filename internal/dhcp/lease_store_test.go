package dhcp

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/localplatform/homeroute/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaseStoreAddOrReplaceCleansDisplacedIndexes(t *testing.T) {
	s := NewLeaseStore(filepath.Join(t.TempDir(), "leases"))

	s.AddOrReplace(&Lease{Expiry: 1_000_000, MAC: "aa:bb:cc:dd:ee:01", IP: net.ParseIP("10.0.0.10").To4(), Hostname: "alpha"})
	// Same IP re-leased to a different MAC must drop the old MAC's index.
	s.AddOrReplace(&Lease{Expiry: 1_000_000, MAC: "aa:bb:cc:dd:ee:02", IP: net.ParseIP("10.0.0.10").To4(), Hostname: "beta"})

	_, ok := s.FindByMAC("aa:bb:cc:dd:ee:01")
	assert.False(t, ok, "displaced MAC must no longer resolve")
	_, ok = s.FindByHostname("alpha")
	assert.False(t, ok, "displaced hostname must no longer resolve")

	lease, ok := s.FindByMAC("aa:bb:cc:dd:ee:02")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.10", lease.IP.String())

	// Same MAC re-leased to a different IP must drop the old IP entry.
	s.AddOrReplace(&Lease{Expiry: 1_000_000, MAC: "aa:bb:cc:dd:ee:02", IP: net.ParseIP("10.0.0.20").To4(), Hostname: "beta"})
	_, ok = s.GetByIP(net.ParseIP("10.0.0.10"))
	assert.False(t, ok)
}

func TestLeaseStoreRemoveIsIdempotent(t *testing.T) {
	s := NewLeaseStore(filepath.Join(t.TempDir(), "leases"))
	ip := net.ParseIP("10.0.0.10")
	s.AddOrReplace(&Lease{Expiry: 1_000_000, MAC: "aa:bb:cc:dd:ee:01", IP: ip.To4()})

	s.Remove(ip)
	s.Remove(ip) // must not panic or error
	_, ok := s.GetByIP(ip)
	assert.False(t, ok)
}

func TestLeaseStoreIsInUseRespectsExpiry(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(1000, 0))
	s := NewLeaseStore(filepath.Join(t.TempDir(), "leases")).WithClock(clk)

	ip := net.ParseIP("10.0.0.10").To4()
	s.AddOrReplace(&Lease{Expiry: 1050, MAC: "aa:bb:cc:dd:ee:01", IP: ip})
	assert.True(t, s.IsInUse(ip))

	clk.Set(time.Unix(1100, 0))
	assert.False(t, s.IsInUse(ip))
}

func TestLeaseStorePurgeExpired(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(2000, 0))
	s := NewLeaseStore(filepath.Join(t.TempDir(), "leases")).WithClock(clk)

	s.AddOrReplace(&Lease{Expiry: 1000, MAC: "aa:bb:cc:dd:ee:01", IP: net.ParseIP("10.0.0.1").To4(), Hostname: "old"})
	s.AddOrReplace(&Lease{Expiry: 9999, MAC: "aa:bb:cc:dd:ee:02", IP: net.ParseIP("10.0.0.2").To4(), Hostname: "fresh"})

	removed := s.PurgeExpired()
	assert.Equal(t, 1, removed)

	_, ok := s.FindByHostname("old")
	assert.False(t, ok)
	_, ok = s.FindByHostname("fresh")
	assert.True(t, ok)
}

func TestLeaseStoreSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leases")
	s := NewLeaseStore(path)
	s.AddOrReplace(&Lease{Expiry: 100, MAC: "aa:bb:cc:dd:ee:01", IP: net.ParseIP("10.0.0.1").To4(), Hostname: "a"})
	s.AddOrReplace(&Lease{Expiry: 200, MAC: "aa:bb:cc:dd:ee:02", IP: net.ParseIP("10.0.0.2").To4()})

	require.NoError(t, s.Save())

	loaded := NewLeaseStore(path)
	require.NoError(t, loaded.Load())

	all := loaded.All()
	assert.Len(t, all, 2)
	lease, ok := loaded.FindByHostname("a")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", lease.IP.String())
}

func TestLeaseStoreLoadSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leases")
	content := "100 aa:bb:cc:dd:ee:01 10.0.0.1 host1 *\nnot a valid line\n200 aa:bb:cc:dd:ee:02 10.0.0.2 * *\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s := NewLeaseStore(path)
	require.NoError(t, s.Load())
	assert.Len(t, s.All(), 2)
}

func TestAllocateIPPriorityOrder(t *testing.T) {
	s := NewLeaseStore(filepath.Join(t.TempDir(), "leases"))
	start := net.ParseIP("10.0.0.10").To4()
	end := net.ParseIP("10.0.0.20").To4()

	// 3. first free address in range, with no existing lease or static entry.
	ip, _, ok := s.AllocateIP("aa:bb:cc:dd:ee:01", start, end, nil)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.10", ip.String())

	// 1. existing lease for the MAC takes priority over reallocation.
	s.AddOrReplace(&Lease{Expiry: 9_999_999_999, MAC: "aa:bb:cc:dd:ee:01", IP: ip})
	ip2, _, ok := s.AllocateIP("aa:bb:cc:dd:ee:01", start, end, nil)
	require.True(t, ok)
	assert.True(t, ip.Equal(ip2))

	// 2. static lease wins for a MAC with no existing lease.
	statics := []StaticLease{{MAC: "aa:bb:cc:dd:ee:02", IP: net.ParseIP("10.0.0.50").To4(), Hostname: "static-host"}}
	ip3, hostname, ok := s.AllocateIP("aa:bb:cc:dd:ee:02", start, end, statics)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.50", ip3.String())
	assert.Equal(t, "static-host", hostname)
}

func TestAllocateIPSkipsReservedAddresses(t *testing.T) {
	s := NewLeaseStore(filepath.Join(t.TempDir(), "leases"))
	start := net.ParseIP("10.0.0.10").To4()
	end := net.ParseIP("10.0.0.11").To4()
	statics := []StaticLease{{MAC: "aa:bb:cc:dd:ee:99", IP: start, Hostname: ""}}

	ip, _, ok := s.AllocateIP("aa:bb:cc:dd:ee:01", start, end, statics)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.11", ip.String(), "first address is reserved for another MAC")
}

func TestAllocateIPPoolExhausted(t *testing.T) {
	s := NewLeaseStore(filepath.Join(t.TempDir(), "leases"))
	clk := clock.NewMockClock(time.Unix(1000, 0))
	s = s.WithClock(clk)
	ip := net.ParseIP("10.0.0.10").To4()
	s.AddOrReplace(&Lease{Expiry: 9_999_999_999, MAC: "aa:bb:cc:dd:ee:01", IP: ip})

	_, _, ok := s.AllocateIP("aa:bb:cc:dd:ee:02", ip, ip, nil)
	assert.False(t, ok)
}
