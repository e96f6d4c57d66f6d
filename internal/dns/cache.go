package dns

import (
	"strings"
	"time"

	"github.com/localplatform/homeroute/internal/clock"
	"github.com/miekg/dns"
)

// maxClampedTTL is the cap spec.md §4.3 places on any cached TTL (1 day),
// and the RFC 2181 §8 treatment of a sign-bit-set TTL as zero.
const maxClampedTTL = 86400

func clampTTL(ttl uint32) uint32 {
	if ttl&0x80000000 != 0 {
		return 0
	}
	if ttl > maxClampedTTL {
		return maxClampedTTL
	}
	return ttl
}

type cacheKey struct {
	name  string
	qtype uint16
}

type cacheEntry struct {
	records    []dns.RR // empty = negative cache (NOERROR/NXDOMAIN with no data)
	negative   bool
	insertedAt time.Time
	ttl        time.Duration
}

func (e *cacheEntry) expired(now time.Time) bool {
	return now.Sub(e.insertedAt) >= e.ttl
}

// recordsWithRemainingTTL returns a copy of the cached records with their
// TTL decremented by however long they've sat in the cache.
func (e *cacheEntry) recordsWithRemainingTTL(now time.Time) []dns.RR {
	elapsed := uint32(now.Sub(e.insertedAt).Seconds())
	out := make([]dns.RR, len(e.records))
	for i, rr := range e.records {
		cp := dns.Copy(rr)
		hdr := cp.Header()
		if hdr.Ttl > elapsed {
			hdr.Ttl -= elapsed
		} else {
			hdr.Ttl = 0
		}
		out[i] = cp
	}
	return out
}

// Cache is the positive/negative DNS answer cache, keyed by (lowercased
// name, qtype), bounded to maxSize entries and evicted
// purge-expired-then-oldest (spec.md §4.3/§8).
type Cache struct {
	maxSize int
	clk     clock.Clock
	entries map[cacheKey]*cacheEntry
	mu      chan struct{} // binary semaphore; see lock()/unlock()
}

// NewCache builds an empty cache bounded to maxSize entries.
func NewCache(maxSize int) *Cache {
	c := &Cache{
		maxSize: maxSize,
		clk:     &clock.RealClock{},
		entries: make(map[cacheKey]*cacheEntry),
		mu:      make(chan struct{}, 1),
	}
	c.mu <- struct{}{}
	return c
}

// WithClock overrides the clock, for deterministic TTL-decay tests.
func (c *Cache) WithClock(clk clock.Clock) *Cache {
	c.clk = clk
	return c
}

func (c *Cache) lock()   { <-c.mu }
func (c *Cache) unlock() { c.mu <- struct{}{} }

func key(name string, qtype uint16) cacheKey {
	return cacheKey{name: strings.ToLower(name), qtype: qtype}
}

// Get returns cached records (with remaining TTL applied) and whether the
// hit was negative. The third return is false on a miss or expiry.
func (c *Cache) Get(name string, qtype uint16) (records []dns.RR, negative bool, ok bool) {
	c.lock()
	defer c.unlock()

	e, found := c.entries[key(name, qtype)]
	if !found {
		return nil, false, false
	}
	now := c.clk.Now()
	if e.expired(now) {
		return nil, false, false
	}
	if e.negative {
		return nil, true, true
	}
	return e.recordsWithRemainingTTL(now), false, true
}

// Insert caches records under their minimum clamped TTL. A zero (after
// clamping) TTL is never cached.
func (c *Cache) Insert(name string, qtype uint16, records []dns.RR) {
	if len(records) == 0 {
		return
	}
	minTTL := records[0].Header().Ttl
	for _, rr := range records[1:] {
		if rr.Header().Ttl < minTTL {
			minTTL = rr.Header().Ttl
		}
	}
	minTTL = clampTTL(minTTL)
	if minTTL == 0 {
		return
	}

	c.lock()
	defer c.unlock()
	c.evictIfFullLocked()
	c.entries[key(name, qtype)] = &cacheEntry{
		records:    records,
		insertedAt: c.clk.Now(),
		ttl:        time.Duration(minTTL) * time.Second,
	}
}

// InsertNegative caches a NOERROR/NXDOMAIN-with-no-data result, typically
// under the authority section's SOA minimum.
func (c *Cache) InsertNegative(name string, qtype uint16, ttlSecs uint32) {
	ttlSecs = clampTTL(ttlSecs)
	if ttlSecs == 0 {
		return
	}

	c.lock()
	defer c.unlock()
	c.evictIfFullLocked()
	c.entries[key(name, qtype)] = &cacheEntry{
		negative:   true,
		insertedAt: c.clk.Now(),
		ttl:        time.Duration(ttlSecs) * time.Second,
	}
}

// evictIfFullLocked purges expired entries first, then the oldest entry
// if the cache is still at capacity. Caller must hold the lock.
func (c *Cache) evictIfFullLocked() {
	if len(c.entries) < c.maxSize {
		return
	}
	now := c.clk.Now()
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) < c.maxSize {
		return
	}
	var oldestKey cacheKey
	var oldestTime time.Time
	first := true
	for k, e := range c.entries {
		if first || e.insertedAt.Before(oldestTime) {
			oldestKey, oldestTime, first = k, e.insertedAt, false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}

// PurgeExpired removes every expired entry and returns how many were
// removed.
func (c *Cache) PurgeExpired() int {
	c.lock()
	defer c.unlock()
	now := c.clk.Now()
	removed := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.lock()
	defer c.unlock()
	return len(c.entries)
}
