package adblock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func makeEngine() *Engine {
	e := NewEngine()
	e.SetBlocked(map[string]struct{}{
		"ads.example.com": {},
		"tracker.net":     {},
		"doubleclick.net": {},
	})
	e.SetAllowed([]string{"allowed.tracker.net"})
	return e
}

func TestIsBlockedExactMatch(t *testing.T) {
	e := makeEngine()
	assert.True(t, e.IsBlocked("ads.example.com"))
	assert.True(t, e.IsBlocked("tracker.net"))
	assert.False(t, e.IsBlocked("example.com"))
}

func TestIsBlockedHierarchicalMatch(t *testing.T) {
	e := makeEngine()
	assert.True(t, e.IsBlocked("sub.doubleclick.net"))
	assert.True(t, e.IsBlocked("deep.sub.doubleclick.net"))
}

func TestIsBlockedAllowlistOverride(t *testing.T) {
	e := makeEngine()
	assert.False(t, e.IsBlocked("allowed.tracker.net"))
	assert.True(t, e.IsBlocked("tracker.net"))
}

func TestIsBlockedNotBlocked(t *testing.T) {
	e := makeEngine()
	assert.False(t, e.IsBlocked("google.com"))
}

func TestIsBlockedCaseInsensitive(t *testing.T) {
	e := makeEngine()
	assert.True(t, e.IsBlocked("ADS.EXAMPLE.COM"))
}

func TestIsBlockedAcceptsTrailingDot(t *testing.T) {
	e := makeEngine()
	assert.True(t, e.IsBlocked("ads.example.com."))
}

func TestSearch(t *testing.T) {
	e := makeEngine()
	results := e.Search("double", 10)
	assert.Contains(t, results, "doubleclick.net")
}
