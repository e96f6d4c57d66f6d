package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveThenLoadRoundTrip(t *testing.T) {
	cfg := validConfig()
	path := filepath.Join(t.TempDir(), "out.hcl")
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)

	require.NotNil(t, loaded.DHCP)
	assert.Equal(t, cfg.DHCP.RangeStart, loaded.DHCP.RangeStart)
	require.NotNil(t, loaded.Relay)
	assert.Equal(t, cfg.Relay.VPSAddr, loaded.Relay.VPSAddr)
	require.Len(t, loaded.Proxy.Routes, 1)
	assert.Equal(t, "app", loaded.Proxy.Routes[0].ID)
}
