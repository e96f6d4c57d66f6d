package pki

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/localplatform/homeroute/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuthority(t *testing.T) *Authority {
	cfg := Config{
		StoragePath:          filepath.Join(t.TempDir(), "ca"),
		Organization:         "Test Org",
		CommonName:           "Test Root CA",
		RootValidityDays:     3650,
		CertValidityDays:     365,
		RenewalThresholdDays: 30,
	}
	a := New(cfg)
	require.NoError(t, a.Init())
	return a
}

func TestInitGeneratesRootOnFirstRun(t *testing.T) {
	a := testAuthority(t)
	assert.True(t, a.IsInitialized())

	pemBytes, err := a.RootCertPEM()
	require.NoError(t, err)
	assert.Contains(t, string(pemBytes), "CERTIFICATE")
}

func TestInitLoadsExistingRoot(t *testing.T) {
	cfg := Config{StoragePath: filepath.Join(t.TempDir(), "ca"), Organization: "Org", CommonName: "CN", RootValidityDays: 10, CertValidityDays: 5, RenewalThresholdDays: 1}
	a1 := New(cfg)
	require.NoError(t, a1.Init())
	pem1, err := a1.RootCertPEM()
	require.NoError(t, err)

	a2 := New(cfg)
	require.NoError(t, a2.Init())
	pem2, err := a2.RootCertPEM()
	require.NoError(t, err)

	assert.Equal(t, pem1, pem2)
}

func TestIssueAndGetCertificate(t *testing.T) {
	a := testAuthority(t)
	bundle, err := a.Issue([]string{"relay.example.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, bundle.ID)

	got, err := a.Get(bundle.ID)
	require.NoError(t, err)
	assert.Equal(t, bundle.Domains, got.Domains)
}

func TestIssueRejectsInvalidDomain(t *testing.T) {
	a := testAuthority(t)
	_, err := a.Issue([]string{"-bad.example.com"})
	assert.Error(t, err)
}

func TestIssueRejectsEmptyDomains(t *testing.T) {
	a := testAuthority(t)
	_, err := a.Issue(nil)
	assert.Error(t, err)
}

func TestRevokeRemovesFromIndex(t *testing.T) {
	a := testAuthority(t)
	bundle, err := a.Issue([]string{"a.example.com"})
	require.NoError(t, err)

	require.NoError(t, a.Revoke(bundle.ID))
	_, err = a.Get(bundle.ID)
	assert.Error(t, err)
}

func TestRenewIssuesFreshCertificateForSameDomains(t *testing.T) {
	a := testAuthority(t)
	bundle, err := a.Issue([]string{"a.example.com"})
	require.NoError(t, err)

	renewed, err := a.Renew(bundle.ID)
	require.NoError(t, err)
	assert.Equal(t, bundle.Domains, renewed.Domains)
	assert.NotEqual(t, bundle.ID, renewed.ID)

	_, err = a.Get(bundle.ID)
	assert.Error(t, err, "old bundle should no longer be indexed")
}

func TestNeedingRenewal(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(1000, 0))
	cfg := Config{StoragePath: filepath.Join(t.TempDir(), "ca"), Organization: "Org", CommonName: "CN", RootValidityDays: 3650, CertValidityDays: 5, RenewalThresholdDays: 30}
	a := New(cfg).WithClock(clk)
	require.NoError(t, a.Init())

	_, err := a.Issue([]string{"a.example.com"})
	require.NoError(t, err)

	due, err := a.NeedingRenewal()
	require.NoError(t, err)
	assert.Len(t, due, 1, "30-day renewal threshold exceeds the 5-day validity window")
}

func TestIsValidDomainAcceptsWildcards(t *testing.T) {
	assert.True(t, isValidDomain("example.com"))
	assert.True(t, isValidDomain("*.example.com"))
	assert.False(t, isValidDomain("-example.com"))
	assert.False(t, isValidDomain("*."))
}
