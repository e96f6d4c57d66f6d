package pki

import (
	"crypto/tls"
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueTunnelCertsProducesValidMTLSPair(t *testing.T) {
	a := testAuthority(t)

	set, err := a.IssueTunnelCerts("relay.example.com")
	require.NoError(t, err)

	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(set.CACertPEM))

	serverCert, err := tls.X509KeyPair(set.ServerCertPEM, set.ServerKeyPEM)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(serverCert.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, "relay.example.com", leaf.Subject.CommonName)
	assert.Contains(t, leaf.DNSNames, "relay.example.com")
	assert.Contains(t, leaf.ExtKeyUsage, x509.ExtKeyUsageServerAuth)

	_, err = leaf.Verify(x509.VerifyOptions{
		DNSName:   "relay.example.com",
		Roots:     pool,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	require.NoError(t, err)

	clientCert, err := tls.X509KeyPair(set.ClientCertPEM, set.ClientKeyPEM)
	require.NoError(t, err)
	clientLeaf, err := x509.ParseCertificate(clientCert.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, "homeroute-onprem", clientLeaf.Subject.CommonName)
	assert.Contains(t, clientLeaf.ExtKeyUsage, x509.ExtKeyUsageClientAuth)

	_, err = clientLeaf.Verify(x509.VerifyOptions{
		Roots:     pool,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
	require.NoError(t, err)
}

func TestIssueTunnelCertsUsesIPSANForIPHost(t *testing.T) {
	a := testAuthority(t)
	set, err := a.IssueTunnelCerts("203.0.113.10")
	require.NoError(t, err)

	serverCert, err := tls.X509KeyPair(set.ServerCertPEM, set.ServerKeyPEM)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(serverCert.Certificate[0])
	require.NoError(t, err)
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "203.0.113.10", leaf.IPAddresses[0].String())
}

func TestIssueTunnelCertsFailsBeforeInit(t *testing.T) {
	a := New(Config{StoragePath: t.TempDir()})
	_, err := a.IssueTunnelCerts("host.example.com")
	assert.Error(t, err)
}
