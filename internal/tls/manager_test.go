package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfSignedCert(t *testing.T, cn string) *tls.Certificate {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return &tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestGetCertificateExactMatch(t *testing.T) {
	m := NewManager()
	cert := selfSignedCert(t, "app.example.com")
	m.Set("app.example.com", cert)

	got, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "app.example.com"})
	require.NoError(t, err)
	assert.Same(t, cert, got)
}

func TestGetCertificateWildcardFallback(t *testing.T) {
	m := NewManager()
	cert := selfSignedCert(t, "*.example.com")
	m.Set("*.example.com", cert)

	got, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "media.example.com"})
	require.NoError(t, err)
	assert.Same(t, cert, got)
}

func TestGetCertificateExactBeatsWildcard(t *testing.T) {
	m := NewManager()
	wildcard := selfSignedCert(t, "*.example.com")
	exact := selfSignedCert(t, "app.example.com")
	m.Set("*.example.com", wildcard)
	m.Set("app.example.com", exact)

	got, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "app.example.com"})
	require.NoError(t, err)
	assert.Same(t, exact, got)
}

func TestGetCertificateNoMatchRejectsHandshake(t *testing.T) {
	m := NewManager()
	_, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "unknown.example.com"})
	assert.Error(t, err)
}

func TestReplaceSwapsEntireSet(t *testing.T) {
	m := NewManager()
	m.Set("old.example.com", selfSignedCert(t, "old.example.com"))

	next := selfSignedCert(t, "new.example.com")
	m.Replace(map[string]*tls.Certificate{"new.example.com": next})

	_, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "old.example.com"})
	assert.Error(t, err)

	got, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "new.example.com"})
	require.NoError(t, err)
	assert.Same(t, next, got)
}

func TestSetIsCaseInsensitive(t *testing.T) {
	m := NewManager()
	cert := selfSignedCert(t, "App.Example.com")
	m.Set("App.Example.COM", cert)

	got, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "app.example.com"})
	require.NoError(t, err)
	assert.Same(t, cert, got)
}
