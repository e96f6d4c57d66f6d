package pki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"time"

	"github.com/localplatform/homeroute/internal/herr"
)

// TunnelCertSet is the mTLS material for the QUIC cloud relay (spec.md
// §4.8): a CA cert plus one server leaf (VPS side) and one client leaf
// (on-prem side), all signed by the same root as this Authority.
// Grounded on original_source/crates/hr-tunnel/src/crypto.rs's
// generate_tunnel_certs, translated from rcgen to stdlib crypto/x509.
type TunnelCertSet struct {
	CACertPEM     []byte
	ServerCertPEM []byte
	ServerKeyPEM  []byte
	ClientCertPEM []byte
	ClientKeyPEM  []byte
}

// IssueTunnelCerts mints the relay's server and client certificates.
// vpsHost becomes the server cert's SAN (as an IP SAN if it parses as one,
// a DNS SAN otherwise); the client cert's CN is fixed to
// "homeroute-onprem", matching the original's hardcoded identity for the
// single on-prem tunnel client.
func (a *Authority) IssueTunnelCerts(vpsHost string) (*TunnelCertSet, error) {
	a.mu.RLock()
	rootCert, rootKey := a.rootCert, a.rootKey
	a.mu.RUnlock()
	if rootCert == nil || rootKey == nil {
		return nil, herr.New(herr.Validation, "ca not initialized")
	}

	now := a.clk.Now()
	notAfter := now.Add(time.Duration(a.cfg.RootValidityDays) * 24 * time.Hour)

	serverKey, serverDER, err := signLeaf(rootCert, rootKey, now, notAfter, x509.Certificate{
		Subject:     pkix.Name{CommonName: vpsHost},
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}, tunnelSANs(vpsHost))
	if err != nil {
		return nil, herr.Wrap(herr.IO, "sign tunnel server cert", err)
	}

	clientKey, clientDER, err := signLeaf(rootCert, rootKey, now, notAfter, x509.Certificate{
		Subject:     pkix.Name{CommonName: "homeroute-onprem"},
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}, nil)
	if err != nil {
		return nil, herr.Wrap(herr.IO, "sign tunnel client cert", err)
	}

	caPEM, err := a.RootCertPEM()
	if err != nil {
		return nil, err
	}
	serverKeyPEM, err := marshalECKeyPEM(serverKey)
	if err != nil {
		return nil, herr.Wrap(herr.IO, "marshal tunnel server key", err)
	}
	clientKeyPEM, err := marshalECKeyPEM(clientKey)
	if err != nil {
		return nil, herr.Wrap(herr.IO, "marshal tunnel client key", err)
	}

	return &TunnelCertSet{
		CACertPEM:     caPEM,
		ServerCertPEM: certToPEM(serverDER),
		ServerKeyPEM:  serverKeyPEM,
		ClientCertPEM: certToPEM(clientDER),
		ClientKeyPEM:  clientKeyPEM,
	}, nil
}

func tunnelSANs(host string) *x509.Certificate {
	tmpl := &x509.Certificate{}
	if ip := net.ParseIP(host); ip != nil {
		tmpl.IPAddresses = []net.IP{ip}
	} else {
		tmpl.DNSNames = []string{host}
	}
	return tmpl
}

// signLeaf signs a leaf certificate with the given subject/ExtKeyUsage,
// merging in the SAN fields from sans if non-nil.
func signLeaf(rootCert *x509.Certificate, rootKey *ecdsa.PrivateKey, notBefore, notAfter time.Time, tmpl x509.Certificate, sans *x509.Certificate) (*ecdsa.PrivateKey, []byte, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, err
	}

	tmpl.SerialNumber = serial
	tmpl.NotBefore = notBefore
	tmpl.NotAfter = notAfter
	tmpl.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment
	tmpl.BasicConstraintsValid = true
	if sans != nil {
		tmpl.DNSNames = sans.DNSNames
		tmpl.IPAddresses = sans.IPAddresses
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, rootCert, &key.PublicKey, rootKey)
	if err != nil {
		return nil, nil, err
	}
	return key, der, nil
}

func certToPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func marshalECKeyPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}
