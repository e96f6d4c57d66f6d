package relay

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/localplatform/homeroute/internal/pki"
)

// tunnelALPN is the QUIC ALPN protocol identifier for the HomeRoute
// cloud tunnel; quic-go requires at least one NextProtos entry.
const tunnelALPN = "homeroute-tunnel"

// ServerTLSConfig builds the VPS-side QUIC TLS config: presents the
// server cert, and requires (and verifies) a client cert signed by the
// shared tunnel CA, per spec.md §4.8's "VPS requires client certificates
// signed by the shared CA".
func ServerTLSConfig(set *pki.TunnelCertSet) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(set.ServerCertPEM, set.ServerKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("load tunnel server cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(set.CACertPEM) {
		return nil, fmt.Errorf("parse tunnel ca cert")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		NextProtos:   []string{tunnelALPN},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ClientTLSConfig builds the on-prem-side QUIC TLS config: presents the
// client cert and trusts only the shared tunnel CA.
func ClientTLSConfig(set *pki.TunnelCertSet) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(set.ClientCertPEM, set.ClientKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("load tunnel client cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(set.CACertPEM) {
		return nil, fmt.Errorf("parse tunnel ca cert")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		NextProtos:   []string{tunnelALPN},
		MinVersion:   tls.VersionTLS13,
	}, nil
}
