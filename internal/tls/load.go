package tls

import (
	"crypto/tls"

	"github.com/localplatform/homeroute/internal/herr"
	"github.com/localplatform/homeroute/internal/pki"
)

// FromBundle builds a tls.Certificate from a pki.Bundle's on-disk PEM
// files, the same certificate shape internal/pki.Authority.Issue produces.
func FromBundle(b *pki.Bundle) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(b.CertPath, b.KeyPath)
	if err != nil {
		return nil, herr.Wrap(herr.IO, "load certificate bundle", err)
	}
	return &cert, nil
}

// LoadFromFiles loads a certificate/key pair from disk, for manually
// provisioned certificates outside the self-issued CA.
func LoadFromFiles(certFile, keyFile string) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, herr.Wrap(herr.IO, "load certificate", err)
	}
	return &cert, nil
}
