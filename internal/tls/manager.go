// Package tls is HomeRoute's SNI certificate resolver: an in-memory map
// from domain to certificate, consulted on every TLS handshake the
// reverse proxy accepts. It generalizes the teacher's single-default-cert
// CertificateManager (grimm-is-glacic/internal/tls/config.go) to the
// exact-then-wildcard domain lookup spec.md §4.5 requires.
package tls

import (
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
)

// Manager resolves a ClientHello's SNI server name to a certificate. Exact
// domain matches win; otherwise the first label is stripped and retried
// against a wildcard entry (*.d). (The proxy's Host-header route lookup in
// internal/proxy is exact-match only.)
type Manager struct {
	mu    sync.RWMutex
	certs map[string]*tls.Certificate // domain (or "*.d") -> certificate
}

// NewManager returns an empty certificate manager.
func NewManager() *Manager {
	return &Manager{certs: make(map[string]*tls.Certificate)}
}

// Set installs or replaces the certificate for domain. domain may be a
// wildcard of the form "*.example.com".
func (m *Manager) Set(domain string, cert *tls.Certificate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.certs[strings.ToLower(domain)] = cert
}

// Remove deletes the certificate entry for domain, if present.
func (m *Manager) Remove(domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.certs, strings.ToLower(domain))
}

// Replace atomically swaps the entire certificate set, for hot-reload.
func (m *Manager) Replace(certs map[string]*tls.Certificate) {
	next := make(map[string]*tls.Certificate, len(certs))
	for domain, cert := range certs {
		next[strings.ToLower(domain)] = cert
	}
	m.mu.Lock()
	m.certs = next
	m.mu.Unlock()
}

// GetCertificate implements tls.Config.GetCertificate: exact match on the
// client's requested SNI name, falling back to a "*.<parent>" wildcard
// entry. No match rejects the handshake (spec.md §4.5).
func (m *Manager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	name := strings.ToLower(hello.ServerName)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if cert, ok := m.certs[name]; ok {
		return cert, nil
	}
	if i := strings.IndexByte(name, '.'); i >= 0 {
		if cert, ok := m.certs["*"+name[i:]]; ok {
			return cert, nil
		}
	}
	return nil, fmt.Errorf("no certificate for %q", hello.ServerName)
}

// Config returns a *tls.Config wired to this manager's GetCertificate.
func (m *Manager) Config() *tls.Config {
	return &tls.Config{GetCertificate: m.GetCertificate, MinVersion: tls.VersionTLS12}
}
