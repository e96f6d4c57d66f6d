// Package pki is HomeRoute's private certificate authority: a
// self-issued ECDSA P-256 root used to mint leaf certificates for the
// QUIC relay's mutual TLS and, optionally, other internal services
// (spec.md §4.6).
package pki

import "time"

// Config configures the authority's storage location and validity
// periods.
type Config struct {
	StoragePath          string
	Organization         string
	CommonName           string
	RootValidityDays     int
	CertValidityDays     int
	RenewalThresholdDays int
}

// DefaultConfig mirrors the original daemon's documented defaults.
func DefaultConfig() Config {
	return Config{
		StoragePath:          "/var/lib/homeroute/ca",
		Organization:         "HomeRoute Local CA",
		CommonName:           "HomeRoute Root CA",
		RootValidityDays:     3650,
		CertValidityDays:     365,
		RenewalThresholdDays: 30,
	}
}

// Bundle is one issued leaf certificate plus its metadata.
type Bundle struct {
	ID           string    `json:"id"`
	Domains      []string  `json:"domains"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	SerialNumber string    `json:"serial_number"`
	CertPath     string    `json:"cert_path"`
	KeyPath      string    `json:"key_path"`
}

// NeedsRenewal reports whether the bundle expires within threshold of now.
func (b *Bundle) NeedsRenewal(now time.Time, threshold time.Duration) bool {
	return b.ExpiresAt.Sub(now) < threshold
}

// IsExpired reports whether the bundle has already expired.
func (b *Bundle) IsExpired(now time.Time) bool {
	return now.After(b.ExpiresAt)
}
