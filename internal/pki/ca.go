package pki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/localplatform/homeroute/internal/clock"
	"github.com/localplatform/homeroute/internal/herr"
)

// Authority is a self-issued certificate authority: one ECDSA P-256 root
// that signs short-lived leaf certificates for internal services
// (spec.md §4.6). Grounded on hr-ca/src/ca.rs, translated from rcgen to
// stdlib crypto/x509 (see DESIGN.md).
type Authority struct {
	cfg     Config
	storage *storage
	clk     clock.Clock

	mu      sync.RWMutex
	rootCert *x509.Certificate
	rootKey  *ecdsa.PrivateKey
}

// New builds an Authority against cfg's storage path. Call Init before
// issuing any certificates.
func New(cfg Config) *Authority {
	return &Authority{cfg: cfg, storage: newStorage(cfg.StoragePath), clk: &clock.RealClock{}}
}

// WithClock overrides the clock, for deterministic expiry tests.
func (a *Authority) WithClock(clk clock.Clock) *Authority {
	a.clk = clk
	return a
}

// Init loads the existing root certificate or generates a fresh one.
func (a *Authority) Init() error {
	if err := a.storage.init(); err != nil {
		return herr.Wrap(herr.IO, "initialize ca storage", err)
	}
	if a.storage.isInitialized() {
		return a.loadRoot()
	}
	return a.generateRoot()
}

func (a *Authority) IsInitialized() bool {
	return a.storage.isInitialized()
}

func (a *Authority) generateRoot() error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return herr.Wrap(herr.IO, "generate root key", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return herr.Wrap(herr.IO, "generate root serial", err)
	}

	now := a.clk.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{a.cfg.Organization},
			CommonName:   a.cfg.CommonName,
		},
		NotBefore:             now,
		NotAfter:               now.Add(time.Duration(a.cfg.RootValidityDays) * 24 * time.Hour),
		KeyUsage:               x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid:  true,
		IsCA:                   true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return herr.Wrap(herr.IO, "create root certificate", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return herr.Wrap(herr.IO, "parse generated root certificate", err)
	}

	if err := writePEM(a.storage.rootCertPath(), "CERTIFICATE", der); err != nil {
		return err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return herr.Wrap(herr.IO, "marshal root key", err)
	}
	if err := writePEM(a.storage.rootKeyPath(), "EC PRIVATE KEY", keyDER); err != nil {
		return err
	}

	a.mu.Lock()
	a.rootCert, a.rootKey = cert, key
	a.mu.Unlock()
	return nil
}

func (a *Authority) loadRoot() error {
	certDER, err := readPEM(a.storage.rootCertPath())
	if err != nil {
		return herr.Wrap(herr.IO, "read root certificate", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return herr.Wrap(herr.Protocol, "parse root certificate", err)
	}

	keyDER, err := readPEM(a.storage.rootKeyPath())
	if err != nil {
		return herr.Wrap(herr.IO, "read root key", err)
	}
	key, err := x509.ParseECPrivateKey(keyDER)
	if err != nil {
		return herr.Wrap(herr.Protocol, "parse root key", err)
	}

	a.mu.Lock()
	a.rootCert, a.rootKey = cert, key
	a.mu.Unlock()
	return nil
}

// RootCertPEM returns the root certificate, PEM-encoded, handed out to
// clients that need to trust this authority (e.g. agent/relay mTLS).
func (a *Authority) RootCertPEM() ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.rootCert == nil {
		return nil, herr.New(herr.Validation, "ca not initialized")
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: a.rootCert.Raw}), nil
}

// Issue mints a leaf certificate for domains, signed by the root.
func (a *Authority) Issue(domains []string) (*Bundle, error) {
	if len(domains) == 0 {
		return nil, herr.New(herr.Validation, "no domains provided")
	}
	for _, d := range domains {
		if !isValidDomain(d) {
			return nil, herr.New(herr.Validation, fmt.Sprintf("invalid domain: %s", d))
		}
	}

	a.mu.RLock()
	rootCert, rootKey := a.rootCert, a.rootKey
	a.mu.RUnlock()
	if rootCert == nil || rootKey == nil {
		return nil, herr.New(herr.Validation, "ca not initialized")
	}

	id := uuid.NewString()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, herr.Wrap(herr.IO, "generate leaf key", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, herr.Wrap(herr.IO, "generate leaf serial", err)
	}

	now := a.clk.Now()
	notAfter := now.Add(time.Duration(a.cfg.CertValidityDays) * 24 * time.Hour)
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{a.cfg.Organization},
			CommonName:   domains[0],
		},
		DNSNames:              filterDNSNames(domains),
		NotBefore:             now,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, rootCert, &key.PublicKey, rootKey)
	if err != nil {
		return nil, herr.Wrap(herr.IO, "sign leaf certificate", err)
	}

	if err := writePEM(a.storage.certPath(id), "CERTIFICATE", der); err != nil {
		return nil, err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, herr.Wrap(herr.IO, "marshal leaf key", err)
	}
	if err := writePEM(a.storage.keyPath(id), "EC PRIVATE KEY", keyDER); err != nil {
		return nil, err
	}

	bundle := &Bundle{
		ID:           id,
		Domains:      domains,
		IssuedAt:     now,
		ExpiresAt:    notAfter,
		SerialNumber: fmt.Sprintf("%x", serial),
		CertPath:     a.storage.certPath(id),
		KeyPath:      a.storage.keyPath(id),
	}

	index, err := a.storage.loadIndex()
	if err != nil {
		return nil, herr.Wrap(herr.IO, "load ca index", err)
	}
	index = append(index, *bundle)
	if err := a.storage.saveIndex(index); err != nil {
		return nil, herr.Wrap(herr.IO, "save ca index", err)
	}
	return bundle, nil
}

func (a *Authority) List() ([]Bundle, error) {
	return a.storage.loadIndex()
}

func (a *Authority) Get(id string) (*Bundle, error) {
	index, err := a.storage.loadIndex()
	if err != nil {
		return nil, err
	}
	for i := range index {
		if index[i].ID == id {
			return &index[i], nil
		}
	}
	return nil, herr.New(herr.NotFound, fmt.Sprintf("certificate %s not found", id))
}

// Renew reissues the certificate with id, keeping its domain list and
// dropping the old files once the new one is minted.
func (a *Authority) Renew(id string) (*Bundle, error) {
	existing, err := a.Get(id)
	if err != nil {
		return nil, err
	}
	if err := a.Revoke(id); err != nil {
		return nil, err
	}
	return a.Issue(existing.Domains)
}

func (a *Authority) Revoke(id string) error {
	index, err := a.storage.loadIndex()
	if err != nil {
		return err
	}
	filtered := index[:0]
	found := false
	for _, b := range index {
		if b.ID == id {
			found = true
			continue
		}
		filtered = append(filtered, b)
	}
	if !found {
		return herr.New(herr.NotFound, fmt.Sprintf("certificate %s not found", id))
	}
	if err := a.storage.saveIndex(filtered); err != nil {
		return err
	}
	return a.storage.deleteCertificate(id)
}

// NeedingRenewal returns every issued bundle within RenewalThresholdDays
// of expiry.
func (a *Authority) NeedingRenewal() ([]Bundle, error) {
	index, err := a.storage.loadIndex()
	if err != nil {
		return nil, err
	}
	threshold := time.Duration(a.cfg.RenewalThresholdDays) * 24 * time.Hour
	now := a.clk.Now()
	var due []Bundle
	for _, b := range index {
		if b.NeedsRenewal(now, threshold) {
			due = append(due, b)
		}
	}
	return due, nil
}

func writePEM(path, blockType string, der []byte) error {
	return writeFileAtomic(path, pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}))
}

func readPEM(path string) ([]byte, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}
	return block.Bytes, nil
}

func filterDNSNames(domains []string) []string {
	names := make([]string, 0, len(domains))
	for _, d := range domains {
		if !strings.Contains(d, "/") {
			names = append(names, d)
		}
	}
	return names
}

func isValidDomain(domain string) bool {
	if domain == "" || len(domain) > 253 {
		return false
	}
	if strings.HasPrefix(domain, "*.") {
		rest := domain[2:]
		return rest != "" && isValidDomainPart(rest)
	}
	return isValidDomainPart(domain)
}

func isValidDomainPart(domain string) bool {
	for _, label := range strings.Split(domain, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		for _, c := range label {
			if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-') {
				return false
			}
		}
	}
	return true
}
