// Package certs generates, inspects and validates the PEM certificate/key
// pairs used by the cluster's service endpoints. One directory per domain,
// holding cert.pem and key.pem; rotation keeps a single .bak of the previous
// pair.
package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrInvalidDomain rejects domain names the manager will not issue for.
var ErrInvalidDomain = errors.New("certs: invalid domain name")

// Status of a certificate, derived at inspection time, never stored.
type Status string

const (
	StatusValid       Status = "valid"
	StatusExpired     Status = "expired"
	StatusNotYetValid Status = "not_yet_valid"
)

// CertificateInfo describes an issued certificate.
type CertificateInfo struct {
	Domain    string    `json:"domain"`
	Subject   string    `json:"subject"`
	NotBefore time.Time `json:"not_before"`
	NotAfter  time.Time `json:"not_after"`
	Path      string    `json:"path"`
	Serial    string    `json:"serial"`
}

// ValidityReport is the result of verifying a certificate file.
type ValidityReport struct {
	Info     CertificateInfo `json:"info"`
	Status   Status          `json:"status"`
	Expiring bool            `json:"expiring"`
	// Remaining is negative once the certificate has expired.
	Remaining time.Duration `json:"remaining"`
}

// Manager issues and checks certificates under a single base directory.
type Manager struct {
	dir      string
	validity time.Duration
	keyBits  int
	now      func() time.Time
}

// ExpiryWarningWindow is how close to NotAfter a certificate is reported as
// expiring.
const ExpiryWarningWindow = 30 * 24 * time.Hour

// NewManager returns a Manager storing pairs under dir.
func NewManager(dir string) (*Manager, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("certs: directory is required")
	}
	return &Manager{
		dir:      dir,
		validity: 365 * 24 * time.Hour,
		keyBits:  2048,
		now:      time.Now,
	}, nil
}

// CertPath returns where the certificate for domain lives.
func (m *Manager) CertPath(domain string) string {
	return filepath.Join(m.dir, domain, "cert.pem")
}

// KeyPath returns where the private key for domain lives.
func (m *Manager) KeyPath(domain string) string {
	return filepath.Join(m.dir, domain, "key.pem")
}

// IssueCertificate generates a key pair and self-signed certificate for
// domain. If a certificate already exists and force is false the call is a
// no-op returning the existing certificate's info; with force the old pair
// is archived to .bak before the new one is written. Nothing is retried.
func (m *Manager) IssueCertificate(domain string, force bool) (CertificateInfo, error) {
	if err := validateDomain(domain); err != nil {
		return CertificateInfo{}, err
	}
	certPath := m.CertPath(domain)
	if _, err := os.Stat(certPath); err == nil {
		if !force {
			return m.Inspect(certPath)
		}
		if err := m.archive(domain); err != nil {
			return CertificateInfo{}, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return CertificateInfo{}, fmt.Errorf("certs: stat %s: %w", certPath, err)
	}

	key, err := rsa.GenerateKey(rand.Reader, m.keyBits)
	if err != nil {
		return CertificateInfo{}, fmt.Errorf("certs: generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return CertificateInfo{}, fmt.Errorf("certs: generate serial: %w", err)
	}
	notBefore := m.now().UTC()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: domain},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(m.validity),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{domain},
	}
	if ip := net.ParseIP(domain); ip != nil {
		template.IPAddresses = []net.IP{ip}
		template.DNSNames = nil
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return CertificateInfo{}, fmt.Errorf("certs: create certificate: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(certPath), 0o750); err != nil {
		return CertificateInfo{}, fmt.Errorf("certs: create directory: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return CertificateInfo{}, fmt.Errorf("certs: encode key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(m.KeyPath(domain), keyPEM, 0o600); err != nil {
		return CertificateInfo{}, fmt.Errorf("certs: write key: %w", err)
	}
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return CertificateInfo{}, fmt.Errorf("certs: write certificate: %w", err)
	}
	return m.Inspect(certPath)
}

// Inspect parses the certificate at path and returns its descriptive info.
func (m *Manager) Inspect(path string) (CertificateInfo, error) {
	cert, err := m.load(path)
	if err != nil {
		return CertificateInfo{}, err
	}
	domain := cert.Subject.CommonName
	if domain == "" && len(cert.DNSNames) > 0 {
		domain = cert.DNSNames[0]
	}
	return CertificateInfo{
		Domain:    domain,
		Subject:   cert.Subject.String(),
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		Path:      path,
		Serial:    cert.SerialNumber.Text(16),
	}, nil
}

// Verify derives the validity status of the certificate at path.
func (m *Manager) Verify(path string) (ValidityReport, error) {
	info, err := m.Inspect(path)
	if err != nil {
		return ValidityReport{}, err
	}
	now := m.now().UTC()
	report := ValidityReport{
		Info:      info,
		Status:    StatusValid,
		Remaining: info.NotAfter.Sub(now),
	}
	switch {
	case now.Before(info.NotBefore):
		report.Status = StatusNotYetValid
	case now.After(info.NotAfter):
		report.Status = StatusExpired
	case report.Remaining <= ExpiryWarningWindow:
		report.Expiring = true
	}
	return report, nil
}

// VerifyAll reports on every certificate found under the base directory.
func (m *Manager) VerifyAll() ([]ValidityReport, error) {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("certs: read directory: %w", err)
	}
	var reports []ValidityReport
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		certPath := m.CertPath(entry.Name())
		if _, err := os.Stat(certPath); err != nil {
			continue
		}
		report, err := m.Verify(certPath)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (m *Manager) archive(domain string) error {
	for _, path := range []string{m.CertPath(domain), m.KeyPath(domain)} {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := os.Rename(path, path+".bak"); err != nil {
			return fmt.Errorf("certs: archive %s: %w", path, err)
		}
	}
	return nil
}

func (m *Manager) load(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("certs: read %s: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("certs: %s is not a PEM certificate", path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("certs: parse %s: %w", path, err)
	}
	return cert, nil
}

func validateDomain(domain string) error {
	domain = strings.TrimSpace(domain)
	if domain == "" || len(domain) > 253 {
		return fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
	}
	if net.ParseIP(domain) != nil {
		return nil
	}
	for _, label := range strings.Split(domain, ".") {
		if label == "" || len(label) > 63 {
			return fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
		}
		for i, r := range label {
			ok := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
				r == '-' && i > 0 && i < len(label)-1 ||
				r == '*' && i == 0 && len(label) == 1
			if !ok {
				return fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
			}
		}
	}
	return nil
}
