package cert

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"time"
)

// CertificateInfo extracts human-readable information from a certificate.
type CertificateInfo struct {
	CommonName  string
	Issuer      string
	DNSNames    []string
	NotBefore   time.Time
	NotAfter    time.Time
	IsCA        bool
	Fingerprint string // SHA-256 of the DER encoding, hex
}

// GetCertificateInfo extracts information from a certificate.
func GetCertificateInfo(cert *x509.Certificate) *CertificateInfo {
	if cert == nil {
		return nil
	}

	sum := sha256.Sum256(cert.Raw)
	return &CertificateInfo{
		CommonName:  cert.Subject.CommonName,
		Issuer:      cert.Issuer.CommonName,
		DNSNames:    cert.DNSNames,
		NotBefore:   cert.NotBefore,
		NotAfter:    cert.NotAfter,
		IsCA:        cert.IsCA,
		Fingerprint: hex.EncodeToString(sum[:]),
	}
}

// ExpiresWithin reports whether the certificate expires within d of now.
func (ci *CertificateInfo) ExpiresWithin(now time.Time, d time.Duration) bool {
	return ci.NotAfter.Before(now.Add(d))
}
