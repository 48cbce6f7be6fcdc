package cert

import (
	"crypto/x509"
)

// RootStore provides the trust anchors used to verify servers.
type RootStore interface {
	RootStore() (*x509.CertPool, error)
}

// SystemRoots is the platform trust store.
type SystemRoots struct{}

// RootStore returns a copy of the system pool.
func (SystemRoots) RootStore() (*x509.CertPool, error) {
	return x509.SystemCertPool()
}

// StaticRoots is a fixed pool. A nil Pool trusts nothing.
type StaticRoots struct {
	Pool *x509.CertPool
}

// RootStore returns a clone of the pool so callers may extend it.
func (s StaticRoots) RootStore() (*x509.CertPool, error) {
	if s.Pool == nil {
		return x509.NewCertPool(), nil
	}
	return s.Pool.Clone(), nil
}

// Compile-time interface satisfaction checks.
var (
	_ RootStore = SystemRoots{}
	_ RootStore = StaticRoots{}
)

// NewPool returns a pool holding the certificates of every PEM blob in extra
// added on top of base. base is not modified; nil starts from an empty pool.
// A blob without certificates fails with ErrNoCerts.
func NewPool(base *x509.CertPool, extra ...[]byte) (*x509.CertPool, error) {
	var pool *x509.CertPool
	if base != nil {
		pool = base.Clone()
	} else {
		pool = x509.NewCertPool()
	}
	for _, blob := range extra {
		certs, err := DecodeCertsPEM(blob)
		if err != nil {
			return nil, err
		}
		for _, c := range certs {
			pool.AddCert(c)
		}
	}
	return pool, nil
}
