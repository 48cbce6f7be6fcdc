package cert

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// LoadKeyPair parses a PEM certificate chain and its private key into a
// tls.Certificate. The leaf is parsed eagerly.
func LoadKeyPair(certPEM, keyPEM []byte) (tls.Certificate, error) {
	if _, err := DecodeCertsPEM(certPEM); err != nil {
		return tls.Certificate{}, err
	}
	if _, err := DecodeKeyPEM(keyPEM); err != nil {
		return tls.Certificate{}, err
	}

	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if pair.Leaf == nil {
		leaf, err := x509.ParseCertificate(pair.Certificate[0])
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
		}
		pair.Leaf = leaf
	}
	return pair, nil
}

// ReadKeyPairFiles loads a key pair from PEM files on disk.
func ReadKeyPairFiles(certPath, keyPath string) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return tls.Certificate{}, err
	}
	pair, err := LoadKeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("load %s: %w", certPath, err)
	}
	return pair, nil
}
