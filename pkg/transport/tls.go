package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/tlsnet/tlsnet-go/pkg/cert"
	"github.com/tlsnet/tlsnet-go/pkg/sni"
)

// MinVersion is the lowest TLS version either side negotiates.
const MinVersion = tls.VersionTLS12

// ServerTLSConfig holds the listener-side TLS settings.
type ServerTLSConfig struct {
	// Certificate serves every connection. Ignored when Resolver is set.
	Certificate *tls.Certificate

	// Resolver selects a certificate per connection from the SNI name.
	Resolver *sni.Resolver

	// ALPNProtocols are offered in preference order.
	ALPNProtocols []string
}

// NewServerTLSConfig builds the immutable listener configuration. Exactly
// one of Certificate and Resolver is used.
func NewServerTLSConfig(cfg *ServerTLSConfig) (*tls.Config, error) {
	if cfg == nil || (cfg.Resolver == nil && (cfg.Certificate == nil || len(cfg.Certificate.Certificate) == 0)) {
		return nil, configError("listen", ErrListenTLSRequiresKey)
	}

	tlsConfig := &tls.Config{
		MinVersion: MinVersion,
		NextProtos: cloneStrings(cfg.ALPNProtocols),

		// Curve preferences for key exchange
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
			tls.CurveP384,
		},
	}

	if cfg.Resolver != nil {
		// The handshake parks here until the authority answers.
		tlsConfig.GetCertificate = cfg.Resolver.GetCertificate
	} else {
		tlsConfig.Certificates = []tls.Certificate{*cfg.Certificate}
	}
	return tlsConfig, nil
}

// ClientTLSConfig holds the dialling-side TLS settings.
type ClientTLSConfig struct {
	// Roots provides the trust anchors; SystemRoots when nil.
	Roots cert.RootStore

	// CACerts are extra PEM blobs appended to the roots.
	CACerts [][]byte

	// Certificate is the optional client certificate.
	Certificate *tls.Certificate

	// ServerName is the identity verified against the server certificate
	// and sent as SNI.
	ServerName string

	// ALPNProtocols are offered in preference order.
	ALPNProtocols []string

	// InsecureSkipVerify disables verification. Callers must only set it
	// for hosts on the bypass list.
	InsecureSkipVerify bool
}

// NewClientTLSConfig builds a client configuration.
func NewClientTLSConfig(cfg *ClientTLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("client TLS config is required")
	}

	roots := cfg.Roots
	if roots == nil {
		roots = cert.SystemRoots{}
	}
	base, err := roots.RootStore()
	if err != nil {
		return nil, fmt.Errorf("load root store: %w", err)
	}
	pool, err := cert.NewPool(base, cfg.CACerts...)
	if err != nil {
		return nil, configError("ca certs", err)
	}

	tlsConfig := &tls.Config{
		MinVersion: MinVersion,
		RootCAs:    pool,
		ServerName: cfg.ServerName,
		NextProtos: cloneStrings(cfg.ALPNProtocols),

		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
			tls.CurveP384,
		},

		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	if cfg.Certificate != nil {
		tlsConfig.Certificates = []tls.Certificate{*cfg.Certificate}
	}
	return tlsConfig, nil
}

// HandshakeInfo is the negotiated state of a completed handshake.
type HandshakeInfo struct {
	// ALPNProtocol is the negotiated application protocol, empty if none.
	ALPNProtocol string

	// PeerCertificates is the chain the peer presented, nil if none.
	PeerCertificates []*x509.Certificate

	ServerName  string
	Version     uint16
	CipherSuite uint16
	Resumed     bool
}

func handshakeInfo(state tls.ConnectionState) HandshakeInfo {
	info := HandshakeInfo{
		ALPNProtocol: state.NegotiatedProtocol,
		ServerName:   state.ServerName,
		Version:      state.Version,
		CipherSuite:  state.CipherSuite,
		Resumed:      state.DidResume,
	}
	if len(state.PeerCertificates) > 0 {
		info.PeerCertificates = state.PeerCertificates
	}
	return info
}

func cloneStrings(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return append([]string(nil), s...)
}
