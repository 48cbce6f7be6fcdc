package transport

import (
	"crypto/tls"
	"sync"

	"github.com/tlsnet/tlsnet-go/pkg/cert"
	"github.com/tlsnet/tlsnet-go/pkg/sni"
)

// KeyKind identifies the key material held by Keys.
type KeyKind uint8

const (
	// KeyNull holds no key material.
	KeyNull KeyKind = iota

	// KeyStatic holds one certificate chain and private key.
	KeyStatic

	// KeyResolver defers the choice of certificate to an SNI resolver.
	KeyResolver
)

// String returns the key kind name.
func (k KeyKind) String() string {
	switch k {
	case KeyNull:
		return "null"
	case KeyStatic:
		return "static"
	case KeyResolver:
		return "resolver"
	default:
		return "unknown"
	}
}

// Keys is a single-use holder of key material. The operation that uses it
// takes the material out, leaving Null behind.
type Keys struct {
	mu       sync.Mutex
	kind     KeyKind
	cert     tls.Certificate
	resolver *sni.Resolver
}

// NullKeys returns an empty holder.
func NullKeys() *Keys {
	return &Keys{}
}

// StaticKeys holds a fixed certificate chain and key.
func StaticKeys(pair tls.Certificate) *Keys {
	return &Keys{kind: KeyStatic, cert: pair}
}

// StaticKeysFromPEM parses a PEM chain and key into static keys.
func StaticKeysFromPEM(certPEM, keyPEM []byte) (*Keys, error) {
	pair, err := cert.LoadKeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, configError("keys", err)
	}
	return StaticKeys(pair), nil
}

// ResolverKeys defers certificate selection to r.
func ResolverKeys(r *sni.Resolver) *Keys {
	return &Keys{kind: KeyResolver, resolver: r}
}

// Name returns the resource name.
func (k *Keys) Name() string {
	return "tlsKeys"
}

// Close drops the key material.
func (k *Keys) Close() error {
	k.Take()
	return nil
}

// Kind returns the kind of material currently held.
func (k *Keys) Kind() KeyKind {
	if k == nil {
		return KeyNull
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.kind
}

// Take moves the material out of k. A nil k behaves as Null.
func (k *Keys) Take() TakenKeys {
	if k == nil {
		return TakenKeys{}
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	t := TakenKeys{Kind: k.kind, Certificate: k.cert, Resolver: k.resolver}
	k.kind, k.cert, k.resolver = KeyNull, tls.Certificate{}, nil
	return t
}

// TakenKeys is key material moved out of a Keys holder.
type TakenKeys struct {
	Kind        KeyKind
	Certificate tls.Certificate
	Resolver    *sni.Resolver
}

// clientCertificate returns the client certificate to present, if any.
// Resolver keys are not valid on the client side.
func (t TakenKeys) clientCertificate() (*tls.Certificate, error) {
	switch t.Kind {
	case KeyNull:
		return nil, nil
	case KeyStatic:
		c := t.Certificate
		return &c, nil
	case KeyResolver:
		return nil, configError("client keys", ErrUnexpectedKeyType)
	default:
		panic("transport: impossible key kind " + t.Kind.String())
	}
}
