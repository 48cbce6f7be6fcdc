package ops

import (
	"context"
	"crypto/tls"

	"github.com/tlsnet/tlsnet-go/pkg/resource"
	"github.com/tlsnet/tlsnet-go/pkg/sni"
	"github.com/tlsnet/tlsnet-go/pkg/transport"
)

// certResolver is the authority side of an SNI resolver as a resource.
// Closing it tears the resolver down.
type certResolver struct {
	resolver *sni.Resolver
	lookup   *sni.Lookup
}

func (c *certResolver) Name() string { return "tlsCertResolver" }
func (c *certResolver) Close() error { return c.resolver.Close() }

// KeyNull registers an empty key handle.
func (o *Ops) KeyNull() resource.ID {
	return o.add(transport.NullKeys())
}

// KeyStatic registers a key handle holding a PEM chain and key.
func (o *Ops) KeyStatic(certPEM, keyPEM []byte) (resource.ID, error) {
	k, err := transport.StaticKeysFromPEM(certPEM, keyPEM)
	if err != nil {
		return 0, err
	}
	return o.add(k), nil
}

// KeyCertificate registers a key handle for an already parsed key pair.
func (o *Ops) KeyCertificate(pair tls.Certificate) resource.ID {
	return o.add(transport.StaticKeys(pair))
}

// CertResolverCreate creates an SNI resolver. It returns the key handle to
// pass to ListenTLS and the resolver id used by the authority to poll and
// answer lookups.
func (o *Ops) CertResolverCreate() (keys resource.ID, resolver resource.ID) {
	obs := &lookupObserver{logger: o.logger}
	if o.metrics != nil {
		obs.next = o.metrics
	}
	r, l := sni.New(sni.WithObserver(obs))
	return o.add(transport.ResolverKeys(r)), o.add(&certResolver{resolver: r, lookup: l})
}

// CertResolverPoll returns the next hostname awaiting a certificate.
func (o *Ops) CertResolverPoll(ctx context.Context, id resource.ID) (string, error) {
	c, release, err := resource.Get[*certResolver](o.reg, id)
	if err != nil {
		return "", err
	}
	defer release()
	return c.lookup.Poll(ctx)
}

// CertResolverResolve answers hostname with the static key handle keys.
// The handle is spent either way; a non-static handle fails with
// ErrUnexpectedKeyType.
func (o *Ops) CertResolverResolve(id resource.ID, hostname string, keys resource.ID) error {
	c, release, err := resource.Get[*certResolver](o.reg, id)
	if err != nil {
		return err
	}
	defer release()

	k, releaseKeys, err := o.keys(keys)
	if err != nil {
		return err
	}
	defer releaseKeys()

	material := k.Take()
	if material.Kind != transport.KeyStatic {
		return &transport.Error{Kind: transport.KindConfig, Op: "resolve", Err: transport.ErrUnexpectedKeyType}
	}
	return c.lookup.Resolve(hostname, material.Certificate)
}

// CertResolverResolveError fails the lookup for hostname with message. The
// waiting handshake fails; other hostnames are unaffected.
func (o *Ops) CertResolverResolveError(id resource.ID, hostname, message string) error {
	c, release, err := resource.Get[*certResolver](o.reg, id)
	if err != nil {
		return err
	}
	defer release()
	return c.lookup.ResolveError(hostname, message)
}

// keys borrows key handle id. Id 0 stands for Null keys.
func (o *Ops) keys(id resource.ID) (*transport.Keys, func(), error) {
	if id == 0 {
		return transport.NullKeys(), func() {}, nil
	}
	return resource.Get[*transport.Keys](o.reg, id)
}
