package ops

import (
	"context"
	"errors"
	"net"

	"github.com/tlsnet/tlsnet-go/pkg/resource"
	"github.com/tlsnet/tlsnet-go/pkg/socket"
	"github.com/tlsnet/tlsnet-go/pkg/transport"
)

// ListenOptions configures ListenTLS.
type ListenOptions struct {
	ReusePort     bool
	LoadBalanced  bool
	ALPNProtocols []string
}

// ListenTLS binds addr and registers a TLS listener. keys is a key handle
// id from KeyStatic or CertResolverCreate; 0 means Null keys, which fail
// with ErrListenTLSRequiresKey.
func (o *Ops) ListenTLS(ctx context.Context, addr Addr, opts ListenOptions, keys resource.ID) (resource.ID, net.Addr, error) {
	if err := o.check(addr, "ListenTLS"); err != nil {
		return 0, nil, err
	}

	k, release, err := o.keys(keys)
	if err != nil {
		return 0, nil, err
	}
	defer release()

	l, err := transport.Listen(ctx, addr.String(), k, transport.ListenConfig{
		Network:       addr.network(),
		ReusePort:     opts.ReusePort,
		LoadBalanced:  opts.LoadBalanced,
		ALPNProtocols: opts.ALPNProtocols,
		Logger:        o.logger,
		Metrics:       o.metrics,
	})
	if err != nil {
		return 0, nil, err
	}
	return o.add(l), l.Addr(), nil
}

// AcceptTLS waits for a connection on listener id. A missing id, including
// one closed while the accept was pending, fails with ErrListenerClosed.
func (o *Ops) AcceptTLS(ctx context.Context, id resource.ID) (Conn, error) {
	l, release, err := resource.Get[*transport.Listener](o.reg, id)
	if err != nil {
		if errors.Is(err, resource.ErrBadResource) {
			return Conn{}, &transport.Error{Kind: transport.KindResource, Op: "accept", Err: transport.ErrListenerClosed}
		}
		return Conn{}, err
	}
	defer release()

	s, remote, err := l.Accept(ctx)
	if err != nil {
		return Conn{}, err
	}
	return Conn{ID: o.add(s), LocalAddr: s.LocalAddr(), RemoteAddr: remote}, nil
}

// ConnectOptions configures ConnectTLS.
type ConnectOptions struct {
	ServerName         string
	CertFile           string
	CACerts            [][]byte
	ALPNProtocols      []string
	InsecureSkipVerify bool
}

// ConnectTLS dials addr and handshakes. keys is a client key handle id or
// 0. Nothing is registered when the handshake fails.
func (o *Ops) ConnectTLS(ctx context.Context, addr Addr, opts ConnectOptions, keys resource.ID) (Conn, error) {
	k, release, err := o.keys(keys)
	if err != nil {
		return Conn{}, err
	}
	defer release()

	s, err := o.dialer.ConnectTLS(ctx, transport.ConnectOptions{
		Hostname:           addr.Hostname,
		Port:               addr.Port,
		ServerName:         opts.ServerName,
		CertFile:           opts.CertFile,
		CACerts:            opts.CACerts,
		ClientKeys:         k,
		ALPNProtocols:      opts.ALPNProtocols,
		InsecureSkipVerify: opts.InsecureSkipVerify,
	})
	if err != nil {
		return Conn{}, err
	}
	return Conn{ID: o.add(s), LocalAddr: s.LocalAddr(), RemoteAddr: s.RemoteAddr()}, nil
}

// StartTLS upgrades the plaintext stream id to TLS. It needs exclusive
// ownership: while any other operation holds the stream it fails with
// ErrBusy and id stays registered and usable. On success id is invalid and
// the new stream's id is returned.
func (o *Ops) StartTLS(id resource.ID, opts transport.StartOptions, keys resource.ID) (Conn, error) {
	k, release, err := o.keys(keys)
	if err != nil {
		return Conn{}, err
	}
	defer release()
	opts.ClientKeys = k

	// Validate before taking id so it stays readable if the options are bad.
	conf, err := o.dialer.StartConfig(opts)
	if err != nil {
		return Conn{}, err
	}

	plain, err := resource.Take[*socket.Stream](o.reg, id)
	if err != nil {
		if errors.Is(err, resource.ErrBusy) {
			return Conn{}, &transport.Error{Kind: transport.KindResource, Op: "start tls", Err: transport.ErrBusy}
		}
		return Conn{}, &transport.Error{Kind: transport.KindResource, Op: "start tls", Err: err}
	}

	s, err := o.dialer.Upgrade(plain, conf)
	if err != nil {
		if plain.Spent() {
			o.logRegistry(id, plain.Name(), "REGISTERED", "CLOSED")
			return Conn{}, err
		}
		if restoreErr := o.reg.Restore(id, plain); restoreErr != nil {
			plain.Close()
		}
		return Conn{}, err
	}
	o.logRegistry(id, plain.Name(), "REGISTERED", "UPGRADED")
	return Conn{ID: o.add(s), LocalAddr: s.LocalAddr(), RemoteAddr: s.RemoteAddr()}, nil
}

// TLSHandshake returns the handshake info of stream id, handshaking first
// if needed.
func (o *Ops) TLSHandshake(ctx context.Context, id resource.ID) (transport.HandshakeInfo, error) {
	s, release, err := resource.Get[*transport.Stream](o.reg, id)
	if err != nil {
		return transport.HandshakeInfo{}, err
	}
	defer release()
	return s.Handshake(ctx)
}
