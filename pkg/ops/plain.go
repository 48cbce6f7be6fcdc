package ops

import (
	"context"
	"errors"
	"net"

	"github.com/tlsnet/tlsnet-go/pkg/resource"
	"github.com/tlsnet/tlsnet-go/pkg/socket"
	"github.com/tlsnet/tlsnet-go/pkg/transport"
)

// plainListener registers a raw socket listener.
type plainListener struct {
	socket.Listener
	network string
}

func (p *plainListener) Name() string {
	if p.network == "unix" {
		return "unixListener"
	}
	return "tcpListener"
}

// Listen binds a plaintext TCP or Unix listener.
func (o *Ops) Listen(ctx context.Context, addr Addr, opts socket.ListenOptions) (resource.ID, net.Addr, error) {
	if err := o.check(addr, "Listen"); err != nil {
		return 0, nil, err
	}
	l, err := socket.Listen(ctx, addr.network(), addr.String(), opts)
	if err != nil {
		return 0, nil, err
	}
	return o.add(&plainListener{Listener: l, network: addr.network()}), l.Addr(), nil
}

// Accept waits for a plaintext connection on listener id.
func (o *Ops) Accept(ctx context.Context, id resource.ID) (Conn, error) {
	l, release, err := resource.Get[*plainListener](o.reg, id)
	if err != nil {
		if errors.Is(err, resource.ErrBadResource) {
			return Conn{}, &transport.Error{Kind: transport.KindResource, Op: "accept", Err: transport.ErrListenerClosed}
		}
		return Conn{}, err
	}
	defer release()

	s, err := l.AcceptContext(ctx)
	if err != nil {
		return Conn{}, err
	}
	return Conn{ID: o.add(s), LocalAddr: s.LocalAddr(), RemoteAddr: s.RemoteAddr()}, nil
}

// Connect dials a plaintext TCP or Unix stream. TCP hostnames go through
// the dialer's resolver and the first address is used.
func (o *Ops) Connect(ctx context.Context, addr Addr) (Conn, error) {
	if err := o.check(addr, "Connect"); err != nil {
		return Conn{}, err
	}

	target := addr.String()
	if addr.network() == "tcp" {
		resolver := o.dialer.Resolver
		if resolver == nil {
			resolver = socket.NetResolver{}
		}
		addrs, err := resolver.Resolve(ctx, addr.Hostname, addr.Port)
		if err != nil {
			return Conn{}, err
		}
		if len(addrs) == 0 {
			return Conn{}, socket.ErrNoResolvedAddress
		}
		target = addrs[0].String()
	}

	s, err := socket.Dial(ctx, addr.network(), target)
	if err != nil {
		return Conn{}, err
	}
	return Conn{ID: o.add(s), LocalAddr: s.LocalAddr(), RemoteAddr: s.RemoteAddr()}, nil
}
