package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// Resolution errors.
var (
	ErrInvalidPort       = errors.New("invalid port")
	ErrNoResolvedAddress = errors.New("no resolved address found")
)

// Resolver turns a host and port into candidate socket addresses.
type Resolver interface {
	Resolve(ctx context.Context, host string, port int) ([]netip.AddrPort, error)
}

// NetResolver resolves through a net.Resolver. The zero value uses
// net.DefaultResolver.
type NetResolver struct {
	Resolver *net.Resolver
}

var _ Resolver = NetResolver{}

// Resolve looks up host. An empty host resolves to the unspecified IPv4
// address; IP literals are returned without a lookup.
func (r NetResolver) Resolve(ctx context.Context, host string, port int) ([]netip.AddrPort, error) {
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	p := uint16(port)

	if host == "" {
		return []netip.AddrPort{netip.AddrPortFrom(netip.IPv4Unspecified(), p)}, nil
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		return []netip.AddrPort{netip.AddrPortFrom(ip.Unmap(), p)}, nil
	}

	res := r.Resolver
	if res == nil {
		res = net.DefaultResolver
	}
	ips, err := res.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, ErrNoResolvedAddress
	}
	out := make([]netip.AddrPort, 0, len(ips))
	for _, ip := range ips {
		out = append(out, netip.AddrPortFrom(ip.Unmap(), p))
	}
	return out, nil
}

// StaticResolver maps hostnames to fixed addresses. It is useful for tests
// and for pinning names in configuration.
type StaticResolver map[string][]netip.Addr

// Resolve returns the fixed addresses for host.
func (s StaticResolver) Resolve(_ context.Context, host string, port int) ([]netip.AddrPort, error) {
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	ips := s[host]
	if len(ips) == 0 {
		return nil, ErrNoResolvedAddress
	}
	out := make([]netip.AddrPort, 0, len(ips))
	for _, ip := range ips {
		out = append(out, netip.AddrPortFrom(ip, uint16(port)))
	}
	return out, nil
}
