package transport

import (
	"context"
	"io"
	"net"

	"github.com/tlsnet/tlsnet-go/pkg/resource"
)

// Connection is a TLS byte stream with a cached handshake.
// Implemented by Stream.
type Connection interface {
	io.ReadWriteCloser

	// Handshake returns the negotiated state, handshaking on first call.
	Handshake(ctx context.Context) (HandshakeInfo, error)

	// Shutdown half-closes the write side.
	Shutdown() error

	// LocalAddr returns the local network address.
	LocalAddr() net.Addr

	// RemoteAddr returns the remote network address.
	RemoteAddr() net.Addr
}

// Compile-time interface satisfaction checks.
var (
	_ Connection        = (*Stream)(nil)
	_ resource.Resource = (*Stream)(nil)
	_ resource.Resource = (*Listener)(nil)
	_ resource.Resource = (*Keys)(nil)
)
