package interactive

import (
	"bytes"
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlsnet/tlsnet-go/internal/testutil/tlstest"
	"github.com/tlsnet/tlsnet-go/pkg/cert"
	"github.com/tlsnet/tlsnet-go/pkg/ops"
	"github.com/tlsnet/tlsnet-go/pkg/resource"
	"github.com/tlsnet/tlsnet-go/pkg/socket"
	"github.com/tlsnet/tlsnet-go/pkg/transport"
)

// echoServer accepts TLS connections on its own Ops and echoes one read.
func echoServer(t *testing.T, ca *tlstest.Authority) int {
	t.Helper()
	o := ops.New(ops.Config{})
	t.Cleanup(func() { o.CloseAll() })

	pair := ca.IssueServerCert(t, "localhost", "localhost")
	keys, err := o.KeyStatic(pair.CertPEM, pair.KeyPEM)
	require.NoError(t, err)
	listener, addr, err := o.ListenTLS(context.Background(), ops.Addr{Hostname: "127.0.0.1"}, ops.ListenOptions{ALPNProtocols: []string{"echo/1"}}, keys)
	require.NoError(t, err)

	go func() {
		for {
			c, err := o.AcceptTLS(context.Background(), listener)
			if err != nil {
				return
			}
			go func(id resource.ID) {
				defer o.Close(id)
				buf := make([]byte, 1024)
				for {
					n, err := o.Read(id, buf)
					if n > 0 {
						o.Write(id, buf[:n])
					}
					if err != nil {
						return
					}
				}
			}(c.ID)
		}
	}()
	return int(netip.MustParseAddrPort(addr.String()).Port())
}

func newSession(t *testing.T, ca *tlstest.Authority, port int, plain bool) (*Session, *bytes.Buffer) {
	t.Helper()
	o := ops.New(ops.Config{Dialer: &transport.Dialer{
		Roots:    cert.StaticRoots{Pool: ca.Pool()},
		Resolver: socket.StaticResolver{"localhost": {netip.MustParseAddr("127.0.0.1")}},
	}})
	t.Cleanup(func() { o.CloseAll() })

	var out bytes.Buffer
	s := NewSession(o, &out, Target{
		Addr:        ops.Addr{Hostname: "localhost", Port: port},
		Connect:     ops.ConnectOptions{ALPNProtocols: []string{"echo/1"}},
		Plain:       plain,
		ReadTimeout: 2 * time.Second,
	})
	t.Cleanup(s.Close)
	return s, &out
}

func TestSessionTLSRoundTrip(t *testing.T) {
	ca := tlstest.NewAuthority(t, "client-ca")
	s, out := newSession(t, ca, echoServer(t, ca), false)
	ctx := context.Background()

	require.NoError(t, s.Open(ctx))
	assert.Contains(t, out.String(), "Connected (TLS)")

	require.NoError(t, s.Exec(ctx, "send hello there"))
	assert.Contains(t, out.String(), "Sent 12 bytes")

	require.NoError(t, s.Exec(ctx, "recv"))
	assert.Contains(t, out.String(), "< hello there")

	require.NoError(t, s.Exec(ctx, "info"))
	assert.Contains(t, out.String(), "ALPN:        echo/1")
	assert.Contains(t, out.String(), "Peer[0]:     localhost")

	assert.Error(t, s.Exec(ctx, "starttls"), "already TLS")
}

func TestSessionStartTLS(t *testing.T) {
	ca := tlstest.NewAuthority(t, "client-ca")
	s, out := newSession(t, ca, echoServer(t, ca), true)
	ctx := context.Background()

	require.NoError(t, s.Open(ctx))
	assert.Contains(t, out.String(), "Connected (plaintext)")

	require.NoError(t, s.Exec(ctx, "info"))
	assert.Contains(t, out.String(), "Plaintext connection")

	require.NoError(t, s.Exec(ctx, "starttls"))
	assert.Contains(t, out.String(), "Upgraded to TLS")
	assert.Contains(t, out.String(), "Version:     TLS 1.3")

	require.NoError(t, s.Exec(ctx, "send upgraded"))
	require.NoError(t, s.Exec(ctx, "recv"))
	assert.Contains(t, out.String(), "< upgraded")
}

func TestSessionCommands(t *testing.T) {
	ca := tlstest.NewAuthority(t, "client-ca")
	s, out := newSession(t, ca, echoServer(t, ca), false)
	ctx := context.Background()

	assert.ErrorIs(t, s.Exec(ctx, "send x"), errNotOpen)
	assert.ErrorIs(t, s.Exec(ctx, "recv"), errNotOpen)
	assert.ErrorIs(t, s.Exec(ctx, "quit"), ErrQuit)
	assert.Error(t, s.Exec(ctx, "frobnicate"))
	assert.NoError(t, s.Exec(ctx, "   "))

	require.NoError(t, s.Exec(ctx, "help"))
	assert.Contains(t, out.String(), "tlsnet Client Commands")

	require.NoError(t, s.Exec(ctx, "open"))
	require.NoError(t, s.Exec(ctx, "shutdown"))
	require.NoError(t, s.Exec(ctx, "recv"))
	assert.Contains(t, out.String(), "(end of stream)")

	require.NoError(t, s.Exec(ctx, "close"))
	assert.ErrorIs(t, s.Exec(ctx, "info"), errNotOpen)
}
