package ops_test

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tlsnet/tlsnet-go/internal/testutil/tlstest"
	"github.com/tlsnet/tlsnet-go/pkg/cert"
	"github.com/tlsnet/tlsnet-go/pkg/ops"
	"github.com/tlsnet/tlsnet-go/pkg/permission"
	"github.com/tlsnet/tlsnet-go/pkg/permission/mocks"
	"github.com/tlsnet/tlsnet-go/pkg/resource"
	"github.com/tlsnet/tlsnet-go/pkg/sni"
	"github.com/tlsnet/tlsnet-go/pkg/socket"
	"github.com/tlsnet/tlsnet-go/pkg/transport"
)

var loopback = socket.StaticResolver{
	"localhost": {netip.MustParseAddr("127.0.0.1")},
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newOps(t *testing.T, ca *tlstest.Authority) *ops.Ops {
	t.Helper()
	o := ops.New(ops.Config{
		Dialer: &transport.Dialer{
			Roots:    cert.StaticRoots{Pool: ca.Pool()},
			Resolver: loopback,
		},
	})
	t.Cleanup(func() { o.CloseAll() })
	return o
}

func listenTLS(t *testing.T, o *ops.Ops, ca *tlstest.Authority, alpn []string) (resource.ID, int) {
	t.Helper()
	pair := ca.IssueServerCert(t, "localhost", "localhost")
	keys, err := o.KeyStatic(pair.CertPEM, pair.KeyPEM)
	require.NoError(t, err)

	id, addr, err := o.ListenTLS(testContext(t), ops.Addr{Hostname: "127.0.0.1"}, ops.ListenOptions{ALPNProtocols: alpn}, keys)
	require.NoError(t, err)
	return id, int(netip.MustParseAddrPort(addr.String()).Port())
}

type served struct {
	conn ops.Conn
	info transport.HandshakeInfo
	err  error
}

func acceptAndHandshake(ctx context.Context, o *ops.Ops, listener resource.ID) <-chan served {
	ch := make(chan served, 1)
	go func() {
		c, err := o.AcceptTLS(ctx, listener)
		if err != nil {
			ch <- served{err: err}
			return
		}
		info, err := o.TLSHandshake(ctx, c.ID)
		ch <- served{conn: c, info: info, err: err}
	}()
	return ch
}

func TestConnectAcceptRoundTrip(t *testing.T) {
	ca := tlstest.NewAuthority(t, "test-ca")
	o := newOps(t, ca)
	ctx := testContext(t)
	listener, port := listenTLS(t, o, ca, []string{"echo/1"})

	srv := acceptAndHandshake(ctx, o, listener)
	client, err := o.ConnectTLS(ctx, ops.Addr{Hostname: "localhost", Port: port}, ops.ConnectOptions{ALPNProtocols: []string{"echo/1"}}, 0)
	require.NoError(t, err)
	got := <-srv
	require.NoError(t, got.err)

	assert.Equal(t, "echo/1", got.info.ALPNProtocol)
	assert.Equal(t, client.LocalAddr.String(), got.conn.RemoteAddr.String())

	info, err := o.TLSHandshake(ctx, client.ID)
	require.NoError(t, err)
	assert.Equal(t, "echo/1", info.ALPNProtocol)

	n, err := o.Write(client.ID, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.NoError(t, o.Shutdown(client.ID))

	buf := make([]byte, 16)
	n, err = o.Read(got.conn.ID, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	require.NoError(t, o.Close(client.ID))
	_, err = o.Read(client.ID, buf)
	assert.ErrorIs(t, err, resource.ErrBadResource)
	assert.ErrorIs(t, o.Close(client.ID), resource.ErrBadResource)
}

func TestConnectUntrustedRegistersNothing(t *testing.T) {
	serverCA := tlstest.NewAuthority(t, "server-ca")
	o := newOps(t, tlstest.NewAuthority(t, "other-ca"))
	ctx := testContext(t)
	listener, port := listenTLS(t, o, serverCA, nil)
	before := o.Registry().Len()

	srv := acceptAndHandshake(ctx, o, listener)
	_, err := o.ConnectTLS(ctx, ops.Addr{Hostname: "localhost", Port: port}, ops.ConnectOptions{}, 0)
	require.Error(t, err)
	assert.Equal(t, transport.KindProtocol, transport.KindOf(err))

	got := <-srv
	require.Error(t, got.err)
	require.NoError(t, o.Close(got.conn.ID))
	assert.Equal(t, before, o.Registry().Len())
}

func TestListenTLSRequiresKey(t *testing.T) {
	o := newOps(t, tlstest.NewAuthority(t, "test-ca"))

	_, _, err := o.ListenTLS(testContext(t), ops.Addr{Hostname: "127.0.0.1"}, ops.ListenOptions{}, 0)
	assert.ErrorIs(t, err, transport.ErrListenTLSRequiresKey)

	_, _, err = o.ListenTLS(testContext(t), ops.Addr{Hostname: "127.0.0.1"}, ops.ListenOptions{}, o.KeyNull())
	assert.ErrorIs(t, err, transport.ErrListenTLSRequiresKey)
}

func TestAcceptTLSClosedListener(t *testing.T) {
	ca := tlstest.NewAuthority(t, "test-ca")
	o := newOps(t, ca)
	listener, _ := listenTLS(t, o, ca, nil)

	_, err := o.AcceptTLS(context.Background(), 999)
	assert.ErrorIs(t, err, transport.ErrListenerClosed)

	pending := make(chan error, 1)
	go func() {
		_, err := o.AcceptTLS(context.Background(), listener)
		pending <- err
	}()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, o.Close(listener))
	select {
	case err := <-pending:
		assert.ErrorIs(t, err, transport.ErrListenerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("accept not woken by Close")
	}

	_, err = o.AcceptTLS(context.Background(), listener)
	assert.ErrorIs(t, err, transport.ErrListenerClosed)
}

func TestStartTLS(t *testing.T) {
	ca := tlstest.NewAuthority(t, "test-ca")
	o := newOps(t, ca)
	ctx := testContext(t)
	listener, port := listenTLS(t, o, ca, nil)

	srv := acceptAndHandshake(ctx, o, listener)
	plain, err := o.Connect(ctx, ops.Addr{Hostname: "localhost", Port: port})
	require.NoError(t, err)

	upgraded, err := o.StartTLS(plain.ID, transport.StartOptions{Hostname: "localhost"}, 0)
	require.NoError(t, err)
	assert.NotEqual(t, plain.ID, upgraded.ID)
	assert.Equal(t, plain.LocalAddr, upgraded.LocalAddr)
	assert.Equal(t, plain.RemoteAddr, upgraded.RemoteAddr)

	_, err = o.Write(plain.ID, []byte("x"))
	assert.ErrorIs(t, err, resource.ErrBadResource)

	_, err = o.Write(upgraded.ID, []byte("STARTED"))
	require.NoError(t, err)

	got := <-srv
	require.NoError(t, got.err)
	buf := make([]byte, 16)
	n, err := o.Read(got.conn.ID, buf)
	require.NoError(t, err)
	assert.Equal(t, "STARTED", string(buf[:n]))
}

func TestStartTLSBusyKeepsStream(t *testing.T) {
	o := newOps(t, tlstest.NewAuthority(t, "test-ca"))
	ctx := testContext(t)

	listener, addr, err := o.Listen(ctx, ops.Addr{Hostname: "127.0.0.1"}, socket.ListenOptions{})
	require.NoError(t, err)
	port := int(netip.MustParseAddrPort(addr.String()).Port())

	peer := make(chan ops.Conn, 1)
	go func() {
		c, err := o.Accept(ctx, listener)
		if err == nil {
			peer <- c
		}
	}()
	plain, err := o.Connect(ctx, ops.Addr{Hostname: "localhost", Port: port})
	require.NoError(t, err)
	remote := <-peer

	// A pending read holds a borrow on the stream.
	read := make(chan string, 1)
	go func() {
		buf := make([]byte, 16)
		n, _ := o.Read(plain.ID, buf)
		read <- string(buf[:n])
	}()
	time.Sleep(50 * time.Millisecond)

	_, err = o.StartTLS(plain.ID, transport.StartOptions{}, 0)
	assert.ErrorIs(t, err, transport.ErrBusy)
	assert.Equal(t, transport.KindResource, transport.KindOf(err))

	// The original holder still owns a working stream.
	_, err = o.Write(remote.ID, []byte("still plain"))
	require.NoError(t, err)
	assert.Equal(t, "still plain", <-read)

	_, err = o.Write(plain.ID, []byte("ack"))
	require.NoError(t, err)
	buf := make([]byte, 16)
	n, err := o.Read(remote.ID, buf)
	require.NoError(t, err)
	assert.Equal(t, "ack", string(buf[:n]))
}

func TestStartTLSValidatesBeforeTakingStream(t *testing.T) {
	ca := tlstest.NewAuthority(t, "test-ca")
	checker := mocks.NewMockChecker(t)
	checker.EXPECT().CheckNet(mock.Anything, mock.Anything, mock.Anything).Return(nil)

	var (
		o       *ops.Ops
		plain   ops.Conn
		lookups []error
	)
	// The CA file is read while options are validated; the plaintext
	// stream must still be registered at that point.
	checker.EXPECT().CheckRead("ca.pem", "StartTLS").RunAndReturn(func(string, string) error {
		_, release, err := resource.Get[*socket.Stream](o.Registry(), plain.ID)
		if err == nil {
			release()
		}
		lookups = append(lookups, err)
		return nil
	})

	o = ops.New(ops.Config{
		Permissions: checker,
		Dialer: &transport.Dialer{
			Roots:    cert.StaticRoots{Pool: ca.Pool()},
			Resolver: loopback,
			ReadFile: func(string) ([]byte, error) { return ca.CAPEM(), nil },
		},
	})
	t.Cleanup(func() { o.CloseAll() })
	ctx := testContext(t)
	listener, port := listenTLS(t, o, ca, nil)

	srv := acceptAndHandshake(ctx, o, listener)
	var err error
	plain, err = o.Connect(ctx, ops.Addr{Hostname: "localhost", Port: port})
	require.NoError(t, err)

	_, err = o.StartTLS(plain.ID, transport.StartOptions{Hostname: "not a host!"}, 0)
	assert.ErrorIs(t, err, transport.ErrInvalidHostname)
	assert.Equal(t, transport.KindConfig, transport.KindOf(err))
	_, release, err := resource.Get[*socket.Stream](o.Registry(), plain.ID)
	require.NoError(t, err, "stream stays registered after a config error")
	release()

	upgraded, err := o.StartTLS(plain.ID, transport.StartOptions{Hostname: "localhost", CertFile: "ca.pem"}, 0)
	require.NoError(t, err)
	require.Len(t, lookups, 1)
	assert.NoError(t, lookups[0])

	_, err = o.Write(upgraded.ID, []byte("over tls"))
	require.NoError(t, err)
	got := <-srv
	require.NoError(t, got.err)
	buf := make([]byte, 16)
	n, err := o.Read(got.conn.ID, buf)
	require.NoError(t, err)
	assert.Equal(t, "over tls", string(buf[:n]))
}

func TestCertResolverOps(t *testing.T) {
	ca := tlstest.NewAuthority(t, "test-ca")
	o := newOps(t, ca)
	ctx := testContext(t)

	keys, resolver := o.CertResolverCreate()
	listener, addr, err := o.ListenTLS(ctx, ops.Addr{Hostname: "127.0.0.1"}, ops.ListenOptions{}, keys)
	require.NoError(t, err)
	port := int(netip.MustParseAddrPort(addr.String()).Port())

	srv := acceptAndHandshake(ctx, o, listener)
	dialled := make(chan error, 1)
	go func() {
		c, err := o.ConnectTLS(ctx, ops.Addr{Hostname: "localhost", Port: port}, ops.ConnectOptions{ServerName: "a.test"}, 0)
		if err == nil {
			o.Close(c.ID)
		}
		dialled <- err
	}()

	host, err := o.CertResolverPoll(ctx, resolver)
	require.NoError(t, err)
	assert.Equal(t, "a.test", host)

	// Only static keys can answer.
	err = o.CertResolverResolve(resolver, host, o.KeyNull())
	assert.ErrorIs(t, err, transport.ErrUnexpectedKeyType)

	pair := ca.IssueServerCert(t, "a.test", "a.test")
	answer, err := o.KeyStatic(pair.CertPEM, pair.KeyPEM)
	require.NoError(t, err)
	require.NoError(t, o.CertResolverResolve(resolver, host, answer))

	require.NoError(t, <-dialled)
	got := <-srv
	require.NoError(t, got.err)
	assert.Equal(t, "a.test", got.info.ServerName)

	// A second answer for the same host is rejected.
	assert.ErrorIs(t, o.CertResolverResolveError(resolver, host, "late"), sni.ErrNotPending)
}

func TestCertResolverError(t *testing.T) {
	ca := tlstest.NewAuthority(t, "test-ca")
	o := newOps(t, ca)
	ctx := testContext(t)

	keys, resolver := o.CertResolverCreate()
	listener, addr, err := o.ListenTLS(ctx, ops.Addr{Hostname: "127.0.0.1"}, ops.ListenOptions{}, keys)
	require.NoError(t, err)
	port := int(netip.MustParseAddrPort(addr.String()).Port())

	srv := acceptAndHandshake(ctx, o, listener)
	dialled := make(chan error, 1)
	go func() {
		_, err := o.ConnectTLS(ctx, ops.Addr{Hostname: "localhost", Port: port}, ops.ConnectOptions{ServerName: "b.test"}, 0)
		dialled <- err
	}()

	host, err := o.CertResolverPoll(ctx, resolver)
	require.NoError(t, err)
	require.NoError(t, o.CertResolverResolveError(resolver, host, "no such tenant"))

	err = <-dialled
	assert.Equal(t, transport.KindProtocol, transport.KindOf(err))
	got := <-srv
	assert.ErrorIs(t, got.err, sni.ErrLookupFailed)

	// Closing the resolver ends polling.
	require.NoError(t, o.Close(resolver))
	_, err = o.CertResolverPoll(ctx, resolver)
	assert.ErrorIs(t, err, resource.ErrBadResource)
}

func TestPermissionDenied(t *testing.T) {
	checker := mocks.NewMockChecker(t)
	checker.EXPECT().CheckNet("localhost", 443, "ConnectTLS").Return(permission.ErrPermissionDenied)
	checker.EXPECT().CheckNet("127.0.0.1", 0, "Listen").Return(permission.ErrPermissionDenied)

	o := ops.New(ops.Config{Permissions: checker, Dialer: &transport.Dialer{Resolver: loopback}})
	defer o.CloseAll()

	_, err := o.ConnectTLS(testContext(t), ops.Addr{Hostname: "localhost", Port: 443}, ops.ConnectOptions{}, 0)
	assert.ErrorIs(t, err, permission.ErrPermissionDenied)

	_, _, err = o.Listen(testContext(t), ops.Addr{Hostname: "127.0.0.1"}, socket.ListenOptions{})
	assert.ErrorIs(t, err, permission.ErrPermissionDenied)

	assert.Zero(t, o.Registry().Len())
}

func TestRegistryEntriesNames(t *testing.T) {
	ca := tlstest.NewAuthority(t, "test-ca")
	o := newOps(t, ca)
	listener, _ := listenTLS(t, o, ca, nil)
	keys, resolver := o.CertResolverCreate()

	names := map[resource.ID]string{}
	for _, e := range o.Registry().Entries() {
		names[e.ID] = e.Name
	}
	assert.Equal(t, "tlsListener", names[listener])
	assert.Equal(t, "tlsKeys", names[keys])
	assert.Equal(t, "tlsCertResolver", names[resolver])
}
