package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/tlsnet/tlsnet-go/pkg/cert"
	"github.com/tlsnet/tlsnet-go/pkg/log"
	"github.com/tlsnet/tlsnet-go/pkg/metrics"
	"github.com/tlsnet/tlsnet-go/pkg/permission"
	"github.com/tlsnet/tlsnet-go/pkg/socket"
)

// Dialer opens client TLS streams. The zero value trusts the system roots,
// resolves with the default resolver, allows every destination and honours
// no verification bypass.
type Dialer struct {
	// Roots provides trust anchors; SystemRoots when nil.
	Roots cert.RootStore

	// Bypass lists the hosts for which verification may be turned off.
	Bypass *BypassList

	// Resolver maps hostnames to addresses; socket.NetResolver when nil.
	Resolver socket.Resolver

	// Permissions guards destinations and CA file reads; AllowAll when nil.
	Permissions permission.Checker

	// ReadFile reads CA files; os.ReadFile when nil.
	ReadFile func(path string) ([]byte, error)

	// Logger for protocol logging (optional).
	Logger log.Logger

	// Metrics (optional).
	Metrics *metrics.Metrics
}

// ConnectOptions configures ConnectTLS.
type ConnectOptions struct {
	Hostname string
	Port     int

	// ServerName overrides Hostname for SNI and certificate verification.
	ServerName string

	// CertFile is a PEM file of extra CA certificates.
	CertFile string

	// CACerts are extra PEM CA certificates.
	CACerts [][]byte

	// ClientKeys is Null or Static.
	ClientKeys *Keys

	ALPNProtocols []string

	// InsecureSkipVerify requests a verification bypass. It only takes
	// effect for hosts on the Dialer's bypass list.
	InsecureSkipVerify bool
}

// StartOptions configures StartTLS.
type StartOptions struct {
	// Hostname is the server identity; "localhost" when empty.
	Hostname string

	CertFile      string
	CACerts       [][]byte
	ClientKeys    *Keys
	ALPNProtocols []string

	// RejectUnauthorized set to false requests a verification bypass,
	// subject to the bypass list.
	RejectUnauthorized *bool
}

const (
	apiConnectTLS = "ConnectTLS"
	apiStartTLS   = "StartTLS"
)

// ConnectTLS resolves and dials the destination, then handshakes before
// returning. On handshake failure the socket is closed and no stream is
// returned.
func (d *Dialer) ConnectTLS(ctx context.Context, opts ConnectOptions) (*Stream, error) {
	s, err := d.connectTLS(ctx, opts)
	d.Metrics.Dialled(err)
	return s, err
}

func (d *Dialer) connectTLS(ctx context.Context, opts ConnectOptions) (*Stream, error) {
	if opts.Port < 0 || opts.Port > 65535 {
		return nil, configError("connect", fmt.Errorf("%w: %d", socket.ErrInvalidPort, opts.Port))
	}
	if err := d.permissions().CheckNet(opts.Hostname, opts.Port, apiConnectTLS); err != nil {
		return nil, newError(KindConfig, "connect", err)
	}

	caCerts, err := d.caCerts(opts.CertFile, opts.CACerts, apiConnectTLS)
	if err != nil {
		return nil, err
	}

	name := opts.ServerName
	if name == "" {
		name = opts.Hostname
	}
	serverName, err := ValidateServerName(name)
	if err != nil {
		return nil, err
	}

	clientCert, err := opts.ClientKeys.Take().clientCertificate()
	if err != nil {
		return nil, err
	}

	tlsConf, err := NewClientTLSConfig(&ClientTLSConfig{
		Roots:              d.Roots,
		CACerts:            caCerts,
		Certificate:        clientCert,
		ServerName:         serverName,
		ALPNProtocols:      opts.ALPNProtocols,
		InsecureSkipVerify: d.Bypass.skipVerify(opts.InsecureSkipVerify, serverName),
	})
	if err != nil {
		return nil, err
	}

	addrs, err := d.resolver().Resolve(ctx, opts.Hostname, opts.Port)
	if err != nil {
		return nil, newError(KindTransport, "resolve", err)
	}
	if len(addrs) == 0 {
		return nil, newError(KindTransport, "resolve", socket.ErrNoResolvedAddress)
	}

	plain, err := socket.Dial(ctx, "tcp", addrs[0].String())
	if err != nil {
		return nil, newError(KindTransport, "connect", err)
	}
	conn, err := socket.Reunite(plain.ReadHalf(), plain.WriteHalf())
	if err != nil {
		plain.Close()
		return nil, newError(KindTransport, "connect", err)
	}

	s, err := newStream(conn, tlsConf, log.RoleClient, d.observers())
	if err != nil {
		conn.Close()
		return nil, newError(KindTransport, "connect", err)
	}
	if _, err := s.Handshake(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// StartTLS upgrades plain to a client TLS stream over the same socket.
// Both halves of plain must be idle; otherwise StartTLS fails with ErrBusy
// and plain is left untouched. On success plain is spent and the returned
// stream keeps its addresses. The handshake is deferred to first use.
func (d *Dialer) StartTLS(plain *socket.Stream, opts StartOptions) (*Stream, error) {
	conf, err := d.StartConfig(opts)
	if err != nil {
		return nil, err
	}
	return d.Upgrade(plain, conf)
}

// StartConfig validates opts and builds the client config for an upgrade.
// It reads the CA file, if any, and consumes opts.ClientKeys, but touches
// no stream.
func (d *Dialer) StartConfig(opts StartOptions) (*tls.Config, error) {
	hostname := opts.Hostname
	if hostname == "" {
		hostname = "localhost"
	}
	serverName, err := ValidateServerName(hostname)
	if err != nil {
		return nil, err
	}

	caCerts, err := d.caCerts(opts.CertFile, opts.CACerts, apiStartTLS)
	if err != nil {
		return nil, err
	}

	clientCert, err := opts.ClientKeys.Take().clientCertificate()
	if err != nil {
		return nil, err
	}

	bypass := opts.RejectUnauthorized != nil && !*opts.RejectUnauthorized
	return NewClientTLSConfig(&ClientTLSConfig{
		Roots:              d.Roots,
		CACerts:            caCerts,
		Certificate:        clientCert,
		ServerName:         serverName,
		ALPNProtocols:      opts.ALPNProtocols,
		InsecureSkipVerify: d.Bypass.skipVerify(bypass, serverName),
	})
}

// Upgrade wraps plain in a client TLS stream using conf from StartConfig.
// When it fails with ErrBusy plain is untouched; plain.Spent reports
// whether any other failure consumed it.
func (d *Dialer) Upgrade(plain *socket.Stream, conf *tls.Config) (*Stream, error) {
	conn, err := socket.Reunite(plain.ReadHalf(), plain.WriteHalf())
	if err != nil {
		if errors.Is(err, socket.ErrBusy) {
			return nil, resourceError("start tls", ErrBusy)
		}
		return nil, resourceError("start tls", err)
	}

	s, err := newStream(conn, conf, log.RoleClient, d.observers())
	if err != nil {
		conn.Close()
		return nil, newError(KindTransport, "start tls", err)
	}
	return s, nil
}

// caCerts appends the contents of certFile to inline.
func (d *Dialer) caCerts(certFile string, inline [][]byte, api string) ([][]byte, error) {
	out := append([][]byte(nil), inline...)
	if certFile == "" {
		return out, nil
	}
	if err := d.permissions().CheckRead(certFile, api); err != nil {
		return nil, newError(KindConfig, "cert file", err)
	}
	readFile := d.ReadFile
	if readFile == nil {
		readFile = os.ReadFile
	}
	data, err := readFile(certFile)
	if err != nil {
		return nil, newError(KindConfig, "cert file", err)
	}
	return append(out, data), nil
}

func (d *Dialer) permissions() permission.Checker {
	if d.Permissions == nil {
		return permission.AllowAll{}
	}
	return d.Permissions
}

func (d *Dialer) resolver() socket.Resolver {
	if d.Resolver == nil {
		return socket.NetResolver{}
	}
	return d.Resolver
}

func (d *Dialer) observers() observers {
	return observers{logger: log.OrNoop(d.Logger), metrics: d.Metrics}
}

// Address returns the destination as host:port.
func (o ConnectOptions) Address() string {
	return net.JoinHostPort(o.Hostname, strconv.Itoa(o.Port))
}
