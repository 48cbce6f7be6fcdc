package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tlsnet/tlsnet-go/pkg/log"
	"github.com/tlsnet/tlsnet-go/pkg/metrics"
	"github.com/tlsnet/tlsnet-go/pkg/sni"
	"github.com/tlsnet/tlsnet-go/pkg/socket"
)

// ListenConfig configures a TLS listener.
type ListenConfig struct {
	// Network is "tcp" (default) or "unix".
	Network string

	// ReusePort lets several sockets bind the same port.
	ReusePort bool

	// LoadBalanced shares one bound socket between every load-balanced
	// listener on the same address in this process.
	LoadBalanced bool

	// ALPNProtocols are offered to clients in preference order.
	ALPNProtocols []string

	// Logger for protocol logging (optional).
	Logger log.Logger

	// Metrics (optional).
	Metrics *metrics.Metrics
}

// Listener accepts TLS streams. Its TLS configuration is fixed at creation.
type Listener struct {
	id       string
	raw      socket.Listener
	tlsConf  *tls.Config
	resolver *sni.Resolver
	token    *CancelToken
	obs      observers

	accepting atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Listen binds address and serves TLS with the material taken from keys.
// Null keys fail with ErrListenTLSRequiresKey.
func Listen(ctx context.Context, address string, keys *Keys, cfg ListenConfig) (*Listener, error) {
	material := keys.Take()

	serverCfg := &ServerTLSConfig{ALPNProtocols: cfg.ALPNProtocols}
	switch material.Kind {
	case KeyNull:
		return nil, configError("listen", ErrListenTLSRequiresKey)
	case KeyStatic:
		serverCfg.Certificate = &material.Certificate
	case KeyResolver:
		serverCfg.Resolver = material.Resolver
	default:
		panic("transport: impossible key kind " + material.Kind.String())
	}

	tlsConf, err := NewServerTLSConfig(serverCfg)
	if err != nil {
		return nil, err
	}

	network := cfg.Network
	if network == "" {
		network = "tcp"
	}
	raw, err := socket.Listen(ctx, network, address, socket.ListenOptions{
		ReusePort:    cfg.ReusePort,
		LoadBalanced: cfg.LoadBalanced,
	})
	if err != nil {
		return nil, newError(KindTransport, "listen", err)
	}

	l := &Listener{
		id:       uuid.New().String(),
		raw:      raw,
		tlsConf:  tlsConf,
		resolver: serverCfg.Resolver,
		token:    NewCancelToken(),
		obs:      observers{logger: log.OrNoop(cfg.Logger), metrics: cfg.Metrics},
	}
	l.logState("", "LISTENING", raw.Addr().String())
	return l, nil
}

// Name returns the resource name.
func (l *Listener) Name() string {
	return "tlsListener"
}

// ID returns the listener id used in protocol logs.
func (l *Listener) ID() string {
	return l.id
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.raw.Addr()
}

// Resolver returns the SNI resolver, or nil for a static listener.
func (l *Listener) Resolver() *sni.Resolver {
	return l.resolver
}

// Accept waits for a connection and wraps it for TLS. The handshake is
// deferred to the stream's first use. Only one Accept may be outstanding;
// a concurrent call fails with ErrAcceptInProgress.
func (l *Listener) Accept(ctx context.Context) (*Stream, net.Addr, error) {
	if !l.accepting.CompareAndSwap(false, true) {
		return nil, nil, resourceError("accept", ErrAcceptInProgress)
	}
	defer l.accepting.Store(false)

	if l.token.Cancelled() {
		return nil, nil, resourceError("accept", ErrListenerClosed)
	}

	actx, stop := l.token.Bind(ctx)
	defer stop()

	plain, err := l.raw.AcceptContext(actx)
	if err != nil {
		switch {
		case l.token.Cancelled(), errors.Is(err, socket.ErrListenerClosed):
			return nil, nil, resourceError("accept", ErrListenerClosed)
		case ctx.Err() != nil:
			return nil, nil, cancelledError("accept")
		}
		return nil, nil, newError(KindTransport, "accept", err)
	}

	conn, err := socket.Reunite(plain.ReadHalf(), plain.WriteHalf())
	if err != nil {
		plain.Close()
		return nil, nil, newError(KindTransport, "accept", err)
	}

	s, err := newStream(conn, l.tlsConf, log.RoleServer, l.obs)
	if err != nil {
		conn.Close()
		return nil, nil, newError(KindTransport, "accept", err)
	}

	mode := "static"
	if l.resolver != nil {
		mode = "resolver"
	}
	l.obs.metrics.Accepted(mode)
	return s, s.RemoteAddr(), nil
}

// Close releases the bind and wakes a pending Accept with
// ErrListenerClosed. A resolver-backed listener also closes its resolver,
// failing every pending lookup. Close is idempotent.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.token.Cancel()
		l.closeErr = l.raw.Close()
		if l.resolver != nil {
			l.resolver.Close()
		}
		l.logState("LISTENING", "CLOSED", "")
	})
	return l.closeErr
}

func (l *Listener) logState(oldState, newState, reason string) {
	l.obs.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: l.id,
		Layer:        log.LayerSocket,
		Category:     log.CategoryState,
		LocalRole:    log.RoleServer,
		LocalAddr:    l.raw.Addr().String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityListener,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}
