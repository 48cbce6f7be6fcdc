// Package server implements the tlsnet-serve echo server on top of the
// operation surface.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/tlsnet/tlsnet-go/pkg/cert"
	"github.com/tlsnet/tlsnet-go/pkg/config"
	"github.com/tlsnet/tlsnet-go/pkg/ops"
	"github.com/tlsnet/tlsnet-go/pkg/resource"
	"github.com/tlsnet/tlsnet-go/pkg/transport"
)

// Server echoes every byte it reads back to the client.
//
// With the resolver enabled it also acts as the certificate authority: each
// new SNI name is looked up in a cert.FileStore, which is rescanned once
// before a name is rejected.
type Server struct {
	ops    *ops.Ops
	cfg    config.Config
	logger *slog.Logger
	store  *cert.FileStore

	listener resource.ID
	resolver resource.ID
	addr     net.Addr
	leaf     *tls.Certificate

	// DrainTimeout bounds how long Serve waits for connections after ctx
	// ends. A peer that stops reading keeps its echo write blocked.
	DrainTimeout time.Duration

	wg sync.WaitGroup
}

// DefaultDrainTimeout is the DrainTimeout New sets.
const DefaultDrainTimeout = 5 * time.Second

// New creates a server. Start binds it.
func New(o *ops.Ops, cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{ops: o, cfg: cfg, logger: logger, DrainTimeout: DefaultDrainTimeout}
	if cfg.Resolver.Enabled {
		s.store = cert.NewFileStore(cfg.Resolver.CertDir)
	}
	return s
}

// Start registers the key material and binds the listener.
func (s *Server) Start(ctx context.Context) (net.Addr, error) {
	keys, err := s.keys()
	if err != nil {
		return nil, err
	}

	addr, err := listenAddr(s.cfg.Listen)
	if err != nil {
		return nil, err
	}
	id, bound, err := s.ops.ListenTLS(ctx, addr, ops.ListenOptions{
		ReusePort:     s.cfg.Listen.ReusePort,
		LoadBalanced:  s.cfg.Listen.LoadBalanced,
		ALPNProtocols: s.cfg.Listen.ALPN,
	}, keys)
	if err != nil {
		return nil, err
	}
	s.listener = id
	s.addr = bound
	s.logger.Info("listening", "addr", bound.String(), "resolver", s.cfg.Resolver.Enabled, "alpn", s.cfg.Listen.ALPN)
	return bound, nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Certificate returns the static certificate, or nil in resolver mode.
func (s *Server) Certificate() *tls.Certificate {
	return s.leaf
}

func (s *Server) keys() (resource.ID, error) {
	if s.store != nil {
		if err := s.store.Load(); err != nil {
			return 0, fmt.Errorf("load certificates: %w", err)
		}
		s.logger.Info("certificate store loaded", "dir", s.store.Dir(), "names", s.store.Names())
		keys, resolver := s.ops.CertResolverCreate()
		s.resolver = resolver
		return keys, nil
	}

	if s.cfg.Listen.CertFile == "" {
		return 0, transport.ErrListenTLSRequiresKey
	}
	pair, err := cert.ReadKeyPairFiles(s.cfg.Listen.CertFile, s.cfg.Listen.KeyFile)
	if err != nil {
		return 0, fmt.Errorf("load key pair: %w", err)
	}
	s.leaf = &pair
	return s.ops.KeyCertificate(pair), nil
}

// Serve runs the accept loop, and the authority loop in resolver mode,
// until ctx ends or the listener is closed. It waits up to DrainTimeout for
// open connections to finish before returning.
func (s *Server) Serve(ctx context.Context) error {
	if s.resolver != 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.authority(ctx)
		}()
	}

	// Closing the listener id wakes the pending accept.
	stop := context.AfterFunc(ctx, func() { s.ops.Close(s.listener) })
	defer stop()

	var err error
	for {
		var c ops.Conn
		c, err = s.ops.AcceptTLS(ctx, s.listener)
		if err != nil {
			break
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, c)
		}()
	}

	if s.resolver != 0 {
		s.ops.Close(s.resolver)
	}
	s.drain()

	if errors.Is(err, transport.ErrListenerClosed) || ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Server) drain() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.DrainTimeout):
		s.logger.Warn("connections still writing after drain timeout", "timeout", s.DrainTimeout)
	}
}

// Close stops accepting.
func (s *Server) Close() error {
	return s.ops.Close(s.listener)
}

func (s *Server) handle(ctx context.Context, c ops.Conn) {
	defer s.ops.Close(c.ID)
	log := s.logger.With("conn", c.ID, "peer", c.RemoteAddr.String())

	info, err := s.ops.TLSHandshake(ctx, c.ID)
	if err != nil {
		log.Warn("handshake failed", "error", err, "kind", transport.KindOf(err).String())
		return
	}
	log.Info("handshake complete", "server_name", info.ServerName, "alpn", info.ALPNProtocol, "version", tls.VersionName(info.Version))

	// The connection is closed when ctx ends so the read below returns.
	stop := context.AfterFunc(ctx, func() { s.ops.Close(c.ID) })
	defer stop()

	buf := make([]byte, 16*1024)
	total := 0
	for {
		n, err := s.ops.Read(c.ID, buf)
		if n > 0 {
			if _, werr := s.ops.Write(c.ID, buf[:n]); werr != nil {
				log.Warn("write failed", "error", werr)
				return
			}
			total += n
		}
		if errors.Is(err, io.EOF) {
			log.Debug("peer finished", "bytes", total)
			s.ops.Shutdown(c.ID)
			return
		}
		if err != nil {
			log.Debug("read ended", "error", err, "bytes", total)
			return
		}
	}
}

// authority answers certificate lookups from the store.
func (s *Server) authority(ctx context.Context) {
	for {
		host, err := s.ops.CertResolverPoll(ctx, s.resolver)
		if err != nil {
			return
		}

		pair, err := s.store.Lookup(host)
		if errors.Is(err, cert.ErrCertNotFound) {
			if lerr := s.store.Load(); lerr != nil {
				s.logger.Warn("certificate store reload failed", "error", lerr)
			}
			pair, err = s.store.Lookup(host)
		}
		if err != nil {
			s.logger.Info("no certificate", "server_name", host)
			if rerr := s.ops.CertResolverResolveError(s.resolver, host, err.Error()); rerr != nil {
				s.logger.Debug("resolve error not delivered", "server_name", host, "error", rerr)
			}
			continue
		}

		keys := s.ops.KeyCertificate(pair)
		if rerr := s.ops.CertResolverResolve(s.resolver, host, keys); rerr != nil {
			s.logger.Debug("certificate not delivered", "server_name", host, "error", rerr)
		}
		s.ops.Close(keys)
	}
}

func listenAddr(l config.Listen) (ops.Addr, error) {
	if l.Network == "unix" {
		return ops.Addr{Network: "unix", Path: l.Address}, nil
	}
	host, portStr, err := net.SplitHostPort(l.Address)
	if err != nil {
		return ops.Addr{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return ops.Addr{}, fmt.Errorf("invalid port %q", portStr)
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return ops.Addr{Network: "tcp", Hostname: host, Port: port}, nil
}
