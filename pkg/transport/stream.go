package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tlsnet/tlsnet-go/pkg/log"
	"github.com/tlsnet/tlsnet-go/pkg/metrics"
	"github.com/tlsnet/tlsnet-go/pkg/socket"
)

// observers carries the optional log and metric sinks a stream reports to.
type observers struct {
	logger  log.Logger
	metrics *metrics.Metrics
}

// Stream is an established TLS connection over a TCP or Unix socket.
//
// Reads and writes lock separate halves: a read and a write may run at
// the same time, but a second concurrent read (or write) fails with
// ErrBusy. The handshake runs at most once, on the first Handshake, Read,
// Write or Shutdown.
//
// Close returns without waiting for a Write in flight; the socket is
// released when that Write finishes.
type Stream struct {
	id     string
	role   log.Role
	kind   socket.Kind
	conn   *tls.Conn
	local  net.Addr
	remote net.Addr
	token  *CancelToken
	obs    observers

	// serverName is the SNI name sent (client) or received (server).
	serverName atomic.Pointer[string]

	rd sync.Mutex
	wr sync.Mutex

	hsMu sync.Mutex
	hs   *handshake

	// life guards the closed transition against writing. Whichever of
	// Close and the last Write comes second releases the socket.
	life        sync.Mutex
	closed      atomic.Bool
	writing     bool
	releaseOnce sync.Once
	closeErr    error
}

type handshake struct {
	done chan struct{}
	info HandshakeInfo
	err  error
}

func newStream(raw socket.Conn, cfg *tls.Config, role log.Role, obs observers) (*Stream, error) {
	kind, err := socket.KindOf(raw)
	if err != nil {
		return nil, err
	}

	var conn *tls.Conn
	if role == log.RoleServer {
		conn = tls.Server(raw, cfg)
	} else {
		conn = tls.Client(raw, cfg)
	}

	s := &Stream{
		id:     uuid.New().String(),
		role:   role,
		kind:   kind,
		conn:   conn,
		local:  raw.LocalAddr(),
		remote: raw.RemoteAddr(),
		token:  NewCancelToken(),
		obs:    obs,
	}
	if cfg.ServerName != "" {
		name := cfg.ServerName
		s.serverName.Store(&name)
	}
	s.obs.logger = log.OrNoop(obs.logger)
	s.obs.metrics.StreamOpened(s.roleLabel())
	s.logState("", "OPEN", "")
	return s, nil
}

// ID returns the stream id used in protocol logs.
func (s *Stream) ID() string {
	return s.id
}

// Name returns the resource name.
func (s *Stream) Name() string {
	return "tlsStream"
}

// Kind returns the socket variant under the session.
func (s *Stream) Kind() socket.Kind {
	return s.kind
}

// LocalAddr returns the local address.
func (s *Stream) LocalAddr() net.Addr {
	return s.local
}

// RemoteAddr returns the peer address.
func (s *Stream) RemoteAddr() net.Addr {
	return s.remote
}

// Token returns the stream's cancellation token.
func (s *Stream) Token() *CancelToken {
	return s.token
}

// PeerCertificates returns the chain the peer presented, or nil before the
// handshake completes or when none was sent.
func (s *Stream) PeerCertificates() []*x509.Certificate {
	s.hsMu.Lock()
	h := s.hs
	s.hsMu.Unlock()
	if h == nil {
		return nil
	}
	select {
	case <-h.done:
		return h.info.PeerCertificates
	default:
		return nil
	}
}

// Handshake performs the TLS handshake if it has not happened yet and
// returns the cached result. Concurrent callers wait for the single
// in-flight handshake. It is cancelled by ctx or by Close.
func (s *Stream) Handshake(ctx context.Context) (HandshakeInfo, error) {
	if s.closed.Load() {
		return HandshakeInfo{}, resourceError("handshake", ErrClosed)
	}

	s.hsMu.Lock()
	h := s.hs
	leader := h == nil
	if leader {
		h = &handshake{done: make(chan struct{})}
		s.hs = h
	}
	s.hsMu.Unlock()

	if leader {
		s.runHandshake(ctx, h)
		return h.info, h.err
	}

	select {
	case <-h.done:
		return h.info, h.err
	case <-s.token.Done():
		return HandshakeInfo{}, cancelledError("handshake")
	case <-ctx.Done():
		return HandshakeInfo{}, handshakeError(s.token, ctx.Err())
	}
}

func (s *Stream) runHandshake(ctx context.Context, h *handshake) {
	defer close(h.done)

	hctx, stop := s.token.Bind(ctx)
	defer stop()

	start := time.Now()
	err := s.conn.HandshakeContext(hctx)
	elapsed := time.Since(start)
	s.obs.metrics.Handshake(s.roleLabel(), err, elapsed)

	if err != nil {
		h.err = handshakeError(s.token, err)
		s.logError(h.err, "handshake")
		return
	}

	h.info = handshakeInfo(s.conn.ConnectionState())
	if h.info.ServerName != "" {
		name := h.info.ServerName
		s.serverName.Store(&name)
	}
	s.obs.logger.Log(s.event(log.CategoryHandshake, log.Event{
		Handshake: &log.HandshakeEvent{
			Version:          h.info.Version,
			CipherSuite:      h.info.CipherSuite,
			ALPN:             h.info.ALPNProtocol,
			PeerCertificates: len(h.info.PeerCertificates),
			Duration:         elapsed,
			Resumed:          h.info.Resumed,
		},
	}))
}

// Read reads decrypted application data. It returns (0, io.EOF) once the
// peer has shut down its side. A Read pending when the stream is closed
// fails with ErrCancelled; a Read after Close fails with ErrClosed.
func (s *Stream) Read(p []byte) (int, error) {
	if !s.rd.TryLock() {
		return 0, resourceError("read", ErrBusy)
	}
	defer s.rd.Unlock()

	if s.closed.Load() {
		return 0, resourceError("read", ErrClosed)
	}
	if _, err := s.Handshake(context.Background()); err != nil {
		return 0, err
	}

	n, err := s.conn.Read(p)
	if s.token.Cancelled() {
		return 0, cancelledError("read")
	}
	if n > 0 || errors.Is(err, io.EOF) {
		s.logIO(log.DirectionIn, n, errors.Is(err, io.EOF))
	}
	if errors.Is(err, io.EOF) {
		return n, io.EOF
	}
	return n, ioError("read", s.token, err)
}

// Write encrypts and sends p. Write is not cancellable: a Close during the
// Write lets it finish and defers releasing the socket until then.
func (s *Stream) Write(p []byte) (int, error) {
	if !s.wr.TryLock() {
		return 0, resourceError("write", ErrBusy)
	}
	defer s.wr.Unlock()

	if s.closed.Load() {
		return 0, resourceError("write", ErrClosed)
	}
	if _, err := s.Handshake(context.Background()); err != nil {
		return 0, err
	}
	if !s.beginWrite() {
		return 0, resourceError("write", ErrClosed)
	}
	n, err := s.conn.Write(p)
	s.endWrite()

	if n > 0 {
		s.logIO(log.DirectionOut, n, false)
	}
	if err != nil {
		return n, newError(KindTransport, "write", err)
	}
	return n, nil
}

// Shutdown sends close_notify and half-closes the socket. It waits for an
// in-flight Write.
func (s *Stream) Shutdown() error {
	s.wr.Lock()
	defer s.wr.Unlock()

	if s.closed.Load() {
		return resourceError("shutdown", ErrClosed)
	}
	if _, err := s.Handshake(context.Background()); err != nil {
		return err
	}
	if !s.beginWrite() {
		return resourceError("shutdown", ErrClosed)
	}
	err := s.conn.CloseWrite()
	s.endWrite()
	if err != nil {
		return newError(KindTransport, "shutdown", err)
	}
	s.logState("OPEN", "WRITE_CLOSED", "shutdown")
	return nil
}

// Close cancels a pending handshake or read and releases the socket. With
// a Write in flight Close returns at once and the socket is released when
// the Write finishes. Close is idempotent.
func (s *Stream) Close() error {
	s.life.Lock()
	first := !s.closed.Swap(true)
	writing := s.writing
	s.life.Unlock()

	if first {
		s.token.Cancel()
		// Wake a blocked read; the handshake is woken by the token.
		_ = s.conn.SetReadDeadline(time.Unix(1, 0))
		if !writing {
			s.release()
		}
	}

	s.life.Lock()
	defer s.life.Unlock()
	return s.closeErr
}

func (s *Stream) beginWrite() bool {
	s.life.Lock()
	defer s.life.Unlock()
	if s.closed.Load() {
		return false
	}
	s.writing = true
	return true
}

func (s *Stream) endWrite() {
	s.life.Lock()
	s.writing = false
	closed := s.closed.Load()
	s.life.Unlock()
	if closed {
		s.release()
	}
}

func (s *Stream) release() {
	s.releaseOnce.Do(func() {
		err := s.conn.Close()
		if err != nil && !errors.Is(err, net.ErrClosed) {
			s.life.Lock()
			s.closeErr = newError(KindTransport, "close", err)
			s.life.Unlock()
		}
		s.obs.metrics.StreamClosed(s.roleLabel())
		s.logState("OPEN", "CLOSED", "")
	})
}

func (s *Stream) roleLabel() string {
	return strings.ToLower(s.role.String())
}

func (s *Stream) event(category log.Category, e log.Event) log.Event {
	e.Timestamp = time.Now()
	e.ConnectionID = s.id
	e.Layer = log.LayerTLS
	e.Category = category
	e.LocalRole = s.role
	if s.local != nil {
		e.LocalAddr = s.local.String()
	}
	if s.remote != nil {
		e.RemoteAddr = s.remote.String()
	}
	if name := s.serverName.Load(); name != nil {
		e.ServerName = *name
	}
	return e
}

func (s *Stream) logState(oldState, newState, reason string) {
	s.obs.logger.Log(s.event(log.CategoryState, log.Event{
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityStream,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	}))
}

func (s *Stream) logIO(dir log.Direction, n int, eof bool) {
	if dir == log.DirectionIn {
		s.obs.metrics.Transferred("in", n)
	} else {
		s.obs.metrics.Transferred("out", n)
	}
	s.obs.logger.Log(s.event(log.CategoryIO, log.Event{
		Direction: dir,
		IO:        &log.IOEvent{Size: n, EOF: eof},
	}))
}

func (s *Stream) logError(err error, op string) {
	s.obs.logger.Log(s.event(log.CategoryError, log.Event{
		Error: &log.ErrorEventData{
			Layer:   log.LayerTLS,
			Message: err.Error(),
			Kind:    KindOf(err).String(),
			Context: op,
		},
	}))
}
