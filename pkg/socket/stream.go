package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// Socket errors.
var (
	ErrBusy            = errors.New("stream half is busy")
	ErrClosed          = errors.New("stream closed")
	ErrReunite         = errors.New("halves belong to different streams")
	ErrUnsupportedConn = errors.New("unsupported connection type")
	ErrNotSupported    = errors.New("operation not supported on this platform")
	ErrListenerClosed  = errors.New("listener closed")
)

// Kind identifies the stream socket variant.
type Kind uint8

const (
	// KindTCP is a TCP stream socket.
	KindTCP Kind = iota

	// KindUnix is a Unix-domain stream socket.
	KindUnix
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "TCP"
	case KindUnix:
		return "UNIX"
	default:
		return "UNKNOWN"
	}
}

// Network returns the net package network name for the kind.
func (k Kind) Network() string {
	if k == KindUnix {
		return "unix"
	}
	return "tcp"
}

// Conn is the capability set shared by both stream kinds.
type Conn interface {
	net.Conn

	// CloseWrite shuts down the writing side of the socket.
	CloseWrite() error
}

// Compile-time interface satisfaction checks.
var (
	_ Conn = (*net.TCPConn)(nil)
	_ Conn = (*net.UnixConn)(nil)
)

// KindOf returns the stream kind of c.
func KindOf(c net.Conn) (Kind, error) {
	switch c.(type) {
	case *net.TCPConn:
		return KindTCP, nil
	case *net.UnixConn:
		return KindUnix, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedConn, c)
	}
}

// Stream is an owned plaintext stream socket with independently
// lockable read and write halves.
type Stream struct {
	kind Kind
	conn Conn

	rd ReadHalf
	wr WriteHalf

	// closed is set by Close, consumed by Reunite.
	closed    atomic.Bool
	consumed  atomic.Bool
	closeOnce sync.Once
}

// NewStream takes ownership of c. Only *net.TCPConn and *net.UnixConn are
// accepted.
func NewStream(c net.Conn) (*Stream, error) {
	kind, err := KindOf(c)
	if err != nil {
		return nil, err
	}
	s := &Stream{
		kind: kind,
		conn: c.(Conn),
	}
	s.rd.s = s
	s.wr.s = s
	return s, nil
}

// Dial connects to address on the given network ("tcp" or "unix").
func Dial(ctx context.Context, network, address string) (*Stream, error) {
	if network == "unix" && !Supports(CapUnixSockets) {
		return nil, ErrNotSupported
	}
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	s, err := NewStream(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Kind returns the stream variant.
func (s *Stream) Kind() Kind {
	return s.kind
}

// Name returns the resource name of the stream.
func (s *Stream) Name() string {
	if s.kind == KindUnix {
		return "unixStream"
	}
	return "tcpStream"
}

// LocalAddr returns the local network address.
func (s *Stream) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// RemoteAddr returns the peer network address.
func (s *Stream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// ReadHalf returns the read side of the stream.
func (s *Stream) ReadHalf() *ReadHalf {
	return &s.rd
}

// WriteHalf returns the write side of the stream.
func (s *Stream) WriteHalf() *WriteHalf {
	return &s.wr
}

// Read reads from the read half.
func (s *Stream) Read(p []byte) (int, error) {
	return s.rd.Read(p)
}

// Write writes to the write half.
func (s *Stream) Write(p []byte) (int, error) {
	return s.wr.Write(p)
}

// CloseWrite half-closes the socket. It waits for an in-flight write.
func (s *Stream) CloseWrite() error {
	s.wr.mu.Lock()
	defer s.wr.mu.Unlock()
	if s.done() {
		return ErrClosed
	}
	return s.conn.CloseWrite()
}

// Close closes the socket. A pending read fails with ErrClosed.
// Closing a stream whose Conn was handed out by Reunite is a no-op.
func (s *Stream) Close() error {
	if s.consumed.Load() {
		return nil
	}
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.conn.Close()
	})
	return err
}

// Spent reports whether Reunite has handed the socket to another owner.
func (s *Stream) Spent() bool {
	return s.consumed.Load()
}

func (s *Stream) done() bool {
	return s.closed.Load() || s.consumed.Load()
}

// mapErr converts errors caused by our own Close into ErrClosed.
func (s *Stream) mapErr(err error) error {
	if err != nil && s.done() && errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return err
}

// ReadHalf is the read side of a Stream.
type ReadHalf struct {
	s  *Stream
	mu sync.Mutex
}

// Read reads from the socket. A concurrent second Read fails with ErrBusy.
func (h *ReadHalf) Read(p []byte) (int, error) {
	if !h.mu.TryLock() {
		return 0, ErrBusy
	}
	defer h.mu.Unlock()
	if h.s.done() {
		return 0, ErrClosed
	}
	n, err := h.s.conn.Read(p)
	return n, h.s.mapErr(err)
}

// WriteHalf is the write side of a Stream.
type WriteHalf struct {
	s  *Stream
	mu sync.Mutex
}

// Write writes p in full. A concurrent second Write fails with ErrBusy.
func (h *WriteHalf) Write(p []byte) (int, error) {
	if !h.mu.TryLock() {
		return 0, ErrBusy
	}
	defer h.mu.Unlock()
	if h.s.done() {
		return 0, ErrClosed
	}
	n, err := h.s.conn.Write(p)
	return n, h.s.mapErr(err)
}

// Reunite joins the two halves of one stream back into its Conn and
// transfers ownership of the socket to the caller. Afterwards the Stream
// rejects all I/O with ErrClosed and Close on it does nothing.
//
// Reunite fails with ErrReunite if the halves come from different streams
// and with ErrBusy if either half has an operation in flight; the stream is
// left untouched in both cases.
func Reunite(rd *ReadHalf, wr *WriteHalf) (Conn, error) {
	if rd == nil || wr == nil || rd.s != wr.s {
		return nil, ErrReunite
	}
	s := rd.s
	if !rd.mu.TryLock() {
		return nil, ErrBusy
	}
	defer rd.mu.Unlock()
	if !wr.mu.TryLock() {
		return nil, ErrBusy
	}
	defer wr.mu.Unlock()

	if s.closed.Load() || !s.consumed.CompareAndSwap(false, true) {
		return nil, ErrClosed
	}
	return s.conn, nil
}
