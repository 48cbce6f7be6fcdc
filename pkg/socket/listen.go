package socket

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// ListenOptions configures a raw bind.
type ListenOptions struct {
	// ReusePort sets SO_REUSEPORT so several listeners may share one port.
	ReusePort bool

	// LoadBalanced shares one raw listener between every load-balanced bind
	// of the same network and address in this process.
	LoadBalanced bool
}

// Listener is a bound raw listener.
type Listener interface {
	// AcceptContext waits for the next connection. It returns ctx.Err() if
	// ctx ends first and ErrListenerClosed once the listener is closed.
	AcceptContext(ctx context.Context) (*Stream, error)

	// Addr returns the bound address.
	Addr() net.Addr

	// Close releases the bind. A pending AcceptContext fails with
	// ErrListenerClosed.
	Close() error
}

// Listen binds network ("tcp" or "unix") at address.
func Listen(ctx context.Context, network, address string, opts ListenOptions) (Listener, error) {
	if network == "unix" && !Supports(CapUnixSockets) {
		return nil, ErrNotSupported
	}
	if opts.ReusePort && !Supports(CapReusePort) {
		return nil, ErrNotSupported
	}
	if opts.LoadBalanced {
		return bindBalanced(ctx, network, address, opts)
	}
	l, err := bind(ctx, network, address, opts)
	if err != nil {
		return nil, err
	}
	return &rawListener{l: l}, nil
}

func bind(ctx context.Context, network, address string, opts ListenOptions) (net.Listener, error) {
	lc := net.ListenConfig{}
	if opts.ReusePort && network != "unix" {
		lc.Control = reusePortControl
	}
	return lc.Listen(ctx, network, address)
}

// deadliner is implemented by *net.TCPListener and *net.UnixListener.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// rawListener is a directly bound listener.
type rawListener struct {
	l      net.Listener
	closed sync.Once
}

func (r *rawListener) AcceptContext(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Abandon the accept by moving the deadline into the past.
	if d, ok := r.l.(deadliner); ok && ctx.Done() != nil {
		fired := make(chan struct{})
		stop := context.AfterFunc(ctx, func() {
			defer close(fired)
			d.SetDeadline(time.Unix(1, 0))
		})
		defer func() {
			if !stop() {
				<-fired
				d.SetDeadline(time.Time{})
			}
		}()
	}

	conn, err := r.l.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrListenerClosed
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	s, err := NewStream(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (r *rawListener) Addr() net.Addr {
	return r.l.Addr()
}

func (r *rawListener) Close() error {
	var err error
	r.closed.Do(func() {
		err = r.l.Close()
	})
	return err
}

// sharedListener is the raw listener behind a load-balanced group.
type sharedListener struct {
	keys  []string
	l     net.Listener
	conns chan acceptResult
	done  chan struct{}
	refs  int
}

type acceptResult struct {
	conn net.Conn
	err  error
}

var balancers = struct {
	mu sync.Mutex
	m  map[string]*sharedListener
}{m: make(map[string]*sharedListener)}

func bindBalanced(ctx context.Context, network, address string, opts ListenOptions) (Listener, error) {
	key := network + "|" + address

	balancers.mu.Lock()
	defer balancers.mu.Unlock()

	shared, ok := balancers.m[key]
	if !ok {
		l, err := bind(ctx, network, address, opts)
		if err != nil {
			return nil, err
		}
		shared = &sharedListener{
			keys:  []string{network + "|" + l.Addr().String()},
			l:     l,
			conns: make(chan acceptResult),
			done:  make(chan struct{}),
		}
		// An ephemeral port request never joins an existing group.
		if key != shared.keys[0] && !isEphemeral(network, address) {
			shared.keys = append(shared.keys, key)
		}
		for _, k := range shared.keys {
			balancers.m[k] = shared
		}
		go shared.acceptLoop()
	}
	shared.refs++

	return &balancedListener{
		shared: shared,
		done:   make(chan struct{}),
	}, nil
}

func isEphemeral(network, address string) bool {
	if network == "unix" {
		return false
	}
	_, port, err := net.SplitHostPort(address)
	return err == nil && (port == "0" || port == "")
}

// acceptLoop hands each accepted connection to one waiting member.
func (s *sharedListener) acceptLoop() {
	for {
		conn, err := s.l.Accept()
		if err != nil && errors.Is(err, net.ErrClosed) {
			return
		}
		select {
		case s.conns <- acceptResult{conn: conn, err: err}:
		case <-s.done:
			if conn != nil {
				conn.Close()
			}
			return
		}
	}
}

func (s *sharedListener) release() error {
	balancers.mu.Lock()
	defer balancers.mu.Unlock()

	s.refs--
	if s.refs > 0 {
		return nil
	}
	for _, k := range s.keys {
		delete(balancers.m, k)
	}
	close(s.done)
	return s.l.Close()
}

// balancedListener is one member of a load-balanced group.
type balancedListener struct {
	shared    *sharedListener
	done      chan struct{}
	closeOnce sync.Once
}

func (b *balancedListener) AcceptContext(ctx context.Context) (*Stream, error) {
	select {
	case r := <-b.shared.conns:
		if r.err != nil {
			return nil, r.err
		}
		s, err := NewStream(r.conn)
		if err != nil {
			r.conn.Close()
			return nil, err
		}
		return s, nil
	case <-b.done:
		return nil, ErrListenerClosed
	case <-b.shared.done:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *balancedListener) Addr() net.Addr {
	return b.shared.l.Addr()
}

func (b *balancedListener) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = b.shared.release()
	})
	return err
}
