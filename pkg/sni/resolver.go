package sni

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Resolver errors.
var (
	ErrNotPending     = errors.New("no pending lookup for hostname")
	ErrResolverClosed = errors.New("certificate resolver closed")
	ErrLookupFailed   = errors.New("certificate lookup failed")
)

// Observer is notified about lookup activity. Implementations must not block.
type Observer interface {
	// LookupStarted is called when a hostname is queued for the authority.
	LookupStarted(hostname string)

	// LookupDone is called when a queued hostname is answered. err is nil
	// for a certificate answer.
	LookupDone(hostname string, err error, elapsed time.Duration)

	// CacheHit is called when a handshake is served from the cache.
	CacheHit(hostname string)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithObserver installs an Observer.
func WithObserver(o Observer) Option {
	return func(r *Resolver) {
		r.observer = o
	}
}

// entry is one pending lookup.
type entry struct {
	started time.Time
	done    chan struct{}
	cert    *tls.Certificate
	err     error
}

func (e *entry) fulfil(cert *tls.Certificate, err error) {
	e.cert = cert
	e.err = err
	close(e.done)
}

// Resolver is the listener half of a certificate resolver.
type Resolver struct {
	entries sync.Map // hostname -> *entry
	cache   sync.Map // hostname -> *tls.Certificate

	mu      sync.Mutex
	queue   []string
	wake    chan struct{}
	closed  atomic.Bool
	closeCh chan struct{}

	observer Observer
}

// Lookup is the authority half of a certificate resolver.
type Lookup struct {
	r *Resolver
}

// New creates a connected Resolver and Lookup pair.
func New(opts ...Option) (*Resolver, *Lookup) {
	r := &Resolver{
		wake:    make(chan struct{}),
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, &Lookup{r: r}
}

func normalize(hostname string) string {
	return strings.TrimSuffix(strings.ToLower(hostname), ".")
}

// GetCertificate returns the certificate for the ClientHello's server name.
// It blocks until the authority answers or the handshake context ends. An
// absent server name is looked up as "".
func (r *Resolver) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	ctx := hello.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return r.Certificate(ctx, hello.ServerName)
}

// Certificate resolves hostname directly.
func (r *Resolver) Certificate(ctx context.Context, hostname string) (*tls.Certificate, error) {
	if r.closed.Load() {
		return nil, ErrResolverClosed
	}
	host := normalize(hostname)

	if c, ok := r.cache.Load(host); ok {
		r.cacheHit(host)
		return c.(*tls.Certificate), nil
	}

	fresh := &entry{started: time.Now(), done: make(chan struct{})}
	v, loaded := r.entries.LoadOrStore(host, fresh)
	e := v.(*entry)
	if !loaded {
		// An answer may have landed between the cache miss and the store.
		if c, ok := r.cache.Load(host); ok && r.entries.CompareAndDelete(host, fresh) {
			r.cacheHit(host)
			return c.(*tls.Certificate), nil
		}
		if err := r.enqueue(host); err != nil {
			if r.entries.CompareAndDelete(host, fresh) {
				fresh.fulfil(nil, err)
			}
		}
	}

	select {
	case <-e.done:
		if e.err != nil {
			return nil, e.err
		}
		return e.cert, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Resolver) cacheHit(host string) {
	if r.observer != nil {
		r.observer.CacheHit(host)
	}
}

func (r *Resolver) enqueue(host string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() {
		return ErrResolverClosed
	}
	r.queue = append(r.queue, host)
	close(r.wake)
	r.wake = make(chan struct{})
	if r.observer != nil {
		r.observer.LookupStarted(host)
	}
	return nil
}

// Pending returns the number of hostnames waiting for an answer.
func (r *Resolver) Pending() int {
	n := 0
	r.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Close fails every pending lookup with ErrResolverClosed and stops Poll.
// Close is idempotent.
func (r *Resolver) Close() error {
	r.mu.Lock()
	if !r.closed.CompareAndSwap(false, true) {
		r.mu.Unlock()
		return nil
	}
	r.queue = nil
	close(r.closeCh)
	r.mu.Unlock()

	r.entries.Range(func(k, v any) bool {
		if r.entries.CompareAndDelete(k, v) {
			v.(*entry).fulfil(nil, ErrResolverClosed)
		}
		return true
	})
	return nil
}

// Poll returns the next hostname needing a decision, in request order.
// It blocks until one is available, ctx ends, or the resolver is closed.
func (l *Lookup) Poll(ctx context.Context) (string, error) {
	r := l.r
	for {
		r.mu.Lock()
		if r.closed.Load() {
			r.mu.Unlock()
			return "", ErrResolverClosed
		}
		if len(r.queue) > 0 {
			host := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return host, nil
		}
		wake := r.wake
		r.mu.Unlock()

		select {
		case <-wake:
		case <-r.closeCh:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Resolve answers the pending lookup for hostname with cert and caches it.
func (l *Lookup) Resolve(hostname string, cert tls.Certificate) error {
	if len(cert.Certificate) == 0 {
		return fmt.Errorf("resolve %q: empty certificate chain", hostname)
	}
	host := normalize(hostname)
	e, err := l.take(host)
	if err != nil {
		return err
	}
	c := &cert
	l.r.cache.Store(host, c)
	e.fulfil(c, nil)
	l.done(host, e, nil)
	return nil
}

// ResolveError fails the pending lookup for hostname with message. Only the
// handshakes waiting on hostname are affected.
func (l *Lookup) ResolveError(hostname, message string) error {
	host := normalize(hostname)
	e, err := l.take(host)
	if err != nil {
		return err
	}
	lookupErr := fmt.Errorf("%w for %q: %s", ErrLookupFailed, host, message)
	e.fulfil(nil, lookupErr)
	l.done(host, e, lookupErr)
	return nil
}

func (l *Lookup) take(host string) (*entry, error) {
	if l.r.closed.Load() {
		return nil, ErrResolverClosed
	}
	v, ok := l.r.entries.LoadAndDelete(host)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotPending, host)
	}
	return v.(*entry), nil
}

func (l *Lookup) done(host string, e *entry, err error) {
	if l.r.observer != nil {
		l.r.observer.LookupDone(host, err, time.Since(e.started))
	}
}
