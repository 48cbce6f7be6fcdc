package sni_test

import (
	"context"
	"crypto/tls"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlsnet/tlsnet-go/internal/testutil/tlstest"
	"github.com/tlsnet/tlsnet-go/pkg/sni"
)

func testPair(t *testing.T, host string) tls.Certificate {
	t.Helper()
	ca := tlstest.NewAuthority(t, "sni-ca")
	return ca.IssueServerCert(t, host, host).TLS(t)
}

type result struct {
	cert *tls.Certificate
	err  error
}

func lookupAsync(r *sni.Resolver, ctx context.Context, host string) <-chan result {
	ch := make(chan result, 1)
	go func() {
		c, err := r.Certificate(ctx, host)
		ch <- result{c, err}
	}()
	return ch
}

func pollWithin(t *testing.T, l *sni.Lookup, d time.Duration) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	host, err := l.Poll(ctx)
	require.NoError(t, err)
	return host
}

func TestResolveServesWaitingHandshake(t *testing.T) {
	r, l := sni.New()
	defer r.Close()
	pair := testPair(t, "a.test")

	res := lookupAsync(r, context.Background(), "a.test")
	assert.Equal(t, "a.test", pollWithin(t, l, time.Second))
	require.NoError(t, l.Resolve("a.test", pair))

	got := <-res
	require.NoError(t, got.err)
	assert.Equal(t, pair.Certificate[0], got.cert.Certificate[0])
}

func TestResolveAnswersOnce(t *testing.T) {
	r, l := sni.New()
	defer r.Close()
	pair := testPair(t, "a.test")

	assert.ErrorIs(t, l.Resolve("a.test", pair), sni.ErrNotPending)

	res := lookupAsync(r, context.Background(), "a.test")
	pollWithin(t, l, time.Second)
	require.NoError(t, l.Resolve("a.test", pair))
	<-res

	assert.ErrorIs(t, l.Resolve("a.test", pair), sni.ErrNotPending)
	assert.ErrorIs(t, l.ResolveError("a.test", "late"), sni.ErrNotPending)
}

func TestConcurrentHandshakesShareOneLookup(t *testing.T) {
	r, l := sni.New()
	defer r.Close()
	pair := testPair(t, "shared.test")

	var results []<-chan result
	for i := 0; i < 5; i++ {
		results = append(results, lookupAsync(r, context.Background(), "shared.test"))
	}
	require.Eventually(t, func() bool { return r.Pending() == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, "shared.test", pollWithin(t, l, time.Second))
	require.NoError(t, l.Resolve("shared.test", pair))
	for _, ch := range results {
		assert.NoError(t, (<-ch).err)
	}

	// No second queue entry was produced.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := l.Poll(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSuccessfulAnswerIsCached(t *testing.T) {
	r, l := sni.New()
	defer r.Close()
	pair := testPair(t, "cached.test")

	res := lookupAsync(r, context.Background(), "cached.test")
	pollWithin(t, l, time.Second)
	require.NoError(t, l.Resolve("cached.test", pair))
	require.NoError(t, (<-res).err)

	c, err := r.Certificate(context.Background(), "CACHED.test.")
	require.NoError(t, err)
	assert.Equal(t, pair.Certificate[0], c.Certificate[0])
	assert.Equal(t, 0, r.Pending())
}

func TestErrorAnswerIsolatedAndNotCached(t *testing.T) {
	r, l := sni.New()
	defer r.Close()
	pair := testPair(t, "good.test")

	bad := lookupAsync(r, context.Background(), "bad.test")
	good := lookupAsync(r, context.Background(), "good.test")

	seen := map[string]bool{}
	seen[pollWithin(t, l, time.Second)] = true
	seen[pollWithin(t, l, time.Second)] = true
	require.True(t, seen["bad.test"] && seen["good.test"])

	require.NoError(t, l.ResolveError("bad.test", "unknown host"))
	res := <-bad
	assert.ErrorIs(t, res.err, sni.ErrLookupFailed)
	assert.Contains(t, res.err.Error(), "unknown host")

	// The other hostname is unaffected.
	require.NoError(t, l.Resolve("good.test", pair))
	assert.NoError(t, (<-good).err)

	// A new handshake for the failed hostname asks again.
	again := lookupAsync(r, context.Background(), "bad.test")
	assert.Equal(t, "bad.test", pollWithin(t, l, time.Second))
	require.NoError(t, l.ResolveError("bad.test", "still unknown"))
	assert.Error(t, (<-again).err)
}

func TestDelayedAnswer(t *testing.T) {
	r, l := sni.New()
	defer r.Close()
	pair := testPair(t, "slow.test")

	go func() {
		host, err := l.Poll(context.Background())
		if err != nil {
			return
		}
		time.Sleep(300 * time.Millisecond)
		l.Resolve(host, pair)
	}()

	start := time.Now()
	c, err := r.Certificate(context.Background(), "slow.test")
	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestHandshakeContextCancelled(t *testing.T) {
	r, l := sni.New()
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := r.Certificate(ctx, "never.test")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The lookup stays pending and can still be answered.
	assert.Equal(t, "never.test", pollWithin(t, l, time.Second))
	assert.NoError(t, l.Resolve("never.test", testPair(t, "never.test")))
}

func TestEmptyServerName(t *testing.T) {
	r, l := sni.New()
	defer r.Close()

	res := lookupAsync(r, context.Background(), "")
	assert.Equal(t, "", pollWithin(t, l, time.Second))
	require.NoError(t, l.Resolve("", testPair(t, "default.test")))
	assert.NoError(t, (<-res).err)
}

func TestCloseFailsPendingAndPoll(t *testing.T) {
	r, l := sni.New()

	res := lookupAsync(r, context.Background(), "a.test")
	require.Eventually(t, func() bool { return r.Pending() == 1 }, time.Second, 5*time.Millisecond)

	polled := make(chan error, 1)
	go func() {
		// Drain the queued hostname, then block.
		l.Poll(context.Background())
		_, err := l.Poll(context.Background())
		polled <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	assert.ErrorIs(t, (<-res).err, sni.ErrResolverClosed)
	assert.ErrorIs(t, <-polled, sni.ErrResolverClosed)

	_, err := r.Certificate(context.Background(), "b.test")
	assert.ErrorIs(t, err, sni.ErrResolverClosed)
	assert.ErrorIs(t, l.Resolve("a.test", testPair(t, "a.test")), sni.ErrResolverClosed)
}

type recordingObserver struct {
	mu      sync.Mutex
	started []string
	done    []string
	hits    []string
}

func (o *recordingObserver) LookupStarted(host string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, host)
}

func (o *recordingObserver) LookupDone(host string, _ error, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.done = append(o.done, host)
}

func (o *recordingObserver) CacheHit(host string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hits = append(o.hits, host)
}

func TestObserver(t *testing.T) {
	obs := &recordingObserver{}
	r, l := sni.New(sni.WithObserver(obs))
	defer r.Close()

	res := lookupAsync(r, context.Background(), "obs.test")
	pollWithin(t, l, time.Second)
	require.NoError(t, l.Resolve("obs.test", testPair(t, "obs.test")))
	<-res
	_, err := r.Certificate(context.Background(), "obs.test")
	require.NoError(t, err)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []string{"obs.test"}, obs.started)
	assert.Equal(t, []string{"obs.test"}, obs.done)
	assert.Equal(t, []string{"obs.test"}, obs.hits)
}
