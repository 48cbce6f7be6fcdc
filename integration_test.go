package tlsnet_test

import (
	"context"
	"errors"
	"io"
	"net/netip"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tlsnet/tlsnet-go/cmd/tlsnet-serve/server"
	"github.com/tlsnet/tlsnet-go/internal/testutil/tlstest"
	"github.com/tlsnet/tlsnet-go/pkg/advertise"
	"github.com/tlsnet/tlsnet-go/pkg/cert"
	"github.com/tlsnet/tlsnet-go/pkg/config"
	plog "github.com/tlsnet/tlsnet-go/pkg/log"
	"github.com/tlsnet/tlsnet-go/pkg/metrics"
	"github.com/tlsnet/tlsnet-go/pkg/ops"
	"github.com/tlsnet/tlsnet-go/pkg/socket"
	"github.com/tlsnet/tlsnet-go/pkg/transport"
)

// TestE2E_Discovery tests that a client can find an advertised listener via mDNS.
func TestE2E_Discovery(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	adv := advertise.NewAdvertiser(advertise.Config{})
	info := advertise.Info{
		Instance:    "tlsnet-e2e",
		Port:        8443,
		ALPN:        []string{"echo/1"},
		Resolver:    true,
		Fingerprint: "0011223344556677",
	}
	if err := adv.Advertise(info); err != nil {
		t.Fatalf("Failed to advertise: %v", err)
	}
	defer adv.Stop()

	// Give mDNS time to propagate
	time.Sleep(500 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	services, err := advertise.Browse(ctx, advertise.Config{})
	if err != nil {
		t.Fatalf("Failed to browse: %v", err)
	}

	for svc := range services {
		if svc.Instance != info.Instance {
			continue
		}
		if svc.Port != info.Port {
			t.Errorf("Port mismatch: expected %d, got %d", info.Port, svc.Port)
		}
		if !svc.Resolver {
			t.Error("Expected resolver mode to be advertised")
		}
		if svc.Fingerprint != info.Fingerprint {
			t.Errorf("Fingerprint mismatch: expected %s, got %s", info.Fingerprint, svc.Fingerprint)
		}
		return
	}
	t.Fatal("Advertised listener not found")
}

// TestE2E_ResolverProtocolLog runs the echo server in resolver mode and
// checks what it recorded in its protocol log and metrics.
func TestE2E_ResolverProtocolLog(t *testing.T) {
	ca := tlstest.NewAuthority(t, "e2e-ca")
	certDir := t.TempDir()
	ca.IssueServerCert(t, "a.test", "a.test").WriteFiles(t, certDir, "a.test")
	ca.IssueServerCert(t, "wild", "*.b.test").WriteFiles(t, certDir, "_wildcard.b.test")

	logPath := filepath.Join(t.TempDir(), "server.cbor")
	file, err := plog.NewFileLogger(logPath)
	if err != nil {
		t.Fatalf("Failed to open protocol log: %v", err)
	}

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	cfg := config.Default()
	cfg.Listen.Address = "127.0.0.1:0"
	cfg.Resolver.Enabled = true
	cfg.Resolver.CertDir = certDir

	serverOps := ops.New(ops.Config{Logger: file, Metrics: m})
	srv := server.New(serverOps, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	bound, err := srv.Start(ctx)
	if err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	clientOps := ops.New(ops.Config{Dialer: &transport.Dialer{
		Roots:    cert.StaticRoots{Pool: ca.Pool()},
		Resolver: socket.StaticResolver{"localhost": {netip.MustParseAddr("127.0.0.1")}},
	}})
	defer clientOps.CloseAll()

	port := int(netip.MustParseAddrPort(bound.String()).Port())
	for _, name := range []string{"a.test", "x.b.test", "a.test"} {
		if got := echoOnce(t, clientOps, port, name, "hello "+name); got != "hello "+name {
			t.Errorf("%s: expected echo, got %q", name, got)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	serverOps.CloseAll()
	if err := file.Close(); err != nil {
		t.Fatalf("Failed to close protocol log: %v", err)
	}

	reader, err := plog.NewReader(logPath)
	if err != nil {
		t.Fatalf("Failed to open log reader: %v", err)
	}
	defer reader.Close()

	outcomes := map[string][]plog.LookupOutcome{}
	handshakes := 0
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Failed to read event: %v", err)
		}
		if event.Lookup != nil {
			outcomes[event.Lookup.Hostname] = append(outcomes[event.Lookup.Hostname], event.Lookup.Outcome)
		}
		if event.Handshake != nil && event.LocalRole == plog.RoleServer {
			handshakes++
		}
	}

	if handshakes != 3 {
		t.Errorf("Expected 3 server handshakes, got %d", handshakes)
	}
	a := outcomes["a.test"]
	if len(a) == 0 || a[0] != plog.LookupQueued {
		t.Errorf("Expected a.test to be queued first, got %v", a)
	}
	if a[len(a)-1] != plog.LookupCached {
		t.Errorf("Expected second a.test handshake to hit the cache, got %v", a)
	}
	if len(outcomes["x.b.test"]) == 0 {
		t.Error("Expected a lookup for x.b.test")
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	if !strings.Contains(strings.Join(names, " "), "tlsnet_tls_handshakes_total") {
		t.Errorf("Expected handshake metric, got %v", names)
	}
}

func echoOnce(t *testing.T, o *ops.Ops, port int, serverName, msg string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := o.ConnectTLS(ctx, ops.Addr{Hostname: "localhost", Port: port}, ops.ConnectOptions{ServerName: serverName}, 0)
	if err != nil {
		t.Fatalf("%s: connect failed: %v", serverName, err)
	}
	defer o.Close(c.ID)

	if _, err := o.Write(c.ID, []byte(msg)); err != nil {
		t.Fatalf("%s: write failed: %v", serverName, err)
	}
	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(readerFunc(func(p []byte) (int, error) { return o.Read(c.ID, p) }), buf); err != nil {
		t.Fatalf("%s: read failed: %v", serverName, err)
	}
	return string(buf)
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }
