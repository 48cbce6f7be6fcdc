// Command tlsnet-serve is a TLS echo server.
//
// It serves either one static key pair or, with the resolver enabled, picks
// a certificate per SNI name from a directory. The listener can be
// advertised over mDNS and Prometheus metrics exposed over HTTP.
//
// Usage:
//
//	tlsnet-serve [flags]
//
// Flags:
//
//	-config string        Configuration file path
//	-addr string          Listen address (default ":8443")
//	-cert string          Certificate file (PEM)
//	-key string           Private key file (PEM)
//	-cert-dir string      Per-hostname certificate directory (enables the resolver)
//	-alpn string          Comma-separated ALPN protocols
//	-metrics string       Metrics listen address (empty disables)
//	-mdns                 Advertise over mDNS
//	-protocol-log string  Write CBOR protocol events to this file
//	-log-level string     Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Static certificate
//	tlsnet-serve -cert server.crt -key server.key
//
//	# Certificates per SNI name, advertised on the LAN
//	tlsnet-serve -cert-dir /var/lib/tlsnet/certs -mdns -metrics :9090
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tlsnet/tlsnet-go/cmd/tlsnet-serve/server"
	"github.com/tlsnet/tlsnet-go/pkg/advertise"
	"github.com/tlsnet/tlsnet-go/pkg/config"
	plog "github.com/tlsnet/tlsnet-go/pkg/log"
	"github.com/tlsnet/tlsnet-go/pkg/metrics"
	"github.com/tlsnet/tlsnet-go/pkg/ops"
	"github.com/tlsnet/tlsnet-go/pkg/transport"
)

var (
	configFile  = flag.String("config", "", "Configuration file path")
	addr        = flag.String("addr", "", "Listen address (overrides config)")
	certFile    = flag.String("cert", "", "Certificate file (PEM)")
	keyFile     = flag.String("key", "", "Private key file (PEM)")
	certDir     = flag.String("cert-dir", "", "Per-hostname certificate directory (enables the resolver)")
	alpn        = flag.String("alpn", "", "Comma-separated ALPN protocols")
	metricsAddr = flag.String("metrics", "", "Metrics listen address (empty disables)")
	mdns        = flag.Bool("mdns", false, "Advertise over mDNS")
	instance    = flag.String("instance", "", "mDNS instance name (default: hostname)")
	protocolLog = flag.String("protocol-log", "", "Write CBOR protocol events to this file")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := setupLogging(cfg.Log.Level)
	log.Println("tlsnet echo server")

	protoLogger, closeLog, err := protocolLogger(cfg.Log, logger)
	if err != nil {
		log.Fatalf("Failed to open protocol log: %v", err)
	}
	defer closeLog()

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	roots, err := cfg.Roots()
	if err != nil {
		log.Fatalf("Failed to load CA files: %v", err)
	}

	o := ops.New(ops.Config{
		Dialer:      &transport.Dialer{Roots: roots, Bypass: cfg.Bypass()},
		Permissions: cfg.Checker(),
		Logger:      protoLogger,
		Metrics:     m,
	})
	defer o.CloseAll()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := server.New(o, cfg, logger)
	bound, err := srv.Start(ctx)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	if cfg.Metrics.Address != "" {
		go serveMetrics(ctx, cfg.Metrics.Address, m)
	}

	if cfg.MDNS.Enabled {
		adv := advertise.NewAdvertiser(advertise.Config{})
		if err := adv.Advertise(advertiseInfo(cfg, bound, srv)); err != nil {
			log.Printf("Warning: mDNS advertisement failed: %v", err)
		} else {
			log.Printf("Advertising %s on mDNS", advertise.ServiceType)
		}
		defer adv.Stop()
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Printf("Received signal: %v", sig)
		log.Println("Shutting down...")
		cancel()
	}()

	if err := srv.Serve(ctx); err != nil {
		log.Printf("Serve ended: %v", err)
	}
	log.Println("Goodbye!")
}

// loadConfig reads the config file, if any, and applies flags on top.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			return cfg, err
		}
	}

	if *addr != "" {
		cfg.Listen.Address = *addr
	}
	if *certFile != "" {
		cfg.Listen.CertFile = *certFile
	}
	if *keyFile != "" {
		cfg.Listen.KeyFile = *keyFile
	}
	if *certDir != "" {
		cfg.Resolver.Enabled = true
		cfg.Resolver.CertDir = *certDir
	}
	if *alpn != "" {
		cfg.Listen.ALPN = strings.Split(*alpn, ",")
	}
	if *metricsAddr != "" {
		cfg.Metrics.Address = *metricsAddr
	}
	if *mdns {
		cfg.MDNS.Enabled = true
	}
	if *instance != "" {
		cfg.MDNS.Instance = *instance
	}
	if *protocolLog != "" {
		cfg.Log.ProtocolFile = *protocolLog
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	return cfg, cfg.Validate()
}

func setupLogging(level string) *slog.Logger {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	lvl := slog.LevelInfo
	switch level {
	case "debug":
		log.SetFlags(log.Ltime | log.Lmicroseconds | log.Lshortfile)
		lvl = slog.LevelDebug
	case "warn":
		log.SetFlags(log.Ltime)
		lvl = slog.LevelWarn
	case "error":
		log.SetFlags(log.Ltime)
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// protocolLogger mirrors protocol events to slog at debug level and, when
// configured, to a CBOR file.
func protocolLogger(cfg config.Log, logger *slog.Logger) (plog.Logger, func(), error) {
	adapter := plog.NewSlogAdapter(logger)
	if cfg.ProtocolFile == "" {
		return adapter, func() {}, nil
	}
	file, err := plog.NewFileLogger(cfg.ProtocolFile)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("Protocol log: %s", cfg.ProtocolFile)
	return plog.NewMultiLogger(adapter, file), func() {
		written, dropped := file.Stats()
		file.Close()
		log.Printf("Protocol log closed (%d events, %d dropped)", written, dropped)
	}, nil
}

func serveMetrics(ctx context.Context, address string, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Metrics on http://%s/metrics", address)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("Metrics server failed: %v", err)
	}
}

func advertiseInfo(cfg config.Config, bound net.Addr, srv *server.Server) advertise.Info {
	name := cfg.MDNS.Instance
	if name == "" {
		host, _ := os.Hostname()
		name = fmt.Sprintf("tlsnet-%s", host)
	}
	if len(name) > advertise.MaxInstanceNameLen {
		name = name[:advertise.MaxInstanceNameLen]
	}

	info := advertise.Info{
		Instance: name,
		ALPN:     cfg.Listen.ALPN,
		Resolver: cfg.Resolver.Enabled,
	}
	if tcp, ok := bound.(*net.TCPAddr); ok {
		info.Port = tcp.Port
	}
	if c := srv.Certificate(); c != nil && c.Leaf != nil {
		info.Fingerprint = advertise.Fingerprint(c.Leaf)
	}
	return info
}
