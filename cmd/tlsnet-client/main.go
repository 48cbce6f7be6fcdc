// Command tlsnet-client is an interactive TLS client.
//
// It connects to a TLS server (or, with -starttls, to a plaintext port that
// is upgraded on demand) and offers a prompt to send and receive data and
// inspect the handshake.
//
// Usage:
//
//	tlsnet-client [flags]
//
// Flags:
//
//	-config string        Configuration file path (tls, permissions and log sections)
//	-host string          Server hostname (default "localhost")
//	-port int             Server port (default 8443)
//	-server-name string   SNI name to send (default: host)
//	-ca string            Extra CA certificate file (PEM)
//	-cert string          Client certificate file (PEM)
//	-key string           Client private key file (PEM)
//	-alpn string          Comma-separated ALPN protocols
//	-insecure             Skip verification for hosts on the bypass list
//	-starttls             Connect in plaintext; upgrade with "starttls"
//	-browse               List tlsnet servers on the LAN and exit
//	-protocol-log string  Write CBOR protocol events to this file
//	-log-level string     Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Connect with a private CA
//	tlsnet-client -host edge-1.local -ca ca.crt
//
//	# Plaintext first, upgrade later
//	tlsnet-client -port 8443 -starttls
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/tlsnet/tlsnet-go/cmd/tlsnet-client/interactive"
	"github.com/tlsnet/tlsnet-go/pkg/advertise"
	"github.com/tlsnet/tlsnet-go/pkg/config"
	plog "github.com/tlsnet/tlsnet-go/pkg/log"
	"github.com/tlsnet/tlsnet-go/pkg/ops"
	"github.com/tlsnet/tlsnet-go/pkg/resource"
	"github.com/tlsnet/tlsnet-go/pkg/transport"
)

var (
	configFile  = flag.String("config", "", "Configuration file path")
	host        = flag.String("host", "localhost", "Server hostname")
	port        = flag.Int("port", 8443, "Server port")
	serverName  = flag.String("server-name", "", "SNI name to send (default: host)")
	caFile      = flag.String("ca", "", "Extra CA certificate file (PEM)")
	certFile    = flag.String("cert", "", "Client certificate file (PEM)")
	keyFile     = flag.String("key", "", "Client private key file (PEM)")
	alpn        = flag.String("alpn", "", "Comma-separated ALPN protocols")
	insecure    = flag.Bool("insecure", false, "Skip verification for hosts on the bypass list")
	startTLS    = flag.Bool("starttls", false, "Connect in plaintext; upgrade with \"starttls\"")
	browse      = flag.Bool("browse", false, "List tlsnet servers on the LAN and exit")
	protocolLog = flag.String("protocol-log", "", "Write CBOR protocol events to this file")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
	readTimeout = flag.Duration("read-timeout", 10*time.Second, "Timeout for recv (0 waits forever)")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			log.Fatalf("Invalid configuration: %v", err)
		}
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *protocolLog != "" {
		cfg.Log.ProtocolFile = *protocolLog
	}
	if *insecure && len(cfg.TLS.UnsafelyIgnoreCertificateErrors) == 0 {
		// -insecure without a configured list applies to the target only.
		cfg.TLS.UnsafelyIgnoreCertificateErrors = []string{targetName()}
	}
	setupLogging(cfg.Log.Level)

	if *browse {
		runBrowse()
		return
	}

	var protoLogger plog.Logger = plog.NoopLogger{}
	if cfg.Log.ProtocolFile != "" {
		file, err := plog.NewFileLogger(cfg.Log.ProtocolFile)
		if err != nil {
			log.Fatalf("Failed to open protocol log: %v", err)
		}
		defer file.Close()
		protoLogger = file
	}

	roots, err := cfg.Roots()
	if err != nil {
		log.Fatalf("Failed to load CA files: %v", err)
	}

	o := ops.New(ops.Config{
		Dialer: &transport.Dialer{
			Roots:  roots,
			Bypass: cfg.Bypass(),
		},
		Permissions: cfg.Checker(),
		Logger:      protoLogger,
	})
	defer o.CloseAll()

	target, err := buildTarget(o)
	if err != nil {
		log.Fatalf("Invalid target: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := interactive.New(o, target)
	if err != nil {
		log.Fatalf("Failed to start interactive mode: %v", err)
	}
	log.SetOutput(client.Stderr())
	client.Run(ctx, cancel)
}

func targetName() string {
	if *serverName != "" {
		return *serverName
	}
	return *host
}

func buildTarget(o *ops.Ops) (interactive.Target, error) {
	target := interactive.Target{
		Addr: ops.Addr{Hostname: *host, Port: *port},
		Connect: ops.ConnectOptions{
			ServerName:         *serverName,
			CertFile:           *caFile,
			InsecureSkipVerify: *insecure,
		},
		Plain:       *startTLS,
		ReadTimeout: *readTimeout,
	}
	if *alpn != "" {
		target.Connect.ALPNProtocols = strings.Split(*alpn, ",")
	}

	if (*certFile == "") != (*keyFile == "") {
		return target, fmt.Errorf("-cert and -key must be given together")
	}
	if *certFile != "" {
		keys, err := loadClientKeys(o, *certFile, *keyFile)
		if err != nil {
			return target, err
		}
		target.ClientKeys = keys
	}
	return target, nil
}

func loadClientKeys(o *ops.Ops, certPath, keyPath string) (resource.ID, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return 0, err
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return 0, err
	}
	return o.KeyStatic(certPEM, keyPEM)
}

func runBrowse() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	services, err := advertise.Browse(ctx, advertise.Config{})
	if err != nil {
		log.Fatalf("Browse failed: %v", err)
	}
	found := 0
	for svc := range services {
		found++
		mode := "static"
		if svc.Resolver {
			mode = "sni"
		}
		fmt.Printf("%-24s %s:%d  %v  alpn=%s  %s %s\n",
			svc.Instance, svc.Host, svc.Port, svc.Addresses, strings.Join(svc.ALPN, ","), mode, svc.Fingerprint)
	}
	if found == 0 {
		fmt.Println("No tlsnet servers found")
	}
}

func setupLogging(level string) {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	lvl := slog.LevelInfo
	switch level {
	case "debug":
		log.SetFlags(log.Ltime | log.Lmicroseconds | log.Lshortfile)
		lvl = slog.LevelDebug
	case "warn", "error":
		log.SetFlags(log.Ltime)
		lvl = slog.LevelWarn
	}
	slog.SetLogLoggerLevel(lvl)
}
