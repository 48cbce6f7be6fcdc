// Package config loads the YAML process configuration shared by the tlsnet
// commands.
//
// A file only needs the keys it changes; everything else keeps the value
// from Default. Command-line flags are applied on top by the caller.
//
//	listen:
//	  address: ":8443"
//	  alpn: [echo/1]
//	  cert_file: server.pem
//	  key_file: server-key.pem
//	resolver:
//	  enabled: true
//	  cert_dir: /var/lib/tlsnet/certs
//	tls:
//	  ca_files: [ca.pem]
//	  unsafely_ignore_certificate_errors: [dev.internal]
//	permissions:
//	  net: ["*"]
//	  read: [/etc/tlsnet]
//	log:
//	  level: info
//	  protocol_file: /var/log/tlsnet.cbor
//	metrics:
//	  address: ":9090"
//	mdns:
//	  enabled: true
//	  instance: edge-1
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/tlsnet/tlsnet-go/pkg/cert"
	"github.com/tlsnet/tlsnet-go/pkg/permission"
	"github.com/tlsnet/tlsnet-go/pkg/transport"
)

// Config is the full process configuration.
type Config struct {
	Listen      Listen      `yaml:"listen"`
	Resolver    Resolver    `yaml:"resolver"`
	TLS         TLS         `yaml:"tls"`
	Permissions Permissions `yaml:"permissions"`
	Log         Log         `yaml:"log"`
	Metrics     Metrics     `yaml:"metrics"`
	MDNS        MDNS        `yaml:"mdns"`
}

// Listen configures the server socket.
type Listen struct {
	// Network is "tcp" or "unix".
	Network string `yaml:"network"`

	// Address is host:port for tcp or a socket path for unix.
	Address string `yaml:"address"`

	ALPN         []string `yaml:"alpn"`
	ReusePort    bool     `yaml:"reuse_port"`
	LoadBalanced bool     `yaml:"load_balanced"`

	// CertFile and KeyFile hold the static key pair. Unused when the
	// resolver is enabled.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Resolver configures per-hostname certificate selection.
type Resolver struct {
	Enabled bool `yaml:"enabled"`

	// CertDir holds <hostname>.crt and <hostname>.key pairs; wildcards use
	// the "_wildcard." prefix.
	CertDir string `yaml:"cert_dir"`
}

// TLS configures client-side trust.
type TLS struct {
	// CAFiles are added to the system roots.
	CAFiles []string `yaml:"ca_files"`

	// UnsafelyIgnoreCertificateErrors lists hostnames whose certificates are
	// not verified when a caller asks for it. "*" matches every host.
	UnsafelyIgnoreCertificateErrors []string `yaml:"unsafely_ignore_certificate_errors"`
}

// Permissions is the allow-list for network and file access. An empty
// section allows everything.
type Permissions struct {
	Net  []string `yaml:"net"`
	Read []string `yaml:"read"`
}

// Log configures operational and protocol logging.
type Log struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// ProtocolFile receives CBOR protocol events when set.
	ProtocolFile string `yaml:"protocol_file"`
}

// Metrics configures the Prometheus endpoint. An empty address disables it.
type Metrics struct {
	Address string `yaml:"address"`
}

// MDNS configures service advertisement.
type MDNS struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen: Listen{
			Network: "tcp",
			Address: ":8443",
		},
		Log: Log{Level: "info"},
	}
}

// Error describes a configuration problem.
type Error struct {
	File    string
	Field   string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Parse decodes data over Default and validates the result. Unknown keys
// are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, &Error{Message: "failed to parse YAML", Cause: err}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &Error{File: path, Message: "failed to read file", Cause: err}
	}
	cfg, err := Parse(data)
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			ce.File = path
		}
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field values and combinations.
func (c *Config) Validate() error {
	switch c.Listen.Network {
	case "tcp":
		if _, port, err := net.SplitHostPort(c.Listen.Address); err != nil {
			return &Error{Field: "listen.address", Message: "must be host:port", Cause: err}
		} else if p, err := strconv.Atoi(port); err != nil || p < 0 || p > 65535 {
			return &Error{Field: "listen.address", Message: fmt.Sprintf("invalid port %q", port)}
		}
	case "unix":
		if c.Listen.Address == "" {
			return &Error{Field: "listen.address", Message: "socket path required"}
		}
	default:
		return &Error{Field: "listen.network", Message: fmt.Sprintf("unknown network %q", c.Listen.Network)}
	}

	if (c.Listen.CertFile == "") != (c.Listen.KeyFile == "") {
		return &Error{Field: "listen", Message: "cert_file and key_file must be set together"}
	}
	if c.Resolver.Enabled && c.Resolver.CertDir == "" {
		return &Error{Field: "resolver.cert_dir", Message: "required when the resolver is enabled"}
	}
	for _, p := range c.Listen.ALPN {
		if p == "" || len(p) > 255 {
			return &Error{Field: "listen.alpn", Message: fmt.Sprintf("invalid protocol %q", p)}
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return &Error{Field: "log.level", Message: fmt.Sprintf("unknown level %q", c.Log.Level)}
	}

	if c.Metrics.Address != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Address); err != nil {
			return &Error{Field: "metrics.address", Message: "must be host:port", Cause: err}
		}
	}
	return nil
}

// Checker builds the permission hook. An empty section allows everything.
func (c *Config) Checker() permission.Checker {
	if len(c.Permissions.Net) == 0 && len(c.Permissions.Read) == 0 {
		return permission.AllowAll{}
	}
	return permission.NewPolicy(c.Permissions.Net, c.Permissions.Read)
}

// Bypass builds the certificate-verification bypass list.
func (c *Config) Bypass() *transport.BypassList {
	return transport.NewBypassList(c.TLS.UnsafelyIgnoreCertificateErrors...)
}

// Roots builds the client trust store: the system roots plus every CA file.
func (c *Config) Roots() (cert.RootStore, error) {
	if len(c.TLS.CAFiles) == 0 {
		return cert.SystemRoots{}, nil
	}

	blobs := make([][]byte, 0, len(c.TLS.CAFiles))
	for _, path := range c.TLS.CAFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &Error{File: path, Field: "tls.ca_files", Message: "failed to read file", Cause: err}
		}
		blobs = append(blobs, data)
	}

	// Platforms without a system pool start from an empty one.
	base, _ := cert.SystemRoots{}.RootStore()
	pool, err := cert.NewPool(base, blobs...)
	if err != nil {
		return nil, &Error{Field: "tls.ca_files", Message: "invalid CA certificate", Cause: err}
	}
	return cert.StaticRoots{Pool: pool}, nil
}
