// Package interactive provides the interactive command-line interface for
// tlsnet-client.
package interactive

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tlsnet/tlsnet-go/pkg/ops"
	"github.com/tlsnet/tlsnet-go/pkg/resource"
	"github.com/tlsnet/tlsnet-go/pkg/transport"
)

// Target describes where and how the session connects.
type Target struct {
	Addr    ops.Addr
	Connect ops.ConnectOptions

	// ClientKeys is a key handle id, or 0 for none.
	ClientKeys resource.ID

	// Plain connects without TLS; use "starttls" to upgrade.
	Plain bool

	// ReadTimeout bounds "recv". Zero waits forever.
	ReadTimeout time.Duration
}

// Session holds at most one open stream and executes commands against it.
type Session struct {
	ops    *ops.Ops
	out    io.Writer
	target Target

	conn  ops.Conn
	open  bool
	isTLS bool
}

// NewSession creates a session writing results to out.
func NewSession(o *ops.Ops, out io.Writer, target Target) *Session {
	return &Session{ops: o, out: out, target: target}
}

// Open connects to the target, closing any previous stream first.
func (s *Session) Open(ctx context.Context) error {
	s.Close()

	var (
		c   ops.Conn
		err error
	)
	if s.target.Plain {
		c, err = s.ops.Connect(ctx, s.target.Addr)
	} else {
		c, err = s.ops.ConnectTLS(ctx, s.target.Addr, s.target.Connect, s.target.ClientKeys)
	}
	if err != nil {
		return err
	}

	s.conn, s.open, s.isTLS = c, true, !s.target.Plain
	mode := "plaintext"
	if s.isTLS {
		mode = "TLS"
	}
	fmt.Fprintf(s.out, "Connected (%s) %s -> %s [id %d]\n", mode, c.LocalAddr, c.RemoteAddr, c.ID)
	return nil
}

// Close closes the current stream, if any.
func (s *Session) Close() {
	if !s.open {
		return
	}
	s.ops.Close(s.conn.ID)
	s.open = false
}

// ErrQuit is returned by Exec for the quit command.
var ErrQuit = errors.New("quit")

var errNotOpen = errors.New("not connected (use 'open')")

// Exec runs one command line.
func (s *Session) Exec(ctx context.Context, line string) error {
	input := strings.TrimSpace(line)
	if input == "" {
		return nil
	}
	cmd, rest, _ := strings.Cut(input, " ")

	switch strings.ToLower(cmd) {
	case "help", "?":
		s.printHelp()
		return nil
	case "open", "o":
		return s.Open(ctx)
	case "send", "s":
		return s.cmdSend(rest)
	case "recv", "r":
		return s.cmdRecv()
	case "info", "i":
		return s.cmdInfo(ctx)
	case "starttls", "upgrade":
		return s.cmdStartTLS(ctx)
	case "shutdown":
		return s.cmdShutdown()
	case "close", "c":
		s.Close()
		fmt.Fprintln(s.out, "Closed")
		return nil
	case "quit", "exit", "q":
		return ErrQuit
	default:
		return fmt.Errorf("unknown command: %s (type 'help' for commands)", cmd)
	}
}

func (s *Session) printHelp() {
	fmt.Fprintln(s.out, `
tlsnet Client Commands:
  open               - (Re)connect to the target
  send <text>        - Write text followed by a newline
  recv               - Read once and print what arrived
  info               - Show handshake details
  starttls           - Upgrade a plaintext connection to TLS
  shutdown           - Half-close the write side
  close              - Close the connection
  quit               - Exit`)
}

func (s *Session) cmdSend(text string) error {
	if !s.open {
		return errNotOpen
	}
	n, err := s.ops.Write(s.conn.ID, []byte(text+"\n"))
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Sent %d bytes\n", n)
	return nil
}

func (s *Session) cmdRecv() error {
	if !s.open {
		return errNotOpen
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		buf := make([]byte, 16*1024)
		n, err := s.ops.Read(s.conn.ID, buf)
		done <- result{buf[:n], err}
	}()

	var timeout <-chan time.Time
	if s.target.ReadTimeout > 0 {
		timer := time.NewTimer(s.target.ReadTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-done:
		if len(r.data) > 0 {
			fmt.Fprintf(s.out, "< %s\n", strings.TrimRight(string(r.data), "\n"))
		}
		if errors.Is(r.err, io.EOF) {
			fmt.Fprintln(s.out, "(end of stream)")
			return nil
		}
		return r.err
	case <-timeout:
		// Closing the stream is the only way to abandon a pending read.
		s.Close()
		return fmt.Errorf("no data within %s, connection closed", s.target.ReadTimeout)
	}
}

func (s *Session) cmdInfo(ctx context.Context) error {
	if !s.open {
		return errNotOpen
	}
	if !s.isTLS {
		fmt.Fprintln(s.out, "Plaintext connection")
		return nil
	}
	info, err := s.ops.TLSHandshake(ctx, s.conn.ID)
	if err != nil {
		return err
	}
	printInfo(s.out, info)
	return nil
}

func (s *Session) cmdStartTLS(ctx context.Context) error {
	if !s.open {
		return errNotOpen
	}
	if s.isTLS {
		return errors.New("connection is already TLS")
	}

	hostname := s.target.Connect.ServerName
	if hostname == "" {
		hostname = s.target.Addr.Hostname
	}
	opts := transport.StartOptions{
		Hostname:      hostname,
		CertFile:      s.target.Connect.CertFile,
		CACerts:       s.target.Connect.CACerts,
		ALPNProtocols: s.target.Connect.ALPNProtocols,
	}
	if s.target.Connect.InsecureSkipVerify {
		reject := false
		opts.RejectUnauthorized = &reject
	}

	c, err := s.ops.StartTLS(s.conn.ID, opts, s.target.ClientKeys)
	if err != nil {
		return err
	}
	s.conn, s.isTLS = c, true

	info, err := s.ops.TLSHandshake(ctx, c.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Upgraded to TLS [id %d]\n", c.ID)
	printInfo(s.out, info)
	return nil
}

func (s *Session) cmdShutdown() error {
	if !s.open {
		return errNotOpen
	}
	if err := s.ops.Shutdown(s.conn.ID); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "Write side closed")
	return nil
}

func printInfo(w io.Writer, info transport.HandshakeInfo) {
	fmt.Fprintf(w, "  Version:     %s\n", tls.VersionName(info.Version))
	fmt.Fprintf(w, "  Cipher:      %s\n", tls.CipherSuiteName(info.CipherSuite))
	if info.ALPNProtocol != "" {
		fmt.Fprintf(w, "  ALPN:        %s\n", info.ALPNProtocol)
	}
	if info.ServerName != "" {
		fmt.Fprintf(w, "  ServerName:  %s\n", info.ServerName)
	}
	for i, c := range info.PeerCertificates {
		fmt.Fprintf(w, "  Peer[%d]:     %s (expires %s)\n", i, c.Subject.CommonName, c.NotAfter.Format(time.DateOnly))
	}
	if info.Resumed {
		fmt.Fprintln(w, "  Resumed:     true")
	}
}
