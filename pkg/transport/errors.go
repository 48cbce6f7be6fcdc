package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/tlsnet/tlsnet-go/pkg/resource"
	"github.com/tlsnet/tlsnet-go/pkg/sni"
	"github.com/tlsnet/tlsnet-go/pkg/socket"
)

// Transport errors. ErrBadResource, ErrBusy, ErrListenerClosed and
// ErrClosed are shared with the resource and socket packages so errors.Is
// works whichever layer reported them.
var (
	ErrInvalidHostname      = errors.New("invalid hostname")
	ErrListenTLSRequiresKey = errors.New("listening with TLS requires a key")
	ErrUnexpectedKeyType    = errors.New("unexpected key type")
	ErrBadResource          = resource.ErrBadResource
	ErrBusy                 = resource.ErrBusy
	ErrAcceptInProgress     = errors.New("accept already in progress")
	ErrListenerClosed       = socket.ErrListenerClosed
	ErrHandshake            = errors.New("tls handshake failed")
	ErrCancelled            = errors.New("operation cancelled")
	ErrClosed               = socket.ErrClosed
)

// Kind classifies an error for callers that need to tell configuration
// mistakes apart from wire failures.
type Kind uint8

const (
	// KindUnknown is an unclassified error.
	KindUnknown Kind = iota

	// KindConfig covers invalid hostnames and missing or wrong key material.
	KindConfig

	// KindResource covers unknown ids, busy resources and closed listeners.
	KindResource

	// KindTransport covers raw I/O failures, passed through unchanged.
	KindTransport

	// KindProtocol covers handshake failures: alerts, rejected
	// certificates, protocol mismatch and resolver errors.
	KindProtocol

	// KindCancelled is an operation interrupted by our own Close.
	KindCancelled
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindResource:
		return "resource"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is a classified transport error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf classifies err. Errors not produced by this package are classified
// by their sentinel when one matches, and as KindTransport otherwise.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	switch {
	case errors.Is(err, ErrInvalidHostname),
		errors.Is(err, ErrListenTLSRequiresKey),
		errors.Is(err, ErrUnexpectedKeyType):
		return KindConfig
	case errors.Is(err, ErrBadResource),
		errors.Is(err, ErrBusy),
		errors.Is(err, socket.ErrBusy),
		errors.Is(err, ErrAcceptInProgress),
		errors.Is(err, ErrListenerClosed),
		errors.Is(err, ErrClosed):
		return KindResource
	case errors.Is(err, ErrHandshake):
		return KindProtocol
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	}
	return KindTransport
}

func newError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func configError(op string, err error) error {
	return newError(KindConfig, op, err)
}

func resourceError(op string, err error) error {
	return newError(KindResource, op, err)
}

func cancelledError(op string) error {
	return &Error{Kind: KindCancelled, Op: op, Err: ErrCancelled}
}

// ioError classifies err from a read or write. Cancellation wins when the
// token fired, since the wire error it caused is an artefact.
func ioError(op string, token *CancelToken, err error) error {
	if err == nil {
		return nil
	}
	if token.Cancelled() {
		return cancelledError(op)
	}
	if errors.Is(err, socket.ErrBusy) {
		return resourceError(op, ErrBusy)
	}
	return newError(KindTransport, op, err)
}

// handshakeError classifies a failed handshake. TLS alerts, certificate
// rejections and resolver answers are protocol errors; a socket that fails
// underneath the handshake is a transport error and is passed through.
func handshakeError(token *CancelToken, err error) error {
	if token.Cancelled() {
		return cancelledError("handshake")
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindCancelled, Op: "handshake", Err: fmt.Errorf("%w: %w", ErrCancelled, err)}
	}
	if !isProtocolFailure(err) && isWireFailure(err) {
		return &Error{Kind: KindTransport, Op: "handshake", Err: err}
	}
	return &Error{Kind: KindProtocol, Op: "handshake", Err: fmt.Errorf("%w: %w", ErrHandshake, err)}
}

func isProtocolFailure(err error) bool {
	var (
		alert     tls.AlertError
		verify    *tls.CertificateVerificationError
		record    tls.RecordHeaderError
		authority x509.UnknownAuthorityError
		hostname  x509.HostnameError
		invalid   x509.CertificateInvalidError
		op        *net.OpError
	)
	switch {
	case errors.As(err, &alert), errors.As(err, &verify), errors.As(err, &record),
		errors.As(err, &authority), errors.As(err, &hostname), errors.As(err, &invalid):
		return true
	case errors.Is(err, sni.ErrLookupFailed):
		return true
	case errors.As(err, &op):
		// crypto/tls reports alerts as "local error" and "remote error".
		return op.Op == "local error" || op.Op == "remote error"
	}
	return false
}

func isWireFailure(err error) bool {
	var op *net.OpError
	return errors.As(err, &op) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, net.ErrClosed)
}
