package log

import (
	"crypto/tls"
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the stream or listener (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates data flow for IO events.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// LocalRole indicates whether this end accepted or dialled.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address.
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// LocalAddr is the local address.
	LocalAddr string `cbor:"8,keyasint,omitempty"`

	// ServerName is the SNI name sent or received, once known.
	ServerName string `cbor:"9,keyasint,omitempty"`

	// ResourceID is the registry id, when the event concerns a registered resource.
	ResourceID uint32 `cbor:"10,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"` // Listener/stream/resolver lifecycle
	Handshake   *HandshakeEvent   `cbor:"12,keyasint,omitempty"` // Completed TLS handshake
	Lookup      *LookupEvent      `cbor:"13,keyasint,omitempty"` // SNI certificate lookup
	IO          *IOEvent          `cbor:"14,keyasint,omitempty"` // Application data
	Error       *ErrorEventData   `cbor:"15,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of data flow.
type Direction uint8

const (
	// DirectionIn indicates data read from the peer.
	DirectionIn Direction = 0
	// DirectionOut indicates data written to the peer.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which part of the stack captured the event.
type Layer uint8

const (
	// LayerSocket is the plaintext stream/listener layer.
	LayerSocket Layer = 0
	// LayerTLS is the TLS session layer.
	LayerTLS Layer = 1
	// LayerResolver is the SNI certificate resolver.
	LayerResolver Layer = 2
	// LayerRegistry is the resource registry and operation surface.
	LayerRegistry Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerSocket:
		return "SOCKET"
	case LayerTLS:
		return "TLS"
	case LayerResolver:
		return "RESOLVER"
	case LayerRegistry:
		return "REGISTRY"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryState indicates a lifecycle change.
	CategoryState Category = 0
	// CategoryHandshake indicates a completed handshake.
	CategoryHandshake Category = 1
	// CategoryLookup indicates SNI resolver activity.
	CategoryLookup Category = 2
	// CategoryIO indicates application data transfer.
	CategoryIO Category = 3
	// CategoryError indicates an error event.
	CategoryError Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryState:
		return "STATE"
	case CategoryHandshake:
		return "HANDSHAKE"
	case CategoryLookup:
		return "LOOKUP"
	case CategoryIO:
		return "IO"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role indicates the local end of the connection.
type Role uint8

const (
	// RoleServer indicates the accepting side.
	RoleServer Role = 0
	// RoleClient indicates the dialling side.
	RoleClient Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleServer:
		return "SERVER"
	case RoleClient:
		return "CLIENT"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures listener, stream and resolver lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityStream indicates a stream state change.
	StateEntityStream StateEntity = 0
	// StateEntityListener indicates a listener state change.
	StateEntityListener StateEntity = 1
	// StateEntityResolver indicates a resolver state change.
	StateEntityResolver StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityStream:
		return "STREAM"
	case StateEntityListener:
		return "LISTENER"
	case StateEntityResolver:
		return "RESOLVER"
	default:
		return "UNKNOWN"
	}
}

// HandshakeEvent captures the outcome of a completed TLS handshake.
type HandshakeEvent struct {
	// Version is the negotiated TLS version (tls.VersionTLS13 etc.).
	Version uint16 `cbor:"1,keyasint"`

	// CipherSuite is the negotiated cipher suite id.
	CipherSuite uint16 `cbor:"2,keyasint"`

	// ALPN is the negotiated application protocol, empty if none.
	ALPN string `cbor:"3,keyasint,omitempty"`

	// PeerCertificates is the number of certificates the peer presented.
	PeerCertificates int `cbor:"4,keyasint,omitempty"`

	// Duration is the handshake wall time.
	Duration time.Duration `cbor:"5,keyasint"`

	// Resumed reports session resumption.
	Resumed bool `cbor:"6,keyasint,omitempty"`
}

// VersionName returns the TLS version name.
func (h *HandshakeEvent) VersionName() string {
	return tls.VersionName(h.Version)
}

// CipherSuiteName returns the cipher suite name.
func (h *HandshakeEvent) CipherSuiteName() string {
	return tls.CipherSuiteName(h.CipherSuite)
}

// LookupEvent captures SNI resolver activity for one hostname.
type LookupEvent struct {
	// Hostname being resolved.
	Hostname string `cbor:"1,keyasint"`

	// Outcome of the step.
	Outcome LookupOutcome `cbor:"2,keyasint"`

	// Duration from queueing to answer (answers only).
	Duration time.Duration `cbor:"3,keyasint,omitempty"`

	// Message is the authority's error message (failures only).
	Message string `cbor:"4,keyasint,omitempty"`
}

// LookupOutcome distinguishes lookup steps.
type LookupOutcome uint8

const (
	// LookupQueued indicates a hostname was queued for the authority.
	LookupQueued LookupOutcome = 0
	// LookupResolved indicates a certificate answer.
	LookupResolved LookupOutcome = 1
	// LookupFailed indicates an error answer.
	LookupFailed LookupOutcome = 2
	// LookupCached indicates a handshake served from the cache.
	LookupCached LookupOutcome = 3
)

// String returns the outcome name.
func (o LookupOutcome) String() string {
	switch o {
	case LookupQueued:
		return "QUEUED"
	case LookupResolved:
		return "RESOLVED"
	case LookupFailed:
		return "FAILED"
	case LookupCached:
		return "CACHED"
	default:
		return "UNKNOWN"
	}
}

// IOEvent captures one application data transfer.
type IOEvent struct {
	// Size is the number of bytes transferred.
	Size int `cbor:"1,keyasint"`

	// EOF marks a read that observed end of stream.
	EOF bool `cbor:"2,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Kind is the error classification (config, resource, transport, ...).
	Kind string `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
