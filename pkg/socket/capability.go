package socket

// Capability names an optional platform feature.
type Capability uint8

const (
	// CapUnixSockets reports Unix-domain stream socket support.
	CapUnixSockets Capability = iota

	// CapReusePort reports SO_REUSEPORT support for listeners.
	CapReusePort
)

// String returns the capability name.
func (c Capability) String() string {
	switch c {
	case CapUnixSockets:
		return "UNIX_SOCKETS"
	case CapReusePort:
		return "REUSE_PORT"
	default:
		return "UNKNOWN"
	}
}

// Supports reports whether the running platform provides the capability.
// Operations that need a missing capability fail with ErrNotSupported.
func Supports(c Capability) bool {
	switch c {
	case CapUnixSockets:
		return unixSocketsSupported
	case CapReusePort:
		return reusePortSupported
	default:
		return false
	}
}
