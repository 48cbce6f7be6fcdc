// Package transport provides TLS listeners and streams over TCP and Unix
// sockets.
//
// The package handles:
//   - Listening with static key material or with per-connection SNI lookups
//   - Dialling with a verification bypass restricted to an allow-list
//   - Upgrading an open plaintext stream in place (StartTLS)
//   - Cached, run-once handshakes with ALPN negotiation
//   - Split read/write halves and cooperative cancellation
//
// # Stack
//
//	┌────────────────────────────────┐
//	│     Application bytes          │
//	├────────────────────────────────┤
//	│   Stream (read / write half)   │
//	├────────────────────────────────┤
//	│    crypto/tls (1.2, 1.3)       │
//	├────────────────────────────────┤
//	│   socket.Stream (TCP / Unix)   │
//	└────────────────────────────────┘
//
// # Handshake
//
// Streams from Listener.Accept and Dialer.StartTLS handshake lazily, on the
// first Handshake, Read, Write or Shutdown. Dialer.ConnectTLS handshakes
// before returning, so a certificate failure leaves nothing behind. The
// result is cached: later calls return the same HandshakeInfo.
//
// # Cancellation
//
// Each Stream and Listener owns a CancelToken. Close fires it, which makes
// a pending Accept fail with ErrListenerClosed and a pending Handshake or
// Read fail with ErrCancelled. Writes are never interrupted: Close returns
// at once and the socket is released when the in-flight Write ends.
//
// # Errors
//
// Errors are *Error values carrying a Kind; KindOf classifies any error.
package transport
