// Package socket provides the raw stream-socket layer underneath tlsnet.
//
// Two interchangeable stream kinds are supported:
//   - TCP sockets (always available)
//   - Unix-domain sockets (see Supports(CapUnixSockets))
//
// Both satisfy the Conn capability set: read, write, half-close and
// local/peer address queries. Everything above this package programs
// against Conn and Stream and never against the concrete net types.
//
// # Split Halves
//
// A Stream owns a ReadHalf and a WriteHalf. Each half admits one caller at
// a time; a second concurrent read (or write) fails with ErrBusy instead of
// queuing, while a read and a write may proceed together. Reunite joins the
// halves back into the single owned Conn, which is how a plaintext stream
// is handed over for a TLS upgrade.
//
// # Binding
//
// Listen binds a raw listener. ListenOptions.ReusePort sets SO_REUSEPORT
// where the platform has it. ListenOptions.LoadBalanced makes every
// load-balanced bind of the same address in this process share one raw
// listener, with accepted connections handed to whichever member is waiting.
package socket
