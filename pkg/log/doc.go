// Package log provides structured protocol event capture for tlsnet.
//
// This package defines the Logger interface and Event types for capturing
// transport events at several layers (socket, TLS, SNI resolver, resource
// registry). It is separate from operational logging (slog): protocol
// capture is a complete machine-readable trace for debugging and analysis.
//
// # Basic Usage
//
// Applications configure capture by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.Logger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.Logger, _ = log.NewFileLogger("/var/log/tlsnet/server.tlog")
//
//	// Both: use MultiLogger
//	cfg.Logger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Each Event carries exactly one payload:
//   - StateChangeEvent: listener, stream and resolver lifecycle
//   - HandshakeEvent: negotiated version, cipher suite and ALPN protocol
//   - LookupEvent: SNI certificate lookups (queued, answered, cached)
//   - IOEvent: application data sizes (never contents)
//   - ErrorEventData: failures at any layer
//
// # File Format
//
// Log files are a concatenation of CBOR items with integer map keys,
// conventionally with a .tlog extension. The tlsnet-log tool views and
// summarises them.
package log
