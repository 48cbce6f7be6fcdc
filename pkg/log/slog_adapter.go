package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger.
// Useful for development when you want to see protocol events in console.
type SlogAdapter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewSlogAdapter creates a SlogAdapter that logs at Debug level.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger, level: slog.LevelDebug}
}

// WithLevel returns a copy that logs at level.
func (a *SlogAdapter) WithLevel(level slog.Level) *SlogAdapter {
	return &SlogAdapter{logger: a.logger, level: level}
}

// Log writes the event to the slog logger. Error events are always logged
// at Warn or above.
func (a *SlogAdapter) Log(event Event) {
	ctx := context.Background()
	level := a.level
	if event.Error != nil && level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	if !a.logger.Enabled(ctx, level) {
		return
	}

	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
		slog.String("role", event.LocalRole.String()),
	}
	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote", event.RemoteAddr))
	}
	if event.ServerName != "" {
		attrs = append(attrs, slog.String("server_name", event.ServerName))
	}
	if event.ResourceID != 0 {
		attrs = append(attrs, slog.Uint64("rid", uint64(event.ResourceID)))
	}

	switch {
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Handshake != nil:
		h := event.Handshake
		attrs = append(attrs,
			slog.String("version", h.VersionName()),
			slog.String("cipher", h.CipherSuiteName()),
			slog.Duration("duration", h.Duration),
		)
		if h.ALPN != "" {
			attrs = append(attrs, slog.String("alpn", h.ALPN))
		}
		if h.PeerCertificates > 0 {
			attrs = append(attrs, slog.Int("peer_certs", h.PeerCertificates))
		}
	case event.Lookup != nil:
		attrs = append(attrs,
			slog.String("hostname", event.Lookup.Hostname),
			slog.String("outcome", event.Lookup.Outcome.String()),
		)
		if event.Lookup.Duration > 0 {
			attrs = append(attrs, slog.Duration("duration", event.Lookup.Duration))
		}
		if event.Lookup.Message != "" {
			attrs = append(attrs, slog.String("message", event.Lookup.Message))
		}
	case event.IO != nil:
		attrs = append(attrs,
			slog.String("direction", event.Direction.String()),
			slog.Int("size", event.IO.Size),
		)
		if event.IO.EOF {
			attrs = append(attrs, slog.Bool("eof", true))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
		if event.Error.Kind != "" {
			attrs = append(attrs, slog.String("error_kind", event.Error.Kind))
		}
	}

	a.logger.LogAttrs(ctx, level, "protocol", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
