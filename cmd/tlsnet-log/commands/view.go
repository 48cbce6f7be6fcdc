// Package commands implements the tlsnet-log CLI commands.
package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tlsnet/tlsnet-go/pkg/log"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer      *log.Layer
	Direction  *log.Direction
	Category   *log.Category
	ServerName string
	ErrorsOnly bool
}

func (f ViewFilter) logFilter() log.Filter {
	return log.Filter{
		Layer:      f.Layer,
		Direction:  f.Direction,
		Category:   f.Category,
		ServerName: f.ServerName,
		ErrorsOnly: f.ErrorsOnly,
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [conn:id] ROLE LAYER Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	connID := shortenConnID(event.ConnectionID)

	var typeLabel string
	switch {
	case event.StateChange != nil:
		typeLabel = "State"
	case event.Handshake != nil:
		typeLabel = "Handshake"
	case event.Lookup != nil:
		typeLabel = "Lookup"
	case event.IO != nil:
		typeLabel = "IO " + event.Direction.String()
	case event.Error != nil:
		typeLabel = "Error"
	default:
		typeLabel = "Unknown"
	}

	role := "-"
	if event.Layer == log.LayerTLS || event.Layer == log.LayerSocket {
		role = event.LocalRole.String()
	}
	fmt.Fprintf(w, "%s [conn:%s] %-6s %s %s\n", ts, connID, role, event.Layer.String(), typeLabel)

	if event.RemoteAddr != "" {
		fmt.Fprintf(w, "  Peer: %s\n", event.RemoteAddr)
	}
	if event.ServerName != "" && event.Lookup == nil {
		fmt.Fprintf(w, "  ServerName: %s\n", event.ServerName)
	}
	if event.ResourceID != 0 {
		fmt.Fprintf(w, "  Resource: %d\n", event.ResourceID)
	}

	switch {
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Handshake != nil:
		formatHandshakeDetails(w, event.Handshake)
	case event.Lookup != nil:
		formatLookupDetails(w, event.Lookup)
	case event.IO != nil:
		formatIODetails(w, event.IO)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w) // Blank line between events
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatHandshakeDetails(w io.Writer, hs *log.HandshakeEvent) {
	fmt.Fprintf(w, "  Version: %s\n", hs.VersionName())
	fmt.Fprintf(w, "  Cipher: %s\n", hs.CipherSuiteName())
	if hs.ALPN != "" {
		fmt.Fprintf(w, "  ALPN: %s\n", hs.ALPN)
	}
	if hs.PeerCertificates > 0 {
		fmt.Fprintf(w, "  PeerCertificates: %d\n", hs.PeerCertificates)
	}
	if hs.Resumed {
		fmt.Fprintln(w, "  Resumed: true")
	}
	fmt.Fprintf(w, "  Duration: %s\n", formatDuration(hs.Duration))
}

func formatLookupDetails(w io.Writer, l *log.LookupEvent) {
	fmt.Fprintf(w, "  Hostname: %s\n", l.Hostname)
	fmt.Fprintf(w, "  Outcome: %s\n", l.Outcome.String())
	if l.Duration > 0 {
		fmt.Fprintf(w, "  Duration: %s\n", formatDuration(l.Duration))
	}
	if l.Message != "" {
		fmt.Fprintf(w, "  Message: %s\n", l.Message)
	}
}

func formatIODetails(w io.Writer, e *log.IOEvent) {
	fmt.Fprintf(w, "  Size: %d bytes", e.Size)
	if e.EOF {
		fmt.Fprint(w, " (EOF)")
	}
	fmt.Fprintln(w)
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Kind != "" {
		fmt.Fprintf(w, "  Kind: %s\n", err.Kind)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// ParseLayerFlag parses a layer string from command-line flag (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "socket":
		return log.LayerSocket, nil
	case "tls":
		return log.LayerTLS, nil
	case "resolver":
		return log.LayerResolver, nil
	case "registry":
		return log.LayerRegistry, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be socket, tls, resolver, or registry)", s)
	}
}

// ParseDirectionFlag parses a direction string from command-line flag (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category string from command-line flag (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "state":
		return log.CategoryState, nil
	case "handshake":
		return log.CategoryHandshake, nil
	case "lookup":
		return log.CategoryLookup, nil
	case "io":
		return log.CategoryIO, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be state, handshake, lookup, io, or error)", s)
	}
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter.logFilter())
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}
	return nil
}
