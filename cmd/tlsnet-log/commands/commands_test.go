package commands

import (
	"bytes"
	"crypto/tls"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tlsnet/tlsnet-go/pkg/log"
)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.cbor")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()
	return path
}

var ts = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func sampleEvents() []log.Event {
	return []log.Event{
		{
			Timestamp: ts, ConnectionID: "11111111-aaaa", Layer: log.LayerTLS, Category: log.CategoryState,
			LocalRole: log.RoleServer, RemoteAddr: "127.0.0.1:5000",
			StateChange: &log.StateChangeEvent{Entity: log.StateEntityStream, NewState: "OPEN"},
		},
		{
			Timestamp: ts.Add(time.Millisecond), Layer: log.LayerResolver, Category: log.CategoryLookup,
			ServerName: "a.test", Lookup: &log.LookupEvent{Hostname: "a.test", Outcome: log.LookupQueued},
		},
		{
			Timestamp: ts.Add(30 * time.Millisecond), Layer: log.LayerResolver, Category: log.CategoryLookup,
			ServerName: "a.test", Lookup: &log.LookupEvent{Hostname: "a.test", Outcome: log.LookupResolved, Duration: 29 * time.Millisecond},
		},
		{
			Timestamp: ts.Add(40 * time.Millisecond), ConnectionID: "11111111-aaaa", Layer: log.LayerTLS, Category: log.CategoryHandshake,
			LocalRole: log.RoleServer, ServerName: "a.test",
			Handshake: &log.HandshakeEvent{Version: tls.VersionTLS13, CipherSuite: tls.TLS_AES_128_GCM_SHA256, ALPN: "echo/1", Duration: 40 * time.Millisecond},
		},
		{
			Timestamp: ts.Add(50 * time.Millisecond), ConnectionID: "11111111-aaaa", Layer: log.LayerTLS, Category: log.CategoryIO,
			LocalRole: log.RoleServer, Direction: log.DirectionIn, IO: &log.IOEvent{Size: 5},
		},
		{
			Timestamp: ts.Add(60 * time.Millisecond), ConnectionID: "11111111-aaaa", Layer: log.LayerTLS, Category: log.CategoryIO,
			LocalRole: log.RoleServer, Direction: log.DirectionOut, IO: &log.IOEvent{Size: 5},
		},
		{
			Timestamp: ts.Add(2 * time.Second), ConnectionID: "22222222-bbbb", Layer: log.LayerTLS, Category: log.CategoryError,
			LocalRole: log.RoleServer, ServerName: "b.test",
			Error: &log.ErrorEventData{Layer: log.LayerTLS, Message: "certificate lookup failed", Kind: "protocol", Context: "handshake"},
		},
	}
}

func TestViewFormatsEveryPayload(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"2026-03-02T09:30:00.000000Z [conn:11111111] SERVER TLS State",
		"-> OPEN",
		"Peer: 127.0.0.1:5000",
		"RESOLVER Lookup",
		"Outcome: RESOLVED",
		"Duration: 29.000ms",
		"Version: TLS 1.3",
		"Cipher: TLS_AES_128_GCM_SHA256",
		"ALPN: echo/1",
		"IO IN",
		"Size: 5 bytes",
		"Kind: protocol",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestViewFilters(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	layer := log.LayerResolver
	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{Layer: &layer}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	if got := strings.Count(buf.String(), "RESOLVER Lookup"); got != 2 {
		t.Errorf("resolver events = %d, want 2", got)
	}
	if strings.Contains(buf.String(), "Handshake") {
		t.Error("layer filter let a TLS event through")
	}

	buf.Reset()
	if err := RunView(path, ViewFilter{ErrorsOnly: true}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	if got := strings.Count(buf.String(), "[conn:"); got != 1 {
		t.Errorf("error events = %d, want 1", got)
	}
}

func TestParseFlags(t *testing.T) {
	if l, err := ParseLayerFlag("TLS"); err != nil || l != log.LayerTLS {
		t.Errorf("ParseLayerFlag(TLS) = %v, %v", l, err)
	}
	if _, err := ParseLayerFlag("wire"); err == nil {
		t.Error("ParseLayerFlag(wire) should fail")
	}
	if c, err := ParseCategoryFlag("lookup"); err != nil || c != log.CategoryLookup {
		t.Errorf("ParseCategoryFlag(lookup) = %v, %v", c, err)
	}
	if _, err := ParseCategoryFlag("message"); err == nil {
		t.Error("ParseCategoryFlag(message) should fail")
	}
	if d, err := ParseDirectionFlag("out"); err != nil || d != log.DirectionOut {
		t.Errorf("ParseDirectionFlag(out) = %v, %v", d, err)
	}
}

func TestStats(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"Total Events: 7",
		"TLS:",
		"RESOLVER:",
		"HANDSHAKE:",
		"Handshakes: 1 (avg 40.000ms)",
		"QUEUED:",
		"RESOLVED:",
		"Connections: 2",
		"[11111111] SERVER 4 events",
		"ServerName: a.test",
		"Bytes: 5 in, 5 out",
		"Errors: 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestExportJSONL(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	output := filepath.Join(t.TempDir(), "out.jsonl")

	if err := RunExport(path, "jsonl", output); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}
	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 7 {
		t.Fatalf("lines = %d, want 7", len(lines))
	}
	var first log.Event
	if err := json.Unmarshal([]byte(lines[3]), &first); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if first.Handshake == nil || first.Handshake.ALPN != "echo/1" {
		t.Errorf("handshake not exported: %+v", first)
	}
}

func TestExportCSV(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	output := filepath.Join(t.TempDir(), "out.csv")

	if err := RunExport(path, "csv", output); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}
	f, err := os.Open(output)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 8 {
		t.Fatalf("rows = %d, want 8", len(rows))
	}
	if got := rows[3][6:]; got[0] != "lookup" || got[1] != "RESOLVED" {
		t.Errorf("lookup row = %v", rows[3])
	}
	if got := rows[7][7]; got != "certificate lookup failed" {
		t.Errorf("error detail = %q", got)
	}

	if err := RunExport(path, "xml", ""); err == nil {
		t.Error("unknown format should fail")
	}
}

func TestFilterWritesMatching(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	output := filepath.Join(t.TempDir(), "filtered.cbor")

	n, err := RunFilter(path, FilterOptions{Output: output, ServerName: "A.TEST"})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if n != 3 {
		t.Errorf("filtered = %d, want 3", n)
	}

	reader, err := log.NewReader(output)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	count := 0
	for {
		e, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if e.ServerName != "a.test" {
			t.Errorf("unexpected event %+v", e)
		}
		count++
	}
	if count != n {
		t.Errorf("read back %d events, want %d", count, n)
	}

	if _, err := RunFilter(path, FilterOptions{Output: output, TimeStart: "yesterday"}); err == nil {
		t.Error("bad time-start should fail")
	}
}
