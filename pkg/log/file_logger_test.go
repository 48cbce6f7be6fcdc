package log

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestFileLoggerWritesCBOR(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.tlog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	event := Event{
		Timestamp:    time.Now(),
		ConnectionID: "conn-123",
		Direction:    DirectionIn,
		Layer:        LayerTLS,
		Category:     CategoryIO,
		IO:           &IOEvent{Size: 100},
	}
	logger.Log(event)
	logger.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if decoded.ConnectionID != event.ConnectionID {
		t.Errorf("ConnectionID: got %q, want %q", decoded.ConnectionID, event.ConnectionID)
	}
	if decoded.IO == nil || decoded.IO.Size != 100 {
		t.Errorf("IO: got %+v, want size 100", decoded.IO)
	}
}

func TestFileLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.tlog")

	for _, id := range []string{"first", "second"} {
		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger failed: %v", err)
		}
		logger.Log(Event{Timestamp: time.Now(), ConnectionID: id})
		logger.Close()
	}

	reader, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()

	for _, want := range []string{"first", "second"} {
		e, err := reader.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if e.ConnectionID != want {
			t.Errorf("ConnectionID: got %q, want %q", e.ConnectionID, want)
		}
	}
}

func TestFileLoggerThreadSafe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.tlog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	const numGoroutines = 10
	const eventsPerGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				logger.Log(Event{
					Timestamp:    time.Now(),
					ConnectionID: "conn-" + string(rune('A'+id)),
					Category:     CategoryIO,
					IO:           &IOEvent{Size: j},
				})
			}
		}(i)
	}
	wg.Wait()

	written, dropped := logger.Stats()
	logger.Close()

	if written != numGoroutines*eventsPerGoroutine || dropped != 0 {
		t.Errorf("Stats() = %d written, %d dropped", written, dropped)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	decoder := NewDecoder(bytes.NewReader(data))
	count := 0
	for {
		var event Event
		if err := decoder.Decode(&event); err != nil {
			break
		}
		count++
	}
	if count != numGoroutines*eventsPerGoroutine {
		t.Errorf("event count: got %d, want %d", count, numGoroutines*eventsPerGoroutine)
	}
}

type failingSink struct {
	closed int
}

func (f *failingSink) Write([]byte) (int, error) { return 0, errors.New("disk full") }
func (f *failingSink) Close() error {
	f.closed++
	return nil
}

func TestFileLoggerCountsDrops(t *testing.T) {
	sink := &failingSink{}
	logger := NewWriterLogger(sink)

	logger.Log(Event{ConnectionID: "lost"})
	if written, dropped := logger.Stats(); written != 0 || dropped != 1 {
		t.Errorf("Stats() = %d written, %d dropped", written, dropped)
	}

	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if sink.closed != 1 {
		t.Errorf("sink closed %d times, want 1", sink.closed)
	}

	// Ignored after Close.
	logger.Log(Event{})
	if _, dropped := logger.Stats(); dropped != 1 {
		t.Errorf("dropped = %d after Close, want 1", dropped)
	}
}
