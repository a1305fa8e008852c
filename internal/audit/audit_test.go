package audit

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Record
}

func (s *recordingSink) WriteBatch(ctx context.Context, records []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]Record, len(records))
	copy(cp, records)
	s.batches = append(s.batches, cp)
}

func (s *recordingSink) all() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func TestLogDropsWhenFull(t *testing.T) {
	logger := slog.Default()
	w := NewWriter(&recordingSink{}, logger)
	// Don't start the background goroutine — nothing drains the channel.

	for i := 0; i < bufferSize; i++ {
		w.Log(Record{OperationType: "create", ResourceType: "User"})
	}

	// The next log should be dropped (non-blocking), not block the test.
	w.Log(Record{OperationType: "dropped", ResourceType: "User"})

	if len(w.records) != bufferSize {
		t.Errorf("buffer size = %d, want %d", len(w.records), bufferSize)
	}
}

func TestLogRedactsSensitiveDetailFields(t *testing.T) {
	sink := &recordingSink{}
	w := NewWriter(sink, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	w.Log(Record{
		OperationType: "create",
		ResourceType:  "User",
		Detail: map[string]string{
			"accessToken": "super-secret",
			"username":    "jdoe",
		},
	})

	cancel()
	w.Close()

	records := sink.all()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if got := records[0].Detail["accessToken"]; got != "[REDACTED]" {
		t.Errorf("accessToken = %q, want [REDACTED]", got)
	}
	if got := records[0].Detail["username"]; got != "jdoe" {
		t.Errorf("username = %q, want jdoe (should not be redacted)", got)
	}
}

func TestFlushOnBatchSize(t *testing.T) {
	sink := &recordingSink{}
	w := NewWriter(sink, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	for i := 0; i < flushBatch; i++ {
		w.Log(Record{OperationType: "create", ResourceType: "User"})
	}

	deadline := time.Now().Add(time.Second)
	for len(sink.all()) < flushBatch && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if got := len(sink.all()); got != flushBatch {
		t.Errorf("flushed records = %d, want %d", got, flushBatch)
	}
}

func TestFlushOnInterval(t *testing.T) {
	sink := &recordingSink{}
	w := NewWriter(sink, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	w.Log(Record{OperationType: "update", ResourceType: "Group"})

	deadline := time.Now().Add(flushInterval + time.Second)
	for len(sink.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}

	if got := len(sink.all()); got != 1 {
		t.Errorf("flushed records = %d, want 1 (flush should fire on ticker interval)", got)
	}
}

func TestCloseDrainsPendingRecords(t *testing.T) {
	sink := &recordingSink{}
	w := NewWriter(sink, slog.Default())

	ctx := context.Background()
	w.Start(ctx)

	w.Log(Record{OperationType: "delete", ResourceType: "User"})
	w.Close()

	if got := len(sink.all()); got != 1 {
		t.Errorf("flushed records after Close = %d, want 1", got)
	}
}
