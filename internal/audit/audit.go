// Package audit implements the async, buffered audit log writer (spec §7
// "every operation ... emits an audit record"), grounded on the teacher's
// internal/audit.Writer: a bounded channel drained by a background
// goroutine on a flush interval or batch-size trigger, non-blocking on the
// caller, dropping and logging a warning when the buffer is full.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// redactedFields lists Detail keys stripped before a record reaches any
// sink (spec §7 "sensitive payload fields MUST be redacted").
var redactedFields = map[string]bool{
	"password": true, "token": true, "accessToken": true, "refreshToken": true,
	"apiKey": true, "secret": true, "credential": true, "authorization": true,
}

// Record is a single audit record (spec §7).
type Record struct {
	OperationType     string
	ResourceType      string
	ResourceID        string
	TenantID          string
	ProviderID        string
	ActorID           string
	AdapterID         string
	Outcome           string // "success" or "failure"
	DurationMs        int64
	ProviderErrorCode string
	ErrorMessage      string
	CorrelationID     string
	Detail            map[string]string
}

// Sink persists a batch of audit records. Durable audit storage is an
// external collaborator (spec §1); the default Writer logs through slog,
// but callers needing database-backed persistence implement Sink over
// their own store.
type Sink interface {
	WriteBatch(ctx context.Context, records []Record)
}

// SlogSink writes each record as a structured log line.
type SlogSink struct{ logger *slog.Logger }

// NewSlogSink creates a Sink that logs through logger.
func NewSlogSink(logger *slog.Logger) *SlogSink { return &SlogSink{logger: logger} }

// WriteBatch implements Sink.
func (s *SlogSink) WriteBatch(ctx context.Context, records []Record) {
	for _, r := range records {
		s.logger.Info("audit",
			"operationType", r.OperationType, "resourceType", r.ResourceType, "resourceId", r.ResourceID,
			"tenantId", r.TenantID, "providerId", r.ProviderID, "actorId", r.ActorID, "adapterId", r.AdapterID,
			"outcome", r.Outcome, "durationMs", r.DurationMs, "providerErrorCode", r.ProviderErrorCode,
			"errorMessage", r.ErrorMessage, "correlationId", r.CorrelationID,
		)
	}
}

// Writer is an async, buffered audit log writer.
type Writer struct {
	sink    Sink
	logger  *slog.Logger
	records chan Record
	wg      sync.WaitGroup
}

// NewWriter creates a Writer over sink. Call Start to begin processing.
func NewWriter(sink Sink, logger *slog.Logger) *Writer {
	return &Writer{sink: sink, logger: logger, records: make(chan Record, bufferSize)}
}

// Start begins the background flush loop; it returns when ctx is
// cancelled and all pending records have been flushed.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close stops accepting new records and waits for the flush loop to drain.
func (w *Writer) Close() {
	close(w.records)
	w.wg.Wait()
}

// Log enqueues a record, redacting sensitive Detail fields first. It never
// blocks the caller; a full buffer drops the record with a warning log.
func (w *Writer) Log(r Record) {
	if r.Detail != nil {
		redacted := make(map[string]string, len(r.Detail))
		for k, v := range r.Detail {
			if redactedFields[k] {
				redacted[k] = "[REDACTED]"
				continue
			}
			redacted[k] = v
		}
		r.Detail = redacted
	}

	select {
	case w.records <- r:
	default:
		w.logger.Warn("audit log buffer full, dropping record",
			"operationType", r.OperationType, "resourceType", r.ResourceType)
	}
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Record, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.sink.WriteBatch(context.Background(), batch)
		batch = batch[:0]
	}

	for {
		select {
		case r, ok := <-w.records:
			if !ok {
				flush()
				return
			}
			batch = append(batch, r)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case r, ok := <-w.records:
					if !ok {
						flush()
						return
					}
					batch = append(batch, r)
				default:
					flush()
					return
				}
			}
		}
	}
}
