/*
audit.go - Append-only audit trail writer

PURPOSE:
  Every attempted transact/create/delete produces exactly one LogEntry,
  whether it succeeded, failed or was cancelled. The audit trail must let
  an operator reconstruct what happened even when the caller only saw a
  failure result.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: entries are never updated or deleted
  2. ORDERED: entries are written in the order they were queued, so the
     old/new balance chain of an account reads correctly
  3. OFF THE HOT PATH: the engine queues the entry and returns its result
     without waiting for the write

SETTLING:
  Flush(ctx) returns once everything queued before the call is written.
  Tests call Engine.Settle (which flushes) before counting entries.

FAILURES:
  A write is attempted up to maxAuditAttempts times with a short backoff.
  If the entry references a currency that was deleted in the meantime
  (ErrCurrencyNotFound), the reference is scrubbed and the identifier kept
  in metadata, the same treatment deletion gives older entries.

SEE ALSO:
  - store.go: AuditLog interface
  - currency.go: Flushes before the delete cascade
*/
package economy

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	maxAuditAttempts   = 3
	auditRetryBackoff  = 50 * time.Millisecond
	DefaultAuditBuffer = 1024
)

type auditItem struct {
	entry LogEntry
	flush chan struct{}
}

// AuditWriter appends LogEntries on a single background goroutine.
type AuditWriter struct {
	store   AuditLog
	queue   chan auditItem
	stopped chan struct{}
	metrics Instrumentation
	logger  *log.Entry

	mu     sync.RWMutex
	closed bool
}

func NewAuditWriter(store AuditLog, buffer int, metrics Instrumentation) *AuditWriter {
	if buffer <= 0 {
		buffer = DefaultAuditBuffer
	}
	if metrics == nil {
		metrics = NopInstrumentation{}
	}
	w := &AuditWriter{
		store:   store,
		queue:   make(chan auditItem, buffer),
		stopped: make(chan struct{}),
		metrics: metrics,
		logger:  log.WithField("component", "audit"),
	}
	go w.run()
	return w
}

func (w *AuditWriter) run() {
	defer close(w.stopped)
	for item := range w.queue {
		if item.flush != nil {
			close(item.flush)
			continue
		}
		w.write(item.entry)
	}
}

// Append queues an entry. After Close the entry is written synchronously
// so nothing is lost during shutdown.
func (w *AuditWriter) Append(entry LogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		w.write(entry)
		return
	}
	w.queue <- auditItem{entry: entry}
	w.mu.RUnlock()
}

// Flush waits until every entry queued before the call has been written.
func (w *AuditWriter) Flush(ctx context.Context) error {
	marker := make(chan struct{})

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return nil
	}
	select {
	case w.queue <- auditItem{flush: marker}:
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}
	w.mu.RUnlock()

	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue and stops the writer goroutine.
func (w *AuditWriter) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()
	<-w.stopped
}

func (w *AuditWriter) write(entry LogEntry) {
	ctx := context.Background()

	var err error
	for attempt := 1; attempt <= maxAuditAttempts; attempt++ {
		_, err = w.store.AppendLog(ctx, entry)
		if err == nil {
			w.metrics.AuditWritten(nil)
			return
		}

		if errors.Is(err, ErrCurrencyNotFound) && entry.CurrencyID != nil {
			entry = scrubEntry(entry)
			continue
		}
		if attempt < maxAuditAttempts {
			time.Sleep(time.Duration(attempt) * auditRetryBackoff)
		}
	}

	w.metrics.AuditWritten(err)
	w.logger.WithError(err).WithFields(log.Fields{
		"log_type":  entry.LogType,
		"operation": entry.OperationType,
		"success":   entry.Success,
		"details":   entry.Details,
	}).Error("failed to write audit entry")
}

func scrubEntry(entry LogEntry) LogEntry {
	meta := make(map[string]string, len(entry.Metadata)+1)
	for k, v := range entry.Metadata {
		meta[k] = v
	}
	if _, ok := meta["currency_id"]; !ok {
		meta["currency_id"] = strconv.FormatInt(int64(*entry.CurrencyID), 10)
	}
	meta["currency_scrubbed"] = "true"
	entry.Metadata = meta
	entry.CurrencyID = nil
	return entry
}
