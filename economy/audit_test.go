package economy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAuditLog records appends and can fail them on demand.
type fakeAuditLog struct {
	mu      sync.Mutex
	entries []LogEntry
	calls   int
	failFor func(call int, entry LogEntry) error
}

func (f *fakeAuditLog) AppendLog(_ context.Context, entry LogEntry) (LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failFor != nil {
		if err := f.failFor(f.calls, entry); err != nil {
			return LogEntry{}, err
		}
	}
	entry.ID = int64(len(f.entries) + 1)
	f.entries = append(f.entries, entry)
	return entry, nil
}

func (f *fakeAuditLog) QueryLogs(context.Context, LogFilter) ([]LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]LogEntry(nil), f.entries...), nil
}

func (f *fakeAuditLog) ScrubCurrencyLogs(context.Context, CurrencyID) (int, error) { return 0, nil }

func (f *fakeAuditLog) snapshot() ([]LogEntry, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]LogEntry(nil), f.entries...), f.calls
}

type countingInstrumentation struct {
	NopInstrumentation
	mu     sync.Mutex
	ok     int
	failed int
}

func (c *countingInstrumentation) AuditWritten(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failed++
	} else {
		c.ok++
	}
}

func TestAuditWriter_PreservesOrder(t *testing.T) {
	store := &fakeAuditLog{}
	w := NewAuditWriter(store, 4, nil)
	defer w.Close()

	// WHEN: more entries are appended than the buffer holds
	for i := 0; i < 20; i++ {
		w.Append(LogEntry{Details: string(rune('a' + i)), Success: true})
	}
	require.NoError(t, w.Flush(context.Background()))

	// THEN: all are written in append order with a timestamp
	entries, _ := store.snapshot()
	require.Len(t, entries, 20)
	for i, e := range entries {
		assert.Equal(t, string(rune('a'+i)), e.Details)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestAuditWriter_RetriesTransientFailures(t *testing.T) {
	// GIVEN: a store that fails the first two writes
	store := &fakeAuditLog{failFor: func(call int, _ LogEntry) error {
		if call < 3 {
			return errors.New("connection reset")
		}
		return nil
	}}
	metrics := &countingInstrumentation{}
	w := NewAuditWriter(store, 1, metrics)
	defer w.Close()

	// WHEN: one entry is appended
	w.Append(LogEntry{Details: "retry me"})
	require.NoError(t, w.Flush(context.Background()))

	// THEN: the third attempt lands it
	entries, calls := store.snapshot()
	assert.Len(t, entries, 1)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, metrics.ok)
}

func TestAuditWriter_GivesUpAfterThreeAttempts(t *testing.T) {
	// GIVEN: a store that always fails
	store := &fakeAuditLog{failFor: func(int, LogEntry) error { return errors.New("disk full") }}
	metrics := &countingInstrumentation{}
	w := NewAuditWriter(store, 1, metrics)

	// WHEN: an entry is appended and the writer drains
	w.Append(LogEntry{Details: "lost"})
	w.Close()

	// THEN: it is dropped after the last attempt and counted as failed
	entries, calls := store.snapshot()
	assert.Empty(t, entries)
	assert.Equal(t, maxAuditAttempts, calls)
	assert.Equal(t, 1, metrics.failed)
}

func TestAuditWriter_ScrubsVanishedCurrency(t *testing.T) {
	// GIVEN: a store that rejects references to the currency
	store := &fakeAuditLog{failFor: func(_ int, e LogEntry) error {
		if e.CurrencyID != nil {
			return ErrCurrencyNotFound
		}
		return nil
	}}
	w := NewAuditWriter(store, 1, nil)
	defer w.Close()

	// WHEN: an entry pointing at it is appended
	w.Append(LogEntry{CurrencyID: ptr(CurrencyID(5)), Metadata: map[string]string{"currency": "coins"}})
	require.NoError(t, w.Flush(context.Background()))

	// THEN: it is written without the reference, which moves to metadata
	entries, _ := store.snapshot()
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].CurrencyID)
	assert.Equal(t, "5", entries[0].Metadata["currency_id"])
	assert.Equal(t, "coins", entries[0].Metadata["currency"])
	assert.Equal(t, "true", entries[0].Metadata["currency_scrubbed"])
}

func TestAuditWriter_AppendAfterCloseWritesSynchronously(t *testing.T) {
	store := &fakeAuditLog{}
	// GIVEN: a closed writer
	w := NewAuditWriter(store, 1, nil)
	w.Close()

	// WHEN: an entry is appended
	w.Append(LogEntry{Details: "late"})
	require.NoError(t, w.Flush(context.Background()))

	// THEN: it is still written
	entries, _ := store.snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "late", entries[0].Details)
}

func TestAuditWriter_FlushHonoursContext(t *testing.T) {
	// GIVEN: a write that hangs
	block := make(chan struct{})
	store := &fakeAuditLog{failFor: func(int, LogEntry) error {
		<-block
		return nil
	}}
	w := NewAuditWriter(store, 1, nil)
	defer w.Close()
	defer close(block)

	// WHEN/THEN: Flush gives up at the caller's deadline
	w.Append(LogEntry{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Flush(ctx), context.DeadlineExceeded)
}
