package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"SignalBridge/internal/domain/models"
)

// RecordStore is a remote key-addressed JSON document store.
type RecordStore interface {
	// Get returns the raw document at path, or nil when the path holds nothing.
	Get(ctx context.Context, path string) (json.RawMessage, error)
	// Put creates or overwrites the document at path.
	Put(ctx context.Context, path string, doc interface{}) error
	// Patch merges the given fields into the document at path.
	Patch(ctx context.Context, path string, fields interface{}) error
}

// ErrSlotCorrupt is returned once by the single-slot store when its file cannot
// be decoded. The unreadable file is moved aside so the slot reads as empty afterwards.
var ErrSlotCorrupt = errors.New("pending slot file is corrupt")

// PendingStore tracks signals awaiting settlement.
type PendingStore interface {
	// Put registers an entry. Set-backed stores add, the single slot overwrites.
	Put(ctx context.Context, e models.PendingEntry) error
	// Due returns the entries eligible for a settlement attempt at now,
	// ordered by due time.
	Due(ctx context.Context, now time.Time) ([]models.PendingEntry, error)
	// Update replaces an existing entry; it is a no-op if the entry is gone.
	Update(ctx context.Context, e models.PendingEntry) error
	// Remove deletes the entry for signalID only if it is still present.
	Remove(ctx context.Context, signalID string) error
	// List returns every tracked entry, failed ones included.
	List(ctx context.Context) ([]models.PendingEntry, error)
	Close() error
}

// EventSink receives signal lifecycle events.
type EventSink interface {
	Publish(ctx context.Context, ev models.SignalEvent) error
	Close() error
}

// IntervalStore persists the sampling interval chosen by the operator.
type IntervalStore interface {
	Get() (string, error)
	Set(interval string) error
}

// RequestLogEntry mirrors one line of the local request log.
type RequestLogEntry struct {
	Timestamp string `json:"timestamp"`
	IP        string `json:"ip"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Status    int    `json:"status"`
}

// RequestLog is a bounded local log of handled requests and outbound patches.
type RequestLog interface {
	Append(e RequestLogEntry) error
	Read() ([]RequestLogEntry, error)
}

type Metrics interface {
	RecordSignalCreated(symbol, decision string)
	RecordSettlement(result string)
	RecordPending(n int)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
