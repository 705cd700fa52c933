// Package usagelog is the append-only record of every pipeline invocation
// and the read-side aggregation over it.
//
// Entries flow through a non-blocking batched Writer into a Store. Two
// stores exist: ClickHouse for analytics-grade deployments and a relational
// store sharing the gateway database. Entries are immutable once written;
// nothing in this package updates or deletes.
package usagelog

import (
	"context"
	"time"
)

// Status values for an entry.
const (
	StatusOK  = "OK"
	StatusErr = "ERR"
)

// Error kinds recorded on failed invocations.
const (
	ErrKindBackend   = "BackendError"
	ErrKindTransport = "TransportError"
	ErrKindInternal  = "InternalError"
)

// TruncateLimit caps the persisted input and output/error text, in
// characters. The log exists for observability, not to reconstruct exact
// request/response content.
const TruncateLimit = 5000

// Entry is one pipeline invocation outcome.
type Entry struct {
	ID           string
	OwnerID      string
	CredentialID string // empty for session-token calls
	ModelName    string
	Fingerprint  string
	Input        string // truncated
	Output       string // truncated output or error message
	LatencyMs    int64
	CacheHit     bool
	Status       string
	ErrorKind    string
	CreatedAt    time.Time
}

// DailyStat is one day's aggregate for an owner (optionally scoped to a
// credential). Days with zero entries are absent from results; callers
// handle sparse series.
type DailyStat struct {
	Day          time.Time `json:"day"`
	Total        int64     `json:"total"`
	AvgLatencyMs float64   `json:"avgLatencyMs"`
	CacheRatio   float64   `json:"cacheRatio"`
}

// Store persists entries and answers aggregation queries.
type Store interface {
	// Insert appends a batch of entries.
	Insert(ctx context.Context, entries []Entry) error

	// AggregateDaily returns per-day totals for ownerID over the last
	// `days` calendar days, chronologically. credentialID narrows to one
	// credential when non-empty.
	AggregateDaily(ctx context.Context, ownerID, credentialID string, days int) ([]DailyStat, error)

	Close() error
}

// Truncate caps s at TruncateLimit characters.
func Truncate(s string) string {
	if len(s) <= TruncateLimit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= TruncateLimit {
		return s
	}
	return string(runes[:TruncateLimit])
}
