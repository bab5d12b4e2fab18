// Package eventlog models the append-only audit trail of handler executions.
package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
)

// Status of a handler execution.
type Status string

const (
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

// Scan bounds for list and summarize.
const (
	MinLimit            = 1
	MaxLimit            = 1000
	DefaultListLimit    = 50
	DefaultSummaryLimit = 500
)

// Entry is one audit row.
type Entry struct {
	ID           int64
	EventID      string
	EventType    shared.EventType
	AggregateID  string
	Handler      string
	Status       Status
	ErrorMessage string
	Payload      json.RawMessage
	CreatedAt    time.Time
}

// NewEntry records the outcome of running handler on event.
func NewEntry(event shared.Event, handler string, err error, now time.Time) Entry {
	entry := Entry{
		EventID:     event.ID,
		EventType:   event.Type,
		AggregateID: event.AggregateID,
		Handler:     handler,
		Status:      StatusProcessed,
		CreatedAt:   now,
	}

	if raw, mErr := json.Marshal(event.Payload); mErr == nil {
		entry.Payload = raw
	}

	if err != nil {
		entry.Status = StatusFailed
		entry.ErrorMessage = err.Error()
	}

	return entry
}

// ListFilter narrows List.
type ListFilter struct {
	Limit     int
	Status    Status
	EventType shared.EventType
}

// ClampLimit bounds a requested limit to [MinLimit, MaxLimit], substituting
// def for non-positive values.
func ClampLimit(limit, def int) int {
	if limit <= 0 {
		limit = def
	}
	if limit < MinLimit {
		return MinLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Repository stores audit entries (table event_log).
type Repository interface {
	// Append inserts one entry. An unprovisioned table yields
	// shared.ErrFeatureUnavailable.
	Append(ctx context.Context, entry Entry) error

	// List returns the newest entries matching filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]Entry, error)
}
