// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
package query

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tryouthub/learning-pipeline/internal/domain/eventlog"
	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT LOG QUERIES
// Inspection of the audit trail. A missing event_log table yields empty
// results instead of an error.
// ══════════════════════════════════════════════════════════════════════════════

// ListEventLogQuery filters the audit trail.
type ListEventLogQuery struct {
	// Limit defaults to 50 and is clamped to 1..1000.
	Limit int

	// Status filters by processed / failed (empty = any).
	Status string

	// EventType filters by event type (empty = any).
	EventType string
}

// Validate normalizes the query.
func (q *ListEventLogQuery) Validate() error {
	switch eventlog.Status(q.Status) {
	case "", eventlog.StatusProcessed, eventlog.StatusFailed:
	default:
		return shared.ValidationError("eventlog", "list", fmt.Sprintf("unknown status %q", q.Status))
	}
	q.Limit = eventlog.ClampLimit(q.Limit, eventlog.DefaultListLimit)
	return nil
}

// SummarizeEventLogQuery bounds the summary scan.
type SummarizeEventLogQuery struct {
	// Limit defaults to 500 and is clamped to 1..1000.
	Limit int
}

// EventLogHandler serves list and summarize.
type EventLogHandler struct {
	repo   eventlog.Repository
	logger *slog.Logger
}

// NewEventLogHandler creates a new EventLogHandler.
func NewEventLogHandler(repo eventlog.Repository, logger *slog.Logger) *EventLogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLogHandler{
		repo:   repo,
		logger: logger.With("query", "event_log"),
	}
}

// List returns the newest entries matching the query.
func (h *EventLogHandler) List(ctx context.Context, q ListEventLogQuery) ([]eventlog.Entry, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	entries, err := h.repo.List(ctx, eventlog.ListFilter{
		Limit:     q.Limit,
		Status:    eventlog.Status(q.Status),
		EventType: shared.EventType(q.EventType),
	})
	if err != nil {
		if shared.IsFeatureUnavailable(err) {
			h.logger.Debug("event log table not provisioned")
			return []eventlog.Entry{}, nil
		}
		return nil, fmt.Errorf("list event log: %w", err)
	}
	return entries, nil
}

// Summarize aggregates the latest entries per event type.
func (h *EventLogHandler) Summarize(ctx context.Context, q SummarizeEventLogQuery) (eventlog.Summary, error) {
	limit := eventlog.ClampLimit(q.Limit, eventlog.DefaultSummaryLimit)

	entries, err := h.repo.List(ctx, eventlog.ListFilter{Limit: limit})
	if err != nil {
		if shared.IsFeatureUnavailable(err) {
			h.logger.Debug("event log table not provisioned")
			return eventlog.Summarize(nil), nil
		}
		return eventlog.Summary{}, fmt.Errorf("summarize event log: %w", err)
	}
	return eventlog.Summarize(entries), nil
}
