package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/tryouthub/learning-pipeline/internal/domain/eventlog"
	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
)

const tableEventLog = "event_log"

// EventLogRepository implements eventlog.Repository for PostgreSQL.
type EventLogRepository struct {
	conn Querier
}

// NewEventLogRepository creates a new EventLogRepository.
func NewEventLogRepository(conn Querier) *EventLogRepository {
	return &EventLogRepository{conn: conn}
}

// Append inserts one audit row.
func (r *EventLogRepository) Append(ctx context.Context, e eventlog.Entry) error {
	query := `
		INSERT INTO event_log (
			event_id, event_type, aggregate_id, handler, status, error_message, payload, created_at
		) VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), $7, $8)
	`

	var payload any
	if len(e.Payload) > 0 {
		payload = []byte(e.Payload)
	}

	_, err := r.conn.Exec(ctx, query,
		e.EventID,
		string(e.EventType),
		e.AggregateID,
		e.Handler,
		string(e.Status),
		e.ErrorMessage,
		payload,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append event log: %w", classify(tableEventLog, err))
	}

	return nil
}

// List returns the newest rows matching filter.
func (r *EventLogRepository) List(ctx context.Context, f eventlog.ListFilter) ([]eventlog.Entry, error) {
	limit := eventlog.ClampLimit(f.Limit, eventlog.DefaultListLimit)

	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.EventType != "" {
		args = append(args, string(f.EventType))
		conds = append(conds, fmt.Sprintf("event_type = $%d", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT id, event_id, event_type, COALESCE(aggregate_id, ''), handler, status,
		       COALESCE(error_message, ''), payload, created_at
		FROM event_log
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d
	`, where, len(args))

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list event log: %w", classify(tableEventLog, err))
	}
	defer rows.Close()

	entries := make([]eventlog.Entry, 0, limit)
	for rows.Next() {
		var (
			e         eventlog.Entry
			eventType string
			status    string
			payload   []byte
		)

		err := rows.Scan(
			&e.ID,
			&e.EventID,
			&eventType,
			&e.AggregateID,
			&e.Handler,
			&status,
			&e.ErrorMessage,
			&payload,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event log: %w", err)
		}

		e.EventType = shared.EventType(eventType)
		e.Status = eventlog.Status(status)
		e.Payload = payload
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

var _ eventlog.Repository = (*EventLogRepository)(nil)
