package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tryouthub/learning-pipeline/internal/domain/eventlog"
	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
	"github.com/tryouthub/learning-pipeline/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT AUDIT LOG
// Best-effort append of handler outcomes. A missing event_log table is a
// configuration state, not an error.
// ══════════════════════════════════════════════════════════════════════════════

// AuditLog appends audit entries. It satisfies messaging.AuditSink.
type AuditLog struct {
	repo    eventlog.Repository
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
}

// AuditLogOption configures an AuditLog.
type AuditLogOption func(*AuditLog)

// WithBreaker routes appends through cb. While the circuit is open entries
// are dropped without touching the repository.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) AuditLogOption {
	return func(a *AuditLog) {
		a.breaker = cb
	}
}

// NewAuditLog creates a new AuditLog.
func NewAuditLog(repo eventlog.Repository, logger *slog.Logger, opts ...AuditLogOption) *AuditLog {
	if logger == nil {
		logger = slog.Default()
	}
	a := &AuditLog{
		repo:   repo,
		logger: logger.With("component", "audit_log"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Append stores the entry. shared.ErrFeatureUnavailable is swallowed; any
// other error is returned.
func (a *AuditLog) Append(ctx context.Context, entry eventlog.Entry) error {
	var err error
	if a.breaker != nil {
		err = a.breaker.Execute(ctx, func(ctx context.Context) error {
			return a.append(ctx, entry)
		})
	} else {
		err = a.append(ctx, entry)
	}
	if err == nil {
		return nil
	}

	if circuitbreaker.IsRejected(err) {
		return fmt.Errorf("audit_log: entry dropped: %w", err)
	}
	return fmt.Errorf("audit_log: append: %w", err)
}

// append writes one entry. A missing table counts as success so that it
// never trips the breaker.
func (a *AuditLog) append(ctx context.Context, entry eventlog.Entry) error {
	err := a.repo.Append(ctx, entry)
	if err == nil || !shared.IsFeatureUnavailable(err) {
		return err
	}

	a.logger.Debug("audit table not provisioned, entry skipped",
		"table", shared.UnavailableTable(err),
		"event_type", entry.EventType,
		"handler", entry.Handler,
	)
	return nil
}
