// Package jobs contains the scheduled jobs of the learning pipeline.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tryouthub/learning-pipeline/internal/application/query"
	"github.com/tryouthub/learning-pipeline/internal/domain/eventlog"
	"github.com/tryouthub/learning-pipeline/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUDIT DIGEST JOB
// Periodically summarizes the recent audit trail, logs per-type failure
// counts and exports them as gauges.
// ══════════════════════════════════════════════════════════════════════════════

// AuditSummarizer aggregates the audit trail.
type AuditSummarizer interface {
	Summarize(ctx context.Context, q query.SummarizeEventLogQuery) (eventlog.Summary, error)
}

// DigestRecorder receives each digest, typically a metrics sink.
type DigestRecorder interface {
	RecordAuditDigest(summary eventlog.Summary)
}

// AuditDigestConfig contains configuration for the audit digest job.
type AuditDigestConfig struct {
	// Limit is the number of latest entries scanned (clamped to 1..1000).
	Limit int
}

// DefaultAuditDigestConfig returns sensible defaults.
func DefaultAuditDigestConfig() AuditDigestConfig {
	return AuditDigestConfig{Limit: eventlog.DefaultSummaryLimit}
}

// AuditDigestJob implements scheduler.Job.
type AuditDigestJob struct {
	summarizer AuditSummarizer
	recorder   DigestRecorder
	config     AuditDigestConfig
	logger     *slog.Logger

	lastRun atomic.Pointer[AuditDigestStats]
}

// AuditDigestStats describes the last digest.
type AuditDigestStats struct {
	RanAt       time.Time
	Scanned     int
	Failed      int
	FailedTypes int
}

// NewAuditDigestJob creates the job. recorder may be nil.
func NewAuditDigestJob(summarizer AuditSummarizer, recorder DigestRecorder, config AuditDigestConfig, log *slog.Logger) *AuditDigestJob {
	if log == nil {
		log = slog.Default()
	}
	return &AuditDigestJob{
		summarizer: summarizer,
		recorder:   recorder,
		config:     config,
		logger:     log.With(logger.Component("audit_digest")),
	}
}

// Name implements scheduler.Job.
func (j *AuditDigestJob) Name() string { return "audit_digest" }

// Description implements scheduler.Job.
func (j *AuditDigestJob) Description() string {
	return "Summarizes recent audit log entries and exports failure gauges"
}

// Run implements scheduler.Job.
func (j *AuditDigestJob) Run(ctx context.Context) error {
	summary, err := j.summarizer.Summarize(ctx, query.SummarizeEventLogQuery{Limit: j.config.Limit})
	if err != nil {
		return fmt.Errorf("audit digest: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordAuditDigest(summary)
	}

	stats := &AuditDigestStats{RanAt: time.Now(), Scanned: summary.Scanned}
	for _, tc := range summary.ByType {
		if tc.Failed == 0 {
			continue
		}
		stats.Failed += tc.Failed
		stats.FailedTypes++

		attrs := []any{
			logger.EventType(string(tc.EventType)),
			"processed", tc.Processed,
			"failed", tc.Failed,
		}
		if tc.LastFailure != nil {
			attrs = append(attrs,
				"last_handler", tc.LastFailure.Handler,
				"last_error", tc.LastFailure.ErrorMessage,
				"last_failed_at", tc.LastFailure.At.Format(time.RFC3339),
			)
		}
		j.logger.Warn("audit digest: failures", attrs...)
	}
	j.lastRun.Store(stats)

	j.logger.Info("audit digest",
		"scanned", summary.Scanned,
		"event_types", len(summary.ByType),
		"failed", stats.Failed,
	)

	return nil
}

// LastRun returns the stats of the latest successful run, or nil.
func (j *AuditDigestJob) LastRun() *AuditDigestStats {
	return j.lastRun.Load()
}
