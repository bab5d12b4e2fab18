package retention

import (
	"context"
	"time"
)

// UserProgress is the per-user progress row (table user_progress).
type UserProgress struct {
	UserID            string
	LatestScore       float64
	LastAttemptID     string
	CompletedAttempts int
	StartedAttempts   int
	CompletionPct     float64
	UpdatedAt         time.Time
}

// SnapshotRecommendation is the trimmed recommendation embedded in a snapshot.
type SnapshotRecommendation struct {
	Topic    string `json:"topic"`
	Type     string `json:"type"`
	Priority int    `json:"priority"`
	Reason   string `json:"reason"`
}

// Snapshot is embedded in each analytics summary for audit and debugging.
type Snapshot struct {
	Recommendations []SnapshotRecommendation `json:"recommendations"`
	Mastery         []TopicMastery           `json:"topic_mastery"`
	Gamification    GamificationDelta        `json:"gamification"`
	Prediction      Prediction               `json:"prediction"`
	SkippedTables   []string                 `json:"skipped_tables,omitempty"`
}

// AnalyticsSummary is one row per retention run (table analytics_summary).
type AnalyticsSummary struct {
	ID        string
	UserID    string
	AttemptID string
	Analytics
	PredictionPassProbability float64
	PredictionLabel           PredictionLabel
	Snapshot                  Snapshot
	CreatedAt                 time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence. Optional tables report
// shared.ErrFeatureUnavailable when they are not provisioned.
// ══════════════════════════════════════════════════════════════════════════════

// HistoryReader reads the platform's attempt and answer history.
type HistoryReader interface {
	// CompletedAttempts returns completed attempts ordered by completion time.
	CompletedAttempts(ctx context.Context, userID string) ([]Attempt, error)

	// StartedAttemptCount counts every attempt the user opened.
	StartedAttemptCount(ctx context.Context, userID string) (int, error)

	// TopicStats returns per-topic correctness from the answers of completed
	// attempts only.
	TopicStats(ctx context.Context, userID string) ([]TopicStat, error)
}

// ProgressRepository stores user_progress and topic_mastery rows.
type ProgressRepository interface {
	UpsertProgress(ctx context.Context, p UserProgress) error
	UpsertMastery(ctx context.Context, rows []TopicMastery) error
}

// GamificationRepository stores user_xp, user_streaks and user_badges rows.
type GamificationRepository interface {
	// GetXP returns the XP row, or a zero record with the user id set.
	GetXP(ctx context.Context, userID string) (XPRecord, error)
	UpsertXP(ctx context.Context, r XPRecord) error

	// GetStreak returns the streak row, or a zero record with the user id set.
	GetStreak(ctx context.Context, userID string) (StreakRecord, error)
	UpsertStreak(ctx context.Context, r StreakRecord) error

	// InsertBadge stores the badge unless (user, code) exists and reports
	// whether a row was inserted.
	InsertBadge(ctx context.Context, b Badge) (bool, error)
}

// SummaryRepository appends analytics_summary rows.
type SummaryRepository interface {
	InsertSummary(ctx context.Context, s AnalyticsSummary) error
}
