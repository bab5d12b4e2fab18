package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tryouthub/learning-pipeline/internal/domain/retention"
	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
)

const (
	tableTryoutAttempts   = "tryout_attempts"
	tableAttemptAnswers   = "attempt_answers"
	tableUserProgress     = "user_progress"
	tableTopicMastery     = "topic_mastery"
	tableUserXP           = "user_xp"
	tableUserStreaks      = "user_streaks"
	tableUserBadges       = "user_badges"
	tableAnalyticsSummary = "analytics_summary"
)

// ══════════════════════════════════════════════════════════════════════════════
// HISTORY READER
// ══════════════════════════════════════════════════════════════════════════════

// HistoryReader implements retention.HistoryReader over the platform's
// tryout_attempts and attempt_answers tables.
type HistoryReader struct {
	conn Querier
}

// NewHistoryReader creates a new HistoryReader.
func NewHistoryReader(conn Querier) *HistoryReader {
	return &HistoryReader{conn: conn}
}

// CompletedAttempts returns completed attempts ordered by completion time.
func (r *HistoryReader) CompletedAttempts(ctx context.Context, userID string) ([]retention.Attempt, error) {
	query := `
		SELECT id, user_id, COALESCE(score, 0), COALESCE(passed, false), completed_at
		FROM tryout_attempts
		WHERE user_id = $1 AND status = 'completed' AND completed_at IS NOT NULL
		ORDER BY completed_at ASC, id ASC
	`

	rows, err := r.conn.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load attempts: %w", classify(tableTryoutAttempts, err))
	}

	attempts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (retention.Attempt, error) {
		var a retention.Attempt
		err := row.Scan(&a.ID, &a.UserID, &a.Score, &a.Passed, &a.CompletedAt)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan attempts: %w", err)
	}

	return attempts, nil
}

// StartedAttemptCount counts every attempt the user opened.
func (r *HistoryReader) StartedAttemptCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.conn.QueryRow(ctx, "SELECT COUNT(*) FROM tryout_attempts WHERE user_id = $1", userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", classify(tableTryoutAttempts, err))
	}
	return count, nil
}

// TopicStats returns per-topic correctness from the answers of completed
// attempts.
func (r *HistoryReader) TopicStats(ctx context.Context, userID string) ([]retention.TopicStat, error) {
	query := `
		SELECT UPPER(TRIM(a.topic)) AS topic,
		       COUNT(*) FILTER (WHERE a.is_correct) AS correct,
		       COUNT(*) AS total
		FROM attempt_answers a
		JOIN tryout_attempts t ON t.id = a.attempt_id
		WHERE t.user_id = $1
		  AND t.status = 'completed' AND t.completed_at IS NOT NULL
		  AND a.topic IS NOT NULL AND TRIM(a.topic) <> ''
		GROUP BY 1
		ORDER BY 1
	`

	rows, err := r.conn.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load topic stats: %w", classify(tableAttemptAnswers, err))
	}

	stats, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (retention.TopicStat, error) {
		var (
			s     retention.TopicStat
			topic string
		)
		err := row.Scan(&topic, &s.Correct, &s.Total)
		s.Topic = shared.Topic(topic)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan topic stats: %w", err)
	}

	return stats, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements retention.ProgressRepository.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

// UpsertProgress writes the user_progress row.
func (r *ProgressRepository) UpsertProgress(ctx context.Context, p retention.UserProgress) error {
	query := `
		INSERT INTO user_progress (
			user_id, latest_score, last_attempt_id, completed_attempts,
			started_attempts, completion_pct, updated_at
		) VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			latest_score       = EXCLUDED.latest_score,
			last_attempt_id    = EXCLUDED.last_attempt_id,
			completed_attempts = EXCLUDED.completed_attempts,
			started_attempts   = EXCLUDED.started_attempts,
			completion_pct     = EXCLUDED.completion_pct,
			updated_at         = EXCLUDED.updated_at
	`

	_, err := r.conn.Exec(ctx, query,
		p.UserID,
		p.LatestScore,
		p.LastAttemptID,
		p.CompletedAttempts,
		p.StartedAttempts,
		p.CompletionPct,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert progress: %w", classify(tableUserProgress, err))
	}

	return nil
}

// UpsertMastery writes all mastery rows of one run in a single transaction.
func (r *ProgressRepository) UpsertMastery(ctx context.Context, rows []retention.TopicMastery) error {
	if len(rows) == 0 {
		return nil
	}

	query := `
		INSERT INTO topic_mastery (
			user_id, topic, accuracy_pct, correct_count, total_count, mastery_level, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, topic) DO UPDATE SET
			accuracy_pct  = EXCLUDED.accuracy_pct,
			correct_count = EXCLUDED.correct_count,
			total_count   = EXCLUDED.total_count,
			mastery_level = EXCLUDED.mastery_level,
			updated_at    = EXCLUDED.updated_at
	`

	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, m := range rows {
			batch.Queue(query,
				m.UserID,
				string(m.Topic),
				m.AccuracyPct,
				m.Correct,
				m.Total,
				string(m.Level),
				m.UpdatedAt,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("failed to upsert topic mastery: %w", classify(tableTopicMastery, err))
	}

	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GAMIFICATION REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// GamificationRepository implements retention.GamificationRepository.
type GamificationRepository struct {
	conn Querier
}

// NewGamificationRepository creates a new GamificationRepository.
func NewGamificationRepository(conn Querier) *GamificationRepository {
	return &GamificationRepository{conn: conn}
}

// GetXP returns the XP row, or a zero record.
func (r *GamificationRepository) GetXP(ctx context.Context, userID string) (retention.XPRecord, error) {
	rec := retention.XPRecord{UserID: userID}

	err := r.conn.QueryRow(ctx,
		"SELECT total_xp, level, updated_at FROM user_xp WHERE user_id = $1", userID,
	).Scan(&rec.TotalXP, &rec.Level, &rec.UpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			return rec, nil
		}
		return rec, fmt.Errorf("failed to get xp: %w", classify(tableUserXP, err))
	}

	return rec, nil
}

// UpsertXP writes the XP row.
func (r *GamificationRepository) UpsertXP(ctx context.Context, rec retention.XPRecord) error {
	query := `
		INSERT INTO user_xp (user_id, total_xp, level, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			total_xp   = EXCLUDED.total_xp,
			level      = EXCLUDED.level,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := r.conn.Exec(ctx, query, rec.UserID, rec.TotalXP, rec.Level, rec.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert xp: %w", classify(tableUserXP, err))
	}

	return nil
}

// GetStreak returns the streak row, or a zero record.
func (r *GamificationRepository) GetStreak(ctx context.Context, userID string) (retention.StreakRecord, error) {
	rec := retention.StreakRecord{UserID: userID}

	err := r.conn.QueryRow(ctx, `
		SELECT current_streak, longest_streak, last_activity_at, updated_at
		FROM user_streaks WHERE user_id = $1
	`, userID).Scan(&rec.CurrentStreak, &rec.LongestStreak, &rec.LastActivityAt, &rec.UpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			return rec, nil
		}
		return rec, fmt.Errorf("failed to get streak: %w", classify(tableUserStreaks, err))
	}

	return rec, nil
}

// UpsertStreak writes the streak row.
func (r *GamificationRepository) UpsertStreak(ctx context.Context, rec retention.StreakRecord) error {
	query := `
		INSERT INTO user_streaks (user_id, current_streak, longest_streak, last_activity_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			current_streak   = EXCLUDED.current_streak,
			longest_streak   = EXCLUDED.longest_streak,
			last_activity_at = EXCLUDED.last_activity_at,
			updated_at       = EXCLUDED.updated_at
	`

	_, err := r.conn.Exec(ctx, query,
		rec.UserID,
		rec.CurrentStreak,
		rec.LongestStreak,
		rec.LastActivityAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert streak: %w", classify(tableUserStreaks, err))
	}

	return nil
}

// InsertBadge stores the badge unless it exists.
func (r *GamificationRepository) InsertBadge(ctx context.Context, b retention.Badge) (bool, error) {
	query := `
		INSERT INTO user_badges (user_id, badge_code, unlocked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, badge_code) DO NOTHING
	`

	tag, err := r.conn.Exec(ctx, query, b.UserID, string(b.Code), b.UnlockedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert badge: %w", classify(tableUserBadges, err))
	}

	return tag.RowsAffected() > 0, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SUMMARY REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// SummaryRepository implements retention.SummaryRepository.
type SummaryRepository struct {
	conn Querier
}

// NewSummaryRepository creates a new SummaryRepository.
func NewSummaryRepository(conn Querier) *SummaryRepository {
	return &SummaryRepository{conn: conn}
}

// InsertSummary appends an analytics_summary row.
func (r *SummaryRepository) InsertSummary(ctx context.Context, s retention.AnalyticsSummary) error {
	snapshot, err := json.Marshal(s.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	query := `
		INSERT INTO analytics_summary (
			id, user_id, attempt_id, average_score, trend_score, pass_rate,
			strongest_topic, weakest_topic, prediction_pass_probability,
			prediction_label, snapshot, created_at
		) VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11, $12)
	`

	_, err = r.conn.Exec(ctx, query,
		s.ID,
		s.UserID,
		s.AttemptID,
		s.AverageScore,
		s.TrendScore,
		s.PassRate,
		s.StrongestTopic,
		s.WeakestTopic,
		s.PredictionPassProbability,
		string(s.PredictionLabel),
		snapshot,
		s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert analytics summary: %w", classify(tableAnalyticsSummary, err))
	}

	return nil
}

var (
	_ retention.HistoryReader          = (*HistoryReader)(nil)
	_ retention.ProgressRepository     = (*ProgressRepository)(nil)
	_ retention.GamificationRepository = (*GamificationRepository)(nil)
	_ retention.SummaryRepository      = (*SummaryRepository)(nil)
)
