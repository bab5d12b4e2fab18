package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
	"github.com/tryouthub/learning-pipeline/internal/domain/skill"
)

const (
	tableUserSkills       = "user_skills"
	tableTopicPerformance = "topic_performance"
)

// ══════════════════════════════════════════════════════════════════════════════
// SKILL REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// SkillRepository implements skill.Repository for PostgreSQL.
type SkillRepository struct {
	conn Querier
}

// NewSkillRepository creates a new SkillRepository.
func NewSkillRepository(conn Querier) *SkillRepository {
	return &SkillRepository{conn: conn}
}

// Get returns the record for (user, topic).
func (r *SkillRepository) Get(ctx context.Context, userID string, topic shared.Topic) (*skill.Record, error) {
	query := `
		SELECT user_id, topic, skill_score, accuracy, avg_time_ms,
		       total_answered, confidence, updated_at
		FROM user_skills
		WHERE user_id = $1 AND topic = $2
	`

	rec, err := scanSkill(r.conn.QueryRow(ctx, query, userID, string(topic)))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get skill: %w", classify(tableUserSkills, err))
	}

	return rec, nil
}

// Upsert inserts or replaces the record for (user, topic).
func (r *SkillRepository) Upsert(ctx context.Context, rec *skill.Record) error {
	query := `
		INSERT INTO user_skills (
			user_id, topic, skill_score, accuracy, avg_time_ms,
			total_answered, confidence, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, topic) DO UPDATE SET
			skill_score    = EXCLUDED.skill_score,
			accuracy       = EXCLUDED.accuracy,
			avg_time_ms    = EXCLUDED.avg_time_ms,
			total_answered = EXCLUDED.total_answered,
			confidence     = EXCLUDED.confidence,
			updated_at     = EXCLUDED.updated_at
	`

	_, err := r.conn.Exec(ctx, query,
		rec.UserID,
		string(rec.Topic),
		rec.SkillScore,
		rec.Accuracy,
		rec.AvgTimeMs,
		rec.TotalAnswered,
		rec.Confidence,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert skill: %w", classify(tableUserSkills, err))
	}

	return nil
}

// ListByUser returns every record of a user ordered by skill score ascending.
func (r *SkillRepository) ListByUser(ctx context.Context, userID string) ([]*skill.Record, error) {
	query := `
		SELECT user_id, topic, skill_score, accuracy, avg_time_ms,
		       total_answered, confidence, updated_at
		FROM user_skills
		WHERE user_id = $1
		ORDER BY skill_score ASC, topic ASC
	`

	rows, err := r.conn.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list skills: %w", classify(tableUserSkills, err))
	}
	defer rows.Close()

	records := make([]*skill.Record, 0)
	for rows.Next() {
		rec, err := scanSkill(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan skill: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

func scanSkill(row pgx.Row) (*skill.Record, error) {
	var (
		rec   skill.Record
		topic string
	)

	err := row.Scan(
		&rec.UserID,
		&topic,
		&rec.SkillScore,
		&rec.Accuracy,
		&rec.AvgTimeMs,
		&rec.TotalAnswered,
		&rec.Confidence,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Topic = shared.Topic(topic)
	return &rec, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TOPIC PERFORMANCE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// PerformanceRepository implements skill.PerformanceRepository for PostgreSQL.
type PerformanceRepository struct {
	conn Querier
}

// NewPerformanceRepository creates a new PerformanceRepository.
func NewPerformanceRepository(conn Querier) *PerformanceRepository {
	return &PerformanceRepository{conn: conn}
}

// Increment adds one answer to the (user, topic) counter.
func (r *PerformanceRepository) Increment(ctx context.Context, userID string, topic shared.Topic, correct bool, at time.Time) error {
	correctDelta := 0
	if correct {
		correctDelta = 1
	}

	query := `
		INSERT INTO topic_performance (user_id, topic, correct_count, total_count, last_answered_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (user_id, topic) DO UPDATE SET
			correct_count    = topic_performance.correct_count + EXCLUDED.correct_count,
			total_count      = topic_performance.total_count + 1,
			last_answered_at = GREATEST(topic_performance.last_answered_at, EXCLUDED.last_answered_at)
	`

	_, err := r.conn.Exec(ctx, query, userID, string(topic), correctDelta, at)
	if err != nil {
		return fmt.Errorf("failed to increment topic performance: %w", classify(tableTopicPerformance, err))
	}

	return nil
}

var (
	_ skill.Repository            = (*SkillRepository)(nil)
	_ skill.PerformanceRepository = (*PerformanceRepository)(nil)
)
