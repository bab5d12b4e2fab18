package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tryouthub/learning-pipeline/internal/domain/recommendation"
	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
)

const tableRecommendations = "recommendations"

// RecommendationRepository implements recommendation.Repository for PostgreSQL.
type RecommendationRepository struct {
	conn Querier
}

// NewRecommendationRepository creates a new RecommendationRepository.
func NewRecommendationRepository(conn Querier) *RecommendationRepository {
	return &RecommendationRepository{conn: conn}
}

// Insert appends a recommendation row.
func (r *RecommendationRepository) Insert(ctx context.Context, rec *recommendation.Recommendation) error {
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO recommendations (
			id, user_id, topic, type, reason, priority, status, source, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.conn.Exec(ctx, query,
		rec.ID,
		rec.UserID,
		string(rec.Topic),
		string(rec.Type),
		rec.Reason,
		rec.Priority,
		string(rec.Status),
		string(rec.Source),
		metadata,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert recommendation: %w", classify(tableRecommendations, err))
	}

	return nil
}

// ListActive returns up to limit active rows ordered by priority then recency.
func (r *RecommendationRepository) ListActive(ctx context.Context, userID string, limit int) ([]*recommendation.Recommendation, error) {
	if limit <= 0 {
		limit = recommendation.DefaultFeedSize
	}

	query := `
		SELECT id, user_id, topic, type, reason, priority, status, source, metadata, created_at
		FROM recommendations
		WHERE user_id = $1 AND status = $2
		ORDER BY priority DESC, created_at DESC
		LIMIT $3
	`

	rows, err := r.conn.Query(ctx, query, userID, string(recommendation.StatusActive), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recommendations: %w", classify(tableRecommendations, err))
	}
	defer rows.Close()

	recs := make([]*recommendation.Recommendation, 0, limit)
	for rows.Next() {
		var (
			rec                        recommendation.Recommendation
			topic, typ, status, source string
			metadata                   []byte
		)

		err := rows.Scan(
			&rec.ID,
			&rec.UserID,
			&topic,
			&typ,
			&rec.Reason,
			&rec.Priority,
			&status,
			&source,
			&metadata,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recommendation: %w", err)
		}

		rec.Topic = shared.Topic(topic)
		rec.Type = recommendation.Type(typ)
		rec.Status = recommendation.Status(status)
		rec.Source = recommendation.Source(source)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}

		recs = append(recs, &rec)
	}

	return recs, rows.Err()
}

// DeactivateBySource marks the user's active rows from source inactive.
func (r *RecommendationRepository) DeactivateBySource(ctx context.Context, userID string, source recommendation.Source) (int, error) {
	query := `
		UPDATE recommendations
		SET status = $1
		WHERE user_id = $2 AND source = $3 AND status = $4
	`

	tag, err := r.conn.Exec(ctx, query,
		string(recommendation.StatusInactive),
		userID,
		string(source),
		string(recommendation.StatusActive),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate recommendations: %w", classify(tableRecommendations, err))
	}

	return int(tag.RowsAffected()), nil
}

var _ recommendation.Repository = (*RecommendationRepository)(nil)
