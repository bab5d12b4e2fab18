package query

import (
	"context"
	"fmt"
	"time"

	"github.com/tryouthub/learning-pipeline/internal/domain/recommendation"
	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET RECOMMENDATIONS QUERY
// Active recommendation feed of a user: top 10 by priority, newest first
// within a priority.
// ══════════════════════════════════════════════════════════════════════════════

// GetRecommendationsQuery selects a user's feed.
type GetRecommendationsQuery struct {
	UserID string
}

// Validate validates the query.
func (q GetRecommendationsQuery) Validate() error {
	if q.UserID == "" {
		return shared.ValidationError("recommendation", "get_recommendations", "user_id is required")
	}
	return nil
}

// RecommendationDTO is the read model of a recommendation.
type RecommendationDTO struct {
	ID        string         `json:"id"`
	Topic     string         `json:"topic"`
	Type      string         `json:"type"`
	Reason    string         `json:"reason"`
	Priority  int            `json:"priority"`
	Source    string         `json:"source"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// GetRecommendationsHandler serves the recommendation feed.
type GetRecommendationsHandler struct {
	recs recommendation.Repository
}

// NewGetRecommendationsHandler creates a new GetRecommendationsHandler.
func NewGetRecommendationsHandler(recs recommendation.Repository) *GetRecommendationsHandler {
	return &GetRecommendationsHandler{recs: recs}
}

// Handle returns the feed. A user without recommendations gets an empty slice.
func (h *GetRecommendationsHandler) Handle(ctx context.Context, q GetRecommendationsQuery) ([]RecommendationDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	rows, err := h.recs.ListActive(ctx, q.UserID, recommendation.DefaultFeedSize)
	if err != nil {
		return nil, fmt.Errorf("get_recommendations: %w", err)
	}

	recommendation.SortFeed(rows)

	out := make([]RecommendationDTO, 0, len(rows))
	for _, r := range rows {
		out = append(out, RecommendationDTO{
			ID:        r.ID,
			Topic:     r.Topic.String(),
			Type:      string(r.Type),
			Reason:    r.Reason,
			Priority:  r.Priority,
			Source:    string(r.Source),
			Metadata:  r.Metadata,
			CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}
