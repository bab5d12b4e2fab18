package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tryouthub/learning-pipeline/internal/domain/recommendation"
	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GENERATE RECOMMENDATION COMMAND
// Classifies a freshly scored topic into practice / review / challenge and
// appends a new recommendation row. History is never updated in place.
// ══════════════════════════════════════════════════════════════════════════════

// GenerateRecommendationCommand carries the skill engine output for one topic.
type GenerateRecommendationCommand struct {
	UserID     string
	Topic      string
	SkillScore float64

	// Accuracy is the accuracy percentage (0..100).
	Accuracy float64
}

// Validate validates the command.
func (c GenerateRecommendationCommand) Validate() error {
	switch {
	case c.UserID == "":
		return shared.ValidationError("recommendation", "generate", "user_id is required")
	case shared.NewTopic(c.Topic).IsEmpty():
		return shared.ValidationError("recommendation", "generate", "topic is required")
	}
	return nil
}

// GenerateRecommendationHandler handles the GenerateRecommendationCommand.
type GenerateRecommendationHandler struct {
	recs   recommendation.Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewGenerateRecommendationHandler creates a new GenerateRecommendationHandler.
func NewGenerateRecommendationHandler(recs recommendation.Repository, logger *slog.Logger) *GenerateRecommendationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerateRecommendationHandler{
		recs:   recs,
		logger: logger.With("command", "generate_recommendation"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Handle executes the command and returns the inserted row.
func (h *GenerateRecommendationHandler) Handle(ctx context.Context, cmd GenerateRecommendationCommand) (*recommendation.Recommendation, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	score := shared.Clamp(cmd.SkillScore, 0, 100)
	rec := recommendation.ForSkill(cmd.UserID, shared.NewTopic(cmd.Topic), score, cmd.Accuracy, h.now())

	if err := h.recs.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("generate_recommendation: insert: %w", err)
	}

	h.logger.Debug("recommendation generated",
		"user_id", rec.UserID,
		"topic", rec.Topic,
		"type", rec.Type,
		"priority", rec.Priority,
	)

	return rec, nil
}
