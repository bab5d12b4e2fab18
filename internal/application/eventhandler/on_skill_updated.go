package eventhandler

import (
	"context"
	"log/slog"

	"github.com/tryouthub/learning-pipeline/internal/application/command"
	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
)

// OnSkillUpdatedHandler turns a fresh skill score into a recommendation.
type OnSkillUpdatedHandler struct {
	generate *command.GenerateRecommendationHandler
	logger   *slog.Logger
}

// NewOnSkillUpdatedHandler creates a new OnSkillUpdatedHandler.
func NewOnSkillUpdatedHandler(generate *command.GenerateRecommendationHandler, logger *slog.Logger) *OnSkillUpdatedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnSkillUpdatedHandler{
		generate: generate,
		logger:   logger.With("handler", "on_skill_updated"),
	}
}

// Handle implements shared.EventHandler.
func (h *OnSkillUpdatedHandler) Handle(ctx context.Context, event shared.Event) error {
	p, err := payloadAs[shared.SkillUpdatedPayload](event)
	if err != nil {
		return err
	}

	rec, err := h.generate.Handle(ctx, command.GenerateRecommendationCommand{
		UserID:     p.UserID,
		Topic:      p.Topic,
		SkillScore: p.SkillScore,
		Accuracy:   p.Accuracy,
	})
	if err != nil {
		return err
	}

	h.logger.Debug("recommendation stored",
		"event_id", event.ID,
		"user_id", rec.UserID,
		"topic", rec.Topic,
		"type", rec.Type,
	)
	return nil
}
