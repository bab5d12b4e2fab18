package eventhandler

import (
	"context"
	"log/slog"

	"github.com/tryouthub/learning-pipeline/internal/application/command"
	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON QUESTION ATTEMPTED
// Skill scoring for the answered topic, then skill.updated for the
// recommendation engine. A peer subscriber keeps topic_performance counters.
// ═══════════════════════════════════════════════════════════════════════════

// OnQuestionAttemptedHandler runs the skill scoring engine.
type OnQuestionAttemptedHandler struct {
	updateSkill *command.UpdateSkillHandler
	publisher   shared.EventPublisher
	logger      *slog.Logger
}

// NewOnQuestionAttemptedHandler creates a new OnQuestionAttemptedHandler.
func NewOnQuestionAttemptedHandler(
	updateSkill *command.UpdateSkillHandler,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *OnQuestionAttemptedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnQuestionAttemptedHandler{
		updateSkill: updateSkill,
		publisher:   publisher,
		logger:      logger.With("handler", "on_question_attempted"),
	}
}

// Handle implements shared.EventHandler.
func (h *OnQuestionAttemptedHandler) Handle(ctx context.Context, event shared.Event) error {
	p, err := payloadAs[shared.QuestionAttemptedPayload](event)
	if err != nil {
		return err
	}

	res, err := h.updateSkill.Handle(ctx, command.UpdateSkillCommand{
		UserID:      p.UserID,
		Topic:       p.Topic,
		IsCorrect:   p.IsCorrect,
		TimeSpentMs: p.TimeSpentMs,
		Difficulty:  p.Difficulty,
	})
	if err != nil {
		return err
	}

	next := h.publisher.Publish(ctx, shared.SkillUpdatedPayload{
		UserID:         res.UserID,
		Topic:          res.Topic.String(),
		SkillScore:     res.SkillScore,
		Accuracy:       res.AccuracyPct,
		AvgTimeMs:      res.AvgTimeMs,
		WeaknessLevel:  string(res.WeaknessLevel),
		NextDifficulty: string(res.NextDifficulty),
		TotalAnswered:  res.TotalAnswered,
	})

	h.logger.Debug("skill scored",
		"event_id", event.ID,
		"user_id", res.UserID,
		"topic", res.Topic,
		"skill_score", res.SkillScore,
		"published", next.ID,
	)
	return nil
}

// OnQuestionAttemptedPerformanceHandler updates topic_performance counters.
type OnQuestionAttemptedPerformanceHandler struct {
	record *command.RecordTopicPerformanceHandler
}

// NewOnQuestionAttemptedPerformanceHandler creates the topic performance subscriber.
func NewOnQuestionAttemptedPerformanceHandler(record *command.RecordTopicPerformanceHandler) *OnQuestionAttemptedPerformanceHandler {
	return &OnQuestionAttemptedPerformanceHandler{record: record}
}

// Handle implements shared.EventHandler.
func (h *OnQuestionAttemptedPerformanceHandler) Handle(ctx context.Context, event shared.Event) error {
	p, err := payloadAs[shared.QuestionAttemptedPayload](event)
	if err != nil {
		return err
	}

	return h.record.Handle(ctx, command.RecordTopicPerformanceCommand{
		UserID:     p.UserID,
		Topic:      p.Topic,
		IsCorrect:  p.IsCorrect,
		AnsweredAt: event.Timestamp,
	})
}
