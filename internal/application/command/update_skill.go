// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
	"github.com/tryouthub/learning-pipeline/internal/domain/skill"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE SKILL COMMAND
// Folds one answered question into the user's smoothed skill record for the
// question's topic.
// ══════════════════════════════════════════════════════════════════════════════

// UpdateSkillCommand contains one answered question.
type UpdateSkillCommand struct {
	// UserID is the user who answered.
	UserID string

	// Topic is the raw topic name; it is normalized to an uppercase key.
	Topic string

	// IsCorrect is required; nil means the answer was not graded.
	IsCorrect *bool

	// TimeSpentMs must be positive.
	TimeSpentMs int64

	// Difficulty is optional (easy, medium, hard).
	Difficulty string
}

// Validate validates the command.
func (c UpdateSkillCommand) Validate() error {
	switch {
	case c.UserID == "":
		return shared.ValidationError("skill", "update_skill", "user_id is required")
	case shared.NewTopic(c.Topic).IsEmpty():
		return shared.ValidationError("skill", "update_skill", "topic is required")
	case c.IsCorrect == nil:
		return shared.ValidationError("skill", "update_skill", "is_correct is required")
	case c.TimeSpentMs <= 0:
		return shared.ValidationError("skill", "update_skill", "time_spent_ms must be positive")
	}
	return nil
}

// UpdateSkillResult is the derived bundle returned to the caller.
type UpdateSkillResult struct {
	UserID         string
	Topic          shared.Topic
	AccuracyPct    float64
	AvgTimeMs      float64
	SkillScore     float64
	RawScore       float64
	WeaknessLevel  skill.WeaknessLevel
	NextDifficulty shared.Difficulty
	TotalAnswered  int
	Confidence     float64
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// UpdateSkillHandler handles the UpdateSkillCommand.
type UpdateSkillHandler struct {
	skills skill.Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewUpdateSkillHandler creates a new UpdateSkillHandler.
func NewUpdateSkillHandler(skills skill.Repository, logger *slog.Logger) *UpdateSkillHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UpdateSkillHandler{
		skills: skills,
		logger: logger.With("command", "update_skill"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Handle executes the update skill command. Validation happens before any
// read or write.
func (h *UpdateSkillHandler) Handle(ctx context.Context, cmd UpdateSkillCommand) (*UpdateSkillResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	topic := shared.NewTopic(cmd.Topic)

	current, err := h.skills.Get(ctx, cmd.UserID, topic)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		current = skill.NewRecord(cmd.UserID, topic)
	case err != nil:
		return nil, fmt.Errorf("update_skill: load record: %w", err)
	}

	outcome := current.Apply(skill.Answer{
		IsCorrect:   *cmd.IsCorrect,
		TimeSpentMs: cmd.TimeSpentMs,
		Difficulty:  shared.ParseDifficulty(cmd.Difficulty),
	}, h.now())

	next := outcome.Record
	if err := h.skills.Upsert(ctx, &next); err != nil {
		return nil, fmt.Errorf("update_skill: upsert record: %w", err)
	}

	h.logger.Debug("skill updated",
		"user_id", cmd.UserID,
		"topic", topic,
		"skill_score", next.SkillScore,
		"raw_score", outcome.RawScore,
		"total_answered", next.TotalAnswered,
	)

	return &UpdateSkillResult{
		UserID:         next.UserID,
		Topic:          next.Topic,
		AccuracyPct:    outcome.AccuracyPct(),
		AvgTimeMs:      shared.Round2(next.AvgTimeMs),
		SkillScore:     next.SkillScore,
		RawScore:       shared.Round2(outcome.RawScore),
		WeaknessLevel:  outcome.WeaknessLevel,
		NextDifficulty: outcome.NextDifficulty,
		TotalAnswered:  next.TotalAnswered,
		Confidence:     next.Confidence,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD TOPIC PERFORMANCE COMMAND
// Running correct/total counter per topic, fed by the same answer events.
// ══════════════════════════════════════════════════════════════════════════════

// RecordTopicPerformanceCommand contains one answered question.
type RecordTopicPerformanceCommand struct {
	UserID     string
	Topic      string
	IsCorrect  *bool
	AnsweredAt time.Time
}

// Validate validates the command.
func (c RecordTopicPerformanceCommand) Validate() error {
	switch {
	case c.UserID == "":
		return shared.ValidationError("skill", "record_topic_performance", "user_id is required")
	case shared.NewTopic(c.Topic).IsEmpty():
		return shared.ValidationError("skill", "record_topic_performance", "topic is required")
	case c.IsCorrect == nil:
		return shared.ValidationError("skill", "record_topic_performance", "is_correct is required")
	}
	return nil
}

// RecordTopicPerformanceHandler handles the RecordTopicPerformanceCommand.
type RecordTopicPerformanceHandler struct {
	performance skill.PerformanceRepository
}

// NewRecordTopicPerformanceHandler creates a new RecordTopicPerformanceHandler.
func NewRecordTopicPerformanceHandler(performance skill.PerformanceRepository) *RecordTopicPerformanceHandler {
	return &RecordTopicPerformanceHandler{performance: performance}
}

// Handle executes the command.
func (h *RecordTopicPerformanceHandler) Handle(ctx context.Context, cmd RecordTopicPerformanceCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	at := cmd.AnsweredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	if err := h.performance.Increment(ctx, cmd.UserID, shared.NewTopic(cmd.Topic), *cmd.IsCorrect, at); err != nil {
		return fmt.Errorf("record_topic_performance: %w", err)
	}
	return nil
}
