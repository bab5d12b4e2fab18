package eventhandler

import (
	"context"
	"log/slog"

	"github.com/tryouthub/learning-pipeline/internal/application/command"
	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON ATTEMPT FINISHED
// Subscribed to attempt.completed, test.submitted and attempt.submitted.
// Runs the retention pipeline and announces the new score, XP and streak.
// ═══════════════════════════════════════════════════════════════════════════

// OnAttemptFinishedHandler runs the retention pipeline.
type OnAttemptFinishedHandler struct {
	retention *command.RunRetentionUpdateHandler
	publisher shared.EventPublisher
	logger    *slog.Logger
}

// NewOnAttemptFinishedHandler creates a new OnAttemptFinishedHandler.
func NewOnAttemptFinishedHandler(
	retention *command.RunRetentionUpdateHandler,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *OnAttemptFinishedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnAttemptFinishedHandler{
		retention: retention,
		publisher: publisher,
		logger:    logger.With("handler", "on_attempt_finished"),
	}
}

// Handle implements shared.EventHandler.
func (h *OnAttemptFinishedHandler) Handle(ctx context.Context, event shared.Event) error {
	p, err := attemptPayload(event)
	if err != nil {
		return err
	}

	res, err := h.retention.Handle(ctx, command.RunRetentionUpdateCommand{
		UserID:     p.UserID,
		AttemptID:  p.AttemptID,
		Score:      p.Score,
		Passed:     p.Passed,
		OccurredAt: event.Timestamp,
	})
	if err != nil {
		return err
	}

	h.publisher.Publish(ctx, shared.ScoreUpdatedPayload{
		UserID:          res.UserID,
		AttemptID:       res.AttemptID,
		AverageScore:    res.Analytics.AverageScore,
		TrendScore:      res.Analytics.TrendScore,
		PassRate:        res.Analytics.PassRate,
		PassProbability: res.Prediction.Probability,
		PredictionLabel: string(res.Prediction.Label),
	})

	g := res.Gamification
	if g.XPGained > 0 {
		h.publisher.Publish(ctx, shared.XPUpdatedPayload{
			UserID:    res.UserID,
			AttemptID: res.AttemptID,
			Gained:    g.XPGained,
			TotalXP:   g.TotalXP,
			Level:     g.Level,
			LeveledUp: g.LeveledUp,
		})
	}
	if g.StreakChanged {
		h.publisher.Publish(ctx, shared.StreakUpdatedPayload{
			UserID:        res.UserID,
			CurrentStreak: g.CurrentStreak,
			LongestStreak: g.LongestStreak,
			LastActiveAt:  event.Timestamp,
		})
	}

	h.logger.Info("retention pipeline finished",
		"event_id", event.ID,
		"event_type", event.Type,
		"user_id", res.UserID,
		"attempt_id", res.AttemptID,
		"prediction", res.Prediction.Label,
		"skipped_tables", res.SkippedTables,
	)
	return nil
}
