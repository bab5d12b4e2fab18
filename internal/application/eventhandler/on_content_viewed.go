package eventhandler

import (
	"context"
	"log/slog"

	"github.com/tryouthub/learning-pipeline/internal/application/command"
	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
)

// OnContentViewedHandler counts content views as streak activity.
type OnContentViewedHandler struct {
	touch     *command.TouchStreakHandler
	publisher shared.EventPublisher
	logger    *slog.Logger
}

// NewOnContentViewedHandler creates a new OnContentViewedHandler.
func NewOnContentViewedHandler(
	touch *command.TouchStreakHandler,
	publisher shared.EventPublisher,
	logger *slog.Logger,
) *OnContentViewedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnContentViewedHandler{
		touch:     touch,
		publisher: publisher,
		logger:    logger.With("handler", "on_content_viewed"),
	}
}

// Handle implements shared.EventHandler.
func (h *OnContentViewedHandler) Handle(ctx context.Context, event shared.Event) error {
	p, err := payloadAs[shared.ContentViewedPayload](event)
	if err != nil {
		return err
	}

	res, err := h.touch.Handle(ctx, command.TouchStreakCommand{UserID: p.UserID, At: event.Timestamp})
	if err != nil {
		return err
	}
	if res.Skipped || !res.Changed {
		return nil
	}

	h.publisher.Publish(ctx, shared.StreakUpdatedPayload{
		UserID:        p.UserID,
		CurrentStreak: res.Streak.CurrentStreak,
		LongestStreak: res.Streak.LongestStreak,
		LastActiveAt:  res.Streak.LastActivityAt,
	})

	h.logger.Debug("streak extended",
		"user_id", p.UserID,
		"content_id", p.ContentID,
		"current_streak", res.Streak.CurrentStreak,
	)
	return nil
}
