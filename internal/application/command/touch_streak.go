package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tryouthub/learning-pipeline/internal/domain/retention"
	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
	"github.com/tryouthub/learning-pipeline/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// TOUCH STREAK COMMAND
// Registers non-attempt activity (content views) on the daily streak.
// ══════════════════════════════════════════════════════════════════════════════

// TouchStreakCommand registers activity of a user at a point in time.
type TouchStreakCommand struct {
	UserID string
	At     time.Time
}

// Validate validates the command.
func (c TouchStreakCommand) Validate() error {
	if c.UserID == "" {
		return shared.ValidationError("retention", "touch_streak", "user_id is required")
	}
	return nil
}

// TouchStreakResult reports the streak after the touch.
type TouchStreakResult struct {
	Streak  retention.StreakRecord
	Changed bool

	// Skipped is set when the user_streaks table is not provisioned.
	Skipped bool
}

// TouchStreakHandler handles the TouchStreakCommand.
type TouchStreakHandler struct {
	repo   retention.GamificationRepository
	loc    *time.Location
	logger *slog.Logger
}

// NewTouchStreakHandler creates a new TouchStreakHandler.
func NewTouchStreakHandler(repo retention.GamificationRepository, loc *time.Location, logger *slog.Logger) *TouchStreakHandler {
	if loc == nil {
		loc = timeutil.WIB
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TouchStreakHandler{
		repo:   repo,
		loc:    loc,
		logger: logger.With("command", "touch_streak"),
	}
}

// Handle executes the command.
func (h *TouchStreakHandler) Handle(ctx context.Context, cmd TouchStreakCommand) (*TouchStreakResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	at := cmd.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	current, err := h.repo.GetStreak(ctx, cmd.UserID)
	if err != nil {
		return h.skipOrFail(err, "get streak")
	}

	next, changed := current.Touch(at, h.loc)
	if err := h.repo.UpsertStreak(ctx, next); err != nil {
		return h.skipOrFail(err, "upsert streak")
	}

	return &TouchStreakResult{Streak: next, Changed: changed}, nil
}

func (h *TouchStreakHandler) skipOrFail(err error, op string) (*TouchStreakResult, error) {
	if shared.IsFeatureUnavailable(err) {
		h.logger.Debug("streak table not provisioned, touch skipped", "table", shared.UnavailableTable(err))
		return &TouchStreakResult{Skipped: true}, nil
	}
	return nil, fmt.Errorf("touch_streak: %s: %w", op, err)
}
