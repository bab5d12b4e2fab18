package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tryouthub/learning-pipeline/internal/domain/recommendation"
	"github.com/tryouthub/learning-pipeline/internal/domain/retention"
	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
	"github.com/tryouthub/learning-pipeline/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RUN RETENTION UPDATE COMMAND
// Recomputes analytics, pass prediction, mastery, weak-topic recommendations
// and gamification from the user's full history after an attempt finishes.
// ══════════════════════════════════════════════════════════════════════════════

// RunRetentionUpdateCommand identifies the attempt that triggered the run.
type RunRetentionUpdateCommand struct {
	UserID    string
	AttemptID string

	// Score and Passed describe the triggering attempt when it is not yet
	// visible in the history.
	Score  float64
	Passed bool

	// OccurredAt is the activity time used for the streak. Defaults to now.
	OccurredAt time.Time
}

// Validate validates the command.
func (c RunRetentionUpdateCommand) Validate() error {
	if c.UserID == "" {
		return shared.ValidationError("retention", "run_retention_update", "user_id is required")
	}
	return nil
}

// RunRetentionUpdateResult is the outcome of one run.
type RunRetentionUpdateResult struct {
	UserID          string
	AttemptID       string
	LatestScore     float64
	Analytics       retention.Analytics
	Prediction      retention.Prediction
	Progress        retention.UserProgress
	Mastery         []retention.TopicMastery
	Recommendations []*recommendation.Recommendation
	Gamification    retention.GamificationDelta

	// SkippedTables lists optional tables that were not provisioned.
	SkippedTables []string
}

// RetentionRepositories groups the stores used by the retention run.
type RetentionRepositories struct {
	History         retention.HistoryReader
	Progress        retention.ProgressRepository
	Gamification    retention.GamificationRepository
	Summaries       retention.SummaryRepository
	Recommendations recommendation.Repository
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RunRetentionUpdateHandler handles the RunRetentionUpdateCommand.
type RunRetentionUpdateHandler struct {
	repos  RetentionRepositories
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time
}

// NewRunRetentionUpdateHandler creates a new RunRetentionUpdateHandler.
// Streak days are counted in loc; nil means timeutil.WIB.
func NewRunRetentionUpdateHandler(repos RetentionRepositories, loc *time.Location, logger *slog.Logger) *RunRetentionUpdateHandler {
	if loc == nil {
		loc = timeutil.WIB
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RunRetentionUpdateHandler{
		repos:  repos,
		loc:    loc,
		logger: logger.With("command", "run_retention_update"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// history is the read side of a run.
type history struct {
	attempts []retention.Attempt
	started  int
	stats    []retention.TopicStat
}

// Handle executes the retention run. Optional tables that are not
// provisioned are skipped; any other error aborts the run.
func (h *RunRetentionUpdateHandler) Handle(ctx context.Context, cmd RunRetentionUpdateCommand) (*RunRetentionUpdateResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := h.now()
	log := h.logger.With("user_id", cmd.UserID, "attempt_id", cmd.AttemptID)

	// ─────────────────────────────────────────────────────────────────────────
	// Step 1: Load history
	// ─────────────────────────────────────────────────────────────────────────

	hist, err := h.loadHistory(ctx, cmd.UserID)
	if err != nil {
		return nil, err
	}
	if len(hist.attempts) == 0 {
		// topic breakdowns only describe completed attempts
		hist.stats = nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Step 2: Analytics and prediction
	// ─────────────────────────────────────────────────────────────────────────

	analytics := retention.ComputeAnalytics(hist.attempts, hist.stats)
	prediction := retention.Predict(analytics)
	current := currentAttempt(cmd, hist.attempts)

	result := &RunRetentionUpdateResult{
		UserID:      cmd.UserID,
		AttemptID:   cmd.AttemptID,
		LatestScore: current.Score,
		Analytics:   analytics,
		Prediction:  prediction,
	}
	skipped := &skipList{logger: log}

	// ─────────────────────────────────────────────────────────────────────────
	// Step 3: Progress and mastery
	// ─────────────────────────────────────────────────────────────────────────

	result.Progress = retention.UserProgress{
		UserID:            cmd.UserID,
		LatestScore:       current.Score,
		LastAttemptID:     current.ID,
		CompletedAttempts: len(hist.attempts),
		StartedAttempts:   hist.started,
		CompletionPct:     completionPct(len(hist.attempts), hist.started),
		UpdatedAt:         now,
	}
	if err := h.repos.Progress.UpsertProgress(ctx, result.Progress); err != nil {
		return nil, fmt.Errorf("run_retention_update: upsert progress: %w", err)
	}

	mastery := retention.BuildMastery(cmd.UserID, hist.stats, now)
	if len(mastery) > 0 {
		if err := skipped.absorb(h.repos.Progress.UpsertMastery(ctx, mastery)); err != nil {
			return nil, fmt.Errorf("run_retention_update: upsert mastery: %w", err)
		}
	}
	result.Mastery = mastery

	// ─────────────────────────────────────────────────────────────────────────
	// Step 4: Weak-topic recommendations
	// ─────────────────────────────────────────────────────────────────────────

	if _, err := h.repos.Recommendations.DeactivateBySource(ctx, cmd.UserID, recommendation.SourceRetentionEngine); err != nil {
		return nil, fmt.Errorf("run_retention_update: deactivate recommendations: %w", err)
	}

	recs := retention.WeakTopicRecommendations(cmd.UserID, hist.stats, now)
	for _, rec := range recs {
		if err := h.repos.Recommendations.Insert(ctx, rec); err != nil {
			return nil, fmt.Errorf("run_retention_update: insert recommendation: %w", err)
		}
	}
	result.Recommendations = recs

	// ─────────────────────────────────────────────────────────────────────────
	// Step 5: Gamification
	// ─────────────────────────────────────────────────────────────────────────

	activityAt := cmd.OccurredAt
	if activityAt.IsZero() {
		activityAt = now
	}

	delta, err := h.gamify(ctx, cmd.UserID, current, hist.attempts, activityAt, now, skipped)
	if err != nil {
		return nil, err
	}
	result.Gamification = delta

	// ─────────────────────────────────────────────────────────────────────────
	// Step 6: Summary snapshot
	// ─────────────────────────────────────────────────────────────────────────

	summary := retention.AnalyticsSummary{
		ID:                        uuid.NewString(),
		UserID:                    cmd.UserID,
		AttemptID:                 cmd.AttemptID,
		Analytics:                 analytics,
		PredictionPassProbability: prediction.Probability,
		PredictionLabel:           prediction.Label,
		Snapshot: retention.Snapshot{
			Recommendations: snapshotRecommendations(recs),
			Mastery:         mastery,
			Gamification:    delta,
			Prediction:      prediction,
			SkippedTables:   skipped.tables,
		},
		CreatedAt: now,
	}
	if err := skipped.absorb(h.repos.Summaries.InsertSummary(ctx, summary)); err != nil {
		return nil, fmt.Errorf("run_retention_update: insert summary: %w", err)
	}
	result.SkippedTables = skipped.tables

	log.Info("retention updated",
		"attempts", len(hist.attempts),
		"average_score", analytics.AverageScore,
		"prediction", prediction.Label,
		"recommendations", len(recs),
		"xp_gained", delta.XPGained,
		"skipped_tables", len(skipped.tables),
	)

	return result, nil
}

// loadHistory reads attempts, the started count and topic stats concurrently.
func (h *RunRetentionUpdateHandler) loadHistory(ctx context.Context, userID string) (history, error) {
	var hist history

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		attempts, err := h.repos.History.CompletedAttempts(gctx, userID)
		if err != nil {
			return fmt.Errorf("load attempts: %w", err)
		}
		hist.attempts = attempts
		return nil
	})
	g.Go(func() error {
		started, err := h.repos.History.StartedAttemptCount(gctx, userID)
		if err != nil {
			return fmt.Errorf("count started attempts: %w", err)
		}
		hist.started = started
		return nil
	})
	g.Go(func() error {
		stats, err := h.repos.History.TopicStats(gctx, userID)
		if err != nil {
			return fmt.Errorf("load topic stats: %w", err)
		}
		hist.stats = stats
		return nil
	})

	if err := g.Wait(); err != nil {
		return history{}, fmt.Errorf("run_retention_update: %w", err)
	}
	return hist, nil
}

// gamify awards XP, touches the streak and unlocks badges.
func (h *RunRetentionUpdateHandler) gamify(
	ctx context.Context,
	userID string,
	current retention.Attempt,
	attempts []retention.Attempt,
	activityAt, now time.Time,
	skipped *skipList,
) (retention.GamificationDelta, error) {
	var delta retention.GamificationDelta
	repo := h.repos.Gamification

	// XP and level.
	xp, err := repo.GetXP(ctx, userID)
	if err = skipped.absorb(err); err != nil {
		return delta, fmt.Errorf("run_retention_update: get xp: %w", err)
	}
	if !skipped.has(tableUserXP) {
		gain := retention.XPGain(current.Score, current.Passed)
		next, leveledUp := xp.Award(gain, now)
		if err := skipped.absorb(repo.UpsertXP(ctx, next)); err != nil {
			return delta, fmt.Errorf("run_retention_update: upsert xp: %w", err)
		}
		if !skipped.has(tableUserXP) {
			delta.XPGained = gain
			delta.TotalXP = next.TotalXP
			delta.Level = next.Level
			delta.LeveledUp = leveledUp
		}
	}

	// Streak.
	streak, err := repo.GetStreak(ctx, userID)
	if err = skipped.absorb(err); err != nil {
		return delta, fmt.Errorf("run_retention_update: get streak: %w", err)
	}
	if !skipped.has(tableUserStreaks) {
		next, changed := streak.Touch(activityAt, h.loc)
		if err := skipped.absorb(repo.UpsertStreak(ctx, next)); err != nil {
			return delta, fmt.Errorf("run_retention_update: upsert streak: %w", err)
		}
		if !skipped.has(tableUserStreaks) {
			delta.CurrentStreak = next.CurrentStreak
			delta.LongestStreak = next.LongestStreak
			delta.StreakChanged = changed
		}
	}

	// Badges.
	state := retention.BadgeState{
		CompletedAttempts: len(attempts),
		CurrentStreak:     delta.CurrentStreak,
		Level:             delta.Level,
		EverPassed:        current.Passed,
	}
	if current.ID != "" && !containsAttempt(attempts, current.ID) {
		state.CompletedAttempts++
	}
	for _, a := range attempts {
		state.EverPassed = state.EverPassed || a.Passed
	}

	delta.NewBadges = []retention.BadgeCode{}
	for _, code := range retention.EarnedBadges(state) {
		inserted, err := repo.InsertBadge(ctx, retention.Badge{UserID: userID, Code: code, UnlockedAt: now})
		if err = skipped.absorb(err); err != nil {
			return delta, fmt.Errorf("run_retention_update: insert badge: %w", err)
		}
		if skipped.has(tableUserBadges) {
			break
		}
		if inserted {
			delta.NewBadges = append(delta.NewBadges, code)
		}
	}

	return delta, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

const (
	tableUserXP      = "user_xp"
	tableUserStreaks = "user_streaks"
	tableUserBadges  = "user_badges"
)

// skipList collects optional tables reported as not provisioned.
type skipList struct {
	tables []string
	logger *slog.Logger
}

// absorb returns nil for shared.ErrFeatureUnavailable, recording the table,
// and err otherwise.
func (s *skipList) absorb(err error) error {
	if err == nil || !shared.IsFeatureUnavailable(err) {
		return err
	}
	table := shared.UnavailableTable(err)
	if !s.has(table) {
		s.tables = append(s.tables, table)
		s.logger.Debug("optional table not provisioned, step skipped", "table", table)
	}
	return nil
}

func (s *skipList) has(table string) bool {
	for _, t := range s.tables {
		if t == table {
			return true
		}
	}
	return false
}

// currentAttempt finds the triggering attempt in the history, falling back to
// the command fields and then to the latest completed attempt.
func currentAttempt(cmd RunRetentionUpdateCommand, attempts []retention.Attempt) retention.Attempt {
	if cmd.AttemptID != "" {
		for _, a := range attempts {
			if a.ID == cmd.AttemptID {
				return a
			}
		}
		return retention.Attempt{ID: cmd.AttemptID, UserID: cmd.UserID, Score: cmd.Score, Passed: cmd.Passed}
	}
	if n := len(attempts); n > 0 {
		return attempts[n-1]
	}
	return retention.Attempt{UserID: cmd.UserID, Score: cmd.Score, Passed: cmd.Passed}
}

func containsAttempt(attempts []retention.Attempt, id string) bool {
	for _, a := range attempts {
		if a.ID == id {
			return true
		}
	}
	return false
}

func completionPct(completed, started int) float64 {
	if started <= 0 {
		return 0
	}
	return shared.Round2(shared.Clamp(float64(completed)/float64(started)*100, 0, 100))
}

func snapshotRecommendations(recs []*recommendation.Recommendation) []retention.SnapshotRecommendation {
	out := make([]retention.SnapshotRecommendation, 0, len(recs))
	for _, r := range recs {
		out = append(out, retention.SnapshotRecommendation{
			Topic:    r.Topic.String(),
			Type:     string(r.Type),
			Priority: r.Priority,
			Reason:   r.Reason,
		})
	}
	return out
}
