package eventhandler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tryouthub/learning-pipeline/internal/application/command"
	"github.com/tryouthub/learning-pipeline/internal/domain/recommendation"
	"github.com/tryouthub/learning-pipeline/internal/domain/retention"
	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
	"github.com/tryouthub/learning-pipeline/internal/domain/skill"
)

// ═══════════════════════════════════════════════════════════════════════════
// WORKER REGISTRATION
// ═══════════════════════════════════════════════════════════════════════════

// Subscriber names as they appear in the audit log.
const (
	SubscriberSkillEngine          = "skill_engine"
	SubscriberTopicPerformance     = "topic_performance"
	SubscriberRecommendationEngine = "recommendation_engine"
	SubscriberRetentionPipeline    = "retention_pipeline"
	SubscriberActivityStreak       = "activity_streak"
)

// Dependencies are the stores the subscribers write to.
type Dependencies struct {
	Skills          skill.Repository
	Performance     skill.PerformanceRepository
	Recommendations recommendation.Repository
	History         retention.HistoryReader
	Progress        retention.ProgressRepository
	Gamification    retention.GamificationRepository
	Summaries       retention.SummaryRepository

	// Location is the timezone for streak days. Nil means timeutil.WIB.
	Location *time.Location

	Logger *slog.Logger
}

// Pipelines switches individual subscribers on or off.
type Pipelines struct {
	SkillScoring     bool
	TopicPerformance bool
	Recommendations  bool
	Retention        bool
	ActivityStreak   bool
}

// AllPipelines enables every subscriber.
func AllPipelines() Pipelines {
	return Pipelines{
		SkillScoring:     true,
		TopicPerformance: true,
		Recommendations:  true,
		Retention:        true,
		ActivityStreak:   true,
	}
}

// Register subscribes the enabled pipelines to the bus:
//
//	question.attempted                    -> skill_engine, topic_performance
//	skill.updated                         -> recommendation_engine
//	attempt.completed / test.submitted /
//	attempt.submitted                     -> retention_pipeline
//	content.viewed                        -> activity_streak
func Register(bus shared.EventBus, deps Dependencies, pipelines Pipelines) error {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var subs []subscription

	if pipelines.SkillScoring {
		h := NewOnQuestionAttemptedHandler(command.NewUpdateSkillHandler(deps.Skills, logger), bus, logger)
		subs = append(subs, subscription{shared.EventQuestionAttempted, SubscriberSkillEngine, h.Handle})
	}

	if pipelines.TopicPerformance {
		h := NewOnQuestionAttemptedPerformanceHandler(command.NewRecordTopicPerformanceHandler(deps.Performance))
		subs = append(subs, subscription{shared.EventQuestionAttempted, SubscriberTopicPerformance, h.Handle})
	}

	if pipelines.Recommendations {
		h := NewOnSkillUpdatedHandler(command.NewGenerateRecommendationHandler(deps.Recommendations, logger), logger)
		subs = append(subs, subscription{shared.EventSkillUpdated, SubscriberRecommendationEngine, h.Handle})
	}

	if pipelines.Retention {
		run := command.NewRunRetentionUpdateHandler(command.RetentionRepositories{
			History:         deps.History,
			Progress:        deps.Progress,
			Gamification:    deps.Gamification,
			Summaries:       deps.Summaries,
			Recommendations: deps.Recommendations,
		}, deps.Location, logger)
		h := NewOnAttemptFinishedHandler(run, bus, logger)
		for _, t := range []shared.EventType{
			shared.EventAttemptCompleted,
			shared.EventTestSubmitted,
			shared.EventAttemptSubmitted,
		} {
			subs = append(subs, subscription{t, SubscriberRetentionPipeline, h.Handle})
		}
	}

	if pipelines.ActivityStreak {
		h := NewOnContentViewedHandler(command.NewTouchStreakHandler(deps.Gamification, deps.Location, logger), bus, logger)
		subs = append(subs, subscription{shared.EventContentViewed, SubscriberActivityStreak, h.Handle})
	}

	for _, s := range subs {
		if err := bus.Subscribe(s.eventType, s.name, s.handler); err != nil {
			return fmt.Errorf("subscribe %s to %s: %w", s.name, s.eventType, err)
		}
	}

	logger.Info("pipelines registered", "subscriptions", len(subs))
	return nil
}

type subscription struct {
	eventType shared.EventType
	name      string
	handler   shared.EventHandler
}
