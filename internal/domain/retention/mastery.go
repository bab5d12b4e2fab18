package retention

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tryouthub/learning-pipeline/internal/domain/recommendation"
	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
)

// WeakTopicThreshold is the accuracy percentage below which a topic gets a
// retention recommendation.
const WeakTopicThreshold = 60.0

// MaxWeakTopicRecommendations caps recommendations per run.
const MaxWeakTopicRecommendations = 3

// MasteryLevel buckets topic accuracy.
type MasteryLevel string

const (
	MasteryNeedsWork  MasteryLevel = "needs_work"
	MasteryDeveloping MasteryLevel = "developing"
	MasteryMastered   MasteryLevel = "mastered"
)

// MasteryFor classifies an accuracy percentage.
func MasteryFor(accuracyPct float64) MasteryLevel {
	switch {
	case accuracyPct >= 80:
		return MasteryMastered
	case accuracyPct >= WeakTopicThreshold:
		return MasteryDeveloping
	default:
		return MasteryNeedsWork
	}
}

// TopicMastery is one (user, topic) mastery row (table topic_mastery).
type TopicMastery struct {
	UserID      string       `json:"-"`
	Topic       shared.Topic `json:"topic"`
	AccuracyPct float64      `json:"accuracy_pct"`
	Correct     int          `json:"correct"`
	Total       int          `json:"total"`
	Level       MasteryLevel `json:"level"`
	UpdatedAt   time.Time    `json:"-"`
}

// BuildMastery converts topic stats into mastery rows, sorted by topic.
func BuildMastery(userID string, stats []TopicStat, now time.Time) []TopicMastery {
	rows := make([]TopicMastery, 0, len(stats))
	for _, s := range stats {
		if s.Total == 0 {
			continue
		}
		pct := s.AccuracyPct()
		rows = append(rows, TopicMastery{
			UserID:      userID,
			Topic:       s.Topic,
			AccuracyPct: pct,
			Correct:     s.Correct,
			Total:       s.Total,
			Level:       MasteryFor(pct),
			UpdatedAt:   now,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Topic < rows[j].Topic })
	return rows
}

// WeakTopicRecommendations returns practice recommendations for the weakest
// topics under WeakTopicThreshold, lowest accuracy first, at most
// MaxWeakTopicRecommendations.
func WeakTopicRecommendations(userID string, stats []TopicStat, now time.Time) []*recommendation.Recommendation {
	weak := make([]TopicStat, 0, len(stats))
	for _, s := range stats {
		if s.Total > 0 && s.AccuracyPct() < WeakTopicThreshold {
			weak = append(weak, s)
		}
	}

	sort.SliceStable(weak, func(i, j int) bool {
		ai, aj := weak[i].Accuracy(), weak[j].Accuracy()
		if ai != aj {
			return ai < aj
		}
		return weak[i].Topic < weak[j].Topic
	})
	if len(weak) > MaxWeakTopicRecommendations {
		weak = weak[:MaxWeakTopicRecommendations]
	}

	recs := make([]*recommendation.Recommendation, 0, len(weak))
	for i, s := range weak {
		pct := s.AccuracyPct()
		priority := recommendation.PriorityMedium
		if pct < 40 {
			priority = recommendation.PriorityHigh
		}
		recs = append(recs, &recommendation.Recommendation{
			ID:       uuid.NewString(),
			UserID:   userID,
			Topic:    s.Topic,
			Type:     recommendation.TypePractice,
			Reason:   fmt.Sprintf("Accuracy in %s is %.1f%%, below the %.0f%% target", s.Topic, pct, WeakTopicThreshold),
			Priority: priority,
			Status:   recommendation.StatusActive,
			Source:   recommendation.SourceRetentionEngine,
			Metadata: map[string]any{
				"accuracy": pct,
				"correct":  s.Correct,
				"total":    s.Total,
				"rank":     i + 1,
			},
			// later rows are older so the feed keeps accuracy order within a priority
			CreatedAt: now.Add(-time.Duration(i) * time.Millisecond),
		})
	}
	return recs
}
