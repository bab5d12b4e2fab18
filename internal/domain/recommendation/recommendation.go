// Package recommendation classifies skill levels into study actions and
// models the recommendation feed shown to a user.
package recommendation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
)

// Type is the kind of study action suggested.
type Type string

const (
	TypePractice  Type = "practice"
	TypeReview    Type = "review"
	TypeChallenge Type = "challenge"
)

// Status of a recommendation row.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Source identifies the engine that produced a recommendation.
type Source string

const (
	SourceSkillEngine     Source = "skill_engine"
	SourceRetentionEngine Source = "retention_engine"
)

// Priority ranges from 1 (lowest) to 3 (most urgent).
const (
	PriorityLow    = 1
	PriorityMedium = 2
	PriorityHigh   = 3
)

// DefaultFeedSize is the number of active recommendations returned to callers.
const DefaultFeedSize = 10

// Recommendation is one appended recommendation row.
type Recommendation struct {
	ID        string
	UserID    string
	Topic     shared.Topic
	Type      Type
	Reason    string
	Priority  int
	Status    Status
	Source    Source
	Metadata  map[string]any
	CreatedAt time.Time
}

// Tier is the action and priority chosen for a skill score.
type Tier struct {
	Type     Type
	Priority int
}

// Classify maps a skill score onto an action tier.
func Classify(skillScore float64) Tier {
	switch {
	case skillScore < 55:
		return Tier{Type: TypePractice, Priority: PriorityHigh}
	case skillScore < 75:
		return Tier{Type: TypeReview, Priority: PriorityMedium}
	default:
		return Tier{Type: TypeChallenge, Priority: PriorityLow}
	}
}

// ForSkill builds the recommendation for a freshly scored topic.
func ForSkill(userID string, topic shared.Topic, skillScore, accuracyPct float64, now time.Time) *Recommendation {
	tier := Classify(skillScore)

	return &Recommendation{
		ID:       uuid.NewString(),
		UserID:   userID,
		Topic:    topic,
		Type:     tier.Type,
		Reason:   reasonFor(tier.Type, topic, skillScore),
		Priority: tier.Priority,
		Status:   StatusActive,
		Source:   SourceSkillEngine,
		Metadata: map[string]any{
			"skill_score": skillScore,
			"accuracy":    accuracyPct,
		},
		CreatedAt: now,
	}
}

func reasonFor(t Type, topic shared.Topic, score float64) string {
	switch t {
	case TypePractice:
		return fmt.Sprintf("Skill score %.1f in %s is below 55, focus practice on the basics", score, topic)
	case TypeReview:
		return fmt.Sprintf("Skill score %.1f in %s is below 75, review recent mistakes", score, topic)
	default:
		return fmt.Sprintf("Skill score %.1f in %s is strong, try harder questions", score, topic)
	}
}

// SortFeed orders recommendations by priority desc, then recency desc.
func SortFeed(recs []*Recommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Priority != recs[j].Priority {
			return recs[i].Priority > recs[j].Priority
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}

// Repository stores recommendations (table recommendations).
type Repository interface {
	// Insert appends a recommendation row.
	Insert(ctx context.Context, rec *Recommendation) error

	// ListActive returns up to limit active rows of a user ordered by
	// priority desc, created_at desc.
	ListActive(ctx context.Context, userID string, limit int) ([]*Recommendation, error)

	// DeactivateBySource marks every active row of a user produced by source
	// as inactive and returns how many rows changed.
	DeactivateBySource(ctx context.Context, userID string, source Source) (int, error)
}
