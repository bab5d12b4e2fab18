package skill

import (
	"context"
	"time"

	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository stores skill records (table user_skills).
type Repository interface {
	// Get returns the record for (user, topic).
	// Returns shared.ErrNotFound when the user has not answered on the topic.
	Get(ctx context.Context, userID string, topic shared.Topic) (*Record, error)

	// Upsert inserts or replaces the record for (user, topic).
	Upsert(ctx context.Context, record *Record) error

	// ListByUser returns every record of a user ordered by skill score ascending.
	ListByUser(ctx context.Context, userID string) ([]*Record, error)
}

// TopicPerformance is the running correct/total counter per user and topic.
type TopicPerformance struct {
	UserID         string
	Topic          shared.Topic
	Correct        int
	Total          int
	LastAnsweredAt time.Time
}

// Accuracy returns correct/total, or 0 without answers.
func (p TopicPerformance) Accuracy() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Correct) / float64(p.Total)
}

// PerformanceRepository stores topic performance counters (table topic_performance).
type PerformanceRepository interface {
	// Increment adds one answer to the (user, topic) counter, creating it if needed.
	Increment(ctx context.Context, userID string, topic shared.Topic, correct bool, at time.Time) error
}
