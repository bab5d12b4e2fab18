// Package shared contains common domain types, errors and events
// that are used across all domain packages.
package shared

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event.
type EventType string

// Pipeline event vocabulary. Subscribers elsewhere on the platform integrate
// by registering against one of these names.
const (
	EventQuestionAttempted EventType = "question.attempted"
	EventAttemptCompleted  EventType = "attempt.completed"
	EventTestSubmitted     EventType = "test.submitted"
	EventScoreUpdated      EventType = "score.updated"
	EventSkillUpdated      EventType = "skill.updated"
	EventContentViewed     EventType = "content.viewed"
	EventAttemptSubmitted  EventType = "attempt.submitted"
	EventXPUpdated         EventType = "xp.updated"
	EventStreakUpdated     EventType = "streak.updated"
)

// AllEventTypes lists the vocabulary in a stable order.
func AllEventTypes() []EventType {
	return []EventType{
		EventQuestionAttempted,
		EventAttemptCompleted,
		EventTestSubmitted,
		EventScoreUpdated,
		EventSkillUpdated,
		EventContentViewed,
		EventAttemptSubmitted,
		EventXPUpdated,
		EventStreakUpdated,
	}
}

// Event is the immutable envelope handed to every subscriber.
type Event struct {
	ID          string
	Type        EventType
	AggregateID string
	Timestamp   time.Time
	Payload     Payload
}

// NewEvent builds an envelope for the payload: a fresh id, a UTC timestamp and
// the aggregate id derived from the payload (attempt first, then user).
func NewEvent(payload Payload) Event {
	payload = clonePayload(payload)
	attemptID, userID := payload.Subject()

	aggregateID := attemptID
	if aggregateID == "" {
		aggregateID = userID
	}

	return Event{
		ID:          uuid.NewString(),
		Type:        payload.EventType(),
		AggregateID: aggregateID,
		Timestamp:   time.Now().UTC(),
		Payload:     payload,
	}
}

// Clone returns a copy whose payload shares no memory with e.
func (e Event) Clone() Event {
	if e.Payload != nil {
		e.Payload = clonePayload(e.Payload)
	}
	return e
}

// UserID returns the user the event belongs to, if any.
func (e Event) UserID() string {
	if e.Payload == nil {
		return ""
	}
	_, userID := e.Payload.Subject()
	return userID
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope is the wire form of an Event, used by the durable queue and
// by the audit log.
type EventEnvelope struct {
	ID          string          `json:"id"`
	Type        EventType       `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// Envelope encodes the event for transport.
func (e Event) Envelope() (EventEnvelope, error) {
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("marshal %s payload: %w", e.Type, err)
	}

	return EventEnvelope{
		ID:          e.ID,
		Type:        e.Type,
		AggregateID: e.AggregateID,
		Timestamp:   e.Timestamp,
		Payload:     raw,
	}, nil
}

// Event decodes the envelope back into a typed Event.
func (env EventEnvelope) Event() (Event, error) {
	payload, err := DecodePayload(env.Type, env.Payload)
	if err != nil {
		return Event{}, err
	}

	return Event{
		ID:          env.ID,
		Type:        env.Type,
		AggregateID: env.AggregateID,
		Timestamp:   env.Timestamp,
		Payload:     payload,
	}, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Publishing
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(ctx context.Context, event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish accepts the payload for delivery and returns the envelope
	// without waiting for subscribers to run.
	Publish(ctx context.Context, payload Payload) Event
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a named handler for an event type.
	Subscribe(eventType EventType, name string, handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// clonePayload detaches the payload from the publisher's memory: pointer
// fields and generic field bags are copied.
func clonePayload(p Payload) Payload {
	switch v := p.(type) {
	case GenericPayload:
		if v.Data != nil {
			v.Data = cloneValue(v.Data).(map[string]any)
		}
		return v
	case QuestionAttemptedPayload:
		if v.IsCorrect != nil {
			correct := *v.IsCorrect
			v.IsCorrect = &correct
		}
		return v
	}
	return p
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}
