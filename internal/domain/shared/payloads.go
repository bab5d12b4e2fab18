package shared

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Payload is the tagged union of event payloads. Every event type has its own
// struct; GenericPayload carries anything else.
type Payload interface {
	// EventType returns the event type the payload belongs to.
	EventType() EventType

	// Subject returns the attempt and user the payload refers to.
	// Either may be empty.
	Subject() (attemptID, userID string)
}

// ═══════════════════════════════════════════════════════════════════════════
// Answer Events
// ═══════════════════════════════════════════════════════════════════════════

// QuestionAttemptedPayload is emitted when a user answers a question.
type QuestionAttemptedPayload struct {
	UserID      string `json:"user_id"`
	AttemptID   string `json:"attempt_id,omitempty"`
	QuestionID  string `json:"question_id,omitempty"`
	Topic       string `json:"topic"`
	IsCorrect   *bool  `json:"is_correct"`
	TimeSpentMs int64  `json:"time_spent_ms"`
	Difficulty  string `json:"difficulty,omitempty"`
}

func (QuestionAttemptedPayload) EventType() EventType { return EventQuestionAttempted }

func (p QuestionAttemptedPayload) Subject() (string, string) { return p.AttemptID, p.UserID }

// ═══════════════════════════════════════════════════════════════════════════
// Attempt Events
// ═══════════════════════════════════════════════════════════════════════════

// AttemptPayload holds the fields shared by the attempt lifecycle events.
type AttemptPayload struct {
	UserID    string  `json:"user_id"`
	AttemptID string  `json:"attempt_id"`
	TryoutID  string  `json:"tryout_id,omitempty"`
	Score     float64 `json:"score"`
	Passed    bool    `json:"passed"`
}

func (p AttemptPayload) Subject() (string, string) { return p.AttemptID, p.UserID }

// AttemptCompletedPayload is emitted when an attempt is graded.
type AttemptCompletedPayload struct {
	AttemptPayload
}

func (AttemptCompletedPayload) EventType() EventType { return EventAttemptCompleted }

// TestSubmittedPayload is emitted when a user submits a test.
type TestSubmittedPayload struct {
	AttemptPayload
}

func (TestSubmittedPayload) EventType() EventType { return EventTestSubmitted }

// AttemptSubmittedPayload is emitted when an attempt is handed in.
type AttemptSubmittedPayload struct {
	AttemptPayload
}

func (AttemptSubmittedPayload) EventType() EventType { return EventAttemptSubmitted }

// ═══════════════════════════════════════════════════════════════════════════
// Derived Events
// ═══════════════════════════════════════════════════════════════════════════

// SkillUpdatedPayload is emitted after a skill record is upserted.
type SkillUpdatedPayload struct {
	UserID         string  `json:"user_id"`
	Topic          string  `json:"topic"`
	SkillScore     float64 `json:"skill_score"`
	Accuracy       float64 `json:"accuracy"`
	AvgTimeMs      float64 `json:"avg_time_ms"`
	WeaknessLevel  string  `json:"weakness_level"`
	NextDifficulty string  `json:"next_difficulty"`
	TotalAnswered  int     `json:"total_answered"`
}

func (SkillUpdatedPayload) EventType() EventType { return EventSkillUpdated }

func (p SkillUpdatedPayload) Subject() (string, string) { return "", p.UserID }

// ScoreUpdatedPayload is emitted after a retention run recomputes analytics.
type ScoreUpdatedPayload struct {
	UserID          string  `json:"user_id"`
	AttemptID       string  `json:"attempt_id,omitempty"`
	AverageScore    float64 `json:"average_score"`
	TrendScore      float64 `json:"trend_score"`
	PassRate        float64 `json:"pass_rate"`
	PassProbability float64 `json:"pass_probability"`
	PredictionLabel string  `json:"prediction_label"`
}

func (ScoreUpdatedPayload) EventType() EventType { return EventScoreUpdated }

func (p ScoreUpdatedPayload) Subject() (string, string) { return p.AttemptID, p.UserID }

// XPUpdatedPayload is emitted when a user gains XP.
type XPUpdatedPayload struct {
	UserID    string `json:"user_id"`
	AttemptID string `json:"attempt_id,omitempty"`
	Gained    int    `json:"gained"`
	TotalXP   int    `json:"total_xp"`
	Level     int    `json:"level"`
	LeveledUp bool   `json:"leveled_up"`
}

func (XPUpdatedPayload) EventType() EventType { return EventXPUpdated }

func (p XPUpdatedPayload) Subject() (string, string) { return p.AttemptID, p.UserID }

// StreakUpdatedPayload is emitted when a daily streak changes.
type StreakUpdatedPayload struct {
	UserID        string    `json:"user_id"`
	CurrentStreak int       `json:"current_streak"`
	LongestStreak int       `json:"longest_streak"`
	LastActiveAt  time.Time `json:"last_active_at"`
}

func (StreakUpdatedPayload) EventType() EventType { return EventStreakUpdated }

func (p StreakUpdatedPayload) Subject() (string, string) { return "", p.UserID }

// ContentViewedPayload is emitted when a user opens library content.
type ContentViewedPayload struct {
	UserID      string `json:"user_id"`
	ContentID   string `json:"content_id"`
	ContentType string `json:"content_type,omitempty"`
	Topic       string `json:"topic,omitempty"`
}

func (ContentViewedPayload) EventType() EventType { return EventContentViewed }

func (p ContentViewedPayload) Subject() (string, string) { return "", p.UserID }

// ═══════════════════════════════════════════════════════════════════════════
// Generic Payload
// ═══════════════════════════════════════════════════════════════════════════

// GenericPayload carries a free-form field bag for event types without a
// dedicated struct.
type GenericPayload struct {
	Type EventType
	Data map[string]any
}

// NewGenericPayload creates a GenericPayload.
func NewGenericPayload(eventType EventType, data map[string]any) GenericPayload {
	return GenericPayload{Type: eventType, Data: data}
}

func (p GenericPayload) EventType() EventType { return p.Type }

func (p GenericPayload) Subject() (string, string) {
	return p.lookup("attempt_id", "attemptId"), p.lookup("user_id", "userId")
}

// MarshalJSON encodes only the field bag.
func (p GenericPayload) MarshalJSON() ([]byte, error) {
	if p.Data == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.Data)
}

func (p GenericPayload) lookup(keys ...string) string {
	for _, k := range keys {
		if v, ok := p.Data[k]; ok && v != nil {
			if s := fmt.Sprint(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// DecodePayload decodes a raw payload for the given event type. Unknown types
// decode into a GenericPayload. Typed payloads also accept the platform's
// camelCase keys (userId, timeSpentMs); a snake_case key wins when both are
// present.
func DecodePayload(eventType EventType, raw json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)

	switch eventType {
	case EventQuestionAttempted:
		p, err = decodeInto[QuestionAttemptedPayload](raw)
	case EventAttemptCompleted:
		p, err = decodeInto[AttemptCompletedPayload](raw)
	case EventTestSubmitted:
		p, err = decodeInto[TestSubmittedPayload](raw)
	case EventAttemptSubmitted:
		p, err = decodeInto[AttemptSubmittedPayload](raw)
	case EventSkillUpdated:
		p, err = decodeInto[SkillUpdatedPayload](raw)
	case EventScoreUpdated:
		p, err = decodeInto[ScoreUpdatedPayload](raw)
	case EventXPUpdated:
		p, err = decodeInto[XPUpdatedPayload](raw)
	case EventStreakUpdated:
		p, err = decodeInto[StreakUpdatedPayload](raw)
	case EventContentViewed:
		p, err = decodeInto[ContentViewedPayload](raw)
	default:
		data := make(map[string]any)
		if len(raw) > 0 {
			err = json.Unmarshal(raw, &data)
		}
		p = GenericPayload{Type: eventType, Data: data}
	}

	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return p, nil
}

func decodeInto[T Payload](raw json.RawMessage) (Payload, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(snakeKeys(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// snakeKeys rewrites the top-level camelCase keys of a JSON object to
// snake_case. Anything that is not an object is returned unchanged.
func snakeKeys(raw json.RawMessage) json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return raw
	}

	out := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		snake := SnakeCase(k)
		if snake == k {
			out[k] = v
			continue
		}
		if _, exists := fields[snake]; exists {
			continue
		}
		out[snake] = v
	}

	normalized, err := json.Marshal(out)
	if err != nil {
		return raw
	}
	return normalized
}

// SnakeCase converts a camelCase identifier to snake_case: "timeSpentMs"
// becomes "time_spent_ms" and "userID" becomes "user_id".
func SnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)

	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
