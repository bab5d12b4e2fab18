package shared

import (
	"math"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// Topic Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Topic is the canonical (trimmed, uppercase) key of a syllabus topic,
// e.g. "TWK", "TIU", "TKP".
type Topic string

// NewTopic normalizes a raw topic name.
func NewTopic(raw string) Topic {
	return Topic(strings.ToUpper(strings.TrimSpace(raw)))
}

// IsEmpty reports whether the topic is blank.
func (t Topic) IsEmpty() bool {
	return t == ""
}

// String returns the string representation.
func (t Topic) String() string {
	return string(t)
}

// ═══════════════════════════════════════════════════════════════════════════
// Difficulty Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Difficulty is a question or practice difficulty tier.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty normalizes a raw difficulty. Unknown values return "".
func ParseDifficulty(raw string) Difficulty {
	switch d := Difficulty(strings.ToLower(strings.TrimSpace(raw))); d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return d
	default:
		return ""
	}
}

// IsValid checks if the difficulty is one of the known tiers.
func (d Difficulty) IsValid() bool {
	return d == DifficultyEasy || d == DifficultyMedium || d == DifficultyHard
}

// ═══════════════════════════════════════════════════════════════════════════
// XP Value Object (Experience Points)
// ═══════════════════════════════════════════════════════════════════════════

// XP represents cumulative experience points.
type XP int

// Add adds XP, floored at zero.
func (x XP) Add(amount int) XP {
	result := XP(int(x) + amount)
	if result < 0 {
		return 0
	}
	return result
}

// Int returns the underlying int value.
func (x XP) Int() int {
	return int(x)
}

// Level returns the level reached with this much XP. Level L is left once
// the total reaches L²·100.
func (x XP) Level() Level {
	level := MinLevel
	for int(x) >= level.Threshold() {
		level++
	}
	return level
}

// ═══════════════════════════════════════════════════════════════════════════
// Level Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Level represents a user's gamification level.
type Level int

const MinLevel Level = 1

// Threshold returns the cumulative XP needed to advance past this level.
func (l Level) Threshold() int {
	return int(l) * int(l) * 100
}

// Int returns the underlying int value.
func (l Level) Int() int {
	return int(l)
}

// ═══════════════════════════════════════════════════════════════════════════
// Numeric helpers
// ═══════════════════════════════════════════════════════════════════════════

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
