// Package skill holds the per-user, per-topic skill model and the scoring
// rules that move it after every answered question.
package skill

import (
	"time"

	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCORING CONSTANTS
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultPriorScore is the skill score assumed before the first answer.
	DefaultPriorScore = 50.0

	accuracyWeight   = 0.65
	speedWeight      = 0.25
	difficultyWeight = 0.10

	previousWeight = 0.7
	rawWeight      = 0.3

	// confidenceSaturation is the answer count at which confidence reaches 1.
	confidenceSaturation = 10
)

// Target answer times per difficulty. An answer at or under the target earns
// the full speed score.
var targetTimeMs = map[shared.Difficulty]float64{
	shared.DifficultyEasy:   45000,
	shared.DifficultyMedium: 60000,
	shared.DifficultyHard:   90000,
}

const defaultTargetTimeMs = 60000

var difficultyBonus = map[shared.Difficulty]float64{
	shared.DifficultyEasy:   0,
	shared.DifficultyMedium: 4,
	shared.DifficultyHard:   8,
}

// WeaknessLevel buckets a skill score.
type WeaknessLevel string

const (
	WeaknessHigh   WeaknessLevel = "high"
	WeaknessMedium WeaknessLevel = "medium"
	WeaknessLow    WeaknessLevel = "low"
)

// ══════════════════════════════════════════════════════════════════════════════
// SKILL RECORD
// ══════════════════════════════════════════════════════════════════════════════

// Record is the stored skill state of one user on one topic.
type Record struct {
	UserID        string
	Topic         shared.Topic
	SkillScore    float64 // 0..100
	Accuracy      float64 // 0..1
	AvgTimeMs     float64
	TotalAnswered int
	Confidence    float64 // 0..1
	UpdatedAt     time.Time
}

// NewRecord returns the implicit record used before a user's first answer on
// a topic.
func NewRecord(userID string, topic shared.Topic) *Record {
	return &Record{
		UserID:     userID,
		Topic:      topic,
		SkillScore: DefaultPriorScore,
	}
}

// Answer is one answered question fed into the engine.
type Answer struct {
	IsCorrect   bool
	TimeSpentMs int64
	Difficulty  shared.Difficulty
}

// Outcome is the derived bundle produced by applying an answer.
type Outcome struct {
	Record         Record
	RawScore       float64
	WeaknessLevel  WeaknessLevel
	NextDifficulty shared.Difficulty
}

// AccuracyPct returns the accuracy as a percentage.
func (o Outcome) AccuracyPct() float64 {
	return shared.Round2(o.Record.Accuracy * 100)
}

// Apply folds one answer into the record and returns the updated copy along
// with the derived levels. The receiver is not modified.
func (r Record) Apply(a Answer, now time.Time) Outcome {
	prevTotal := float64(r.TotalAnswered)
	newTotal := prevTotal + 1

	correct := 0.0
	if a.IsCorrect {
		correct = 1
	}

	next := r
	next.TotalAnswered = r.TotalAnswered + 1
	next.Accuracy = shared.Clamp((r.Accuracy*prevTotal+correct)/newTotal, 0, 1)
	next.AvgTimeMs = (r.AvgTimeMs*prevTotal + float64(a.TimeSpentMs)) / newTotal

	raw := RawScore(next.Accuracy, a.TimeSpentMs, a.Difficulty)
	next.SkillScore = Smooth(r.SkillScore, raw)
	next.Confidence = shared.Clamp(newTotal/confidenceSaturation, 0, 1)
	next.UpdatedAt = now

	return Outcome{
		Record:         next,
		RawScore:       raw,
		WeaknessLevel:  WeaknessFor(next.SkillScore),
		NextDifficulty: NextDifficultyFor(next.SkillScore),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SCORING RULES
// ══════════════════════════════════════════════════════════════════════════════

// RawScore combines accuracy, speed and difficulty into a 0..100 composite.
func RawScore(accuracy float64, elapsedMs int64, d shared.Difficulty) float64 {
	accuracyScore := accuracy * 100
	speed := SpeedScore(elapsedMs, d)
	bonus := difficultyBonus[d]

	return shared.Clamp(accuracyWeight*accuracyScore+speedWeight*speed+difficultyWeight*bonus, 0, 100)
}

// SpeedScore rates the elapsed time against the difficulty's target time.
func SpeedScore(elapsedMs int64, d shared.Difficulty) float64 {
	if elapsedMs <= 0 {
		return 0
	}
	target, ok := targetTimeMs[d]
	if !ok {
		target = defaultTargetTimeMs
	}
	return shared.Clamp(target/float64(elapsedMs)*100, 0, 100)
}

// Smooth damps the raw score against the previous one. A single answer moves
// the score by at most 30% of the gap.
func Smooth(previous, raw float64) float64 {
	return shared.Clamp(shared.Round2(previousWeight*previous+rawWeight*raw), 0, 100)
}

// WeaknessFor classifies a skill score.
func WeaknessFor(score float64) WeaknessLevel {
	switch {
	case score < 55:
		return WeaknessHigh
	case score < 70:
		return WeaknessMedium
	default:
		return WeaknessLow
	}
}

// NextDifficultyFor recommends the difficulty of the next practice set.
func NextDifficultyFor(score float64) shared.Difficulty {
	switch {
	case score < 60:
		return shared.DifficultyEasy
	case score < 80:
		return shared.DifficultyMedium
	default:
		return shared.DifficultyHard
	}
}
