// Package retention computes a user's aggregate analytics, pass prediction,
// topic mastery and gamification state from their full attempt history.
package retention

import (
	"time"

	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
)

// ScoreScale is the maximum tryout score used to normalize raw scores.
const ScoreScale = 500.0

// Attempt is a completed tryout attempt as read from the attempt history.
type Attempt struct {
	ID          string
	UserID      string
	Score       float64
	Passed      bool
	CompletedAt time.Time
}

// TopicStat is the correctness breakdown of one topic from answer history.
type TopicStat struct {
	Topic   shared.Topic
	Correct int
	Total   int
}

// Accuracy returns correct/total in [0,1].
func (s TopicStat) Accuracy() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Total)
}

// AccuracyPct returns the accuracy as a rounded percentage.
func (s TopicStat) AccuracyPct() float64 {
	return shared.Round2(s.Accuracy() * 100)
}

// ══════════════════════════════════════════════════════════════════════════════
// ANALYTICS
// ══════════════════════════════════════════════════════════════════════════════

// Analytics summarizes an attempt history.
type Analytics struct {
	AverageScore   float64 `json:"average_score"`
	TrendScore     float64 `json:"trend_score"`
	PassRate       float64 `json:"pass_rate"`
	StrongestTopic string  `json:"strongest_topic,omitempty"`
	WeakestTopic   string  `json:"weakest_topic,omitempty"`
}

// ComputeAnalytics derives analytics from attempts ordered by completion
// time and per-topic stats. Empty input yields the zero value.
func ComputeAnalytics(attempts []Attempt, stats []TopicStat) Analytics {
	var a Analytics

	if n := len(attempts); n > 0 {
		scores := make([]float64, n)
		passed := 0
		sum := 0.0
		for i, at := range attempts {
			scores[i] = at.Score
			sum += at.Score
			if at.Passed {
				passed++
			}
		}
		a.AverageScore = shared.Round2(sum / float64(n))
		a.TrendScore = shared.Round2(Slope(scores))
		a.PassRate = shared.Round2(float64(passed) / float64(n) * 100)
	}

	if weakest, strongest, ok := extremeTopics(stats); ok {
		a.WeakestTopic = weakest.String()
		a.StrongestTopic = strongest.String()
	}

	return a
}

// Slope is the least-squares slope of ys over their index.
func Slope(ys []float64) float64 {
	n := float64(len(ys))
	if n < 2 {
		return 0
	}

	meanX := (n - 1) / 2
	meanY := 0.0
	for _, y := range ys {
		meanY += y
	}
	meanY /= n

	var num, den float64
	for i, y := range ys {
		dx := float64(i) - meanX
		num += dx * (y - meanY)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// extremeTopics picks the lowest and highest accuracy among answered topics.
// Ties go to the alphabetically first topic.
func extremeTopics(stats []TopicStat) (weakest, strongest shared.Topic, ok bool) {
	var lo, hi *TopicStat
	for i := range stats {
		s := &stats[i]
		if s.Total == 0 {
			continue
		}
		acc := s.Accuracy()
		if lo == nil || acc < lo.Accuracy() || (acc == lo.Accuracy() && s.Topic < lo.Topic) {
			lo = s
		}
		if hi == nil || acc > hi.Accuracy() || (acc == hi.Accuracy() && s.Topic < hi.Topic) {
			hi = s
		}
	}
	if lo == nil {
		return "", "", false
	}
	return lo.Topic, hi.Topic, true
}

// ══════════════════════════════════════════════════════════════════════════════
// PREDICTION
// ══════════════════════════════════════════════════════════════════════════════

// PredictionLabel is the three-tier pass likelihood label.
type PredictionLabel string

const (
	LabelLow    PredictionLabel = "Low"
	LabelMedium PredictionLabel = "Medium"
	LabelHigh   PredictionLabel = "High"
)

const (
	avgWeight      = 0.6
	passRateWeight = 0.7
	trendWeight    = 8.0
	trendBound     = 10.0
)

// Prediction is the heuristic pass probability.
type Prediction struct {
	Probability float64         `json:"probability"`
	Label       PredictionLabel `json:"label"`
}

// Predict combines average, pass rate and trend into a 0..100 probability.
// Average and trend are first expressed as percentages of ScoreScale; the
// weighted sum is divided by the combined weight of the two percentage terms.
func Predict(a Analytics) Prediction {
	avgPct := shared.Clamp(a.AverageScore/ScoreScale*100, 0, 100)
	trendPct := shared.Clamp(a.TrendScore/ScoreScale*100, -trendBound, trendBound)

	raw := avgPct*avgWeight + a.PassRate*passRateWeight + trendPct*trendWeight
	p := shared.Round2(shared.Clamp(raw/(avgWeight+passRateWeight), 0, 100))

	return Prediction{Probability: p, Label: LabelFor(p)}
}

// LabelFor maps a probability to its label.
func LabelFor(p float64) PredictionLabel {
	switch {
	case p < 50:
		return LabelLow
	case p < 75:
		return LabelMedium
	default:
		return LabelHigh
	}
}
