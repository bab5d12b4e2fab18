package retention

import (
	"math"
	"time"

	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
	"github.com/tryouthub/learning-pipeline/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// XP & LEVEL
// ══════════════════════════════════════════════════════════════════════════════

const (
	baseXP     = 50
	scoreXP    = 100
	passBonus  = 40
	minXPGrant = 20
)

// XPGain returns the XP awarded for a completed attempt.
func XPGain(score float64, passed bool) int {
	gain := baseXP + int(math.Round(score/ScoreScale*scoreXP))
	if passed {
		gain += passBonus
	}
	if gain < minXPGrant {
		gain = minXPGrant
	}
	return gain
}

// XPRecord is the cumulative XP of a user (table user_xp).
type XPRecord struct {
	UserID    string
	TotalXP   int
	Level     int
	UpdatedAt time.Time
}

// Award adds gain to the record and reports whether the level went up.
func (r XPRecord) Award(gain int, now time.Time) (XPRecord, bool) {
	prevLevel := r.Level
	if prevLevel < int(shared.MinLevel) {
		prevLevel = int(shared.MinLevel)
	}

	total := shared.XP(r.TotalXP).Add(gain)
	r.TotalXP = total.Int()
	r.Level = total.Level().Int()
	r.UpdatedAt = now

	return r, r.Level > prevLevel
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAK
// ══════════════════════════════════════════════════════════════════════════════

// StreakRecord is the daily activity streak of a user (table user_streaks).
type StreakRecord struct {
	UserID         string
	CurrentStreak  int
	LongestStreak  int
	LastActivityAt time.Time
	UpdatedAt      time.Time
}

// Touch registers activity at `at` using calendar days in loc and reports
// whether the current streak changed.
//
//	same day        -> unchanged (0 becomes 1)
//	next day        -> +1
//	gap of 2+ days  -> reset to 1
//	earlier day     -> unchanged
func (s StreakRecord) Touch(at time.Time, loc *time.Location) (StreakRecord, bool) {
	prev := s.CurrentStreak

	switch {
	case s.LastActivityAt.IsZero() || s.CurrentStreak == 0:
		s.CurrentStreak = 1
	default:
		switch days := timeutil.DaysBetween(s.LastActivityAt, at, loc); {
		case days == 1:
			s.CurrentStreak++
		case days > 1:
			s.CurrentStreak = 1
		}
	}

	if at.After(s.LastActivityAt) {
		s.LastActivityAt = at
	}
	if s.CurrentStreak > s.LongestStreak {
		s.LongestStreak = s.CurrentStreak
	}
	s.UpdatedAt = at

	return s, s.CurrentStreak != prev
}

// ══════════════════════════════════════════════════════════════════════════════
// BADGES
// ══════════════════════════════════════════════════════════════════════════════

// BadgeCode is the stable identifier of a badge.
type BadgeCode string

const (
	BadgeFirstAttempt BadgeCode = "first_attempt"
	BadgeStreak3      BadgeCode = "streak_3"
	BadgeLevel5       BadgeCode = "level_5"
	BadgeFirstPass    BadgeCode = "first_pass"
)

// Badge is an unlocked badge, unique per (user, code) (table user_badges).
type Badge struct {
	UserID     string
	Code       BadgeCode
	UnlockedAt time.Time
}

// BadgeState is the input to badge evaluation.
type BadgeState struct {
	CompletedAttempts int
	CurrentStreak     int
	Level             int
	EverPassed        bool
}

// EarnedBadges returns every badge the state qualifies for. Persisting them is
// idempotent, so already unlocked badges may be returned again.
func EarnedBadges(st BadgeState) []BadgeCode {
	var codes []BadgeCode
	if st.CompletedAttempts >= 1 {
		codes = append(codes, BadgeFirstAttempt)
	}
	if st.CurrentStreak >= 3 {
		codes = append(codes, BadgeStreak3)
	}
	if st.Level >= 5 {
		codes = append(codes, BadgeLevel5)
	}
	if st.EverPassed {
		codes = append(codes, BadgeFirstPass)
	}
	return codes
}

// GamificationDelta captures what one retention run changed.
type GamificationDelta struct {
	XPGained      int         `json:"xp_gained"`
	TotalXP       int         `json:"total_xp"`
	Level         int         `json:"level"`
	LeveledUp     bool        `json:"leveled_up"`
	CurrentStreak int         `json:"current_streak"`
	LongestStreak int         `json:"longest_streak"`
	StreakChanged bool        `json:"streak_changed"`
	NewBadges     []BadgeCode `json:"new_badges"`
}
