// Package timeutil provides calendar-day helpers in a configurable zone.
// Streaks and daily counters are computed on local calendar days, not on
// 24-hour windows.
package timeutil

import (
	"time"
)

// DefaultZoneName is used when no zone is configured.
const DefaultZoneName = "Asia/Jakarta"

// WIB is Western Indonesia Time (UTC+7, no DST). Used when the zone
// database is unavailable.
var WIB = time.FixedZone(DefaultZoneName, 7*60*60)

// LoadZone resolves a zone name, falling back to WIB.
func LoadZone(name string) *time.Location {
	if name == "" {
		return WIB
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return WIB
	}
	return loc
}

// Date formats for the platform.
const (
	FormatDate     = "2006-01-02"
	FormatDateTime = "2006-01-02 15:04"
)

// StartOfDay returns local midnight of t in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = WIB
	}
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

// IsSameDay checks if two times fall on the same calendar day in loc.
func IsSameDay(t1, t2 time.Time, loc *time.Location) bool {
	return DaysBetween(t1, t2, loc) == 0
}

// IsConsecutiveDay checks if t2 falls on the calendar day after t1 in loc.
func IsConsecutiveDay(t1, t2 time.Time, loc *time.Location) bool {
	return DaysBetween(t1, t2, loc) == 1
}

// DaysBetween returns the signed number of calendar days from t1 to t2 in loc.
// It is negative when t2 is on an earlier day.
func DaysBetween(t1, t2 time.Time, loc *time.Location) int {
	if loc == nil {
		loc = WIB
	}
	a, b := t1.In(loc), t2.In(loc)
	// compare civil dates in UTC so DST shifts do not skew the hour count
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// FormatDay formats t as a local calendar date.
func FormatDay(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = WIB
	}
	return t.In(loc).Format(FormatDate)
}
