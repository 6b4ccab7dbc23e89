// Package streak maintains per-user consecutive-day activity streaks.
package streak

import (
	"time"

	"wellness-activity/internal/clock"
	"wellness-activity/internal/database"
)

// Transition names how an activity changed a streak record
type Transition string

const (
	Created     Transition = "created"
	SameDay     Transition = "same_day"
	Consecutive Transition = "consecutive"
	Reset       Transition = "reset"
	Late        Transition = "late"
)

// Classify returns the transition an activity on day causes for prev
func Classify(prev *database.StreakRecord, day time.Time) Transition {
	if prev == nil || prev.LastActivityDate == nil {
		return Created
	}
	switch gap := clock.DaysBetween(*prev.LastActivityDate, day); {
	case gap == 0:
		return SameDay
	case gap == 1:
		return Consecutive
	case gap < 0:
		return Late
	default:
		return Reset
	}
}

// Advance returns the record that results from an activity on day.
//
// Weekly and monthly counters increase on every activity and are never rolled
// over. An activity dated before the last recorded day only bumps those
// counters so that last_activity_date never moves backwards.
func Advance(prev *database.StreakRecord, day time.Time) database.StreakRecord {
	d := day
	t := Classify(prev, day)
	if t == Created {
		next := database.StreakRecord{
			CurrentStreak:    1,
			LongestStreak:    1,
			LastActivityDate: &d,
		}
		if prev != nil {
			next.UserID = prev.UserID
			next.LongestStreak = max(1, prev.LongestStreak)
			next.WeeklyActivityCount = prev.WeeklyActivityCount
			next.MonthlyActivityCount = prev.MonthlyActivityCount
			next.CreatedAt = prev.CreatedAt
		}
		next.WeeklyActivityCount++
		next.MonthlyActivityCount++
		return next
	}

	next := *prev
	next.WeeklyActivityCount++
	next.MonthlyActivityCount++

	switch t {
	case Consecutive:
		next.CurrentStreak++
		if next.CurrentStreak > next.LongestStreak {
			next.LongestStreak = next.CurrentStreak
		}
		next.LastActivityDate = &d
	case Reset:
		next.CurrentStreak = 1
		next.LastActivityDate = &d
	}
	return next
}
