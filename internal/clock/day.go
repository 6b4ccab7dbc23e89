package clock

import "time"

// DateLayout is the calendar date format used for storage and display.
const DateLayout = "2006-01-02"

// Day returns the calendar date of t as observed in loc, normalized to
// midnight UTC. All day arithmetic in the service goes through this.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of calendar days from a to b. Both must be
// values returned by Day.
func DaysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

// FormatDay renders a normalized day as YYYY-MM-DD.
func FormatDay(day time.Time) string {
	return day.UTC().Format(DateLayout)
}

// ParseDay parses YYYY-MM-DD into a normalized day.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}
