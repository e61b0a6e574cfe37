package utils

import "time"

// NowUTC is the wall clock used by the engine.
func NowUTC() time.Time {
	return time.Now().UTC()
}

// TruncateDay returns midnight UTC of t's day.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextWeekday returns midnight UTC of the first Monday-to-Friday day after t.
func NextWeekday(t time.Time) time.Time {
	d := TruncateDay(t).AddDate(0, 0, 1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// ParseDurationOr parses s and falls back to def when s is empty or invalid.
func ParseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
