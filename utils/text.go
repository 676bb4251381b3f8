package utils

import (
	"time"
	"unicode/utf8"
)

const MonthKeyLayout = "2006-01"

// MonthKey returns the "YYYY-MM" bucket of an epoch-seconds timestamp in loc.
// A zero timestamp falls back to now.
func MonthKey(ts int64, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	t := now
	if ts != 0 {
		t = time.Unix(ts, 0)
	}
	return t.In(loc).Format(MonthKeyLayout)
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// TsOrNow returns ts, or the epoch seconds of now when ts is zero.
func TsOrNow(ts int64, now time.Time) int64 {
	if ts != 0 {
		return ts
	}
	return now.Unix()
}
