// Package timestamp decodes the UTC timestamps embedded in upstream object
// names and provides the even-minute bucketing used to line feeds up on a
// common instant.
package timestamp

import (
	"regexp"
	"strconv"
	"time"
)

// dateTimeRe matches the radar-mosaic naming convention: an 8-digit date and a
// 6-digit clock time joined by '-' or '_', e.g. 20250101-120000.
var dateTimeRe = regexp.MustCompile(`(\d{8})[-_](\d{6})`)

// scanStartRe matches the satellite scan-start token: 's' followed by year,
// day-of-year, clock time and a tenths digit, e.g. s20250011200000.
var scanStartRe = regexp.MustCompile(`s(\d{4})(\d{3})(\d{2})(\d{2})(\d{2})(\d)`)

// Extract returns the UTC timestamp encoded in a remote object key or local
// file name. It reports false when no known pattern matches; callers treat
// that as "skip this item", never as an implicit current time.
func Extract(name string) (time.Time, bool) {
	if m := dateTimeRe.FindStringSubmatch(name); m != nil {
		if ts, err := time.Parse("20060102150405", m[1]+m[2]); err == nil {
			return ts.UTC(), true
		}
	}
	if m := scanStartRe.FindStringSubmatch(name); m != nil {
		if ts, ok := scanStart(m); ok {
			return ts, true
		}
	}
	return time.Time{}, false
}

// scanStart assembles a timestamp from the satellite token's submatches.
// The trailing tenths-of-second digit is ignored.
func scanStart(m []string) (time.Time, bool) {
	year, _ := strconv.Atoi(m[1])
	doy, _ := strconv.Atoi(m[2])
	hour, _ := strconv.Atoi(m[3])
	minute, _ := strconv.Atoi(m[4])
	sec, _ := strconv.Atoi(m[5])

	if doy < 1 || doy > 366 || hour > 23 || minute > 59 || sec > 59 {
		return time.Time{}, false
	}
	ts := time.Date(year, time.January, 1, hour, minute, sec, 0, time.UTC)
	return ts.AddDate(0, 0, doy-1), true
}

// TruncateMinute strips seconds and finer from a timestamp, in UTC.
func TruncateMinute(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
}

// RoundToEvenMinute maps a timestamp onto the 2-minute bucket grid:
//
//	even minute: seconds >= 30 round up two minutes, otherwise unchanged
//	odd minute:  seconds >= 30 round up one minute, otherwise down one
//
// The result always lands on an even minute with zero seconds. Rounding
// crosses hour and day boundaries arithmetically (23:59:30 becomes midnight
// of the next day).
func RoundToEvenMinute(t time.Time) time.Time {
	sec := t.UTC().Second()
	m := TruncateMinute(t)
	if m.Minute()%2 == 0 {
		if sec >= 30 {
			return m.Add(2 * time.Minute)
		}
		return m
	}
	if sec >= 30 {
		return m.Add(time.Minute)
	}
	return m.Add(-time.Minute)
}

// FormatCompact renders a timestamp as YYYYMMDD-HHMMSS in UTC, the form used
// in generated artifact names.
func FormatCompact(t time.Time) string {
	return t.UTC().Format("20060102-150405")
}
