package logging

import (
	"log/slog"
	"regexp"
	"strings"
	"time"
)

// Line is one decoded worker log line.
type Line struct {
	Time    time.Time
	Scope   string
	Level   slog.Level
	Message string
}

// lineRe matches the relay line format. WARNING is accepted alongside WARN so
// that lines produced by other tooling writing the same stream still decode.
var lineRe = regexp.MustCompile(`^\[([^\]]+)\] \[([^\]]+)\] (DEBUG|INFO|WARN|WARNING|ERROR): (.*)$`)

// ParseLine decodes one worker log line. It reports false for lines that do
// not match the relay format or carry an unparsable timestamp; callers relay
// those verbatim.
func ParseLine(raw string) (Line, bool) {
	m := lineRe.FindStringSubmatch(strings.TrimRight(raw, "\r\n"))
	if m == nil {
		return Line{}, false
	}
	ts, err := time.Parse(time.RFC3339, m[1])
	if err != nil {
		return Line{}, false
	}
	return Line{
		Time:    ts.UTC(),
		Scope:   m[2],
		Level:   ParseLevel(m[3]),
		Message: m[4],
	}, true
}
