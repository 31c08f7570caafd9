// Package logging provides the line-oriented log transport between the worker
// process and the scheduler, plus shared level parsing.
//
// The worker writes every log record to stdout as a single line:
//
//	[2025-01-02T15:04:05Z] [retriever] INFO: message key=value ...
//
// The scheduler scans those lines from the worker's pipe, decodes them with
// ParseLine, and re-logs them through its own structured logger at the decoded
// severity. Lines that do not match the format are relayed verbatim.
package logging

import (
	"log/slog"
	"strings"
)

// ScopeKey is the attribute key that names the component a worker log record
// belongs to. LineHandler lifts it out of the attribute list and into the
// bracketed scope field of the emitted line.
const ScopeKey = "scope"

// ParseLevel maps a configured level name to its slog.Level.
// Unrecognized values default to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
