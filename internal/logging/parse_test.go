package logging

import (
	"log/slog"
	"testing"
	"time"
)

// TestParseLineValid verifies decoding of well-formed relay lines.
func TestParseLineValid(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantScope string
		wantLevel slog.Level
		wantMsg   string
	}{
		{
			name:      "info",
			raw:       "[2025-01-01T12:00:00Z] [worker] INFO: run complete",
			wantScope: "worker",
			wantLevel: slog.LevelInfo,
			wantMsg:   "run complete",
		},
		{
			name:      "warn",
			raw:       "[2025-01-01T12:00:00Z] [selector] WARN: falling back to latest available",
			wantScope: "selector",
			wantLevel: slog.LevelWarn,
			wantMsg:   "falling back to latest available",
		},
		{
			name:      "warning alias",
			raw:       "[2025-01-01T12:00:00Z] [selector] WARNING: falling back",
			wantScope: "selector",
			wantLevel: slog.LevelWarn,
			wantMsg:   "falling back",
		},
		{
			name:      "error",
			raw:       "[2025-01-01T12:00:00Z] [retriever] ERROR: transfer failed feed=PrecipRate",
			wantScope: "retriever",
			wantLevel: slog.LevelError,
			wantMsg:   "transfer failed feed=PrecipRate",
		},
		{
			name:      "debug",
			raw:       "[2025-01-01T12:00:00Z] [finder] DEBUG: listed prefix",
			wantScope: "finder",
			wantLevel: slog.LevelDebug,
			wantMsg:   "listed prefix",
		},
		{
			name:      "trailing newline",
			raw:       "[2025-01-01T12:00:00Z] [worker] INFO: done\n",
			wantScope: "worker",
			wantLevel: slog.LevelInfo,
			wantMsg:   "done",
		},
		{
			name:      "crlf",
			raw:       "[2025-01-01T12:00:00Z] [worker] INFO: done\r\n",
			wantScope: "worker",
			wantLevel: slog.LevelInfo,
			wantMsg:   "done",
		},
		{
			name:      "message with brackets and colons",
			raw:       "[2025-01-01T12:00:00Z] [worker] INFO: saved [3] files: ok",
			wantScope: "worker",
			wantLevel: slog.LevelInfo,
			wantMsg:   "saved [3] files: ok",
		},
		{
			name:      "offset timestamp normalized",
			raw:       "[2025-01-01T14:00:00+02:00] [worker] INFO: done",
			wantScope: "worker",
			wantLevel: slog.LevelInfo,
			wantMsg:   "done",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, ok := ParseLine(tt.raw)
			if !ok {
				t.Fatalf("ParseLine(%q) not ok", tt.raw)
			}
			if line.Scope != tt.wantScope {
				t.Errorf("Scope = %q, want %q", line.Scope, tt.wantScope)
			}
			if line.Level != tt.wantLevel {
				t.Errorf("Level = %v, want %v", line.Level, tt.wantLevel)
			}
			if line.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", line.Message, tt.wantMsg)
			}
			if line.Time.Location() != time.UTC {
				t.Errorf("Time should be UTC, got %v", line.Time.Location())
			}
		})
	}
}

// TestParseLineNormalizesOffset verifies that zoned timestamps convert to the
// equivalent UTC instant.
func TestParseLineNormalizesOffset(t *testing.T) {
	line, ok := ParseLine("[2025-01-01T14:00:00+02:00] [worker] INFO: done")
	if !ok {
		t.Fatal("ParseLine not ok")
	}
	want := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	if !line.Time.Equal(want) {
		t.Errorf("Time = %v, want %v", line.Time, want)
	}
}

// TestParseLineInvalid verifies rejection of lines outside the relay format.
func TestParseLineInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"free text", "panic: runtime error"},
		{"missing level", "[2025-01-01T12:00:00Z] [worker] run complete"},
		{"lowercase level", "[2025-01-01T12:00:00Z] [worker] info: run complete"},
		{"unknown level", "[2025-01-01T12:00:00Z] [worker] TRACE: run complete"},
		{"bad timestamp", "[not-a-time] [worker] INFO: run complete"},
		{"missing scope", "[2025-01-01T12:00:00Z] INFO: run complete"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := ParseLine(tt.raw); ok {
				t.Errorf("ParseLine(%q) should not parse", tt.raw)
			}
		})
	}
}

// TestParseLevel verifies configured level name mapping and its fallback.
func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"Info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
