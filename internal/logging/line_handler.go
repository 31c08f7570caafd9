package logging

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LineHandler is a slog.Handler that emits one relay-format line per record:
//
//	[RFC3339-UTC] [scope] LEVEL: message key=value ...
//
// It exists so the worker binary can keep the ordinary slog call sites
// (InfoContext with key-value pairs) while producing output the scheduler can
// decode line by line. The scope defaults to the handler's base scope and can
// be overridden per logger via With(ScopeKey, "...").
type LineHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	scope  string
	attrs  []slog.Attr
	groups []string
}

// NewLineHandler returns a LineHandler writing to w. An empty scope defaults
// to "worker"; a nil level defaults to info.
func NewLineHandler(w io.Writer, scope string, level slog.Leveler) *LineHandler {
	if scope == "" {
		scope = "worker"
	}
	if level == nil {
		level = slog.LevelInfo
	}
	return &LineHandler{
		mu:    &sync.Mutex{},
		w:     w,
		level: level,
		scope: scope,
	}
}

// Enabled implements slog.Handler.
func (h *LineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// WithAttrs implements slog.Handler. A ScopeKey attribute outside of any group
// replaces the handler's scope instead of appearing in the key=value tail.
func (h *LineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := h.clone()
	for _, a := range attrs {
		if a.Key == ScopeKey && len(h.groups) == 0 {
			h2.scope = a.Value.Resolve().String()
			continue
		}
		h2.attrs = appendFlattened(h2.attrs, h.groups, a)
	}
	return h2
}

// WithGroup implements slog.Handler. Grouped attribute keys are qualified with
// the group name, dot separated.
func (h *LineHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := h.clone()
	h2.groups = append(h2.groups, name)
	return h2
}

// Handle implements slog.Handler.
func (h *LineHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	scope := h.scope
	attrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == ScopeKey && len(h.groups) == 0 {
			scope = a.Value.Resolve().String()
			return true
		}
		attrs = appendFlattened(attrs, h.groups, a)
		return true
	})

	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(ts.UTC().Format(time.RFC3339))
	b.WriteString("] [")
	b.WriteString(scope)
	b.WriteString("] ")
	b.WriteString(levelText(r.Level))
	b.WriteString(": ")
	b.WriteString(r.Message)
	for _, a := range attrs {
		b.WriteByte(' ')
		b.WriteString(a.Key)
		b.WriteByte('=')
		b.WriteString(formatValue(a.Value))
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

// clone copies the handler, sharing the writer and its mutex so that all
// derived handlers serialize their writes.
func (h *LineHandler) clone() *LineHandler {
	return &LineHandler{
		mu:     h.mu,
		w:      h.w,
		level:  h.level,
		scope:  h.scope,
		attrs:  append([]slog.Attr(nil), h.attrs...),
		groups: append([]string(nil), h.groups...),
	}
}

// appendFlattened appends a with its key qualified by the active groups.
// Group-valued attributes are expanded inline with their name as an extra
// qualifier; empty attributes are dropped.
func appendFlattened(dst []slog.Attr, groups []string, a slog.Attr) []slog.Attr {
	a.Value = a.Value.Resolve()
	if a.Key == "" && a.Value.Any() == nil {
		return dst
	}
	if a.Value.Kind() == slog.KindGroup {
		sub := a.Value.Group()
		if len(sub) == 0 {
			return dst
		}
		inner := groups
		if a.Key != "" {
			inner = append(append([]string(nil), groups...), a.Key)
		}
		for _, sa := range sub {
			dst = appendFlattened(dst, inner, sa)
		}
		return dst
	}
	if len(groups) > 0 {
		a.Key = strings.Join(groups, ".") + "." + a.Key
	}
	return append(dst, a)
}

// levelText renders a slog.Level as the relay line's severity token.
func levelText(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARN"
	case l >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

// formatValue renders an attribute value, quoting it when it contains
// characters that would break key=value tokenization.
func formatValue(v slog.Value) string {
	s := v.String()
	if strings.ContainsAny(s, " =\"") {
		return strconv.Quote(s)
	}
	return s
}
