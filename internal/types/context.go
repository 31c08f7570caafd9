package types

import (
	"context"
)

// Context Keys
type contextKey string

const (
	runIDKey contextKey = "run_id"
)

// WithRunID stores the dispatch run ID in the context. Set by the scheduler
// when a run is dispatched and by the worker at startup, so every log line
// and outbound request within one run can be correlated.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// GetRunID retrieves the dispatch run ID from the context. Returns the empty
// string when no run is in progress (e.g. operator CLI invocations).
func GetRunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}
