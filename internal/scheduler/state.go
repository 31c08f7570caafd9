package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"stormsync/internal/types"
)

// StateFileName is the resume-point file kept under the storage base
// directory.
const StateFileName = "latest_processed.json"

// ScheduleState is the durable resume point. A zero LastProcessed means the
// scheduler has never dispatched and starts cold.
type ScheduleState struct {
	LastProcessed time.Time `json:"last_processed"`
}

// StateStore persists the scheduler's resume point across restarts.
type StateStore interface {
	// Load returns the persisted state. A zero state is a cold start, not
	// an error.
	Load(ctx context.Context) (ScheduleState, error)
	// Save durably persists state.
	Save(ctx context.Context, state ScheduleState) error
}

// FileStateStore keeps ScheduleState as JSON in a single file. Saves go
// through a temp file in the same directory plus a rename, so a crash never
// leaves a half-written resume point behind.
type FileStateStore struct {
	path string
}

// NewFileStateStore creates a store backed by the file at path.
func NewFileStateStore(path string) *FileStateStore {
	return &FileStateStore{path: path}
}

// Path returns the backing file path.
func (s *FileStateStore) Path() string {
	return s.path
}

// Load reads the persisted state. A missing file yields a zero state and no
// error. An unreadable or unparsable file yields a zero state together with
// a StateCorrupt error; callers log it and continue cold.
func (s *FileStateStore) Load(ctx context.Context) (ScheduleState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return ScheduleState{}, nil
	}
	if err != nil {
		return ScheduleState{}, types.NewAppError(
			types.ErrCodeStateCorrupt,
			fmt.Sprintf("failed to read schedule state %s", s.path),
			err,
		)
	}

	var state ScheduleState
	if err := json.Unmarshal(data, &state); err != nil {
		return ScheduleState{}, types.NewAppError(
			types.ErrCodeStateCorrupt,
			fmt.Sprintf("failed to decode schedule state %s", s.path),
			err,
		)
	}
	return state, nil
}

// Save writes state atomically. The temp file lands in the target directory
// so the rename never crosses filesystems.
func (s *FileStateStore) Save(ctx context.Context, state ScheduleState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to encode schedule state",
			err,
		)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			fmt.Sprintf("failed to create state directory %s", dir),
			err,
		)
	}

	tmp, err := os.CreateTemp(dir, StateFileName+".*")
	if err != nil {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			fmt.Sprintf("failed to create temp state file in %s", dir),
			err,
		)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			fmt.Sprintf("failed to write schedule state %s", tmpPath),
			err,
		)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			fmt.Sprintf("failed to close schedule state %s", tmpPath),
			err,
		)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			fmt.Sprintf("failed to replace schedule state %s", s.path),
			err,
		)
	}
	return nil
}

// Compile-time interface compliance check.
var _ StateStore = (*FileStateStore)(nil)
