package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"stormsync/internal/types"
)

func TestFileStateStoreLoadMissing(t *testing.T) {
	store := NewFileStateStore(filepath.Join(t.TempDir(), StateFileName))

	state, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v, want nil for missing file", err)
	}
	if !state.LastProcessed.IsZero() {
		t.Errorf("LastProcessed = %v, want zero", state.LastProcessed)
	}
}

func TestFileStateStoreSaveLoadRoundTrip(t *testing.T) {
	store := NewFileStateStore(filepath.Join(t.TempDir(), StateFileName))
	target := time.Date(2026, 3, 4, 12, 34, 0, 0, time.UTC)

	if err := store.Save(context.Background(), ScheduleState{LastProcessed: target}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	state, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !state.LastProcessed.Equal(target) {
		t.Errorf("LastProcessed = %v, want %v", state.LastProcessed, target)
	}
}

func TestFileStateStoreSaveCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", StateFileName)
	store := NewFileStateStore(path)

	if err := store.Save(context.Background(), ScheduleState{LastProcessed: time.Now().UTC()}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("state file not created: %v", err)
	}
}

func TestFileStateStoreSaveOverwrites(t *testing.T) {
	store := NewFileStateStore(filepath.Join(t.TempDir(), StateFileName))
	first := time.Date(2026, 3, 4, 12, 30, 0, 0, time.UTC)
	second := first.Add(2 * time.Minute)

	if err := store.Save(context.Background(), ScheduleState{LastProcessed: first}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save(context.Background(), ScheduleState{LastProcessed: second}); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	state, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !state.LastProcessed.Equal(second) {
		t.Errorf("LastProcessed = %v, want %v", state.LastProcessed, second)
	}
}

func TestFileStateStoreSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStateStore(filepath.Join(dir, StateFileName))

	if err := store.Save(context.Background(), ScheduleState{LastProcessed: time.Now().UTC()}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != StateFileName {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory contents = %v, want only %s", names, StateFileName)
	}
}

func TestFileStateStoreLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), StateFileName)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	store := NewFileStateStore(path)

	state, err := store.Load(context.Background())
	if err == nil {
		t.Fatal("Load() error = nil, want StateCorrupt")
	}
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("Load() error = %T, want *types.AppError", err)
	}
	if appErr.Code != types.ErrCodeStateCorrupt {
		t.Errorf("error code = %s, want %s", appErr.Code, types.ErrCodeStateCorrupt)
	}
	if !state.LastProcessed.IsZero() {
		t.Errorf("LastProcessed = %v, want zero on corrupt state", state.LastProcessed)
	}
}

func TestFileStateStoreLoadOffsetTimestamp(t *testing.T) {
	// Files written by older tooling carry a +00:00 offset instead of Z.
	path := filepath.Join(t.TempDir(), StateFileName)
	if err := os.WriteFile(path, []byte(`{"last_processed": "2026-03-04T12:34:00+00:00"}`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	store := NewFileStateStore(path)

	state, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := time.Date(2026, 3, 4, 12, 34, 0, 0, time.UTC)
	if !state.LastProcessed.Equal(want) {
		t.Errorf("LastProcessed = %v, want %v", state.LastProcessed, want)
	}
}
