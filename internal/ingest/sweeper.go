// Package ingest implements age-based cleanup of output directories.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stormsync/internal/types"
)

// Sweeper deletes stale artifacts from output directories. It refuses to
// touch any directory outside its base directory.
type Sweeper struct {
	baseDir string
	logger  *slog.Logger
	clock   types.Clock
}

// NewSweeper creates a Sweeper rooted at baseDir.
func NewSweeper(baseDir string, logger *slog.Logger, clock types.Clock) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Sweeper{baseDir: baseDir, logger: logger, clock: clock}
}

// Sweep deletes regular files in dir older than maxAge and returns the
// number deleted. A missing directory is not an error. Directories outside
// the base directory are refused.
func (s *Sweeper) Sweep(_ context.Context, dir string, maxAge time.Duration) (int, error) {
	if err := s.checkContained(dir); err != nil {
		s.logger.Error("refusing to sweep directory outside base", "dir", dir, "base", s.baseDir)
		return 0, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, &types.AppError{
			Code:    types.ErrCodeInternalUnexpected,
			Message: fmt.Sprintf("failed to read %s: %v", dir, err),
			Err:     err,
		}
	}

	cutoff := s.clock.Now().Add(-maxAge)
	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			s.logger.Error("failed to stat file during sweep", "path", path, "error", err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			s.logger.Error("failed to delete stale file", "path", path, "error", err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Debug("deleted stale files", "count", deleted, "dir", dir)
	}
	return deleted, nil
}

// SweepAll sweeps every directory in dirs, logging failures and continuing.
func (s *Sweeper) SweepAll(ctx context.Context, dirs []string, maxAge time.Duration) {
	for _, dir := range dirs {
		if _, err := s.Sweep(ctx, dir, maxAge); err != nil {
			s.logger.Error("sweep failed", "dir", dir, "error", err)
		}
	}
}

func (s *Sweeper) checkContained(dir string) error {
	base, err := filepath.Abs(s.baseDir)
	if err != nil {
		return &types.AppError{
			Code:    types.ErrCodeInternalUnexpected,
			Message: fmt.Sprintf("failed to resolve base directory %s: %v", s.baseDir, err),
			Err:     err,
		}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return &types.AppError{
			Code:    types.ErrCodeInternalUnexpected,
			Message: fmt.Sprintf("failed to resolve %s: %v", dir, err),
			Err:     err,
		}
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return &types.AppError{
			Code:    types.ErrCodeInternalUnexpected,
			Message: fmt.Sprintf("refusing to sweep %s outside base directory %s", dir, s.baseDir),
		}
	}
	return nil
}
