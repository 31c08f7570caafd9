// Package wpc keeps the local store of WPC coded surface analysis bulletins.
// Bulletins land as raw text under <base>/wpc/surface_analysis for the
// downstream GeoJSON converter to pick up; this package never parses them.
package wpc

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"stormsync/internal/external"
	"stormsync/internal/ingest"
	"stormsync/internal/types"
)

// DefaultMaxAge is how long stored bulletins are kept. Two issuance cycles
// are enough for any downstream consumer that polls at all.
const DefaultMaxAge = 6 * time.Hour

// ArtifactName returns the stored file name for one issuance,
// wpc_sfc_<YYYYMMDD>-<HH>0000.txt. Lexicographic order equals
// chronological order.
func ArtifactName(valid time.Time) string {
	valid = valid.UTC()
	return fmt.Sprintf("wpc_sfc_%s-%02d0000.txt", valid.Format("20060102"), valid.Hour())
}

// StoreConfig configures a Store. Fetcher and BaseDir are required; the rest
// default sensibly.
type StoreConfig struct {
	Fetcher external.SurfaceFetcher
	BaseDir string
	// MaxAge is the sweep age for stored bulletins. Zero means DefaultMaxAge.
	MaxAge time.Duration
	Logger *slog.Logger
	Clock  types.Clock
}

// Store downloads and retains surface analysis bulletins.
type Store struct {
	fetcher external.SurfaceFetcher
	dir     string
	maxAge  time.Duration
	logger  *slog.Logger
	sweeper *ingest.Sweeper
}

// NewStore creates a Store rooted at cfg.BaseDir.
func NewStore(cfg StoreConfig) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Store{
		fetcher: cfg.Fetcher,
		dir:     filepath.Join(cfg.BaseDir, "wpc", "surface_analysis"),
		maxAge:  maxAge,
		logger:  logger,
		sweeper: ingest.NewSweeper(cfg.BaseDir, logger, clock),
	}
}

// Dir returns the bulletin directory.
func (s *Store) Dir() string {
	return s.dir
}

// Sync brings the store current for the issuance covering the given instant:
// sweep stale bulletins, then fetch and write the expected one unless it is
// already on disk. Idempotence keys on the expected issuance, so a bulletin
// served from the fallback does not stop a later run from picking up the
// real one once it is published.
func (s *Store) Sync(ctx context.Context, at time.Time) error {
	if deleted, err := s.sweeper.Sweep(ctx, s.dir, s.maxAge); err != nil {
		s.logger.ErrorContext(ctx, "surface analysis sweep failed",
			"dir", s.dir,
			"error", err,
		)
	} else if deleted > 0 {
		s.logger.DebugContext(ctx, "swept stale bulletins",
			"dir", s.dir,
			"deleted", deleted,
		)
	}

	expected := external.SnapValidTime(at)
	expectedPath := filepath.Join(s.dir, ArtifactName(expected))
	if fileExists(expectedPath) {
		s.logger.DebugContext(ctx, "surface analysis already on disk",
			"path", expectedPath,
		)
		return nil
	}

	bulletin, err := s.fetcher.FetchSurface(ctx, at)
	if err != nil {
		return err
	}

	outPath := filepath.Join(s.dir, ArtifactName(bulletin.ValidTime))
	if fileExists(outPath) {
		s.logger.DebugContext(ctx, "surface analysis already on disk",
			"path", outPath,
		)
		return nil
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return types.NewAppError(
			types.ErrCodeFeedTransferFailed,
			fmt.Sprintf("failed to create bulletin directory %s", s.dir),
			err,
		)
	}

	if err := os.WriteFile(outPath, bulletin.Text, 0o644); err != nil {
		os.Remove(outPath)
		return types.NewAppError(
			types.ErrCodeFeedTransferFailed,
			fmt.Sprintf("failed to write bulletin %s", outPath),
			err,
		)
	}

	s.logger.InfoContext(ctx, "surface analysis stored",
		"path", outPath,
		"valid_time", bulletin.ValidTime.Format(time.RFC3339),
		"bytes", len(bulletin.Text),
	)
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
