// Package ingest implements the fan-out service running every feed's
// pipeline for a target instant.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"stormsync/internal/timestamp"
	"stormsync/internal/types"
)

const (
	// RetrievalConcurrencyLimit caps the number of feeds retrieved at once
	// on the primary path.
	RetrievalConcurrencyLimit = 10

	// DefaultMaxEntries is the per-lookup candidate cap when none is
	// configured.
	DefaultMaxEntries = 10

	// DefaultHourLookback bounds hourly prefix generation when no lookback
	// is configured.
	DefaultHourLookback = 3

	// DefaultArtifactMaxAge is the sweep age for stale artifacts when none
	// is configured.
	DefaultArtifactMaxAge = time.Hour

	// satelliteSearchFloor is the minimum listing cap for multi-part feeds,
	// which produce roughly 180 files per hour.
	satelliteSearchFloor = 300

	// fallbackWorkerCount sizes the worker pool of the synchronous
	// fallback path.
	fallbackWorkerCount = 4
)

// ClientFactory builds a fresh listing/object client pair. The fallback path
// calls it per worker so each worker holds its own connections.
type ClientFactory func(ctx context.Context) (S3ListClient, S3Client, error)

// Telemetry counts feed-level retrieval failures. A nil Telemetry disables
// counting.
type Telemetry interface {
	CountFeedFailure(ctx context.Context, feed string)
}

// ServiceConfig carries the dependencies and tuning of a Service.
type ServiceConfig struct {
	Feeds []types.FeedDescriptor

	// Lister and Getter are the shared clients of the primary path. Leave
	// them nil when shared construction failed; Run then goes straight to
	// the fallback path.
	Lister S3ListClient
	Getter S3Client

	// Factory builds per-worker clients for the fallback path.
	Factory ClientFactory

	// Codec reads and writes multi-part artifacts. Nil defaults to JSON.
	Codec PartCodec

	BaseDir        string
	MaxEntries     int
	HourLookback   int
	ArtifactMaxAge time.Duration

	Telemetry Telemetry

	Logger *slog.Logger
	Clock  types.Clock
}

// Service retrieves the newest artifact of every configured feed for a
// target instant, sweeping stale output first.
type Service struct {
	feeds   []types.FeedDescriptor
	lister  S3ListClient
	getter  S3Client
	factory ClientFactory
	codec   PartCodec

	baseDir        string
	maxEntries     int
	hourLookback   int
	artifactMaxAge time.Duration

	telemetry Telemetry
	sweeper   *Sweeper
	logger    *slog.Logger
	clock     types.Clock
}

// NewService creates a Service from cfg, applying defaults for unset
// dependencies and tuning.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	codec := cfg.Codec
	if codec == nil {
		codec = JSONPartCodec{}
	}
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	hourLookback := cfg.HourLookback
	if hourLookback <= 0 {
		hourLookback = DefaultHourLookback
	}
	artifactMaxAge := cfg.ArtifactMaxAge
	if artifactMaxAge <= 0 {
		artifactMaxAge = DefaultArtifactMaxAge
	}
	return &Service{
		feeds:          cfg.Feeds,
		lister:         cfg.Lister,
		getter:         cfg.Getter,
		factory:        cfg.Factory,
		codec:          codec,
		baseDir:        cfg.BaseDir,
		maxEntries:     maxEntries,
		hourLookback:   hourLookback,
		artifactMaxAge: artifactMaxAge,
		telemetry:      cfg.Telemetry,
		sweeper:        NewSweeper(cfg.BaseDir, logger, clock),
		logger:         logger,
		clock:          clock,
	}
}

// Run retrieves every feed's artifact for target. Per-feed failures are
// logged and isolated; Run never returns an error because a partial batch is
// still useful downstream. When the primary path fails for a reason not
// attributable to a single feed, every feed is re-run on the fallback path.
func (s *Service) Run(ctx context.Context, target time.Time) {
	s.sweepOutputDirs(ctx)

	if err := s.runConcurrent(ctx, target); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("concurrent retrieval failed", "error", err)
		s.logger.Info("falling back to synchronous retrieval")
		s.runFallback(ctx, target)
	}
}

func (s *Service) countFailure(ctx context.Context, feed string) {
	if s.telemetry != nil {
		s.telemetry.CountFeedFailure(ctx, feed)
	}
}

func (s *Service) sweepOutputDirs(ctx context.Context) {
	dirs := make([]string, 0, len(s.feeds))
	for _, feed := range s.feeds {
		dirs = append(dirs, filepath.Join(s.baseDir, feed.OutputDir))
	}
	s.sweeper.SweepAll(ctx, dirs, s.artifactMaxAge)
}

// feedClients bundles the clients one retrieval uses, so the primary and
// fallback paths share the same pipeline code.
type feedClients struct {
	lister S3ListClient
	getter S3Client
}

func (s *Service) runConcurrent(ctx context.Context, target time.Time) error {
	if s.lister == nil || s.getter == nil {
		return &types.AppError{
			Code:    types.ErrCodeInternalUnexpected,
			Message: "shared retrieval clients unavailable",
		}
	}
	clients := feedClients{lister: s.lister, getter: s.getter}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(RetrievalConcurrencyLimit)

	for _, feed := range s.feeds {
		feed := feed

		g.Go(func() error {
			if err := s.retrieveFeed(gCtx, clients, feed, target); err != nil {
				s.logger.Error("feed retrieval failed", "feed", feed.ID(), "error", err)
				s.countFailure(gCtx, feed.ID())
				// Do not propagate error to errgroup; allow other feeds to succeed.
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Service) runFallback(ctx context.Context, target time.Time) {
	if s.factory == nil {
		s.logger.Error("no client factory configured, skipping fallback")
		return
	}

	jobs := make(chan types.FeedDescriptor)
	var wg sync.WaitGroup
	for i := 0; i < fallbackWorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lister, getter, err := s.factory(ctx)
			if err != nil {
				s.logger.Error("failed to build fallback clients", "error", err)
				for feed := range jobs {
					s.logger.Warn("skipping feed, no fallback client", "feed", feed.ID())
				}
				return
			}
			clients := feedClients{lister: lister, getter: getter}
			for feed := range jobs {
				if err := s.retrieveFeed(ctx, clients, feed, target); err != nil {
					s.logger.Error("feed retrieval failed", "feed", feed.ID(), "error", err)
					s.countFailure(ctx, feed.ID())
				}
			}
		}()
	}

feeding:
	for _, feed := range s.feeds {
		select {
		case jobs <- feed:
		case <-ctx.Done():
			break feeding
		}
	}
	close(jobs)
	wg.Wait()
}

// retrieveFeed runs one feed's full pipeline: discovery, selection,
// retrieval, and merge for multi-part feeds.
func (s *Service) retrieveFeed(ctx context.Context, clients feedClients, feed types.FeedDescriptor, target time.Time) error {
	outdir := filepath.Join(s.baseDir, feed.OutputDir)
	if feed.MultiPart {
		return s.retrieveWindowed(ctx, clients, feed, target, outdir)
	}
	return s.retrieveSingle(ctx, clients, feed, target, outdir)
}

func (s *Service) retrieveSingle(ctx context.Context, clients feedClients, feed types.FeedDescriptor, target time.Time, outdir string) error {
	// Single-file feeds address whole minutes.
	target = timestamp.TruncateMinute(target)

	finder := NewFinder(clients.lister, feed.Bucket, s.logger)
	window := types.RetrievalWindow{Target: target, MaxEntries: s.maxEntries}
	candidates, err := finder.Lookup(ctx, SearchPrefixes(feed, target, s.hourLookback), window)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		s.logger.Warn("no candidates found", "feed", feed.ID(), "target", target)
		return nil
	}

	rec, fellBack, _ := SelectExact(candidates, target)
	if fellBack {
		s.logger.Warn("no candidate in target bucket, falling back to latest available",
			"feed", feed.ID(),
			"target", timestamp.RoundToEvenMinute(target),
			"latest", rec.Timestamp)
	}

	retriever := NewRetriever(clients.getter, feed.Bucket, s.logger)
	artifact, err := retriever.Materialize(ctx, rec, outdir)
	if err != nil {
		return err
	}
	s.logger.Info("feed artifact current", "feed", feed.ID(), "path", artifact.Path)
	return nil
}

func (s *Service) retrieveWindowed(ctx context.Context, clients feedClients, feed types.FeedDescriptor, target time.Time, outdir string) error {
	maxEntries := s.maxEntries
	if maxEntries < satelliteSearchFloor {
		maxEntries = satelliteSearchFloor
	}

	finder := NewFinder(clients.lister, feed.Bucket, s.logger)
	window := types.RetrievalWindow{Target: target, MaxEntries: maxEntries}
	candidates, err := finder.Lookup(ctx, SearchPrefixes(feed, target, s.hourLookback), window)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		s.logger.Warn("no candidates found", "feed", feed.ID(), "target", target)
		return nil
	}

	parts := SelectWindow(candidates, target)
	if len(parts) == 0 {
		s.logger.Warn("no candidates in retrieval window",
			"feed", feed.ID(),
			"window_start", target.Add(-time.Minute),
			"window_end", target)
		return nil
	}

	retriever := NewRetriever(clients.getter, feed.Bucket, s.logger)
	var files []string
	for _, part := range parts {
		artifact, err := retriever.Materialize(ctx, part, outdir)
		if err != nil {
			s.logger.Warn("part retrieval failed", "feed", feed.ID(), "key", part.Key, "error", err)
			continue
		}
		files = append(files, artifact.Path)
	}
	if len(files) == 0 {
		return &types.AppError{
			Code:    types.ErrCodeFeedTransferFailed,
			Message: fmt.Sprintf("no parts retrieved for %s", feed.ID()),
		}
	}

	merger := NewMerger(s.codec, s.logger)
	files = merger.MergeParts(ctx, files, outdir, feed.Product(), target)
	s.logger.Info("feed artifacts current", "feed", feed.ID(), "files", len(files))
	return nil
}
