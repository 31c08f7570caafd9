package scheduler

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"stormsync/internal/timestamp"
	"stormsync/internal/types"
)

// CheckConcurrencyLimit bounds how many feeds are probed at once during a
// check cycle.
const CheckConcurrencyLimit = 8

// FeedSource reports the instants recently visible for one feed.
// *ingest.CheckSource is the production implementation.
type FeedSource interface {
	// Feed returns the descriptor this source observes.
	Feed() types.FeedDescriptor
	// Observe returns the timestamps of candidates visible at reference.
	Observe(ctx context.Context, reference time.Time) ([]time.Time, error)
}

// UpdateChecker computes the newest instant available from every configured
// feed at once.
type UpdateChecker struct {
	sources []FeedSource
	logger  *slog.Logger
}

// NewUpdateChecker creates an UpdateChecker over sources.
func NewUpdateChecker(sources []FeedSource, logger *slog.Logger) *UpdateChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &UpdateChecker{sources: sources, logger: logger}
}

// LatestCommon probes every source concurrently and returns the newest
// two-minute instant present in all of them. Observed timestamps are rounded
// to their even-minute bucket before intersecting, since feeds stamp the
// same mosaic cycle a few seconds apart.
//
// A source that fails or reports nothing contributes an empty set. Empty
// sets still participate in the intersection, so one blind feed holds back
// dispatch instead of shrinking the quorum. The second return is false when
// no common instant exists.
func (c *UpdateChecker) LatestCommon(ctx context.Context, reference time.Time) (time.Time, bool) {
	if len(c.sources) == 0 {
		return time.Time{}, false
	}

	buckets := make([]map[time.Time]struct{}, len(c.sources))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(CheckConcurrencyLimit)
	for i, source := range c.sources {
		i, source := i, source

		g.Go(func() error {
			observed, err := source.Observe(gCtx, reference)
			if err != nil {
				c.logger.WarnContext(gCtx, "feed check failed",
					"feed", source.Feed().ID(),
					"error", err,
				)
				// Leave the set empty; the feed still participates.
				buckets[i] = map[time.Time]struct{}{}
				return nil
			}
			set := make(map[time.Time]struct{}, len(observed))
			for _, ts := range observed {
				set[timestamp.RoundToEvenMinute(ts)] = struct{}{}
			}
			buckets[i] = set
			return nil
		})
	}
	// Sources never propagate errors through the group.
	_ = g.Wait()

	common := intersect(buckets)
	c.logger.DebugContext(ctx, "feed check complete",
		"feeds", len(c.sources),
		"common", len(common),
	)
	if len(common) == 0 {
		return time.Time{}, false
	}

	var latest time.Time
	for ts := range common {
		if ts.After(latest) {
			latest = ts
		}
	}
	return latest, true
}

// intersect returns the instants present in every set.
func intersect(sets []map[time.Time]struct{}) map[time.Time]struct{} {
	common := make(map[time.Time]struct{}, len(sets[0]))
	for ts := range sets[0] {
		common[ts] = struct{}{}
	}
	for _, set := range sets[1:] {
		for ts := range common {
			if _, ok := set[ts]; !ok {
				delete(common, ts)
			}
		}
		if len(common) == 0 {
			break
		}
	}
	return common
}
