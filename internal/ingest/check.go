package ingest

import (
	"context"
	"log/slog"
	"time"

	"stormsync/internal/types"
)

// CheckMaxEntries is the candidate cap used when probing a feed for the
// common-instant computation. Double the retrieval default: at the
// two-minute mosaic cadence it covers roughly forty minutes of history.
const CheckMaxEntries = 20

// CheckSource observes the instants recently visible for one feed. It backs
// the scheduler's common-instant computation and reports raw candidate
// timestamps; bucketing and intersection happen upstream.
type CheckSource struct {
	feed         types.FeedDescriptor
	finder       *Finder
	maxEntries   int
	hourLookback int
}

// NewCheckSource creates a CheckSource for feed backed by client.
func NewCheckSource(client S3ListClient, feed types.FeedDescriptor, hourLookback int, logger *slog.Logger) *CheckSource {
	if hourLookback <= 0 {
		hourLookback = DefaultHourLookback
	}
	return &CheckSource{
		feed:         feed,
		finder:       NewFinder(client, feed.Bucket, logger),
		maxEntries:   CheckMaxEntries,
		hourLookback: hourLookback,
	}
}

// Feed returns the descriptor this source observes.
func (s *CheckSource) Feed() types.FeedDescriptor {
	return s.feed
}

// Observe returns the timestamps of the newest candidates visible for the
// feed at reference, newest first.
func (s *CheckSource) Observe(ctx context.Context, reference time.Time) ([]time.Time, error) {
	window := types.RetrievalWindow{Target: reference, MaxEntries: s.maxEntries}
	candidates, err := s.finder.Lookup(ctx, SearchPrefixes(s.feed, reference, s.hourLookback), window)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, len(candidates))
	for i, c := range candidates {
		out[i] = c.Timestamp
	}
	return out, nil
}
