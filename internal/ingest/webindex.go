package ingest

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"stormsync/internal/external"
	"stormsync/internal/timestamp"
	"stormsync/internal/types"
)

// WebIndexLister implements CandidateLister over the NCEP web directory index
// instead of a bucket listing. The index mirrors the mosaic bucket with a
// flat per-product layout, so listing prefixes do not apply: the catalog's
// layout drives the scan, and the prefixes argument is ignored. Candidate
// keys are full artifact URLs.
//
// Satellite feeds are not mirrored by the index and are rejected outright.
type WebIndexLister struct {
	finder external.WebIndexFinder
	feed   types.FeedDescriptor
	logger *slog.Logger
}

// NewWebIndexLister creates a lister for one feed over the web index.
func NewWebIndexLister(finder external.WebIndexFinder, feed types.FeedDescriptor, logger *slog.Logger) *WebIndexLister {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebIndexLister{
		finder: finder,
		feed:   feed,
		logger: logger,
	}
}

// Lookup scans the target's day and, while still under capacity, the day
// before, returning up to window.MaxEntries records at or before
// window.Target, newest first. Names without a recognizable timestamp are
// skipped, same as the bucket path.
func (l *WebIndexLister) Lookup(ctx context.Context, _ []string, window types.RetrievalWindow) ([]types.CandidateRecord, error) {
	if window.MaxEntries <= 0 {
		return nil, nil
	}
	if l.feed.Layout == types.LayoutJulianTree {
		return nil, types.NewAppError(
			types.ErrCodeNotFoundFeed,
			fmt.Sprintf("feed %s is not mirrored by the web index", l.feed.ID()),
			nil,
		)
	}

	h := &candidateHeap{}
	heap.Init(h)

	days := []time.Time{window.Target, window.Target.AddDate(0, 0, -1)}
	for _, day := range days {
		urls, err := l.finder.FindFiles(ctx, l.feed.Region, l.feed.Modifier, day)
		if err != nil {
			return nil, err
		}
		for _, u := range urls {
			ts, ok := timestamp.Extract(path.Base(u))
			if !ok {
				continue
			}
			if ts.After(window.Target) {
				continue
			}
			offer(h, types.CandidateRecord{Key: u, Timestamp: ts}, window.MaxEntries)
		}
		if h.Len() >= window.MaxEntries {
			// The previous day only holds older files; once full, stop.
			break
		}
	}

	out := make([]types.CandidateRecord, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(types.CandidateRecord)
	}
	return out, nil
}

var _ CandidateLister = (*WebIndexLister)(nil)
