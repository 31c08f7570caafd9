// Package ingest implements bounded candidate discovery over remote listings.
package ingest

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"stormsync/internal/timestamp"
	"stormsync/internal/types"
)

// S3ListClient is the subset of the S3 API needed for listing objects.
type S3ListClient interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// CandidateLister finds the newest candidate records under a set of prefixes.
// Implementations return at most window.MaxEntries records at or before
// window.Target, newest first.
type CandidateLister interface {
	Lookup(ctx context.Context, prefixes []string, window types.RetrievalWindow) ([]types.CandidateRecord, error)
}

// Finder lists remote objects and keeps the newest eligible candidates in a
// fixed-size min-heap, so memory stays bounded no matter how large the
// listing is.
type Finder struct {
	client S3ListClient
	bucket string
	logger *slog.Logger
}

// NewFinder creates a Finder over the given bucket.
func NewFinder(client S3ListClient, bucket string, logger *slog.Logger) *Finder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Finder{
		client: client,
		bucket: bucket,
		logger: logger,
	}
}

// Lookup scans prefixes in order and returns up to window.MaxEntries records
// with timestamps at or before window.Target, newest first. Keys without a
// recognizable timestamp are skipped. Prefixes must be ordered newest first:
// once the heap is full after a prefix, later prefixes cannot contribute and
// scanning stops.
func (f *Finder) Lookup(ctx context.Context, prefixes []string, window types.RetrievalWindow) ([]types.CandidateRecord, error) {
	if window.MaxEntries <= 0 || len(prefixes) == 0 {
		return nil, nil
	}

	h := &candidateHeap{}
	heap.Init(h)

	for _, prefix := range prefixes {
		if err := f.scanPrefix(ctx, prefix, window, h); err != nil {
			return nil, err
		}
		if h.Len() >= window.MaxEntries {
			// Later prefixes only hold older objects; once full, stop.
			break
		}
	}

	out := make([]types.CandidateRecord, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(types.CandidateRecord)
	}
	return out, nil
}

func (f *Finder) scanPrefix(ctx context.Context, prefix string, window types.RetrievalWindow, h *candidateHeap) error {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(f.bucket),
		Prefix: aws.String(prefix),
	}

	for {
		output, err := f.client.ListObjectsV2(ctx, input)
		if err != nil {
			return &types.AppError{
				Code:    types.ErrCodeFeedListingFailed,
				Message: fmt.Sprintf("failed to list %s/%s: %v", f.bucket, prefix, err),
				Err:     err,
			}
		}

		for _, obj := range output.Contents {
			if obj.Key == nil {
				continue
			}
			key := *obj.Key
			ts, ok := timestamp.Extract(key)
			if !ok {
				continue
			}
			if ts.After(window.Target) {
				continue
			}
			offer(h, types.CandidateRecord{Key: key, Timestamp: ts}, window.MaxEntries)
		}

		if output.IsTruncated == nil || !*output.IsTruncated {
			break
		}
		input.ContinuationToken = output.NextContinuationToken
	}
	return nil
}

// offer pushes rec onto the heap, evicting the oldest record when the heap is
// at capacity and rec is newer. Ties keep the record already held.
func offer(h *candidateHeap, rec types.CandidateRecord, capacity int) {
	if h.Len() < capacity {
		heap.Push(h, rec)
		return
	}
	if rec.Timestamp.After((*h)[0].Timestamp) {
		(*h)[0] = rec
		heap.Fix(h, 0)
	}
}

// candidateHeap is a min-heap of candidate records ordered by timestamp, so
// the root is always the oldest record held.
type candidateHeap []types.CandidateRecord

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return h[i].Timestamp.Before(h[j].Timestamp) }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)        { *h = append(*h, x.(types.CandidateRecord)) }

func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	rec := old[n-1]
	*h = old[:n-1]
	return rec
}
