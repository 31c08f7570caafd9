package types

import (
	"strings"
	"time"
)

// KeyLayout identifies how a feed organizes object keys in its remote store.
type KeyLayout string

const (
	// LayoutDateTree is the radar-mosaic layout: region/modifier/YYYYMMDD/,
	// collapsing to region/YYYYMMDD/ for feeds without a modifier.
	LayoutDateTree KeyLayout = "date_tree"
	// LayoutJulianTree is the satellite layout: product/YYYY/DDD/HH/ with
	// one directory per hour, day-of-year based.
	LayoutJulianTree KeyLayout = "julian_tree"
)

// FeedDescriptor identifies one remotely-hosted, independently updated data
// product monitored by the pipeline. Descriptors are immutable and configured
// at startup; identity is (Region, Modifier).
type FeedDescriptor struct {
	// Bucket is the remote object store holding the feed.
	Bucket string
	// Region is the top-level path segment (e.g. "CONUS", "ProbSevere", or
	// the satellite product name for Julian-tree feeds).
	Region string
	// Modifier selects the product subfolder. Empty means the feed uses the
	// flat region/YYYYMMDD/ layout and carries no product segment.
	Modifier string
	// Layout selects how object keys are organized under the bucket.
	Layout KeyLayout
	// OutputDir is the feed's output directory, relative to the configured
	// base directory. Owned exclusively by this feed.
	OutputDir string
	// MultiPart marks feeds whose single instant spans several small files,
	// retrieved with the sliding window and merged afterwards.
	MultiPart bool
}

// ID returns the feed identity string, "<region>/<modifier>" or bare
// "<region>" when the feed has no modifier.
func (f FeedDescriptor) ID() string {
	if f.Modifier == "" {
		return f.Region
	}
	return f.Region + "/" + f.Modifier
}

// Product returns the short product name used in logs and the status API:
// the modifier when present, else the region.
func (f FeedDescriptor) Product() string {
	if f.Modifier == "" {
		return f.Region
	}
	return f.Modifier
}

// CandidateRecord is one remote object discovered by the finder. Ephemeral;
// never persisted.
type CandidateRecord struct {
	// Key is the full object key within the feed's bucket.
	Key string
	// Timestamp is the instant extracted from the key, always UTC.
	Timestamp time.Time
}

// Basename returns the final path element of the candidate's key.
func (c CandidateRecord) Basename() string {
	if i := strings.LastIndexByte(c.Key, '/'); i >= 0 {
		return c.Key[i+1:]
	}
	return c.Key
}

// RetrievalWindow bounds one discovery lookup: nothing newer than Target is
// returned, and at most MaxEntries candidates are kept.
type RetrievalWindow struct {
	Target     time.Time
	MaxEntries int
}

// LocalArtifact is a feed file materialized on local disk. A compressed
// artifact and its decompressed sibling are both valid representations of the
// same logical file; existence of either one is the idempotency signal.
type LocalArtifact struct {
	Path       string `json:"path"`
	Compressed bool   `json:"compressed"`
}
