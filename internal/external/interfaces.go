package external

import (
	"context"
	"time"
)

// ---------------------------------------------------------------------------
// Web Directory Index (NCEP MRMS mirror)
// ---------------------------------------------------------------------------

// WebIndexFinder abstracts the NCEP HTTP directory index that mirrors the
// MRMS open-data buckets. Implementations return full artifact URLs so the
// caller never reconstructs index paths.
type WebIndexFinder interface {
	// FindFiles scrapes the product's index page and returns the full URLs
	// of artifacts whose names carry the given UTC day. The index is flat
	// and only holds about a day of history.
	FindFiles(ctx context.Context, region, modifier string, day time.Time) ([]string, error)
}

// ---------------------------------------------------------------------------
// Coded Surface Analysis (WPC)
// ---------------------------------------------------------------------------

// SurfaceFetcher abstracts the WPC coded surface analysis archive.
type SurfaceFetcher interface {
	// FetchSurface retrieves the coded surface bulletin valid at or before
	// the given instant. Implementations may substitute the preceding
	// issuance when the expected one is not yet published; the returned
	// bulletin carries the valid time that was actually served.
	FetchSurface(ctx context.Context, at time.Time) (*SurfaceBulletin, error)
}

// SurfaceBulletin is one coded surface analysis as served by WPC.
type SurfaceBulletin struct {
	// ValidTime is the analysis valid instant: the issuance day plus the
	// issuance hour, UTC. Minutes and seconds are always zero.
	ValidTime time.Time
	// Text is the raw coded bulletin body, unparsed.
	Text []byte
}
