package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"stormsync/internal/types"
)

// mockWebIndexFinder fakes the NCEP index client with canned URL lists keyed
// by product and day.
type mockWebIndexFinder struct {
	responses map[string][]string
	errors    map[string]error
	callLog   []string
}

func newMockWebIndexFinder() *mockWebIndexFinder {
	return &mockWebIndexFinder{
		responses: make(map[string][]string),
		errors:    make(map[string]error),
	}
}

func indexKey(region, modifier string, day time.Time) string {
	return region + "/" + modifier + "/" + day.UTC().Format("20060102")
}

func (m *mockWebIndexFinder) setFiles(region, modifier string, day time.Time, urls []string) {
	m.responses[indexKey(region, modifier, day)] = urls
}

func (m *mockWebIndexFinder) setError(region, modifier string, day time.Time, err error) {
	m.errors[indexKey(region, modifier, day)] = err
}

func (m *mockWebIndexFinder) FindFiles(_ context.Context, region, modifier string, day time.Time) ([]string, error) {
	key := indexKey(region, modifier, day)
	m.callLog = append(m.callLog, key)
	if err, ok := m.errors[key]; ok {
		return nil, err
	}
	return m.responses[key], nil
}

const indexBase = "https://mrms.ncep.noaa.gov/data/2D/EchoTop_18"

func echoTopFeedForIndex() types.FeedDescriptor {
	return types.FeedDescriptor{
		Bucket:    "noaa-mrms-pds",
		Region:    "CONUS",
		Modifier:  "EchoTop_18_00.50",
		Layout:    types.LayoutDateTree,
		OutputDir: "data/EchoTop18",
	}
}

func TestWebIndexLookupTopK(t *testing.T) {
	target := time.Date(2025, 6, 11, 14, 39, 0, 0, time.UTC)
	finder := newMockWebIndexFinder()
	finder.setFiles("CONUS", "EchoTop_18_00.50", target, []string{
		indexBase + "/MRMS_EchoTop_18_00.50_20250611-143600.grib2.gz",
		indexBase + "/MRMS_EchoTop_18_00.50_20250611-144000.grib2.gz", // after target
		indexBase + "/MRMS_EchoTop_18_00.50_20250611-143800.grib2.gz",
		indexBase + "/latest.grib2.gz", // no timestamp
		indexBase + "/MRMS_EchoTop_18_00.50_20250611-143400.grib2.gz",
	})

	lister := NewWebIndexLister(finder, echoTopFeedForIndex(), testLogger())

	got, err := lister.Lookup(context.Background(), nil, types.RetrievalWindow{
		Target:     target,
		MaxEntries: 2,
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	want := []string{
		indexBase + "/MRMS_EchoTop_18_00.50_20250611-143800.grib2.gz",
		indexBase + "/MRMS_EchoTop_18_00.50_20250611-143600.grib2.gz",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d candidates, got %d: %v", len(want), len(got), got)
	}
	for i, rec := range got {
		if rec.Key != want[i] {
			t.Errorf("candidate %d: expected key %s, got %s", i, want[i], rec.Key)
		}
	}
}

func TestWebIndexLookupSpillsToPreviousDay(t *testing.T) {
	target := time.Date(2025, 6, 11, 0, 2, 0, 0, time.UTC)
	finder := newMockWebIndexFinder()
	finder.setFiles("CONUS", "EchoTop_18_00.50", target, []string{
		indexBase + "/MRMS_EchoTop_18_00.50_20250611-000000.grib2.gz",
	})
	finder.setFiles("CONUS", "EchoTop_18_00.50", target.AddDate(0, 0, -1), []string{
		indexBase + "/MRMS_EchoTop_18_00.50_20250610-235800.grib2.gz",
		indexBase + "/MRMS_EchoTop_18_00.50_20250610-235600.grib2.gz",
	})

	lister := NewWebIndexLister(finder, echoTopFeedForIndex(), testLogger())

	got, err := lister.Lookup(context.Background(), nil, types.RetrievalWindow{
		Target:     target,
		MaxEntries: 2,
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d: %v", len(got), got)
	}
	if got[0].Timestamp != time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC) {
		t.Errorf("expected newest candidate from the target day, got %v", got[0].Timestamp)
	}
	if got[1].Timestamp != time.Date(2025, 6, 10, 23, 58, 0, 0, time.UTC) {
		t.Errorf("expected second candidate from the previous day, got %v", got[1].Timestamp)
	}

	wantCalls := []string{
		"CONUS/EchoTop_18_00.50/20250611",
		"CONUS/EchoTop_18_00.50/20250610",
	}
	if len(finder.callLog) != len(wantCalls) {
		t.Fatalf("expected calls %v, got %v", wantCalls, finder.callLog)
	}
	for i, c := range finder.callLog {
		if c != wantCalls[i] {
			t.Errorf("call %d: expected %s, got %s", i, wantCalls[i], c)
		}
	}
}

func TestWebIndexLookupStopsWhenSaturated(t *testing.T) {
	target := time.Date(2025, 6, 11, 14, 39, 0, 0, time.UTC)
	finder := newMockWebIndexFinder()
	finder.setFiles("CONUS", "EchoTop_18_00.50", target, []string{
		indexBase + "/MRMS_EchoTop_18_00.50_20250611-143600.grib2.gz",
		indexBase + "/MRMS_EchoTop_18_00.50_20250611-143800.grib2.gz",
	})

	lister := NewWebIndexLister(finder, echoTopFeedForIndex(), testLogger())

	got, err := lister.Lookup(context.Background(), nil, types.RetrievalWindow{
		Target:     target,
		MaxEntries: 2,
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}

	if len(finder.callLog) != 1 {
		t.Errorf("expected the previous day to be skipped once full, calls: %v", finder.callLog)
	}
}

func TestWebIndexLookupRejectsSatelliteFeeds(t *testing.T) {
	finder := newMockWebIndexFinder()
	lister := NewWebIndexLister(finder, satelliteTestFeed(), testLogger())

	_, err := lister.Lookup(context.Background(), nil, types.RetrievalWindow{
		Target:     time.Date(2025, 6, 11, 14, 0, 0, 0, time.UTC),
		MaxEntries: 5,
	})
	if err == nil {
		t.Fatal("expected error for satellite feed, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeNotFoundFeed {
		t.Errorf("expected error code %s, got %s", types.ErrCodeNotFoundFeed, appErr.Code)
	}
	if len(finder.callLog) != 0 {
		t.Errorf("expected no index calls for a rejected feed, got %v", finder.callLog)
	}
}

func TestWebIndexLookupPropagatesFinderError(t *testing.T) {
	target := time.Date(2025, 6, 11, 14, 39, 0, 0, time.UTC)
	finder := newMockWebIndexFinder()
	finder.setError("CONUS", "EchoTop_18_00.50", target,
		types.NewAppError(types.ErrCodeFeedListingFailed, "index unreachable", nil))

	lister := NewWebIndexLister(finder, echoTopFeedForIndex(), testLogger())

	_, err := lister.Lookup(context.Background(), nil, types.RetrievalWindow{
		Target:     target,
		MaxEntries: 2,
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeFeedListingFailed {
		t.Errorf("expected error code %s, got %s", types.ErrCodeFeedListingFailed, appErr.Code)
	}
}

func TestWebIndexLookupZeroMaxEntries(t *testing.T) {
	finder := newMockWebIndexFinder()
	lister := NewWebIndexLister(finder, echoTopFeedForIndex(), testLogger())

	got, err := lister.Lookup(context.Background(), nil, types.RetrievalWindow{
		Target:     time.Date(2025, 6, 11, 14, 39, 0, 0, time.UTC),
		MaxEntries: 0,
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil candidates, got %v", got)
	}
	if len(finder.callLog) != 0 {
		t.Errorf("expected no index calls, got %v", finder.callLog)
	}
}
