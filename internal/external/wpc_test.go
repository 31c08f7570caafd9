package external

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"stormsync/internal/types"
)

// ---------------------------------------------------------------------------
// Helper: Create test WPC client pointed at httptest server
// ---------------------------------------------------------------------------

func newTestWPCClient(t *testing.T, baseURL string) *WPCHTTPClient {
	t.Helper()
	base := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test-wpc",
		RetryPolicy{
			MaxRetries: 0, // No retries in tests for deterministic behavior
			MinWait:    1 * time.Millisecond,
			MaxWait:    10 * time.Millisecond,
		},
		"StormSync-Test/1.0",
		WithSleepFunc(noopSleep),
	)

	return NewWPCClientWithBase(base, WPCClientConfig{
		BaseURL: baseURL,
	})
}

// ---------------------------------------------------------------------------
// Issuance Snapping Tests
// ---------------------------------------------------------------------------

func TestSnapValidTime(t *testing.T) {
	cases := []struct {
		at   time.Time
		want time.Time
	}{
		// Mid-cycle snaps down to the preceding issuance.
		{time.Date(2025, 6, 11, 14, 37, 12, 0, time.UTC), time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC)},
		// Exactly on an issuance hour stays put.
		{time.Date(2025, 6, 11, 3, 0, 0, 0, time.UTC), time.Date(2025, 6, 11, 3, 0, 0, 0, time.UTC)},
		// One minute before the next issuance still belongs to the previous one.
		{time.Date(2025, 6, 11, 2, 59, 0, 0, time.UTC), time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)},
		// Just after midnight snaps to the 00Z issuance of the same day.
		{time.Date(2025, 6, 11, 0, 30, 0, 0, time.UTC), time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)},
		// End of day belongs to the 21Z issuance.
		{time.Date(2025, 6, 11, 23, 59, 59, 0, time.UTC), time.Date(2025, 6, 11, 21, 0, 0, 0, time.UTC)},
	}

	for _, tc := range cases {
		if got := SnapValidTime(tc.at); !got.Equal(tc.want) {
			t.Errorf("SnapValidTime(%v): expected %v, got %v", tc.at, tc.want, got)
		}
	}
}

// ---------------------------------------------------------------------------
// FetchSurface Tests
// ---------------------------------------------------------------------------

func TestWPCFetchSurface_Success(t *testing.T) {
	const bulletin = "CODED SURFACE FRONTAL POSITIONS\nVALID 061112Z\nHIGHS 1022 3881071\n"

	var receivedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(bulletin))
	}))
	defer server.Close()

	client := newTestWPCClient(t, server.URL)

	at := time.Date(2025, 6, 11, 14, 37, 0, 0, time.UTC)
	got, err := client.FetchSurface(context.Background(), at)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if receivedPath != "/20250611/codsus12_hr" {
		t.Errorf("expected request path '/20250611/codsus12_hr', got '%s'", receivedPath)
	}

	wantValid := time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC)
	if !got.ValidTime.Equal(wantValid) {
		t.Errorf("expected valid time %v, got %v", wantValid, got.ValidTime)
	}
	if string(got.Text) != bulletin {
		t.Errorf("unexpected bulletin text: %q", got.Text)
	}
}

func TestWPCFetchSurface_FallsBackOneIssuance(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/20250611/codsus12_hr" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("PREVIOUS ISSUANCE"))
	}))
	defer server.Close()

	client := newTestWPCClient(t, server.URL)

	at := time.Date(2025, 6, 11, 13, 5, 0, 0, time.UTC)
	got, err := client.FetchSurface(context.Background(), at)
	if err != nil {
		t.Fatalf("expected fallback to succeed, got: %v", err)
	}

	wantPaths := []string{"/20250611/codsus12_hr", "/20250611/codsus09_hr"}
	if len(paths) != len(wantPaths) {
		t.Fatalf("expected %d requests, got %d: %v", len(wantPaths), len(paths), paths)
	}
	for i, p := range paths {
		if p != wantPaths[i] {
			t.Errorf("request %d: expected path %s, got %s", i, wantPaths[i], p)
		}
	}

	wantValid := time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC)
	if !got.ValidTime.Equal(wantValid) {
		t.Errorf("expected fallback valid time %v, got %v", wantValid, got.ValidTime)
	}
	if string(got.Text) != "PREVIOUS ISSUANCE" {
		t.Errorf("unexpected bulletin text: %q", got.Text)
	}
}

func TestWPCFetchSurface_FallbackCrossesDayBoundary(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/20250611/codsus00_hr" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("LAST ISSUANCE OF PREVIOUS DAY"))
	}))
	defer server.Close()

	client := newTestWPCClient(t, server.URL)

	at := time.Date(2025, 6, 11, 0, 15, 0, 0, time.UTC)
	got, err := client.FetchSurface(context.Background(), at)
	if err != nil {
		t.Fatalf("expected fallback to succeed, got: %v", err)
	}

	if len(paths) != 2 || paths[1] != "/20250610/codsus21_hr" {
		t.Fatalf("expected fallback to /20250610/codsus21_hr, got requests %v", paths)
	}

	wantValid := time.Date(2025, 6, 10, 21, 0, 0, 0, time.UTC)
	if !got.ValidTime.Equal(wantValid) {
		t.Errorf("expected valid time %v, got %v", wantValid, got.ValidTime)
	}
}

func TestWPCFetchSurface_ServerErrorTriggersFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/20250611/codsus12_hr" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("RECOVERED"))
	}))
	defer server.Close()

	client := newTestWPCClient(t, server.URL)

	at := time.Date(2025, 6, 11, 12, 30, 0, 0, time.UTC)
	got, err := client.FetchSurface(context.Background(), at)
	if err != nil {
		t.Fatalf("expected fallback after 500, got: %v", err)
	}

	wantValid := time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC)
	if !got.ValidTime.Equal(wantValid) {
		t.Errorf("expected valid time %v, got %v", wantValid, got.ValidTime)
	}
}

func TestWPCFetchSurface_BothIssuancesMissing(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := newTestWPCClient(t, server.URL)

	at := time.Date(2025, 6, 11, 14, 37, 0, 0, time.UTC)
	_, err := client.FetchSurface(context.Background(), at)
	if err == nil {
		t.Fatal("expected error when both issuances are missing, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeUpstreamUnavailable {
		t.Errorf("expected error code %s, got %s", types.ErrCodeUpstreamUnavailable, appErr.Code)
	}

	if calls := callCount.Load(); calls != 2 {
		t.Errorf("expected exactly 2 attempts (primary + fallback), got %d", calls)
	}
}

func TestWPCFetchSurface_NetworkErrorDoesNotFallBack(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount.Add(1)
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("test server does not support hijacking")
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Fatalf("hijack failed: %v", err)
		}
		// Drop the connection before writing a response.
		conn.Close()
	}))
	defer server.Close()

	client := newTestWPCClient(t, server.URL)

	at := time.Date(2025, 6, 11, 14, 37, 0, 0, time.UTC)
	_, err := client.FetchSurface(context.Background(), at)
	if err == nil {
		t.Fatal("expected error for dropped connection, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeInternalUnexpected {
		t.Errorf("expected error code %s, got %s", types.ErrCodeInternalUnexpected, appErr.Code)
	}

	if calls := callCount.Load(); calls != 1 {
		t.Errorf("expected no fallback attempt after a network failure, got %d calls", calls)
	}
}
