package external

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"stormsync/internal/types"
)

// wpcArchiveBase is the default WPC coded surface analysis archive base URL.
// Overridable in tests and config via WPCClientConfig.BaseURL.
const wpcArchiveBase = "https://ftp.wpc.ncep.noaa.gov/coded_sfc"

// surfaceInterval is the issuance cadence of the surface analysis. Bulletins
// are published at 00, 03, 06, 09, 12, 15, 18 and 21 UTC.
const surfaceInterval = 3 * time.Hour

// maxBulletinBytes bounds how much of a bulletin FetchSurface will read.
// Coded bulletins run tens of kilobytes; anything near the cap is garbage.
const maxBulletinBytes = 4 << 20

// SnapValidTime returns the most recent issuance instant at or before the
// given time: the same UTC day with the hour truncated to a multiple of
// three, minutes and seconds zeroed.
func SnapValidTime(at time.Time) time.Time {
	at = at.UTC()
	hour := at.Hour() - at.Hour()%3
	return time.Date(at.Year(), at.Month(), at.Day(), hour, 0, 0, 0, time.UTC)
}

// WPCClientConfig holds the configuration for creating a WPCHTTPClient.
type WPCClientConfig struct {
	BaseURL string // Override for testing; defaults to wpcArchiveBase
	Logger  *slog.Logger
}

// WPCHTTPClient implements SurfaceFetcher against the WPC coded surface
// analysis archive through BaseClient. Bulletins for the current issuance
// appear with some publication lag, so a fetch may substitute the previous
// issuance when the expected file is not there yet.
type WPCHTTPClient struct {
	base    *BaseClient
	baseURL string
	logger  *slog.Logger
}

// NewWPCClient creates a new WPCHTTPClient. The httpClient timeout should
// cover a full bulletin fetch (e.g., 30 seconds).
func NewWPCClient(
	httpClient *http.Client,
	cfg WPCClientConfig,
) *WPCHTTPClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = wpcArchiveBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"wpc",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    1 * time.Second,
			MaxWait:    10 * time.Second,
		},
		"StormSync/1.0",
	)

	return &WPCHTTPClient{
		base:    base,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// NewWPCClientWithBase creates a WPCHTTPClient with a pre-configured
// BaseClient. This is useful for testing when you want to control the
// BaseClient configuration (e.g., disable retries).
func NewWPCClientWithBase(
	base *BaseClient,
	cfg WPCClientConfig,
) *WPCHTTPClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = wpcArchiveBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &WPCHTTPClient{
		base:    base,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// FetchSurface retrieves the coded surface bulletin for the issuance at or
// before the given instant. When the expected bulletin is missing upstream
// (the archive can lag the issuance time), it falls back one issuance; the
// returned bulletin carries whichever valid time was actually served.
//
// Only missing or failing bulletins trigger the fallback. Network errors and
// an open circuit breaker abort, since retrying a different URL against an
// unreachable host buys nothing.
func (c *WPCHTTPClient) FetchSurface(ctx context.Context, at time.Time) (*SurfaceBulletin, error) {
	valid := SnapValidTime(at)

	text, err := c.fetchBulletin(ctx, valid)
	if err == nil {
		return &SurfaceBulletin{ValidTime: valid, Text: text}, nil
	}

	var appErr *types.AppError
	if !isAppError(err, &appErr) || appErr.Code != types.ErrCodeUpstreamUnavailable {
		return nil, err
	}

	fallback := valid.Add(-surfaceInterval)
	c.logger.WarnContext(ctx, "surface analysis unavailable, trying previous issuance",
		"valid_time", valid.Format(time.RFC3339),
		"fallback_time", fallback.Format(time.RFC3339),
	)

	text, ferr := c.fetchBulletin(ctx, fallback)
	if ferr != nil {
		return nil, ferr
	}

	return &SurfaceBulletin{ValidTime: fallback, Text: text}, nil
}

// fetchBulletin downloads one bulletin by issuance instant.
func (c *WPCHTTPClient) fetchBulletin(ctx context.Context, valid time.Time) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/codsus%02d_hr", c.baseURL, valid.Format("20060102"), valid.Hour())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create surface analysis request",
			err,
		)
	}

	c.logger.InfoContext(ctx, "downloading surface analysis",
		"url", url,
	)

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, c.wrapError(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("surface analysis returned %d for %s", resp.StatusCode, url),
			nil,
		)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBulletinBytes))
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			fmt.Sprintf("failed to read surface analysis body from %s", url),
			err,
		)
	}

	c.logger.InfoContext(ctx, "surface analysis downloaded",
		"url", url,
		"bytes", len(body),
	)

	return body, nil
}

// wrapError converts errors from BaseClient.Do into surface fetch failures
// while preserving upstream error codes.
func (c *WPCHTTPClient) wrapError(url string, err error) error {
	var appErr *types.AppError
	if ok := isAppError(err, &appErr); ok {
		return types.NewAppError(
			appErr.Code,
			fmt.Sprintf("surface analysis fetch of %s: %s", url, appErr.Message),
			appErr.Err,
		)
	}

	return types.NewAppError(
		types.ErrCodeUpstreamUnavailable,
		fmt.Sprintf("surface analysis fetch of %s failed", url),
		err,
	)
}

// Compile-time interface compliance check.
var _ SurfaceFetcher = (*WPCHTTPClient)(nil)
