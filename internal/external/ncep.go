package external

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"stormsync/internal/types"
)

// ncepIndexBase is the default NCEP MRMS web index base URL.
// Overridable in tests and config via NCEPClientConfig.BaseURL.
const ncepIndexBase = "https://mrms.ncep.noaa.gov/data/2D"

// maxIndexBytes bounds how much of an index page FindFiles will read.
const maxIndexBytes = 4 << 20

// ncepProductDirs maps bucket modifier names to NCEP index directory names.
// The index drops the level suffix from most product directories; the few
// that differ structurally are pinned here.
var ncepProductDirs = map[string]string{
	"EchoTop_18_00.50":                         "EchoTop_18",
	"EchoTop_30_00.50":                         "EchoTop_30",
	"FLASH_QPE_FFG01H_00.00":                   "FLASH",
	"MESH_00.50":                               "MESH",
	"WarmRainProbability_00.50":                "WarmRainProbability",
	"NLDN_CG_005min_AvgDensity_00.00":          "NLDN_CG_005min_AvgDensity",
	"PrecipRate_00.00":                         "PrecipRate",
	"RadarOnly_QPE_01H_00.00":                  "RadarOnly_QPE_01H",
	"MergedAzShear_0-2kmAGL_00.50":             "MergedAzShear_0-2kmAGL",
	"MergedAzShear_3-6kmAGL_00.50":             "MergedAzShear_3-6kmAGL",
	"VIL_Density_00.50":                        "VIL_Density",
	"MergedRhoHV_00.50":                        "MergedRhoHV",
	"PrecipFlag_00.00":                         "PrecipFlag",
	"MergedReflectivityAtLowestAltitude_00.50": "MergedReflectivityAtLowestAltitude",
	"MergedReflectivityQCComposite_00.50":      "MergedReflectivityQCComposite",
	"VII_00.50":                                "VII",
}

// hrefPattern extracts link targets from the Apache-style index listing.
var hrefPattern = regexp.MustCompile(`href="([^"]+)"`)

// NCEPClientConfig holds the configuration for creating an NCEPHTTPClient.
type NCEPClientConfig struct {
	BaseURL string // Override for testing; defaults to ncepIndexBase
	Logger  *slog.Logger
}

// NCEPHTTPClient implements WebIndexFinder by scraping the NCEP MRMS web
// directory index through BaseClient. The index mirrors the open-data bucket
// with a flat per-product layout and roughly a day of history, which makes it
// a cheap cross-check against bucket listings.
type NCEPHTTPClient struct {
	base    *BaseClient
	baseURL string
	logger  *slog.Logger
}

// NewNCEPClient creates a new NCEPHTTPClient. The httpClient timeout should
// cover a full index page fetch (e.g., 30 seconds).
func NewNCEPClient(
	httpClient *http.Client,
	cfg NCEPClientConfig,
) *NCEPHTTPClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = ncepIndexBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"ncep-index",
		DefaultRetryPolicy(),
		"StormSync/1.0",
	)

	return &NCEPHTTPClient{
		base:    base,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// NewNCEPClientWithBase creates an NCEPHTTPClient with a pre-configured
// BaseClient. This is useful for testing when you want to control the
// BaseClient configuration (e.g., disable retries).
func NewNCEPClientWithBase(
	base *BaseClient,
	cfg NCEPClientConfig,
) *NCEPHTTPClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = ncepIndexBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &NCEPHTTPClient{
		base:    base,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// ProductURL returns the index directory URL for one product. ProbSevere has
// no modifier and lives one level up from the 2D root.
func (c *NCEPHTTPClient) ProductURL(region, modifier string) string {
	if modifier == "" {
		return strings.TrimSuffix(c.baseURL, "/2D") + "/" + region
	}
	return c.baseURL + "/" + ncepProductDir(modifier)
}

// ncepProductDir resolves a bucket modifier to its index directory name.
// Unmapped modifiers fall back to everything before the level suffix.
func ncepProductDir(modifier string) string {
	if dir, ok := ncepProductDirs[modifier]; ok {
		return dir
	}
	if head, _, found := strings.Cut(modifier, "_00."); found {
		return head
	}
	return modifier
}

// FindFiles scrapes the product's index page and returns full artifact URLs
// whose names carry the given UTC day. Only compressed grib and json links
// count; parent-directory and sort links are discarded with everything else.
func (c *NCEPHTTPClient) FindFiles(ctx context.Context, region, modifier string, day time.Time) ([]string, error) {
	indexURL := c.ProductURL(region, modifier)
	dayStr := day.UTC().Format("20060102")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, indexURL, nil)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create web index request",
			err,
		)
	}

	c.logger.DebugContext(ctx, "scanning web index",
		"url", indexURL,
		"day", dayStr,
	)

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, c.wrapError(indexURL, err)
	}
	defer resp.Body.Close()

	// Handle non-2xx responses that made it past the BaseClient retry logic.
	if resp.StatusCode >= 400 {
		return nil, types.NewAppError(
			types.ErrCodeFeedListingFailed,
			fmt.Sprintf("web index returned %d for %s", resp.StatusCode, indexURL),
			nil,
		)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIndexBytes))
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeFeedListingFailed,
			fmt.Sprintf("failed to read web index page %s", indexURL),
			err,
		)
	}

	var files []string
	for _, m := range hrefPattern.FindAllSubmatch(body, -1) {
		href := string(m[1])
		if !strings.HasSuffix(href, ".gz") && !strings.HasSuffix(href, ".json") {
			continue
		}
		if !strings.Contains(href, dayStr) {
			continue
		}
		files = append(files, indexURL+"/"+href)
	}

	c.logger.DebugContext(ctx, "web index scan complete",
		"url", indexURL,
		"matches", len(files),
	)

	return files, nil
}

// wrapError converts errors from BaseClient.Do into listing failures while
// preserving upstream error codes.
func (c *NCEPHTTPClient) wrapError(indexURL string, err error) error {
	var appErr *types.AppError
	if ok := isAppError(err, &appErr); ok {
		return types.NewAppError(
			appErr.Code,
			fmt.Sprintf("web index scan of %s: %s", indexURL, appErr.Message),
			appErr.Err,
		)
	}

	return types.NewAppError(
		types.ErrCodeFeedListingFailed,
		fmt.Sprintf("web index scan of %s failed", indexURL),
		err,
	)
}

// Compile-time interface compliance check.
var _ WebIndexFinder = (*NCEPHTTPClient)(nil)
