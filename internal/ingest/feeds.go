// Package ingest implements the feed catalog and the remote key layouts.
//
// Radar mosaic feeds live in a date tree: region/modifier/YYYYMMDD/ with
// filenames prefixed MRMS_<modifier>_<YYYYMMDD-HH>, so a listing prefix can
// narrow one scan to a single hour. Feeds without a modifier use the flat
// region/YYYYMMDD/ layout and cannot be hour-narrowed. Satellite feeds live in
// a Julian-day tree: product/YYYY/DDD/HH/ with one directory per hour.
package ingest

import (
	"fmt"
	"path"
	"time"

	"stormsync/internal/types"
)

// dataSubdir is the directory under the base directory holding per-feed
// output directories.
const dataSubdir = "data"

// dateLayout formats the day segment of date-tree keys.
const dateLayout = "20060102"

// mosaicProducts is the radar mosaic catalog. The outdir column is the short
// product name downstream consumers key on; check marks the products with a
// reliable two-minute cadence that the scheduler intersects over.
var mosaicProducts = []struct {
	region   string
	modifier string
	outdir   string
	check    bool
}{
	{"CONUS", "EchoTop_18_00.50", "EchoTop18", true},
	{"CONUS", "EchoTop_30_00.50", "EchoTop30", true},
	{"CONUS", "FLASH_QPE_FFG01H_00.00", "FLASH", false},
	{"CONUS", "MESH_00.50", "MESH", false},
	{"CONUS", "WarmRainProbability_00.50", "WarmRainProbability", false},
	{"CONUS", "NLDN_CG_005min_AvgDensity_00.00", "NLDN_Density", false},
	{"CONUS", "PrecipRate_00.00", "PrecipRate", true},
	{"CONUS", "RadarOnly_QPE_01H_00.00", "QPE_01H", false},
	{"CONUS", "MergedAzShear_0-2kmAGL_00.50", "AzShearLow", true},
	{"CONUS", "MergedAzShear_3-6kmAGL_00.50", "AzShearMid", true},
	{"CONUS", "VIL_Density_00.50", "VILDensity", true},
	{"ProbSevere", "", "ProbSevere", true},
	{"CONUS", "MergedRhoHV_00.50", "RhoHV", false},
	{"CONUS", "PrecipFlag_00.00", "PrecipFlag", true},
	{"CONUS", "MergedReflectivityAtLowestAltitude_00.50", "RALA", true},
	{"CONUS", "MergedReflectivityQCComposite_00.50", "CompRefQC", true},
	{"CONUS", "VII_00.50", "VII", true},
}

// satelliteProduct is the lightning feed: ~180 small files per hour, all
// parts of one instant gathered via the sliding window and merged.
const satelliteProduct = "GLM-L2-LCFA"

// DefaultFeeds returns the full retrieval catalog: every radar mosaic product
// plus the satellite lightning feed. Output directories are relative to the
// configured base directory.
func DefaultFeeds(mrmsBucket, goesBucket string) []types.FeedDescriptor {
	feeds := make([]types.FeedDescriptor, 0, len(mosaicProducts)+1)
	for _, p := range mosaicProducts {
		feeds = append(feeds, types.FeedDescriptor{
			Bucket:    mrmsBucket,
			Region:    p.region,
			Modifier:  p.modifier,
			Layout:    types.LayoutDateTree,
			OutputDir: path.Join(dataSubdir, p.outdir),
		})
	}
	feeds = append(feeds, types.FeedDescriptor{
		Bucket:    goesBucket,
		Region:    satelliteProduct,
		Layout:    types.LayoutJulianTree,
		OutputDir: path.Join(dataSubdir, "GLM"),
		MultiPart: true,
	})
	return feeds
}

// CheckFeeds returns the subset of the mosaic catalog the scheduler computes
// common timestamps over. Satellite feeds are excluded: their sliding-window
// retrieval does not key on a single shared instant.
func CheckFeeds(mrmsBucket string) []types.FeedDescriptor {
	var feeds []types.FeedDescriptor
	for _, p := range mosaicProducts {
		if !p.check {
			continue
		}
		feeds = append(feeds, types.FeedDescriptor{
			Bucket:    mrmsBucket,
			Region:    p.region,
			Modifier:  p.modifier,
			Layout:    types.LayoutDateTree,
			OutputDir: path.Join(dataSubdir, p.outdir),
		})
	}
	return feeds
}

// SearchPrefixes returns the listing prefixes for feed around target, newest
// first. Every object under a later prefix is older than every object under
// an earlier one; the Finder's early exit depends on that ordering, so in the
// common case only the first prefix is ever listed.
//
// Date-tree feeds with a modifier get one hour-narrowed prefix per hour, from
// target's hour back through hour 00 of the previous day. Feeds without a
// modifier get the target day and the previous day. Julian-tree feeds get one
// hourly directory per lookback hour.
func SearchPrefixes(feed types.FeedDescriptor, target time.Time, hourLookback int) []string {
	target = target.UTC()
	if feed.Layout == types.LayoutJulianTree {
		return julianPrefixes(feed, target, hourLookback)
	}
	return dateTreePrefixes(feed, target)
}

func dateTreePrefixes(feed types.FeedDescriptor, target time.Time) []string {
	if feed.Modifier == "" {
		return []string{
			feed.Region + "/" + target.Format(dateLayout) + "/",
			feed.Region + "/" + target.AddDate(0, 0, -1).Format(dateLayout) + "/",
		}
	}

	hour := time.Date(target.Year(), target.Month(), target.Day(), target.Hour(), 0, 0, 0, time.UTC)
	prev := target.AddDate(0, 0, -1)
	oldest := time.Date(prev.Year(), prev.Month(), prev.Day(), 0, 0, 0, 0, time.UTC)

	var prefixes []string
	for h := hour; !h.Before(oldest); h = h.Add(-time.Hour) {
		day := h.Format(dateLayout)
		prefixes = append(prefixes, fmt.Sprintf("%s/%s/%s/MRMS_%s_%s-%02d",
			feed.Region, feed.Modifier, day, feed.Modifier, day, h.Hour()))
	}
	return prefixes
}

func julianPrefixes(feed types.FeedDescriptor, target time.Time, hourLookback int) []string {
	if hourLookback < 1 {
		hourLookback = 1
	}
	prefixes := make([]string, 0, hourLookback)
	for offset := 0; offset < hourLookback; offset++ {
		h := target.Add(-time.Duration(offset) * time.Hour)
		prefixes = append(prefixes, fmt.Sprintf("%s/%04d/%03d/%02d/",
			feed.Product(), h.Year(), h.YearDay(), h.Hour()))
	}
	return prefixes
}
