// Package main implements the feed-inspect CLI tool for probing upstream
// feeds and the persisted scheduler state directly, bypassing the daemon.
//
// This tool is intended for local development and operational debugging: it
// answers "what would the scheduler see right now" without dispatching
// anything.
//
// Usage:
//
//	go run ./cmd/tools/feed-inspect feeds
//	go run ./cmd/tools/feed-inspect candidates --feed CONUS/PrecipRate_00.00
//	go run ./cmd/tools/feed-inspect candidates --feed CONUS/PrecipRate_00.00 --web
//	go run ./cmd/tools/feed-inspect common --target 2026-01-15T12:02:00Z
//	go run ./cmd/tools/feed-inspect state
//
// Configuration comes from the same environment variables (or .env file) the
// daemon reads.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"stormsync/internal/config"
	"stormsync/internal/external"
	"stormsync/internal/ingest"
	"stormsync/internal/scheduler"
	"stormsync/internal/timestamp"
	"stormsync/internal/types"
)

// indexFetchTimeout covers one web index page fetch including retries.
const indexFetchTimeout = 30 * time.Second

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch os.Args[1] {
	case "feeds":
		err = runFeeds(cfg)
	case "candidates":
		err = runCandidates(ctx, cfg, os.Args[2:])
	case "common":
		err = runCommon(ctx, cfg, os.Args[2:])
	case "state":
		err = runState(ctx, cfg)
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: feed-inspect <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Probe upstream feeds and scheduler state without dispatching.\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  feeds       List the configured feed catalog\n")
	fmt.Fprintf(os.Stderr, "  candidates  List candidate objects for one feed around a target instant\n")
	fmt.Fprintf(os.Stderr, "  common      Compute the newest instant common to every checked feed\n")
	fmt.Fprintf(os.Stderr, "  state       Print the persisted scheduler resume state\n")
}

// newToolLogger keeps component logging on stderr so stdout stays parseable.
func newToolLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// parseTarget parses an RFC3339 flag value. Empty means now.
func parseTarget(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --target %q: %w", raw, err)
	}
	return t.UTC(), nil
}

func runFeeds(cfg *config.Config) error {
	checked := make(map[string]bool)
	for _, feed := range ingest.CheckFeeds(cfg.AWS.MRMSBucket) {
		checked[feed.ID()] = true
	}

	fmt.Printf("%-40s %-14s %-12s %-20s %s\n", "FEED", "BUCKET", "LAYOUT", "OUTPUT", "FLAGS")
	for _, feed := range ingest.DefaultFeeds(cfg.AWS.MRMSBucket, cfg.AWS.GOESBucket) {
		var flags []byte
		if checked[feed.ID()] {
			flags = append(flags, 'c')
		}
		if feed.MultiPart {
			flags = append(flags, 'm')
		}
		fmt.Printf("%-40s %-14s %-12s %-20s %s\n",
			feed.ID(), feed.Bucket, feed.Layout, feed.OutputDir, flags)
	}
	fmt.Println("\nflags: c = checked by the scheduler, m = multi-part")
	return nil
}

func runCandidates(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("candidates", flag.ExitOnError)
	feedFlag := fs.String("feed", "", "Feed id, e.g. CONUS/PrecipRate_00.00 (required)")
	targetFlag := fs.String("target", "", "Reference instant (RFC3339, default: now)")
	maxFlag := fs.Int("max", 0, "Candidate cap (default: configured max entries)")
	webFlag := fs.Bool("web", false, "List via the NCEP web index instead of the bucket")
	verboseFlag := fs.Bool("verbose", false, "Log component activity to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *feedFlag == "" {
		return fmt.Errorf("--feed is required")
	}

	feed, err := findFeed(cfg, *feedFlag)
	if err != nil {
		return err
	}
	target, err := parseTarget(*targetFlag)
	if err != nil {
		return err
	}
	maxEntries := *maxFlag
	if maxEntries <= 0 {
		maxEntries = cfg.Ingest.MaxEntries
	}

	logger := newToolLogger(*verboseFlag)
	lister, err := newLister(ctx, cfg, feed, *webFlag, logger)
	if err != nil {
		return err
	}

	window := types.RetrievalWindow{Target: target, MaxEntries: maxEntries}
	prefixes := ingest.SearchPrefixes(feed, target, cfg.Ingest.GOESHourLookback)
	candidates, err := lister.Lookup(ctx, prefixes, window)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		fmt.Printf("no candidates for %s at or before %s\n",
			feed.ID(), target.Format(time.RFC3339))
		return nil
	}

	// MINUTE is the even-minute bucket the scheduler would file each
	// candidate under.
	fmt.Printf("%-22s %-7s %s\n", "TIMESTAMP", "MINUTE", "KEY")
	for _, rec := range candidates {
		fmt.Printf("%-22s %-7s %s\n",
			rec.Timestamp.Format(time.RFC3339),
			timestamp.RoundToEvenMinute(rec.Timestamp).Format("15:04"),
			rec.Key)
	}
	return nil
}

// newLister builds the candidate lister for one feed: the bucket finder by
// default, the web index mirror with --web.
func newLister(ctx context.Context, cfg *config.Config, feed types.FeedDescriptor, web bool, logger *slog.Logger) (ingest.CandidateLister, error) {
	if web {
		finder := external.NewNCEPClient(
			&http.Client{Timeout: indexFetchTimeout},
			external.NCEPClientConfig{BaseURL: cfg.Ingest.WebIndexBaseURL, Logger: logger},
		)
		return ingest.NewWebIndexLister(finder, feed, logger), nil
	}
	client, err := ingest.NewAnonymousClient(ctx, cfg.AWS.Region, cfg.AWS.EndpointURL)
	if err != nil {
		return nil, fmt.Errorf("creating S3 client: %w", err)
	}
	return ingest.NewFinder(client, feed.Bucket, logger), nil
}

func findFeed(cfg *config.Config, id string) (types.FeedDescriptor, error) {
	for _, feed := range ingest.DefaultFeeds(cfg.AWS.MRMSBucket, cfg.AWS.GOESBucket) {
		if feed.ID() == id {
			return feed, nil
		}
	}
	return types.FeedDescriptor{}, fmt.Errorf("unknown feed %q, run 'feed-inspect feeds' for the catalog", id)
}

func runCommon(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("common", flag.ExitOnError)
	targetFlag := fs.String("target", "", "Reference instant (RFC3339, default: now)")
	verboseFlag := fs.Bool("verbose", false, "Log component activity to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	reference, err := parseTarget(*targetFlag)
	if err != nil {
		return err
	}

	logger := newToolLogger(*verboseFlag)
	client, err := ingest.NewAnonymousClient(ctx, cfg.AWS.Region, cfg.AWS.EndpointURL)
	if err != nil {
		return fmt.Errorf("creating S3 client: %w", err)
	}

	checkFeeds := ingest.CheckFeeds(cfg.AWS.MRMSBucket)
	sources := make([]scheduler.FeedSource, len(checkFeeds))
	for i, feed := range checkFeeds {
		sources[i] = ingest.NewCheckSource(client, feed, cfg.Ingest.GOESHourLookback, logger)
	}

	checker := scheduler.NewUpdateChecker(sources, logger)
	common, ok := checker.LatestCommon(ctx, reference)
	if !ok {
		fmt.Printf("no instant common to all %d checked feeds at or before %s\n",
			len(checkFeeds), reference.Format(time.RFC3339))
		return nil
	}
	fmt.Printf("newest common instant: %s (%d feeds)\n",
		common.Format(time.RFC3339), len(checkFeeds))
	return nil
}

func runState(ctx context.Context, cfg *config.Config) error {
	path := filepath.Join(cfg.Storage.BaseDir, scheduler.StateFileName)
	state, err := scheduler.NewFileStateStore(path).Load(ctx)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if state.LastProcessed.IsZero() {
		fmt.Printf("no resume state at %s (scheduler would start cold)\n", path)
		return nil
	}
	fmt.Printf("last processed: %s\n", state.LastProcessed.Format(time.RFC3339))
	fmt.Printf("state file:     %s\n", path)
	return nil
}
