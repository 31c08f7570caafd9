// Package main is the entry point for the StormSync worker.
//
// One worker invocation retrieves every configured feed's artifact for a
// single target instant, then refreshes the WPC surface analysis store. The
// scheduler spawns a fresh worker per instant, so a crash mid-run never
// takes the poll loop down. All log output goes to stdout in the relay line
// format the scheduler decodes.
//
// Flags:
//
//	--target  RFC3339 instant to retrieve (default: now)
//	--run-id  run identifier assigned by the scheduler
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"stormsync/internal/config"
	"stormsync/internal/external"
	"stormsync/internal/ingest"
	"stormsync/internal/logging"
	"stormsync/internal/metrics"
	"stormsync/internal/types"
	"stormsync/internal/wpc"
)

// wpcFetchTimeout covers one full bulletin fetch including retries inside
// the HTTP client.
const wpcFetchTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		targetFlag = flag.String("target", "", "RFC3339 instant to retrieve (default: now)")
		runIDFlag  = flag.String("run-id", "", "run identifier assigned by the scheduler")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := slog.New(logging.NewLineHandler(
		os.Stdout, "worker", logging.ParseLevel(cfg.LogLevel),
	))

	target, err := parseTarget(*targetFlag)
	if err != nil {
		return fmt.Errorf("parsing --target: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *runIDFlag != "" {
		ctx = types.WithRunID(ctx, *runIDFlag)
	}

	logger.InfoContext(ctx, "worker starting",
		"target", target.Format(time.RFC3339),
		"run_id", *runIDFlag,
		"version", cfg.Build.Version,
	)

	// Shared clients for the primary path. Left nil on failure, which sends
	// Run straight to the per-worker fallback clients.
	var (
		lister ingest.S3ListClient
		getter ingest.S3Client
	)
	if api, err := ingest.NewAnonymousClient(ctx, cfg.AWS.Region, cfg.AWS.EndpointURL); err != nil {
		logger.WarnContext(ctx, "shared S3 client unavailable", "error", err)
	} else {
		lister = api
		getter = ingest.NewObjectClient(api)
	}

	publisher, err := newMetricPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}

	svcCfg := ingest.ServiceConfig{
		Feeds:          ingest.DefaultFeeds(cfg.AWS.MRMSBucket, cfg.AWS.GOESBucket),
		Lister:         lister,
		Getter:         getter,
		Factory:        ingest.DefaultClientFactory(cfg.AWS.Region, cfg.AWS.EndpointURL),
		BaseDir:        cfg.Storage.BaseDir,
		MaxEntries:     cfg.Ingest.MaxEntries,
		HourLookback:   cfg.Ingest.GOESHourLookback,
		ArtifactMaxAge: cfg.Storage.ArtifactMaxAge,
		Logger:         logger.With(logging.ScopeKey, "ingest"),
	}
	if publisher != nil {
		svcCfg.Telemetry = publisher
	}
	ingest.NewService(svcCfg).Run(ctx, target)

	syncSurface(ctx, cfg, target, logger)

	logger.InfoContext(ctx, "worker finished",
		"target", target.Format(time.RFC3339),
	)
	return nil
}

// parseTarget parses the --target flag. Empty means now.
func parseTarget(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// syncSurface refreshes the WPC surface analysis store. Failures are logged,
// not fatal: the feed artifacts already written are still useful downstream.
func syncSurface(ctx context.Context, cfg *config.Config, target time.Time, logger *slog.Logger) {
	wpcLogger := logger.With(logging.ScopeKey, "wpc")
	fetcher := external.NewWPCClient(
		&http.Client{Timeout: wpcFetchTimeout},
		external.WPCClientConfig{BaseURL: cfg.WPC.BaseURL, Logger: wpcLogger},
	)
	store := wpc.NewStore(wpc.StoreConfig{
		Fetcher: fetcher,
		BaseDir: cfg.Storage.BaseDir,
		MaxAge:  cfg.Storage.WPCMaxAge,
		Logger:  wpcLogger,
	})
	if err := store.Sync(ctx, target); err != nil {
		wpcLogger.ErrorContext(ctx, "surface analysis sync failed", "error", err)
	}
}

// newMetricPublisher builds the CloudWatch publisher when a namespace is
// configured. Returns nil when metric publishing is disabled.
func newMetricPublisher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*metrics.Publisher, error) {
	if cfg.Observability.MetricNamespace == "" {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS SDK config: %w", err)
	}
	return metrics.NewPublisher(
		cloudwatch.NewFromConfig(awsCfg),
		cfg.Observability.MetricNamespace,
		logger,
	), nil
}
