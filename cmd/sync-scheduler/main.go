// Package main is the entry point for the StormSync scheduler daemon.
//
// The scheduler polls the upstream radar feeds for the newest instant every
// checked feed has published, and dispatches one worker process per new
// instant. The worker does the actual retrieval; the scheduler only watches,
// dispatches, and records progress. The last dispatched instant is persisted
// so a restart resumes instead of reprocessing.
//
// Shutdown is handled via OS signal interception (SIGINT, SIGTERM). The
// first signal stops the poll loop but lets a worker already running finish;
// a second signal kills the process immediately.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"stormsync/internal/config"
	"stormsync/internal/ingest"
	"stormsync/internal/logging"
	"stormsync/internal/metrics"
	"stormsync/internal/scheduler"
	"stormsync/internal/status"
)

// statusShutdownTimeout bounds the status API drain after the loop stops.
const statusShutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logging.ParseLevel(cfg.LogLevel),
	}))
	logger.Info("stormsync scheduler starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"base_dir", cfg.Storage.BaseDir,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		// Restore default signal handling so a second signal kills the
		// process instead of waiting out an in-flight worker run.
		stop()
	}()

	lister, err := ingest.NewAnonymousClient(ctx, cfg.AWS.Region, cfg.AWS.EndpointURL)
	if err != nil {
		return fmt.Errorf("creating S3 client: %w", err)
	}

	checkFeeds := ingest.CheckFeeds(cfg.AWS.MRMSBucket)
	sources := make([]scheduler.FeedSource, len(checkFeeds))
	for i, feed := range checkFeeds {
		sources[i] = ingest.NewCheckSource(lister, feed, cfg.Ingest.GOESHourLookback, logger)
	}
	checker := scheduler.NewUpdateChecker(sources, logger.With(logging.ScopeKey, "checker"))

	workerCommand, err := resolveWorkerCommand(cfg.Scheduler.WorkerCommand)
	if err != nil {
		return fmt.Errorf("resolving worker command: %w", err)
	}
	dispatcher := scheduler.NewProcessDispatcher(scheduler.ProcessDispatcherConfig{
		Command:     workerCommand,
		RelayBuffer: cfg.Scheduler.RelayBuffer,
		Logger:      logger,
	})

	store := scheduler.NewFileStateStore(
		filepath.Join(cfg.Storage.BaseDir, scheduler.StateFileName),
	)

	schedCfg := scheduler.Config{
		Checker:      checker,
		Store:        store,
		Dispatcher:   dispatcher,
		PollInterval: cfg.Scheduler.PollInterval,
		RunTimeout:   cfg.Scheduler.RunTimeout,
		Logger:       logger.With(logging.ScopeKey, "scheduler"),
	}
	if publisher, err := newMetricPublisher(ctx, cfg, logger); err != nil {
		return err
	} else if publisher != nil {
		schedCfg.Telemetry = publisher
	}
	sched := scheduler.New(schedCfg)

	var statusSrv *status.Server
	if cfg.Observability.StatusAddr != "" {
		statusSrv = status.NewServer(status.Config{
			Addr:   cfg.Observability.StatusAddr,
			State:  sched,
			Feeds:  ingest.DefaultFeeds(cfg.AWS.MRMSBucket, cfg.AWS.GOESBucket),
			Build:  cfg.Build,
			Logger: logger.With(logging.ScopeKey, "status"),
		})
		go func() {
			if err := statusSrv.ListenAndServe(); err != nil {
				logger.Error("status API failed", "error", err)
			}
		}()
	}

	logger.Info("scheduler initialized",
		"check_feeds", len(checkFeeds),
		"worker_command", workerCommand,
		"poll_interval", cfg.Scheduler.PollInterval.String(),
	)

	runErr := sched.Run(ctx)

	if statusSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), statusShutdownTimeout)
		defer cancel()
		if err := statusSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("status API shutdown error", "error", err)
		}
	}
	if runErr != nil {
		return fmt.Errorf("scheduler: %w", runErr)
	}

	logger.Info("scheduler stopped cleanly")
	return nil
}

// resolveWorkerCommand returns the worker binary path: the configured
// override when set, otherwise sync-worker next to this executable.
func resolveWorkerCommand(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating executable: %w", err)
	}
	return filepath.Join(filepath.Dir(self), "sync-worker"), nil
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
	logger.Info("metric publishing enabled", "namespace", cfg.Observability.MetricNamespace)
	return metrics.NewPublisher(
		cloudwatch.NewFromConfig(awsCfg),
		cfg.Observability.MetricNamespace,
		logger,
	), nil
}
