// Package config defines the global configuration structure for the StormSync
// pipeline. Configuration is loaded once at process startup and is immutable
// thereafter. It follows 12-Factor App principles by strictly separating code
// from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> Struct Defaults (Lowest)
//
// Any invalid value causes the process to exit immediately on startup
// (fail fast).
package config

import (
	"time"
)

// Config is the top-level configuration struct for the StormSync pipeline.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require
// (Least Privilege principle).
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"oneof=local dev staging prod"`
	Service     string `envconfig:"STORMSYNC_SERVICE" default:"stormsync"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Storage       StorageConfig
	AWS           AWSConfig
	Ingest        IngestConfig
	Scheduler     SchedulerConfig
	WPC           WPCConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// StorageConfig holds the local artifact tree layout and retention windows.
type StorageConfig struct {
	// BaseDir is the root of the local artifact tree. When unset, the loader
	// defaults it to <home>/stormsync. The loader always resolves it to an
	// absolute path; the sweeper refuses to touch anything outside of it.
	BaseDir string `envconfig:"STORMSYNC_BASE_DIR"`

	// Retention windows for the periodic sweep of stale artifacts.
	ArtifactMaxAge time.Duration `envconfig:"STORMSYNC_ARTIFACT_MAX_AGE" default:"60m" validate:"gt=0"`
	WPCMaxAge      time.Duration `envconfig:"STORMSYNC_WPC_MAX_AGE" default:"360m" validate:"gt=0"`
}

// AWSConfig holds AWS regional configuration and the public data buckets.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// Upstream open-data buckets (anonymous access, no credentials needed)
	MRMSBucket string `envconfig:"STORMSYNC_MRMS_BUCKET" default:"noaa-mrms-pds" validate:"required"`
	GOESBucket string `envconfig:"STORMSYNC_GOES_BUCKET" default:"noaa-goes19" validate:"required"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// IngestConfig holds candidate search and retrieval tuning parameters.
type IngestConfig struct {
	// MaxEntries bounds the candidate set kept per feed during a search.
	MaxEntries int `envconfig:"STORMSYNC_MAX_ENTRIES" default:"10" validate:"gte=1"`
	// GOESHourLookback is how many hour partitions to walk backwards from
	// the target when searching satellite feeds.
	GOESHourLookback int `envconfig:"STORMSYNC_GOES_HOUR_LOOKBACK" default:"3" validate:"gte=1"`
	// WebIndexBaseURL is the HTTP directory index mirror used by the
	// feed-inspect tooling to cross-check bucket listings.
	WebIndexBaseURL string `envconfig:"STORMSYNC_WEB_INDEX_BASE_URL" default:"https://mrms.ncep.noaa.gov/data/2D" validate:"required,url"`
}

// SchedulerConfig holds the polling cadence and worker dispatch settings.
type SchedulerConfig struct {
	PollInterval time.Duration `envconfig:"STORMSYNC_POLL_INTERVAL" default:"15s" validate:"gt=0"`
	// RunTimeout bounds a single dispatched run. Zero disables the deadline.
	RunTimeout time.Duration `envconfig:"STORMSYNC_RUN_TIMEOUT" default:"10m" validate:"gte=0"`
	// RelayBuffer is the capacity of the channel relaying worker log lines.
	RelayBuffer int `envconfig:"STORMSYNC_RELAY_BUFFER" default:"256" validate:"gte=1"`
	// WorkerCommand overrides the worker binary path. When unset, the
	// scheduler looks for sync-worker next to its own executable.
	WorkerCommand string `envconfig:"STORMSYNC_WORKER_COMMAND"`
}

// WPCConfig holds the surface analysis download source.
type WPCConfig struct {
	BaseURL string `envconfig:"STORMSYNC_WPC_BASE_URL" default:"https://ftp.wpc.ncep.noaa.gov/coded_sfc" validate:"required,url"`
}

// ObservabilityConfig holds telemetry and monitoring settings.
type ObservabilityConfig struct {
	// MetricNamespace is the CloudWatch namespace for counters. Empty
	// disables metric publishing entirely.
	MetricNamespace string `envconfig:"STORMSYNC_METRIC_NAMESPACE"`
	// StatusAddr is the listen address for the status API. Empty disables it.
	StatusAddr string `envconfig:"STORMSYNC_STATUS_ADDR" validate:"omitempty,hostname_port"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment value could not be
	// determined from the environment or its fallback.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
