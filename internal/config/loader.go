// loader.go implements the configuration loading lifecycle for StormSync.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Resolve the base directory default and make it absolute.
//  5. Populate BuildInfo from linker-injected variables.
//  6. Validate the struct using go-playground/validator.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig to aid debugging.
// It wraps a ConfigErrorType and an underlying error message.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// defaultBaseDirName is the directory created under the user's home when
// STORMSYNC_BASE_DIR is not set.
const defaultBaseDirName = "stormsync"

// homeDirFn is a function type for resolving the user's home directory.
// It matches the signature of os.UserHomeDir and allows injection for testing.
type homeDirFn func() (string, error)

// loaderDeps holds the injectable dependencies for the loader, enabling
// testing without depending on the real home directory.
type loaderDeps struct {
	userHomeDir homeDirFn
}

// defaultDeps returns the standard OS-backed dependencies.
func defaultDeps() loaderDeps {
	return loaderDeps{
		userHomeDir: os.UserHomeDir,
	}
}

// LoadConfig loads and validates the StormSync configuration.
//
// It performs the following steps in order:
//  1. Sets the process timezone to UTC.
//  2. Loads a .env file if present (non-fatal if missing).
//  3. Processes envconfig tags to populate the Config struct.
//  4. Defaults Storage.BaseDir to <home>/stormsync when unset, and resolves
//     it to an absolute path.
//  5. Populates Config.Build from linker-injected variables.
//  6. Validates the Config struct.
func LoadConfig() (*Config, error) {
	return loadConfigWithDeps(defaultDeps())
}

// loadConfigWithDeps is the internal implementation of LoadConfig that accepts
// injectable dependencies for testing.
func loadConfigWithDeps(deps loaderDeps) (*Config, error) {
	// Step 1: Enforce UTC timezone to prevent drift bugs. Every timestamp in
	// the pipeline (feed keys, state file, artifact names) is UTC.
	time.Local = time.UTC

	// Step 2: Load .env file (non-fatal if absent).
	// godotenv.Load() will silently succeed if no .env file exists in the
	// working directory. It does NOT override existing environment variables.
	_ = godotenv.Load()

	// Step 3: Process envconfig tags to populate the Config struct.
	// The empty prefix "" means envconfig will use the exact tag values
	// (e.g., envconfig:"STORMSYNC_BASE_DIR" reads STORMSYNC_BASE_DIR directly).
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	// Step 4: Resolve the base directory.
	if err := resolveBaseDir(&cfg, deps); err != nil {
		return nil, err
	}

	// Step 5: Populate build metadata from linker-injected variables.
	cfg.Build = NewBuildInfo()

	// Step 6: Validate the populated struct.
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	return &cfg, nil
}

// resolveBaseDir fills in the base directory default and pins it to an
// absolute path. The sweeper's containment check and the worker's artifact
// paths both rely on BaseDir being absolute, so this happens exactly once
// here rather than in each consumer.
func resolveBaseDir(cfg *Config, deps loaderDeps) error {
	if cfg.Storage.BaseDir == "" {
		home, err := deps.userHomeDir()
		if err != nil {
			return &ConfigError{
				Type:    ErrMissingEnv,
				Message: "STORMSYNC_BASE_DIR is not set and the home directory could not be determined",
				Err:     err,
			}
		}
		cfg.Storage.BaseDir = filepath.Join(home, defaultBaseDirName)
	}

	abs, err := filepath.Abs(cfg.Storage.BaseDir)
	if err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: fmt.Sprintf("base directory %q cannot be resolved to an absolute path", cfg.Storage.BaseDir),
			Err:     err,
		}
	}
	cfg.Storage.BaseDir = abs
	return nil
}
