package scheduler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"stormsync/internal/logging"
	"stormsync/internal/types"
)

// DefaultRelayBuffer is the log relay channel capacity when none is
// configured.
const DefaultRelayBuffer = 256

// relayWaitDelay bounds how long Wait blocks on the worker's pipes after the
// run context ends. Without it a grandchild holding stdout open could stall
// the relay forever.
const relayWaitDelay = 10 * time.Second

// maxRelayLineBytes is the scanner limit for one worker log line.
const maxRelayLineBytes = 1 << 20

// Dispatcher launches one isolated processing run for a target instant and
// blocks until it finishes.
type Dispatcher interface {
	Dispatch(ctx context.Context, target time.Time, runID string) error
}

// ProcessDispatcher runs each dispatch as a separate worker process and
// relays the worker's log lines onto the scheduler's logger in real time.
// Process isolation keeps a crashing run from taking the scheduler down.
type ProcessDispatcher struct {
	command     string
	args        []string
	relayBuffer int
	logger      *slog.Logger
}

// ProcessDispatcherConfig holds the configuration for creating a
// ProcessDispatcher.
type ProcessDispatcherConfig struct {
	// Command is the worker executable to run.
	Command string
	// Args are passed to the worker before the per-run flags.
	Args []string
	// RelayBuffer is the log relay channel capacity. Zero means
	// DefaultRelayBuffer.
	RelayBuffer int
	Logger      *slog.Logger
}

// NewProcessDispatcher creates a ProcessDispatcher from cfg.
func NewProcessDispatcher(cfg ProcessDispatcherConfig) *ProcessDispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	relayBuffer := cfg.RelayBuffer
	if relayBuffer <= 0 {
		relayBuffer = DefaultRelayBuffer
	}
	return &ProcessDispatcher{
		command:     cfg.Command,
		args:        cfg.Args,
		relayBuffer: relayBuffer,
		logger:      logger,
	}
}

// Dispatch starts the worker for target and blocks until it exits, relaying
// every line the worker writes on stdout or stderr. The worker is killed
// when ctx ends; callers bound a run by deriving ctx with the run deadline.
func (d *ProcessDispatcher) Dispatch(ctx context.Context, target time.Time, runID string) error {
	args := append([]string{}, d.args...)
	args = append(args,
		"--target", target.UTC().Format(time.RFC3339),
		"--run-id", runID,
	)

	cmd := exec.CommandContext(ctx, d.command, args...)
	cmd.WaitDelay = relayWaitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return types.NewAppError(
			types.ErrCodeDispatchFailed,
			"failed to open worker stdout",
			err,
		)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return types.NewAppError(
			types.ErrCodeDispatchFailed,
			"failed to open worker stderr",
			err,
		)
	}

	if err := cmd.Start(); err != nil {
		return types.NewAppError(
			types.ErrCodeDispatchFailed,
			fmt.Sprintf("failed to start worker %s", d.command),
			err,
		)
	}

	lines := make(chan string, d.relayBuffer)
	var pumps sync.WaitGroup
	pumps.Add(2)
	go d.pump(stdout, lines, &pumps)
	go d.pump(stderr, lines, &pumps)
	go func() {
		pumps.Wait()
		close(lines)
	}()

	// Drain before Wait: the pipes must be fully read first.
	for line := range lines {
		d.relay(ctx, line)
	}

	waitErr := cmd.Wait()
	switch {
	case waitErr == nil:
		return nil
	case ctx.Err() != nil:
		return types.NewAppError(
			types.ErrCodeDispatchFailed,
			fmt.Sprintf("worker for %s canceled", target.UTC().Format(time.RFC3339)),
			ctx.Err(),
		)
	default:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return types.NewAppError(
				types.ErrCodeDispatchFailed,
				fmt.Sprintf("worker exited with code %d", exitErr.ExitCode()),
				waitErr,
			)
		}
		return types.NewAppError(
			types.ErrCodeDispatchFailed,
			"failed to wait for worker",
			waitErr,
		)
	}
}

// pump moves one pipe into the relay channel line by line. A full channel
// blocks the pump, which backpressures the worker through the pipe.
func (d *ProcessDispatcher) pump(r io.Reader, lines chan<- string, pumps *sync.WaitGroup) {
	defer pumps.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRelayLineBytes)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
	// Scanner errors mean the pipe broke; the exit status tells the story.
}

// relay re-logs one worker line. Lines in the worker line format keep their
// severity and scope; anything else passes through at info.
func (d *ProcessDispatcher) relay(ctx context.Context, raw string) {
	line, ok := logging.ParseLine(raw)
	if !ok {
		if raw != "" {
			d.logger.InfoContext(ctx, raw)
		}
		return
	}
	d.logger.Log(ctx, line.Level, line.Message, logging.ScopeKey, line.Scope)
}

// Compile-time interface compliance check.
var _ Dispatcher = (*ProcessDispatcher)(nil)
