// Package scheduler drives the feed synchronization loop.
//
// The scheduler polls every monitored feed for the newest instant they have
// all published and, when that instant changes, launches one worker process
// to retrieve the batch. The dispatched instant is persisted before the run
// starts, so a restart resumes where the previous process left off instead
// of reprocessing it.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"stormsync/internal/types"
)

// DefaultPollInterval is the cadence of check cycles when none is
// configured.
const DefaultPollInterval = 15 * time.Second

// CommonChecker computes the newest instant every feed has published.
type CommonChecker interface {
	LatestCommon(ctx context.Context, reference time.Time) (time.Time, bool)
}

// Telemetry records scheduler counters. Implementations must tolerate
// concurrent calls.
type Telemetry interface {
	CountPollCycle(ctx context.Context)
	CountDispatch(ctx context.Context)
	RecordRunDuration(ctx context.Context, d time.Duration, success bool)
}

// Config holds the configuration for creating a Scheduler.
type Config struct {
	Checker    CommonChecker
	Store      StateStore
	Dispatcher Dispatcher

	// PollInterval is the time between check cycles. Zero means
	// DefaultPollInterval.
	PollInterval time.Duration
	// RunTimeout bounds each dispatched run. Zero means no deadline.
	RunTimeout time.Duration

	// Telemetry is optional; nil disables counters.
	Telemetry Telemetry

	Logger *slog.Logger
	Clock  types.Clock
}

// Scheduler owns the poll loop: check the feeds for a common instant,
// dispatch a run when a new one appears, and remember the dispatched instant
// durably so restarts never reprocess it.
type Scheduler struct {
	checker    CommonChecker
	store      StateStore
	dispatcher Dispatcher

	pollInterval time.Duration
	runTimeout   time.Duration

	telemetry Telemetry
	logger    *slog.Logger
	clock     types.Clock

	mu            sync.Mutex
	phase         Phase
	lastProcessed time.Time
	lastRun       *RunRecord
}

// New creates a Scheduler from cfg.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Scheduler{
		checker:      cfg.Checker,
		store:        cfg.Store,
		dispatcher:   cfg.Dispatcher,
		pollInterval: pollInterval,
		runTimeout:   cfg.RunTimeout,
		telemetry:    cfg.Telemetry,
		logger:       logger,
		clock:        clock,
		phase:        PhaseIdle,
	}
}

// Run executes the poll loop until ctx ends. The persisted resume point is
// loaded once at startup; a missing or corrupt state file starts cold. Run
// returns nil on clean shutdown.
func (s *Scheduler) Run(ctx context.Context) error {
	state, err := s.store.Load(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "schedule state unreadable, starting cold",
			"error", err,
		)
	}
	s.mu.Lock()
	s.lastProcessed = state.LastProcessed
	s.mu.Unlock()

	if state.LastProcessed.IsZero() {
		s.logger.InfoContext(ctx, "scheduler started cold",
			"poll_interval", s.pollInterval.String(),
		)
	} else {
		s.logger.InfoContext(ctx, "scheduler resumed",
			"poll_interval", s.pollInterval.String(),
			"last_processed", state.LastProcessed.Format(time.RFC3339),
		)
	}

	for {
		if ctx.Err() != nil {
			s.logger.InfoContext(ctx, "scheduler stopping")
			return nil
		}
		s.cycle(ctx)
		select {
		case <-ctx.Done():
		case <-time.After(s.pollInterval):
		}
	}
}

// Snapshot returns a point-in-time view for the status surface.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Phase: s.phase}
	if !s.lastProcessed.IsZero() {
		last := s.lastProcessed
		snap.LastProcessed = &last
	}
	if s.lastRun != nil {
		run := *s.lastRun
		snap.LastRun = &run
	}
	return snap
}

// cycle runs one check and at most one dispatch.
func (s *Scheduler) cycle(ctx context.Context) {
	s.setPhase(PhaseChecking)
	reference := s.clock.Now()
	common, ok := s.checker.LatestCommon(ctx, reference)
	if s.telemetry != nil {
		s.telemetry.CountPollCycle(ctx)
	}

	if !ok {
		s.logger.DebugContext(ctx, "no instant common to all feeds")
		s.setPhase(PhaseWaiting)
		return
	}

	s.mu.Lock()
	last := s.lastProcessed
	s.mu.Unlock()
	if common.Equal(last) {
		s.logger.DebugContext(ctx, "newest common instant already processed",
			"target", common.Format(time.RFC3339),
		)
		s.setPhase(PhaseWaiting)
		return
	}

	s.dispatch(ctx, common)
}

// dispatch persists target as the resume point, then runs the worker and
// blocks until it finishes. Persisting first keeps a crash during the run
// from double-processing the same instant after restart.
func (s *Scheduler) dispatch(ctx context.Context, target time.Time) {
	runID := uuid.NewString()
	s.setPhase(PhaseDispatching)

	if err := s.store.Save(ctx, ScheduleState{LastProcessed: target}); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist resume point",
			"target", target.Format(time.RFC3339),
			"error", err,
		)
		// The in-memory resume point still advances; only crash recovery
		// is degraded until the next save succeeds.
	}

	started := s.clock.Now()
	record := &RunRecord{ID: runID, Target: target, StartedAt: started}
	s.mu.Lock()
	s.lastProcessed = target
	s.lastRun = record
	s.phase = PhaseRunning
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "dispatching run",
		"run_id", runID,
		"target", target.Format(time.RFC3339),
	)
	if s.telemetry != nil {
		s.telemetry.CountDispatch(ctx)
	}

	// A run in flight is never abandoned on shutdown; the per-run deadline
	// still bounds it.
	runCtx := types.WithRunID(context.WithoutCancel(ctx), runID)
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, s.runTimeout)
		defer cancel()
	}

	err := s.dispatcher.Dispatch(runCtx, target, runID)
	finished := s.clock.Now()
	duration := finished.Sub(started)

	s.mu.Lock()
	record.FinishedAt = &finished
	if err != nil {
		record.Error = err.Error()
	}
	s.phase = PhaseIdle
	s.mu.Unlock()

	if s.telemetry != nil {
		s.telemetry.RecordRunDuration(ctx, duration, err == nil)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "run failed",
			"run_id", runID,
			"target", target.Format(time.RFC3339),
			"duration", duration.String(),
			"error", err,
		)
		return
	}
	s.logger.InfoContext(ctx, "run complete",
		"run_id", runID,
		"target", target.Format(time.RFC3339),
		"duration", duration.String(),
	)
}

func (s *Scheduler) setPhase(phase Phase) {
	s.mu.Lock()
	s.phase = phase
	s.mu.Unlock()
}
