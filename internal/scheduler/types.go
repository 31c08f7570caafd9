package scheduler

import "time"

// Phase is the scheduler's position in its poll cycle.
type Phase string

const (
	// PhaseIdle means no cycle has run yet or the last run just finished.
	PhaseIdle Phase = "idle"
	// PhaseChecking means feeds are being probed for a common instant.
	PhaseChecking Phase = "checking"
	// PhaseWaiting means the last check found nothing new to dispatch.
	PhaseWaiting Phase = "waiting"
	// PhaseDispatching means the resume point is being persisted and a
	// worker is about to start.
	PhaseDispatching Phase = "dispatching"
	// PhaseRunning means a worker run is in flight.
	PhaseRunning Phase = "running"
)

// RunRecord describes one dispatched worker run.
type RunRecord struct {
	ID         string     `json:"id"`
	Target     time.Time  `json:"target"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Snapshot is a point-in-time view of the scheduler for the status surface.
type Snapshot struct {
	Phase         Phase      `json:"phase"`
	LastProcessed *time.Time `json:"last_processed,omitempty"`
	LastRun       *RunRecord `json:"last_run,omitempty"`
}
