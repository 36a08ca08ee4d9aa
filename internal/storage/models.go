package storage

import "time"

// Run states as stored in the runs table.
const (
	RunStateRunning   = "RUNNING"
	RunStateCompleted = "COMPLETED"
	RunStateCancelled = "CANCELLED"
	RunStateFailed    = "FAILED"
)

// RunRecord is one project build run.
type RunRecord struct {
	ID         string     // UUID
	State      string     // One of the RunState constants
	Total      int        // Number of input images
	Progress   int        // Percentage 0-100
	OutputPath string     // Archive path, set once packaging succeeds
	Error      string     // Failure message for FAILED runs
	StartedAt  time.Time
	FinishedAt *time.Time // nil while running
}

// Finished reports whether the run reached a terminal state.
func (r *RunRecord) Finished() bool {
	return r.State != RunStateRunning
}
