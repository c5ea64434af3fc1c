package model

import "time"

// Project is the durable sync state of one configured project.
type Project struct {
	ID              string
	LastSyncVersion string
	LastSyncTime    time.Time
	ScheduleEnabled bool
	UpdatedAt       time.Time
}

// RunStatus is the terminal (or current) state of a sync run.
type RunStatus string

const (
	RunRunning    RunStatus = "running"
	RunSucceeded  RunStatus = "succeeded"
	RunFailed     RunStatus = "failed"
	RunIncomplete RunStatus = "incomplete"
)

// SyncRun is one recorded invocation of the orchestrator.
type SyncRun struct {
	ID         string
	Project    string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     RunStatus
	Units      int
	Error      string
}

// Duration returns how long the run took, or zero while it is running.
func (r SyncRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
