package model

import "time"

// Scheduler run mode constants
const (
	ModeStopped = "stopped"
	ModeIdle    = "idle"
	ModePolling = "polling"
)

// SchedulerRuntime is a point-in-time view of the scheduler's run state.
type SchedulerRuntime struct {
	IsRunning    bool       `json:"is_running"`
	IsProcessing bool       `json:"is_processing"`
	Mode         string     `json:"mode"`
	LastCheckAt  *time.Time `json:"last_check_at,omitempty"`
}

// SchedulerStats holds cumulative processing counters.
type SchedulerStats struct {
	TotalChecks    int64  `json:"total_checks"`
	TotalProcessed int64  `json:"total_processed"`
	TotalErrors    int64  `json:"total_errors"`
	LastError      string `json:"last_error,omitempty"`
}

// StatusSnapshot is the payload published to the status sink after each cycle.
type StatusSnapshot struct {
	Runtime   SchedulerRuntime `json:"runtime"`
	Stats     SchedulerStats   `json:"stats"`
	UpdatedAt time.Time        `json:"updated_at"`
}
