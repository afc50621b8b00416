package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusAborted   RunStatus = "aborted"
	RunStatusFailed    RunStatus = "failed"
)

// RunState is a point-in-time copy of the scheduler's run bookkeeping.
type RunState struct {
	Running    bool       `json:"running"`
	RunID      string     `json:"run_id"`
	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Attempted  int        `json:"attempted"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Skipped    int        `json:"skipped"`
	Aborted    bool       `json:"aborted"`
}

// ScrapeRun is the persisted record of one scheduler run.
type ScrapeRun struct {
	ID           string     `json:"id" db:"id"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	FinishedAt   *time.Time `json:"finished_at" db:"finished_at"`
	Status       RunStatus  `json:"status" db:"status"`
	Attempted    int        `json:"attempted" db:"attempted"`
	Succeeded    int        `json:"succeeded" db:"succeeded"`
	Failed       int        `json:"failed" db:"failed"`
	Skipped      int        `json:"skipped" db:"skipped"`
	ErrorMessage string     `json:"error_message" db:"error_message"`
}

type SiteStats struct {
	SiteID        string     `json:"site_id" db:"site_id"`
	Targets       int        `json:"targets" db:"targets"`
	LastSuccessAt *time.Time `json:"last_success_at" db:"last_success_at"`
	Successes     int        `json:"successes" db:"successes"`
	Errors        int        `json:"errors" db:"errors"`
	SuccessRate   float64    `json:"success_rate" db:"success_rate"`
}
