package models

import "time"

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// Terminal reports whether s closes an attempt.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// LedgerEntry is one append-only row of the scrape ledger. A status change
// is recorded by inserting a new entry for the same target and lookup key,
// never by updating an existing one.
type LedgerEntry struct {
	ID           int64     `json:"id" db:"id"`
	TargetID     int64     `json:"target_id" db:"target_id"`
	LookupKey    string    `json:"lookup_key" db:"lookup_key"`
	Status       Status    `json:"status" db:"status"`
	Value        *float64  `json:"value" db:"value"`
	ErrorMessage *string   `json:"error_message" db:"error_message"`
	ArtifactPath *string   `json:"artifact_path" db:"artifact_path"`
	RunID        string    `json:"run_id" db:"run_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

func NewInProgress(t *ScrapeTarget, runID string, now time.Time) *LedgerEntry {
	return &LedgerEntry{
		TargetID:  t.ID,
		LookupKey: t.LookupKey,
		Status:    StatusInProgress,
		RunID:     runID,
		CreatedAt: now,
	}
}

func NewSuccess(t *ScrapeTarget, runID string, value float64, artifact string, now time.Time) *LedgerEntry {
	e := &LedgerEntry{
		TargetID:  t.ID,
		LookupKey: t.LookupKey,
		Status:    StatusSuccess,
		Value:     &value,
		RunID:     runID,
		CreatedAt: now,
	}
	if artifact != "" {
		e.ArtifactPath = &artifact
	}
	return e
}

func NewError(t *ScrapeTarget, runID string, cause string, artifact string, now time.Time) *LedgerEntry {
	e := &LedgerEntry{
		TargetID:     t.ID,
		LookupKey:    t.LookupKey,
		Status:       StatusError,
		ErrorMessage: &cause,
		RunID:        runID,
		CreatedAt:    now,
	}
	if artifact != "" {
		e.ArtifactPath = &artifact
	}
	return e
}
