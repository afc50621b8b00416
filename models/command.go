package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdScrapeNow    CommandType = "scrape_now"
	CmdScrapeTarget CommandType = "scrape_target"
	CmdPause        CommandType = "pause"
	CmdResume       CommandType = "resume"
	CmdReconcile    CommandType = "reconcile"
)

type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	TargetID int64 `json:"target_id,omitempty"`
	Force    bool  `json:"force,omitempty"`
}
