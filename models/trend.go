package models

import "time"

type Classification string

const (
	TrendUp     Classification = "up"
	TrendDown   Classification = "down"
	TrendStable Classification = "stable"
	TrendNew    Classification = "new"
)

// TrendResult is derived from the ledger on every read and never stored.
type TrendResult struct {
	TargetID       int64          `json:"target_id"`
	Current        float64        `json:"current"`
	CurrentAt      *time.Time     `json:"current_at"`
	Previous       *float64       `json:"previous"`
	PreviousAt     *time.Time     `json:"previous_at"`
	Delta          float64        `json:"delta"`
	PercentChange  float64        `json:"percent_change"`
	Classification Classification `json:"classification"`
	HasPrevious    bool           `json:"has_previous"`
}

// FleetTrend aggregates trend classifications across targets.
type FleetTrend struct {
	Up      int           `json:"up"`
	Down    int           `json:"down"`
	Stable  int           `json:"stable"`
	New     int           `json:"new"`
	Results []TrendResult `json:"results"`
}

func (f *FleetTrend) Add(r TrendResult) {
	switch r.Classification {
	case TrendUp:
		f.Up++
	case TrendDown:
		f.Down++
	case TrendStable:
		f.Stable++
	default:
		f.New++
	}
	f.Results = append(f.Results, r)
}
