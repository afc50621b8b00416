package models

import "time"

// ScrapeTarget is an entity scraped on every run: a hotel, a social account.
// LastValue is the projection of the latest Success ledger entry.
type ScrapeTarget struct {
	ID            int64      `json:"id" db:"id" yaml:"-"`
	Name          string     `json:"name" db:"name" yaml:"name"`
	LookupKey     string     `json:"lookup_key" db:"lookup_key" yaml:"lookup_key"`
	SiteID        string     `json:"site_id" db:"site_id" yaml:"-"`
	LastValue     *float64   `json:"last_value" db:"last_value" yaml:"-"`
	LastScrapedAt *time.Time `json:"last_scraped_at" db:"last_scraped_at" yaml:"-"`
	Active        bool       `json:"active" db:"active" yaml:"-"`
}
