// Package storage persists the scrape ledger, the target registry, run
// records and the operator command queue. SQLite is the default backend;
// Postgres is used when a database URL is configured.
package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pricetrail/config"
	"pricetrail/models"
)

// Store is the method set shared by every backend.
type Store interface {
	AppendEntry(ctx context.Context, e *models.LedgerEntry) (int64, error)
	LatestSuccess(ctx context.Context, targetID int64) (*models.LedgerEntry, error)
	LatestSuccessBefore(ctx context.Context, targetID int64, before time.Time) (*models.LedgerEntry, error)
	History(ctx context.Context, targetID int64, limit int) ([]models.LedgerEntry, error)
	ReconcileStale(ctx context.Context, cutoff, now time.Time) (int, error)

	ListTargets(ctx context.Context) ([]models.ScrapeTarget, error)
	GetTarget(ctx context.Context, id int64) (*models.ScrapeTarget, error)
	UpdateProjection(ctx context.Context, id int64, value float64, at time.Time) error
	SeedTargets(ctx context.Context, sites map[string]*config.SiteConfig) (int, error)

	CreateRun(ctx context.Context, run *models.ScrapeRun) error
	FinishRun(ctx context.Context, run *models.ScrapeRun) error
	Log(ctx context.Context, entry *models.ScrapeLog) error
	RecentRuns(ctx context.Context, limit int) ([]models.ScrapeRun, error)
	RecentLogs(ctx context.Context, limit int, level *models.LogLevel) ([]models.ScrapeLog, error)

	EnqueueCommand(ctx context.Context, cmd models.CommandType, params models.CommandParams) (int64, error)
	PendingCommands(ctx context.Context) ([]models.Command, error)
	MarkCommandProcessed(ctx context.Context, id int64) error

	Close() error
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// Open returns the Postgres store when DatabaseURL is set and the SQLite
// store at DBPath otherwise.
func Open(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Store, error) {
	if cfg.DatabaseURL != "" {
		return NewPostgresStore(ctx, cfg.DatabaseURL, logger)
	}
	return NewSQLiteStore(cfg.DBPath)
}
