package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"pricetrail/config"
	"pricetrail/models"
)

// DBPool is the subset of pgxpool.Pool the store uses, so tests can swap in
// a mock pool.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

type PostgresStore struct {
	pool   DBPool
	logger *zap.Logger
}

func NewPostgresStore(ctx context.Context, connString string, logger *zap.Logger) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	store, err := NewPostgresWithPool(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

// NewPostgresWithPool verifies the connection and wraps pool.
func NewPostgresWithPool(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &PostgresStore{pool: pool, logger: logger.Named("postgres")}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS targets (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	lookup_key TEXT NOT NULL,
	site_id TEXT NOT NULL,
	last_value DOUBLE PRECISION,
	last_scraped_at TIMESTAMPTZ,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	UNIQUE (site_id, lookup_key)
);

CREATE TABLE IF NOT EXISTS ledger (
	id BIGSERIAL PRIMARY KEY,
	target_id BIGINT NOT NULL REFERENCES targets(id),
	lookup_key TEXT NOT NULL,
	status TEXT NOT NULL,
	value DOUBLE PRECISION,
	error_message TEXT,
	artifact_path TEXT,
	run_id TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_target_status ON ledger (target_id, status, created_at DESC);

CREATE OR REPLACE FUNCTION ledger_append_only() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'ledger is append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS ledger_append_only ON ledger;
CREATE TRIGGER ledger_append_only BEFORE UPDATE OR DELETE ON ledger
	FOR EACH ROW EXECUTE FUNCTION ledger_append_only();

CREATE TABLE IF NOT EXISTS scrape_runs (
	id TEXT PRIMARY KEY,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	status TEXT,
	attempted INT DEFAULT 0,
	succeeded INT DEFAULT 0,
	failed INT DEFAULT 0,
	skipped INT DEFAULT 0,
	error_message TEXT
);

CREATE TABLE IF NOT EXISTS scrape_logs (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT,
	timestamp TIMESTAMPTZ,
	level TEXT,
	message TEXT,
	target_id BIGINT
);

CREATE TABLE IF NOT EXISTS commands (
	id BIGSERIAL PRIMARY KEY,
	command TEXT NOT NULL,
	params JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed_at TIMESTAMPTZ
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, pgSchema)
	return err
}

// =============================================================================
// Ledger
// =============================================================================

const pgInsertEntry = `
	INSERT INTO ledger (target_id, lookup_key, status, value, error_message, artifact_path, run_id, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING id`

func (s *PostgresStore) AppendEntry(ctx context.Context, e *models.LedgerEntry) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, pgInsertEntry,
		e.TargetID, e.LookupKey, string(e.Status), e.Value, e.ErrorMessage, e.ArtifactPath, e.RunID, e.CreatedAt.UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append ledger entry: %w", err)
	}
	e.ID = id
	return id, nil
}

const pgLatestSuccess = `
	SELECT id, target_id, lookup_key, status, value, error_message, artifact_path, run_id, created_at
	FROM ledger
	WHERE target_id = $1 AND status = 'success' AND created_at < $2
	ORDER BY created_at DESC, id DESC
	LIMIT 1`

// farFuture bounds LatestSuccess so both lookups share one statement.
var farFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

func (s *PostgresStore) LatestSuccess(ctx context.Context, targetID int64) (*models.LedgerEntry, error) {
	return s.LatestSuccessBefore(ctx, targetID, farFuture)
}

func (s *PostgresStore) LatestSuccessBefore(ctx context.Context, targetID int64, before time.Time) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	var status string
	var runID *string
	err := s.pool.QueryRow(ctx, pgLatestSuccess, targetID, before.UTC()).Scan(
		&e.ID, &e.TargetID, &e.LookupKey, &status, &e.Value, &e.ErrorMessage, &e.ArtifactPath, &runID, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest success: %w", err)
	}
	e.Status = models.Status(status)
	if runID != nil {
		e.RunID = *runID
	}
	return &e, nil
}

const pgHistory = `
	SELECT id, target_id, lookup_key, status, value, error_message, artifact_path, run_id, created_at
	FROM ledger WHERE target_id = $1
	ORDER BY id DESC LIMIT $2`

// History returns the newest limit ledger rows of a target, newest first.
func (s *PostgresStore) History(ctx context.Context, targetID int64, limit int) ([]models.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, pgHistory, targetID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	var out []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var status string
		var runID *string
		if err := rows.Scan(&e.ID, &e.TargetID, &e.LookupKey, &status, &e.Value, &e.ErrorMessage, &e.ArtifactPath, &runID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Status = models.Status(status)
		if runID != nil {
			e.RunID = *runID
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const pgReconcileStale = `
	INSERT INTO ledger (target_id, lookup_key, status, error_message, run_id, created_at)
	SELECT p.target_id, p.lookup_key, 'error', $3, p.run_id, $2
	FROM ledger p
	WHERE p.status = 'in_progress' AND p.created_at < $1
	AND NOT EXISTS (
		SELECT 1 FROM ledger t
		WHERE t.target_id = p.target_id AND t.id > p.id AND t.status IN ('success', 'error')
	)`

// ReconcileStale closes orphaned InProgress rows with one INSERT ... SELECT.
func (s *PostgresStore) ReconcileStale(ctx context.Context, cutoff, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, pgReconcileStale, cutoff.UTC(), now.UTC(), abandonedMessage(now.Sub(cutoff)))
	if err != nil {
		return 0, fmt.Errorf("reconcile stale entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// =============================================================================
// Targets
// =============================================================================

const pgSelectTargets = `
	SELECT id, name, lookup_key, site_id, last_value, last_scraped_at, active
	FROM targets`

func (s *PostgresStore) ListTargets(ctx context.Context) ([]models.ScrapeTarget, error) {
	rows, err := s.pool.Query(ctx, pgSelectTargets+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var out []models.ScrapeTarget
	for rows.Next() {
		var t models.ScrapeTarget
		if err := rows.Scan(&t.ID, &t.Name, &t.LookupKey, &t.SiteID, &t.LastValue, &t.LastScrapedAt, &t.Active); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetTarget(ctx context.Context, id int64) (*models.ScrapeTarget, error) {
	var t models.ScrapeTarget
	err := s.pool.QueryRow(ctx, pgSelectTargets+` WHERE id = $1`, id).Scan(
		&t.ID, &t.Name, &t.LookupKey, &t.SiteID, &t.LastValue, &t.LastScrapedAt, &t.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrTargetNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const pgUpdateProjection = `UPDATE targets SET last_value = $1, last_scraped_at = $2 WHERE id = $3`

func (s *PostgresStore) UpdateProjection(ctx context.Context, id int64, value float64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, pgUpdateProjection, value, at.UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrTargetNotFound, id)
	}
	return nil
}

const (
	pgUpsertTarget = `
	INSERT INTO targets (name, lookup_key, site_id, active)
	VALUES ($1, $2, $3, TRUE)
	ON CONFLICT (site_id, lookup_key) DO UPDATE SET
		name = EXCLUDED.name,
		active = TRUE`
	pgDeactivateMissing = `
	UPDATE targets SET active = FALSE
	WHERE site_id = $1 AND NOT (lookup_key = ANY($2))`
)

// SeedTargets applies the site files' target lists in one transaction.
func (s *PostgresStore) SeedTargets(ctx context.Context, sites map[string]*config.SiteConfig) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
	}()

	seeded := 0
	for id, site := range sites {
		keys := make([]string, 0, len(site.Targets))
		for _, seed := range site.Targets {
			if _, err := tx.Exec(ctx, pgUpsertTarget, seed.Name, seed.LookupKey, id); err != nil {
				return 0, fmt.Errorf("seed %s/%s: %w", id, seed.LookupKey, err)
			}
			keys = append(keys, seed.LookupKey)
			seeded++
		}
		if _, err := tx.Exec(ctx, pgDeactivateMissing, id, keys); err != nil {
			return 0, fmt.Errorf("deactivate %s: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return seeded, nil
}

// =============================================================================
// Runs and logs
// =============================================================================

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.ScrapeRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scrape_runs (id, started_at, status) VALUES ($1, $2, $3)`,
		run.ID, run.StartedAt.UTC(), string(run.Status))
	return err
}

func (s *PostgresStore) FinishRun(ctx context.Context, run *models.ScrapeRun) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scrape_runs SET finished_at = $1, status = $2, attempted = $3,
			succeeded = $4, failed = $5, skipped = $6, error_message = $7
		WHERE id = $8`,
		run.FinishedAt, string(run.Status), run.Attempted, run.Succeeded, run.Failed, run.Skipped, run.ErrorMessage, run.ID)
	return err
}

const pgRecentRuns = `
	SELECT id, started_at, finished_at, status, attempted, succeeded, failed, skipped, error_message
	FROM scrape_runs ORDER BY started_at DESC LIMIT $1`

func (s *PostgresStore) RecentRuns(ctx context.Context, limit int) ([]models.ScrapeRun, error) {
	rows, err := s.pool.Query(ctx, pgRecentRuns, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.ScrapeRun
	for rows.Next() {
		var run models.ScrapeRun
		var status string
		var msg *string
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &status, &run.Attempted,
			&run.Succeeded, &run.Failed, &run.Skipped, &msg); err != nil {
			return nil, err
		}
		run.Status = models.RunStatus(status)
		if msg != nil {
			run.ErrorMessage = *msg
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

const pgRecentLogs = `
	SELECT id, run_id, timestamp, level, message, target_id
	FROM scrape_logs
	WHERE ($1::text IS NULL OR level = $1)
	ORDER BY timestamp DESC, id DESC LIMIT $2`

func (s *PostgresStore) RecentLogs(ctx context.Context, limit int, level *models.LogLevel) ([]models.ScrapeLog, error) {
	var filter *string
	if level != nil {
		v := string(*level)
		filter = &v
	}
	rows, err := s.pool.Query(ctx, pgRecentLogs, filter, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.ScrapeLog
	for rows.Next() {
		var l models.ScrapeLog
		var runID *string
		var lvl string
		if err := rows.Scan(&l.ID, &runID, &l.Timestamp, &lvl, &l.Message, &l.TargetID); err != nil {
			return nil, err
		}
		l.Level = models.LogLevel(lvl)
		if runID != nil {
			l.RunID = *runID
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *PostgresStore) Log(ctx context.Context, entry *models.ScrapeLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scrape_logs (run_id, timestamp, level, message, target_id)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.RunID, entry.Timestamp.UTC(), string(entry.Level), entry.Message, entry.TargetID)
	return err
}

// =============================================================================
// Commands
// =============================================================================

func (s *PostgresStore) EnqueueCommand(ctx context.Context, cmd models.CommandType, params models.CommandParams) (int64, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO commands (command, params) VALUES ($1, $2) RETURNING id`,
		string(cmd), raw).Scan(&id)
	return id, err
}

const pgPendingCommands = `
	SELECT id, command, params, created_at
	FROM commands WHERE processed_at IS NULL
	ORDER BY created_at, id`

func (s *PostgresStore) PendingCommands(ctx context.Context) ([]models.Command, error) {
	rows, err := s.pool.Query(ctx, pgPendingCommands)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var name string
		var params []byte
		if err := rows.Scan(&cmd.ID, &name, &params, &cmd.CreatedAt); err != nil {
			return nil, err
		}
		cmd.Command = models.CommandType(name)
		cmd.Params = params
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *PostgresStore) MarkCommandProcessed(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE commands SET processed_at = NOW() WHERE id = $1`, id)
	return err
}
