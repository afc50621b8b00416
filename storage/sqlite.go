package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"pricetrail/config"
	"pricetrail/models"
)

// ErrTargetNotFound is returned by GetTarget for an unknown id.
var ErrTargetNotFound = errors.New("target not found")

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// One writer keeps the append order of the ledger equal to insertion order.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS targets (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		lookup_key TEXT NOT NULL,
		site_id TEXT NOT NULL,
		last_value REAL,
		last_scraped_at DATETIME,
		active BOOLEAN DEFAULT TRUE,
		UNIQUE(site_id, lookup_key)
	);

	CREATE TABLE IF NOT EXISTS ledger (
		id INTEGER PRIMARY KEY,
		target_id INTEGER NOT NULL,
		lookup_key TEXT NOT NULL,
		status TEXT NOT NULL,
		value REAL,
		error_message TEXT,
		artifact_path TEXT,
		run_id TEXT,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (target_id) REFERENCES targets(id)
	);

	CREATE TRIGGER IF NOT EXISTS ledger_no_update BEFORE UPDATE ON ledger
	BEGIN
		SELECT RAISE(ABORT, 'ledger is append-only');
	END;

	CREATE TRIGGER IF NOT EXISTS ledger_no_delete BEFORE DELETE ON ledger
	BEGIN
		SELECT RAISE(ABORT, 'ledger is append-only');
	END;

	CREATE TABLE IF NOT EXISTS scrape_runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		attempted INTEGER DEFAULT 0,
		succeeded INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS scrape_logs (
		id INTEGER PRIMARY KEY,
		run_id TEXT,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		target_id INTEGER
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_target_status ON ledger(target_id, status, created_at);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_run ON scrape_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON scrape_runs(status, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Ledger
// =============================================================================

func (s *SQLiteStore) AppendEntry(ctx context.Context, e *models.LedgerEntry) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger (target_id, lookup_key, status, value, error_message, artifact_path, run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TargetID, e.LookupKey, e.Status, e.Value, e.ErrorMessage, e.ArtifactPath, e.RunID, e.CreatedAt.UTC())
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	e.ID = id
	return id, nil
}

const ledgerColumns = `id, target_id, lookup_key, status, value, error_message, artifact_path, run_id, created_at`

func (s *SQLiteStore) LatestSuccess(ctx context.Context, targetID int64) (*models.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger WHERE target_id = ? AND status = 'success'
		ORDER BY created_at DESC, id DESC LIMIT 1`, targetID)
	return scanEntry(row)
}

func (s *SQLiteStore) LatestSuccessBefore(ctx context.Context, targetID int64, before time.Time) (*models.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger WHERE target_id = ? AND status = 'success' AND created_at < ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, targetID, before.UTC())
	return scanEntry(row)
}

// History returns the newest limit ledger rows of a target, newest first.
func (s *SQLiteStore) History(ctx context.Context, targetID int64, limit int) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger WHERE target_id = ?
		ORDER BY id DESC LIMIT ?`, targetID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	var value sql.NullFloat64
	var msg, artifact, runID sql.NullString
	err := row.Scan(&e.ID, &e.TargetID, &e.LookupKey, &e.Status, &value, &msg, &artifact, &runID, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if value.Valid {
		e.Value = &value.Float64
	}
	if msg.Valid {
		e.ErrorMessage = &msg.String
	}
	if artifact.Valid {
		e.ArtifactPath = &artifact.String
	}
	e.RunID = runID.String
	return &e, nil
}

// ReconcileStale appends an Error row for every InProgress row created
// before cutoff that has no later terminal row. Nothing is updated or
// deleted. It returns the number of rows closed.
func (s *SQLiteStore) ReconcileStale(ctx context.Context, cutoff, now time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT p.target_id, p.lookup_key, p.run_id
		FROM ledger p
		WHERE p.status = 'in_progress' AND p.created_at < ?
		AND NOT EXISTS (
			SELECT 1 FROM ledger t
			WHERE t.target_id = p.target_id AND t.id > p.id AND t.status IN ('success', 'error')
		)
		ORDER BY p.id`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	type orphan struct {
		targetID  int64
		lookupKey string
		runID     sql.NullString
	}
	var orphans []orphan
	for rows.Next() {
		var o orphan
		if err := rows.Scan(&o.targetID, &o.lookupKey, &o.runID); err != nil {
			rows.Close()
			return 0, err
		}
		orphans = append(orphans, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	msg := abandonedMessage(now.Sub(cutoff))
	for _, o := range orphans {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ledger (target_id, lookup_key, status, error_message, run_id, created_at)
			VALUES (?, ?, 'error', ?, ?, ?)`,
			o.targetID, o.lookupKey, msg, o.runID.String, now.UTC()); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(orphans), nil
}

func abandonedMessage(after time.Duration) string {
	return fmt.Sprintf("abandoned: no terminal entry within %s", after.Round(time.Minute))
}

// =============================================================================
// Targets
// =============================================================================

const targetColumns = `id, name, lookup_key, site_id, last_value, last_scraped_at, active`

func (s *SQLiteStore) ListTargets(ctx context.Context) ([]models.ScrapeTarget, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+targetColumns+` FROM targets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ScrapeTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetTarget(ctx context.Context, id int64) (*models.ScrapeTarget, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+targetColumns+` FROM targets WHERE id = ?`, id)
	t, err := scanTarget(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrTargetNotFound, id)
	}
	return t, err
}

func scanTarget(row scanner) (*models.ScrapeTarget, error) {
	var t models.ScrapeTarget
	var value sql.NullFloat64
	var scraped sql.NullTime
	if err := row.Scan(&t.ID, &t.Name, &t.LookupKey, &t.SiteID, &value, &scraped, &t.Active); err != nil {
		return nil, err
	}
	if value.Valid {
		t.LastValue = &value.Float64
	}
	if scraped.Valid {
		t.LastScrapedAt = &scraped.Time
	}
	return &t, nil
}

// UpdateProjection stores the latest successful value on the target row.
func (s *SQLiteStore) UpdateProjection(ctx context.Context, id int64, value float64, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE targets SET last_value = ?, last_scraped_at = ? WHERE id = ?`, value, at.UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrTargetNotFound, id)
	}
	return nil
}

// UpsertTarget inserts a target or refreshes its name and reactivates it.
func (s *SQLiteStore) UpsertTarget(ctx context.Context, t *models.ScrapeTarget) error {
	return s.db.QueryRowContext(ctx, `
		INSERT INTO targets (name, lookup_key, site_id, active)
		VALUES (?, ?, ?, TRUE)
		ON CONFLICT(site_id, lookup_key) DO UPDATE SET
			name = excluded.name,
			active = TRUE
		RETURNING id`,
		t.Name, t.LookupKey, t.SiteID).Scan(&t.ID)
}

// SeedTargets upserts the targets declared in site files and deactivates
// the ones a site no longer declares.
func (s *SQLiteStore) SeedTargets(ctx context.Context, sites map[string]*config.SiteConfig) (int, error) {
	seeded := 0
	for id, site := range sites {
		keep := make(map[string]bool, len(site.Targets))
		for _, seed := range site.Targets {
			t := &models.ScrapeTarget{Name: seed.Name, LookupKey: seed.LookupKey, SiteID: id}
			if err := s.UpsertTarget(ctx, t); err != nil {
				return seeded, fmt.Errorf("seed %s/%s: %w", id, seed.LookupKey, err)
			}
			keep[seed.LookupKey] = true
			seeded++
		}

		existing, err := s.ListTargets(ctx)
		if err != nil {
			return seeded, err
		}
		for _, t := range existing {
			if t.SiteID == id && t.Active && !keep[t.LookupKey] {
				if _, err := s.db.ExecContext(ctx, `UPDATE targets SET active = FALSE WHERE id = ?`, t.ID); err != nil {
					return seeded, err
				}
			}
		}
	}
	return seeded, nil
}

// =============================================================================
// Runs and logs
// =============================================================================

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.ScrapeRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_runs (id, started_at, status)
		VALUES (?, ?, ?)`,
		run.ID, run.StartedAt.UTC(), run.Status)
	return err
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *models.ScrapeRun) error {
	var finished any
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE scrape_runs SET finished_at = ?, status = ?, attempted = ?,
			succeeded = ?, failed = ?, skipped = ?, error_message = ?
		WHERE id = ?`,
		finished, run.Status, run.Attempted, run.Succeeded, run.Failed, run.Skipped, run.ErrorMessage, run.ID)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*models.ScrapeRun, error) {
	var run models.ScrapeRun
	var finished sql.NullTime
	var msg sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, status, attempted, succeeded, failed, skipped, error_message
		FROM scrape_runs WHERE id = ?`, id).Scan(
		&run.ID, &run.StartedAt, &finished, &run.Status, &run.Attempted, &run.Succeeded, &run.Failed, &run.Skipped, &msg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	run.ErrorMessage = msg.String
	return &run, nil
}

// RecentRuns returns the newest runs first.
func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]models.ScrapeRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, attempted, succeeded, failed, skipped, error_message
		FROM scrape_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.ScrapeRun
	for rows.Next() {
		var run models.ScrapeRun
		var finished sql.NullTime
		var msg sql.NullString
		if err := rows.Scan(&run.ID, &run.StartedAt, &finished, &run.Status, &run.Attempted,
			&run.Succeeded, &run.Failed, &run.Skipped, &msg); err != nil {
			return nil, err
		}
		if finished.Valid {
			run.FinishedAt = &finished.Time
		}
		run.ErrorMessage = msg.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RecentLogs returns the newest log rows first, optionally filtered by level.
func (s *SQLiteStore) RecentLogs(ctx context.Context, limit int, level *models.LogLevel) ([]models.ScrapeLog, error) {
	query := `SELECT id, run_id, timestamp, level, message, target_id FROM scrape_logs`
	args := []any{}
	if level != nil {
		query += ` WHERE level = ?`
		args = append(args, *level)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.ScrapeLog
	for rows.Next() {
		var l models.ScrapeLog
		var runID sql.NullString
		var targetID sql.NullInt64
		if err := rows.Scan(&l.ID, &runID, &l.Timestamp, &l.Level, &l.Message, &targetID); err != nil {
			return nil, err
		}
		l.RunID = runID.String
		if targetID.Valid {
			l.TargetID = &targetID.Int64
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) Log(ctx context.Context, entry *models.ScrapeLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_logs (run_id, timestamp, level, message, target_id)
		VALUES (?, ?, ?, ?, ?)`,
		entry.RunID, entry.Timestamp.UTC(), entry.Level, entry.Message, entry.TargetID)
	return err
}

// =============================================================================
// Commands
// =============================================================================

func (s *SQLiteStore) EnqueueCommand(ctx context.Context, cmd models.CommandType, params models.CommandParams) (int64, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return 0, err
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO commands (command, params, created_at) VALUES (?, ?, ?)`,
		cmd, string(raw), time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) PendingCommands(ctx context.Context) ([]models.Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		var processed sql.NullTime
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &processed); err != nil {
			return nil, err
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		if processed.Valid {
			cmd.ProcessedAt = &processed.Time
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}
