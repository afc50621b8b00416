package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricetrail/config"
	"pricetrail/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedTarget(t *testing.T, s *SQLiteStore, name string) *models.ScrapeTarget {
	t.Helper()
	tgt := &models.ScrapeTarget{Name: name, LookupKey: name, SiteID: "hotelsite"}
	require.NoError(t, s.UpsertTarget(context.Background(), tgt))
	return tgt
}

var base = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func TestLedgerIsAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tgt := seedTarget(t, s, "Grand Hyatt Jakarta")

	id, err := s.AppendEntry(ctx, models.NewInProgress(tgt, "run-1", base))
	require.NoError(t, err)
	assert.NotZero(t, id)

	_, err = s.db.ExecContext(ctx, `UPDATE ledger SET status = 'success' WHERE id = ?`, id)
	assert.ErrorContains(t, err, "append-only")
	_, err = s.db.ExecContext(ctx, `DELETE FROM ledger WHERE id = ?`, id)
	assert.ErrorContains(t, err, "append-only")
}

func TestLatestSuccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tgt := seedTarget(t, s, "Grand Hyatt Jakarta")

	none, err := s.LatestSuccess(ctx, tgt.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = s.AppendEntry(ctx, models.NewSuccess(tgt, "run-1", 3350000, "", base))
	require.NoError(t, err)
	_, err = s.AppendEntry(ctx, models.NewSuccess(tgt, "run-2", 3442473, "", base.Add(24*time.Hour)))
	require.NoError(t, err)
	_, err = s.AppendEntry(ctx, models.NewError(tgt, "run-3", "no price found", "", base.Add(48*time.Hour)))
	require.NoError(t, err)

	latest, err := s.LatestSuccess(ctx, tgt.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 3442473.0, *latest.Value)
	assert.Equal(t, "run-2", latest.RunID)
	assert.True(t, latest.CreatedAt.Equal(base.Add(24*time.Hour)))

	prev, err := s.LatestSuccessBefore(ctx, tgt.ID, latest.CreatedAt)
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, 3350000.0, *prev.Value)

	first, err := s.LatestSuccessBefore(ctx, tgt.ID, base)
	require.NoError(t, err)
	assert.Nil(t, first, "the bound is strict")
}

func TestHistoryNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tgt := seedTarget(t, s, "Grand Hyatt Jakarta")

	_, err := s.AppendEntry(ctx, models.NewInProgress(tgt, "run-1", base))
	require.NoError(t, err)
	_, err = s.AppendEntry(ctx, models.NewError(tgt, "run-1", "interaction: could not submit search", "/tmp/a.png", base.Add(time.Minute)))
	require.NoError(t, err)

	rows, err := s.History(ctx, tgt.ID, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.StatusError, rows[0].Status)
	require.NotNil(t, rows[0].ArtifactPath)
	assert.Equal(t, "/tmp/a.png", *rows[0].ArtifactPath)
	assert.Equal(t, models.StatusInProgress, rows[1].Status)
}

func TestReconcileStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	orphan := seedTarget(t, s, "Orphan")
	closed := seedTarget(t, s, "Closed")
	fresh := seedTarget(t, s, "Fresh")

	_, err := s.AppendEntry(ctx, models.NewInProgress(orphan, "run-1", base))
	require.NoError(t, err)
	_, err = s.AppendEntry(ctx, models.NewInProgress(closed, "run-1", base))
	require.NoError(t, err)
	_, err = s.AppendEntry(ctx, models.NewSuccess(closed, "run-1", 100, "", base.Add(time.Minute)))
	require.NoError(t, err)

	now := base.Add(2 * time.Hour)
	_, err = s.AppendEntry(ctx, models.NewInProgress(fresh, "run-2", now.Add(-time.Minute)))
	require.NoError(t, err)

	n, err := s.ReconcileStale(ctx, now.Add(-time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := s.History(ctx, orphan.ID, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2, "the in-progress row is kept")
	assert.Equal(t, models.StatusError, rows[0].Status)
	assert.Equal(t, "run-1", rows[0].RunID)
	require.NotNil(t, rows[0].ErrorMessage)
	assert.Equal(t, "abandoned: no terminal entry within 1h0m0s", *rows[0].ErrorMessage)

	rows, err = s.History(ctx, fresh.ID, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	again, err := s.ReconcileStale(ctx, now.Add(-time.Hour), now)
	require.NoError(t, err)
	assert.Zero(t, again, "reconciliation is idempotent")
}

func TestTargetsAndProjection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tgt := seedTarget(t, s, "Grand Hyatt Jakarta")

	got, err := s.GetTarget(ctx, tgt.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Nil(t, got.LastValue)

	at := base.Add(time.Hour)
	require.NoError(t, s.UpdateProjection(ctx, tgt.ID, 3442473, at))
	got, err = s.GetTarget(ctx, tgt.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastValue)
	assert.Equal(t, 3442473.0, *got.LastValue)
	require.NotNil(t, got.LastScrapedAt)
	assert.True(t, got.LastScrapedAt.Equal(at))

	_, err = s.GetTarget(ctx, 999)
	assert.ErrorIs(t, err, ErrTargetNotFound)
	assert.ErrorIs(t, s.UpdateProjection(ctx, 999, 1, at), ErrTargetNotFound)

	again := &models.ScrapeTarget{Name: "Grand Hyatt", LookupKey: tgt.LookupKey, SiteID: tgt.SiteID}
	require.NoError(t, s.UpsertTarget(ctx, again))
	assert.Equal(t, tgt.ID, again.ID, "upsert keeps the identity")
}

func TestSeedTargets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sites := map[string]*config.SiteConfig{
		"hotelsite": {ID: "hotelsite", Targets: []config.TargetSeed{
			{Name: "Grand Hyatt", LookupKey: "Grand Hyatt Jakarta"},
			{Name: "Mulia", LookupKey: "Hotel Mulia Senayan"},
		}},
	}
	n, err := s.SeedTargets(ctx, sites)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sites["hotelsite"].Targets = sites["hotelsite"].Targets[:1]
	_, err = s.SeedTargets(ctx, sites)
	require.NoError(t, err)

	all, err := s.ListTargets(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	active := map[string]bool{}
	for _, tgt := range all {
		active[tgt.LookupKey] = tgt.Active
	}
	assert.True(t, active["Grand Hyatt Jakarta"])
	assert.False(t, active["Hotel Mulia Senayan"])
}

func TestRunsAndLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &models.ScrapeRun{ID: "run-1", StartedAt: base, Status: models.RunStatusRunning}
	require.NoError(t, s.CreateRun(ctx, run))

	finished := base.Add(10 * time.Minute)
	run.FinishedAt = &finished
	run.Status = models.RunStatusAborted
	run.Attempted, run.Succeeded, run.Failed = 3, 2, 1
	run.ErrorMessage = "browser launch failed"
	require.NoError(t, s.FinishRun(ctx, run))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.RunStatusAborted, got.Status)
	assert.Equal(t, 3, got.Attempted)
	assert.Equal(t, "browser launch failed", got.ErrorMessage)
	require.NotNil(t, got.FinishedAt)

	missing, err := s.GetRun(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	targetID := int64(7)
	require.NoError(t, s.Log(ctx, &models.ScrapeLog{RunID: "run-1", Timestamp: base, Level: models.LogLevelInfo, Message: "hello", TargetID: &targetID}))
}

func TestCommandQueue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.EnqueueCommand(ctx, models.CmdScrapeTarget, models.CommandParams{TargetID: 4, Force: true})
	require.NoError(t, err)
	_, err = s.EnqueueCommand(ctx, models.CmdPause, models.CommandParams{})
	require.NoError(t, err)

	cmds, err := s.PendingCommands(ctx)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, id1, cmds[0].ID)
	assert.Equal(t, models.CmdScrapeTarget, cmds[0].Command)
	assert.JSONEq(t, `{"target_id":4,"force":true}`, string(cmds[0].Params))

	require.NoError(t, s.MarkCommandProcessed(ctx, id1))
	cmds, err = s.PendingCommands(ctx)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, models.CmdPause, cmds[0].Command)
}
