package dashboard

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricetrail/models"
)

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type queued struct {
	cmd    models.CommandType
	params models.CommandParams
}

type fakeSource struct {
	runs      []models.ScrapeRun
	runsErr   error
	logs      []models.ScrapeLog
	lastLevel *models.LogLevel
	targets   []models.ScrapeTarget
	history   map[int64][]models.LedgerEntry
	queued    []queued
	queueErr  error
}

func (f *fakeSource) RecentRuns(context.Context, int) ([]models.ScrapeRun, error) {
	return f.runs, f.runsErr
}

func (f *fakeSource) RecentLogs(_ context.Context, _ int, level *models.LogLevel) ([]models.ScrapeLog, error) {
	f.lastLevel = level
	return f.logs, nil
}

func (f *fakeSource) ListTargets(context.Context) ([]models.ScrapeTarget, error) {
	return f.targets, nil
}

func (f *fakeSource) History(_ context.Context, id int64, _ int) ([]models.LedgerEntry, error) {
	return f.history[id], nil
}

func (f *fakeSource) EnqueueCommand(_ context.Context, cmd models.CommandType, params models.CommandParams) (int64, error) {
	if f.queueErr != nil {
		return 0, f.queueErr
	}
	f.queued = append(f.queued, queued{cmd, params})
	return int64(len(f.queued)), nil
}

type fakeTrends struct {
	fleet *models.FleetTrend
}

func (f fakeTrends) Fleet(context.Context) (*models.FleetTrend, error) {
	return f.fleet, nil
}

func ptr[T any](v T) *T { return &v }

func fixture() (*fakeSource, fakeTrends) {
	src := &fakeSource{
		runs: []models.ScrapeRun{{
			ID: "run-0001-abcdef", StartedAt: now.Add(-5 * time.Minute), Status: models.RunStatusCompleted,
			Attempted: 2, Succeeded: 1, Failed: 1,
		}},
		targets: []models.ScrapeTarget{
			{ID: 1, Name: "Grand Hyatt Jakarta", SiteID: "hotelsite", LastValue: ptr(3442473.0), Active: true},
			{ID: 2, Name: "Hotel Mulia Senayan", SiteID: "hotelsite", Active: true},
			{ID: 3, Name: "Retired Hotel", SiteID: "hotelsite", Active: false},
		},
		history: map[int64][]models.LedgerEntry{
			1: {{TargetID: 1, Status: models.StatusSuccess, Value: ptr(3442473.0), CreatedAt: now}},
			2: {{TargetID: 2, Status: models.StatusError, ErrorMessage: ptr("resolution: search input not found"), CreatedAt: now}},
		},
	}
	fleet := &models.FleetTrend{}
	fleet.Add(models.TrendResult{TargetID: 1, Current: 3442473, Previous: ptr(3350000.0), Delta: 92473,
		PercentChange: 2.76, Classification: models.TrendUp, HasPrevious: true})
	fleet.Add(models.TrendResult{TargetID: 2, Classification: models.TrendNew})
	return src, fakeTrends{fleet}
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestOverview(t *testing.T) {
	src, trends := fixture()
	o := NewOverview(context.Background(), src, trends, filepath.Join(t.TempDir(), "missing.log"))
	o.now = func() time.Time { return now }
	o = o.SetSize(120, 40)

	o, _ = o.Update(o.Refresh()())
	view := o.View()
	assert.Contains(t, view, "run-0001-…")
	assert.Contains(t, view, "completed")
	assert.Contains(t, view, "5m ago")
	assert.Contains(t, view, "Up")

	o, _ = o.Update(o.tailLog()())
	assert.Contains(t, o.View(), "(no log file)")
	assert.Contains(t, o.View(), "STALE")

	src.runsErr = errors.New("database is locked")
	o, _ = o.Update(o.Refresh()())
	assert.Contains(t, o.View(), "Error: database is locked")
	assert.Contains(t, o.View(), "completed", "the last good data stays on screen")
}

func TestReadLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	var lines []string
	for i := 0; i < 500; i++ {
		lines = append(lines, strings.Repeat("x", i%7)+"line")
	}
	lines[499] = "last"
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	got, mod := readLastLines(path, 3)
	assert.Len(t, got, 3)
	assert.Equal(t, "last", got[2])
	assert.False(t, mod.IsZero())

	empty := filepath.Join(t.TempDir(), "empty.log")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	got, _ = readLastLines(empty, 3)
	assert.Equal(t, []string{"(empty log)"}, got)
}

func TestTargetsSelectionLoadsHistory(t *testing.T) {
	src, trends := fixture()
	v := NewTargets(context.Background(), src, trends).SetSize(140, 40)

	v, cmd := v.Update(v.Refresh()())
	require.Len(t, v.targets, 2, "inactive targets are hidden by default")
	require.NotNil(t, cmd)
	v, _ = v.Update(cmd())

	view := v.View()
	assert.Contains(t, view, "Grand Hyatt Jakarta")
	assert.Contains(t, view, "3,442,473")
	assert.Contains(t, view, "+2.76%")
	assert.NotContains(t, view, "Retired Hotel")

	v, cmd = v.Update(tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, int64(2), v.SelectedID())
	require.NotNil(t, cmd)
	v, _ = v.Update(cmd())
	assert.Contains(t, v.View(), "search input not found")

	v, cmd = v.Update(keyRunes("a"))
	v, _ = v.Update(cmd())
	assert.Len(t, v.targets, 3)
}

func TestLogsLevelFilter(t *testing.T) {
	src, _ := fixture()
	src.logs = []models.ScrapeLog{
		{Timestamp: now, Level: models.LogLevelError, Message: "Grand Hyatt Jakarta: interaction: could not submit search", TargetID: ptr(int64(1))},
	}
	l := NewLogs(context.Background(), src).SetSize(120, 30)

	l, _ = l.Update(l.Refresh()())
	assert.Nil(t, src.lastLevel)
	assert.Contains(t, l.View(), "[#1]")
	assert.Contains(t, l.View(), "[ALL]")

	l, cmd := l.Update(tea.KeyMsg{Type: tea.KeyRight})
	require.NotNil(t, cmd)
	l, _ = l.Update(cmd())
	require.NotNil(t, src.lastLevel)
	assert.Equal(t, models.LogLevelInfo, *src.lastLevel)
	assert.Contains(t, l.View(), "[INFO]")
}

func TestModelQueuesCommands(t *testing.T) {
	src, trends := fixture()
	m := New(context.Background(), src, trends, "")
	m.now = func() time.Time { return now }

	updated, _ := m.Update(tea.WindowSizeMsg{Width: 140, Height: 40})
	m = updated.(Model)

	updated, cmd := m.Update(keyRunes("s"))
	m = updated.(Model)
	require.NotNil(t, cmd)
	updated, _ = m.Update(cmd())
	m = updated.(Model)
	assert.Contains(t, m.View(), "Scrape command sent!")

	updated, _ = m.Update(keyRunes("t"))
	m = updated.(Model)
	updated, _ = m.Update(m.targets.Refresh()())
	m = updated.(Model)
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	cmd()

	require.Len(t, src.queued, 2)
	assert.Equal(t, models.CmdScrapeNow, src.queued[0].cmd)
	assert.False(t, src.queued[0].params.Force)
	assert.Equal(t, models.CmdScrapeTarget, src.queued[1].cmd)
	assert.Equal(t, models.CommandParams{TargetID: 1, Force: true}, src.queued[1].params)

	src.queueErr = errors.New("readonly database")
	_, cmd = m.Update(keyRunes("x"))
	assert.Equal(t, notifyMsg("Command failed: readonly database"), cmd())

	_, cmd = m.Update(keyRunes("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "3,442,473", formatValue(3442473))
	assert.Equal(t, "1,234.50", formatValue(1234.5))
	assert.Equal(t, "12", formatValue(12))
}
