package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"pricetrail/config"
	"pricetrail/models"
)

func TestWindowContains(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC) } // a Monday

	tests := []struct {
		name       string
		start, end string
		t          time.Time
		want       bool
	}{
		{"inside", "09:00", "17:00", at(12, 0), true},
		{"start is inclusive", "09:00", "17:00", at(9, 0), true},
		{"end is inclusive", "09:00", "17:00", at(17, 0), true},
		{"after", "09:00", "17:00", at(17, 1), false},
		{"wrap late evening", "22:00", "06:00", at(23, 30), true},
		{"wrap early morning", "22:00", "06:00", at(5, 59), true},
		{"wrap midday", "22:00", "06:00", at(12, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := ParseWindow(config.SchedulerConfig{Timezone: "UTC", WindowStart: tt.start, WindowEnd: tt.end})
			require.NoError(t, err)
			assert.Equal(t, tt.want, w.Contains(tt.t))
		})
	}
}

func TestWindowDaysAndTimezone(t *testing.T) {
	w, err := ParseWindow(config.SchedulerConfig{
		Timezone:    "Asia/Jakarta",
		WindowStart: "08:00",
		WindowEnd:   "10:00",
		Days:        []time.Weekday{time.Monday},
	})
	require.NoError(t, err)

	// 01:30 UTC on Monday is 08:30 in Jakarta.
	assert.True(t, w.Contains(time.Date(2026, 3, 2, 1, 30, 0, 0, time.UTC)))
	// Same local time on Tuesday.
	assert.False(t, w.Contains(time.Date(2026, 3, 3, 1, 30, 0, 0, time.UTC)))
}

func TestParseWindowErrors(t *testing.T) {
	_, err := ParseWindow(config.SchedulerConfig{WindowStart: "25:00"})
	assert.Error(t, err)
	_, err = ParseWindow(config.SchedulerConfig{WindowEnd: "noon"})
	assert.Error(t, err)
	_, err = ParseWindow(config.SchedulerConfig{Timezone: "Mars/Olympus"})
	assert.Error(t, err)
}

type fakeQueue struct {
	mu        sync.Mutex
	pending   []models.Command
	processed []int64
}

func (q *fakeQueue) PendingCommands(context.Context) ([]models.Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out, nil
}

func (q *fakeQueue) MarkCommandProcessed(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processed = append(q.processed, id)
	return nil
}

func (q *fakeQueue) Processed() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int64(nil), q.processed...)
}

func params(t *testing.T, p models.CommandParams) json.RawMessage {
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return raw
}

func TestHandleCommand(t *testing.T) {
	f := newGate(t, schedCfg(), targets(1, 2))
	s := New(schedCfg(), f.gate, nil, zaptest.NewLogger(t))
	s.now = func() time.Time { return noon }
	ctx := context.Background()

	require.NoError(t, s.HandleCommand(ctx, &models.Command{ID: 1, Command: models.CmdPause}))
	assert.True(t, f.gate.IsPaused())
	require.NoError(t, s.HandleCommand(ctx, &models.Command{ID: 2, Command: models.CmdScrapeNow}))
	assert.Empty(t, f.scraper.Calls(), "paused gate ignores unforced runs")

	require.NoError(t, s.HandleCommand(ctx, &models.Command{ID: 3, Command: models.CmdResume}))
	require.NoError(t, s.HandleCommand(ctx, &models.Command{
		ID:      4,
		Command: models.CmdScrapeTarget,
		Params:  params(t, models.CommandParams{TargetID: 2}),
	}))
	assert.Equal(t, []int64{2}, f.scraper.Calls())

	require.NoError(t, s.HandleCommand(ctx, &models.Command{ID: 5, Command: models.CmdReconcile}))
	assert.Error(t, s.HandleCommand(ctx, &models.Command{ID: 6, Command: models.CmdScrapeTarget}))
	assert.Error(t, s.HandleCommand(ctx, &models.Command{ID: 7, Command: "launch_rockets"}))
}

func TestSchedulerIntervalAndCommands(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := schedCfg()
	cfg.WindowStart, cfg.WindowEnd = "00:00", "23:59"
	cfg.Interval = 10 * time.Millisecond
	cfg.CommandPoll = 5 * time.Millisecond
	f := newGate(t, cfg, targets(1))
	queue := &fakeQueue{pending: []models.Command{{ID: 11, Command: models.CmdPause}}}

	s := New(cfg, f.gate, queue, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	require.Eventually(t, func() bool { return len(queue.Processed()) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, f.gate.IsPaused())

	s.Stop()
	s.Stop()
}

func TestSchedulerCron(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := schedCfg()
	cfg.Cron = "*/5 * * * *"
	f := newGate(t, cfg, targets(1))
	s := New(cfg, f.gate, nil, zaptest.NewLogger(t))

	require.NoError(t, s.Start(context.Background()))
	s.Stop()

	cfg.Cron = "not a cron"
	bad := New(cfg, f.gate, nil, zaptest.NewLogger(t))
	assert.Error(t, bad.Start(context.Background()))
	bad.Stop()
}
