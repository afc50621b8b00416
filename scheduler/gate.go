// Package scheduler decides when a run may start and drives a batch of
// targets through the scrape lifecycle one at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pricetrail/browser"
	"pricetrail/config"
	"pricetrail/models"
	"pricetrail/scraper"
	"pricetrail/session"
)

var (
	ErrRunInProgress     = errors.New("a run is in progress")
	ErrReconcileDisabled = errors.New("stale reconciliation is disabled: threshold is not positive")
)

type OutcomeStatus string

const (
	Completed      OutcomeStatus = "completed"
	SkippedRunning OutcomeStatus = "skipped_running"
	SkippedWindow  OutcomeStatus = "skipped_window"
	SkippedPaused  OutcomeStatus = "skipped_paused"
	Aborted        OutcomeStatus = "aborted"
)

// RunOutcome reports what one MaybeRun call did.
type RunOutcome struct {
	Status   OutcomeStatus
	RunID    string
	Tally    Tally
	Outcomes []scraper.Outcome
	Err      error
}

// Started reports whether the call executed a run at all.
func (o RunOutcome) Started() bool {
	return o.Status == Completed || o.Status == Aborted
}

type TargetLister interface {
	ListTargets(ctx context.Context) ([]models.ScrapeTarget, error)
}

// Scraper runs one target through the lifecycle.
type Scraper interface {
	Scrape(ctx context.Context, sess *session.Session, target models.ScrapeTarget) scraper.Outcome
}

// RunRecorder persists run records and operational log rows.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *models.ScrapeRun) error
	FinishRun(ctx context.Context, run *models.ScrapeRun) error
	Log(ctx context.Context, entry *models.ScrapeLog) error
}

// Reconciler closes InProgress rows left behind by crashed attempts.
type Reconciler interface {
	ReconcileStale(ctx context.Context, cutoff, now time.Time) (int, error)
}

type Deps struct {
	State      Flight
	Targets    TargetLister
	Scraper    Scraper
	Launcher   browser.Launcher
	Session    session.Options
	Runs       RunRecorder // optional
	Reconciler Reconciler  // optional
	Logger     *zap.Logger
}

type Gate struct {
	cfg    config.SchedulerConfig
	window Window
	deps   Deps
	logger *zap.Logger
	paused atomic.Bool

	newID func() string
	sleep func(ctx context.Context, d time.Duration) error
}

// NewGate takes the scheduler configuration by value; only the window is
// parsed.
func NewGate(cfg config.SchedulerConfig, deps Deps) (*Gate, error) {
	w, err := ParseWindow(cfg)
	if err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.State == nil {
		deps.State = NewRunState()
	}
	return &Gate{
		cfg:    cfg,
		window: w,
		deps:   deps,
		logger: deps.Logger.Named("gate"),
		newID:  uuid.NewString,
		sleep:  sleepCtx,
	}, nil
}

func (g *Gate) Pause()         { g.paused.Store(true) }
func (g *Gate) Resume()        { g.paused.Store(false) }
func (g *Gate) IsPaused() bool { return g.paused.Load() }

// MaybeRun starts a run over every active target unless the gate is paused,
// now is outside the active window or a run is already executing. Skips
// leave the run state untouched.
func (g *Gate) MaybeRun(ctx context.Context, now time.Time) RunOutcome {
	return g.maybeRun(ctx, now, 0, false)
}

// RunTarget runs a single target through the gate. force bypasses the
// window and the pause flag but never the single-flight guard.
func (g *Gate) RunTarget(ctx context.Context, now time.Time, targetID int64, force bool) RunOutcome {
	return g.maybeRun(ctx, now, targetID, force)
}

// RunNow is MaybeRun for operator commands.
func (g *Gate) RunNow(ctx context.Context, now time.Time, force bool) RunOutcome {
	return g.maybeRun(ctx, now, 0, force)
}

func (g *Gate) maybeRun(ctx context.Context, now time.Time, only int64, force bool) RunOutcome {
	if !force {
		if g.paused.Load() {
			g.logger.Debug("Gate paused, skipping run")
			return RunOutcome{Status: SkippedPaused}
		}
		if !g.window.Contains(now) {
			g.logger.Debug("Outside active window, skipping run", zap.Time("now", now))
			return RunOutcome{Status: SkippedWindow}
		}
	}

	runID := g.newID()
	if !g.deps.State.TryStart(runID, now) {
		g.logger.Info("Run already in progress, skipping")
		return RunOutcome{Status: SkippedRunning}
	}

	out := RunOutcome{Status: Completed, RunID: runID}
	defer func() {
		g.deps.State.Finish(time.Now(), out.Status == Aborted)
	}()

	g.execute(ctx, now, only, &out)
	return out
}

func (g *Gate) execute(ctx context.Context, now time.Time, only int64, out *RunOutcome) {
	log := g.logger.With(zap.String("run_id", out.RunID))
	g.reconcile(ctx, now, log)

	run := &models.ScrapeRun{ID: out.RunID, StartedAt: now, Status: models.RunStatusRunning}
	if g.deps.Runs != nil {
		if err := g.deps.Runs.CreateRun(ctx, run); err != nil {
			log.Warn("Failed to record run start", zap.Error(err))
		}
	}
	defer g.finishRun(ctx, run, out, log)

	targets, err := g.batch(ctx, only)
	if err != nil {
		out.Status = Aborted
		out.Err = err
		g.runLog(ctx, out.RunID, models.LogLevelError, fmt.Sprintf("Could not load targets: %v", err), nil)
		return
	}
	g.runLog(ctx, out.RunID, models.LogLevelInfo, fmt.Sprintf("Starting run over %d targets", len(targets)), nil)

	rctx := scraper.WithRunID(ctx, out.RunID)
	for i, t := range targets {
		if i > 0 {
			if err := g.sleep(ctx, g.cfg.InterTargetDelay); err != nil {
				out.Status = Aborted
				out.Err = err
				return
			}
		}
		if err := ctx.Err(); err != nil {
			out.Status = Aborted
			out.Err = err
			return
		}

		sess, err := g.acquire(ctx)
		if err != nil {
			out.Status = Aborted
			out.Err = err
			g.runLog(ctx, out.RunID, models.LogLevelError, fmt.Sprintf("Driver acquisition failed, aborting run: %v", err), &t.ID)
			log.Error("Driver acquisition failed, aborting run", zap.Int("remaining", len(targets)-i), zap.Error(err))
			return
		}
		o := g.deps.Scraper.Scrape(rctx, sess, t)
		if cerr := sess.Close(); cerr != nil {
			log.Warn("Failed to release session", zap.Error(cerr))
		}

		out.Outcomes = append(out.Outcomes, o)
		g.count(&out.Tally, o)
		g.deps.State.Record(out.Tally)
		g.logOutcome(ctx, out.RunID, t, o)
	}
}

// acquire opens a session, retrying up to MaxRetries extra times.
func (g *Gate) acquire(ctx context.Context) (*session.Session, error) {
	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := g.sleep(ctx, time.Duration(attempt)*time.Second); err != nil {
				return nil, err
			}
		}
		sess, err := session.Open(ctx, g.deps.Launcher, g.deps.Session)
		if err == nil {
			return sess, nil
		}
		lastErr = err
		g.logger.Warn("Session open failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return nil, lastErr
}

func (g *Gate) batch(ctx context.Context, only int64) ([]models.ScrapeTarget, error) {
	all, err := g.deps.Targets.ListTargets(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.ScrapeTarget
	for _, t := range all {
		if !t.Active || (only != 0 && t.ID != only) {
			continue
		}
		out = append(out, t)
	}
	if only != 0 && len(out) == 0 {
		return nil, fmt.Errorf("target %d not found or inactive", only)
	}
	return out, nil
}

func (g *Gate) count(t *Tally, o scraper.Outcome) {
	switch {
	case o.Skipped:
		t.Skipped++
	case o.Status == models.StatusSuccess:
		t.Attempted++
		t.Succeeded++
	default:
		t.Attempted++
		t.Failed++
	}
}

func (g *Gate) reconcile(ctx context.Context, now time.Time, log *zap.Logger) {
	if g.deps.Reconciler == nil || g.cfg.StaleAfter <= 0 {
		return
	}
	n, err := g.deps.Reconciler.ReconcileStale(ctx, now.Add(-g.cfg.StaleAfter), now)
	if err != nil {
		log.Warn("Stale entry reconciliation failed", zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("Closed abandoned in-progress entries", zap.Int("count", n))
	}
}

// Reconcile closes stale InProgress rows outside of a run. It refuses while
// a run executes, since that run's open entry is not abandoned, and runs
// cannot start until it returns.
func (g *Gate) Reconcile(ctx context.Context, now time.Time) (int, error) {
	if g.deps.Reconciler == nil {
		return 0, nil
	}
	if g.cfg.StaleAfter <= 0 {
		return 0, ErrReconcileDisabled
	}
	release, ok := g.deps.State.Hold()
	if !ok {
		return 0, ErrRunInProgress
	}
	defer release()
	return g.deps.Reconciler.ReconcileStale(ctx, now.Add(-g.cfg.StaleAfter), now)
}

func (g *Gate) finishRun(ctx context.Context, run *models.ScrapeRun, out *RunOutcome, log *zap.Logger) {
	finished := time.Now()
	run.FinishedAt = &finished
	run.Attempted = out.Tally.Attempted
	run.Succeeded = out.Tally.Succeeded
	run.Failed = out.Tally.Failed
	run.Skipped = out.Tally.Skipped
	run.Status = models.RunStatusCompleted
	if out.Status == Aborted {
		run.Status = models.RunStatusAborted
		if out.Err != nil {
			run.ErrorMessage = out.Err.Error()
		}
	}

	msg := fmt.Sprintf("Run %s: %d attempted, %d succeeded, %d failed, %d skipped",
		run.Status, run.Attempted, run.Succeeded, run.Failed, run.Skipped)
	g.runLog(ctx, out.RunID, models.LogLevelInfo, msg, nil)
	log.Info("Run finished",
		zap.String("status", string(run.Status)),
		zap.Int("attempted", run.Attempted),
		zap.Int("succeeded", run.Succeeded),
		zap.Int("failed", run.Failed),
		zap.Int("skipped", run.Skipped),
	)

	if g.deps.Runs != nil {
		if err := g.deps.Runs.FinishRun(context.WithoutCancel(ctx), run); err != nil {
			log.Warn("Failed to record run end", zap.Error(err))
		}
	}
}

func (g *Gate) logOutcome(ctx context.Context, runID string, t models.ScrapeTarget, o scraper.Outcome) {
	switch {
	case o.Skipped:
		g.runLog(ctx, runID, models.LogLevelWarn, fmt.Sprintf("%s: skipped, %s", t.Name, o.Failure.Short()), &t.ID)
	case o.Failure != nil:
		g.runLog(ctx, runID, models.LogLevelError, fmt.Sprintf("%s: %s", t.Name, o.Failure.Short()), &t.ID)
	case o.Value != nil:
		g.runLog(ctx, runID, models.LogLevelInfo, fmt.Sprintf("%s: %.2f", t.Name, *o.Value), &t.ID)
	}
}

// runLog writes an operational log row. Its failure is never fatal.
func (g *Gate) runLog(ctx context.Context, runID string, level models.LogLevel, msg string, targetID *int64) {
	if g.deps.Runs == nil {
		return
	}
	entry := &models.ScrapeLog{
		RunID:     runID,
		Timestamp: time.Now(),
		Level:     level,
		Message:   msg,
		TargetID:  targetID,
	}
	if err := g.deps.Runs.Log(context.WithoutCancel(ctx), entry); err != nil {
		g.logger.Debug("Failed to write run log", zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
