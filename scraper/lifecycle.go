// Package scraper drives a single target through one scrape attempt and
// records every transition in the append-only ledger.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pricetrail/config"
	"pricetrail/extract"
	"pricetrail/models"
	"pricetrail/resolver"
	"pricetrail/session"
)

// Ledger appends attempt rows. Entries are never updated.
type Ledger interface {
	AppendEntry(ctx context.Context, e *models.LedgerEntry) (int64, error)
}

// Registry is the target catalogue. The engine only reads targets and
// writes their projection.
type Registry interface {
	ListTargets(ctx context.Context) ([]models.ScrapeTarget, error)
	GetTarget(ctx context.Context, id int64) (*models.ScrapeTarget, error)
	UpdateProjection(ctx context.Context, id int64, value float64, at time.Time) error
}

// Outcome is the result of one pass through the state machine.
type Outcome struct {
	TargetID   int64
	Status     models.Status
	Value      *float64
	Tier       extract.Tier
	EntryID    int64
	TerminalID int64
	Artifact   string
	Restarted  bool
	Skipped    bool
	Failure    *Failure
	// PersistErr is set when the terminal row or projection could not be
	// written. The attempt is not retried.
	PersistErr error
}

type runIDKey struct{}

// WithRunID tags ctx with the run the attempt belongs to.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

type Lifecycle struct {
	ledger    Ledger
	registry  Registry
	sites     map[string]*config.SiteConfig
	resolver  *resolver.Resolver
	policy    config.Policy
	artifacts config.ArtifactConfig
	logger    *zap.Logger

	now    func() time.Time
	paceLo time.Duration
	paceHi time.Duration
	poll   time.Duration
}

type Option func(*Lifecycle)

// WithClock replaces time.Now for ledger timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) { l.now = now }
}

// WithPacing sets the random pause range between search steps.
func WithPacing(lo, hi time.Duration) Option {
	return func(l *Lifecycle) { l.paceLo, l.paceHi = lo, hi }
}

func NewLifecycle(ledger Ledger, registry Registry, cfg *config.Config, res *resolver.Resolver, logger *zap.Logger, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		ledger:    ledger,
		registry:  registry,
		sites:     cfg.Sites,
		resolver:  res,
		policy:    cfg.Policy,
		artifacts: cfg.Artifacts,
		logger:    logger.Named("lifecycle"),
		now:       time.Now,
		paceLo:    300 * time.Millisecond,
		paceHi:    900 * time.Millisecond,
		poll:      250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Scrape runs Idle -> InProgress -> {Success, Error} for target on sess.
// If the InProgress row cannot be written the target is skipped and no
// page work happens.
func (l *Lifecycle) Scrape(ctx context.Context, sess *session.Session, target models.ScrapeTarget) Outcome {
	runID := RunIDFrom(ctx)
	log := l.logger.With(
		zap.Int64("target_id", target.ID),
		zap.String("target", target.Name),
		zap.String("run_id", runID),
	)
	out := Outcome{TargetID: target.ID, Status: models.StatusInProgress}

	start := l.now()
	entryID, err := l.ledger.AppendEntry(ctx, models.NewInProgress(&target, runID, start))
	if err != nil {
		out.Skipped = true
		out.Failure = classify(fmt.Errorf("%w: %v", ErrPersistence, err), "")
		log.Error("Failed to record in-progress entry, skipping target", zap.Error(err))
		return out
	}
	out.EntryID = entryID

	cand, restarted, err := l.attempt(ctx, sess, &target, log)
	out.Restarted = restarted

	if err != nil {
		out.Status = models.StatusError
		out.Failure = classify(err, "complete search")
		log.Warn("Scrape failed", zap.String("kind", string(out.Failure.Kind)), zap.Error(out.Failure))
		if l.artifacts.ScreenshotOnErr {
			out.Artifact = l.capture(ctx, sess, target.Name+" error", log)
		}
		entry := models.NewError(&target, runID, out.Failure.Short(), out.Artifact, l.terminalTime(start))
		out.TerminalID, out.PersistErr = l.appendTerminal(ctx, entry, log)
		return out
	}

	out.Status = models.StatusSuccess
	out.Value = &cand.Value
	out.Tier = cand.Tier
	if l.artifacts.ScreenshotOnOK {
		out.Artifact = l.capture(ctx, sess, target.Name, log)
	}

	at := l.terminalTime(start)
	out.TerminalID, out.PersistErr = l.appendTerminal(ctx, models.NewSuccess(&target, runID, cand.Value, out.Artifact, at), log)
	if out.PersistErr == nil {
		if err := l.registry.UpdateProjection(ctx, target.ID, cand.Value, at); err != nil {
			out.PersistErr = fmt.Errorf("%w: update projection: %v", ErrPersistence, err)
			log.Error("Failed to update projection", zap.Error(err))
		}
	}
	log.Info("Scrape succeeded",
		zap.Float64("value", cand.Value),
		zap.String("tier", string(cand.Tier)),
		zap.String("matched", cand.Name),
	)
	return out
}

// appendTerminal writes the closing row. Failures are logged and returned,
// never retried.
func (l *Lifecycle) appendTerminal(ctx context.Context, e *models.LedgerEntry, log *zap.Logger) (int64, error) {
	// The terminal row is written even when the attempt was cancelled.
	wctx := context.WithoutCancel(ctx)
	id, err := l.ledger.AppendEntry(wctx, e)
	if err != nil {
		log.Error("Failed to record terminal entry", zap.String("status", string(e.Status)), zap.Error(err))
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return id, nil
}

// terminalTime keeps the terminal row strictly after its InProgress row.
func (l *Lifecycle) terminalTime(start time.Time) time.Time {
	t := l.now()
	if !t.After(start) {
		t = start.Add(time.Millisecond)
	}
	return t
}

func (l *Lifecycle) capture(ctx context.Context, sess *session.Session, label string, log *zap.Logger) string {
	path, err := sess.Screenshot(context.WithoutCancel(ctx), label)
	if err != nil {
		log.Warn("Screenshot failed", zap.Error(err))
		return ""
	}
	return path
}

// attempt runs the page work. A search that cannot be submitted gets one
// restart after a reload.
func (l *Lifecycle) attempt(ctx context.Context, sess *session.Session, target *models.ScrapeTarget, log *zap.Logger) (*extract.Candidate, bool, error) {
	site, ok := l.sites[target.SiteID]
	if !ok {
		return nil, false, &Failure{Kind: FailureDriver, Message: "unknown site " + target.SiteID}
	}
	res := l.resolver.ForSite(site)

	if err := sess.Navigate(ctx, site.SearchURL); err != nil {
		return nil, false, err
	}

	restarted := false
	err := l.search(ctx, sess, res, target, site)
	if err != nil && restartable(err) {
		log.Info("Search failed, reloading and restarting attempt", zap.Error(err))
		restarted = true
		if rerr := sess.Reload(ctx); rerr != nil {
			return nil, restarted, rerr
		}
		err = l.search(ctx, sess, res, target, site)
	}
	if err != nil {
		return nil, restarted, err
	}

	if tier, err := sess.WaitForResults(ctx, site); err != nil {
		if !errors.Is(err, session.ErrNoResults) {
			return nil, restarted, err
		}
		log.Warn("Results not detected, extracting anyway", zap.Error(err))
	} else {
		log.Debug("Results detected", zap.String("tier", string(tier)))
	}

	content, err := sess.Content(ctx)
	if err != nil {
		return nil, restarted, err
	}
	cand, err := extract.Extract(content, extract.Query{
		Name:           target.LookupKey,
		CardSelector:   site.ResultAttr,
		NameSelectors:  res.Profile(resolver.ResultName).Selectors,
		PriceSelectors: res.Profile(resolver.ResultPrice).Selectors,
		Currency:       site.Currency,
		Threshold:      l.policy.NameMatchThreshold,
	})
	if err != nil {
		return nil, restarted, err
	}
	return cand, restarted, nil
}

// restartable reports whether a reload could plausibly help.
func restartable(err error) bool {
	if errors.Is(err, session.ErrDriver) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
