package scraper

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pricetrail/browser"
	"pricetrail/config"
	"pricetrail/resolver"
	"pricetrail/session"
)

// Store is everything the engine persists to.
type Store interface {
	Ledger
	Registry
	Close() error
}

// Standalone bundles what a one-off scrape needs outside the scheduler.
type Standalone struct {
	Config    *config.Config
	Store     Store
	Launcher  browser.Launcher
	Artifacts session.ArtifactSaver
	Logger    *zap.Logger
	Options   []Option
}

// RunStandalone scrapes a single target with its own session. It owns and
// closes both the session and the store.
func RunStandalone(ctx context.Context, s Standalone, targetID int64) (out Outcome, err error) {
	defer func() {
		if cerr := s.Store.Close(); cerr != nil {
			s.Logger.Warn("Failed to close store", zap.Error(cerr))
			err = errors.Join(err, cerr)
		}
	}()

	target, err := s.Store.GetTarget(ctx, targetID)
	if err != nil {
		return Outcome{TargetID: targetID}, fmt.Errorf("load target %d: %w", targetID, err)
	}

	res := resolver.New(s.Config.Policy, s.Logger)
	sess, err := session.Open(ctx, s.Launcher, session.Options{
		Browser:   s.Config.Browser,
		Policy:    s.Config.Policy,
		Resolver:  res,
		Artifacts: s.Artifacts,
		Logger:    s.Logger,
	})
	if err != nil {
		return Outcome{TargetID: targetID}, err
	}
	defer sess.Close()

	lc := NewLifecycle(s.Store, s.Store, s.Config, res, s.Logger, s.Options...)
	out = lc.Scrape(WithRunID(ctx, "manual-"+uuid.NewString()), sess, *target)
	if out.Failure != nil {
		return out, out.Failure
	}
	return out, out.PersistErr
}
