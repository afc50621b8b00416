package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"pricetrail/browser"
	"pricetrail/config"
	"pricetrail/interact"
	"pricetrail/models"
	"pricetrail/resolver"
	"pricetrail/session"
)

type submitStep struct {
	name string
	do   func(ctx context.Context) error
}

// search clears the page of obstructions, types the lookup key and submits
// it.
func (l *Lifecycle) search(ctx context.Context, sess *session.Session, res *resolver.Resolver, target *models.ScrapeTarget, site *config.SiteConfig) error {
	if sess.HandleConsent(ctx) {
		if err := sess.HumanDelay(ctx, l.paceLo, l.paceHi); err != nil {
			return err
		}
	}
	sess.DismissOverlays(ctx)

	input, err := res.Resolve(ctx, resolver.SearchInput, resolver.Context{Page: sess.Driver()})
	if err != nil {
		return stepFailure(ctx, FailureResolution, "search input not found", err)
	}
	l.logger.Debug("Resolved search input",
		zap.String("element", input.Node.Label()),
		zap.String("strategy", input.Strategy),
	)

	typed := sess.Executor().Perform(ctx, interact.TypeAction(target.LookupKey), &input.Node, interact.Options{})
	if !typed.OK {
		return stepFailure(ctx, FailureInteraction, "could not type search query", typed.Err)
	}
	if err := sess.HumanDelay(ctx, l.paceLo, l.paceHi); err != nil {
		return err
	}
	return l.submit(ctx, sess, res, &input.Node, site)
}

// submit walks the fallback chain: submit control, Enter, form submission,
// synthetic Enter. A step counts only if the page reacts to it.
func (l *Lifecycle) submit(ctx context.Context, sess *session.Session, res *resolver.Resolver, input *browser.Node, site *config.SiteConfig) error {
	page := sess.Driver()
	exec := sess.Executor()

	steps := []submitStep{
		{"submit_control", func(ctx context.Context) error {
			m, err := res.Resolve(ctx, resolver.SubmitControl, resolver.Context{Page: page, Reference: input})
			if err != nil {
				return err
			}
			if r := exec.Perform(ctx, interact.ClickAction(), &m.Node, interact.Options{}); !r.OK {
				return r.Err
			}
			return nil
		}},
		{"enter_key", func(ctx context.Context) error {
			if err := page.Focus(ctx, input.Ref); err != nil {
				return err
			}
			if r := exec.Perform(ctx, interact.KeyAction("Enter"), nil, interact.Options{}); !r.OK {
				return r.Err
			}
			return nil
		}},
		{"form_submit", func(ctx context.Context) error {
			return page.SubmitForm(ctx, input.Ref)
		}},
		{"synthetic_enter", func(ctx context.Context) error {
			return page.DispatchKey(ctx, input.Ref, "Enter")
		}},
	}

	tried := make([]string, 0, len(steps))
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		tried = append(tried, step.name)
		before := sess.Observe(ctx, site)

		if err := step.do(ctx); err != nil {
			l.logger.Debug("Submit step failed", zap.String("step", step.name), zap.Error(err))
			continue
		}
		if l.reacted(ctx, sess, site, before) {
			l.logger.Debug("Search submitted", zap.String("step", step.name))
			return nil
		}
		l.logger.Debug("Submit step had no effect", zap.String("step", step.name))
	}
	return stepFailure(ctx, FailureInteraction, "could not submit search",
		fmt.Errorf("%w: tried %s", errNotSubmitted, strings.Join(tried, ", ")))
}

// reacted polls until the page has moved on from before or the submit wait
// expires.
func (l *Lifecycle) reacted(ctx context.Context, sess *session.Session, site *config.SiteConfig, before session.ResultState) bool {
	wait := l.policy.SubmitWait
	if wait <= 0 {
		wait = config.DefaultPolicy().SubmitWait
	}
	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	poll := time.NewTicker(l.poll)
	defer poll.Stop()
	for {
		if sess.Observe(wctx, site).Advanced(before) {
			return true
		}
		select {
		case <-wctx.Done():
			return false
		case <-poll.C:
		}
	}
}

// stepFailure reports cancellation as such rather than as the step's
// failure.
func stepFailure(ctx context.Context, kind FailureKind, msg string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &Failure{Kind: kind, Message: msg, Err: err}
}
