package interact

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pricetrail/browser"
	"pricetrail/config"
	"pricetrail/resolver"
)

// OverlaySelectors match modal layers that block the search surface.
var OverlaySelectors = []string{
	"[role='dialog']",
	"[aria-modal='true']",
	".modal.show",
	"#onetrust-banner-sdk",
	"#didomi-notice",
	"[class*='overlay'][class*='open']",
}

// outsideX and outsideY are the page coordinates clicked to dismiss
// light-dismiss popovers.
const (
	outsideX = 5
	outsideY = 5
)

// DismissOverlays makes one pass of every dismissal method. Each method is
// independent and its failure is only recorded. The returned attempts are
// in execution order; nothing here is a guaranteed effect.
func (e *Executor) DismissOverlays(ctx context.Context) []Attempt {
	methods := []rung{
		{"click_outside", func(ctx context.Context) error {
			return e.page.MouseClick(ctx, outsideX, outsideY)
		}},
		{"escape", func(ctx context.Context) error {
			return e.page.Press(ctx, "Escape")
		}},
		{"close_button", e.clickCloseButton},
		{"wait_vanish", e.waitOverlaysGone},
	}

	wait := e.policy.OverlayWait
	if wait <= 0 {
		wait = config.DefaultPolicy().OverlayWait
	}

	attempts := make([]Attempt, 0, len(methods))
	for _, m := range methods {
		if ctx.Err() != nil {
			break
		}
		mctx, cancel := context.WithTimeout(ctx, wait)
		start := time.Now()
		err := m.do(mctx)
		cancel()
		attempts = append(attempts, Attempt{Rung: m.name, Err: err, Duration: time.Since(start)})
		if err != nil {
			e.logger.Debug("Overlay dismissal step failed", zap.String("method", m.name), zap.Error(err))
		}
	}
	return attempts
}

func (e *Executor) clickCloseButton(ctx context.Context) error {
	if e.resolver == nil {
		return resolver.ErrNotFound
	}
	m, err := e.resolver.Resolve(ctx, resolver.OverlayClose, resolver.Context{Page: e.page})
	if err != nil {
		return err
	}
	node := m.Node
	res := e.climb(ctx, e.clickRungs(node.Ref, Options{SkipStability: true}), e.actionTimeout())
	if !res.OK {
		return res.Err
	}
	e.logger.Debug("Closed overlay", zap.String("element", node.Label()), zap.String("strategy", m.Strategy))
	return nil
}

// waitOverlaysGone polls until no known overlay selector has a visible
// match, or ctx expires.
func (e *Executor) waitOverlaysGone(ctx context.Context) error {
	for {
		visible, err := e.visibleOverlays(ctx)
		if err != nil {
			return err
		}
		if visible == 0 {
			return nil
		}
		if err := sleep(ctx, e.pollInterval); err != nil {
			return err
		}
	}
}

func (e *Executor) visibleOverlays(ctx context.Context) (int, error) {
	count := 0
	for _, sel := range OverlaySelectors {
		nodes, err := e.page.FindAll(ctx, sel)
		if err != nil {
			return 0, err
		}
		for _, n := range nodes {
			if n.Visible {
				count++
			}
		}
	}
	return count, nil
}

func (e *Executor) actionTimeout() time.Duration {
	if e.browser.ActionTimeout > 0 {
		return e.browser.ActionTimeout
	}
	return defaultTimeout
}

// Page returns the driver the executor acts on.
func (e *Executor) Page() browser.Driver {
	return e.page
}
