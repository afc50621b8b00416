// Package interact performs actions on resolved elements, escalating
// through progressively blunter techniques until one takes effect.
package interact

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pricetrail/browser"
	"pricetrail/config"
	"pricetrail/resolver"
)

// ErrLadderExhausted is returned when every rung of an action failed.
var ErrLadderExhausted = errors.New("interaction ladder exhausted")

const (
	// maxRungs bounds the attempts made for a single action.
	maxRungs       = 3
	defaultTimeout = 10 * time.Second
)

type Kind string

const (
	Click    Kind = "click"
	Type     Kind = "type"
	PressKey Kind = "press_key"
	Navigate Kind = "navigate"
)

type Action struct {
	Kind Kind
	Text string // Type
	Key  string // PressKey
	URL  string // Navigate
}

func ClickAction() Action { return Action{Kind: Click} }
func TypeAction(text string) Action { return Action{Kind: Type, Text: text} }
func KeyAction(key string) Action { return Action{Kind: PressKey, Key: key} }
func NavigateAction(url string) Action { return Action{Kind: Navigate, URL: url} }

// Attempt records one rung.
type Attempt struct {
	Rung     string
	Err      error
	Duration time.Duration
}

type Result struct {
	OK       bool
	Rung     string
	Attempts []Attempt
	Err      error
}

// Options tune a single Perform call. Zero values use the executor's
// defaults.
type Options struct {
	Timeout        time.Duration
	KeystrokeDelay time.Duration
	SkipStability  bool
}

// ElementResolver is the slice of the resolver used for overlay dismissal.
type ElementResolver interface {
	Resolve(ctx context.Context, role resolver.Role, rc resolver.Context) (*resolver.Match, error)
}

type Executor struct {
	page     browser.Driver
	browser  config.BrowserConfig
	policy   config.Policy
	resolver ElementResolver
	logger   *zap.Logger

	pollInterval time.Duration
}

func New(page browser.Driver, bcfg config.BrowserConfig, policy config.Policy, res ElementResolver, logger *zap.Logger) *Executor {
	return &Executor{
		page:         page,
		browser:      bcfg,
		policy:       policy,
		resolver:     res,
		logger:       logger.Named("interact"),
		pollInterval: 100 * time.Millisecond,
	}
}

type rung struct {
	name string
	do   func(ctx context.Context) error
}

// Perform runs action against node. Navigate ignores node; PressKey
// accepts a nil node and then presses at page level only.
func (e *Executor) Perform(ctx context.Context, action Action, node *browser.Node, opts Options) Result {
	if action.Kind != Navigate && action.Kind != PressKey && node == nil {
		return Result{Err: fmt.Errorf("%s: no element", action.Kind)}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.browser.ActionTimeout
		if action.Kind == Navigate {
			timeout = e.browser.NavigationTimeout
		}
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var rungs []rung
	switch action.Kind {
	case Click:
		rungs = e.clickRungs(node.Ref, opts)
	case Type:
		rungs = e.typeRungs(node.Ref, action.Text, opts)
	case PressKey:
		rungs = e.keyRungs(node, action.Key)
	case Navigate:
		rungs = []rung{{"goto", func(ctx context.Context) error { return e.page.Navigate(ctx, action.URL) }}}
	default:
		return Result{Err: fmt.Errorf("unsupported action %q", action.Kind)}
	}

	res := e.climb(ctx, rungs, timeout)
	if !res.OK {
		label := ""
		if node != nil {
			label = node.Label()
		}
		e.logger.Warn("Interaction failed",
			zap.String("action", string(action.Kind)),
			zap.String("element", label),
			zap.Int("attempts", len(res.Attempts)),
			zap.Error(res.Err),
		)
	}
	return res
}

// climb tries each rung in order, stopping at the first success.
func (e *Executor) climb(ctx context.Context, rungs []rung, timeout time.Duration) Result {
	if len(rungs) > maxRungs {
		rungs = rungs[:maxRungs]
	}

	var res Result
	var lastErr error
	for _, r := range rungs {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		rctx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		err := r.do(rctx)
		cancel()

		res.Attempts = append(res.Attempts, Attempt{Rung: r.name, Err: err, Duration: time.Since(start)})
		if err == nil {
			res.OK = true
			res.Rung = r.name
			return res
		}
		lastErr = err
		e.logger.Debug("Rung failed", zap.String("rung", r.name), zap.Error(err))
	}

	if ctx.Err() != nil {
		res.Err = ctx.Err()
		return res
	}
	res.Err = fmt.Errorf("%w after %d attempts: %v", ErrLadderExhausted, len(res.Attempts), lastErr)
	return res
}

func (e *Executor) clickRungs(ref string, opts Options) []rung {
	return []rung{
		{"native", func(ctx context.Context) error {
			e.settle(ctx, ref, opts)
			return e.page.Click(ctx, ref)
		}},
		{"coordinate", func(ctx context.Context) error {
			e.settle(ctx, ref, opts)
			box, err := e.page.BoundingBox(ctx, ref)
			if err != nil {
				return err
			}
			if box.Empty() {
				return browser.ErrNoBox
			}
			x, y := box.Center()
			return e.page.MouseClick(ctx, x, y)
		}},
		{"script", func(ctx context.Context) error {
			return e.page.DispatchClick(ctx, ref)
		}},
	}
}

func (e *Executor) typeRungs(ref, text string, opts Options) []rung {
	delay := opts.KeystrokeDelay
	if delay <= 0 {
		delay = e.browser.KeystrokeDelay
	}
	return []rung{
		{"keyboard", func(ctx context.Context) error {
			if err := e.page.Click(ctx, ref); err != nil {
				return fmt.Errorf("focus by click: %w", err)
			}
			if err := e.page.Clear(ctx, ref); err != nil {
				return fmt.Errorf("clear: %w", err)
			}
			return e.page.Type(ctx, ref, text, delay)
		}},
		{"fill", func(ctx context.Context) error {
			if err := e.page.Focus(ctx, ref); err != nil {
				return fmt.Errorf("focus: %w", err)
			}
			return e.page.Fill(ctx, ref, text)
		}},
	}
}

func (e *Executor) keyRungs(node *browser.Node, key string) []rung {
	if node == nil {
		return []rung{{"keyboard", func(ctx context.Context) error { return e.page.Press(ctx, key) }}}
	}
	return []rung{
		{"keyboard", func(ctx context.Context) error {
			if err := e.page.Focus(ctx, node.Ref); err != nil {
				return fmt.Errorf("focus: %w", err)
			}
			return e.page.Press(ctx, key)
		}},
		{"synthetic", func(ctx context.Context) error {
			return e.page.DispatchKey(ctx, node.Ref, key)
		}},
	}
}

func (e *Executor) settle(ctx context.Context, ref string, opts Options) {
	if opts.SkipStability {
		return
	}
	if !e.WaitStable(ctx, ref) {
		e.logger.Debug("Element geometry not stable, proceeding", zap.String("ref", ref))
	}
}

// WaitStable polls the element's bounding box until two consecutive reads
// agree. It gives up after the policy's stability wait or on the first read
// error and reports whether the element settled; callers proceed either way.
func (e *Executor) WaitStable(ctx context.Context, ref string) bool {
	wait := e.policy.StabilityWait
	if wait <= 0 {
		wait = config.DefaultPolicy().StabilityWait
	}
	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	var last *browser.Box
	for {
		box, err := e.page.BoundingBox(wctx, ref)
		if err != nil {
			return false
		}
		if last != nil && last.Equal(*box) {
			return true
		}
		last = box
		if sleep(wctx, e.pollInterval) != nil {
			return false
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
