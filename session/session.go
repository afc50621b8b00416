// Package session owns one browser page for a single scrape attempt and
// wraps the waits and recoveries every scrape needs around it.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"pricetrail/browser"
	"pricetrail/config"
	"pricetrail/interact"
	"pricetrail/resolver"
)

var (
	// ErrDriver marks navigation and browser level failures.
	ErrDriver = errors.New("driver failure")
	// ErrChallenge is reported alongside ErrDriver when the page is an
	// anti-bot interstitial.
	ErrChallenge = errors.New("anti-bot challenge")
)

// ArtifactSaver persists screenshot bytes and returns their location.
type ArtifactSaver interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

type Options struct {
	Browser   config.BrowserConfig
	Policy    config.Policy
	Resolver  *resolver.Resolver
	Artifacts ArtifactSaver
	Logger    *zap.Logger
}

type Session struct {
	driver    browser.Driver
	exec      *interact.Executor
	resolver  *resolver.Resolver
	artifacts ArtifactSaver
	browser   config.BrowserConfig
	policy    config.Policy
	logger    *zap.Logger

	pollInterval time.Duration
	jitter       func(lo, hi time.Duration) time.Duration

	closeOnce sync.Once
	closeErr  error
}

// Open acquires a driver from launcher. Failure here is the one driver
// error that ends a whole run.
func Open(ctx context.Context, launcher browser.Launcher, opts Options) (*Session, error) {
	d, err := launcher.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire browser: %v", ErrDriver, err)
	}
	return New(d, opts), nil
}

// New wraps an already acquired driver.
func New(d browser.Driver, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	res := opts.Resolver
	if res == nil {
		res = resolver.New(opts.Policy, logger)
	}
	return &Session{
		driver:       d,
		exec:         interact.New(d, opts.Browser, opts.Policy, res, logger),
		resolver:     res,
		artifacts:    opts.Artifacts,
		browser:      opts.Browser,
		policy:       opts.Policy,
		logger:       logger.Named("session"),
		pollInterval: 2 * time.Second,
		jitter:       randomBetween,
	}
}

func (s *Session) Driver() browser.Driver { return s.driver }
func (s *Session) Executor() *interact.Executor { return s.exec }
func (s *Session) Resolver() *resolver.Resolver { return s.resolver }

// Navigate loads url, waits for the document and checks for a challenge
// page. Any failure is a DriverFailure.
func (s *Session) Navigate(ctx context.Context, url string) error {
	res := s.exec.Perform(ctx, interact.NavigateAction(url), nil, interact.Options{Timeout: s.navTimeout()})
	if !res.OK {
		return fmt.Errorf("%w: navigate %s: %v", ErrDriver, url, res.Err)
	}
	s.WaitReady(ctx)
	return s.checkChallenge(ctx)
}

func (s *Session) Reload(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(ctx, s.navTimeout())
	defer cancel()
	if err := s.driver.Reload(rctx); err != nil {
		return fmt.Errorf("%w: reload: %v", ErrDriver, err)
	}
	s.WaitReady(ctx)
	return s.checkChallenge(ctx)
}

const readyStateScript = `() => document.readyState`

// WaitReady polls document.readyState until the DOM is usable. It is an
// auxiliary wait: expiry is logged and reported, never returned as error.
func (s *Session) WaitReady(ctx context.Context) bool {
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	for {
		state, err := s.driver.Evaluate(wctx, readyStateScript, nil)
		if err == nil {
			str, ok := state.(string)
			if !ok || str == "interactive" || str == "complete" {
				return true
			}
		}
		if sleepCtx(wctx, 250*time.Millisecond) != nil {
			s.logger.Debug("Document not ready before timeout")
			return false
		}
	}
}

func (s *Session) checkChallenge(ctx context.Context) error {
	trigger, err := s.DetectChallenge(ctx)
	if err != nil {
		return err
	}
	if trigger != "" {
		return fmt.Errorf("%w: %w (%s)", ErrDriver, ErrChallenge, trigger)
	}
	return nil
}

var challengeTriggers = []string{
	"Request unsuccessful. Incapsula",
	"Incapsula incident ID",
	"Access Denied",
	"This request was blocked",
	"Checking your browser before accessing",
	"cf-challenge",
	"px-captcha",
}

// DetectChallenge returns the first anti-bot marker in the page content.
func (s *Session) DetectChallenge(ctx context.Context) (string, error) {
	content, err := s.driver.Content(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: read content: %v", ErrDriver, err)
	}
	for _, t := range challengeTriggers {
		if strings.Contains(content, t) {
			return t, nil
		}
	}
	return "", nil
}

// DismissOverlays runs one non-fatal dismissal pass.
func (s *Session) DismissOverlays(ctx context.Context) {
	for _, a := range s.exec.DismissOverlays(ctx) {
		if a.Err == nil {
			s.logger.Debug("Overlay step ok", zap.String("method", a.Rung))
		}
	}
}

var consentSelectors = []string{
	"#onetrust-accept-btn-handler",
	"#didomi-notice-agree-button",
	"button[id*='accept']",
	"button[class*='accept']",
	"button[class*='consent']",
	"button[data-testid*='accept']",
}

// HandleConsent clicks the first visible cookie-consent button.
func (s *Session) HandleConsent(ctx context.Context) bool {
	for _, sel := range consentSelectors {
		nodes, err := s.driver.FindAll(ctx, sel)
		if err != nil {
			continue
		}
		for i := range nodes {
			if !nodes[i].Visible {
				continue
			}
			res := s.exec.Perform(ctx, interact.ClickAction(), &nodes[i], interact.Options{SkipStability: true})
			if res.OK {
				s.logger.Info("Clicked consent button", zap.String("selector", sel))
				return true
			}
		}
	}
	return false
}

func (s *Session) Content(ctx context.Context) (string, error) {
	content, err := s.driver.Content(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: read content: %v", ErrDriver, err)
	}
	return content, nil
}

// Screenshot captures the page and stores it under a name derived from
// label. Without an artifact store it returns "".
func (s *Session) Screenshot(ctx context.Context, label string) (string, error) {
	if s.artifacts == nil {
		return "", nil
	}
	data, err := s.driver.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("screenshot: %w", err)
	}
	name := fmt.Sprintf("%s_%s.png", sanitize(label), time.Now().UTC().Format("20060102T150405"))
	return s.artifacts.Save(ctx, name, data)
}

// HumanDelay sleeps a random duration in [lo, hi) unless ctx ends first.
func (s *Session) HumanDelay(ctx context.Context, lo, hi time.Duration) error {
	return sleepCtx(ctx, s.jitter(lo, hi))
}

// Close releases the driver. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.driver.Close()
		if s.closeErr != nil {
			s.logger.Warn("Failed to close browser", zap.Error(s.closeErr))
		}
	})
	return s.closeErr
}

func (s *Session) navTimeout() time.Duration {
	if s.browser.NavigationTimeout > 0 {
		return s.browser.NavigationTimeout
	}
	return 60 * time.Second
}

func randomBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
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

func sanitize(label string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(label) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case b.Len() > 0 && !strings.HasSuffix(b.String(), "-"):
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "page"
	}
	return out
}
