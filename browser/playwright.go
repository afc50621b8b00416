package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"pricetrail/config"
)

// snapshotScript collects everything the resolver reads about the elements
// matching a selector, in one round trip.
const snapshotScript = `(sel) => {
	const forms = Array.from(document.forms);
	return Array.from(document.querySelectorAll(sel)).map((el) => {
		const r = el.getBoundingClientRect();
		const cs = window.getComputedStyle(el);
		const attrs = {};
		for (const a of el.attributes) attrs[a.name] = a.value;
		const form = el.form || el.closest('form');
		const visible = cs.display !== 'none' && cs.visibility !== 'hidden' &&
			parseFloat(cs.opacity || '1') > 0 && r.width > 0 && r.height > 0;
		return {
			tag: el.tagName.toLowerCase(),
			text: (el.innerText || el.textContent || '').replace(/\s+/g, ' ').trim(),
			attrs: attrs,
			box: {x: r.x, y: r.y, width: r.width, height: r.height},
			visible: visible,
			background: cs.backgroundColor,
			form: form ? 'form-' + forms.indexOf(form) : '',
		};
	});
}`

const dispatchClickScript = `(el) => {
	for (const t of ['mousedown', 'mouseup']) {
		el.dispatchEvent(new MouseEvent(t, {bubbles: true, cancelable: true, view: window}));
	}
	el.click();
	return true;
}`

const dispatchKeyScript = `(el, key) => {
	const code = key === 'Enter' ? 13 : (key === 'Escape' ? 27 : 0);
	for (const t of ['keydown', 'keypress', 'keyup']) {
		el.dispatchEvent(new KeyboardEvent(t, {key: key, code: key, keyCode: code, which: code, bubbles: true, cancelable: true}));
	}
	return true;
}`

const submitFormScript = `(el) => {
	const f = el.form || el.closest('form');
	if (!f) return false;
	if (typeof f.requestSubmit === 'function') f.requestSubmit(); else f.submit();
	return true;
}`

// PlaywrightLauncher starts a persistent Chromium context per Launch.
type PlaywrightLauncher struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

func NewPlaywrightLauncher(cfg config.BrowserConfig, logger *zap.Logger) *PlaywrightLauncher {
	return &PlaywrightLauncher{cfg: cfg, logger: logger.Named("browser")}
}

func (l *PlaywrightLauncher) Launch(ctx context.Context) (Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	userDataDir := l.cfg.UserDataDir
	if !filepath.IsAbs(userDataDir) {
		cwd, _ := os.Getwd()
		userDataDir = filepath.Join(cwd, userDataDir)
	}

	opts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(l.cfg.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	}
	if l.cfg.ProxyURL != "" {
		opts.Proxy = &playwright.Proxy{Server: l.cfg.ProxyURL}
	}

	bctx, err := pw.Chromium.LaunchPersistentContext(userDataDir, opts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	l.logger.Info("Browser launched", zap.Bool("headless", l.cfg.Headless), zap.String("profile", userDataDir))
	return &playwrightDriver{
		pw:      pw,
		context: bctx,
		page:    page,
		cfg:     l.cfg,
	}, nil
}

type playwrightDriver struct {
	mu      sync.Mutex
	pw      *playwright.Playwright
	context playwright.BrowserContext
	page    playwright.Page
	cfg     config.BrowserConfig
	closed  bool
}

// timeoutMs converts the context deadline into playwright's millisecond
// timeout, falling back to def when ctx has none.
func timeoutMs(ctx context.Context, def time.Duration) *float64 {
	if dl, ok := ctx.Deadline(); ok {
		remaining := time.Until(dl)
		if remaining < time.Millisecond {
			remaining = time.Millisecond
		}
		return playwright.Float(float64(remaining.Milliseconds()))
	}
	return playwright.Float(float64(def.Milliseconds()))
}

func (d *playwrightDriver) locator(ref string) (playwright.Locator, error) {
	if _, _, err := ParseRef(ref); err != nil {
		return nil, err
	}
	return d.page.Locator(ref), nil
}

func (d *playwrightDriver) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := d.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   timeoutMs(ctx, d.cfg.NavigationTimeout),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	return err
}

func (d *playwrightDriver) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := d.page.Reload(playwright.PageReloadOptions{
		Timeout:   timeoutMs(ctx, d.cfg.NavigationTimeout),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	return err
}

func (d *playwrightDriver) URL() string {
	return d.page.URL()
}

func (d *playwrightDriver) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return d.page.Content()
}

func (d *playwrightDriver) FindAll(ctx context.Context, selector string) ([]Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := d.page.Evaluate(snapshotScript, selector)
	if err != nil {
		return nil, fmt.Errorf("snapshot %q: %w", selector, err)
	}
	return nodesFromJS(raw, selector), nil
}

func (d *playwrightDriver) BoundingBox(ctx context.Context, ref string) (*Box, error) {
	loc, err := d.locator(ref)
	if err != nil {
		return nil, err
	}
	rect, err := loc.BoundingBox(playwright.LocatorBoundingBoxOptions{Timeout: timeoutMs(ctx, d.cfg.ActionTimeout)})
	if err != nil {
		return nil, err
	}
	if rect == nil {
		return nil, ErrNoBox
	}
	return &Box{X: rect.X, Y: rect.Y, Width: rect.Width, Height: rect.Height}, nil
}

func (d *playwrightDriver) Click(ctx context.Context, ref string) error {
	loc, err := d.locator(ref)
	if err != nil {
		return err
	}
	return loc.Click(playwright.LocatorClickOptions{Timeout: timeoutMs(ctx, d.cfg.ActionTimeout)})
}

func (d *playwrightDriver) MouseClick(ctx context.Context, x, y float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.page.Mouse().Click(x, y)
}

func (d *playwrightDriver) DispatchClick(ctx context.Context, ref string) error {
	loc, err := d.locator(ref)
	if err != nil {
		return err
	}
	_, err = loc.Evaluate(dispatchClickScript, nil, playwright.LocatorEvaluateOptions{Timeout: timeoutMs(ctx, d.cfg.ActionTimeout)})
	return err
}

func (d *playwrightDriver) Focus(ctx context.Context, ref string) error {
	loc, err := d.locator(ref)
	if err != nil {
		return err
	}
	return loc.Focus(playwright.LocatorFocusOptions{Timeout: timeoutMs(ctx, d.cfg.ActionTimeout)})
}

func (d *playwrightDriver) Clear(ctx context.Context, ref string) error {
	loc, err := d.locator(ref)
	if err != nil {
		return err
	}
	return loc.Clear(playwright.LocatorClearOptions{Timeout: timeoutMs(ctx, d.cfg.ActionTimeout)})
}

func (d *playwrightDriver) Type(ctx context.Context, ref, text string, delay time.Duration) error {
	loc, err := d.locator(ref)
	if err != nil {
		return err
	}
	return loc.PressSequentially(text, playwright.LocatorPressSequentiallyOptions{
		Delay:   playwright.Float(float64(delay.Milliseconds())),
		Timeout: timeoutMs(ctx, d.cfg.ActionTimeout),
	})
}

func (d *playwrightDriver) Fill(ctx context.Context, ref, text string) error {
	loc, err := d.locator(ref)
	if err != nil {
		return err
	}
	return loc.Fill(text, playwright.LocatorFillOptions{Timeout: timeoutMs(ctx, d.cfg.ActionTimeout)})
}

func (d *playwrightDriver) Press(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.page.Keyboard().Press(key)
}

func (d *playwrightDriver) DispatchKey(ctx context.Context, ref, key string) error {
	loc, err := d.locator(ref)
	if err != nil {
		return err
	}
	_, err = loc.Evaluate(dispatchKeyScript, key, playwright.LocatorEvaluateOptions{Timeout: timeoutMs(ctx, d.cfg.ActionTimeout)})
	return err
}

func (d *playwrightDriver) SubmitForm(ctx context.Context, ref string) error {
	loc, err := d.locator(ref)
	if err != nil {
		return err
	}
	ok, err := loc.Evaluate(submitFormScript, nil, playwright.LocatorEvaluateOptions{Timeout: timeoutMs(ctx, d.cfg.ActionTimeout)})
	if err != nil {
		return err
	}
	if b, _ := ok.(bool); !b {
		return ErrNoForm
	}
	return nil
}

func (d *playwrightDriver) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if arg == nil {
		return d.page.Evaluate(script)
	}
	return d.page.Evaluate(script, arg)
}

func (d *playwrightDriver) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.page.Screenshot(playwright.PageScreenshotOptions{
		Timeout: timeoutMs(ctx, d.cfg.ActionTimeout),
	})
}

func (d *playwrightDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	var errs []string
	if d.page != nil {
		if err := d.page.Close(); err != nil {
			errs = append(errs, "page: "+err.Error())
		}
	}
	if d.context != nil {
		if err := d.context.Close(); err != nil {
			errs = append(errs, "context: "+err.Error())
		}
	}
	if d.pw != nil {
		if err := d.pw.Stop(); err != nil {
			errs = append(errs, "playwright: "+err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close browser: %s", strings.Join(errs, "; "))
	}
	return nil
}

// nodesFromJS decodes the snapshotScript result.
func nodesFromJS(raw any, selector string) []Node {
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	nodes := make([]Node, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		n := Node{
			Ref:        Ref(selector, i),
			Tag:        jsString(m["tag"]),
			Text:       jsString(m["text"]),
			Visible:    jsBool(m["visible"]),
			Background: jsString(m["background"]),
			FormID:     jsString(m["form"]),
			Attrs:      make(map[string]string),
		}
		if attrs, ok := m["attrs"].(map[string]interface{}); ok {
			for k, v := range attrs {
				n.Attrs[k] = jsString(v)
			}
		}
		if b, ok := m["box"].(map[string]interface{}); ok {
			box := Box{X: jsFloat(b["x"]), Y: jsFloat(b["y"]), Width: jsFloat(b["width"]), Height: jsFloat(b["height"])}
			if !box.Empty() {
				n.Box = &box
			}
		}
		nodes = append(nodes, n)
	}
	return nodes
}

func jsString(v any) string {
	s, _ := v.(string)
	return s
}

func jsBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func jsFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
