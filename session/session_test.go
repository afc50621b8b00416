package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pricetrail/browser"
	"pricetrail/browser/browsertest"
	"pricetrail/config"
)

type stubLauncher struct {
	driver browser.Driver
	err    error
}

func (l stubLauncher) Launch(context.Context) (browser.Driver, error) {
	return l.driver, l.err
}

type memArtifacts struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func (m *memArtifacts) Save(_ context.Context, name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[string][]byte)
	}
	m.saved[name] = data
	return "mem://" + name, nil
}

func testOptions(t *testing.T) Options {
	policy := config.DefaultPolicy()
	policy.ResultWait = 200 * time.Millisecond
	policy.OverlayWait = 50 * time.Millisecond
	return Options{
		Browser: config.BrowserConfig{NavigationTimeout: time.Second, ActionTimeout: time.Second},
		Policy:  policy,
		Logger:  zaptest.NewLogger(t),
	}
}

func newSession(t *testing.T, d *browsertest.Driver) *Session {
	t.Helper()
	s, err := Open(context.Background(), stubLauncher{driver: d}, testOptions(t))
	require.NoError(t, err)
	s.SetPollInterval(5 * time.Millisecond)
	return s
}

var site = &config.SiteConfig{
	ID:          "example_hotels",
	ResultAttr:  "[data-testid='property-card']",
	ResultClass: "property-card",
	Currency:    []string{"Rp", "IDR"},
}

func TestOpenFailureIsDriverFailure(t *testing.T) {
	_, err := Open(context.Background(), stubLauncher{err: errors.New("chromium missing")}, testOptions(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDriver)
	assert.Contains(t, err.Error(), "chromium missing")
}

func TestNavigate(t *testing.T) {
	d := browsertest.New("")
	d.Routes["https://hotels.test/search"] = `<input name="q">`
	s := newSession(t, d)

	require.NoError(t, s.Navigate(context.Background(), "https://hotels.test/search"))
	assert.Equal(t, "https://hotels.test/search", d.URL())
}

func TestNavigateFailure(t *testing.T) {
	d := browsertest.New("")
	d.FailOn["navigate"] = errors.New("net::ERR_NAME_NOT_RESOLVED")
	s := newSession(t, d)

	err := s.Navigate(context.Background(), "https://hotels.test/search")
	assert.ErrorIs(t, err, ErrDriver)
	assert.NotErrorIs(t, err, ErrChallenge)
}

func TestNavigateDetectsChallenge(t *testing.T) {
	d := browsertest.New("")
	d.Routes["https://hotels.test/search"] = `<p>Request unsuccessful. Incapsula incident ID: 123</p>`
	s := newSession(t, d)

	err := s.Navigate(context.Background(), "https://hotels.test/search")
	assert.ErrorIs(t, err, ErrDriver)
	assert.ErrorIs(t, err, ErrChallenge)
}

func TestWaitForResultsTiers(t *testing.T) {
	tests := []struct {
		name string
		html string
		want ResultTier
	}{
		{"attribute", `<div data-testid="property-card">Grand Hyatt</div>`, ResultsByAttribute},
		{"class", `<div class="c-1 property-card--compact">Grand Hyatt</div>`, ResultsByClass},
		{"currency text", `<div><span>Rp 3.350.000</span></div>`, ResultsByText},
		{"keyword text", `<h1>248 properties found</h1>`, ResultsByText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(t, browsertest.New(tt.html))
			tier, err := s.WaitForResults(context.Background(), site)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tier)
		})
	}
}

func TestWaitForResultsIgnoresHiddenCards(t *testing.T) {
	s := newSession(t, browsertest.New(`<div data-testid="property-card" hidden></div><p>Loading</p>`))
	_, err := s.WaitForResults(context.Background(), site)
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestWaitForResultsPollsUntilRendered(t *testing.T) {
	d := browsertest.New(`<div class="spinner">Loading</div>`)
	s := newSession(t, d)

	go func() {
		time.Sleep(30 * time.Millisecond)
		d.SetHTML(`<div data-testid="property-card">Grand Hyatt Jakarta</div>`)
	}()

	tier, err := s.WaitForResults(context.Background(), site)
	require.NoError(t, err)
	assert.Equal(t, ResultsByAttribute, tier)
}

func TestObserveAdvanced(t *testing.T) {
	ctx := context.Background()
	d := browsertest.New(`<p>Weekend deals from Rp 1.000.000</p>`)
	s := newSession(t, d)

	base := s.Observe(ctx, site)
	assert.Equal(t, ResultsByText, base.Tier)
	assert.False(t, s.Observe(ctx, site).Advanced(base), "the promo price was already on the page")

	d.SetHTML(`<p>Weekend deals from Rp 1.000.000</p><p>Rp 2.000.000</p>`)
	assert.False(t, s.Observe(ctx, site).Advanced(base), "more currency text alone is not a reaction")

	d.SetHTML(`<div data-testid="property-card">Grand Hyatt Jakarta</div>`)
	cards := s.Observe(ctx, site)
	assert.Equal(t, ResultsByAttribute, cards.Tier)
	assert.True(t, cards.Advanced(base))
	assert.False(t, s.Observe(ctx, site).Advanced(cards))

	d.SetHTML(`<div data-testid="property-card">Hotel Mulia Senayan</div>`)
	assert.True(t, s.Observe(ctx, site).Advanced(cards), "the result list re-rendered")

	empty := ResultState{URL: cards.URL}
	d.SetHTML(`<p>Loading</p>`)
	assert.False(t, s.Observe(ctx, site).Advanced(empty))

	require.NoError(t, d.Navigate(ctx, "https://hotels.test/search?q=hyatt"))
	assert.True(t, s.Observe(ctx, site).Advanced(empty))
}

func TestWaitForResultsChallenge(t *testing.T) {
	s := newSession(t, browsertest.New(`<h1>Access Denied</h1>`))
	_, err := s.WaitForResults(context.Background(), site)
	assert.ErrorIs(t, err, ErrChallenge)
}

func TestHandleConsent(t *testing.T) {
	d := browsertest.New(`<div id="banner"><button id="onetrust-accept-btn-handler">Accept all</button></div>`)
	s := newSession(t, d)

	assert.True(t, s.HandleConsent(context.Background()))
	require.Len(t, d.CallsFor("click"), 1)
	assert.Equal(t, browser.Ref("#onetrust-accept-btn-handler", 0), d.CallsFor("click")[0].Ref)

	s2 := newSession(t, browsertest.New(`<p>no banner</p>`))
	assert.False(t, s2.HandleConsent(context.Background()))
}

func TestScreenshot(t *testing.T) {
	d := browsertest.New(`<p>x</p>`)
	opts := testOptions(t)
	store := &memArtifacts{}
	opts.Artifacts = store
	s, err := Open(context.Background(), stubLauncher{driver: d}, opts)
	require.NoError(t, err)

	path, err := s.Screenshot(context.Background(), "Grand Hyatt Jakarta / error")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, "mem://grand-hyatt-jakarta-error_"), path)
	assert.Len(t, store.saved, 1)

	noStore := newSession(t, d)
	path, err = noStore.Screenshot(context.Background(), "x")
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestCloseIsIdempotent(t *testing.T) {
	d := browsertest.New(`<p>x</p>`)
	s := newSession(t, d)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, d.Closed())
}

func TestHumanDelayHonoursContext(t *testing.T) {
	s := newSession(t, browsertest.New(""))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.HumanDelay(ctx, time.Second, 2*time.Second), context.Canceled)
	assert.NoError(t, s.HumanDelay(context.Background(), 0, 0))
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "grand-hyatt-jakarta", sanitize("Grand Hyatt, Jakarta!"))
	assert.Equal(t, "page", sanitize("???"))
}
