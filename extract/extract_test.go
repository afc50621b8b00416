package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return string(data)
}

func cardQuery(name string) Query {
	return Query{
		Name:           name,
		CardSelector:   "[data-testid='property-card']",
		NameSelectors:  []string{"[data-testid='property-name']"},
		PriceSelectors: []string{"[data-testid='property-price']"},
		Currency:       []string{"Rp", "IDR"},
	}
}

func TestExtractAttributePairs(t *testing.T) {
	html := loadFixture(t, "results_cards.html")

	c, err := Extract(html, cardQuery("Grand Hyatt Jakarta"))
	require.NoError(t, err)
	assert.Equal(t, TierAttributePair, c.Tier)
	assert.Equal(t, "Grand Hyatt Jakarta", c.Name)
	assert.Equal(t, "Rp 3.350.000", c.RawPrice)
	assert.Equal(t, 3350000.0, c.Value)
	assert.Equal(t, 1.0, c.Score)
}

func TestExtractFuzzyName(t *testing.T) {
	html := loadFixture(t, "results_cards.html")

	c, err := Extract(html, cardQuery("Hotel Indonesia Kempinski Jakarta"))
	require.NoError(t, err)
	assert.Equal(t, "Hotel Indonesia Kempinski", c.Name)
	assert.Equal(t, 3442473.0, c.Value)
	assert.InDelta(t, 0.75, c.Score, 1e-9)
}

func TestExtractRejectsWeakMatches(t *testing.T) {
	html := loadFixture(t, "results_cards.html")

	_, err := Extract(html, cardQuery("Grand Indonesia Residences Jakarta Pusat"))
	assert.ErrorIs(t, err, ErrNoCandidate)
}

func TestExtractNearbyContainer(t *testing.T) {
	html := loadFixture(t, "results_loose.html")

	c, err := Extract(html, Query{Name: "Grand Hyatt Jakarta", Currency: []string{"Rp", "IDR"}})
	require.NoError(t, err)
	assert.Equal(t, TierNearbyContainer, c.Tier)
	assert.Equal(t, 3442473.0, c.Value)
}

func TestExtractNearbyContainerHopLimit(t *testing.T) {
	html := `<html><body><div><div><div><div><div><div>
		<h3>Grand Hyatt Jakarta</h3>
	</div></div></div></div></div><span>Rp 1.000.000</span></div></body></html>`

	c, err := Extract(html, Query{Name: "Grand Hyatt Jakarta", Currency: []string{"Rp"}})
	require.NoError(t, err)
	// Too far for the nearby tier; the exhaustive scan still finds it.
	assert.Equal(t, TierExhaustiveScan, c.Tier)
	assert.Equal(t, 1000000.0, c.Value)
}

func TestExtractExhaustiveScan(t *testing.T) {
	html := loadFixture(t, "results_scan.html")

	c, err := Extract(html, Query{Name: "Grand Hyatt Jakarta", Currency: []string{"Rp", "IDR"}})
	require.NoError(t, err)
	assert.Equal(t, TierExhaustiveScan, c.Tier)
	assert.Equal(t, "IDR 2.250.000", c.RawPrice)
	assert.Equal(t, 2250000.0, c.Value)
}

func TestExtractIgnoresNameOnlyInHeading(t *testing.T) {
	q := Query{Name: "Grand Hyatt Jakarta", Currency: []string{"Rp", "IDR"}}

	bare := `<html><body>
		<h1>Results for Grand Hyatt Jakarta</h1>
		<div class="card"><h3>Hotel Mulia Senayan</h3><span>Rp 2.900.000</span></div>
	</body></html>`
	_, err := Extract(bare, q)
	assert.ErrorIs(t, err, ErrNoCandidate)

	wrapped := `<html><body><main>
		<h1>Results for Grand Hyatt Jakarta</h1>
		<p>Grand Hyatt Jakarta has no availability on these dates</p>
		<section>
			<div class="card"><h3>Hotel Mulia Senayan</h3><span>Rp 2.900.000</span></div>
			<div class="card"><h3>Ashley Hotel Jakarta</h3><span>Rp 950.000</span></div>
		</section>
	</main></body></html>`
	_, err = Extract(wrapped, q)
	assert.ErrorIs(t, err, ErrNoCandidate)
}

func TestExtractParseFailure(t *testing.T) {
	html := `<div data-testid="property-card">
		<div data-testid="property-name">Grand Hyatt Jakarta</div>
		<span data-testid="property-price">Sold out</span>
	</div>`

	_, err := Extract(html, cardQuery("Grand Hyatt Jakarta"))
	assert.ErrorIs(t, err, ErrParse)
}

func TestExtractNoCandidate(t *testing.T) {
	_, err := Extract(`<p>No properties found</p>`, cardQuery("Grand Hyatt Jakarta"))
	assert.ErrorIs(t, err, ErrNoCandidate)

	_, err = Extract(`<p>Rp 1.000</p>`, Query{Name: "  "})
	assert.ErrorIs(t, err, ErrNoCandidate)
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"Rp 3.350.000", 3350000},
		{"Rp. 850.000", 850000},
		{"IDR 3,442,473", 3442473},
		{"$1,149,900.50", 1149900.50},
		{"€ 1.234,56", 1234.56},
		{"US$ 12.50", 12.50},
		{"3 442 473", 3},
		{"SGD 245", 245},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParsePrice(tt.raw)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	for _, raw := range []string{"", "Sold out", "Rp 0"} {
		_, err := ParsePrice(raw)
		assert.ErrorIs(t, err, ErrParse, raw)
	}
}

func TestHasPriceText(t *testing.T) {
	assert.True(t, HasPriceText(loadFixture(t, "results_loose.html"), []string{"Rp"}))
	assert.True(t, HasPriceText(`<body><b>3,442,473 IDR</b></body>`, nil))
	assert.False(t, HasPriceText(`<body><p>Loading results…</p></body>`, []string{"Rp", "IDR"}))
	assert.False(t, HasPriceText(`<body><p>Sharp 4 stars, Harp 3 min walk</p></body>`, []string{"Rp"}))
	assert.False(t, HasPriceText(`<body><p>Room 12 IDRIS wing</p></body>`, []string{"IDR"}))
}

func TestPriceMatcherWordBoundary(t *testing.T) {
	m := newPriceMatcher([]string{"Rp", "IDR", "$"})
	assert.Equal(t, "Rp 950.000", m.find("Sharp 4 stars, from Rp 950.000"))
	assert.Equal(t, "Rp3.350.000", m.find("(Rp3.350.000)"))
	assert.Equal(t, "4.000 IDR", m.find("Sharp 4.000 IDR"))
	assert.Equal(t, "$120", m.find("deal$120"))
}
