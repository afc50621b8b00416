package resolver

import "pricetrail/config"

// Role is the semantic purpose of an element on a search surface.
type Role string

const (
	SearchInput   Role = "search_input"
	SubmitControl Role = "submit_control"
	ResultName    Role = "result_name"
	ResultPrice   Role = "result_price"
	OverlayClose  Role = "overlay_close"
)

// Profile holds the per-role inputs of every strategy. Empty fields make
// the corresponding strategy a no-op for that role.
type Profile struct {
	Selectors    []string // semantic attribute selectors (test-id, role)
	Vocabulary   []string // visible text
	ClassTokens  []string // substrings of class tokens
	Labels       []string // aria-label / title words
	Tags         string   // candidate set for text, class, label and proximity
	FormControls string   // controls considered by form semantics
	Keywords     []string // exhaustive scan scoring
	Colors       []string // primary-action backgrounds
}

const (
	buttonLike  = "button, input[type='submit'], input[type='button'], a[role='button'], [role='button']"
	allControls = "button, a, input, textarea, select, [role='button'], [role='link'], [role='searchbox'], [role='combobox'], [onclick]"
)

// primaryColors are backgrounds commonly used for call-to-action buttons
// on travel and booking sites.
var primaryColors = []string{
	"rgb(0, 113, 194)",
	"rgb(0, 53, 128)",
	"rgb(1, 148, 243)",
	"rgb(255, 94, 31)",
	"rgb(255, 56, 92)",
	"rgb(0, 102, 204)",
	"rgb(13, 110, 253)",
	"rgb(40, 167, 69)",
}

// DefaultProfiles returns the built-in profiles for every role.
func DefaultProfiles() map[Role]Profile {
	return map[Role]Profile{
		SearchInput: {
			Selectors: []string{
				"input[data-testid*='search']",
				"input[data-testid*='destination']",
				"[role='searchbox']",
				"input[role='combobox']",
				"input[type='search']",
			},
			Vocabulary:   []string{"search", "cari", "where are you going", "destination", "tujuan", "kota", "nama hotel"},
			ClassTokens:  []string{"search", "query", "destination"},
			Labels:       []string{"search", "cari", "destination", "where", "tujuan"},
			Tags:         "input, textarea",
			FormControls: "input[type='text'], input[type='search'], input:not([type])",
			Keywords:     []string{"search", "cari", "query", "destination", "q"},
		},
		SubmitControl: {
			Selectors: []string{
				"[data-testid='search-button']",
				"[data-testid*='search-btn']",
				"[data-testid*='submit']",
			},
			Vocabulary:   []string{"search", "cari", "submit", "go", "find", "temukan", "cari hotel", "search hotels"},
			ClassTokens:  []string{"submit", "search-btn", "search-button", "btn-search", "searchbutton"},
			Labels:       []string{"search", "submit", "cari", "find"},
			Tags:         buttonLike,
			FormControls: "button, input[type='submit'], input[type='image']",
			Keywords:     []string{"search", "cari", "submit", "go", "find"},
			Colors:       primaryColors,
		},
		OverlayClose: {
			Selectors: []string{
				"[data-testid*='close']",
				"[aria-label='Close']",
				"[aria-label='Dismiss sign-in info.']",
				"#didomi-notice-agree-button",
			},
			Vocabulary:  []string{"close", "tutup", "no thanks", "not now", "dismiss", "accept", "accept all", "i accept", "agree", "got it"},
			ClassTokens: []string{"close", "dismiss", "accept", "consent"},
			Labels:      []string{"close", "dismiss", "tutup"},
			Tags:        buttonLike + ", a, span[class*='close']",
			Keywords:    []string{"close", "dismiss", "tutup", "accept"},
		},
		ResultName: {
			Selectors: []string{
				"[data-testid='title']",
				"[data-testid*='property-name']",
				"[itemprop='name']",
			},
			ClassTokens: []string{"property-name", "hotel-name", "title", "name"},
			Labels:      []string{"hotel name", "property name"},
			Tags:        "h1, h2, h3, h4, a, span, div",
			Keywords:    []string{"name", "title", "hotel"},
		},
		ResultPrice: {
			Selectors: []string{
				"[data-testid='price-and-discounted-price']",
				"[data-testid*='price']",
				"[itemprop='price']",
			},
			ClassTokens: []string{"price", "amount", "rate"},
			Labels:      []string{"price", "harga"},
			Tags:        "span, div, strong, p",
			Keywords:    []string{"price", "harga", "rp", "idr"},
		},
	}
}

// mergeSite layers a site's selectors (tried first) and vocabulary onto the
// defaults.
func mergeSite(base map[Role]Profile, site *config.SiteConfig) map[Role]Profile {
	out := make(map[Role]Profile, len(base))
	for role, p := range base {
		if site != nil {
			if extra := site.Selectors[string(role)]; len(extra) > 0 {
				p.Selectors = append(append([]string{}, extra...), p.Selectors...)
			}
			if extra := site.Vocabulary[string(role)]; len(extra) > 0 {
				p.Vocabulary = append(append([]string{}, p.Vocabulary...), extra...)
			}
		}
		out[role] = p
	}
	return out
}
