// Package extract mines a rendered results page for the price of one named
// entity.
package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pricetrail/textmatch"
)

var (
	ErrNoCandidate = errors.New("no candidate value found")
	ErrParse       = errors.New("value could not be parsed")
)

// maxAncestorHops bounds the walk from a name element to the container
// holding its price. The exhaustive scan may climb twice as far.
const (
	maxAncestorHops = 5
	maxScanHops     = 2 * maxAncestorHops
)

const headingSelector = "h1, h2, h3, h4, h5, h6"

type Tier string

const (
	TierAttributePair   Tier = "attribute_pair"
	TierNearbyContainer Tier = "nearby_container"
	TierExhaustiveScan  Tier = "exhaustive_scan"
)

// Query describes what to look for on the page.
type Query struct {
	Name           string
	CardSelector   string
	NameSelectors  []string
	PriceSelectors []string
	Currency       []string
	Threshold      float64
}

// Candidate is an extracted value and where it came from.
type Candidate struct {
	Tier     Tier
	Name     string
	RawPrice string
	Value    float64
	Score    float64
}

type extractor struct {
	q     Query
	doc   *goquery.Document
	price priceMatcher
	// parseErr keeps the first parse failure so a page that only offers
	// unparseable prices reports ErrParse rather than ErrNoCandidate.
	parseErr error
}

// Extract runs the three tiers in order and returns the first candidate.
func Extract(html string, q Query) (*Candidate, error) {
	if strings.TrimSpace(q.Name) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrNoCandidate)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if q.Threshold <= 0 {
		q.Threshold = textmatch.MatchThreshold
	}
	x := &extractor{q: q, doc: doc, price: newPriceMatcher(q.Currency)}

	for _, tier := range []func() *Candidate{x.attributePairs, x.nearbyContainer, x.exhaustiveScan} {
		if c := tier(); c != nil {
			return c, nil
		}
	}
	if x.parseErr != nil {
		return nil, x.parseErr
	}
	return nil, fmt.Errorf("%w for %q", ErrNoCandidate, q.Name)
}

// attributePairs reads (name, price) pairs from known selectors and keeps
// the best fuzzy name match.
func (x *extractor) attributePairs() *Candidate {
	if len(x.q.NameSelectors) == 0 || len(x.q.PriceSelectors) == 0 {
		return nil
	}
	nameSel := strings.Join(x.q.NameSelectors, ", ")
	priceSel := strings.Join(x.q.PriceSelectors, ", ")

	var best *Candidate
	consider := func(name, price *goquery.Selection) {
		if name.Length() == 0 || price.Length() == 0 {
			return
		}
		nameText := cleanText(name.First().Text())
		score := textmatch.TokenOverlap(x.q.Name, nameText)
		if score < x.q.Threshold || (best != nil && score <= best.Score) {
			return
		}
		raw := cleanText(price.First().Text())
		if c := x.candidate(TierAttributePair, nameText, raw, score); c != nil {
			best = c
		}
	}

	if x.q.CardSelector != "" {
		x.doc.Find(x.q.CardSelector).Each(func(_ int, card *goquery.Selection) {
			consider(card.Find(nameSel), card.Find(priceSel))
		})
		return best
	}

	names := x.doc.Find(nameSel)
	prices := x.doc.Find(priceSel)
	if names.Length() != prices.Length() {
		return nil
	}
	names.Each(func(i int, name *goquery.Selection) {
		consider(name, prices.Eq(i))
	})
	return best
}

// nearbyContainer starts at elements naming the target and walks up to
// maxAncestorHops ancestors looking for price-looking text.
func (x *extractor) nearbyContainer() *Candidate {
	var best *Candidate
	x.nameElements().Each(func(_ int, el *goquery.Selection) {
		nameText := cleanText(el.Text())
		score := textmatch.TokenOverlap(x.q.Name, nameText)
		if score < x.q.Threshold || (best != nil && score <= best.Score) {
			return
		}
		cur := el
		for hop := 0; hop < maxAncestorHops; hop++ {
			cur = cur.Parent()
			if cur.Length() == 0 || goquery.NodeName(cur) == "body" {
				return
			}
			if raw := x.priceIn(cur); raw != "" {
				if x.ownedByOther(cur, raw) {
					return
				}
				if c := x.candidate(TierNearbyContainer, nameText, raw, score); c != nil {
					best = c
				}
				return
			}
		}
	})
	return best
}

// exhaustiveScan looks at every element whose own text contains the
// query and climbs, at most maxScanHops and never to body, to the nearest
// container with a currency amount.
func (x *extractor) exhaustiveScan() *Candidate {
	var found *Candidate
	x.doc.Find("body *").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		switch goquery.NodeName(el) {
		case "script", "style", "noscript", "template":
			return true
		}
		if !textmatch.ContainsFold(ownText(el), x.q.Name) {
			return true
		}
		cur := el
		for hop := 0; hop <= maxScanHops && cur.Length() > 0; hop++ {
			switch goquery.NodeName(cur) {
			case "body", "html":
				return true
			}
			raw := x.price.find(cleanText(cur.Text()))
			if raw == "" {
				cur = cur.Parent()
				continue
			}
			if x.ownedByOther(cur, raw) {
				return true
			}
			if c := x.candidate(TierExhaustiveScan, cleanText(el.Text()), raw, 1); c != nil {
				found = c
				return false
			}
			return true
		}
		return true
	})
	return found
}

// ownedByOther reports whether the price raw inside container sits in a
// block headed by some other name, as when container spans several result
// cards and the query only appears in a page heading.
func (x *extractor) ownedByOther(container *goquery.Selection, raw string) bool {
	holds := func(_ int, s *goquery.Selection) bool {
		return strings.Contains(cleanText(s.Text()), raw)
	}
	owner := container
	for {
		next := owner.Children().FilterFunction(holds).First()
		if next.Length() == 0 {
			break
		}
		owner = next
	}

	sel := headingSelector
	if len(x.q.NameSelectors) > 0 {
		sel += ", " + strings.Join(x.q.NameSelectors, ", ")
	}
	for cur := owner; cur.Length() > 0 && !cur.IsSelection(container); cur = cur.Parent() {
		other := false
		cur.Find(sel).AddSelection(cur.Filter(sel)).EachWithBreak(func(_ int, h *goquery.Selection) bool {
			text := cleanText(h.Text())
			if text == "" || x.price.find(text) != "" {
				return true
			}
			other = textmatch.TokenOverlap(x.q.Name, text) < x.q.Threshold
			return !other
		})
		if other {
			return true
		}
	}
	return false
}

// nameElements returns the configured name nodes, or short text-bearing
// headings and links when none are configured or present.
func (x *extractor) nameElements() *goquery.Selection {
	if len(x.q.NameSelectors) > 0 {
		if sel := x.doc.Find(strings.Join(x.q.NameSelectors, ", ")); sel.Length() > 0 {
			return sel
		}
	}
	return x.doc.Find("h1, h2, h3, h4, h5, a, strong, [title]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return len(cleanText(s.Text())) <= 200
	})
}

// priceIn prefers a configured price element inside container and falls
// back to currency-bearing text.
func (x *extractor) priceIn(container *goquery.Selection) string {
	if len(x.q.PriceSelectors) > 0 {
		if p := container.Find(strings.Join(x.q.PriceSelectors, ", ")).First(); p.Length() > 0 {
			if raw := cleanText(p.Text()); raw != "" {
				return raw
			}
		}
	}
	return x.price.find(cleanText(container.Text()))
}

func (x *extractor) candidate(tier Tier, name, raw string, score float64) *Candidate {
	v, err := ParsePrice(raw)
	if err != nil {
		if x.parseErr == nil {
			x.parseErr = err
		}
		return nil
	}
	return &Candidate{Tier: tier, Name: name, RawPrice: raw, Value: v, Score: score}
}

// HasPriceText reports whether the document body carries a currency amount.
func HasPriceText(html string, currency []string) bool {
	return newPriceMatcher(currency).find(PageText(html)) != ""
}

// PageText is the whitespace-collapsed visible text of the document body,
// without scripts and styles.
func PageText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	body := doc.Find("body")
	body.Find("script, style, noscript, template").Remove()
	return cleanText(body.Text())
}

// ownText is the text of el's direct text children.
func ownText(el *goquery.Selection) string {
	var b strings.Builder
	el.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			b.WriteString(c.Text())
			b.WriteByte(' ')
		}
	})
	return cleanText(b.String())
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
