package resolver

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"pricetrail/browser"
	"pricetrail/textmatch"
)

// Strategy produces candidates for a role, best first. A strategy that
// yields nothing lets the next one run.
type Strategy struct {
	Name string
	Find func(ctx context.Context, r *Resolver, p Profile, rc Context) ([]browser.Node, error)
}

// Strategies is the fixed cascade, highest priority first.
var Strategies = []Strategy{
	{Name: "semantic_attribute", Find: bySemanticAttribute},
	{Name: "visible_text", Find: byVisibleText},
	{Name: "class_token", Find: byClassToken},
	{Name: "accessible_label", Find: byAccessibleLabel},
	{Name: "form_semantics", Find: byFormSemantics},
	{Name: "proximity", Find: byProximity},
	{Name: "scored_scan", Find: byScoredScan},
	{Name: "visual_prominence", Find: byVisualProminence},
}

func bySemanticAttribute(ctx context.Context, r *Resolver, p Profile, rc Context) ([]browser.Node, error) {
	for _, sel := range p.Selectors {
		nodes, err := rc.Page.FindAll(ctx, sel)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			// Site selectors are operator supplied; a bad one only loses itself.
			r.logger.Debug("Selector failed", zap.String("selector", sel), zap.Error(err))
			continue
		}
		if found := visibleOnly(nodes, rc.Reference); len(found) > 0 {
			return found, nil
		}
	}
	return nil, nil
}

func byVisibleText(ctx context.Context, _ *Resolver, p Profile, rc Context) ([]browser.Node, error) {
	if len(p.Vocabulary) == 0 {
		return nil, nil
	}
	return filterTags(ctx, p.Tags, rc, func(n browser.Node) bool {
		return hasAnyPhrase(displayText(n), p.Vocabulary)
	})
}

func byClassToken(ctx context.Context, _ *Resolver, p Profile, rc Context) ([]browser.Node, error) {
	if len(p.ClassTokens) == 0 {
		return nil, nil
	}
	return filterTags(ctx, p.Tags, rc, func(n browser.Node) bool {
		for _, cls := range n.Classes() {
			cls = strings.ToLower(cls)
			for _, tok := range p.ClassTokens {
				if strings.Contains(cls, tok) {
					return true
				}
			}
		}
		return false
	})
}

func byAccessibleLabel(ctx context.Context, _ *Resolver, p Profile, rc Context) ([]browser.Node, error) {
	if len(p.Labels) == 0 {
		return nil, nil
	}
	return filterTags(ctx, p.Tags, rc, func(n browser.Node) bool {
		return hasAnyPhrase(n.Attr("aria-label"), p.Labels) || hasAnyPhrase(n.Attr("title"), p.Labels)
	})
}

// byFormSemantics picks controls inside the active form: the reference's
// form when there is one, otherwise any form.
func byFormSemantics(ctx context.Context, _ *Resolver, p Profile, rc Context) ([]browser.Node, error) {
	if p.FormControls == "" {
		return nil, nil
	}
	active := ""
	if rc.Reference != nil {
		active = rc.Reference.FormID
	}
	return filterTags(ctx, p.FormControls, rc, func(n browser.Node) bool {
		if n.FormID == "" || (active != "" && n.FormID != active) {
			return false
		}
		if n.Tag == "button" {
			t := strings.ToLower(n.Attr("type"))
			return t == "" || t == "submit"
		}
		return true
	})
}

// byProximity ranks visible, labelled controls by their Manhattan gap to
// the reference box, keeping those within the policy threshold.
func byProximity(ctx context.Context, r *Resolver, p Profile, rc Context) ([]browser.Node, error) {
	if rc.Reference == nil || rc.Reference.Box == nil || p.Tags == "" {
		return nil, nil
	}
	origin := *rc.Reference.Box
	nodes, err := filterTags(ctx, p.Tags, rc, func(n browser.Node) bool {
		return n.Box != nil && displayText(n) != "" && !sameElement(n, *rc.Reference) &&
			origin.Manhattan(*n.Box) <= r.proximity
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		return origin.Manhattan(*nodes[i].Box) < origin.Manhattan(*nodes[j].Box)
	})
	return nodes, nil
}

// byScoredScan scores every control by keyword hits across its text and
// attributes. Text counts most.
func byScoredScan(ctx context.Context, _ *Resolver, p Profile, rc Context) ([]browser.Node, error) {
	if len(p.Keywords) == 0 {
		return nil, nil
	}
	nodes, err := rc.Page.FindAll(ctx, allControls)
	if err != nil {
		return nil, err
	}

	type scored struct {
		node  browser.Node
		score int
	}
	var ranked []scored
	for _, n := range visibleOnly(nodes, rc.Reference) {
		if s := scoreNode(n, p.Keywords); s > 0 {
			ranked = append(ranked, scored{n, s})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]browser.Node, len(ranked))
	for i, s := range ranked {
		out[i] = s.node
	}
	return out, nil
}

func scoreNode(n browser.Node, keywords []string) int {
	text := textmatch.Normalize(displayText(n))
	class := strings.ToLower(n.Attr("class"))
	typ := strings.ToLower(n.Attr("type"))
	aria := textmatch.Normalize(n.Attr("aria-label"))
	title := textmatch.Normalize(n.Attr("title"))
	ident := strings.ToLower(n.Attr("id") + " " + n.Attr("name"))

	score := 0
	for _, kw := range keywords {
		if hasPhrase(text, kw) {
			score += 3
		}
		if strings.Contains(class, kw) {
			score += 2
		}
		if typ == kw {
			score += 2
		}
		if hasPhrase(aria, kw) {
			score++
		}
		if hasPhrase(title, kw) {
			score++
		}
		if strings.Contains(ident, kw) {
			score++
		}
	}
	return score
}

func byVisualProminence(ctx context.Context, _ *Resolver, p Profile, rc Context) ([]browser.Node, error) {
	if len(p.Colors) == 0 {
		return nil, nil
	}
	want := make(map[string]bool, len(p.Colors))
	for _, c := range p.Colors {
		want[normalizeColor(c)] = true
	}
	return filterTags(ctx, buttonLike, rc, func(n browser.Node) bool {
		return want[normalizeColor(n.Background)]
	})
}

func filterTags(ctx context.Context, selector string, rc Context, keep func(browser.Node) bool) ([]browser.Node, error) {
	if selector == "" {
		return nil, nil
	}
	nodes, err := rc.Page.FindAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	var out []browser.Node
	for _, n := range visibleOnly(nodes, rc.Reference) {
		if keep(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

// visibleOnly drops hidden nodes and the reference element itself.
func visibleOnly(nodes []browser.Node, ref *browser.Node) []browser.Node {
	var out []browser.Node
	for _, n := range nodes {
		if !n.Visible {
			continue
		}
		if ref != nil && sameElement(n, *ref) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// sameElement compares snapshots taken through different selectors.
func sameElement(a, b browser.Node) bool {
	if a.Ref == b.Ref {
		return true
	}
	if a.Tag != b.Tag || a.Box == nil || b.Box == nil {
		return false
	}
	return a.Box.Equal(*b.Box) && a.Attr("name") == b.Attr("name") && a.Attr("id") == b.Attr("id")
}

// displayText is what a user reads on the element: its text, the value of
// a button-like input, or the placeholder of a text input.
func displayText(n browser.Node) string {
	if n.Tag != "input" && n.Tag != "textarea" {
		return n.Text
	}
	switch strings.ToLower(n.Attr("type")) {
	case "submit", "button", "reset":
		return n.Attr("value")
	}
	return n.Attr("placeholder")
}

func hasAnyPhrase(text string, phrases []string) bool {
	norm := textmatch.Normalize(text)
	if norm == "" {
		return false
	}
	for _, p := range phrases {
		if hasPhrase(norm, p) {
			return true
		}
	}
	return false
}

// hasPhrase reports whether phrase occurs in normalised text on word
// boundaries.
func hasPhrase(norm, phrase string) bool {
	phrase = textmatch.Normalize(phrase)
	if phrase == "" || norm == "" {
		return false
	}
	return strings.Contains(" "+norm+" ", " "+phrase+" ")
}

func normalizeColor(c string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(c), " ", ""))
}
