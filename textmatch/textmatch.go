// Package textmatch normalises display names and scores how well a piece of
// page text matches a lookup query.
package textmatch

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MatchThreshold is the minimum share of query tokens that must appear in a
// candidate name for the two to be considered the same entity.
const MatchThreshold = 0.70

var (
	multiSpaceRegex = regexp.MustCompile(`\s+`)
	nonAlnumRegex   = regexp.MustCompile(`[^a-z0-9\s]`)

	// Tokens that carry no identity in hotel and account names.
	stopTokens = map[string]bool{
		"the": true, "and": true, "by": true, "at": true, "of": true,
		"&": true, "di": true, "dan": true,
	}
)

// Normalize lowercases s, folds diacritics, replaces punctuation with
// spaces and collapses whitespace.
func Normalize(s string) string {
	s = foldDiacritics(strings.ToLower(strings.TrimSpace(s)))
	s = nonAlnumRegex.ReplaceAllString(s, " ")
	s = multiSpaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Tokens returns the distinct significant tokens of s in first-seen order.
func Tokens(s string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range strings.Fields(Normalize(s)) {
		if stopTokens[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// TokenOverlap is the fraction of the query's tokens present in candidate,
// in [0,1]. An empty query scores 0.
func TokenOverlap(query, candidate string) float64 {
	q := Tokens(query)
	if len(q) == 0 {
		return 0
	}
	have := make(map[string]bool)
	for _, tok := range Tokens(candidate) {
		have[tok] = true
	}
	hits := 0
	for _, tok := range q {
		if have[tok] {
			hits++
		}
	}
	return float64(hits) / float64(len(q))
}

// Matches reports whether candidate names the same thing as query under
// the given threshold. A threshold <= 0 means MatchThreshold.
func Matches(query, candidate string, threshold float64) bool {
	if threshold <= 0 {
		threshold = MatchThreshold
	}
	return TokenOverlap(query, candidate) >= threshold
}

// ContainsFold reports whether haystack contains needle after normalisation.
func ContainsFold(haystack, needle string) bool {
	n := Normalize(needle)
	if n == "" {
		return false
	}
	return strings.Contains(Normalize(haystack), n)
}

func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
