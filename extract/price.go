package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultCurrency is used when a site declares no currency markers.
var DefaultCurrency = []string{"Rp", "IDR", "US$", "$", "€", "£", "USD", "EUR", "SGD"}

var numberRegex = regexp.MustCompile(`[0-9][0-9.,\x{00A0}]*[0-9]|[0-9]`)

// priceMatcher finds currency-bearing amounts in free text. Prefix forms
// ("Rp 3.350.000") win over suffix forms ("3,442,473 IDR").
type priceMatcher struct {
	prefix *regexp.Regexp
	suffix *regexp.Regexp
}

func newPriceMatcher(currency []string) priceMatcher {
	if len(currency) == 0 {
		currency = DefaultCurrency
	}
	quoted := make([]string, 0, len(currency))
	for _, c := range currency {
		if c = strings.TrimSpace(c); c != "" {
			quoted = append(quoted, regexp.QuoteMeta(c))
		}
	}
	alt := strings.Join(quoted, "|")
	amount := `[0-9][0-9.,\x{00A0}]*[0-9]|[0-9]`
	return priceMatcher{
		prefix: regexp.MustCompile(fmt.Sprintf(`(?i)(?:%s)\.?\s*(?:%s)`, alt, amount)),
		suffix: regexp.MustCompile(fmt.Sprintf(`(?i)(?:%s)\s*(?:%s)`, amount, alt)),
	}
}

// find returns the first currency-bearing amount in text.
func (m priceMatcher) find(text string) string {
	if s := bounded(m.prefix, text); s != "" {
		return s
	}
	return bounded(m.suffix, text)
}

// bounded returns the first match of re whose alphabetic currency marker is
// not glued to surrounding letters, so "Sharp 4" is not read as "rp 4".
func bounded(re *regexp.Regexp, text string) string {
	for _, loc := range re.FindAllStringIndex(text, -1) {
		s := text[loc[0]:loc[1]]
		first, _ := utf8.DecodeRuneInString(s)
		last, _ := utf8.DecodeLastRuneInString(s)
		before, _ := utf8.DecodeLastRuneInString(text[:loc[0]])
		after, _ := utf8.DecodeRuneInString(text[loc[1]:])
		if unicode.IsLetter(first) && unicode.IsLetter(before) {
			continue
		}
		if unicode.IsLetter(last) && unicode.IsLetter(after) {
			continue
		}
		return strings.TrimSpace(s)
	}
	return ""
}

// ParsePrice reads the amount out of a price string such as "Rp 3.350.000",
// "IDR 3,442,473" or "€ 1.234,56".
func ParsePrice(raw string) (float64, error) {
	num := numberRegex.FindString(raw)
	if num == "" {
		return 0, fmt.Errorf("%w: no digits in %q", ErrParse, raw)
	}
	num = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\u00a0' {
			return -1
		}
		return r
	}, num)

	lastDot := strings.LastIndex(num, ".")
	lastComma := strings.LastIndex(num, ",")

	var normalized string
	switch {
	case lastDot >= 0 && lastComma >= 0:
		// The separator appearing last is the decimal point.
		if lastDot > lastComma {
			normalized = strings.ReplaceAll(num, ",", "")
		} else {
			normalized = strings.ReplaceAll(strings.ReplaceAll(num, ".", ""), ",", ".")
		}
	case lastDot >= 0:
		normalized = singleSeparator(num, ".")
	case lastComma >= 0:
		normalized = singleSeparator(num, ",")
	default:
		normalized = num
	}

	v, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrParse, raw, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%w: non-positive amount in %q", ErrParse, raw)
	}
	return v, nil
}

// singleSeparator resolves a number using only one separator kind. Repeated
// or three-digit-grouped separators are thousands separators.
func singleSeparator(num, sep string) string {
	parts := strings.Split(num, sep)
	if len(parts) > 2 || len(parts[len(parts)-1]) == 3 {
		return strings.Join(parts, "")
	}
	return strings.Join(parts, ".")
}
