package session

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"pricetrail/config"
	"pricetrail/extract"
)

// ErrNoResults is returned when no result tier appeared before the wait
// expired. Callers may still attempt extraction.
var ErrNoResults = errors.New("results did not render")

type ResultTier string

const (
	ResultsByAttribute ResultTier = "attribute"
	ResultsByClass     ResultTier = "class"
	ResultsByText      ResultTier = "text_heuristic"
)

// resultKeywords are page phrases that only show on a rendered result list.
var resultKeywords = []string{"per night", "per malam", "properties found", "hotels found", "results for"}

// WaitForResults polls until the results list has rendered, checking, in
// order, the site's result attribute, its result class and finally a
// generic currency or keyword heuristic over the page text.
func (s *Session) WaitForResults(ctx context.Context, site *config.SiteConfig) (ResultTier, error) {
	wait := s.policy.ResultWait
	if wait <= 0 {
		wait = config.DefaultPolicy().ResultWait
	}
	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	for {
		tier, err := s.resultTier(wctx, site)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		if tier != "" {
			s.logger.Debug("Results rendered", zap.String("tier", string(tier)))
			return tier, nil
		}
		if sleepCtx(wctx, s.pollInterval) != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("%w within %s", ErrNoResults, wait)
		}
	}
}

func (s *Session) resultTier(ctx context.Context, site *config.SiteConfig) (ResultTier, error) {
	if site != nil && site.ResultAttr != "" {
		if s.anyVisible(ctx, site.ResultAttr) {
			return ResultsByAttribute, nil
		}
	}
	if site != nil && site.ResultClass != "" {
		if s.anyVisible(ctx, fmt.Sprintf("[class*='%s']", site.ResultClass)) {
			return ResultsByClass, nil
		}
	}

	content, err := s.driver.Content(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: read content: %v", ErrDriver, err)
	}
	for _, t := range challengeTriggers {
		if strings.Contains(content, t) {
			return "", fmt.Errorf("%w: %w (%s)", ErrDriver, ErrChallenge, t)
		}
	}

	var currency []string
	if site != nil {
		currency = site.Currency
	}
	if extract.HasPriceText(content, currency) {
		return ResultsByText, nil
	}
	lower := strings.ToLower(extract.PageText(content))
	for _, kw := range resultKeywords {
		if strings.Contains(lower, kw) {
			return ResultsByText, nil
		}
	}
	return "", nil
}

func (s *Session) anyVisible(ctx context.Context, selector string) bool {
	nodes, err := s.driver.FindAll(ctx, selector)
	if err != nil {
		return false
	}
	for _, n := range nodes {
		if n.Visible {
			return true
		}
	}
	return false
}

// SetPollInterval overrides the result polling period.
func (s *Session) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

// ResultState is one reading of the page, taken to judge whether an action
// changed it.
type ResultState struct {
	URL    string
	Tier   ResultTier
	digest [sha256.Size]byte
}

var tierRank = map[ResultTier]int{ResultsByText: 1, ResultsByClass: 2, ResultsByAttribute: 3}

// Observe reads the URL and the current result tier. A failed check reads
// as no results.
func (s *Session) Observe(ctx context.Context, site *config.SiteConfig) ResultState {
	st := ResultState{URL: s.driver.URL()}
	st.Tier, _ = s.resultTier(ctx, site)
	if st.Tier == ResultsByAttribute || st.Tier == ResultsByClass {
		if content, err := s.driver.Content(ctx); err == nil {
			st.digest = sha256.Sum256([]byte(content))
		}
	}
	return st
}

// Advanced reports whether the page moved on since base: a new URL, a
// stronger result tier, or a structural result list that re-rendered. The
// text heuristic confirms nothing when it already held at base.
func (st ResultState) Advanced(base ResultState) bool {
	if st.URL != base.URL {
		return true
	}
	if st.Tier == "" {
		return false
	}
	if tierRank[st.Tier] > tierRank[base.Tier] {
		return true
	}
	return st.Tier != ResultsByText && st.Tier == base.Tier && st.digest != base.digest
}
