// Package resolver finds the element playing a semantic role on a page by
// trying a fixed cascade of detection strategies. It never mutates the page.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"pricetrail/browser"
	"pricetrail/config"
)

// ErrNotFound is returned when every strategy came up empty.
var ErrNotFound = errors.New("element not found")

// Context is the page state a resolution reads.
type Context struct {
	Page browser.Driver
	// Reference anchors the form and proximity strategies, typically the
	// search input when resolving its submit control.
	Reference *browser.Node
}

// Match is a resolved element plus the trail of strategies consulted, the
// winning one last.
type Match struct {
	Node     browser.Node
	Strategy string
	Tried    []string
}

type Resolver struct {
	profiles   map[Role]Profile
	strategies []Strategy
	proximity  float64
	logger     *zap.Logger
}

func New(policy config.Policy, logger *zap.Logger) *Resolver {
	proximity := policy.ProximityThreshold
	if proximity <= 0 {
		proximity = config.DefaultPolicy().ProximityThreshold
	}
	return &Resolver{
		profiles:   DefaultProfiles(),
		strategies: Strategies,
		proximity:  proximity,
		logger:     logger.Named("resolver"),
	}
}

// ForSite returns a resolver whose profiles include the site's selector and
// vocabulary overrides.
func (r *Resolver) ForSite(site *config.SiteConfig) *Resolver {
	cp := *r
	cp.profiles = mergeSite(r.profiles, site)
	return &cp
}

// Profile returns the effective profile of a role.
func (r *Resolver) Profile(role Role) Profile {
	return r.profiles[role]
}

// Resolve runs the cascade for role. A strategy error is logged and treated
// as zero candidates unless ctx is done.
func (r *Resolver) Resolve(ctx context.Context, role Role, rc Context) (*Match, error) {
	p, ok := r.profiles[role]
	if !ok {
		return nil, fmt.Errorf("unknown role %q: %w", role, ErrNotFound)
	}
	m, err := r.firstMatch(ctx, p, rc)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", role, err)
	}
	r.logger.Debug("Resolved element",
		zap.String("role", string(role)),
		zap.String("strategy", m.Strategy),
		zap.String("element", m.Node.Label()),
	)
	return m, nil
}

// firstMatch walks the strategies in order and returns the first candidate
// of the first strategy that yields any.
func (r *Resolver) firstMatch(ctx context.Context, p Profile, rc Context) (*Match, error) {
	tried := make([]string, 0, len(r.strategies))
	var failures []string
	for _, s := range r.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tried = append(tried, s.Name)

		nodes, err := s.Find(ctx, r, p, rc)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			failures = append(failures, s.Name+": "+err.Error())
			continue
		}
		if len(nodes) > 0 {
			return &Match{Node: nodes[0], Strategy: s.Name, Tried: tried}, nil
		}
	}
	if len(failures) > 0 {
		return nil, fmt.Errorf("%w (tried %s; %s)", ErrNotFound, strings.Join(tried, ", "), strings.Join(failures, "; "))
	}
	return nil, fmt.Errorf("%w (tried %s)", ErrNotFound, strings.Join(tried, ", "))
}
