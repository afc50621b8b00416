// Package trend derives price movement for a target from its ledger. Nothing
// computed here is stored.
package trend

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"pricetrail/config"
	"pricetrail/models"
)

// LedgerReader reads Success rows. Both methods return (nil, nil) when no
// row qualifies.
type LedgerReader interface {
	LatestSuccess(ctx context.Context, targetID int64) (*models.LedgerEntry, error)
	LatestSuccessBefore(ctx context.Context, targetID int64, before time.Time) (*models.LedgerEntry, error)
}

// TargetLister lists the targets a fleet summary covers.
type TargetLister interface {
	ListTargets(ctx context.Context) ([]models.ScrapeTarget, error)
}

type Analyzer struct {
	ledger    LedgerReader
	targets   TargetLister
	threshold float64
	logger    *zap.Logger
}

func NewAnalyzer(ledger LedgerReader, targets TargetLister, policy config.Policy, logger *zap.Logger) *Analyzer {
	threshold := policy.TrendThresholdPct
	if threshold <= 0 {
		threshold = config.DefaultPolicy().TrendThresholdPct
	}
	return &Analyzer{
		ledger:    ledger,
		targets:   targets,
		threshold: threshold,
		logger:    logger.Named("trend"),
	}
}

// Trend compares the latest Success value with the one before it.
func (a *Analyzer) Trend(ctx context.Context, targetID int64) (*models.TrendResult, error) {
	res := &models.TrendResult{TargetID: targetID, Classification: models.TrendNew}

	cur, err := a.ledger.LatestSuccess(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("latest success for target %d: %w", targetID, err)
	}
	if cur == nil || cur.Value == nil {
		return res, nil
	}
	res.Current = *cur.Value
	res.CurrentAt = &cur.CreatedAt

	prev, err := a.ledger.LatestSuccessBefore(ctx, targetID, cur.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("previous success for target %d: %w", targetID, err)
	}
	if prev == nil || prev.Value == nil {
		return res, nil
	}

	res.HasPrevious = true
	res.Previous = prev.Value
	res.PreviousAt = &prev.CreatedAt
	res.Delta = res.Current - *prev.Value
	res.PercentChange, res.Classification = classify(res.Delta, *prev.Value, a.threshold)
	return res, nil
}

// classify returns the percentage change rounded to two decimals and its
// bucket. A non-positive previous value yields 0%.
func classify(delta, previous, threshold float64) (float64, models.Classification) {
	pct := 0.0
	if previous > 0 {
		pct = math.Round(delta/previous*100*100) / 100
	}
	switch {
	case pct > threshold:
		return pct, models.TrendUp
	case pct < -threshold:
		return pct, models.TrendDown
	default:
		return pct, models.TrendStable
	}
}

// Fleet aggregates the trend of every active target. A target whose ledger
// cannot be read is logged and left out.
func (a *Analyzer) Fleet(ctx context.Context) (*models.FleetTrend, error) {
	targets, err := a.targets.ListTargets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	fleet := &models.FleetTrend{}
	for _, t := range targets {
		if !t.Active {
			continue
		}
		r, err := a.Trend(ctx, t.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.logger.Warn("Skipping target in fleet trend", zap.Int64("target_id", t.ID), zap.Error(err))
			continue
		}
		fleet.Add(*r)
	}
	return fleet, nil
}
