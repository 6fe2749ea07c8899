package service

import (
	"time"

	"PricePulse/internal/domain/models"
)

// ChangeDetector turns a new observation and its predecessor into an alert.
// It returns nil when there is no prior observation or the move is too small.
type ChangeDetector interface {
	Detect(current models.Observation, prior *models.Observation) *models.PriceAlert
}

// Window bounds an analysis to observations in (AsOf-Duration, AsOf].
type Window struct {
	Duration time.Duration
	AsOf     time.Time
}

// Since returns the oldest timestamp inside the window.
func (w Window) Since() time.Time {
	if w.Duration <= 0 {
		return time.Time{}
	}
	return w.AsOf.Add(-w.Duration)
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if t.After(w.AsOf) {
		return false
	}
	return w.Duration <= 0 || !t.Before(w.Since())
}

type Analysis struct {
	Trends   []models.MarketTrend
	Position models.CompetitivePosition
}

// MarketAnalyzer aggregates a product's observation window into trends and a position.
type MarketAnalyzer interface {
	Analyze(productID string, currentPrice float64, observations []models.Observation, window Window) Analysis
}

// PricingEngine is pure and stateless.
type PricingEngine interface {
	Recommend(product models.Product, observations []models.Observation, trend *models.MarketTrend, asOf time.Time) (models.PricingRecommendation, error)
}

type PortfolioAggregator interface {
	Aggregate(recs []models.PricingRecommendation, topN int) models.PortfolioSummary
}
