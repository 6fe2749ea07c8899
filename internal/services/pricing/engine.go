// Package pricing converts product economics and competitor prices into a
// deterministic, confidence-scored recommendation.
package pricing

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"PricePulse/internal/domain/models"
	domsvc "PricePulse/internal/domain/service"
	"PricePulse/internal/services/features"
)

type Config struct {
	MinimumMargin    float64
	HistoricalMargin float64
	// Headroom is how far above the historical margin counts as room to discount.
	Headroom float64
	// MarketTolerance is the relative distance at which current and market are aligned.
	MarketTolerance float64
	StaleAfter      time.Duration

	HighConfidenceCompetitors int
	HighTrendConfidence       float64

	HeadroomBias    float64
	CompetitiveBias float64
	BelowMarketBias float64
	FloorBias       float64
}

func DefaultConfig() Config {
	return Config{
		MinimumMargin:             0.15,
		HistoricalMargin:          0.35,
		Headroom:                  0.05,
		MarketTolerance:           0.01,
		StaleAfter:                7 * 24 * time.Hour,
		HighConfidenceCompetitors: 3,
		HighTrendConfidence:       0.7,
		HeadroomBias:              0.75,
		CompetitiveBias:           0.25,
		BelowMarketBias:           0.5,
		FloorBias:                 0.5,
	}
}

type Option func(*Config)

func WithMinimumMargin(m float64) Option {
	return func(c *Config) { c.MinimumMargin = m }
}

func WithHistoricalMargin(m float64) Option {
	return func(c *Config) { c.HistoricalMargin = m }
}

func WithStaleAfter(d time.Duration) Option {
	return func(c *Config) { c.StaleAfter = d }
}

func WithHighConfidenceCompetitors(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.HighConfidenceCompetitors = n
		}
	}
}

func WithMarketTolerance(tol float64) Option {
	return func(c *Config) { c.MarketTolerance = tol }
}

func WithHeadroom(h float64) Option {
	return func(c *Config) { c.Headroom = h }
}

type Engine struct {
	cfg Config
}

func NewEngine(opts ...Option) *Engine {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() Config { return e.cfg }

// FloorPrice is the lowest price the engine will ever recommend.
func (e *Engine) FloorPrice(cost float64) float64 {
	return cost * (1 + e.cfg.MinimumMargin)
}

// MarketReference is the confidence weighted mean of each competitor's latest
// observation, skipping unavailable and stale ones. It returns the number of
// competitors that contributed.
func (e *Engine) MarketReference(observations []models.Observation, asOf time.Time) (float64, int) {
	fresh := make([]models.Observation, 0, len(observations))
	for _, o := range observations {
		if o.Timestamp.After(asOf) {
			continue
		}
		if e.cfg.StaleAfter > 0 && asOf.Sub(o.Timestamp) > e.cfg.StaleAfter {
			continue
		}
		fresh = append(fresh, o)
	}

	latest := features.LatestByCompetitor(fresh)
	prices := make([]float64, 0, len(latest))
	weights := make([]float64, 0, len(latest))
	for _, name := range features.SortedKeys(latest) {
		o := latest[name]
		if !o.Available {
			continue
		}
		prices = append(prices, o.Price)
		weights = append(weights, o.Confidence)
	}
	if len(prices) == 0 {
		return 0, 0
	}
	if ref, ok := features.WeightedMean(prices, weights); ok {
		return ref, len(prices)
	}
	return features.Mean(prices), len(prices)
}

// Recommend never returns a price below FloorPrice(product.Cost). A nil trend
// does not limit confidence.
func (e *Engine) Recommend(product models.Product, observations []models.Observation, trend *models.MarketTrend, asOf time.Time) (models.PricingRecommendation, error) {
	if err := product.Validate(); err != nil {
		return models.PricingRecommendation{}, err
	}
	for _, o := range observations {
		if o.Price <= 0 {
			return models.PricingRecommendation{}, fmt.Errorf("competitor %s price %.4f: %w", o.Competitor, o.Price, models.ErrInvalidPrice)
		}
	}
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	floor := e.FloorPrice(product.Cost)
	rec := models.PricingRecommendation{
		ProductID:     product.ID,
		CurrentPrice:  product.CurrentPrice,
		Cost:          product.Cost,
		CurrentMargin: product.CurrentMargin(),
		UnitsSold:     product.UnitsSold,
		FloorPrice:    floor,
		GeneratedAt:   asOf,
	}

	market, n := e.MarketReference(observations, asOf)
	rec.CompetitorCount = n
	if n == 0 {
		rec.Confidence = models.ConfidenceLow
		rec.Reasoning = models.ReasonInsufficientData
		return rec, nil
	}

	historical := e.cfg.HistoricalMargin
	if product.HistoricalMargin != nil {
		historical = *product.HistoricalMargin
	}

	candidate, reason := e.blend(product.CurrentPrice, market, rec.CurrentMargin, historical, floor)
	recommended := roundCents(candidate)
	if recommended < floor || recommended <= 0 {
		recommended = ceilCents(floor)
		rec.FloorApplied = true
	}
	if recommended <= 0 {
		recommended = math.Max(candidate, floor)
	}

	change := recommended - product.CurrentPrice
	changePct := change / product.CurrentPrice * 100
	impact := decimal.NewFromFloat(change).Mul(decimal.NewFromInt(product.UnitsSold)).Round(2).InexactFloat64()
	margin := (recommended - product.Cost) / recommended

	rec.MarketReference = &market
	rec.RecommendedPrice = &recommended
	rec.PriceChange = &change
	rec.PriceChangePercent = &changePct
	rec.RevenueImpact = &impact
	rec.ProjectedMargin = &margin
	rec.Reasoning = reason
	rec.Confidence = e.confidence(n, trend)
	return rec, nil
}

func (e *Engine) blend(current, market, margin, historical, floor float64) (float64, models.Reasoning) {
	toward := func(bias float64) float64 { return current + bias*(market-current) }

	switch {
	case current <= floor:
		if market > current {
			return toward(e.cfg.FloorBias), models.ReasonMarginFloorProtection
		}
		return current, models.ReasonMarginFloorProtection
	case math.Abs(market-current)/current <= e.cfg.MarketTolerance:
		return current, models.ReasonMarketAligned
	case market < current && margin > historical+e.cfg.Headroom:
		return toward(e.cfg.HeadroomBias), models.ReasonMarginHeadroomDiscount
	case market < current:
		return toward(e.cfg.CompetitiveBias), models.ReasonCompetitiveAdjustment
	default:
		return toward(e.cfg.BelowMarketBias), models.ReasonBelowMarketHeadroom
	}
}

func (e *Engine) confidence(competitors int, trend *models.MarketTrend) models.Confidence {
	if competitors < 2 {
		return models.ConfidenceLow
	}
	trendHigh := trend == nil || trend.Confidence >= e.cfg.HighTrendConfidence
	if competitors >= e.cfg.HighConfidenceCompetitors && trendHigh {
		return models.ConfidenceHigh
	}
	return models.ConfidenceMedium
}

func roundCents(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func ceilCents(v float64) float64 {
	return decimal.NewFromFloat(v).RoundCeil(2).InexactFloat64()
}

var _ domsvc.PricingEngine = (*Engine)(nil)
