// Package market turns an observation window into trend and positioning signals.
package market

import (
	"math"

	"PricePulse/internal/domain/models"
	domsvc "PricePulse/internal/domain/service"
	"PricePulse/internal/services/features"
)

const (
	lowerThird = 100.0 / 3
	upperThird = 200.0 / 3

	// A price slope this many times FlatSlope counts as full strength, so a
	// single gently moving competitor cannot reach 1 on its own.
	strengthSaturation = 10.0
)

type Config struct {
	// MinSamples below which trend confidence stays capped low.
	MinSamples int
	// FlatSlope is the |percent per day| under which a price trend is stable.
	FlatSlope float64
	// FlatAvailability is the |availability change per day| under which demand is stable.
	FlatAvailability float64
}

type Option func(*Config)

func WithMinSamples(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MinSamples = n
		}
	}
}

func WithFlatSlope(pctPerDay float64) Option {
	return func(c *Config) {
		if pctPerDay >= 0 {
			c.FlatSlope = pctPerDay
		}
	}
}

type Analyzer struct {
	cfg Config
}

func NewAnalyzer(opts ...Option) *Analyzer {
	cfg := Config{MinSamples: 5, FlatSlope: 0.5, FlatAvailability: 0.02}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Analyzer{cfg: cfg}
}

// Analyze expects observations for a single product. Observations outside the
// window are ignored.
func (a *Analyzer) Analyze(productID string, currentPrice float64, observations []models.Observation, window domsvc.Window) domsvc.Analysis {
	inWindow := make([]models.Observation, 0, len(observations))
	for _, o := range observations {
		if window.AsOf.IsZero() || window.Contains(o.Timestamp) {
			inWindow = append(inWindow, o)
		}
	}

	trends := []models.MarketTrend{a.priceTrend(productID, inWindow)}
	if demand, ok := a.demandTrend(productID, inWindow); ok {
		trends = append(trends, demand)
	}
	return domsvc.Analysis{
		Trends:   trends,
		Position: Position(productID, currentPrice, inWindow),
	}
}

// Confidence grows with sample count and is capped at 0.4 below minSamples.
func Confidence(samples, minSamples int) float64 {
	if minSamples <= 0 {
		minSamples = 1
	}
	if samples <= 0 {
		return 0
	}
	if samples < minSamples {
		return 0.4 * float64(samples) / float64(minSamples)
	}
	extra := float64(samples-minSamples) / float64(minSamples)
	return 0.7 + 0.3*math.Min(1, extra)
}

func (a *Analyzer) priceTrend(productID string, obs []models.Observation) models.MarketTrend {
	trend := models.MarketTrend{
		ProductID:   productID,
		Type:        models.TrendPriceLevel,
		Direction:   models.DirectionStable,
		Samples:     len(obs),
		Confidence:  Confidence(len(obs), a.cfg.MinSamples),
		Competitors: []string{},
	}
	if len(obs) < 2 {
		return trend
	}

	origin := obs[0].Timestamp
	for _, o := range obs {
		if o.Timestamp.Before(origin) {
			origin = o.Timestamp
		}
	}

	groups := features.GroupByCompetitor(obs)
	slopes := make([]float64, 0, len(groups))
	for _, name := range features.SortedKeys(groups) {
		series := groups[name]
		pts := features.SeriesFromObservations(series, origin, func(o models.Observation) float64 { return o.Price })
		slope, ok := features.LinearSlope(pts)
		if !ok {
			continue
		}
		prices := make([]float64, len(series))
		for i, o := range series {
			prices[i] = o.Price
		}
		level := features.Mean(prices)
		if level <= 0 {
			continue
		}
		slopes = append(slopes, slope/level*100)
		trend.Competitors = append(trend.Competitors, name)
	}
	if len(slopes) == 0 {
		return trend
	}

	mean := features.Mean(slopes)
	steepest := 0.0
	for _, s := range slopes {
		steepest = math.Max(steepest, math.Abs(s))
	}
	trend.Slope = mean
	switch {
	case mean == 0 || math.Abs(mean) < a.cfg.FlatSlope:
		trend.Direction = models.DirectionStable
		return trend
	case mean > 0:
		trend.Direction = models.DirectionUp
	default:
		trend.Direction = models.DirectionDown
	}
	scale := math.Max(steepest, a.cfg.FlatSlope*strengthSaturation)
	trend.Strength = features.Clamp(math.Abs(mean)/scale, 0, 1)
	return trend
}

// demandTrend reads falling competitor availability as rising demand.
func (a *Analyzer) demandTrend(productID string, obs []models.Observation) (models.MarketTrend, bool) {
	if len(obs) < 2 {
		return models.MarketTrend{}, false
	}
	origin := obs[0].Timestamp
	for _, o := range obs {
		if o.Timestamp.Before(origin) {
			origin = o.Timestamp
		}
	}
	pts := features.SeriesFromObservations(obs, origin, func(o models.Observation) float64 {
		if o.Available {
			return 1
		}
		return 0
	})
	slope, ok := features.LinearSlope(pts)
	if !ok {
		return models.MarketTrend{}, false
	}

	trend := models.MarketTrend{
		ProductID:   productID,
		Type:        models.TrendDemandProxy,
		Direction:   models.DirectionStable,
		Samples:     len(obs),
		Confidence:  Confidence(len(obs), a.cfg.MinSamples),
		Competitors: features.SortedKeys(features.GroupByCompetitor(obs)),
		Slope:       slope * 100,
	}
	switch {
	case math.Abs(slope) < a.cfg.FlatAvailability:
		return trend, true
	case slope < 0:
		trend.Direction = models.DirectionUp
	default:
		trend.Direction = models.DirectionDown
	}
	trend.Strength = features.Clamp(math.Abs(slope), 0, 1)
	return trend, true
}

// Position ranks currentPrice against the latest available price of each competitor.
func Position(productID string, currentPrice float64, obs []models.Observation) models.CompetitivePosition {
	pos := models.CompetitivePosition{
		ProductID:    productID,
		CurrentPrice: currentPrice,
		Label:        models.PositionUnknown,
	}
	latest := features.LatestByCompetitor(obs)
	prices := make([]float64, 0, len(latest))
	for _, name := range features.SortedKeys(latest) {
		if o := latest[name]; o.Available && o.Price > 0 {
			prices = append(prices, o.Price)
		}
	}
	if len(prices) == 0 {
		return pos
	}

	pos.CompetitorCount = len(prices)
	pos.MinPrice, pos.MaxPrice = prices[0], prices[0]
	for _, p := range prices {
		pos.MinPrice = math.Min(pos.MinPrice, p)
		pos.MaxPrice = math.Max(pos.MaxPrice, p)
	}
	pos.MeanPrice = features.Mean(prices)
	pos.MedianPrice = features.Median(prices)
	pos.Percentile = features.PercentileRank(currentPrice, prices)
	switch {
	case pos.Percentile <= lowerThird:
		pos.Label = models.PositionBelowMarket
	case pos.Percentile >= upperThird:
		pos.Label = models.PositionAboveMarket
	default:
		pos.Label = models.PositionAtMarket
	}
	return pos
}

// PriceTrend picks the price-level trend out of an analysis, if present.
func PriceTrend(trends []models.MarketTrend) *models.MarketTrend {
	for i := range trends {
		if trends[i].Type == models.TrendPriceLevel {
			return &trends[i]
		}
	}
	return nil
}

var _ domsvc.MarketAnalyzer = (*Analyzer)(nil)
