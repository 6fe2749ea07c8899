package models

import "time"

type TrendType string

const (
	TrendPriceLevel  TrendType = "price-level"
	TrendDemandProxy TrendType = "demand-proxy"
)

type Direction string

const (
	DirectionUp     Direction = "up"
	DirectionDown   Direction = "down"
	DirectionStable Direction = "stable"
)

// MarketTrend summarises how one signal moved inside the analysis window.
type MarketTrend struct {
	ProductID   string    `json:"productId"`
	Type        TrendType `json:"type"`
	Direction   Direction `json:"direction"`
	Strength    float64   `json:"strength"`
	Confidence  float64   `json:"confidence"`
	Samples     int       `json:"sampleCount"`
	Competitors []string  `json:"competitors"`
	// Slope is in percent of the mean level per day.
	Slope float64 `json:"slope"`
}

type PositionLabel string

const (
	PositionBelowMarket PositionLabel = "below-market"
	PositionAtMarket    PositionLabel = "at-market"
	PositionAboveMarket PositionLabel = "above-market"
	PositionUnknown     PositionLabel = "unknown"
)

// CompetitivePosition places the merchant price within the latest competitor prices.
type CompetitivePosition struct {
	ProductID       string        `json:"productId"`
	CurrentPrice    float64       `json:"currentPrice"`
	Percentile      float64       `json:"percentile"`
	Label           PositionLabel `json:"label"`
	CompetitorCount int           `json:"competitorCount"`
	MinPrice        float64       `json:"minPrice"`
	MaxPrice        float64       `json:"maxPrice"`
	MedianPrice     float64       `json:"medianPrice"`
	MeanPrice       float64       `json:"meanPrice"`
}

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Reasoning names the branch of the pricing algorithm that produced a recommendation.
type Reasoning string

const (
	ReasonInsufficientData       Reasoning = "insufficient-data"
	ReasonMarginFloorProtection  Reasoning = "margin-floor-protection"
	ReasonMarketAligned          Reasoning = "market-aligned"
	ReasonMarginHeadroomDiscount Reasoning = "margin-headroom-discount"
	ReasonCompetitiveAdjustment  Reasoning = "competitive-adjustment"
	ReasonBelowMarketHeadroom    Reasoning = "below-market-headroom"
)

// PricingRecommendation is derived and safe to regenerate. Numeric fields
// that depend on market data are nil when there was nothing to price from.
type PricingRecommendation struct {
	ProductID          string     `json:"productId"`
	CurrentPrice       float64    `json:"currentPrice"`
	Cost               float64    `json:"cost"`
	CurrentMargin      float64    `json:"currentMargin"`
	UnitsSold          int64      `json:"unitsSold"`
	RecommendedPrice   *float64   `json:"recommendedPrice"`
	ProjectedMargin    *float64   `json:"projectedMargin"`
	PriceChange        *float64   `json:"priceChange"`
	PriceChangePercent *float64   `json:"priceChangePercent"`
	RevenueImpact      *float64   `json:"revenueImpact"`
	MarketReference    *float64   `json:"marketReferencePrice"`
	CompetitorCount    int        `json:"competitorCount"`
	FloorPrice         float64    `json:"floorPrice"`
	FloorApplied       bool       `json:"floorApplied"`
	Confidence         Confidence `json:"confidence"`
	Reasoning          Reasoning  `json:"reasoning"`
	GeneratedAt        time.Time  `json:"generatedAt"`
}

// Impact returns the revenue impact, treating a missing value as zero.
func (r PricingRecommendation) Impact() float64 {
	if r.RevenueImpact == nil {
		return 0
	}
	return *r.RevenueImpact
}

// ProjectedPrice returns the recommended price, or the current price when none was made.
func (r PricingRecommendation) ProjectedPrice() float64 {
	if r.RecommendedPrice == nil {
		return r.CurrentPrice
	}
	return *r.RecommendedPrice
}

type RiskReason string

const (
	RiskNegativeImpact RiskReason = "negative-revenue-impact"
	RiskLowConfidence  RiskReason = "low-confidence"
)

type RiskProduct struct {
	ProductID     string       `json:"productId"`
	RevenueImpact float64      `json:"revenueImpact"`
	Confidence    Confidence   `json:"confidence"`
	Reasons       []RiskReason `json:"reasons"`
}

type PortfolioSummary struct {
	ProductCount          int                     `json:"productCount"`
	TotalCurrentRevenue   float64                 `json:"totalCurrentRevenue"`
	TotalProjectedRevenue float64                 `json:"totalProjectedRevenue"`
	RevenueUplift         float64                 `json:"revenueUplift"`
	RevenueUpliftPercent  float64                 `json:"revenueUpliftPercent"`
	AvgMarginImprovement  float64                 `json:"averageMarginImprovement"`
	HighConfidenceCount   int                     `json:"highConfidenceCount"`
	TopOpportunities      []PricingRecommendation `json:"topOpportunities"`
	Risks                 []RiskProduct           `json:"risks"`
	Errors                map[string]string       `json:"errors,omitempty"`
	GeneratedAt           time.Time               `json:"generatedAt"`
}

// Intelligence is everything the engine knows about one product right now.
type Intelligence struct {
	ProductID      string                `json:"productId"`
	Observations   []Observation         `json:"observations"`
	Alerts         []PriceAlert          `json:"alerts"`
	Trends         []MarketTrend         `json:"trends"`
	Position       CompetitivePosition   `json:"position"`
	Recommendation PricingRecommendation `json:"recommendation"`
	Job            *TrackingJob          `json:"job,omitempty"`
	GeneratedAt    time.Time             `json:"generatedAt"`
}
