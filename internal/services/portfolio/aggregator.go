// Package portfolio rolls per-product recommendations into a merchant-level summary.
package portfolio

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"PricePulse/internal/domain/models"
	domsvc "PricePulse/internal/domain/service"
)

const DefaultTopN = 10

type Aggregator struct {
	now func() time.Time
}

func NewAggregator() *Aggregator {
	return &Aggregator{now: func() time.Time { return time.Now().UTC() }}
}

// Aggregate is a pure function of recs apart from GeneratedAt. A recommendation
// without a recommended price contributes its current price to the projection.
func (a *Aggregator) Aggregate(recs []models.PricingRecommendation, topN int) models.PortfolioSummary {
	if topN <= 0 {
		topN = DefaultTopN
	}
	summary := models.PortfolioSummary{
		ProductCount:     len(recs),
		TopOpportunities: []models.PricingRecommendation{},
		Risks:            []models.RiskProduct{},
		GeneratedAt:      a.now(),
	}

	current, projected := Totals(recs)
	summary.TotalCurrentRevenue = current.InexactFloat64()
	summary.TotalProjectedRevenue = projected.InexactFloat64()
	uplift := projected.Sub(current)
	summary.RevenueUplift = uplift.InexactFloat64()
	if !current.IsZero() {
		summary.RevenueUpliftPercent = uplift.Div(current).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}

	var marginDelta float64
	var priced int
	for _, r := range recs {
		if r.Confidence == models.ConfidenceHigh {
			summary.HighConfidenceCount++
		}
		if r.ProjectedMargin != nil {
			marginDelta += *r.ProjectedMargin - r.CurrentMargin
			priced++
		}
	}
	if priced > 0 {
		summary.AvgMarginImprovement = marginDelta / float64(priced)
	}

	summary.TopOpportunities = TopOpportunities(recs, topN)
	summary.Risks = Risks(recs)
	return summary
}

// Totals returns sum(currentPrice*units) and sum(projectedPrice*units).
func Totals(recs []models.PricingRecommendation) (current, projected decimal.Decimal) {
	current, projected = decimal.Zero, decimal.Zero
	for _, r := range recs {
		units := decimal.NewFromInt(r.UnitsSold)
		current = current.Add(decimal.NewFromFloat(r.CurrentPrice).Mul(units))
		projected = projected.Add(decimal.NewFromFloat(r.ProjectedPrice()).Mul(units))
	}
	return current, projected
}

// TopOpportunities keeps positive-impact recommendations, largest impact first.
func TopOpportunities(recs []models.PricingRecommendation, n int) []models.PricingRecommendation {
	out := make([]models.PricingRecommendation, 0, len(recs))
	for _, r := range recs {
		if r.RevenueImpact != nil && *r.RevenueImpact > 0 {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Impact() != out[j].Impact() {
			return out[i].Impact() > out[j].Impact()
		}
		return out[i].ProductID < out[j].ProductID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Risks evaluates both risk conditions for every recommendation and lists each
// product once with all reasons that apply.
func Risks(recs []models.PricingRecommendation) []models.RiskProduct {
	out := make([]models.RiskProduct, 0)
	index := make(map[string]int)
	for _, r := range recs {
		var reasons []models.RiskReason
		if r.Impact() < 0 {
			reasons = append(reasons, models.RiskNegativeImpact)
		}
		if r.Confidence == models.ConfidenceLow {
			reasons = append(reasons, models.RiskLowConfidence)
		}
		if len(reasons) == 0 {
			continue
		}
		if i, ok := index[r.ProductID]; ok {
			out[i].Reasons = mergeReasons(out[i].Reasons, reasons)
			continue
		}
		index[r.ProductID] = len(out)
		out = append(out, models.RiskProduct{
			ProductID:     r.ProductID,
			RevenueImpact: r.Impact(),
			Confidence:    r.Confidence,
			Reasons:       reasons,
		})
	}
	return out
}

func mergeReasons(have, add []models.RiskReason) []models.RiskReason {
	for _, r := range add {
		found := false
		for _, h := range have {
			if h == r {
				found = true
				break
			}
		}
		if !found {
			have = append(have, r)
		}
	}
	return have
}

var _ domsvc.PortfolioAggregator = (*Aggregator)(nil)
