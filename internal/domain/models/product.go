package models

import (
	"fmt"
	"strings"
	"time"
)

// Product is a merchant catalog entry. It is only mutated by catalog sync.
type Product struct {
	ID           string    `json:"productId" validate:"required"`
	Name         string    `json:"name,omitempty"`
	Cost         float64   `json:"cost" validate:"gte=0"`
	CurrentPrice float64   `json:"currentPrice" validate:"gt=0"`
	Currency     string    `json:"currency" default:"USD" validate:"len=3"`
	UnitsSold    int64     `json:"unitsSold" validate:"gte=0"`
	Category     string    `json:"category,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`

	// HistoricalMargin overrides the engine default when set.
	HistoricalMargin *float64 `json:"historicalMargin,omitempty"`
}

// Validate rejects economics the engine cannot price from.
func (p Product) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("product id is required: %w", ErrInvalidProduct)
	}
	if p.Cost < 0 {
		return fmt.Errorf("cost %.4f: %w", p.Cost, ErrInvalidCost)
	}
	if p.CurrentPrice <= 0 {
		return fmt.Errorf("current price %.4f: %w", p.CurrentPrice, ErrInvalidPrice)
	}
	if p.UnitsSold < 0 {
		return fmt.Errorf("units sold %d: %w", p.UnitsSold, ErrInvalidUnits)
	}
	return nil
}

// CurrentMargin is (price - cost) / price.
func (p Product) CurrentMargin() float64 {
	if p.CurrentPrice == 0 {
		return 0
	}
	return (p.CurrentPrice - p.Cost) / p.CurrentPrice
}

// Observation is a single timestamped price reading for one competitor.
// Observations are never mutated after creation.
type Observation struct {
	ProductID  string    `json:"productId"`
	Competitor string    `json:"competitor"`
	Price      float64   `json:"price"`
	Currency   string    `json:"currency"`
	Available  bool      `json:"availability"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
}

func (o Observation) Validate() error {
	if o.ProductID == "" || o.Competitor == "" {
		return fmt.Errorf("observation needs product and competitor: %w", ErrInvalidObservation)
	}
	if o.Price <= 0 {
		return fmt.Errorf("observation price %.4f: %w", o.Price, ErrInvalidPrice)
	}
	if o.Confidence < 0 || o.Confidence > 1 {
		return fmt.Errorf("observation confidence %.3f out of [0,1]: %w", o.Confidence, ErrInvalidObservation)
	}
	if o.Timestamp.IsZero() {
		return fmt.Errorf("observation timestamp missing: %w", ErrInvalidObservation)
	}
	return nil
}

// Key identifies the (product, competitor) series an observation belongs to.
func (o Observation) Key() SeriesKey {
	return SeriesKey{ProductID: o.ProductID, Competitor: o.Competitor}
}

type SeriesKey struct {
	ProductID  string
	Competitor string
}

func (k SeriesKey) String() string {
	return k.ProductID + ":" + k.Competitor
}
