// Package detector classifies competitor price moves into alerts.
package detector

import (
	"math"
	"time"

	"github.com/google/uuid"

	"PricePulse/internal/domain/models"
)

// Threshold maps the lower bound of an |changePercent| bucket to its severity.
type Threshold struct {
	MinPercent float64
	Severity   models.Severity
}

// SeverityTable is the canonical classification, ascending by MinPercent.
// A value exactly on a boundary belongs to the bucket that starts there.
var SeverityTable = []Threshold{
	{MinPercent: 2, Severity: models.SeverityLow},
	{MinPercent: 5, Severity: models.SeverityMedium},
	{MinPercent: 10, Severity: models.SeverityHigh},
	{MinPercent: 20, Severity: models.SeverityCritical},
}

// Classify returns the severity for a percent change, or false below the first bucket.
func Classify(changePercent float64) (models.Severity, bool) {
	abs := math.Abs(changePercent)
	var (
		sev   models.Severity
		found bool
	)
	for _, th := range SeverityTable {
		if abs >= th.MinPercent {
			sev, found = th.Severity, true
		}
	}
	return sev, found
}

// ChangePercent is (new-old)/old*100. old must be positive.
func ChangePercent(oldPrice, newPrice float64) float64 {
	return (newPrice - oldPrice) / oldPrice * 100
}

type Detector struct {
	newID func() string
}

type Option func(*Detector)

// WithIDGenerator replaces the uuid based alert ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(d *Detector) { d.newID = fn }
}

func New(opts ...Option) *Detector {
	d := &Detector{newID: func() string { return uuid.NewString() }}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Detector) Detect(current models.Observation, prior *models.Observation) *models.PriceAlert {
	if prior == nil || prior.Price <= 0 {
		return nil
	}
	cp := ChangePercent(prior.Price, current.Price)
	sev, ok := Classify(cp)
	if !ok {
		return nil
	}
	ts := current.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &models.PriceAlert{
		ID:            d.newID(),
		ProductID:     current.ProductID,
		Competitor:    current.Competitor,
		OldPrice:      prior.Price,
		NewPrice:      current.Price,
		ChangePercent: cp,
		Severity:      sev,
		Timestamp:     ts,
	}
}
