package source

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"time"

	"PricePulse/internal/domain/models"
)

// StaticSource produces a seeded random walk per (product, competitor). It backs
// demos and the CLI when no live endpoint is configured.
type StaticSource struct {
	mu         sync.Mutex
	seed       uint64
	volatility float64
	currency   string
	prices     map[models.SeriesKey]float64
	rngs       map[models.SeriesKey]*rand.Rand
	now        func() time.Time
}

type StaticOption func(*StaticSource)

func WithVolatility(v float64) StaticOption {
	return func(s *StaticSource) { s.volatility = v }
}

// WithBasePrice pins the starting price for a series.
func WithBasePrice(productID, competitor string, price float64) StaticOption {
	return func(s *StaticSource) {
		s.prices[models.SeriesKey{ProductID: productID, Competitor: competitor}] = price
	}
}

func WithClock(now func() time.Time) StaticOption {
	return func(s *StaticSource) { s.now = now }
}

func NewStaticSource(seed int64, opts ...StaticOption) *StaticSource {
	s := &StaticSource{
		seed:       uint64(seed),
		volatility: 0.02,
		currency:   "USD",
		prices:     make(map[models.SeriesKey]float64),
		rngs:       make(map[models.SeriesKey]*rand.Rand),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *StaticSource) Fetch(ctx context.Context, productID, competitor string) (models.Observation, error) {
	if err := ctx.Err(); err != nil {
		return models.Observation{}, classify(ctx, err)
	}
	key := models.SeriesKey{ProductID: productID, Competitor: competitor}

	s.mu.Lock()
	defer s.mu.Unlock()
	rng, ok := s.rngs[key]
	if !ok {
		h := fnv.New64a()
		_, _ = h.Write([]byte(key.String()))
		rng = rand.New(rand.NewPCG(s.seed, h.Sum64()))
		s.rngs[key] = rng
		if _, pinned := s.prices[key]; !pinned {
			s.prices[key] = 20 + float64(h.Sum64()%18000)/100
		}
	}
	price := s.prices[key] * (1 + s.volatility*rng.NormFloat64())
	if price < 0.01 {
		price = 0.01
	}
	s.prices[key] = price

	return models.Observation{
		ProductID:  productID,
		Competitor: competitor,
		Price:      float64(int64(price*100+0.5)) / 100,
		Currency:   s.currency,
		Available:  rng.Float64() > 0.05,
		Timestamp:  s.now().UTC(),
		Confidence: 1,
	}, nil
}
