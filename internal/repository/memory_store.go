package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"PricePulse/internal/domain/models"
	domrepo "PricePulse/internal/domain/repository"
)

// MemoryStore keeps everything in process. Observations per product are kept oldest first.
type MemoryStore struct {
	mu           sync.RWMutex
	products     map[string]models.Product
	observations map[string][]models.Observation
	alerts       map[string][]models.PriceAlert
	jobs         map[string]models.TrackingJob
	maxPerSeries int
}

type MemoryOption func(*MemoryStore)

// WithRetention caps observations and alerts kept per product.
func WithRetention(n int) MemoryOption {
	return func(s *MemoryStore) { s.maxPerSeries = n }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		products:     make(map[string]models.Product),
		observations: make(map[string][]models.Observation),
		alerts:       make(map[string][]models.PriceAlert),
		jobs:         make(map[string]models.TrackingJob),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domrepo.Store = (*MemoryStore)(nil)

func (s *MemoryStore) Init(context.Context) error   { return nil }
func (s *MemoryStore) Health(context.Context) error { return nil }
func (s *MemoryStore) Close() error                 { return nil }

func (s *MemoryStore) UpsertProduct(_ context.Context, p models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	return nil
}

func (s *MemoryStore) GetProduct(_ context.Context, id string) (models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return models.Product{}, fmt.Errorf("product %s: %w", id, models.ErrProductNotFound)
	}
	return p, nil
}

func (s *MemoryStore) ListProducts(context.Context) ([]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) AppendObservation(_ context.Context, o models.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	series := s.observations[o.ProductID]
	// common case is in-order append
	i := len(series)
	for i > 0 && series[i-1].Timestamp.After(o.Timestamp) {
		i--
	}
	series = append(series, models.Observation{})
	copy(series[i+1:], series[i:])
	series[i] = o
	s.observations[o.ProductID] = tail(series, s.maxPerSeries)
	return nil
}

func (s *MemoryStore) Observations(_ context.Context, productID string, since time.Time, limit int) ([]models.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series := s.observations[productID]
	start := sort.Search(len(series), func(i int) bool { return !series[i].Timestamp.Before(since) })
	out := append([]models.Observation(nil), tail(series[start:], limit)...)
	return out, nil
}

func (s *MemoryStore) LatestObservations(_ context.Context, productID string) (map[string]models.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.Observation)
	for _, o := range s.observations[productID] {
		if cur, ok := out[o.Competitor]; !ok || !o.Timestamp.Before(cur.Timestamp) {
			out[o.Competitor] = o
		}
	}
	return out, nil
}

func (s *MemoryStore) AppendAlert(_ context.Context, a models.PriceAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[a.ProductID] = tail(append(s.alerts[a.ProductID], a), s.maxPerSeries)
	return nil
}

func (s *MemoryStore) Alerts(_ context.Context, productID string, since time.Time, limit int) ([]models.PriceAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PriceAlert
	for _, a := range s.alerts[productID] {
		if !a.Timestamp.Before(since) {
			out = append(out, a)
		}
	}
	return append([]models.PriceAlert(nil), tail(out, limit)...), nil
}

func (s *MemoryStore) SaveJob(_ context.Context, job models.TrackingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.Competitors = append([]string(nil), job.Competitors...)
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id string) (models.TrackingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return models.TrackingJob{}, fmt.Errorf("job %s: %w", id, models.ErrJobNotFound)
	}
	return job, nil
}

func (s *MemoryStore) ListJobs(context.Context) ([]models.TrackingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TrackingJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
