package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"PricePulse/internal/domain/models"
	domrepo "PricePulse/internal/domain/repository"
)

// SeriesStore is the time-series half of a Store.
type SeriesStore interface {
	domrepo.ObservationStore
	domrepo.AlertStore
	Init(ctx context.Context) error
	Health(ctx context.Context) error
	Close() error
}

// CompositeStore keeps catalog and jobs in meta while observations and alerts live in series.
type CompositeStore struct {
	meta   domrepo.Store
	series SeriesStore
}

func NewCompositeStore(meta domrepo.Store, series SeriesStore) *CompositeStore {
	return &CompositeStore{meta: meta, series: series}
}

var _ domrepo.Store = (*CompositeStore)(nil)

func (s *CompositeStore) UpsertProduct(ctx context.Context, p models.Product) error {
	return s.meta.UpsertProduct(ctx, p)
}

func (s *CompositeStore) GetProduct(ctx context.Context, id string) (models.Product, error) {
	return s.meta.GetProduct(ctx, id)
}

func (s *CompositeStore) ListProducts(ctx context.Context) ([]models.Product, error) {
	return s.meta.ListProducts(ctx)
}

func (s *CompositeStore) SaveJob(ctx context.Context, job models.TrackingJob) error {
	return s.meta.SaveJob(ctx, job)
}

func (s *CompositeStore) GetJob(ctx context.Context, id string) (models.TrackingJob, error) {
	return s.meta.GetJob(ctx, id)
}

func (s *CompositeStore) ListJobs(ctx context.Context) ([]models.TrackingJob, error) {
	return s.meta.ListJobs(ctx)
}

func (s *CompositeStore) AppendObservation(ctx context.Context, o models.Observation) error {
	return s.series.AppendObservation(ctx, o)
}

func (s *CompositeStore) Observations(ctx context.Context, productID string, since time.Time, limit int) ([]models.Observation, error) {
	return s.series.Observations(ctx, productID, since, limit)
}

func (s *CompositeStore) LatestObservations(ctx context.Context, productID string) (map[string]models.Observation, error) {
	return s.series.LatestObservations(ctx, productID)
}

func (s *CompositeStore) AppendAlert(ctx context.Context, a models.PriceAlert) error {
	return s.series.AppendAlert(ctx, a)
}

func (s *CompositeStore) Alerts(ctx context.Context, productID string, since time.Time, limit int) ([]models.PriceAlert, error) {
	return s.series.Alerts(ctx, productID, since, limit)
}

func (s *CompositeStore) Init(ctx context.Context) error {
	return errors.Join(s.meta.Init(ctx), s.series.Init(ctx))
}

func (s *CompositeStore) Health(ctx context.Context) error {
	return errors.Join(s.meta.Health(ctx), s.series.Health(ctx))
}

func (s *CompositeStore) Close() error {
	return errors.Join(s.meta.Close(), s.series.Close())
}

// tail keeps the newest limit entries of an oldest-first slice.
func tail[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[len(items)-limit:]
	}
	return items
}

func sortObservations(obs []models.Observation) {
	sort.SliceStable(obs, func(i, j int) bool {
		if obs[i].Timestamp.Equal(obs[j].Timestamp) {
			return obs[i].Competitor < obs[j].Competitor
		}
		return obs[i].Timestamp.Before(obs[j].Timestamp)
	})
}
