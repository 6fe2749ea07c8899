package repository

import (
	"context"
	"time"

	"PricePulse/internal/domain/models"
)

// ObservationSource yields one price reading for a (product, competitor) pair.
// Implementations return models.ErrSourceUnavailable or models.ErrSourceTimeout
// (possibly wrapped) for recoverable failures.
type ObservationSource interface {
	Fetch(ctx context.Context, productID, competitor string) (models.Observation, error)
}

// ObservationSourceFunc adapts a function to ObservationSource.
type ObservationSourceFunc func(ctx context.Context, productID, competitor string) (models.Observation, error)

func (f ObservationSourceFunc) Fetch(ctx context.Context, productID, competitor string) (models.Observation, error) {
	return f(ctx, productID, competitor)
}

// PriceFeed is a push stream of observations (websocket or similar).
type PriceFeed interface {
	Connect(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Observation, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

type ProductStore interface {
	UpsertProduct(ctx context.Context, p models.Product) error
	GetProduct(ctx context.Context, id string) (models.Product, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
}

type ObservationStore interface {
	AppendObservation(ctx context.Context, o models.Observation) error
	// Observations returns the product's observations with timestamp >= since, oldest first.
	// A limit <= 0 means no limit; otherwise the newest limit entries are kept.
	Observations(ctx context.Context, productID string, since time.Time, limit int) ([]models.Observation, error)
	LatestObservations(ctx context.Context, productID string) (map[string]models.Observation, error)
}

type AlertStore interface {
	AppendAlert(ctx context.Context, a models.PriceAlert) error
	Alerts(ctx context.Context, productID string, since time.Time, limit int) ([]models.PriceAlert, error)
}

type JobStore interface {
	SaveJob(ctx context.Context, job models.TrackingJob) error
	GetJob(ctx context.Context, id string) (models.TrackingJob, error)
	ListJobs(ctx context.Context) ([]models.TrackingJob, error)
}

// Store bundles every persistence contract the engine consumes.
type Store interface {
	ProductStore
	ObservationStore
	AlertStore
	JobStore
	Init(ctx context.Context) error
	Health(ctx context.Context) error
	Close() error
}

type AlertPublisher interface {
	PublishAlert(ctx context.Context, a models.PriceAlert) error
	Close() error
}

type Metrics interface {
	RecordObservation(competitor string, price float64)
	RecordFetchError(competitor, reason string)
	RecordAlert(severity string)
	RecordTick(skipped bool)
	SetActiveJobs(n int)
	RecordLatency(op string, seconds float64)
	RecordError(kind string)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordObservation(string, float64) {}
func (NopMetrics) RecordFetchError(string, string)   {}
func (NopMetrics) RecordAlert(string)                {}
func (NopMetrics) RecordTick(bool)                   {}
func (NopMetrics) SetActiveJobs(int)                 {}
func (NopMetrics) RecordLatency(string, float64)     {}
func (NopMetrics) RecordError(string)                {}
