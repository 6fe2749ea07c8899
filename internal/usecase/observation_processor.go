package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"PricePulse/internal/domain/models"
	drepo "PricePulse/internal/domain/repository"
	domsvc "PricePulse/internal/domain/service"
	"PricePulse/pkg/cache"
	applogger "PricePulse/pkg/logger"
	"PricePulse/pkg/queue"
)

// ObservationProcessor is the single downstream for every observation, whether
// it came from a scheduler tick, the websocket feed or Kafka.
type ObservationProcessor struct {
	store     drepo.Store
	detector  domsvc.ChangeDetector
	publisher drepo.AlertPublisher
	metrics   drepo.Metrics
	cache     cache.Service
	refresh   queue.Publisher
	l         *applogger.Logger

	mu     sync.Mutex
	last   map[models.SeriesKey]models.Observation
	seeded map[string]bool
}

type ProcessorOption func(*ObservationProcessor)

func WithAlertPublisher(p drepo.AlertPublisher) ProcessorOption {
	return func(op *ObservationProcessor) { op.publisher = p }
}

// WithCacheInvalidation drops cached intelligence whenever a product receives data.
func WithCacheInvalidation(c cache.Service) ProcessorOption {
	return func(op *ObservationProcessor) { op.cache = c }
}

// WithRefreshQueue enqueues an intelligence refresh for high and critical alerts.
func WithRefreshQueue(q queue.Publisher) ProcessorOption {
	return func(op *ObservationProcessor) { op.refresh = q }
}

func NewObservationProcessor(store drepo.Store, detector domsvc.ChangeDetector, metrics drepo.Metrics, l *applogger.Logger, opts ...ProcessorOption) *ObservationProcessor {
	if metrics == nil {
		metrics = drepo.NopMetrics{}
	}
	p := &ObservationProcessor{
		store:    store,
		detector: detector,
		metrics:  metrics,
		l:        l,
		last:     make(map[models.SeriesKey]models.Observation),
		seeded:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetRefreshQueue attaches the refresh queue after construction. Call before processing starts.
func (p *ObservationProcessor) SetRefreshQueue(q queue.Publisher) { p.refresh = q }

// Process implements the realtime pipeline sink.
func (p *ObservationProcessor) Process(ctx context.Context, o *models.Observation) error {
	if o == nil {
		return fmt.Errorf("observation nil: %w", models.ErrInvalidObservation)
	}
	_, err := p.ProcessObservation(ctx, *o)
	return err
}

// ProcessObservation runs change detection against the last known observation of
// the same series, appends the observation and persists any alert. Late arrivals
// are stored but never alert and never replace the newer baseline.
func (p *ObservationProcessor) ProcessObservation(ctx context.Context, o models.Observation) (*models.PriceAlert, error) {
	start := time.Now()
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if err := p.seed(ctx, o.ProductID); err != nil {
		return nil, err
	}

	key := o.Key()
	var alert *models.PriceAlert
	p.mu.Lock()
	prior, hadPrior := p.last[key]
	advanced := !hadPrior || !o.Timestamp.Before(prior.Timestamp)
	if advanced {
		if hadPrior {
			alert = p.detector.Detect(o, &prior)
		}
		p.last[key] = o
	}
	p.mu.Unlock()

	if err := p.store.AppendObservation(ctx, o); err != nil {
		if advanced {
			p.restoreBaseline(key, o, prior, hadPrior)
		}
		p.metrics.RecordError("store_observation")
		return nil, fmt.Errorf("append observation: %w", err)
	}
	p.metrics.RecordObservation(o.Competitor, o.Price)
	p.invalidate(ctx, o.ProductID)

	if alert != nil {
		p.emit(ctx, *alert)
	}
	p.metrics.RecordLatency("process_observation", time.Since(start).Seconds())
	return alert, nil
}

// restoreBaseline undoes a baseline advance whose observation was never stored,
// unless a newer observation has replaced it in the meantime.
func (p *ObservationProcessor) restoreBaseline(key models.SeriesKey, failed, prior models.Observation, hadPrior bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.last[key]
	if !ok || !cur.Timestamp.Equal(failed.Timestamp) || cur.Price != failed.Price {
		return
	}
	if hadPrior {
		p.last[key] = prior
	} else {
		delete(p.last, key)
	}
}

// seed loads the latest stored observation per competitor once per product so a
// restart does not turn the next reading into a baseline.
func (p *ObservationProcessor) seed(ctx context.Context, productID string) error {
	p.mu.Lock()
	done := p.seeded[productID]
	p.mu.Unlock()
	if done {
		return nil
	}

	latest, err := p.store.LatestObservations(ctx, productID)
	if err != nil {
		p.metrics.RecordError("seed_observations")
		return fmt.Errorf("seed last observations: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for competitor, o := range latest {
		key := models.SeriesKey{ProductID: productID, Competitor: competitor}
		if cur, ok := p.last[key]; !ok || o.Timestamp.After(cur.Timestamp) {
			p.last[key] = o
		}
	}
	p.seeded[productID] = true
	return nil
}

func (p *ObservationProcessor) emit(ctx context.Context, a models.PriceAlert) {
	p.metrics.RecordAlert(a.Severity.String())
	if err := p.store.AppendAlert(ctx, a); err != nil {
		p.metrics.RecordError("store_alert")
		p.l.Error("store alert failed", applogger.String("product_id", a.ProductID), applogger.Error(err))
	}
	if p.publisher != nil {
		if err := p.publisher.PublishAlert(ctx, a); err != nil {
			p.metrics.RecordError("publish_alert")
			p.l.Warn("publish alert failed", applogger.String("alert_id", a.ID), applogger.Error(err))
		}
	}
	p.l.Info("price alert",
		applogger.String("product_id", a.ProductID),
		applogger.String("competitor", a.Competitor),
		applogger.Float64("change_percent", a.ChangePercent),
		applogger.String("severity", a.Severity.String()))

	if p.refresh != nil && a.Severity >= models.SeverityHigh {
		if err := p.refresh.Enqueue(ctx, RefreshJobType, RefreshPayload{ProductID: a.ProductID}); err != nil {
			p.l.Warn("enqueue refresh failed", applogger.String("product_id", a.ProductID), applogger.Error(err))
		}
	}
}

func (p *ObservationProcessor) invalidate(ctx context.Context, productID string) {
	if p.cache == nil {
		return
	}
	if err := invalidateProduct(ctx, p.cache, productID); err != nil {
		p.l.Debug("cache invalidate failed", applogger.String("product_id", productID), applogger.Error(err))
	}
}

// Last returns the current baseline for a series.
func (p *ObservationProcessor) Last(productID, competitor string) (models.Observation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.last[models.SeriesKey{ProductID: productID, Competitor: competitor}]
	return o, ok
}

func intelligenceKey(productID string) string {
	return cache.Key("intel", productID)
}

// Portfolio keys hash their product set, so any product change drops them all.
const portfolioPattern = "portfolio:*"

func invalidateProduct(ctx context.Context, c cache.Service, productID string) error {
	if err := c.Delete(ctx, intelligenceKey(productID)); err != nil {
		return err
	}
	return c.DeleteByPattern(ctx, portfolioPattern)
}
