package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"PricePulse/internal/domain/models"
	"PricePulse/internal/repository"
	"PricePulse/internal/services/detector"
	"PricePulse/pkg/cache"
	applogger "PricePulse/pkg/logger"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type capturePublisher struct {
	mu     sync.Mutex
	alerts []models.PriceAlert
}

func (c *capturePublisher) PublishAlert(_ context.Context, a models.PriceAlert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *capturePublisher) Close() error { return nil }

type captureQueue struct {
	mu       sync.Mutex
	payloads []interface{}
}

func (q *captureQueue) Enqueue(_ context.Context, msgType string, payload interface{}) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if msgType != RefreshJobType {
		return errors.New("unexpected job type " + msgType)
	}
	q.payloads = append(q.payloads, payload)
	return nil
}

func obs(competitor string, price float64, at time.Time) models.Observation {
	return models.Observation{ProductID: "sku-1", Competitor: competitor, Price: price, Currency: "USD", Available: true, Timestamp: at, Confidence: 1}
}

func TestProcessorFirstObservationIsBaseline(t *testing.T) {
	store := repository.NewMemoryStore()
	p := NewObservationProcessor(store, detector.New(), nil, applogger.NewNop())
	ctx := context.Background()

	alert, err := p.ProcessObservation(ctx, obs("acme", 100, t0))
	if err != nil || alert != nil {
		t.Fatalf("first observation: alert=%v err=%v", alert, err)
	}
	got, _ := store.Observations(ctx, "sku-1", time.Time{}, 0)
	if len(got) != 1 {
		t.Fatalf("stored %d observations, want 1", len(got))
	}
}

func TestProcessorEmitsAlertAndSideEffects(t *testing.T) {
	store := repository.NewMemoryStore()
	pub := &capturePublisher{}
	q := &captureQueue{}
	c := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	defer c.Close()
	ctx := context.Background()
	_ = c.Set(ctx, intelligenceKey("sku-1"), "stale", time.Minute)

	p := NewObservationProcessor(store, detector.New(), nil, applogger.NewNop(),
		WithAlertPublisher(pub), WithRefreshQueue(q), WithCacheInvalidation(c))

	if _, err := p.ProcessObservation(ctx, obs("acme", 100, t0)); err != nil {
		t.Fatalf("baseline: %v", err)
	}
	alert, err := p.ProcessObservation(ctx, obs("acme", 88, t0.Add(time.Hour)))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if alert == nil || alert.Severity != models.SeverityHigh || alert.OldPrice != 100 || alert.NewPrice != 88 {
		t.Fatalf("unexpected alert %+v", alert)
	}
	stored, _ := store.Alerts(ctx, "sku-1", time.Time{}, 0)
	if len(stored) != 1 || len(pub.alerts) != 1 || len(q.payloads) != 1 {
		t.Fatalf("stored=%d published=%d enqueued=%d", len(stored), len(pub.alerts), len(q.payloads))
	}
	var v string
	if err := c.Get(ctx, intelligenceKey("sku-1"), &v); !errors.Is(err, cache.ErrCacheMiss) {
		t.Fatalf("cached intelligence should be invalidated, got %v", err)
	}
}

func TestProcessorSmallMovesDoNotRefresh(t *testing.T) {
	q := &captureQueue{}
	p := NewObservationProcessor(repository.NewMemoryStore(), detector.New(), nil, applogger.NewNop(), WithRefreshQueue(q))
	ctx := context.Background()

	_, _ = p.ProcessObservation(ctx, obs("acme", 100, t0))
	alert, _ := p.ProcessObservation(ctx, obs("acme", 97, t0.Add(time.Hour)))
	if alert == nil || alert.Severity != models.SeverityLow {
		t.Fatalf("expected low alert, got %+v", alert)
	}
	if len(q.payloads) != 0 {
		t.Fatalf("low alert should not enqueue a refresh")
	}
	alert, _ = p.ProcessObservation(ctx, obs("acme", 97.5, t0.Add(2*time.Hour)))
	if alert != nil {
		t.Fatalf("sub-threshold move alerted: %+v", alert)
	}
}

func TestProcessorLateArrivalKeepsBaseline(t *testing.T) {
	store := repository.NewMemoryStore()
	p := NewObservationProcessor(store, detector.New(), nil, applogger.NewNop())
	ctx := context.Background()

	_, _ = p.ProcessObservation(ctx, obs("acme", 100, t0))
	alert, err := p.ProcessObservation(ctx, obs("acme", 50, t0.Add(-time.Hour)))
	if err != nil || alert != nil {
		t.Fatalf("late arrival: alert=%v err=%v", alert, err)
	}
	last, _ := p.Last("sku-1", "acme")
	if last.Price != 100 {
		t.Fatalf("baseline replaced by late arrival: %v", last.Price)
	}
	got, _ := store.Observations(ctx, "sku-1", time.Time{}, 0)
	if len(got) != 2 || got[0].Price != 50 {
		t.Fatalf("late arrival should be stored in order, got %+v", got)
	}
}

func TestProcessorSeedsFromStore(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()
	_ = store.AppendObservation(ctx, obs("acme", 100, t0))

	p := NewObservationProcessor(store, detector.New(), nil, applogger.NewNop())
	alert, err := p.ProcessObservation(ctx, obs("acme", 130, t0.Add(time.Hour)))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if alert == nil || alert.Severity != models.SeverityCritical {
		t.Fatalf("expected critical alert against stored baseline, got %+v", alert)
	}
}

func TestProcessorSeriesAreIndependent(t *testing.T) {
	p := NewObservationProcessor(repository.NewMemoryStore(), detector.New(), nil, applogger.NewNop())
	ctx := context.Background()

	_, _ = p.ProcessObservation(ctx, obs("acme", 100, t0))
	alert, _ := p.ProcessObservation(ctx, obs("globex", 50, t0.Add(time.Minute)))
	if alert != nil {
		t.Fatalf("first globex reading must not compare against acme: %+v", alert)
	}
}

func TestProcessorRejectsInvalid(t *testing.T) {
	p := NewObservationProcessor(repository.NewMemoryStore(), detector.New(), nil, applogger.NewNop())
	if _, err := p.ProcessObservation(context.Background(), obs("acme", 0, t0)); !errors.Is(err, models.ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
	if err := p.Process(context.Background(), nil); !errors.Is(err, models.ErrInvalidObservation) {
		t.Fatalf("nil observation: %v", err)
	}
}

// flakyAppendStore fails AppendObservation while failing is set.
type flakyAppendStore struct {
	*repository.MemoryStore
	failing bool
}

func (f *flakyAppendStore) AppendObservation(ctx context.Context, o models.Observation) error {
	if f.failing {
		return errors.New("disk full")
	}
	return f.MemoryStore.AppendObservation(ctx, o)
}

func TestProcessorKeepsBaselineWhenAppendFails(t *testing.T) {
	store := &flakyAppendStore{MemoryStore: repository.NewMemoryStore()}
	p := NewObservationProcessor(store, detector.New(), nil, applogger.NewNop())
	ctx := context.Background()

	if _, err := p.ProcessObservation(ctx, obs("acme", 100, t0)); err != nil {
		t.Fatalf("baseline: %v", err)
	}

	store.failing = true
	if _, err := p.ProcessObservation(ctx, obs("acme", 130, t0.Add(time.Minute))); err == nil {
		t.Fatalf("expected append error")
	}
	store.failing = false

	// compared against the stored 100, not the lost 130
	alert, err := p.ProcessObservation(ctx, obs("acme", 101, t0.Add(2*time.Minute)))
	if err != nil || alert != nil {
		t.Fatalf("alert=%+v err=%v; 100 -> 101 is below the alert threshold", alert, err)
	}
	alert, err = p.ProcessObservation(ctx, obs("acme", 130, t0.Add(3*time.Minute)))
	if err != nil || alert == nil || alert.OldPrice != 101 {
		t.Fatalf("alert=%+v err=%v, want alert from 101", alert, err)
	}
}

func TestProcessorFailedFirstAppendLeavesNoBaseline(t *testing.T) {
	store := &flakyAppendStore{MemoryStore: repository.NewMemoryStore(), failing: true}
	p := NewObservationProcessor(store, detector.New(), nil, applogger.NewNop())
	ctx := context.Background()

	if _, err := p.ProcessObservation(ctx, obs("acme", 100, t0)); err == nil {
		t.Fatalf("expected append error")
	}
	store.failing = false
	alert, err := p.ProcessObservation(ctx, obs("acme", 150, t0.Add(time.Minute)))
	if err != nil || alert != nil {
		t.Fatalf("alert=%+v err=%v; first stored reading must be a baseline", alert, err)
	}
}
