package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"PricePulse/internal/domain/models"
	"PricePulse/internal/repository"
	"PricePulse/internal/services/detector"
	"PricePulse/pkg/cache"
	pkgkafka "PricePulse/pkg/kafka"
	applogger "PricePulse/pkg/logger"
)

func TestKafkaHandlerProcessesObservation(t *testing.T) {
	store := repository.NewMemoryStore()
	p := NewObservationProcessor(store, detector.New(), nil, applogger.NewNop())
	h := NewKafkaObservationsHandler("price.observations", p, nil)

	b, _ := json.Marshal(obs("acme", 42, t0))
	if err := h.Handle(context.Background(), b); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	got, _ := store.Observations(context.Background(), "sku-1", time.Time{}, 0)
	if len(got) != 1 || got[0].Price != 42 || !got[0].Available {
		t.Fatalf("stored %+v", got)
	}
	if h.Topic() != "price.observations" {
		t.Fatalf("topic = %s", h.Topic())
	}
}

func TestKafkaHandlerBadPayloadIsPermanent(t *testing.T) {
	h := NewKafkaObservationsHandler("t", &recordingHandler{}, nil)
	var perm *pkgkafka.PermanentError

	if err := h.Handle(context.Background(), []byte("{not json")); !errors.As(err, &perm) {
		t.Fatalf("expected permanent error for bad json, got %v", err)
	}
	b, _ := json.Marshal(models.Observation{ProductID: "sku-1", Competitor: "acme", Price: -1, Timestamp: t0})
	err := h.Handle(context.Background(), b)
	if !errors.As(err, &perm) || !errors.Is(err, models.ErrInvalidPrice) {
		t.Fatalf("expected permanent invalid price, got %v", err)
	}
}

type failingHandler struct{ err error }

func (f failingHandler) ProcessObservation(context.Context, models.Observation) (*models.PriceAlert, error) {
	return nil, f.err
}

func TestKafkaHandlerTransientErrorIsRetryable(t *testing.T) {
	h := NewKafkaObservationsHandler("t", failingHandler{err: errors.New("db down")}, nil)
	b, _ := json.Marshal(obs("acme", 10, t0))
	err := h.Handle(context.Background(), b)
	var perm *pkgkafka.PermanentError
	if err == nil || errors.As(err, &perm) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

type capturedObservations struct{ got []*models.Observation }

func (c *capturedObservations) PublishObservations(_ context.Context, obs []*models.Observation) error {
	c.got = append(c.got, obs...)
	return nil
}

func TestStreamForwarder(t *testing.T) {
	pub := &capturedObservations{}
	o := obs("acme", 10, t0)
	if err := NewStreamForwarder(pub).Process(context.Background(), &o); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(pub.got) != 1 || pub.got[0].Competitor != "acme" {
		t.Fatalf("forwarded %+v", pub.got)
	}
}

func TestRefreshJob(t *testing.T) {
	c := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	defer c.Close()
	svc, _ := newIntelligence(t, WithIntelligenceCache(c))
	ctx := context.Background()
	_, _ = svc.UpsertProduct(ctx, models.Product{ID: "sku-1", Cost: 5, CurrentPrice: 10, Currency: "USD"})
	job := NewRefreshJob(svc, applogger.NewNop())

	payload, _ := json.Marshal(RefreshPayload{ProductID: "sku-1"})
	if err := job.Handle(ctx, payload); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	var intel models.Intelligence
	if err := c.Get(ctx, intelligenceKey("sku-1"), &intel); err != nil || intel.ProductID != "sku-1" {
		t.Fatalf("refresh should populate cache: %v", err)
	}

	missing, _ := json.Marshal(RefreshPayload{ProductID: "gone"})
	if err := job.Handle(ctx, missing); err != nil {
		t.Fatalf("missing product should be dropped, got %v", err)
	}
}
