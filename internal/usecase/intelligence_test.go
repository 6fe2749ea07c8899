package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"PricePulse/internal/domain/models"
	"PricePulse/internal/repository"
	"PricePulse/internal/services/detector"
	"PricePulse/internal/services/market"
	"PricePulse/internal/services/portfolio"
	"PricePulse/internal/services/pricing"
	"PricePulse/pkg/cache"
	applogger "PricePulse/pkg/logger"
)

func newIntelligence(t *testing.T, opts ...IntelligenceOption) (*IntelligenceService, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	opts = append([]IntelligenceOption{WithIntelligenceClock(func() time.Time { return t0.Add(24 * time.Hour) })}, opts...)
	svc := NewIntelligenceService(store, market.NewAnalyzer(), pricing.NewEngine(), portfolio.NewAggregator(),
		nil, applogger.NewNop(), DefaultIntelligenceConfig(), opts...)
	return svc, store
}

func TestUpsertProductValidates(t *testing.T) {
	svc, _ := newIntelligence(t)
	_, err := svc.UpsertProduct(context.Background(), models.Product{ID: "sku-1", Cost: 10, CurrentPrice: 0})
	if !errors.Is(err, models.ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
	p, err := svc.UpsertProduct(context.Background(), models.Product{ID: "sku-1", Cost: 10, CurrentPrice: 20, Currency: "USD"})
	if err != nil || p.UpdatedAt.IsZero() {
		t.Fatalf("upsert: %+v %v", p, err)
	}
}

func TestIntelligenceUnknownProduct(t *testing.T) {
	svc, _ := newIntelligence(t)
	_, err := svc.GetCurrentIntelligence(context.Background(), "missing", IntelligenceQuery{})
	if !errors.Is(err, models.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestIntelligenceWithoutObservationsIsLowConfidence(t *testing.T) {
	svc, _ := newIntelligence(t)
	ctx := context.Background()
	_, _ = svc.UpsertProduct(ctx, models.Product{ID: "sku-1", Cost: 50, CurrentPrice: 100, Currency: "USD", UnitsSold: 10})

	intel, err := svc.GetCurrentIntelligence(ctx, "sku-1", IntelligenceQuery{})
	if err != nil {
		t.Fatalf("intelligence: %v", err)
	}
	rec := intel.Recommendation
	if rec.Confidence != models.ConfidenceLow || rec.Reasoning != models.ReasonInsufficientData || rec.RecommendedPrice != nil {
		t.Fatalf("unexpected recommendation %+v", rec)
	}
	if len(intel.Observations) != 0 || intel.Job != nil {
		t.Fatalf("unexpected intelligence %+v", intel)
	}
}

func TestIntelligenceRecommendsFromObservations(t *testing.T) {
	svc, store := newIntelligence(t)
	ctx := context.Background()
	_, _ = svc.UpsertProduct(ctx, models.Product{ID: "sku-1", Cost: 50, CurrentPrice: 100, Currency: "USD", UnitsSold: 40})
	for i, c := range []string{"acme", "globex", "initech"} {
		_ = store.AppendObservation(ctx, obs(c, 92+float64(i)*3, t0.Add(time.Duration(i)*time.Minute)))
	}

	intel, err := svc.GetCurrentIntelligence(ctx, "sku-1", IntelligenceQuery{})
	if err != nil {
		t.Fatalf("intelligence: %v", err)
	}
	if len(intel.Observations) != 3 {
		t.Fatalf("observations = %d", len(intel.Observations))
	}
	rec := intel.Recommendation
	if rec.RecommendedPrice == nil || *rec.RecommendedPrice >= 100 || *rec.RecommendedPrice < rec.FloorPrice {
		t.Fatalf("unexpected recommendation %+v", rec)
	}
	if rec.CompetitorCount != 3 {
		t.Fatalf("competitor count = %d", rec.CompetitorCount)
	}

	limited, err := svc.GetCurrentIntelligence(ctx, "sku-1", IntelligenceQuery{Limit: 1})
	if err != nil || len(limited.Observations) != 1 || limited.Observations[0].Competitor != "initech" {
		t.Fatalf("limit should keep newest: %+v %v", limited.Observations, err)
	}
	since, _ := svc.GetCurrentIntelligence(ctx, "sku-1", IntelligenceQuery{Since: t0.Add(90 * time.Second)})
	if len(since.Observations) != 1 {
		t.Fatalf("since filter: %d observations", len(since.Observations))
	}
}

func TestIntelligenceCacheAndInvalidation(t *testing.T) {
	c := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	defer c.Close()
	svc, store := newIntelligence(t, WithIntelligenceCache(c))
	ctx := context.Background()
	_, _ = svc.UpsertProduct(ctx, models.Product{ID: "sku-1", Cost: 50, CurrentPrice: 100, Currency: "USD"})

	first, _ := svc.GetCurrentIntelligence(ctx, "sku-1", IntelligenceQuery{})
	_ = store.AppendObservation(ctx, obs("acme", 90, t0))
	cached, _ := svc.GetCurrentIntelligence(ctx, "sku-1", IntelligenceQuery{})
	if len(first.Observations) != 0 || len(cached.Observations) != 0 {
		t.Fatalf("second read should come from cache")
	}

	_, _ = svc.UpsertProduct(ctx, models.Product{ID: "sku-1", Cost: 50, CurrentPrice: 100, Currency: "USD"})
	fresh, _ := svc.GetCurrentIntelligence(ctx, "sku-1", IntelligenceQuery{})
	if len(fresh.Observations) != 1 {
		t.Fatalf("upsert should invalidate cached intelligence, got %d observations", len(fresh.Observations))
	}
}

type fixedJobs map[string]models.TrackingJob

func (f fixedJobs) ActiveJob(id string) (models.TrackingJob, bool) {
	j, ok := f[id]
	return j, ok
}

func TestIntelligenceAttachesActiveJob(t *testing.T) {
	svc, _ := newIntelligence(t, WithJobLookup(fixedJobs{"sku-1": {ID: "j1", ProductID: "sku-1", State: models.JobIdle}}))
	ctx := context.Background()
	_, _ = svc.UpsertProduct(ctx, models.Product{ID: "sku-1", Cost: 50, CurrentPrice: 100, Currency: "USD"})
	intel, err := svc.GetCurrentIntelligence(ctx, "sku-1", IntelligenceQuery{})
	if err != nil || intel.Job == nil || intel.Job.ID != "j1" {
		t.Fatalf("job not attached: %+v %v", intel.Job, err)
	}
}

func TestPortfolioSummaryReportsFailures(t *testing.T) {
	svc, store := newIntelligence(t)
	ctx := context.Background()
	_, _ = svc.UpsertProduct(ctx, models.Product{ID: "sku-1", Cost: 50, CurrentPrice: 100, Currency: "USD", UnitsSold: 40})
	_, _ = svc.UpsertProduct(ctx, models.Product{ID: "sku-2", Cost: 10, CurrentPrice: 20, Currency: "USD", UnitsSold: 5})
	_ = store.AppendObservation(ctx, obs("acme", 95, t0))

	summary, err := svc.GetPortfolioSummary(ctx, []string{"sku-1", "sku-2", "sku-1", "ghost"}, 5)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.ProductCount != 2 {
		t.Fatalf("product count = %d, want 2", summary.ProductCount)
	}
	if _, ok := summary.Errors["ghost"]; !ok || len(summary.Errors) != 1 {
		t.Fatalf("errors = %+v", summary.Errors)
	}
	if summary.TotalCurrentRevenue != 100*40+20*5 {
		t.Fatalf("current revenue = %v", summary.TotalCurrentRevenue)
	}

	if _, err := svc.GetPortfolioSummary(ctx, []string{" "}, 5); !errors.Is(err, models.ErrInvalidProduct) {
		t.Fatalf("empty portfolio: %v", err)
	}
}

func TestPortfolioSummaryCacheDroppedOnChange(t *testing.T) {
	c := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	defer c.Close()
	svc, store := newIntelligence(t, WithIntelligenceCache(c))
	proc := NewObservationProcessor(store, detector.New(), nil, applogger.NewNop(), WithCacheInvalidation(c))
	ctx := context.Background()
	_, _ = svc.UpsertProduct(ctx, models.Product{ID: "sku-1", Cost: 50, CurrentPrice: 100, Currency: "USD", UnitsSold: 10})
	ids := []string{"sku-1"}

	first, err := svc.GetPortfolioSummary(ctx, ids, 5)
	if err != nil || first.TotalCurrentRevenue != 1000 {
		t.Fatalf("summary: %+v %v", first, err)
	}

	_, _ = svc.UpsertProduct(ctx, models.Product{ID: "sku-1", Cost: 50, CurrentPrice: 120, Currency: "USD", UnitsSold: 10})
	afterUpsert, _ := svc.GetPortfolioSummary(ctx, ids, 5)
	if afterUpsert.TotalCurrentRevenue != 1200 {
		t.Fatalf("upsert should drop cached summary, revenue = %v", afterUpsert.TotalCurrentRevenue)
	}

	if err := c.Get(ctx, portfolioKey(ids, 5), &models.PortfolioSummary{}); err != nil {
		t.Fatalf("summary should be cached again: %v", err)
	}
	if _, err := proc.ProcessObservation(ctx, obs("acme", 90, t0)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := c.Get(ctx, portfolioKey(ids, 5), &models.PortfolioSummary{}); !errors.Is(err, cache.ErrCacheMiss) {
		t.Fatalf("observation should drop cached summary, got %v", err)
	}
}
