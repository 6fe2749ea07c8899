package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"PricePulse/internal/domain/models"
	drepo "PricePulse/internal/domain/repository"
	domsvc "PricePulse/internal/domain/service"
	"PricePulse/internal/services/market"
	"PricePulse/pkg/cache"
	applogger "PricePulse/pkg/logger"
)

// JobLookup exposes the active tracking job for a product.
type JobLookup interface {
	ActiveJob(productID string) (models.TrackingJob, bool)
}

// IntelligenceQuery narrows what GetCurrentIntelligence returns. The zero value
// means the full analysis window and the default observation limit.
type IntelligenceQuery struct {
	Since time.Time
	Limit int
}

type IntelligenceConfig struct {
	Window      time.Duration
	Limit       int
	MaxAnalyzed int
	CacheTTL    time.Duration
	Concurrency int
	TopN        int
}

func DefaultIntelligenceConfig() IntelligenceConfig {
	return IntelligenceConfig{
		Window:      30 * 24 * time.Hour,
		Limit:       200,
		MaxAnalyzed: 10000,
		CacheTTL:    2 * time.Minute,
		Concurrency: 8,
		TopN:        10,
	}
}

// IntelligenceService answers product and portfolio questions from stored observations.
type IntelligenceService struct {
	store      drepo.Store
	analyzer   domsvc.MarketAnalyzer
	engine     domsvc.PricingEngine
	aggregator domsvc.PortfolioAggregator
	jobs       JobLookup
	cache      cache.Service
	metrics    drepo.Metrics
	l          *applogger.Logger
	cfg        IntelligenceConfig
	now        func() time.Time
}

type IntelligenceOption func(*IntelligenceService)

func WithIntelligenceCache(c cache.Service) IntelligenceOption {
	return func(s *IntelligenceService) { s.cache = c }
}

func WithJobLookup(j JobLookup) IntelligenceOption {
	return func(s *IntelligenceService) { s.jobs = j }
}

func WithIntelligenceClock(now func() time.Time) IntelligenceOption {
	return func(s *IntelligenceService) { s.now = now }
}

func NewIntelligenceService(
	store drepo.Store,
	analyzer domsvc.MarketAnalyzer,
	engine domsvc.PricingEngine,
	aggregator domsvc.PortfolioAggregator,
	metrics drepo.Metrics,
	l *applogger.Logger,
	cfg IntelligenceConfig,
	opts ...IntelligenceOption,
) *IntelligenceService {
	def := DefaultIntelligenceConfig()
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if cfg.MaxAnalyzed <= 0 {
		cfg.MaxAnalyzed = def.MaxAnalyzed
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.TopN <= 0 {
		cfg.TopN = def.TopN
	}
	if metrics == nil {
		metrics = drepo.NopMetrics{}
	}
	s := &IntelligenceService{
		store:      store,
		analyzer:   analyzer,
		engine:     engine,
		aggregator: aggregator,
		metrics:    metrics,
		l:          l,
		cfg:        cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *IntelligenceService) UpsertProduct(ctx context.Context, p models.Product) (models.Product, error) {
	if err := p.Validate(); err != nil {
		return p, err
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.now().UTC()
	}
	if err := s.store.UpsertProduct(ctx, p); err != nil {
		return p, err
	}
	s.invalidate(ctx, p.ID)
	return p, nil
}

func (s *IntelligenceService) GetProduct(ctx context.Context, id string) (models.Product, error) {
	return s.store.GetProduct(ctx, id)
}

// GetCurrentIntelligence returns observations, alerts, trends, position and a
// recommendation for one product. A product with no observations yields a
// low-confidence recommendation rather than an error.
func (s *IntelligenceService) GetCurrentIntelligence(ctx context.Context, productID string, q IntelligenceQuery) (models.Intelligence, error) {
	cacheable := s.cache != nil && q == (IntelligenceQuery{})
	if cacheable {
		var cached models.Intelligence
		if err := s.cache.Get(ctx, intelligenceKey(productID), &cached); err == nil {
			s.attachJob(&cached)
			return cached, nil
		}
	}

	intel, err := s.compute(ctx, productID, q)
	if err != nil {
		return intel, err
	}
	if cacheable {
		if err := s.cache.Set(ctx, intelligenceKey(productID), intel, s.cfg.CacheTTL); err != nil {
			s.l.Debug("cache intelligence failed", applogger.String("product_id", productID), applogger.Error(err))
		}
	}
	s.attachJob(&intel)
	return intel, nil
}

// Refresh recomputes and caches a product's intelligence.
func (s *IntelligenceService) Refresh(ctx context.Context, productID string) error {
	intel, err := s.compute(ctx, productID, IntelligenceQuery{})
	if err != nil {
		return err
	}
	if s.cache == nil {
		return nil
	}
	return s.cache.Set(ctx, intelligenceKey(productID), intel, s.cfg.CacheTTL)
}

func (s *IntelligenceService) compute(ctx context.Context, productID string, q IntelligenceQuery) (models.Intelligence, error) {
	start := time.Now()
	defer func() { s.metrics.RecordLatency("intelligence", time.Since(start).Seconds()) }()

	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return models.Intelligence{}, err
	}
	asOf := s.now().UTC()
	window := domsvc.Window{Duration: s.cfg.Window, AsOf: asOf}

	obs, err := s.store.Observations(ctx, productID, window.Since(), s.cfg.MaxAnalyzed)
	if err != nil {
		return models.Intelligence{}, fmt.Errorf("load observations: %w", err)
	}
	inWindow := obs[:0:0]
	for _, o := range obs {
		if window.Contains(o.Timestamp) {
			inWindow = append(inWindow, o)
		}
	}

	analysis := s.analyzer.Analyze(productID, product.CurrentPrice, inWindow, window)
	rec, err := s.engine.Recommend(product, inWindow, market.PriceTrend(analysis.Trends), asOf)
	if err != nil {
		return models.Intelligence{}, err
	}

	since := window.Since()
	if q.Since.After(since) {
		since = q.Since
	}
	limit := q.Limit
	if limit <= 0 {
		limit = s.cfg.Limit
	}
	visible := make([]models.Observation, 0, len(inWindow))
	for _, o := range inWindow {
		if !o.Timestamp.Before(since) {
			visible = append(visible, o)
		}
	}
	if len(visible) > limit {
		visible = visible[len(visible)-limit:]
	}
	alerts, err := s.store.Alerts(ctx, productID, since, limit)
	if err != nil {
		return models.Intelligence{}, fmt.Errorf("load alerts: %w", err)
	}

	return models.Intelligence{
		ProductID:      productID,
		Observations:   visible,
		Alerts:         alerts,
		Trends:         analysis.Trends,
		Position:       analysis.Position,
		Recommendation: rec,
		GeneratedAt:    asOf,
	}, nil
}

func (s *IntelligenceService) attachJob(intel *models.Intelligence) {
	intel.Job = nil
	if s.jobs == nil {
		return
	}
	if job, ok := s.jobs.ActiveJob(intel.ProductID); ok {
		intel.Job = &job
	}
}

// GetPortfolioSummary recommends for every product with bounded concurrency.
// Products that fail are reported in Errors and excluded from the totals.
func (s *IntelligenceService) GetPortfolioSummary(ctx context.Context, productIDs []string, topN int) (models.PortfolioSummary, error) {
	ids := dedupe(productIDs)
	if len(ids) == 0 {
		return models.PortfolioSummary{}, fmt.Errorf("no products: %w", models.ErrInvalidProduct)
	}
	if topN <= 0 {
		topN = s.cfg.TopN
	}

	key := portfolioKey(ids, topN)
	if s.cache != nil {
		var cached models.PortfolioSummary
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	type result struct {
		rec models.PricingRecommendation
		err error
	}
	results := make([]result, len(ids))
	sem := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i].err = ctx.Err()
				return
			}
			defer func() { <-sem }()
			intel, err := s.GetCurrentIntelligence(ctx, id, IntelligenceQuery{})
			results[i] = result{rec: intel.Recommendation, err: err}
		}(i, id)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return models.PortfolioSummary{}, err
	}

	recs := make([]models.PricingRecommendation, 0, len(ids))
	errs := make(map[string]string)
	for i, r := range results {
		if r.err != nil {
			errs[ids[i]] = r.err.Error()
			continue
		}
		recs = append(recs, r.rec)
	}
	summary := s.aggregator.Aggregate(recs, topN)
	if len(errs) > 0 {
		summary.Errors = errs
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, summary, s.cfg.CacheTTL)
	}
	return summary, nil
}

func (s *IntelligenceService) invalidate(ctx context.Context, productID string) {
	if s.cache == nil {
		return
	}
	if err := invalidateProduct(ctx, s.cache, productID); err != nil {
		s.l.Debug("cache invalidate failed", applogger.String("product_id", productID), applogger.Error(err))
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func portfolioKey(ids []string, topN int) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	h := sha1.Sum([]byte(strings.Join(sorted, ",")))
	return cache.Key("portfolio", topN, hex.EncodeToString(h[:8]))
}
