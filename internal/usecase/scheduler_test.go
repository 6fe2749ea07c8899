package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PricePulse/internal/domain/models"
	drepo "PricePulse/internal/domain/repository"
	"PricePulse/internal/repository"
	"PricePulse/pkg/cache"
	applogger "PricePulse/pkg/logger"
)

type manualTicker struct{ ch chan time.Time }

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               {}

type tickerSet struct {
	mu      sync.Mutex
	tickers []*manualTicker
}

func (ts *tickerSet) factory(time.Duration) Ticker {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t := &manualTicker{ch: make(chan time.Time)}
	ts.tickers = append(ts.tickers, t)
	return t
}

func (ts *tickerSet) fire(i int) {
	ts.mu.Lock()
	t := ts.tickers[i]
	ts.mu.Unlock()
	t.ch <- time.Now()
}

type recordingHandler struct {
	mu  sync.Mutex
	got []models.Observation
}

func (h *recordingHandler) ProcessObservation(_ context.Context, o models.Observation) (*models.PriceAlert, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.got = append(h.got, o)
	return nil, nil
}

func (h *recordingHandler) observations() []models.Observation {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.Observation(nil), h.got...)
}

func priceSource(price float64) drepo.ObservationSourceFunc {
	return func(_ context.Context, productID, competitor string) (models.Observation, error) {
		return models.Observation{ProductID: productID, Competitor: competitor, Price: price, Available: true, Timestamp: time.Now(), Confidence: 1}, nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func newTestScheduler(src drepo.ObservationSource, h ObservationHandler, store drepo.JobStore, ts *tickerSet, opts ...SchedulerOption) *TrackingScheduler {
	cfg := SchedulerConfig{FetchTimeout: 200 * time.Millisecond, FetchRetries: 1, RetryBackoff: time.Millisecond, MaxConcurrentFetches: 2}
	opts = append([]SchedulerOption{WithTickerFactory(ts.factory)}, opts...)
	return NewTrackingScheduler(src, h, store, nil, applogger.NewNop(), cfg, opts...)
}

func ticks(t *testing.T, s *TrackingScheduler, id string) func() bool {
	return func() bool {
		j, err := s.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		return j.Stats.Ticks >= 1
	}
}

func TestSchedulerFirstTickRunsImmediatelyInCompetitorOrder(t *testing.T) {
	h := &recordingHandler{}
	ts := &tickerSet{}
	s := newTestScheduler(priceSource(10), h, repository.NewMemoryStore(), ts)
	defer s.Shutdown(context.Background())

	id, err := s.Start(context.Background(), "sku-1", []string{"acme", "globex", "acme", " "}, 60)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "first tick", ticks(t, s, id))

	got := h.observations()
	if len(got) != 2 || got[0].Competitor != "acme" || got[1].Competitor != "globex" {
		t.Fatalf("unexpected observations %+v", got)
	}
	job, _ := s.Get(context.Background(), id)
	if job.Stats.Observations != 2 || job.State != models.JobRunning || job.Stats.LastSuccess == nil {
		t.Fatalf("unexpected job %+v", job)
	}

	ts.fire(0)
	waitFor(t, "second tick", func() bool { return len(h.observations()) == 4 })
}

func TestSchedulerRejectsDuplicateProduct(t *testing.T) {
	ts := &tickerSet{}
	s := newTestScheduler(priceSource(10), &recordingHandler{}, repository.NewMemoryStore(), ts)
	defer s.Shutdown(context.Background())

	var wins, dups atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Start(context.Background(), "sku-1", []string{"acme"}, 5)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, models.ErrDuplicateJob):
				dups.Add(1)
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 || dups.Load() != 15 {
		t.Fatalf("wins=%d dups=%d", wins.Load(), dups.Load())
	}
	jobs, _ := s.List(context.Background())
	running := 0
	for _, j := range jobs {
		if j.State == models.JobRunning {
			running++
		}
	}
	if running != 1 || len(jobs) != 1 {
		t.Fatalf("running jobs = %d of %d, want exactly 1", running, len(jobs))
	}
}

func TestSchedulerValidatesInput(t *testing.T) {
	s := newTestScheduler(priceSource(10), &recordingHandler{}, repository.NewMemoryStore(), &tickerSet{})
	defer s.Shutdown(context.Background())
	ctx := context.Background()

	if _, err := s.Start(ctx, "", []string{"a"}, 5); !errors.Is(err, models.ErrInvalidProduct) {
		t.Fatalf("empty product: %v", err)
	}
	if _, err := s.Start(ctx, "sku", []string{" "}, 5); !errors.Is(err, models.ErrNoCompetitors) {
		t.Fatalf("no competitors: %v", err)
	}
	if _, err := s.Start(ctx, "sku", []string{"a"}, 0); !errors.Is(err, models.ErrInvalidInterval) {
		t.Fatalf("zero interval: %v", err)
	}
}

func TestSchedulerStop(t *testing.T) {
	store := repository.NewMemoryStore()
	ts := &tickerSet{}
	s := newTestScheduler(priceSource(10), &recordingHandler{}, store, ts)
	defer s.Shutdown(context.Background())
	ctx := context.Background()

	if err := s.Stop(ctx, "missing"); !errors.Is(err, models.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}

	id, _ := s.Start(ctx, "sku-1", []string{"acme"}, 5)
	waitFor(t, "first tick", ticks(t, s, id))
	if err := s.Stop(ctx, id); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(ctx, id); err != nil {
		t.Fatalf("second Stop should be a no-op, got %v", err)
	}
	stored, _ := store.GetJob(ctx, id)
	if stored.State != models.JobStopped || stored.StoppedAt == nil {
		t.Fatalf("stored job = %+v", stored)
	}
	if _, ok := s.ActiveJob("sku-1"); ok {
		t.Fatalf("no active job expected after stop")
	}
	if _, err := s.Start(ctx, "sku-1", []string{"acme"}, 5); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
}

func TestSchedulerIsolatesCompetitorFailures(t *testing.T) {
	var calls atomic.Int32
	src := drepo.ObservationSourceFunc(func(ctx context.Context, productID, competitor string) (models.Observation, error) {
		if competitor == "flaky" {
			if calls.Add(1) == 1 {
				return models.Observation{}, models.ErrSourceUnavailable
			}
			return priceSource(11)(ctx, productID, competitor)
		}
		if competitor == "down" {
			return models.Observation{}, fmt.Errorf("dns: %w", models.ErrSourceUnavailable)
		}
		return priceSource(10)(ctx, productID, competitor)
	})
	h := &recordingHandler{}
	s := newTestScheduler(src, h, repository.NewMemoryStore(), &tickerSet{})
	defer s.Shutdown(context.Background())

	id, _ := s.Start(context.Background(), "sku-1", []string{"acme", "down", "flaky"}, 5)
	waitFor(t, "first tick", ticks(t, s, id))

	job, _ := s.Get(context.Background(), id)
	if job.Stats.Observations != 2 || job.Stats.Failures != 1 || job.Stats.LastError == "" {
		t.Fatalf("unexpected stats %+v", job.Stats)
	}
	if calls.Load() != 2 {
		t.Fatalf("flaky competitor should have been retried once, calls=%d", calls.Load())
	}
}

func TestSchedulerFetchTimeout(t *testing.T) {
	src := drepo.ObservationSourceFunc(func(ctx context.Context, _, _ string) (models.Observation, error) {
		<-ctx.Done()
		return models.Observation{}, ctx.Err()
	})
	s := newTestScheduler(src, &recordingHandler{}, repository.NewMemoryStore(), &tickerSet{})
	defer s.Shutdown(context.Background())

	id, _ := s.Start(context.Background(), "sku-1", []string{"slow"}, 5)
	waitFor(t, "timed out tick", ticks(t, s, id))
	job, _ := s.Get(context.Background(), id)
	if job.Stats.Failures != 1 || job.Stats.Observations != 0 {
		t.Fatalf("unexpected stats %+v", job.Stats)
	}
}

func TestSchedulerSkipsOverlappingTicks(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	src := drepo.ObservationSourceFunc(func(ctx context.Context, productID, competitor string) (models.Observation, error) {
		calls.Add(1)
		<-release
		return priceSource(10)(ctx, productID, competitor)
	})
	ts := &tickerSet{}
	cfg := SchedulerConfig{FetchTimeout: 5 * time.Second, MaxConcurrentFetches: 1}
	s := NewTrackingScheduler(src, &recordingHandler{}, repository.NewMemoryStore(), nil, applogger.NewNop(), cfg, WithTickerFactory(ts.factory))
	defer s.Shutdown(context.Background())

	id, _ := s.Start(context.Background(), "sku-1", []string{"acme"}, 5)
	waitFor(t, "first fetch", func() bool { return calls.Load() == 1 })
	ts.fire(0)
	ts.fire(0)
	waitFor(t, "skipped ticks", func() bool {
		j, _ := s.Get(context.Background(), id)
		return j.Stats.SkippedTicks == 2
	})
	close(release)
	waitFor(t, "tick completion", ticks(t, s, id))

	job, _ := s.Get(context.Background(), id)
	if job.Stats.SkippedTicks != 2 || calls.Load() != 1 {
		t.Fatalf("skipped=%d calls=%d", job.Stats.SkippedTicks, calls.Load())
	}
}

func TestSchedulerRestore(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	_ = store.SaveJob(ctx, models.TrackingJob{ID: "j1", ProductID: "sku-1", Competitors: []string{"acme"}, IntervalMinutes: 5, State: models.JobIdle, CreatedAt: now})
	_ = store.SaveJob(ctx, models.TrackingJob{ID: "j2", ProductID: "sku-2", Competitors: []string{"acme"}, IntervalMinutes: 5, State: models.JobStopped, CreatedAt: now})

	h := &recordingHandler{}
	s := newTestScheduler(priceSource(10), h, store, &tickerSet{})
	defer s.Shutdown(context.Background())

	n, err := s.Restore(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Restore = %d, %v", n, err)
	}
	if job, ok := s.ActiveJob("sku-1"); !ok || job.ID != "j1" || job.State != models.JobRunning {
		t.Fatalf("j1 should be running, got %+v", job)
	}
	if _, ok := s.ActiveJob("sku-2"); ok {
		t.Fatalf("stopped job must not be restored")
	}
	waitFor(t, "restored tick", func() bool { return len(h.observations()) == 1 })
}

func TestSchedulerDistributedLock(t *testing.T) {
	locks := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	defer locks.Close()
	store := repository.NewMemoryStore()

	a := newTestScheduler(priceSource(10), &recordingHandler{}, store, &tickerSet{}, WithLocker(locks))
	b := newTestScheduler(priceSource(10), &recordingHandler{}, store, &tickerSet{}, WithLocker(locks))
	defer a.Shutdown(context.Background())
	defer b.Shutdown(context.Background())

	id, err := a.Start(context.Background(), "sku-1", []string{"acme"}, 5)
	if err != nil {
		t.Fatalf("a.Start: %v", err)
	}
	if _, err := b.Start(context.Background(), "sku-1", []string{"acme"}, 5); !errors.Is(err, models.ErrDuplicateJob) {
		t.Fatalf("second replica should see duplicate, got %v", err)
	}
	_ = a.Stop(context.Background(), id)
	if _, err := b.Start(context.Background(), "sku-1", []string{"acme"}, 5); err != nil {
		t.Fatalf("lock should be released after stop: %v", err)
	}
}

func TestSchedulerShutdownRejectsStart(t *testing.T) {
	s := newTestScheduler(priceSource(10), &recordingHandler{}, repository.NewMemoryStore(), &tickerSet{})
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := s.Start(context.Background(), "sku-1", []string{"acme"}, 5); !errors.Is(err, ErrSchedulerClosed) {
		t.Fatalf("expected ErrSchedulerClosed, got %v", err)
	}
}

func TestSchedulerJobStaysRunningBetweenTicks(t *testing.T) {
	store := repository.NewMemoryStore()
	ts := &tickerSet{}
	s := newTestScheduler(priceSource(10), &recordingHandler{}, store, ts)
	defer s.Shutdown(context.Background())
	ctx := context.Background()

	id, err := s.Start(ctx, "sku-1", []string{"acme"}, 5)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "first tick", ticks(t, s, id))
	ts.fire(0)
	waitFor(t, "second tick", func() bool {
		j, _ := s.Get(ctx, id)
		return j.Stats.Ticks >= 2
	})

	live, _ := s.Get(ctx, id)
	stored, _ := store.GetJob(ctx, id)
	if live.State != models.JobRunning || stored.State != models.JobRunning {
		t.Fatalf("live=%s stored=%s, want Running between ticks", live.State, stored.State)
	}
}

// blockingJobStore holds the first save of a job that has ticked until release is closed.
type blockingJobStore struct {
	*repository.MemoryStore
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (b *blockingJobStore) SaveJob(ctx context.Context, job models.TrackingJob) error {
	if job.Stats.Ticks > 0 && b.armed.CompareAndSwap(true, false) {
		close(b.entered)
		<-b.release
	}
	return b.MemoryStore.SaveJob(ctx, job)
}

func TestSchedulerStopWinsOverInFlightTickSave(t *testing.T) {
	store := &blockingJobStore{
		MemoryStore: repository.NewMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	store.armed.Store(true)
	s := newTestScheduler(priceSource(10), &recordingHandler{}, store, &tickerSet{})
	defer s.Shutdown(context.Background())
	ctx := context.Background()

	id, err := s.Start(ctx, "sku-1", []string{"acme"}, 5)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-store.entered

	stopErr := make(chan error, 1)
	go func() { stopErr <- s.Stop(ctx, id) }()
	waitFor(t, "stop to detach the job", func() bool {
		_, ok := s.ActiveJob("sku-1")
		return !ok
	})
	time.Sleep(20 * time.Millisecond)
	close(store.release)
	if err := <-stopErr; err != nil {
		t.Fatalf("Stop: %v", err)
	}

	stored, _ := store.GetJob(ctx, id)
	got, _ := s.Get(ctx, id)
	if stored.State != models.JobStopped || got.State != models.JobStopped {
		t.Fatalf("stored=%s get=%s, want Stopped", stored.State, got.State)
	}

	next := newTestScheduler(priceSource(10), &recordingHandler{}, store, &tickerSet{})
	defer next.Shutdown(context.Background())
	if n, err := next.Restore(ctx); err != nil || n != 0 {
		t.Fatalf("Restore = %d, %v; a stopped job must stay stopped", n, err)
	}
}
