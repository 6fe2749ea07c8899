package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"PricePulse/internal/domain/models"
	drepo "PricePulse/internal/domain/repository"
	"PricePulse/pkg/cache"
	applogger "PricePulse/pkg/logger"

	"github.com/google/uuid"
)

var ErrSchedulerClosed = errors.New("scheduler is shut down")

// Ticker is the timer abstraction job loops run on.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type TickerFactory func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func NewRealTicker(d time.Duration) Ticker { return realTicker{t: time.NewTicker(d)} }

// Locker guards the one-active-job-per-product rule across replicas.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// ObservationHandler consumes what a tick fetched.
type ObservationHandler interface {
	ProcessObservation(ctx context.Context, o models.Observation) (*models.PriceAlert, error)
}

type SchedulerConfig struct {
	FetchTimeout         time.Duration
	FetchRetries         int
	RetryBackoff         time.Duration
	MaxConcurrentFetches int
	LockTTL              time.Duration
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		FetchTimeout:         10 * time.Second,
		FetchRetries:         2,
		RetryBackoff:         500 * time.Millisecond,
		MaxConcurrentFetches: 4,
		LockTTL:              24 * time.Hour,
	}
}

// TrackingScheduler owns one timer loop per tracked product.
type TrackingScheduler struct {
	source    drepo.ObservationSource
	handler   ObservationHandler
	store     drepo.JobStore
	metrics   drepo.Metrics
	l         *applogger.Logger
	cfg       SchedulerConfig
	locker    Locker
	newTicker TickerFactory
	newID     func() string
	now       func() time.Time

	// baseCtx outlives Stop so in-flight ticks can finish; Shutdown cancels it on timeout.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu        sync.Mutex
	jobs      map[string]*runningJob // active jobs by id
	byProduct map[string]string      // productID -> jobID, includes reservations
	closed    bool
	wg        sync.WaitGroup
}

// runningJob state only moves forward: Idle, Running, Stopped.
type runningJob struct {
	mu       sync.Mutex
	saveMu   sync.Mutex
	job      models.TrackingJob
	cancel   context.CancelFunc
	done     chan struct{}
	inFlight atomic.Bool
}

func (r *runningJob) snapshot() models.TrackingJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.job
	j.Competitors = append([]string(nil), r.job.Competitors...)
	return j
}

// persist writes the job's current state. Saves are serialized and each one
// snapshots under saveMu, so the last write carries the newest state and a
// Stopped job is never written back as Running.
func (s *TrackingScheduler) persist(ctx context.Context, rj *runningJob) error {
	rj.saveMu.Lock()
	defer rj.saveMu.Unlock()
	return s.store.SaveJob(ctx, rj.snapshot())
}

type SchedulerOption func(*TrackingScheduler)

func WithTickerFactory(f TickerFactory) SchedulerOption {
	return func(s *TrackingScheduler) { s.newTicker = f }
}

func WithLocker(l Locker) SchedulerOption {
	return func(s *TrackingScheduler) { s.locker = l }
}

func WithJobIDGenerator(fn func() string) SchedulerOption {
	return func(s *TrackingScheduler) { s.newID = fn }
}

func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *TrackingScheduler) { s.now = now }
}

func NewTrackingScheduler(
	source drepo.ObservationSource,
	handler ObservationHandler,
	store drepo.JobStore,
	metrics drepo.Metrics,
	l *applogger.Logger,
	cfg SchedulerConfig,
	opts ...SchedulerOption,
) *TrackingScheduler {
	def := DefaultSchedulerConfig()
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.MaxConcurrentFetches <= 0 {
		cfg.MaxConcurrentFetches = def.MaxConcurrentFetches
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.FetchRetries < 0 {
		cfg.FetchRetries = 0
	}
	if metrics == nil {
		metrics = drepo.NopMetrics{}
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &TrackingScheduler{
		source:     source,
		handler:    handler,
		store:      store,
		metrics:    metrics,
		l:          l,
		cfg:        cfg,
		newTicker:  NewRealTicker,
		newID:      uuid.NewString,
		now:        time.Now,
		baseCtx:    baseCtx,
		baseCancel: cancel,
		jobs:       make(map[string]*runningJob),
		byProduct:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins tracking productID. At most one active job may exist per product;
// a second request fails with models.ErrDuplicateJob.
func (s *TrackingScheduler) Start(ctx context.Context, productID string, competitors []string, intervalMinutes int) (string, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return "", fmt.Errorf("product id is required: %w", models.ErrInvalidProduct)
	}
	comps := normalizeCompetitors(competitors)
	if len(comps) == 0 {
		return "", models.ErrNoCompetitors
	}
	if intervalMinutes < 1 {
		return "", fmt.Errorf("interval %d minutes: %w", intervalMinutes, models.ErrInvalidInterval)
	}

	id := s.newID()
	if err := s.reserve(productID, id); err != nil {
		return "", err
	}
	if err := s.acquire(ctx, productID); err != nil {
		s.release(productID, id)
		return "", err
	}

	job := models.TrackingJob{
		ID:              id,
		ProductID:       productID,
		Competitors:     comps,
		Interval:        time.Duration(intervalMinutes) * time.Minute,
		IntervalMinutes: intervalMinutes,
		State:           models.JobIdle,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.SaveJob(ctx, job); err != nil {
		s.unlock(productID)
		s.release(productID, id)
		return "", fmt.Errorf("save job: %w", err)
	}
	if err := s.launch(ctx, job); err != nil {
		s.unlock(productID)
		s.release(productID, id)
		return "", err
	}
	s.l.Info("tracking started",
		applogger.String("job_id", id),
		applogger.String("product_id", productID),
		applogger.Strings("competitors", comps),
		applogger.Int("interval_minutes", intervalMinutes))
	return id, nil
}

func normalizeCompetitors(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// reserve claims productID for jobID inside this process.
func (s *TrackingScheduler) reserve(productID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}
	if existing, ok := s.byProduct[productID]; ok {
		return fmt.Errorf("product %s already tracked by job %s: %w", productID, existing, models.ErrDuplicateJob)
	}
	s.byProduct[productID] = jobID
	return nil
}

func (s *TrackingScheduler) release(productID, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byProduct[productID] == jobID {
		delete(s.byProduct, productID)
	}
	delete(s.jobs, jobID)
	s.metrics.SetActiveJobs(len(s.jobs))
}

func lockKey(productID string) string { return cache.Key("tracking", productID) }

// acquire takes the cross-replica lock when one is configured.
func (s *TrackingScheduler) acquire(ctx context.Context, productID string) error {
	if s.locker == nil {
		return nil
	}
	ok, err := s.locker.TryLock(ctx, lockKey(productID), s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("tracking lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("product %s tracked by another instance: %w", productID, models.ErrDuplicateJob)
	}
	return nil
}

func (s *TrackingScheduler) unlock(productID string) {
	if s.locker == nil {
		return
	}
	if err := s.locker.Unlock(context.Background(), lockKey(productID)); err != nil {
		s.l.Warn("tracking unlock failed", applogger.String("product_id", productID), applogger.Error(err))
	}
}

// launch registers the job as Running, persists that state and starts its loop.
func (s *TrackingScheduler) launch(ctx context.Context, job models.TrackingJob) error {
	loopCtx, cancel := context.WithCancel(s.baseCtx)
	job.State = models.JobRunning
	rj := &runningJob{job: job, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return ErrSchedulerClosed
	}
	s.jobs[job.ID] = rj
	s.byProduct[job.ProductID] = job.ID
	s.metrics.SetActiveJobs(len(s.jobs))
	s.wg.Add(1)
	s.mu.Unlock()

	if err := s.persist(ctx, rj); err != nil {
		s.l.Warn("persist running job failed", applogger.String("job_id", job.ID), applogger.Error(err))
	}
	go s.run(loopCtx, rj)
	return nil
}

// run ticks immediately, then on every interval. A tick still in flight when
// the next one is due causes that tick to be skipped, so ticks of one job never
// overlap and tick N+1 starts only after tick N is fully processed.
func (s *TrackingScheduler) run(ctx context.Context, rj *runningJob) {
	defer s.wg.Done()
	defer close(rj.done)

	ticker := s.newTicker(rj.snapshot().Interval)
	defer ticker.Stop()

	s.dispatch(rj)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.dispatch(rj)
		}
	}
}

func (s *TrackingScheduler) dispatch(rj *runningJob) {
	if !rj.inFlight.CompareAndSwap(false, true) {
		rj.mu.Lock()
		rj.job.Stats.SkippedTicks++
		rj.mu.Unlock()
		s.metrics.RecordTick(true)
		s.l.Debug("tick skipped, previous still running", applogger.String("job_id", rj.job.ID))
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer rj.inFlight.Store(false)
		s.tick(rj)
	}()
}

type fetchResult struct {
	competitor string
	obs        models.Observation
	err        error
}

func (s *TrackingScheduler) tick(rj *runningJob) {
	started := s.now().UTC()
	rj.mu.Lock()
	if rj.job.State == models.JobStopped {
		rj.mu.Unlock()
		return
	}
	jobID, productID := rj.job.ID, rj.job.ProductID
	competitors := append([]string(nil), rj.job.Competitors...)
	rj.mu.Unlock()

	results := make([]fetchResult, len(competitors))
	sem := make(chan struct{}, s.cfg.MaxConcurrentFetches)
	var wg sync.WaitGroup
	for i, c := range competitors {
		wg.Add(1)
		go func(i int, competitor string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			o, err := s.fetch(productID, competitor)
			results[i] = fetchResult{competitor: competitor, obs: o, err: err}
		}(i, c)
	}
	wg.Wait()

	var observed, failed int64
	var lastErr string
	for _, r := range results {
		if r.err != nil {
			failed++
			lastErr = fmt.Sprintf("%s: %v", r.competitor, r.err)
			s.metrics.RecordFetchError(r.competitor, failureReason(r.err))
			s.l.Warn("competitor fetch failed",
				applogger.String("job_id", jobID),
				applogger.String("product_id", productID),
				applogger.String("competitor", r.competitor),
				applogger.Error(r.err))
			continue
		}
		if _, err := s.handler.ProcessObservation(s.baseCtx, r.obs); err != nil {
			failed++
			lastErr = fmt.Sprintf("%s: %v", r.competitor, err)
			s.l.Error("process observation failed",
				applogger.String("job_id", jobID),
				applogger.String("competitor", r.competitor),
				applogger.Error(err))
			continue
		}
		observed++
	}

	finished := s.now().UTC()
	rj.mu.Lock()
	st := &rj.job.Stats
	st.Ticks++
	st.Observations += observed
	st.Failures += failed
	st.LastTickAt = &started
	if observed > 0 {
		st.LastSuccess = &finished
	}
	if lastErr != "" {
		st.LastError = lastErr
	} else {
		st.LastError = ""
	}
	rj.mu.Unlock()

	s.metrics.RecordTick(false)
	s.metrics.RecordLatency("tick", finished.Sub(started).Seconds())
	if err := s.persist(s.baseCtx, rj); err != nil {
		s.l.Warn("persist job stats failed", applogger.String("job_id", jobID), applogger.Error(err))
	}
}

// fetch calls the source with a per-attempt timeout and retries recoverable failures.
func (s *TrackingScheduler) fetch(productID, competitor string) (models.Observation, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.FetchRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-s.baseCtx.Done():
				return models.Observation{}, fmt.Errorf("%w: %v", models.ErrSourceTimeout, s.baseCtx.Err())
			case <-time.After(time.Duration(attempt) * s.cfg.RetryBackoff):
			}
		}
		ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.FetchTimeout)
		o, err := s.source.Fetch(ctx, productID, competitor)
		if err == nil && ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", models.ErrSourceTimeout, ctx.Err())
		}
		cancel()
		if err == nil {
			if o.ProductID == "" {
				o.ProductID = productID
			}
			if o.Competitor == "" {
				o.Competitor = competitor
			}
			if o.Timestamp.IsZero() {
				o.Timestamp = s.now().UTC()
			}
			if o.ProductID != productID || o.Competitor != competitor {
				return models.Observation{}, fmt.Errorf("source answered for %s: %w", o.Key(), models.ErrSourceUnavailable)
			}
			if verr := o.Validate(); verr != nil {
				return models.Observation{}, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, verr)
			}
			return o, nil
		}
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, models.ErrSourceTimeout) {
			err = fmt.Errorf("%w: %v", models.ErrSourceTimeout, err)
		}
		lastErr = err
		if !models.IsSourceFailure(err) {
			return models.Observation{}, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
		}
	}
	return models.Observation{}, lastErr
}

func failureReason(err error) string {
	if errors.Is(err, models.ErrSourceTimeout) {
		return "timeout"
	}
	return "unavailable"
}

// Stop cancels the job's timer. An in-flight tick finishes and is processed, but
// no further ticks run. Stopping an already stopped job is a no-op.
func (s *TrackingScheduler) Stop(ctx context.Context, jobID string) error {
	s.mu.Lock()
	rj, ok := s.jobs[jobID]
	if ok {
		delete(s.jobs, jobID)
		if s.byProduct[rj.job.ProductID] == jobID {
			delete(s.byProduct, rj.job.ProductID)
		}
		s.metrics.SetActiveJobs(len(s.jobs))
	}
	s.mu.Unlock()

	if !ok {
		job, err := s.store.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.State.Active() {
			// persisted as active but not running here; record the stop
			now := s.now().UTC()
			job.State = models.JobStopped
			job.StoppedAt = &now
			return s.store.SaveJob(ctx, job)
		}
		return nil
	}

	rj.cancel()
	now := s.now().UTC()
	rj.mu.Lock()
	rj.job.State = models.JobStopped
	rj.job.StoppedAt = &now
	productID := rj.job.ProductID
	rj.mu.Unlock()

	s.unlock(productID)
	if err := s.persist(ctx, rj); err != nil {
		return fmt.Errorf("save stopped job: %w", err)
	}
	s.l.Info("tracking stopped", applogger.String("job_id", jobID), applogger.String("product_id", productID))
	return nil
}

// Get returns live state for active jobs and stored state otherwise.
func (s *TrackingScheduler) Get(ctx context.Context, jobID string) (models.TrackingJob, error) {
	s.mu.Lock()
	rj, ok := s.jobs[jobID]
	s.mu.Unlock()
	if ok {
		return rj.snapshot(), nil
	}
	return s.store.GetJob(ctx, jobID)
}

func (s *TrackingScheduler) List(ctx context.Context) ([]models.TrackingJob, error) {
	stored, err := s.store.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	live := make(map[string]*runningJob, len(s.jobs))
	for id, rj := range s.jobs {
		live[id] = rj
	}
	s.mu.Unlock()
	for i, j := range stored {
		if rj, ok := live[j.ID]; ok {
			stored[i] = rj.snapshot()
		}
	}
	return stored, nil
}

// ActiveJob implements JobLookup.
func (s *TrackingScheduler) ActiveJob(productID string) (models.TrackingJob, bool) {
	s.mu.Lock()
	rj, ok := s.jobs[s.byProduct[productID]]
	s.mu.Unlock()
	if !ok {
		return models.TrackingJob{}, false
	}
	return rj.snapshot(), true
}

// Restore restarts persisted jobs that were active when the process stopped.
func (s *TrackingScheduler) Restore(ctx context.Context) (int, error) {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}
	restored := 0
	for _, job := range jobs {
		if !job.State.Active() {
			continue
		}
		if job.Interval <= 0 {
			job.Interval = time.Duration(job.IntervalMinutes) * time.Minute
		}
		err := s.reserve(job.ProductID, job.ID)
		if err == nil {
			if err = s.acquire(ctx, job.ProductID); err != nil {
				s.release(job.ProductID, job.ID)
			}
		}
		if err != nil {
			if errors.Is(err, ErrSchedulerClosed) {
				return restored, err
			}
			s.l.Warn("job not restored", applogger.String("job_id", job.ID), applogger.Error(err))
			continue
		}
		if err := s.launch(ctx, job); err != nil {
			s.unlock(job.ProductID)
			s.release(job.ProductID, job.ID)
			return restored, err
		}
		restored++
	}
	if restored > 0 {
		s.l.Info("tracking jobs restored", applogger.Int("count", restored))
	}
	return restored, nil
}

// Shutdown stops every loop and waits for in-flight ticks. Jobs keep their
// persisted active state so Restore picks them up on the next start.
func (s *TrackingScheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	running := make([]*runningJob, 0, len(s.jobs))
	for _, rj := range s.jobs {
		running = append(running, rj)
	}
	s.mu.Unlock()

	for _, rj := range running {
		rj.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		s.baseCancel()
		<-done
		err = fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
	s.baseCancel()
	for _, rj := range running {
		s.unlock(rj.snapshot().ProductID)
	}
	return err
}
