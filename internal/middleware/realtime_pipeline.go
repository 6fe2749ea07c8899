package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"PricePulse/internal/domain/models"
	domrepo "PricePulse/internal/domain/repository"
)

// Sink receives observations that passed the pipeline.
type Sink interface {
	Process(ctx context.Context, o *models.Observation) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, o *models.Observation) error

func (f SinkFunc) Process(ctx context.Context, o *models.Observation) error { return f(ctx, o) }

// RealtimePipeline sits between push feeds and the observation processor.
// It validates, throttles per series, and buffers when downstream fails.
type RealtimePipeline struct {
	sink      Sink
	metrics   domrepo.Metrics
	maxRPS    int
	bufSize   int
	bufCh     chan *models.Observation
	transform func(*models.Observation) *models.Observation
	now       func() time.Time

	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
	done     chan struct{}
	lastSeen map[models.SeriesKey]time.Time
}

type PipelineOption func(*RealtimePipeline)

// WithMaxRPS caps accepted observations per second per (product, competitor).
func WithMaxRPS(n int) PipelineOption {
	return func(p *RealtimePipeline) { p.maxRPS = n }
}

// WithBufferSize sizes the retry buffer used while downstream is failing.
func WithBufferSize(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithTransform rewrites observations before validation, e.g. currency normalization.
func WithTransform(fn func(*models.Observation) *models.Observation) PipelineOption {
	return func(p *RealtimePipeline) { p.transform = fn }
}

func NewRealtimePipeline(sink Sink, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	p := &RealtimePipeline{
		sink:     sink,
		metrics:  metrics,
		maxRPS:   5,
		bufSize:  1000,
		now:      time.Now,
		lastSeen: make(map[models.SeriesKey]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.Observation, p.bufSize)
	return p
}

// Start launches the background flusher for buffered observations.
func (p *RealtimePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	go p.flush(ctx, p.stopCh, p.done)
}

func (p *RealtimePipeline) flush(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	const minBackoff, maxBackoff = 50 * time.Millisecond, 2 * time.Second
	backoff := minBackoff
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case o := <-p.bufCh:
			if err := p.sink.Process(ctx, o); err == nil {
				backoff = minBackoff
				continue
			}
			p.metrics.RecordError("pipeline_flush")
			select {
			case <-time.After(backoff):
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			select {
			case p.bufCh <- o:
			default:
				p.metrics.RecordError("pipeline_buffer_drop")
			}
		}
	}
}

// Stop halts the flusher and waits for it. Buffered observations are kept.
func (p *RealtimePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	done := p.done
	p.mu.Unlock()
	<-done
}

// Buffered reports how many observations are waiting for retry.
func (p *RealtimePipeline) Buffered() int { return len(p.bufCh) }

// Process validates, throttles and forwards one observation. Downstream failures
// are buffered and also returned.
func (p *RealtimePipeline) Process(ctx context.Context, o *models.Observation) error {
	start := p.now()
	if o == nil {
		p.metrics.RecordError("pipeline_validate")
		return fmt.Errorf("observation nil: %w", models.ErrInvalidObservation)
	}
	if p.transform != nil {
		o = p.transform(o)
	}
	if err := o.Validate(); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if !p.allow(o.Key(), start) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	if err := p.sink.Process(ctx, o); err != nil {
		p.metrics.RecordError("pipeline_process")
		select {
		case p.bufCh <- o:
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", p.now().Sub(start).Seconds())
	return nil
}

func (p *RealtimePipeline) allow(key models.SeriesKey, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last, ok := p.lastSeen[key]
	if ok && now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.lastSeen[key] = now
	return true
}
