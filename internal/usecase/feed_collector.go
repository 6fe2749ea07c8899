package usecase

import (
	"context"
	"time"

	"PricePulse/internal/domain/models"
	drepo "PricePulse/internal/domain/repository"
	mid "PricePulse/internal/middleware"
	applogger "PricePulse/pkg/logger"
)

// FeedCollector drains a push feed into the realtime pipeline and reconnects on failure.
type FeedCollector struct {
	feed    drepo.PriceFeed
	pipe    *mid.RealtimePipeline
	metrics drepo.Metrics
	l       *applogger.Logger
	backoff time.Duration
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewFeedCollector(feed drepo.PriceFeed, pipe *mid.RealtimePipeline, metrics drepo.Metrics, l *applogger.Logger) *FeedCollector {
	if metrics == nil {
		metrics = drepo.NopMetrics{}
	}
	return &FeedCollector{feed: feed, pipe: pipe, metrics: metrics, l: l, backoff: time.Second}
}

func (c *FeedCollector) IsConnected() bool { return c.feed.IsConnected() }

// Start connects and consumes in the background until ctx ends.
func (c *FeedCollector) Start(ctx context.Context) error {
	if err := c.feed.Connect(ctx); err != nil {
		return err
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.pipe.Start(ctx)
	c.done = make(chan struct{})
	go c.loop(ctx)
	return nil
}

func (c *FeedCollector) loop(ctx context.Context) {
	defer close(c.done)
	for {
		obs, errs := c.feed.Read(ctx)
		c.consume(ctx, obs, errs)
		if ctx.Err() != nil {
			return
		}
		c.metrics.RecordError("feed_stream")
		if !c.reconnect(ctx) {
			return
		}
	}
}

func (c *FeedCollector) consume(ctx context.Context, obs <-chan *models.Observation, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if ok && err != nil {
				c.l.Warn("price feed error", applogger.Error(err))
				return
			}
			if !ok {
				errs = nil
			}
		case o, ok := <-obs:
			if !ok {
				return
			}
			if err := c.pipe.Process(ctx, o); err != nil {
				c.l.Debug("feed observation not processed", applogger.Error(err))
			}
		}
	}
}

func (c *FeedCollector) reconnect(ctx context.Context) bool {
	delay := c.backoff
	for {
		err := c.feed.Reconnect(ctx)
		if err == nil {
			c.l.Info("price feed reconnected")
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		c.l.Warn("price feed reconnect failed", applogger.Error(err), applogger.Duration("retry_in", delay))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
}

// Shutdown stops the pipeline flusher and closes the feed.
func (c *FeedCollector) Shutdown(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
		select {
		case <-c.done:
		case <-ctx.Done():
		}
	}
	c.pipe.Stop()
	return c.feed.Close()
}
