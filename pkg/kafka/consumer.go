package kafka

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	applogger "PricePulse/pkg/logger"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(ctx context.Context, payload []byte) error
}

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads registered topics and fans messages out to workers. Messages
// with the same key always land on the same worker, so per-key order holds.
type Consumer struct {
	cfg       *ConsumerConfig
	log       *applogger.Logger
	hook      ConsumerHook
	handlers  map[string]MessageHandler
	readers   map[string]messageReader
	newReader func(topic string) messageReader
	dlq       messageWriter

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:     "pricepulse",
		WorkerCount: 1,
		RetryMax:    3,
		BackoffMin:  50 * time.Millisecond,
		BackoffMax:  2 * time.Second,
		MinBytes:    1,
		MaxBytes:    10e6,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}

	c := newConsumer(cfg, func(topic string) messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    topic,
			GroupID:  cfg.GroupID,
			MinBytes: cfg.MinBytes,
			MaxBytes: cfg.MaxBytes,
		})
	})
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Topic: cfg.DLQTopic, Balancer: &kafka.Hash{}}
	}
	return c, nil
}

func newConsumer(cfg *ConsumerConfig, newReader func(string) messageReader) *Consumer {
	c := &Consumer{
		cfg:       cfg,
		log:       cfg.Logger,
		hook:      cfg.Hook,
		handlers:  make(map[string]MessageHandler),
		readers:   make(map[string]messageReader),
		newReader: newReader,
	}
	if c.log == nil {
		c.log = applogger.NewNop()
	}
	if c.hook == nil {
		c.hook = NoopHook{}
	}
	return c
}

// RegisterHandler must be called before Start.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	if _, ok := c.handlers[h.Topic()]; ok {
		c.log.Warn("kafka handler already registered", applogger.String("topic", h.Topic()))
		return
	}
	c.handlers[h.Topic()] = h
}

func (c *Consumer) Start(ctx context.Context) error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("no handlers registered")
	}
	ctx, c.cancel = context.WithCancel(ctx)

	for topic, h := range c.handlers {
		reader := c.newReader(topic)
		c.readers[topic] = reader

		queues := make([]chan kafka.Message, c.cfg.WorkerCount)
		for i := range queues {
			queues[i] = make(chan kafka.Message, 16)
			c.wg.Add(1)
			go c.work(ctx, reader, h, queues[i])
		}
		c.wg.Add(1)
		go c.fetch(ctx, topic, reader, queues)
	}
	c.log.Info("kafka consumer started",
		applogger.Int("topics", len(c.handlers)),
		applogger.Int("workers_per_topic", c.cfg.WorkerCount),
	)
	return nil
}

func (c *Consumer) fetch(ctx context.Context, topic string, reader messageReader, queues []chan kafka.Message) {
	defer c.wg.Done()
	defer func() {
		for _, q := range queues {
			close(q)
		}
	}()

	for {
		km, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("kafka fetch failed", applogger.String("topic", topic), applogger.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.BackoffMin):
			}
			continue
		}
		q := queues[shard(km.Key, len(queues))]
		select {
		case q <- km:
		case <-ctx.Done():
			return
		}
	}
}

func shard(key []byte, n int) int {
	if n <= 1 || len(key) == 0 {
		return 0
	}
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(n))
}

func (c *Consumer) work(ctx context.Context, reader messageReader, h MessageHandler, queue <-chan kafka.Message) {
	defer c.wg.Done()
	for km := range queue {
		c.process(ctx, reader, h, km)
	}
}

func (c *Consumer) process(ctx context.Context, reader messageReader, h MessageHandler, km kafka.Message) {
	hctx, km, err := c.hook.BeforeHandle(ctx, km)
	if err == nil {
		err = c.handleWithRetry(hctx, h, km.Value)
	}
	c.hook.AfterHandle(hctx, km, err)

	if err != nil {
		c.log.Error("kafka message failed",
			applogger.String("topic", km.Topic),
			applogger.Int("partition", km.Partition),
			applogger.Int64("offset", km.Offset),
			applogger.Error(err),
		)
		c.hook.OnDeadLetter(hctx, km, err)
		c.deadLetter(ctx, km, err)
	}
	if cerr := reader.CommitMessages(context.Background(), km); cerr != nil {
		c.log.Warn("kafka commit failed", applogger.String("topic", km.Topic), applogger.Error(cerr))
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, h MessageHandler, payload []byte) error {
	var err error
	for attempt := 0; attempt <= c.cfg.RetryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffWithJitter(attempt, c.cfg.BackoffMin, c.cfg.BackoffMax)):
			}
		}
		if err = h.Handle(ctx, payload); err == nil {
			return nil
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			return err
		}
	}
	return err
}

func (c *Consumer) deadLetter(ctx context.Context, km kafka.Message, cause error) {
	if c.dlq == nil {
		return
	}
	msg := kafka.Message{
		Key:   km.Key,
		Value: km.Value,
		Headers: append(km.Headers,
			kafka.Header{Key: "x-error", Value: []byte(cause.Error())},
			kafka.Header{Key: "x-source-topic", Value: []byte(km.Topic)},
		),
	}
	if err := c.dlq.WriteMessages(ctx, msg); err != nil {
		c.log.Error("kafka dlq write failed", applogger.String("topic", km.Topic), applogger.Error(err))
	}
}

func backoffWithJitter(attempt int, min, max time.Duration) time.Duration {
	d := min << uint(attempt-1)
	if d <= 0 || d > max {
		d = max
	}
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// Stop cancels reading and waits for in-flight messages.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			stopErr = fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
		}
		for topic, r := range c.readers {
			if err := r.Close(); err != nil {
				c.log.Warn("kafka reader close failed", applogger.String("topic", topic), applogger.Error(err))
			}
		}
		if c.dlq != nil {
			_ = c.dlq.Close()
		}
	})
	return stopErr
}
