package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	for {
		r.mu.Lock()
		if len(r.pending) > 0 {
			m := r.pending[0]
			r.pending = r.pending[1:]
			r.mu.Unlock()
			return m, nil
		}
		r.mu.Unlock()
		select {
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) committedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type handlerFunc struct {
	topic string
	fn    func([]byte) error
}

func (h handlerFunc) Topic() string                            { return h.topic }
func (h handlerFunc) Handle(_ context.Context, b []byte) error { return h.fn(b) }

func TestProducerEncodesJSON(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "snappy")
	if err := p.Publish(context.Background(), "alerts", []byte("p1"), map[string]int{"n": 1}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(w.msgs) != 1 || w.msgs[0].Topic != "alerts" || string(w.msgs[0].Key) != "p1" {
		t.Fatalf("unexpected messages: %+v", w.msgs)
	}
	var decoded map[string]int
	if err := json.Unmarshal(w.msgs[0].Value, &decoded); err != nil || decoded["n"] != 1 {
		t.Fatalf("bad payload %s: %v", w.msgs[0].Value, err)
	}
}

func TestConsumerRetriesThenDeadLetters(t *testing.T) {
	reader := &fakeReader{pending: []kafka.Message{
		{Topic: "obs", Key: []byte("a"), Value: []byte("ok")},
		{Topic: "obs", Key: []byte("b"), Value: []byte("flaky")},
		{Topic: "obs", Key: []byte("c"), Value: []byte("bad")},
	}}
	dlq := &fakeWriter{}

	var mu sync.Mutex
	attempts := map[string]int{}
	h := handlerFunc{topic: "obs", fn: func(b []byte) error {
		mu.Lock()
		defer mu.Unlock()
		attempts[string(b)]++
		switch string(b) {
		case "flaky":
			if attempts["flaky"] < 2 {
				return errors.New("transient")
			}
		case "bad":
			return Permanent(errors.New("cannot decode"))
		}
		return nil
	}}

	cfg := &ConsumerConfig{WorkerCount: 2, RetryMax: 3, BackoffMin: time.Millisecond, BackoffMax: 2 * time.Millisecond}
	c := newConsumer(cfg, func(string) messageReader { return reader })
	c.dlq = dlq
	c.RegisterHandler(h)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for reader.committedCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if reader.committedCount() != 3 {
		t.Fatalf("committed = %d, want 3", reader.committedCount())
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts["flaky"] != 2 || attempts["bad"] != 1 {
		t.Fatalf("attempts = %v", attempts)
	}
	if len(dlq.msgs) != 1 || string(dlq.msgs[0].Value) != "bad" {
		t.Fatalf("dlq = %+v", dlq.msgs)
	}
}

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt < 10; attempt++ {
		d := backoffWithJitter(attempt, 10*time.Millisecond, 100*time.Millisecond)
		if d < 0 || d > 100*time.Millisecond {
			t.Fatalf("attempt %d: backoff %v out of range", attempt, d)
		}
	}
}
