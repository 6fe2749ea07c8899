package repository

import (
	"context"

	"PricePulse/internal/domain/models"
	domrepo "PricePulse/internal/domain/repository"
	pkgkafka "PricePulse/pkg/kafka"
)

// producer is the subset of *pkgkafka.Producer the publishers use.
type producer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// KafkaAlertPublisher emits alerts keyed by product so per-product ordering holds on one partition.
type KafkaAlertPublisher struct {
	producer producer
	topic    string
}

func NewKafkaAlertPublisher(p producer, topic string) *KafkaAlertPublisher {
	return &KafkaAlertPublisher{producer: p, topic: topic}
}

var _ domrepo.AlertPublisher = (*KafkaAlertPublisher)(nil)

func (p *KafkaAlertPublisher) PublishAlert(ctx context.Context, a models.PriceAlert) error {
	return p.producer.Publish(ctx, p.topic, []byte(a.ProductID), a)
}

func (p *KafkaAlertPublisher) Close() error { return p.producer.Close() }

// KafkaObservationPublisher forwards feed observations onto the observations topic.
type KafkaObservationPublisher struct {
	producer producer
	topic    string
}

func NewKafkaObservationPublisher(p producer, topic string) *KafkaObservationPublisher {
	return &KafkaObservationPublisher{producer: p, topic: topic}
}

func (p *KafkaObservationPublisher) PublishObservations(ctx context.Context, obs []*models.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, 0, len(obs))
	for _, o := range obs {
		if o == nil {
			continue
		}
		msgs = append(msgs, pkgkafka.Message{Key: []byte(o.Key().String()), Value: o})
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

// NopAlertPublisher is used when Kafka is disabled.
type NopAlertPublisher struct{}

func (NopAlertPublisher) PublishAlert(context.Context, models.PriceAlert) error { return nil }
func (NopAlertPublisher) Close() error                                          { return nil }
