package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"PricePulse/internal/domain/models"
	domrepo "PricePulse/internal/domain/repository"
	pkgkafka "PricePulse/pkg/kafka"
)

// KafkaObservationsHandler consumes observations produced by feeds or external scrapers.
type KafkaObservationsHandler struct {
	topic     string
	processor ObservationHandler
	metrics   domrepo.Metrics
}

func NewKafkaObservationsHandler(topic string, processor ObservationHandler, metrics domrepo.Metrics) *KafkaObservationsHandler {
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	return &KafkaObservationsHandler{topic: topic, processor: processor, metrics: metrics}
}

var _ pkgkafka.MessageHandler = (*KafkaObservationsHandler)(nil)

func (h *KafkaObservationsHandler) Topic() string { return h.topic }

// Handle rejects undecodable or invalid payloads as permanent so they go to the DLQ without retries.
func (h *KafkaObservationsHandler) Handle(ctx context.Context, b []byte) error {
	var o models.Observation
	if err := json.Unmarshal(b, &o); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return pkgkafka.Permanent(err)
	}
	if err := o.Validate(); err != nil {
		h.metrics.RecordError("consumer_validate")
		return pkgkafka.Permanent(err)
	}
	h.metrics.RecordLatency("ingest_e2e", time.Since(o.Timestamp).Seconds())

	_, err := h.processor.ProcessObservation(ctx, o)
	if err != nil && models.IsInvalidInput(err) {
		return pkgkafka.Permanent(err)
	}
	if err != nil && errors.Is(err, context.Canceled) {
		return err
	}
	if err != nil {
		h.metrics.RecordError("consumer_process")
	}
	return err
}
