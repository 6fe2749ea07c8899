package usecase

import (
	"context"

	"PricePulse/internal/domain/models"
)

// ObservationPublisher ships observations to the shared stream.
type ObservationPublisher interface {
	PublishObservations(ctx context.Context, obs []*models.Observation) error
}

// StreamForwarder is a pipeline sink that hands feed observations to Kafka so
// every replica's consumer shares the processing load.
type StreamForwarder struct {
	pub ObservationPublisher
}

func NewStreamForwarder(pub ObservationPublisher) *StreamForwarder {
	return &StreamForwarder{pub: pub}
}

func (f *StreamForwarder) Process(ctx context.Context, o *models.Observation) error {
	return f.pub.PublishObservations(ctx, []*models.Observation{o})
}
