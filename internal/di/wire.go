//go:build wireinject
// +build wireinject

package di

import (
	"PricePulse/pkg/config"
	"PricePulse/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideRedisClient,
		ProvideLogger,
		ProvideMetrics,
		ProvideCache,
		ProvideStore,

		// Sources and publishers
		ProvideObservationSource,
		ProvideAlertPublisher,

		// Analysis
		ProvideAnalyzer,
		ProvideEngine,
		ProvideIntelligenceDeps,

		// Use cases
		ProvideObservationProcessor,
		ProvideScheduler,
		ProvideIntelligenceService,
		ProvideRefreshQueue,
		ProvideKafkaConsumer,
		ProvideFeedCollector,

		// HTTP
		ProvideHTTPHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
