package di

import (
	"context"
	"fmt"
	"time"

	"PricePulse/internal/domain/repository"
	"PricePulse/internal/handler/api"
	mid "PricePulse/internal/middleware"
	internalrepo "PricePulse/internal/repository"
	"PricePulse/internal/service/pricefeed"
	"PricePulse/internal/service/ratelimit"
	"PricePulse/internal/service/source"
	"PricePulse/internal/services/detector"
	"PricePulse/internal/services/market"
	"PricePulse/internal/services/portfolio"
	"PricePulse/internal/services/pricing"
	"PricePulse/internal/usecase"
	"PricePulse/pkg/cache"
	pkgch "PricePulse/pkg/clickhouse"
	"PricePulse/pkg/config"
	xhttp "PricePulse/pkg/http"
	pkgkafka "PricePulse/pkg/kafka"
	applogger "PricePulse/pkg/logger"
	"PricePulse/pkg/metrics"
	"PricePulse/pkg/queue"
	"PricePulse/pkg/server"
	"PricePulse/pkg/sqldb"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

const initTimeout = 15 * time.Second

// ProvideLogger builds the application logger. Error logs are shipped to Kafka
// when the collector is enabled and a producer exists.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Log.Collector.Enabled && producer != nil {
		l.AddCollector(applogger.CollectionConfig{
			Interval:  cfg.Log.Collector.Interval,
			Threshold: cfg.Log.Collector.Threshold,
			Topic:     cfg.Kafka.LogsTopic,
			Publisher: producer,
		})
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideKafkaProducer returns nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(100, 50*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideRedisClient returns nil when Redis is disabled.
func ProvideRedisClient(cfg *config.Config) (redis.UniversalClient, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	client, err := cache.NewRedisClient(ctx, cfg.Redis.Addr,
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return client, nil
}

// ProvideCache layers a local LRU over Redis when Redis is enabled.
func ProvideCache(cfg *config.Config, client redis.UniversalClient) cache.Service {
	local := cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Cache.MaxSize))
	if client == nil {
		return local
	}
	l1TTL := cfg.Cache.IntelligenceTTL / 4
	return cache.NewLayeredCache(local, cache.NewRedisCache(client, cfg.Redis.KeyPrefix+":cache"), l1TTL)
}

// ProvideStore opens the configured backend and creates its schema.
func ProvideStore(cfg *config.Config, l *applogger.Logger) (repository.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	var store repository.Store
	switch cfg.Storage.Type {
	case "sql":
		s, err := openSQLStore(ctx, cfg, l)
		if err != nil {
			return nil, err
		}
		store = s
	case "clickhouse":
		client, err := pkgch.NewClient(ctx,
			pkgch.WithHost(cfg.ClickHouse.Host),
			pkgch.WithPort(cfg.ClickHouse.Port),
			pkgch.WithDatabase(cfg.ClickHouse.Database),
			pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
			pkgch.WithMaxConnections(cfg.ClickHouse.MaxConnections),
			pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
			pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert),
			pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
			pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		)
		if err != nil {
			return nil, fmt.Errorf("clickhouse client: %w", err)
		}
		// catalog and jobs stay relational; only the series go to ClickHouse
		var meta repository.Store = internalrepo.NewMemoryStore()
		if cfg.Storage.DSN != "" {
			s, err := openSQLStore(ctx, cfg, l)
			if err != nil {
				_ = client.Close()
				return nil, err
			}
			meta = s
		}
		store = internalrepo.NewCompositeStore(meta, internalrepo.NewClickHouseStore(client, l))
	default:
		store = internalrepo.NewMemoryStore()
	}

	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init %s store: %w", cfg.Storage.Type, err)
	}
	l.Info("store ready", applogger.String("type", cfg.Storage.Type))
	return store, nil
}

func openSQLStore(ctx context.Context, cfg *config.Config, l *applogger.Logger) (*internalrepo.SQLStore, error) {
	db, err := sqldb.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN,
		sqldb.WithPool(cfg.Storage.MaxOpenConns, cfg.Storage.MaxIdleConns, cfg.Storage.ConnLifetime))
	if err != nil {
		return nil, fmt.Errorf("sql store: %w", err)
	}
	return internalrepo.NewSQLStore(db, l), nil
}

// ProvideObservationSource selects the competitor price source.
func ProvideObservationSource(cfg *config.Config) repository.ObservationSource {
	switch cfg.Source.Type {
	case "http":
		client := xhttp.NewClient(
			xhttp.WithTimeout(cfg.Source.Timeout),
			xhttp.WithRetry(cfg.Source.Retries, 200*time.Millisecond),
			xhttp.WithHeader("User-Agent", cfg.Source.UserAgent),
		)
		return source.NewHTTPSource(client, source.NewURLResolver(cfg.Source.BaseURL, cfg.Source.Competitors))
	case "html":
		return source.NewHTMLSource(
			source.NewURLResolver(cfg.Source.BaseURL, cfg.Source.Competitors),
			cfg.Source.Timeout, cfg.Source.Retries, cfg.Source.UserAgent,
			source.WithSelectors(cfg.Source.PriceSelector, cfg.Source.AvailabilitySelector),
		)
	default:
		return source.NewStaticSource(cfg.Source.Seed)
	}
}

// ProvideAlertPublisher publishes alerts to Kafka, or drops them when Kafka is off.
func ProvideAlertPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.AlertPublisher {
	if producer == nil {
		return internalrepo.NopAlertPublisher{}
	}
	return internalrepo.NewKafkaAlertPublisher(producer, cfg.Kafka.AlertsTopic)
}

func ProvideAnalyzer(cfg *config.Config) *market.Analyzer {
	return market.NewAnalyzer(
		market.WithMinSamples(cfg.Engine.MinSamples),
		market.WithFlatSlope(cfg.Engine.FlatSlopeThreshold),
	)
}

func ProvideEngine(cfg *config.Config) *pricing.Engine {
	return pricing.NewEngine(
		pricing.WithMinimumMargin(cfg.Engine.MinimumMargin),
		pricing.WithHistoricalMargin(cfg.Engine.HistoricalMargin),
		pricing.WithHeadroom(cfg.Engine.HeadroomThreshold),
		pricing.WithMarketTolerance(cfg.Engine.MarketTolerance),
		pricing.WithStaleAfter(cfg.Engine.StaleAfter),
		pricing.WithHighConfidenceCompetitors(cfg.Engine.HighConfidenceCompetitors),
	)
}

// IntelligenceDeps bundles the pure analysis components.
type IntelligenceDeps struct {
	Analyzer   *market.Analyzer
	Engine     *pricing.Engine
	Aggregator *portfolio.Aggregator
}

func ProvideIntelligenceDeps(analyzer *market.Analyzer, engine *pricing.Engine) IntelligenceDeps {
	return IntelligenceDeps{Analyzer: analyzer, Engine: engine, Aggregator: portfolio.NewAggregator()}
}

// ProvideIntelligenceService answers product and portfolio queries.
func ProvideIntelligenceService(
	cfg *config.Config,
	store repository.Store,
	deps IntelligenceDeps,
	c cache.Service,
	scheduler *usecase.TrackingScheduler,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.IntelligenceService {
	icfg := usecase.IntelligenceConfig{
		Window:      cfg.Engine.Window,
		CacheTTL:    cfg.Cache.IntelligenceTTL,
		Concurrency: cfg.Engine.PortfolioConcurrency,
		TopN:        cfg.Engine.TopN,
	}
	return usecase.NewIntelligenceService(store, deps.Analyzer, deps.Engine, deps.Aggregator, m, l, icfg,
		usecase.WithIntelligenceCache(c),
		usecase.WithJobLookup(scheduler),
	)
}

// ProvideRefreshQueue runs intelligence refresh jobs on Redis when available,
// otherwise in process. It returns nil when the queue is disabled.
func ProvideRefreshQueue(
	cfg *config.Config,
	client redis.UniversalClient,
	intel *usecase.IntelligenceService,
	l *applogger.Logger,
) queue.Queue {
	if !cfg.Queue.Enabled {
		return nil
	}
	qcfg := queue.Config{Workers: cfg.Queue.Workers, RetryLimit: cfg.Queue.MaxRetries}
	job := usecase.NewRefreshJob(intel, l)
	if client == nil {
		return queue.NewMemoryQueue(l, qcfg, job)
	}
	return queue.NewRedisQueue(l, qcfg, client, []queue.Job{job},
		queue.WithKeyPrefix(cfg.Redis.KeyPrefix+":queue:"+cfg.Queue.Name))
}

// ProvideObservationProcessor creates the shared observation sink. The refresh
// queue is attached later by ProvideApp because it depends on the intelligence
// service, which depends on the scheduler, which depends on this processor.
func ProvideObservationProcessor(
	store repository.Store,
	publisher repository.AlertPublisher,
	c cache.Service,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.ObservationProcessor {
	return usecase.NewObservationProcessor(store, detector.New(), m, l,
		usecase.WithAlertPublisher(publisher),
		usecase.WithCacheInvalidation(c),
	)
}

func ProvideScheduler(
	cfg *config.Config,
	src repository.ObservationSource,
	processor *usecase.ObservationProcessor,
	store repository.Store,
	c cache.Service,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.TrackingScheduler {
	scfg := usecase.SchedulerConfig{
		FetchTimeout:         cfg.Tracking.FetchTimeout,
		FetchRetries:         cfg.Tracking.FetchRetries,
		RetryBackoff:         cfg.Tracking.RetryBackoff,
		MaxConcurrentFetches: cfg.Tracking.MaxConcurrentFetches,
		LockTTL:              cfg.Tracking.LockTTL,
	}
	return usecase.NewTrackingScheduler(src, processor, store, m, l, scfg, usecase.WithLocker(c))
}

// ProvideKafkaConsumer returns nil unless Kafka and its consumer are enabled.
func ProvideKafkaConsumer(
	cfg *config.Config,
	processor *usecase.ObservationProcessor,
	m repository.Metrics,
	l *applogger.Logger,
) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerLogger(l),
		pkgkafka.WithConsumerHook(pkgkafka.HookFuncs{
			DeadLetter: func(_ context.Context, km kafkago.Message, err error) {
				m.RecordError("consumer_dead_letter")
				l.Warn("observation dead-lettered", applogger.String("key", string(km.Key)), applogger.Error(err))
			},
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.RegisterHandler(usecase.NewKafkaObservationsHandler(cfg.Kafka.ObservationsTopic, processor, m))
	return consumer, nil
}

// ProvideFeedCollector returns nil when the live feed is disabled. With a
// Kafka consumer running, feed observations are forwarded to the observations
// topic so every replica shares processing; otherwise they go straight to the processor.
func ProvideFeedCollector(
	cfg *config.Config,
	processor *usecase.ObservationProcessor,
	producer *pkgkafka.Producer,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.FeedCollector {
	if !cfg.Feed.Enabled {
		return nil
	}
	var sink mid.Sink = processor
	if producer != nil && cfg.Kafka.Consumer.Enabled {
		sink = usecase.NewStreamForwarder(internalrepo.NewKafkaObservationPublisher(producer, cfg.Kafka.ObservationsTopic))
	}
	pipe := mid.NewRealtimePipeline(sink, m,
		mid.WithMaxRPS(cfg.Feed.MaxRPS),
		mid.WithBufferSize(cfg.Feed.BufferSize),
	)
	feed := pricefeed.New(cfg.Feed.URL, l,
		pricefeed.WithIntervals(cfg.Feed.ReconnectDelay, cfg.Feed.PingInterval),
		pricefeed.WithBufferSize(cfg.Feed.BufferSize),
	)
	return usecase.NewFeedCollector(feed, pipe, m, l)
}

func ProvideHTTPHandler(
	cfg *config.Config,
	scheduler *usecase.TrackingScheduler,
	intel *usecase.IntelligenceService,
	store repository.Store,
	l *applogger.Logger,
) xhttp.Handler {
	limiter := ratelimit.New(cfg.Server.RateLimit.Capacity, cfg.Server.RateLimit.RefillPerSec)
	return api.NewPricingHandler(scheduler, intel, store, limiter, l)
}

func ProvideHTTPServer(cfg *config.Config, handler xhttp.Handler, l *applogger.Logger) *xhttp.Server {
	return xhttp.NewServer(handler, l,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
	)
}

// ProvideApp assembles the lifecycle and attaches the refresh queue to the processor.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	store repository.Store,
	processor *usecase.ObservationProcessor,
	scheduler *usecase.TrackingScheduler,
	refresh queue.Queue,
	collector *usecase.FeedCollector,
	consumer *pkgkafka.Consumer,
	httpServer *xhttp.Server,
	producer *pkgkafka.Producer,
	c cache.Service,
	redisClient redis.UniversalClient,
) *server.App {
	if refresh != nil {
		processor.SetRefreshQueue(refresh)
	}
	return server.New(cfg, l, server.Components{
		Store:     store,
		Scheduler: scheduler,
		Queue:     refresh,
		Collector: collector,
		Consumer:  consumer,
		HTTP:      httpServer,
		Producer:  producer,
		Cache:     c,
		Redis:     redisClient,
	})
}
