package server

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"PricePulse/internal/domain/repository"
	"PricePulse/internal/usecase"
	"PricePulse/pkg/cache"
	"PricePulse/pkg/config"
	xhttp "PricePulse/pkg/http"
	pkgkafka "PricePulse/pkg/kafka"
	applogger "PricePulse/pkg/logger"
	"PricePulse/pkg/queue"

	"github.com/redis/go-redis/v9"
)

// Components are the long-lived parts App starts and stops. Optional parts are nil when disabled.
type Components struct {
	Store     repository.Store
	Scheduler *usecase.TrackingScheduler
	Queue     queue.Queue
	Collector *usecase.FeedCollector
	Consumer  *pkgkafka.Consumer
	HTTP      *xhttp.Server
	Producer  *pkgkafka.Producer
	Cache     cache.Service
	Redis     redis.UniversalClient
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg *config.Config
	log *applogger.Logger
	c   Components
}

func New(cfg *config.Config, log *applogger.Logger, c Components) *App {
	return &App{cfg: cfg, log: log, c: c}
}

// Run starts every component and blocks until ctx is cancelled or the process
// receives SIGINT/SIGTERM, then shuts down in reverse order.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.start(ctx); err != nil {
		a.log.Error("startup failed", applogger.Error(err))
		return errors.Join(err, a.shutdown())
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	return a.shutdown()
}

func (a *App) start(ctx context.Context) error {
	if a.c.Queue != nil {
		if err := a.c.Queue.Start(); err != nil {
			return fmt.Errorf("refresh queue: %w", err)
		}
	}

	if a.cfg.Tracking.RestoreOnStart {
		n, err := a.c.Scheduler.Restore(ctx)
		if err != nil {
			return fmt.Errorf("restore tracking jobs: %w", err)
		}
		a.log.Info("tracking jobs restored", applogger.Int("count", n))
	}

	if a.c.Consumer != nil {
		if err := a.c.Consumer.Start(ctx); err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		a.log.Info("kafka consumer started", applogger.String("topic", a.cfg.Kafka.ObservationsTopic))
	}

	if a.c.Collector != nil {
		// feed failures are logged, not fatal
		if err := a.c.Collector.Start(ctx); err != nil {
			a.log.Error("price feed unavailable", applogger.String("url", a.cfg.Feed.URL), applogger.Error(err))
			a.c.Collector = nil
		}
	}

	return a.c.HTTP.Start()
}

// shutdown stops intake first, then workers, then infrastructure clients.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	step := func(name string, err error) {
		if err != nil {
			a.log.Warn(name+" stop error", applogger.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if a.c.HTTP != nil {
		step("http", a.c.HTTP.Stop(ctx))
	}
	if a.c.Collector != nil {
		step("feed collector", a.c.Collector.Shutdown(ctx))
	}
	if a.c.Consumer != nil {
		step("kafka consumer", a.c.Consumer.Stop(ctx))
	}
	step("scheduler", a.c.Scheduler.Shutdown(ctx))
	if a.c.Queue != nil {
		step("refresh queue", a.c.Queue.Stop(ctx))
	}
	a.log.RemoveCollector()
	if a.c.Producer != nil {
		step("kafka producer", a.c.Producer.Close())
	}
	if a.c.Cache != nil {
		step("cache", a.c.Cache.Close())
	}
	if a.c.Redis != nil {
		step("redis", a.c.Redis.Close())
	}
	step("store", a.c.Store.Close())

	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}
