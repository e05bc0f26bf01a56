package main

import (
	"context"
	"log"
	"os"
	"runtime/debug"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/repairhq/workshop/internal/server"
	"github.com/repairhq/workshop/modules"
	repairsoutbox "github.com/repairhq/workshop/modules/repairs/infrastructure/outbox"
	"github.com/repairhq/workshop/modules/repairs/services"
	"github.com/repairhq/workshop/pkg/application"
	"github.com/repairhq/workshop/pkg/composables"
	"github.com/repairhq/workshop/pkg/configuration"
	"github.com/repairhq/workshop/pkg/eventbus"
	"github.com/repairhq/workshop/pkg/logging"
	"github.com/repairhq/workshop/pkg/metrics"
	"github.com/repairhq/workshop/pkg/outbox"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			configuration.Use().Unload()
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	logger := conf.Logger()

	if conf.OpenTelemetry.Enabled {
		tracingCleanup := logging.SetupTracing(
			context.Background(),
			conf.OpenTelemetry.ServiceName,
			conf.OpenTelemetry.TempoURL,
		)
		defer tracingCleanup()
		logger.Info("OpenTelemetry tracing enabled, exporting to " + conf.OpenTelemetry.TempoURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		panic(err)
	}

	app := application.New(&application.ApplicationOptions{
		Pool:     pool,
		EventBus: eventbus.NewEventPublisher(logger),
	})
	if err := modules.Load(app, modules.BuiltInModules...); err != nil {
		log.Fatalf("failed to load modules: %v", err)
	}
	if err := app.Migrations().Apply(context.Background()); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}

	startOutboxBackground(conf, pool, logger, app.EventPublisher())
	startSweeper(conf, pool, logger, app)

	if conf.Prometheus.Enabled {
		app.RegisterControllers(metrics.NewPrometheusController(conf.Prometheus.Path))
	}

	serverInstance, err := server.Default(&server.DefaultOptions{
		Logger:        logger,
		Configuration: conf,
		Application:   app,
		Pool:          pool,
	})
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}
	log.Printf("Listening on: %s\n", conf.Origin)
	if err := serverInstance.Start(conf.SocketAddress); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}

func startOutboxBackground(
	conf *configuration.Configuration,
	pool *pgxpool.Pool,
	logger *logrus.Logger,
	bus eventbus.EventBus,
) {
	outboxLog := logger.WithField("component", "outbox")

	if conf.Outbox.RelayEnabled {
		eb, ok := bus.(eventbus.EventBusWithError)
		if !ok {
			outboxLog.Warn("outbox: eventbus does not support PublishE; relay not started")
		} else {
			relay, err := outbox.NewRelay(pool, outbox.DefaultTable, repairsoutbox.NewDispatcher(eb), outbox.RelayOptions{
				PollInterval:    conf.Outbox.RelayPollInterval,
				BatchSize:       conf.Outbox.RelayBatchSize,
				LockTTL:         conf.Outbox.RelayLockTTL,
				MaxAttempts:     conf.Outbox.RelayMaxAttempts,
				SingleActive:    conf.Outbox.RelaySingleActive,
				LastErrorMaxLen: conf.Outbox.LastErrorMaxBytes,
				DispatchTimeout: conf.Outbox.RelayDispatchTimeout,
				Logger:          outboxLog,
			})
			if err != nil {
				outboxLog.WithError(err).Warn("outbox: failed to create relay")
			} else {
				go func() {
					if err := relay.Run(context.Background()); err != nil {
						outboxLog.WithError(err).Error("outbox: relay stopped")
					}
				}()
			}
		}
	}

	if conf.Outbox.CleanerEnabled {
		cleaner, err := outbox.NewCleaner(pool, outbox.DefaultTable, outbox.CleanerOptions{
			Enabled:               true,
			Interval:              conf.Outbox.CleanerInterval,
			Retention:             conf.Outbox.CleanerRetention,
			DeadRetention:         conf.Outbox.CleanerDeadRetention,
			DeadAttemptsThreshold: conf.Outbox.RelayMaxAttempts,
			Logger:                outboxLog,
		})
		if err != nil {
			outboxLog.WithError(err).Warn("outbox: failed to create cleaner")
			return
		}
		go func() {
			if err := cleaner.Run(context.Background()); err != nil {
				outboxLog.WithError(err).Error("outbox: cleaner stopped")
			}
		}()
	}
}

func startSweeper(
	conf *configuration.Configuration,
	pool *pgxpool.Pool,
	logger *logrus.Logger,
	app application.Application,
) {
	if !conf.Scheduler.Enabled {
		logger.Info("sweep: scheduler disabled by configuration")
		return
	}
	sweeper := app.Service(services.SweepService{}).(*services.SweepService)
	go func() {
		ctx := composables.WithPool(context.Background(), pool)
		if err := sweeper.Run(ctx); err != nil {
			logger.WithError(err).Error("sweep: scheduler stopped")
		}
	}()
}
