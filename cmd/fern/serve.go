package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/fern/internal/repositories/syncrun"
	"github.com/Ramsey-B/fern/pkg/fanout"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/processor"
	"github.com/Ramsey-B/fern/pkg/resolver"
	feedroutes "github.com/Ramsey-B/fern/pkg/routes/feed"
	graphroutes "github.com/Ramsey-B/fern/pkg/routes/graph"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	syncroutes "github.com/Ramsey-B/fern/pkg/routes/sync"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/timeline"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the CDC and content consumers, the retry worker and the HTTP API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, cleanup, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	mode, err := resolver.ParseMode(a.cfg.FanOutRecipientMode)
	if err != nil {
		return err
	}

	a.withMigrations().withGraph().withFeedStore().withRedis().withProducer()
	stores := []string{depMigrations, depGraph, depFeedStore, depRedis, depProducer}

	var (
		syncConsumer    *kafka.Consumer
		contentConsumer *kafka.Consumer
		retryWorker     *fanout.RetryWorker
		server          *echo.Echo
	)

	checks := map[string]health.Pinger{
		"postgres":  health.PingFunc(func(ctx context.Context) error { return a.db.PingContext(ctx) }),
		"graph":     health.PingFunc(func(ctx context.Context) error { return a.graphStore.Ping(ctx) }),
		"feedstore": health.PingFunc(func(ctx context.Context) error { return a.feed.Ping(ctx) }),
		"redis":     health.PingFunc(func(ctx context.Context) error { return a.redis.Ping(ctx) }),
	}
	if a.cfg.KafkaConsumerEnabled {
		checks["sync-consumer"] = consumerCheck(&syncConsumer)
		checks["content-consumer"] = consumerCheck(&contentConsumer)
	}
	checker := health.NewChecker(version, checks)

	if a.cfg.KafkaConsumerEnabled {
		a.startup.AddDependency(&startup.Func{
			Name:     "sync-consumer",
			Requires: stores,
			OnStart: func(ctx context.Context) error {
				syncConsumer = kafka.NewConsumer(kafka.ConsumerConfig{
					Name:          "sync",
					Brokers:       a.cfg.KafkaBrokers,
					Topics:        a.cdcTopics(),
					ConsumerGroup: a.cfg.KafkaSyncConsumerGroup,
				}, a.logger, processor.NewSyncProcessor(a.projector(), a.logger).ProcessMessage)
				return syncConsumer.Start(ctx)
			},
			OnStop: func(context.Context) error {
				return syncConsumer.Stop()
			},
		})
		a.startup.AddDependency(&startup.Func{
			Name:     "content-consumer",
			Requires: stores,
			OnStart: func(ctx context.Context) error {
				engine := a.engine(a.resolver(mode))
				contentConsumer = kafka.NewConsumer(kafka.ConsumerConfig{
					Name:          "content",
					Brokers:       a.cfg.KafkaBrokers,
					Topics:        []string{a.cfg.KafkaContentTopic},
					ConsumerGroup: a.cfg.KafkaContentConsumerGroup,
				}, a.logger, processor.NewContentProcessor(engine, a.logger).ProcessMessage)
				return contentConsumer.Start(ctx)
			},
			OnStop: func(context.Context) error {
				return contentConsumer.Stop()
			},
		})
	}

	if a.cfg.RetryWorkerEnabled {
		a.startup.AddDependency(&startup.Func{
			Name:     "retry-worker",
			Requires: stores,
			OnStart: func(ctx context.Context) error {
				retryWorker = fanout.NewRetryWorker(a.engine(a.resolver(mode)), a.queue, a.cfg.RetryWorkerInterval, a.logger)
				return retryWorker.Start(ctx)
			},
			OnStop: func(context.Context) error {
				return retryWorker.Stop()
			},
		})
	}

	if a.cfg.ReconcileInterval > 0 {
		var scheduled interface{ Stop() error }
		a.startup.AddDependency(&startup.Func{
			Name:     "reconcile-schedule",
			Requires: stores,
			OnStart: func(ctx context.Context) error {
				r := a.reconciler()
				scheduled = r
				return r.Start(ctx, a.cfg.ReconcileInterval, models.ReconciliationScope{})
			},
			OnStop: func(context.Context) error {
				return scheduled.Stop()
			},
		})
	}

	a.startup.AddDependency(&startup.Func{
		Name:     "http",
		Requires: stores,
		OnStart: func(context.Context) error {
			server = newServer(a, mode, checker)
			go func() {
				addr := fmt.Sprintf(":%d", a.cfg.Port)
				if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.logger.WithError(err).Error("HTTP server stopped")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})

	ctx := cmd.Context()
	if err := a.start(ctx); err != nil {
		a.shutdown()
		return err
	}
	checker.SetReady(true)
	a.logger.WithField("port", a.cfg.Port).Info("fern is running")

	<-ctx.Done()
	checker.SetReady(false)
	a.logger.Info("Shutting down")
	a.shutdown()
	return nil
}

func consumerCheck(consumer **kafka.Consumer) health.Pinger {
	return health.PingFunc(func(context.Context) error {
		if *consumer == nil || !(*consumer).Health() {
			return errors.New("consumer is not running")
		}
		return nil
	})
}

func newServer(a *app, mode resolver.Mode, checker *health.Checker) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.HTTPErrorHandler = middleware.Error(a.logger)

	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{AllowOrigins: a.cfg.AllowOrigins}))
	e.Use(otelecho.Middleware(a.cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(a.logger))

	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	r := a.resolver(mode)
	api := e.Group("/api/v1")
	feedroutes.NewHandler(timeline.NewService(a.feed, a.logger), a.engine(r), a.logger).Register(api.Group("/feed"))
	graphroutes.NewHandler(graph.NewQueryService(a.graphClient, a.logger), r, a.logger).Register(api.Group("/graph"))
	syncroutes.NewHandler(a.reconciler(), syncrun.NewRepository(a.db, a.logger), a.logger).Register(api.Group("/sync"))
	return e
}
