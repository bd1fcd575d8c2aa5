package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/repositories/canonical"
	"github.com/Ramsey-B/fern/internal/repositories/syncrun"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/fanout"
	"github.com/Ramsey-B/fern/pkg/feedstore"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/projector"
	fernredis "github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/reconciler"
	"github.com/Ramsey-B/fern/pkg/resolver"
	"github.com/Ramsey-B/fern/pkg/startup"
)

const (
	depPostgres   = "postgres"
	depMigrations = "migrations"
	depGraph      = "graph"
	depFeedStore  = "feedstore"
	depRedis      = "redis"
	depProducer   = "kafka-producer"
)

// app owns the process-wide store clients. Each client is opened once by its
// startup dependency and released in reverse order by shutdown.
type app struct {
	cfg     config.Config
	logger  ectologger.Logger
	startup *startup.Startup

	db          *database.DatabaseInstance
	graphClient *graph.Client
	graphStore  *graph.Store
	feed        *feedstore.Store
	redis       *fernredis.Client
	queue       *fernredis.DeliveryQueue
	producer    *kafka.Producer
}

func newApp(cfg config.Config, logger ectologger.Logger) *app {
	return &app{
		cfg:     cfg,
		logger:  logger,
		startup: startup.NewStartup(logger, cfg.StartupMaxAttempts),
	}
}

func (a *app) start(ctx context.Context) error {
	return a.startup.Start(ctx)
}

func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.startup.Stop(ctx); err != nil {
		a.logger.WithError(err).Error("Shutdown finished with errors")
	}
}

func (a *app) withPostgres() *app {
	a.startup.AddDependency(&startup.Func{
		Name: depPostgres,
		OnStart: func(ctx context.Context) error {
			db, err := database.Open(ctx, database.Config{
				Host:            a.cfg.DatabaseHost,
				Port:            a.cfg.DatabasePort,
				User:            a.cfg.DatabaseUserName,
				Password:        a.cfg.DatabasePassword,
				Name:            a.cfg.DatabaseName,
				SSLMode:         a.cfg.DatabaseSSLMode,
				MaxOpenConns:    a.cfg.DatabaseMaxOpenConns,
				MaxIdleConns:    a.cfg.DatabaseMaxIdleConns,
				ConnMaxLifetime: a.cfg.DatabaseConnMaxLifetime,
			}, a.logger)
			if err != nil {
				return err
			}
			a.db = db
			return nil
		},
		OnStop: func(context.Context) error {
			return a.db.Close()
		},
	})
	return a
}

func (a *app) withMigrations() *app {
	a.withPostgres()
	a.startup.AddDependency(&startup.Func{
		Name:     depMigrations,
		Requires: []string{depPostgres},
		OnStart: func(context.Context) error {
			ms := database.NewMigrationService(a.logger, database.MigrationConfig{
				MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
				MigrationsTable:     a.cfg.DatabaseMigrationTable,
				Version:             uint(max(a.cfg.DatabaseMigrationVersion, 0)),
				Force:               a.cfg.DatabaseMigrationForce,
				AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
			})
			return ms.Migrate(a.db.DB.DB, a.cfg.DatabaseName)
		},
	})
	return a
}

func (a *app) withGraph() *app {
	a.startup.AddDependency(&startup.Func{
		Name: depGraph,
		OnStart: func(ctx context.Context) error {
			client, err := graph.NewClient(graph.Config{
				Host:     a.cfg.GraphDBHost,
				Port:     a.cfg.GraphDBPort,
				Username: a.cfg.GraphDBUser,
				Password: a.cfg.GraphDBPassword,
				Database: a.cfg.GraphDBDatabase,
			}, a.logger)
			if err != nil {
				return err
			}
			if err := client.VerifyConnectivity(ctx); err != nil {
				_ = client.Close(ctx)
				return err
			}
			store := graph.NewStore(client, a.logger)
			if err := store.EnsureSchema(ctx); err != nil {
				_ = client.Close(ctx)
				return err
			}
			a.graphClient, a.graphStore = client, store
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return a.graphClient.Close(ctx)
		},
	})
	return a
}

func (a *app) withFeedStore() *app {
	a.startup.AddDependency(&startup.Func{
		Name: depFeedStore,
		OnStart: func(ctx context.Context) error {
			store, err := feedstore.Open(ctx, feedstore.Config{
				Hosts:             a.cfg.ScyllaHosts,
				Port:              a.cfg.ScyllaPort,
				Keyspace:          a.cfg.ScyllaKeyspace,
				Username:          a.cfg.ScyllaUser,
				Password:          a.cfg.ScyllaPassword,
				Consistency:       a.cfg.ScyllaConsistency,
				Timeout:           a.cfg.ScyllaTimeout,
				ReplicationFactor: a.cfg.ScyllaReplication,
			}, a.logger)
			if err != nil {
				return err
			}
			a.feed = store
			return nil
		},
		OnStop: func(context.Context) error {
			a.feed.Close()
			return nil
		},
	})
	return a
}

func (a *app) withRedis() *app {
	a.startup.AddDependency(&startup.Func{
		Name: depRedis,
		OnStart: func(ctx context.Context) error {
			client, err := fernredis.NewClient(ctx, fernredis.Config{
				Host:     a.cfg.RedisHost,
				Port:     a.cfg.RedisPort,
				Password: a.cfg.RedisPassword,
				DB:       a.cfg.RedisDB,
			}, a.logger)
			if err != nil {
				return err
			}
			queue := fernredis.NewDeliveryQueue(client, a.cfg.RetryQueueStream, a.cfg.RetryQueueGroup, a.cfg.RetryQueueConsumer, a.logger)
			if err := queue.EnsureGroup(ctx); err != nil {
				_ = client.Close()
				return err
			}
			a.redis, a.queue = client, queue
			return nil
		},
		OnStop: func(context.Context) error {
			return a.redis.Close()
		},
	})
	return a
}

func (a *app) withProducer() *app {
	a.startup.AddDependency(&startup.Func{
		Name: depProducer,
		OnStart: func(context.Context) error {
			a.producer = kafka.NewProducer(kafka.ProducerConfig{
				Brokers:      a.cfg.KafkaBrokers,
				Topic:        a.cfg.KafkaOutputTopic,
				BatchSize:    a.cfg.KafkaBatchSize,
				BatchTimeout: time.Duration(a.cfg.KafkaBatchTimeout) * time.Millisecond,
				RequiredAcks: a.cfg.KafkaRequiredAcks,
				Compression:  a.cfg.KafkaCompression,
			}, a.logger)
			return nil
		},
		OnStop: func(context.Context) error {
			return a.producer.Close()
		},
	})
	return a
}

// The builders below may only be called once start has returned.

func (a *app) canonical() *canonical.Repository {
	return canonical.NewRepository(a.db, a.logger)
}

func (a *app) emitter() *events.Emitter {
	// a typed nil would defeat the emitter's nil check
	var publisher events.Publisher
	if a.producer != nil {
		publisher = a.producer
	}
	return events.NewEmitter(publisher, a.logger)
}

func (a *app) projector() *projector.Projector {
	return projector.New(a.graphStore, a.canonical(), projector.Config{
		Concurrency: a.cfg.ProjectionConcurrency,
		PageSize:    a.cfg.ProjectionPageSize,
		Attempts:    a.cfg.ProjectionAttempts,
	}, a.logger)
}

func (a *app) reconciler() *reconciler.Reconciler {
	return reconciler.New(a.projector(), a.graphStore, a.canonical(), syncrun.NewRepository(a.db, a.logger), a.emitter(), a.logger)
}

func (a *app) resolver(mode resolver.Mode) *resolver.Resolver {
	var audience resolver.AudienceSource
	if a.graphStore != nil {
		audience = a.graphStore
	}
	return resolver.New(mode, audience, a.canonical(), a.logger)
}

func (a *app) engine(r *resolver.Resolver) *fanout.Engine {
	return fanout.NewEngine(a.feed, r, a.queue, a.canonical(), a.emitter(), fanout.Config{
		Concurrency:     a.cfg.FanOutConcurrency,
		WriteTimeout:    a.cfg.FanOutWriteTimeout,
		WriteAttempts:   a.cfg.FanOutWriteAttempts,
		MaxRedeliveries: a.cfg.FanOutMaxRedeliveries,
	}, a.logger)
}

// cdcTopics lists the Debezium topics of every bound canonical table unless
// KAFKA_CDC_TOPICS names them explicitly.
func (a *app) cdcTopics() []string {
	if len(a.cfg.KafkaCDCTopics) > 0 {
		return a.cfg.KafkaCDCTopics
	}
	tables := canonical.TableNames()
	topics := make([]string, len(tables))
	for i, table := range tables {
		topics[i] = fmt.Sprintf("%s.%s", a.cfg.KafkaCDCTopicPrefix, table)
	}
	return topics
}
