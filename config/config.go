package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"fern"`
	Port                          int      `env:"PORT" env-default:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// PostgreSQL (canonical store, read-only, plus fern's own sync_runs table)
	DatabaseHost                  string        `env:"DB_HOST" env-default:"localhost"`
	DatabasePort                  string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword              string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string        `env:"DB_NAME" env-default:"medconnect"`
	DatabaseSSLMode               string        `env:"DB_SSL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10m"`
	DatabaseMigrationFolderPath   string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationTable        string        `env:"DB_MIGRATION_TABLE" env-default:"fern_schema_migrations"`
	DatabaseMigrationVersion      int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Graph Database (Neo4j / Memgraph over Bolt)
	GraphDBHost     string `env:"GRAPH_DB_HOST" env-default:"localhost"`
	GraphDBPort     int    `env:"GRAPH_DB_PORT" env-default:"7687"`
	GraphDBUser     string `env:"GRAPH_DB_USER" env-default:""`
	GraphDBPassword string `env:"GRAPH_DB_PASSWORD" env-default:""`
	GraphDBDatabase string `env:"GRAPH_DB_DATABASE" env-default:""`

	// ScyllaDB (feed store)
	ScyllaHosts       []string      `env:"SCYLLA_HOSTS" env-default:"localhost"`
	ScyllaPort        int           `env:"SCYLLA_PORT" env-default:"9042"`
	ScyllaKeyspace    string        `env:"SCYLLA_KEYSPACE" env-default:"feed"`
	ScyllaUser        string        `env:"SCYLLA_USER" env-default:""`
	ScyllaPassword    string        `env:"SCYLLA_PASSWORD" env-default:""`
	ScyllaConsistency string        `env:"SCYLLA_CONSISTENCY" env-default:"LOCAL_QUORUM"`
	ScyllaTimeout     time.Duration `env:"SCYLLA_TIMEOUT" env-default:"5s"`
	ScyllaReplication int           `env:"SCYLLA_REPLICATION_FACTOR" env-default:"1"`

	// Redis (delivery retry queue)
	RedisHost          string `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort          int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword      string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB            int    `env:"REDIS_DB" env-default:"0"`
	RetryQueueStream   string `env:"RETRY_QUEUE_STREAM" env-default:"fern:fanout:retry"`
	RetryQueueGroup    string `env:"RETRY_QUEUE_GROUP" env-default:"fern-retry-workers"`
	RetryQueueConsumer string `env:"RETRY_QUEUE_CONSUMER" env-default:""`

	// Kafka (Debezium CDC of the canonical store, content events, outbound events)
	KafkaBrokers              []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaConsumerEnabled      bool     `env:"KAFKA_CONSUMER_ENABLED" env-default:"true"`
	KafkaCDCTopics            []string `env:"KAFKA_CDC_TOPICS" env-default:""`
	KafkaCDCTopicPrefix       string   `env:"KAFKA_CDC_TOPIC_PREFIX" env-default:"medconnect.public"`
	KafkaSyncConsumerGroup    string   `env:"KAFKA_SYNC_CONSUMER_GROUP" env-default:"fern-sync-consumer"`
	KafkaContentTopic         string   `env:"KAFKA_CONTENT_TOPIC" env-default:"content-events"`
	KafkaContentConsumerGroup string   `env:"KAFKA_CONTENT_CONSUMER_GROUP" env-default:"fern-content-consumer"`
	KafkaOutputTopic          string   `env:"KAFKA_OUTPUT_TOPIC" env-default:"fern-events"`
	KafkaBatchSize            int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout         int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks         int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression          string   `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Tracing
	TracingEnabled  bool   `env:"TRACING_ENABLED" env-default:"false"`
	TracingEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	TracingProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	TracingInsecure bool   `env:"OTLP_INSECURE" env-default:"true"`

	// Fan-out
	FanOutConcurrency     int           `env:"FANOUT_CONCURRENCY" env-default:"32"`
	FanOutWriteTimeout    time.Duration `env:"FANOUT_WRITE_TIMEOUT" env-default:"2s"`
	FanOutWriteAttempts   int           `env:"FANOUT_WRITE_ATTEMPTS" env-default:"3"`
	FanOutMaxRedeliveries int           `env:"FANOUT_MAX_REDELIVERIES" env-default:"5"`
	FanOutRecipientMode   string        `env:"FANOUT_RECIPIENT_MODE" env-default:"graph"`
	RetryWorkerEnabled    bool          `env:"RETRY_WORKER_ENABLED" env-default:"true"`
	RetryWorkerInterval   time.Duration `env:"RETRY_WORKER_INTERVAL" env-default:"5s"`

	// Projection / reconciliation
	ProjectionConcurrency int           `env:"PROJECTION_CONCURRENCY" env-default:"8"`
	ProjectionPageSize    int           `env:"PROJECTION_PAGE_SIZE" env-default:"500"`
	ProjectionAttempts    int           `env:"PROJECTION_ATTEMPTS" env-default:"3"`
	ReconcileInterval     time.Duration `env:"RECONCILE_INTERVAL" env-default:"0s"`
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (Config, error) {
	// a missing .env file is not an error
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
