// Package feedstore is the ScyllaDB timeline store: canonical content records,
// author-indexed copies, per-recipient feed partitions and engagement tables.
package feedstore

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/gocql/gocql"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

type Config struct {
	Hosts             []string
	Port              int
	Keyspace          string
	Username          string
	Password          string
	Consistency       string
	Timeout           time.Duration
	ReplicationFactor int
}

// Store holds one gocql session for the process lifetime.
type Store struct {
	session *gocql.Session
	logger  ectologger.Logger
}

func newCluster(cfg Config, keyspace string) (*gocql.ClusterConfig, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	if cfg.Port > 0 {
		cluster.Port = cfg.Port
	}
	cluster.Keyspace = keyspace
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
		cluster.ConnectTimeout = cfg.Timeout
	}
	consistency := gocql.LocalQuorum
	if cfg.Consistency != "" {
		parsed, err := gocql.ParseConsistencyWrapper(cfg.Consistency)
		if err != nil {
			return nil, fmt.Errorf("invalid scylla consistency %q: %w", cfg.Consistency, err)
		}
		consistency = parsed
	}
	cluster.Consistency = consistency
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}
	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())
	return cluster, nil
}

// Open creates the keyspace and tables if missing and returns a connected Store.
func Open(ctx context.Context, cfg Config, logger ectologger.Logger) (*Store, error) {
	if err := ensureKeyspace(ctx, cfg); err != nil {
		return nil, err
	}

	cluster, err := newCluster(cfg, cfg.Keyspace)
	if err != nil {
		return nil, err
	}
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to scylla keyspace %s: %w", cfg.Keyspace, classify(err))
	}

	store := &Store{session: session, logger: logger}
	if err := store.ensureTables(ctx); err != nil {
		session.Close()
		return nil, err
	}

	logger.WithContext(ctx).Infof("Connected to scylla keyspace %s", cfg.Keyspace)
	return store, nil
}

func ensureKeyspace(ctx context.Context, cfg Config) error {
	cluster, err := newCluster(cfg, "")
	if err != nil {
		return err
	}
	session, err := cluster.CreateSession()
	if err != nil {
		return fmt.Errorf("failed to connect to scylla: %w", classify(err))
	}
	defer session.Close()

	if err := session.Query(keyspaceCQL(cfg.Keyspace, cfg.ReplicationFactor)).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to create keyspace %s: %w", cfg.Keyspace, classify(err))
	}
	return nil
}

func (s *Store) ensureTables(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "feedstore.Store.ensureTables")
	defer span.End()

	for _, stmt := range tableCQL {
		if err := s.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to apply feed schema: %w", classify(err))
		}
	}
	return nil
}

// Ping runs a trivial query against the cluster.
func (s *Store) Ping(ctx context.Context) error {
	var release string
	err := s.session.Query(`SELECT release_version FROM system.local`).WithContext(ctx).Scan(&release)
	return classify(err)
}

func (s *Store) Close() {
	s.session.Close()
}
