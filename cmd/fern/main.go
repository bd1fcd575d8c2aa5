package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "fern",
		Short: "Graph sync and feed fan-out for the MedConnect network",
		Long: `fern keeps the Neo4j projection of the canonical Postgres store in sync,
fans new content out to per-member timelines in ScyllaDB, and reconciles
drift between the stores.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("env-file", ".env", "Optional .env file read before the environment")

	rootCmd.AddCommand(
		serveCommand(),
		backfillCommand(),
		reconcileCommand(),
		seedPostsCommand(),
		migrateCommand(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// bootstrap loads configuration and builds the logger and tracer shared by every command.
func bootstrap(cmd *cobra.Command) (*app, func(), error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, syncLogs, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}

	shutdownTracing, err := setupTracing(cmd.Context(), cfg, logger)
	if err != nil {
		syncLogs()
		return nil, nil, err
	}

	a := newApp(cfg, logger)
	cleanup := func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.WithError(err).Warn("Failed to flush traces")
		}
		syncLogs()
	}
	return a, cleanup, nil
}

func newLogger(cfg config.Config) (ectologger.Logger, func(), error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	zapLogger, err := zcfg.Build(zap.Fields(zap.String("service", cfg.AppName), zap.String("version", version)))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), func() { _ = zapLogger.Sync() }, nil
}

func setupTracing(ctx context.Context, cfg config.Config, logger ectologger.Logger) (func(context.Context) error, error) {
	exporterCfg := exporters.Config{Protocol: cfg.TracingProtocol, Insecure: cfg.TracingInsecure}
	if cfg.TracingEnabled {
		exporterCfg.Endpoint = cfg.TracingEndpoint
	}
	exporter, err := exporters.New(ctx, exporterCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	if cfg.TracingEnabled {
		logger.WithFields(map[string]any{
			"endpoint": cfg.TracingEndpoint,
			"protocol": cfg.TracingProtocol,
		}).Info("Tracing enabled")
	}
	return tracing.Setup(cfg.AppName, exporter), nil
}
