package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolver"
	"github.com/Ramsey-B/fern/pkg/seed"
)

func addScopeFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("entity-types", nil, "Entity types to include (default all)")
	cmd.Flags().StringSlice("edge-types", nil, "Edge types to include (default all)")
}

// scopeFromFlags turns the --entity-types and --edge-types flags into a scope,
// rejecting names that are not bound.
func scopeFromFlags(cmd *cobra.Command) (models.ReconciliationScope, error) {
	var scope models.ReconciliationScope
	entityTypes, _ := cmd.Flags().GetStringSlice("entity-types")
	for _, name := range entityTypes {
		t, err := models.ParseEntityType(name)
		if err != nil {
			return scope, err
		}
		scope.EntityTypes = append(scope.EntityTypes, t)
	}
	edgeTypes, _ := cmd.Flags().GetStringSlice("edge-types")
	for _, name := range edgeTypes {
		t, err := models.ParseEdgeType(name)
		if err != nil {
			return scope, err
		}
		scope.EdgeTypes = append(scope.EdgeTypes, t)
	}
	return scope, nil
}

func printReport(cmd *cobra.Command, report *models.ReconciliationReport) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func backfillCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Project every canonical entity and relationship into the graph",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scope, err := scopeFromFlags(cmd)
			if err != nil {
				return err
			}
			a, cleanup, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			a.withMigrations().withGraph().withProducer()
			if err := a.start(cmd.Context()); err != nil {
				a.shutdown()
				return err
			}
			defer a.shutdown()

			report, err := a.reconciler().Backfill(cmd.Context(), scope)
			if report != nil {
				if perr := printReport(cmd, report); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	addScopeFlags(cmd)
	return cmd
}

func reconcileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare canonical and graph counts, repairing drift",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scope, err := scopeFromFlags(cmd)
			if err != nil {
				return err
			}
			scope.DryRun, _ = cmd.Flags().GetBool("dry-run")
			scope.Prune, _ = cmd.Flags().GetBool("prune")

			a, cleanup, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			a.withMigrations().withGraph().withProducer()
			if err := a.start(cmd.Context()); err != nil {
				a.shutdown()
				return err
			}
			defer a.shutdown()

			report, err := a.reconciler().Reconcile(cmd.Context(), scope)
			if report != nil {
				if perr := printReport(cmd, report); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	addScopeFlags(cmd)
	cmd.Flags().Bool("dry-run", false, "Report drift without projecting or pruning")
	cmd.Flags().Bool("prune", false, "Delete graph nodes that no longer exist in Postgres")
	return cmd
}

func seedPostsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed-posts",
		Short: "Generate sample posts for every doctor and fan them out to all members",
		RunE: func(cmd *cobra.Command, _ []string) error {
			seedValue, _ := cmd.Flags().GetInt64("seed")

			a, cleanup, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			a.withMigrations().withFeedStore().withRedis().withProducer()
			ctx := cmd.Context()
			if err := a.start(ctx); err != nil {
				a.shutdown()
				return err
			}
			defer a.shutdown()

			authors, err := seed.LoadAuthors(ctx, a.canonical(), a.cfg.ProjectionPageSize)
			if err != nil {
				return err
			}
			posts, err := seed.NewGenerator(seedValue).Posts(authors, time.Now())
			if err != nil {
				return err
			}

			engine := a.engine(a.resolver(resolver.ModeAllMembers))
			var succeeded, failed, queued, duplicates int
			for _, post := range posts {
				summary, err := engine.PublishAt(ctx, post, post.CreatedAt)
				if err != nil {
					return fmt.Errorf("failed to publish seed post %s: %w", post.ID, err)
				}
				if summary.Duplicate {
					duplicates++
				}
				succeeded += summary.Succeeded
				failed += summary.Failed
				queued += summary.Queued
			}

			a.logger.WithFields(map[string]any{
				"authors":    len(authors),
				"posts":      len(posts),
				"duplicates": duplicates,
				"succeeded":  succeeded,
				"failed":     failed,
				"queued":     queued,
			}).Info("Seeded posts")
			return nil
		},
	}
	cmd.Flags().Int64("seed", 1, "Random seed; the same seed reproduces the same posts")
	return cmd
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the sync_runs migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			a.withMigrations()
			err = a.start(cmd.Context())
			a.shutdown()
			return err
		},
	}
}
