package projector

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Scope selects the types a backfill covers. An empty scope covers every type;
// naming only edge types re-projects just those edges, and vice versa.
type Scope struct {
	EntityTypes []models.EntityType
	EdgeTypes   []models.EdgeType
}

// Entities returns the selected entity types in projection order.
func (s Scope) Entities() []models.EntityType {
	if len(s.EntityTypes) == 0 {
		if len(s.EdgeTypes) > 0 {
			return nil
		}
		return models.EntityTypes
	}
	types := append([]models.EntityType(nil), s.EntityTypes...)
	sort.SliceStable(types, func(i, j int) bool { return types[i].Rank() < types[j].Rank() })
	return types
}

// Edges returns the selected edge types.
func (s Scope) Edges() []models.EdgeType {
	if len(s.EdgeTypes) == 0 {
		if len(s.EntityTypes) > 0 {
			return nil
		}
		return models.EdgeTypes()
	}
	return s.EdgeTypes
}

// ProjectBatch projects nodes, in type order, and then edges. Individual failures
// are counted and skipped; only an unreachable graph aborts the batch.
func (p *Projector) ProjectBatch(ctx context.Context, entities []models.Entity, facts []models.RelationshipFact) (*models.ProjectionSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "Projector.ProjectBatch")
	defer span.End()

	if err := p.graph.Ping(ctx); err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("graph store unreachable: %w", err)
	}

	summary := models.NewProjectionSummary(time.Now().UTC())
	if err := p.projectEntities(ctx, summary, entities, true); err != nil {
		return summary, err
	}
	if err := p.projectFacts(ctx, summary, facts); err != nil {
		return summary, err
	}
	summary.Finish(time.Now().UTC())
	p.logSummary(ctx, "Projected batch", summary)
	return summary, nil
}

// Backfill pages every selected entity type and fact source out of the canonical
// store and projects it. Re-running converges.
func (p *Projector) Backfill(ctx context.Context, scope Scope) (*models.ProjectionSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "Projector.Backfill")
	defer span.End()

	if err := p.graph.Ping(ctx); err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("graph store unreachable: %w", err)
	}

	summary := models.NewProjectionSummary(time.Now().UTC())
	for _, t := range scope.Entities() {
		err := p.canonical.EachEntity(ctx, t, p.cfg.PageSize, func(page []models.Entity) error {
			return p.projectEntities(ctx, summary, page, false)
		})
		if err != nil {
			summary.Finish(time.Now().UTC())
			return summary, fmt.Errorf("backfill of %s stopped: %w", t, err)
		}
		p.logger.WithContext(ctx).WithField("entity_type", t).Debug("Backfilled entity type")
	}

	for _, edge := range scope.Edges() {
		err := p.canonical.EachFact(ctx, edge, p.cfg.PageSize, func(page []models.RelationshipFact) error {
			return p.projectFacts(ctx, summary, page)
		})
		if err != nil {
			summary.Finish(time.Now().UTC())
			return summary, fmt.Errorf("backfill of %s stopped: %w", edge, err)
		}
		p.logger.WithContext(ctx).WithField("edge_type", edge).Debug("Backfilled edge type")
	}

	summary.Finish(time.Now().UTC())
	p.logSummary(ctx, "Backfill completed", summary)
	return summary, nil
}

// projectEntities runs one bounded pool per type rank so referenced types land first.
func (p *Projector) projectEntities(ctx context.Context, summary *models.ProjectionSummary, entities []models.Entity, verify bool) error {
	byRank := map[int][]models.Entity{}
	var ranks []int
	for _, e := range entities {
		rank := e.Type.Rank()
		if _, seen := byRank[rank]; !seen {
			ranks = append(ranks, rank)
		}
		byRank[rank] = append(byRank[rank], e)
	}
	sort.Ints(ranks)

	for _, rank := range ranks {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.Concurrency)
		for _, e := range byRank[rank] {
			g.Go(func() error {
				var outcome models.Outcome
				if verify {
					outcome, _ = p.Project(gctx, e)
				} else {
					outcome, _ = p.ProjectVerified(gctx, e)
				}
				summary.RecordEntity(e.Type, outcome)
				return ctx.Err()
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Projector) projectFacts(ctx context.Context, summary *models.ProjectionSummary, facts []models.RelationshipFact) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for _, fact := range facts {
		g.Go(func() error {
			outcome, _ := p.ProjectEdge(gctx, fact)
			summary.RecordEdge(fact.Type, outcome)
			return ctx.Err()
		})
	}
	return g.Wait()
}

func (p *Projector) logSummary(ctx context.Context, msg string, summary *models.ProjectionSummary) {
	totals := summary.Totals()
	p.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":   fernctx.GetRunID(ctx),
		"created":  totals.Created,
		"updated":  totals.Updated,
		"skipped":  totals.Skipped,
		"failed":   totals.Failed,
		"duration": summary.FinishedAt.Sub(summary.StartedAt).String(),
	}).Info(msg)
}
