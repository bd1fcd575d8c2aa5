// Package projector mirrors canonical entities and relationship facts into the
// property graph with idempotent merge-upserts.
package projector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/cenkalti/backoff/v5"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// GraphStore is the merge-upsert contract of the graph. *graph.Store implements it.
type GraphStore interface {
	Ping(ctx context.Context) error
	MergeNode(ctx context.Context, e models.Entity) (models.Outcome, error)
	DeleteNode(ctx context.Context, ref models.Ref) (bool, error)
	MergeEdge(ctx context.Context, fact models.RelationshipFact) (models.Outcome, error)
	DeleteEdge(ctx context.Context, fact models.RelationshipFact) (bool, error)
}

// CanonicalSource is the read-only view of the system of record.
type CanonicalSource interface {
	GetEntity(ctx context.Context, t models.EntityType, id string) (models.Entity, error)
	EachEntity(ctx context.Context, t models.EntityType, pageSize int, fn func([]models.Entity) error) error
	EachFact(ctx context.Context, edge models.EdgeType, pageSize int, fn func([]models.RelationshipFact) error) error
	PairLinked(ctx context.Context, edge models.EdgeType, a, b models.Ref) (bool, error)
}

type Config struct {
	// Concurrency bounds the in-flight upserts of one batch.
	Concurrency int
	PageSize    int
	// Attempts per upsert, transient failures only.
	Attempts       int
	InitialBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.PageSize <= 0 {
		c.PageSize = 500
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	return c
}

type Projector struct {
	graph     GraphStore
	canonical CanonicalSource
	cfg       Config
	logger    ectologger.Logger
}

func New(graph GraphStore, canonical CanonicalSource, cfg Config, logger ectologger.Logger) *Projector {
	return &Projector{
		graph:     graph,
		canonical: canonical,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// Project confirms the record still exists in the canonical store and merges the
// canonical version of it. A record that is gone is skipped with ErrNotFound.
func (p *Projector) Project(ctx context.Context, record models.Entity) (models.Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "Projector.Project")
	defer span.End()

	if err := record.Validate(); err != nil {
		p.record("node", string(record.Type), models.OutcomeFailed)
		return models.OutcomeFailed, err
	}

	current, err := retry(ctx, p.cfg, func() (models.Entity, error) {
		return p.canonical.GetEntity(ctx, record.Type, record.ID)
	})
	if errors.Is(err, models.ErrNotFound) {
		p.logger.WithContext(ctx).WithFields(map[string]any{
			"entity_type": record.Type,
			"entity_id":   record.ID,
		}).Warn("Canonical record not found, skipping projection")
		p.record("node", string(record.Type), models.OutcomeSkipped)
		return models.OutcomeSkipped, err
	}
	if err != nil {
		tracing.RecordError(span, err)
		p.record("node", string(record.Type), models.OutcomeFailed)
		return models.OutcomeFailed, fmt.Errorf("failed to confirm %s: %w", record.Ref(), err)
	}
	return p.ProjectVerified(ctx, current)
}

// ProjectVerified merges a record that was just read from the canonical store.
func (p *Projector) ProjectVerified(ctx context.Context, e models.Entity) (models.Outcome, error) {
	if err := e.Validate(); err != nil {
		p.record("node", string(e.Type), models.OutcomeFailed)
		return models.OutcomeFailed, err
	}

	outcome, err := retry(ctx, p.cfg, func() (models.Outcome, error) {
		return p.graph.MergeNode(ctx, e)
	})
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_type": e.Type,
			"entity_id":   e.ID,
		}).Error("Failed to project node")
		p.record("node", string(e.Type), models.OutcomeFailed)
		return models.OutcomeFailed, err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_type": e.Type,
		"entity_id":   e.ID,
		"outcome":     outcome,
	}).Debug("Projected node")
	p.record("node", string(e.Type), outcome)
	return outcome, nil
}

// ProjectEdge merges one relationship fact. A missing endpoint is skipped with
// ErrMissingReference and a duplicate fact counts as success.
func (p *Projector) ProjectEdge(ctx context.Context, fact models.RelationshipFact) (models.Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "Projector.ProjectEdge")
	defer span.End()

	fields := map[string]any{
		"edge_type": fact.Type,
		"from":      fact.From.String(),
		"to":        fact.To.String(),
	}

	if _, err := fact.Validate(); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(fields).Warn("Rejected invalid relationship fact")
		p.record("edge", string(fact.Type), models.OutcomeFailed)
		return models.OutcomeFailed, err
	}

	outcome, err := retry(ctx, p.cfg, func() (models.Outcome, error) {
		return p.graph.MergeEdge(ctx, fact)
	})
	switch {
	case err == nil:
		p.logger.WithContext(ctx).WithFields(fields).Debugf("Projected edge (%s)", outcome)
	case errors.Is(err, models.ErrDuplicateFact):
		outcome, err = models.OutcomeUpdated, nil
	case errors.Is(err, models.ErrMissingReference):
		p.logger.WithContext(ctx).WithFields(fields).Warn("Edge endpoint not projected yet, skipping")
		outcome = models.OutcomeSkipped
	default:
		tracing.RecordError(span, err)
		p.logger.WithContext(ctx).WithError(err).WithFields(fields).Error("Failed to project edge")
		outcome = models.OutcomeFailed
	}
	p.record("edge", string(fact.Type), outcome)
	return outcome, err
}

// Remove detaches and deletes the node of a deleted canonical record.
func (p *Projector) Remove(ctx context.Context, t models.EntityType, id string) (models.Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "Projector.Remove")
	defer span.End()

	ref := models.Ref{Type: t, ID: id}
	deleted, err := retry(ctx, p.cfg, func() (bool, error) {
		return p.graph.DeleteNode(ctx, ref)
	})
	if err != nil {
		p.record("node", string(t), models.OutcomeFailed)
		return models.OutcomeFailed, fmt.Errorf("failed to remove %s: %w", ref, err)
	}
	outcome := models.OutcomeSkipped
	if deleted {
		outcome = models.OutcomeRemoved
	}
	p.logger.WithContext(ctx).WithField("ref", ref.String()).Debugf("Removed node (%s)", outcome)
	p.record("node", string(t), outcome)
	return outcome, nil
}

// RemoveEdge deletes the edge of a retracted fact. For cumulative edges only the
// fact's own event is retracted. A symmetric edge stays while any other live
// canonical row still links the pair.
func (p *Projector) RemoveEdge(ctx context.Context, fact models.RelationshipFact) (models.Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "Projector.RemoveEdge")
	defer span.End()

	if spec, ok := models.LookupEdgeSpec(fact.Type); ok && spec.Symmetric {
		linked, err := retry(ctx, p.cfg, func() (bool, error) {
			return p.canonical.PairLinked(ctx, fact.Type, fact.From, fact.To)
		})
		if err != nil {
			tracing.RecordError(span, err)
			p.record("edge", string(fact.Type), models.OutcomeFailed)
			return models.OutcomeFailed, fmt.Errorf("failed to check %s %s-%s: %w", fact.Type, fact.From, fact.To, err)
		}
		if linked {
			p.logger.WithContext(ctx).WithFields(map[string]any{
				"edge_type": fact.Type,
				"from":      fact.From.String(),
				"to":        fact.To.String(),
			}).Debug("Pair is still linked in canonical store, keeping edge")
			p.record("edge", string(fact.Type), models.OutcomeSkipped)
			return models.OutcomeSkipped, nil
		}
	}

	changed, err := retry(ctx, p.cfg, func() (bool, error) {
		return p.graph.DeleteEdge(ctx, fact)
	})
	if err != nil {
		p.record("edge", string(fact.Type), models.OutcomeFailed)
		return models.OutcomeFailed, fmt.Errorf("failed to remove %s %s->%s: %w", fact.Type, fact.From, fact.To, err)
	}
	outcome := models.OutcomeSkipped
	if changed {
		outcome = models.OutcomeRemoved
	}
	p.record("edge", string(fact.Type), outcome)
	return outcome, nil
}

func (p *Projector) record(kind, typ string, outcome models.Outcome) {
	metrics.RecordProjection(kind, typ, string(outcome))
}

// retry runs op with exponential backoff while it fails transiently.
func retry[T any](ctx context.Context, cfg Config, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialBackoff
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !models.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(cfg.Attempts)))
}
