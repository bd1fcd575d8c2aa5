package processor

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/repositories/canonical"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Projector is the write side of graph sync. *projector.Projector implements it.
type Projector interface {
	Project(ctx context.Context, record models.Entity) (models.Outcome, error)
	Remove(ctx context.Context, t models.EntityType, id string) (models.Outcome, error)
	ProjectEdge(ctx context.Context, fact models.RelationshipFact) (models.Outcome, error)
	RemoveEdge(ctx context.Context, fact models.RelationshipFact) (models.Outcome, error)
}

// SyncProcessor projects Debezium changes of the canonical tables into the graph.
// A table may back an entity type, one or more relationship types, or both.
type SyncProcessor struct {
	projector Projector
	logger    ectologger.Logger
}

func NewSyncProcessor(p Projector, logger ectologger.Logger) *SyncProcessor {
	return &SyncProcessor{projector: p, logger: logger}
}

// ProcessMessage handles one CDC message. It matches kafka.MessageHandler.
func (p *SyncProcessor) ProcessMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "SyncProcessor.ProcessMessage")
	defer span.End()

	if msg.IsTombstone() {
		return nil
	}
	payload, err := kafka.ParseDebeziumMessage(msg.Value)
	if err != nil {
		return settle(ctx, p.logger, map[string]any{"topic": msg.Topic, "offset": msg.Offset}, err)
	}

	table := payload.Source.Table
	if table == "" {
		table = msg.Table()
	}
	before, err := payload.BeforeRow()
	if err != nil {
		return settle(ctx, p.logger, map[string]any{"table": table}, err)
	}
	after, err := payload.AfterRow()
	if err != nil {
		return settle(ctx, p.logger, map[string]any{"table": table}, err)
	}
	change := change{
		table:  table,
		op:     payload.Op,
		delete: payload.IsDelete(),
		before: cdcRow(before),
		after:  cdcRow(after),
	}

	// nodes first so facts carried by the same row find their endpoints
	if t, ok := canonical.EntityTableByName(table); ok {
		if err := p.syncEntity(ctx, t, change); err != nil {
			tracing.RecordError(span, err)
			return err
		}
		if change.delete {
			// removing the node detached its edges
			return nil
		}
	}
	for _, t := range canonical.FactTablesByName(table) {
		if err := p.syncFact(ctx, t, change); err != nil {
			tracing.RecordError(span, err)
			return err
		}
	}
	return nil
}

type change struct {
	table  string
	op     string
	delete bool
	before map[string]any
	after  map[string]any
}

func (p *SyncProcessor) syncEntity(ctx context.Context, t canonical.EntityTable, c change) error {
	fields := map[string]any{"table": c.table, "op": c.op, "entity_type": t.Type}

	if c.delete {
		entity, err := t.ToEntity(c.before)
		if err != nil {
			return settle(ctx, p.logger, fields, err)
		}
		fields["id"] = entity.ID
		outcome, err := p.projector.Remove(ctx, t.Type, entity.ID)
		p.logOutcome(ctx, fields, outcome, err)
		return settle(ctx, p.logger, fields, err)
	}

	entity, err := t.ToEntity(c.after)
	if err != nil {
		return settle(ctx, p.logger, fields, err)
	}
	fields["id"] = entity.ID
	outcome, err := p.projector.Project(ctx, entity)
	p.logOutcome(ctx, fields, outcome, err)
	return settle(ctx, p.logger, fields, err)
}

// syncFact compares what the row asserted before and after the change. A row
// that stops asserting the fact, or now links other endpoints, retracts the old
// edge; a row that asserts it projects the new one.
func (p *SyncProcessor) syncFact(ctx context.Context, t canonical.FactTable, c change) error {
	fields := map[string]any{"table": c.table, "op": c.op, "edge_type": t.Edge}

	var (
		old, current       models.RelationshipFact
		hadOld, hasCurrent bool
	)
	if c.before != nil && t.Live(c.before) {
		fact, err := t.ToFact(c.before)
		if err != nil {
			return settle(ctx, p.logger, fields, err)
		}
		old, hadOld = fact, true
	}
	if !c.delete && c.after != nil && t.Live(c.after) {
		fact, err := t.ToFact(c.after)
		if err != nil {
			return settle(ctx, p.logger, fields, err)
		}
		current, hasCurrent = fact, true
	}

	if c.delete && !hadOld {
		// without REPLICA IDENTITY FULL the before image holds the key alone
		p.logger.WithContext(ctx).WithFields(fields).Warn("Delete carries no endpoints, leaving edge to reconciliation")
		return nil
	}

	if hadOld && (!hasCurrent || !sameEdge(old, current)) {
		outcome, err := p.projector.RemoveEdge(ctx, old)
		p.logOutcome(ctx, fields, outcome, err)
		if err := settle(ctx, p.logger, fields, err); err != nil {
			return err
		}
	}
	if hasCurrent {
		outcome, err := p.projector.ProjectEdge(ctx, current)
		p.logOutcome(ctx, fields, outcome, err)
		return settle(ctx, p.logger, fields, err)
	}
	return nil
}

// sameEdge reports whether two facts address the same graph edge.
func sameEdge(a, b models.RelationshipFact) bool {
	spec, ok := models.LookupEdgeSpec(a.Type)
	if !ok || a.Type != b.Type {
		return false
	}
	return a.From == b.From && a.To == b.To && a.Key(spec) == b.Key(spec)
}

func (p *SyncProcessor) logOutcome(ctx context.Context, fields map[string]any, outcome models.Outcome, err error) {
	if err != nil {
		return
	}
	p.logger.WithContext(ctx).WithFields(fields).WithField("outcome", outcome).Debug("Synced change")
}

