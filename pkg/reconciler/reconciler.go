// Package reconciler re-projects the canonical store into the graph and reports
// the drift left between them.
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/internal/repositories/syncrun"
	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/projector"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// pruneChunk bounds the id list of one existence query.
const pruneChunk = 1000

type Projector interface {
	Backfill(ctx context.Context, scope projector.Scope) (*models.ProjectionSummary, error)
	Remove(ctx context.Context, t models.EntityType, id string) (models.Outcome, error)
}

// GraphCounter is the counting side of the graph store. *graph.Store implements it.
type GraphCounter interface {
	CountNodes(ctx context.Context, t models.EntityType) (int64, error)
	CountEdges(ctx context.Context, t models.EdgeType) (int64, error)
	NodeIDs(ctx context.Context, t models.EntityType) ([]string, error)
}

// CanonicalCounter is the counting side of the canonical store.
type CanonicalCounter interface {
	CountEntities(ctx context.Context, t models.EntityType) (int64, error)
	CountFacts(ctx context.Context, t models.EdgeType) (int64, error)
	ExistingIDs(ctx context.Context, t models.EntityType, ids []string) (map[string]bool, error)
}

// RunStore persists finished runs. *syncrun.Repository implements it.
type RunStore interface {
	Save(ctx context.Context, kind string, report *models.ReconciliationReport) error
}

type Emitter interface {
	SyncRunCompleted(ctx context.Context, report *models.ReconciliationReport)
}

type Reconciler struct {
	projector Projector
	graph     GraphCounter
	canonical CanonicalCounter
	runs      RunStore
	emitter   Emitter
	logger    ectologger.Logger

	// one run at a time
	running sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(p Projector, graph GraphCounter, canonical CanonicalCounter, runs RunStore, emitter Emitter, logger ectologger.Logger) *Reconciler {
	return &Reconciler{
		projector: p,
		graph:     graph,
		canonical: canonical,
		runs:      runs,
		emitter:   emitter,
		logger:    logger,
	}
}

// Reconcile backfills the scope (unless DryRun), optionally prunes orphan nodes
// and compares per-type counts. A report is returned even when the run fails
// part way, with Error set.
func (r *Reconciler) Reconcile(ctx context.Context, scope models.ReconciliationScope) (*models.ReconciliationReport, error) {
	return r.run(ctx, syncrun.KindReconcile, scope)
}

// Backfill is a full projection of the scope recorded as a backfill run.
func (r *Reconciler) Backfill(ctx context.Context, scope models.ReconciliationScope) (*models.ReconciliationReport, error) {
	scope.DryRun = false
	return r.run(ctx, syncrun.KindBackfill, scope)
}

func (r *Reconciler) run(ctx context.Context, kind string, scope models.ReconciliationScope) (*models.ReconciliationReport, error) {
	ctx, span := tracing.StartSpan(ctx, "Reconciler.Reconcile")
	defer span.End()

	r.running.Lock()
	defer r.running.Unlock()

	report := &models.ReconciliationReport{
		ID:        uuid.NewString(),
		Scope:     scope,
		NodeDrift: map[models.EntityType]models.TypeDrift{},
		EdgeDrift: map[models.EdgeType]models.TypeDrift{},
		StartedAt: time.Now().UTC(),
	}
	ctx = fernctx.SetRunID(ctx, report.ID)
	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":  report.ID,
		"kind":    kind,
		"dry_run": scope.DryRun,
	})
	log.Info("Starting reconciliation")

	err := r.reconcile(ctx, report)
	report.FinishedAt = time.Now().UTC()
	if err != nil {
		tracing.RecordError(span, err)
		report.Error = err.Error()
	}

	if r.runs != nil {
		if serr := r.runs.Save(ctx, kind, report); serr != nil {
			log.WithError(serr).Warn("Failed to persist reconciliation report")
		}
	}
	if r.emitter != nil {
		r.emitter.SyncRunCompleted(ctx, report)
	}

	log.WithFields(map[string]any{
		"drifted":  report.Drifted(),
		"duration": report.FinishedAt.Sub(report.StartedAt).String(),
	}).Info("Reconciliation finished")
	return report, err
}

func (r *Reconciler) reconcile(ctx context.Context, report *models.ReconciliationReport) error {
	scope := projector.Scope{EntityTypes: report.Scope.EntityTypes, EdgeTypes: report.Scope.EdgeTypes}

	if !report.Scope.DryRun {
		summary, err := r.projector.Backfill(ctx, scope)
		report.Projection = summary
		if err != nil {
			return err
		}
	}

	if report.Scope.Prune {
		report.Pruned = map[models.EntityType]int{}
		for _, t := range scope.Entities() {
			n, err := r.prune(ctx, t, report.Scope.DryRun)
			if err != nil {
				return err
			}
			if n > 0 {
				report.Pruned[t] = n
			}
		}
	}

	for _, t := range scope.Entities() {
		drift, err := r.nodeDrift(ctx, t)
		if err != nil {
			return err
		}
		report.NodeDrift[t] = drift
		metrics.RecordDrift("node", string(t), drift.Delta())
		r.logDrift(ctx, "node", string(t), drift)
	}
	for _, t := range scope.Edges() {
		drift, err := r.edgeDrift(ctx, t)
		if err != nil {
			return err
		}
		report.EdgeDrift[t] = drift
		metrics.RecordDrift("edge", string(t), drift.Delta())
		r.logDrift(ctx, "edge", string(t), drift)
	}
	return nil
}

func (r *Reconciler) nodeDrift(ctx context.Context, t models.EntityType) (models.TypeDrift, error) {
	canonical, err := r.canonical.CountEntities(ctx, t)
	if err != nil {
		return models.TypeDrift{}, fmt.Errorf("failed to count canonical %s: %w", t, err)
	}
	graph, err := r.graph.CountNodes(ctx, t)
	if err != nil {
		return models.TypeDrift{}, fmt.Errorf("failed to count %s nodes: %w", t, err)
	}
	return models.TypeDrift{Canonical: canonical, Graph: graph}, nil
}

// edgeDrift compares logical facts. Both stores count a symmetric pair once and
// a cumulative edge once per key.
func (r *Reconciler) edgeDrift(ctx context.Context, t models.EdgeType) (models.TypeDrift, error) {
	canonical, err := r.canonical.CountFacts(ctx, t)
	if err != nil {
		return models.TypeDrift{}, fmt.Errorf("failed to count canonical %s facts: %w", t, err)
	}
	graph, err := r.graph.CountEdges(ctx, t)
	if err != nil {
		return models.TypeDrift{}, fmt.Errorf("failed to count %s edges: %w", t, err)
	}
	return models.TypeDrift{Canonical: canonical, Graph: graph}, nil
}

// prune removes nodes of type t whose canonical record is gone and returns how
// many there were. A dry run only counts them.
func (r *Reconciler) prune(ctx context.Context, t models.EntityType, dryRun bool) (int, error) {
	ids, err := r.graph.NodeIDs(ctx, t)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s nodes: %w", t, err)
	}

	var orphans []string
	for start := 0; start < len(ids); start += pruneChunk {
		batch := ids[start:min(start+pruneChunk, len(ids))]
		existing, err := r.canonical.ExistingIDs(ctx, t, batch)
		if err != nil {
			return 0, fmt.Errorf("failed to check %s records: %w", t, err)
		}
		orphans = append(orphans, ectolinq.Filter(batch, func(id string) bool {
			return !existing[id]
		})...)
	}
	if dryRun || len(orphans) == 0 {
		return len(orphans), nil
	}

	for _, id := range orphans {
		if _, err := r.projector.Remove(ctx, t, id); err != nil {
			return 0, fmt.Errorf("failed to prune %s %s: %w", t, id, err)
		}
	}
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_type": t,
		"pruned":      len(orphans),
	}).Info("Pruned orphan nodes")
	return len(orphans), nil
}

func (r *Reconciler) logDrift(ctx context.Context, kind, typ string, drift models.TypeDrift) {
	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"kind":      kind,
		"type":      typ,
		"canonical": drift.Canonical,
		"graph":     drift.Graph,
	})
	if drift.Delta() != 0 {
		log.Warn("Drift detected")
		return
	}
	log.Debug("No drift")
}

// Start reruns a full reconciliation every interval until Stop. A zero interval
// disables the schedule.
func (r *Reconciler) Start(ctx context.Context, interval time.Duration, scope models.ReconciliationScope) error {
	if interval <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// failures are already logged and persisted with the report
				_, _ = r.Reconcile(ctx, scope)
			}
		}
	}()

	r.logger.WithContext(ctx).Infof("Scheduled reconciliation every %s", interval)
	return nil
}

func (r *Reconciler) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.wg.Wait()
	return nil
}
