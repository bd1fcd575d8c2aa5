package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/repositories/syncrun"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/projector"
	"github.com/Ramsey-B/fern/pkg/storetest"
)

func noopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func doctor(id string) models.Entity {
	return models.Entity{ID: id, Type: models.EntityTypeDoctor, Name: "Dr. " + id}
}

func ref(id string) models.Ref {
	return models.Ref{Type: models.EntityTypeDoctor, ID: id}
}

type savedRun struct {
	kind   string
	report *models.ReconciliationReport
}

type fakeRuns struct {
	saved []savedRun
	err   error
}

func (f *fakeRuns) Save(_ context.Context, kind string, report *models.ReconciliationReport) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, savedRun{kind: kind, report: report})
	return nil
}

type fakeEmitter struct {
	reports []*models.ReconciliationReport
}

func (f *fakeEmitter) SyncRunCompleted(_ context.Context, report *models.ReconciliationReport) {
	f.reports = append(f.reports, report)
}

type fixture struct {
	reconciler *Reconciler
	graph      *storetest.Graph
	canonical  *storetest.Canonical
	runs       *fakeRuns
	emitter    *fakeEmitter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		graph:     storetest.NewGraph(),
		canonical: storetest.NewCanonical(),
		runs:      &fakeRuns{},
		emitter:   &fakeEmitter{},
	}
	p := projector.New(f.graph, f.canonical, projector.Config{Concurrency: 2, Attempts: 2, InitialBackoff: time.Millisecond}, noopLogger())
	f.reconciler = New(p, f.graph, f.canonical, f.runs, f.emitter, noopLogger())

	f.canonical.Put(doctor("d1"), doctor("d2"), doctor("d3"))
	f.canonical.PutFacts(
		models.RelationshipFact{Type: models.EdgeConnectedTo, From: ref("d1"), To: ref("d2")},
		models.RelationshipFact{Type: models.EdgeFollows, From: ref("d3"), To: ref("d1")},
		models.RelationshipFact{ID: "e1", Type: models.EdgeEndorsed, From: ref("d2"), To: ref("d1"), Attributes: map[string]any{"skill": "Ecocardiograma"}},
		models.RelationshipFact{ID: "e2", Type: models.EdgeEndorsed, From: ref("d2"), To: ref("d1"), Attributes: map[string]any{"skill": "Ecocardiograma"}},
	)
	return f
}

var doctorScope = models.ReconciliationScope{
	EntityTypes: []models.EntityType{models.EntityTypeDoctor},
	EdgeTypes:   []models.EdgeType{models.EdgeConnectedTo, models.EdgeFollows, models.EdgeEndorsed},
}

func TestReconcileHealsEmptyGraph(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	report, err := f.reconciler.Reconcile(ctx, doctorScope)
	require.NoError(t, err)

	assert.False(t, report.Drifted())
	assert.Equal(t, models.TypeDrift{Canonical: 3, Graph: 3}, report.NodeDrift[models.EntityTypeDoctor])
	assert.Equal(t, models.TypeDrift{Canonical: 1, Graph: 1}, report.EdgeDrift[models.EdgeConnectedTo])
	assert.Equal(t, models.TypeDrift{Canonical: 1, Graph: 1}, report.EdgeDrift[models.EdgeEndorsed])
	require.NotNil(t, report.Projection)
	assert.Equal(t, 3, report.Projection.Entity(models.EntityTypeDoctor).Created)

	edges, err := f.graph.GetEdges(ctx, models.EdgeEndorsed, ref("d2"), ref("d1"))
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, int64(2), edges[0].Properties["count"])

	require.Len(t, f.runs.saved, 1)
	assert.Equal(t, syncrun.KindReconcile, f.runs.saved[0].kind)
	assert.Equal(t, report.ID, f.runs.saved[0].report.ID)
	require.Len(t, f.emitter.reports, 1)
}

func TestReconcileIsRepeatable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.reconciler.Reconcile(ctx, doctorScope)
	require.NoError(t, err)
	edges := f.graph.EdgeCount()

	report, err := f.reconciler.Reconcile(ctx, doctorScope)
	require.NoError(t, err)
	assert.False(t, report.Drifted())
	assert.Equal(t, edges, f.graph.EdgeCount())
	assert.Equal(t, 3, report.Projection.Entity(models.EntityTypeDoctor).Updated)
}

func TestReconcileDryRunOnlyReports(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	scope := doctorScope
	scope.DryRun = true
	report, err := f.reconciler.Reconcile(ctx, scope)
	require.NoError(t, err)

	assert.True(t, report.Drifted())
	assert.Equal(t, int64(-3), report.NodeDrift[models.EntityTypeDoctor].Delta())
	assert.Nil(t, report.Projection)
	n, _ := f.graph.CountNodes(ctx, models.EntityTypeDoctor)
	assert.Zero(t, n)
}

func TestReconcilePrunesOrphans(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.reconciler.Reconcile(ctx, doctorScope)
	require.NoError(t, err)
	f.canonical.Delete(models.EntityTypeDoctor, "d3")

	t.Run("without prune the orphan is reported as drift", func(t *testing.T) {
		report, err := f.reconciler.Reconcile(ctx, doctorScope)
		require.NoError(t, err)
		assert.Equal(t, int64(1), report.NodeDrift[models.EntityTypeDoctor].Delta())
	})

	t.Run("dry run prune only counts", func(t *testing.T) {
		scope := doctorScope
		scope.DryRun, scope.Prune = true, true
		report, err := f.reconciler.Reconcile(ctx, scope)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Pruned[models.EntityTypeDoctor])
		_, err = f.graph.GetNode(ctx, ref("d3"))
		assert.NoError(t, err)
	})

	t.Run("prune removes it", func(t *testing.T) {
		scope := doctorScope
		scope.Prune = true
		scope.EdgeTypes = []models.EdgeType{models.EdgeConnectedTo}
		report, err := f.reconciler.Reconcile(ctx, scope)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Pruned[models.EntityTypeDoctor])
		assert.Zero(t, report.NodeDrift[models.EntityTypeDoctor].Delta())

		_, err = f.graph.GetNode(ctx, ref("d3"))
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestReconcileReportsFailure(t *testing.T) {
	f := newFixture(t)
	f.graph.SetUnavailable(true)

	report, err := f.reconciler.Reconcile(context.Background(), doctorScope)
	assert.True(t, models.IsTransient(err))
	require.NotNil(t, report)
	assert.NotEmpty(t, report.Error)

	require.Len(t, f.runs.saved, 1, "failed runs are persisted too")
	assert.Equal(t, report.Error, f.runs.saved[0].report.Error)
}

func TestReconcileSurvivesPersistenceFailure(t *testing.T) {
	f := newFixture(t)
	f.runs.err = errors.New("connection refused")

	report, err := f.reconciler.Reconcile(context.Background(), doctorScope)
	require.NoError(t, err)
	assert.False(t, report.Drifted())
	assert.Len(t, f.emitter.reports, 1)
}

func TestBackfillRecordsKind(t *testing.T) {
	f := newFixture(t)

	report, err := f.reconciler.Backfill(context.Background(), models.ReconciliationScope{DryRun: true})
	require.NoError(t, err)
	assert.False(t, report.Scope.DryRun)
	require.Len(t, f.runs.saved, 1)
	assert.Equal(t, syncrun.KindBackfill, f.runs.saved[0].kind)
}

func TestScheduledReconcile(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.reconciler.Start(context.Background(), 5*time.Millisecond, doctorScope))
	assert.Eventually(t, func() bool {
		n, _ := f.graph.CountNodes(context.Background(), models.EntityTypeDoctor)
		return n == 3
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, f.reconciler.Stop())
}
