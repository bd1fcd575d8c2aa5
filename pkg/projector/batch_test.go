package projector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func specialty(id, name string) models.Entity {
	return models.Entity{ID: id, Type: models.EntityTypeSpecialty, Name: name}
}

func TestProjectBatchProjectsNodesBeforeEdges(t *testing.T) {
	ctx := context.Background()
	p, graph, canonical := newProjector(t)

	entities := []models.Entity{doctor("d1", "D1"), specialty("s1", "Cardiologia"), doctor("d2", "D2")}
	canonical.Put(entities...)
	facts := []models.RelationshipFact{
		{Type: models.EdgeSpecializesIn, From: ref("d1"), To: models.Ref{Type: models.EntityTypeSpecialty, ID: "s1"}},
		{Type: models.EdgeFollows, From: ref("d2"), To: ref("d1")},
	}

	summary, err := p.ProjectBatch(ctx, entities, facts)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Entity(models.EntityTypeDoctor).Created)
	assert.Equal(t, 1, summary.Entity(models.EntityTypeSpecialty).Created)
	assert.Equal(t, 1, summary.Edge(models.EdgeSpecializesIn).Created)
	assert.Equal(t, 1, summary.Edge(models.EdgeFollows).Created)
	assert.False(t, summary.FinishedAt.IsZero())

	n, _ := graph.CountEdges(ctx, models.EdgeSpecializesIn)
	assert.Equal(t, int64(1), n)
}

func TestProjectBatchContainsItemFailures(t *testing.T) {
	ctx := context.Background()
	p, graph, canonical := newProjector(t)

	entities := []models.Entity{doctor("d1", "D1"), doctor("d2", "D2"), doctor("d3", "D3")}
	canonical.Put(entities...)
	graph.FailKey("node:Doctor:d2", -1)

	facts := []models.RelationshipFact{
		{Type: models.EdgeFollows, From: ref("d1"), To: ref("d3")},
		{Type: models.EdgeFollows, From: ref("d2"), To: ref("d3")},
	}

	summary, err := p.ProjectBatch(ctx, entities, facts)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Entity(models.EntityTypeDoctor).Created)
	assert.Equal(t, 1, summary.Entity(models.EntityTypeDoctor).Failed)
	assert.Equal(t, 1, summary.Edge(models.EdgeFollows).Created)
	assert.Equal(t, 1, summary.Edge(models.EdgeFollows).Skipped)
}

func TestProjectBatchAbortsWhenGraphIsDown(t *testing.T) {
	p, graph, _ := newProjector(t)
	graph.SetUnavailable(true)

	summary, err := p.ProjectBatch(context.Background(), []models.Entity{doctor("d1", "D1")}, nil)
	assert.True(t, models.IsTransient(err))
	assert.Nil(t, summary)
}

func TestProjectBatchTwiceConverges(t *testing.T) {
	ctx := context.Background()
	p, graph, canonical := newProjector(t)

	entities := []models.Entity{doctor("d1", "D1"), doctor("d2", "D2")}
	canonical.Put(entities...)
	facts := []models.RelationshipFact{
		{Type: models.EdgeConnectedTo, From: ref("d1"), To: ref("d2")},
		{ID: "ev1", Type: models.EdgeEndorsed, From: ref("d1"), To: ref("d2"), Attributes: map[string]any{"skill": "Ecocardiograma"}},
	}

	_, err := p.ProjectBatch(ctx, entities, facts)
	require.NoError(t, err)
	before := graph.EdgeCount()

	summary, err := p.ProjectBatch(ctx, entities, facts)
	require.NoError(t, err)
	assert.Equal(t, before, graph.EdgeCount())
	assert.Equal(t, 2, summary.Entity(models.EntityTypeDoctor).Updated)

	edges, _ := graph.GetEdges(ctx, models.EdgeEndorsed, ref("d1"), ref("d2"))
	require.Len(t, edges, 1)
	assert.Equal(t, int64(1), edges[0].Properties["count"])
}

func TestBackfill(t *testing.T) {
	ctx := context.Background()
	p, graph, canonical := newProjector(t)
	p.cfg.PageSize = 2

	canonical.Put(doctor("d1", "D1"), doctor("d2", "D2"), doctor("d3", "D3"), specialty("s1", "Cardiologia"))
	canonical.PutFacts(
		models.RelationshipFact{Type: models.EdgeSpecializesIn, From: ref("d1"), To: models.Ref{Type: models.EntityTypeSpecialty, ID: "s1"}},
		models.RelationshipFact{Type: models.EdgeConnectedTo, From: ref("d1"), To: ref("d2")},
		models.RelationshipFact{Type: models.EdgeConnectedTo, From: ref("d1"), To: ref("d3")},
	)

	summary, err := p.Backfill(ctx, Scope{})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Entity(models.EntityTypeDoctor).Created)
	assert.Equal(t, 2, summary.Edge(models.EdgeConnectedTo).Created)

	n, _ := graph.CountNodes(ctx, models.EntityTypeSpecialty)
	assert.Equal(t, int64(1), n)

	t.Run("edge only scope skips nodes", func(t *testing.T) {
		summary, err := p.Backfill(ctx, Scope{EdgeTypes: []models.EdgeType{models.EdgeConnectedTo}})
		require.NoError(t, err)
		assert.Zero(t, summary.Entity(models.EntityTypeDoctor).Total())
		assert.Equal(t, 2, summary.Edge(models.EdgeConnectedTo).Updated)
	})
}

func TestBackfillStopsWhenCanonicalFails(t *testing.T) {
	p, _, canonical := newProjector(t)
	canonical.FailKey("entities:Specialty", 1)

	_, err := p.Backfill(context.Background(), Scope{})
	assert.True(t, models.IsTransient(err))
}

func TestScopeOrdersEntityTypes(t *testing.T) {
	scope := Scope{EntityTypes: []models.EntityType{models.EntityTypeJob, models.EntityTypeSpecialty, models.EntityTypeDoctor}}
	assert.Equal(t, []models.EntityType{models.EntityTypeSpecialty, models.EntityTypeDoctor, models.EntityTypeJob}, scope.Entities())
	assert.Nil(t, scope.Edges())
}
