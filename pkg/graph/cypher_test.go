package graph

import (
	"errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

var neo4jConstraintError = neo4j.Neo4jError{Code: constraintViolation, Msg: "node already exists"}

func endorsement(id string) models.RelationshipFact {
	return models.RelationshipFact{
		ID:         id,
		Type:       models.EdgeEndorsed,
		From:       models.Ref{Type: models.EntityTypeDoctor, ID: "d1"},
		To:         models.Ref{Type: models.EntityTypeDoctor, ID: "d2"},
		Attributes: map[string]any{"skill": "Ecocardiograma", "endorsedAt": "2024-01-01"},
	}
}

func TestSanitizeLabel(t *testing.T) {
	assert.Equal(t, "Doctor", sanitizeLabel("Doctor"))
	assert.Equal(t, "DoctorDETACHDELETEn", sanitizeLabel("Doctor) DETACH DELETE (n"))
	assert.Equal(t, "Entity", sanitizeLabel("!!"))
}

func TestMergeNodeCypher(t *testing.T) {
	cypher := mergeNodeCypher(models.EntityTypeSpecialty)
	assert.Contains(t, cypher, "MERGE (n:Specialty {pgId: $pgId})")
	assert.Contains(t, cypher, "SET n += $props")
}

func TestMergeEdgeCypher(t *testing.T) {
	t.Run("pair keyed edge", func(t *testing.T) {
		fact := models.RelationshipFact{
			Type: models.EdgeWorksAt,
			From: models.Ref{Type: models.EntityTypeDoctor, ID: "d1"},
			To:   models.Ref{Type: models.EntityTypeInstitution, ID: "i1"},
		}
		spec, err := fact.Validate()
		require.NoError(t, err)

		cypher := mergeEdgeCypher(spec, fact)
		assert.Contains(t, cypher, "MATCH (a:Doctor {pgId: $fromId})")
		assert.Contains(t, cypher, "MATCH (b:Institution {pgId: $toId})")
		assert.Contains(t, cypher, "MERGE (a)-[e:WORKS_AT]->(b)")
		assert.NotContains(t, cypher, "$key")
	})

	t.Run("symmetric edge merges both directions", func(t *testing.T) {
		fact := models.RelationshipFact{
			Type: models.EdgeConnectedTo,
			From: models.Ref{Type: models.EntityTypeDoctor, ID: "d1"},
			To:   models.Ref{Type: models.EntityTypeDoctor, ID: "d2"},
		}
		spec, err := fact.Validate()
		require.NoError(t, err)

		cypher := mergeEdgeCypher(spec, fact)
		assert.Contains(t, cypher, "MERGE (a)-[e:CONNECTED_TO]->(b)")
		assert.Contains(t, cypher, "MERGE (b)-[r:CONNECTED_TO]->(a)")
	})

	t.Run("cumulative edge is keyed and counts events", func(t *testing.T) {
		fact := endorsement("evt-1")
		spec, err := fact.Validate()
		require.NoError(t, err)

		cypher := mergeEdgeCypher(spec, fact)
		assert.Contains(t, cypher, "MERGE (a)-[e:ENDORSED {skill: $key}]->(b)")
		assert.Contains(t, cypher, "ON CREATE SET e.count = 0, e.eventIds = []")
		assert.Contains(t, cypher, "e.count + 1")

		params := edgeParams(spec, fact)
		assert.Equal(t, "Ecocardiograma", params["key"])
		assert.Equal(t, "evt-1", params["eventId"])
		props := params["props"].(map[string]any)
		assert.NotContains(t, props, "skill")
		assert.Equal(t, "2024-01-01", props["endorsedAt"])
	})
}

func TestDeleteEdgeCypher(t *testing.T) {
	fact := endorsement("evt-1")
	spec, _ := models.LookupEdgeSpec(models.EdgeEndorsed)
	cypher := deleteEdgeCypher(spec, fact)
	assert.Contains(t, cypher, "e.count = e.count - 1")
	assert.Contains(t, cypher, "WITH e WHERE e.count <= 0")

	connected, _ := models.LookupEdgeSpec(models.EdgeConnectedTo)
	cypher = deleteEdgeCypher(connected, models.RelationshipFact{
		Type: models.EdgeConnectedTo,
		From: models.Ref{Type: models.EntityTypeDoctor, ID: "d1"},
		To:   models.Ref{Type: models.EntityTypeDoctor, ID: "d2"},
	})
	assert.Contains(t, cypher, "-[e:CONNECTED_TO]-(b:Doctor")
}

func TestCountEdgesCypher(t *testing.T) {
	connected, _ := models.LookupEdgeSpec(models.EdgeConnectedTo)
	assert.Contains(t, countEdgesCypher(connected), "count(DISTINCT [a.pgId, b.pgId])")

	follows, _ := models.LookupEdgeSpec(models.EdgeFollows)
	assert.Equal(t, "MATCH ()-[e:FOLLOWS]->() RETURN count(e) AS total", countEdgesCypher(follows))
}

func TestIsReadOnly(t *testing.T) {
	assert.True(t, IsReadOnly("MATCH (d:Doctor)-[:SPECIALIZES_IN]->(s:Specialty) RETURN d, s"))
	assert.True(t, IsReadOnly("MATCH (n) WHERE n.name = 'Offset' RETURN n"))
	assert.False(t, IsReadOnly("MATCH (n) DETACH DELETE n"))
	assert.False(t, IsReadOnly("match (n) set n.x = 1"))
	assert.False(t, IsReadOnly("MERGE (n:Doctor {pgId: '1'})"))
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil))

	missing := errors.New("x")
	assert.Same(t, missing, classify(missing))

	wrapped := classify(&neo4jConstraintError)
	assert.ErrorIs(t, wrapped, models.ErrDuplicateFact)
}
