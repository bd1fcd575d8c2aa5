package graph

import (
	"fmt"
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
)

// sanitizeLabel keeps identifiers interpolated into Cypher to [A-Za-z0-9_].
func sanitizeLabel(label string) string {
	var b strings.Builder
	for _, c := range label {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			b.WriteRune(c)
		}
	}
	if b.Len() == 0 {
		return "Entity"
	}
	return b.String()
}

func mergeNodeCypher(t models.EntityType) string {
	return fmt.Sprintf(`
		MERGE (n:%s {pgId: $pgId})
		SET n:Entity
		SET n += $props
		RETURN n.pgId AS pgId`, sanitizeLabel(string(t)))
}

func deleteNodeCypher(t models.EntityType) string {
	return fmt.Sprintf(`
		MATCH (n:%s {pgId: $pgId})
		DETACH DELETE n`, sanitizeLabel(string(t)))
}

func getNodeCypher(t models.EntityType) string {
	return fmt.Sprintf(`
		MATCH (n:%s {pgId: $pgId})
		RETURN properties(n) AS props`, sanitizeLabel(string(t)))
}

func endpointsCypher(fact models.RelationshipFact) string {
	return fmt.Sprintf(`
		MATCH (a:%s {pgId: $fromId})
		MATCH (b:%s {pgId: $toId})`,
		sanitizeLabel(string(fact.From.Type)), sanitizeLabel(string(fact.To.Type)))
}

// edgePattern renders the relationship pattern including the merge key, if any.
func edgePattern(variable string, spec models.EdgeSpec) string {
	rel := sanitizeLabel(string(spec.Type))
	if spec.KeyAttribute != "" {
		return fmt.Sprintf("[%s:%s {%s: $key}]", variable, rel, sanitizeLabel(spec.KeyAttribute))
	}
	return fmt.Sprintf("[%s:%s]", variable, rel)
}

// mergeEdgeCypher builds the idempotent edge upsert. Symmetric edges are merged in
// both directions. Cumulative edges record the ids of the events already applied
// so a replayed event leaves the counter untouched.
func mergeEdgeCypher(spec models.EdgeSpec, fact models.RelationshipFact) string {
	var b strings.Builder
	b.WriteString(endpointsCypher(fact))

	switch {
	case spec.IsCumulative():
		counter := sanitizeLabel(spec.CumulativeAttribute)
		fmt.Fprintf(&b, `
		MERGE (a)-%s->(b)
		ON CREATE SET e.%[2]s = 0, e.eventIds = []
		WITH e, ($eventId <> '' AND $eventId IN e.eventIds) AS replay
		SET e.%[2]s = CASE WHEN replay THEN e.%[2]s ELSE e.%[2]s + 1 END,
		    e.eventIds = CASE WHEN replay OR $eventId = '' THEN e.eventIds ELSE e.eventIds + $eventId END
		SET e += $props
		RETURN e.%[2]s AS count, replay`, edgePattern("e", spec), counter)
	case spec.Symmetric:
		fmt.Fprintf(&b, `
		MERGE (a)-%s->(b)
		MERGE (b)-%s->(a)
		SET e += $props, r += $props
		RETURN 1 AS matched`, edgePattern("e", spec), edgePattern("r", spec))
	default:
		fmt.Fprintf(&b, `
		MERGE (a)-%s->(b)
		SET e += $props
		RETURN 1 AS matched`, edgePattern("e", spec))
	}
	return b.String()
}

// deleteEdgeCypher removes the edge for fact. For cumulative edges it retracts a
// single event and deletes the edge once the counter reaches zero.
func deleteEdgeCypher(spec models.EdgeSpec, fact models.RelationshipFact) string {
	from := sanitizeLabel(string(fact.From.Type))
	to := sanitizeLabel(string(fact.To.Type))
	arrow := "->"
	if spec.Symmetric {
		arrow = "-"
	}
	match := fmt.Sprintf(`
		MATCH (a:%s {pgId: $fromId})-%s%s(b:%s {pgId: $toId})`, from, edgePattern("e", spec), arrow, to)

	if spec.IsCumulative() {
		counter := sanitizeLabel(spec.CumulativeAttribute)
		return match + fmt.Sprintf(`
		WHERE $eventId = '' OR $eventId IN e.eventIds
		SET e.%[1]s = e.%[1]s - 1, e.eventIds = [x IN e.eventIds WHERE x <> $eventId]
		WITH e WHERE e.%[1]s <= 0
		DELETE e`, counter)
	}
	return match + `
		DELETE e`
}

func getEdgesCypher(spec models.EdgeSpec, from, to models.Ref) string {
	rel := sanitizeLabel(string(spec.Type))
	return fmt.Sprintf(`
		MATCH (a:%s {pgId: $fromId})-[e:%s]->(b:%s {pgId: $toId})
		RETURN properties(e) AS props`,
		sanitizeLabel(string(from.Type)), rel, sanitizeLabel(string(to.Type)))
}

func countNodesCypher(t models.EntityType) string {
	return fmt.Sprintf(`MATCH (n:%s) RETURN count(n) AS total`, sanitizeLabel(string(t)))
}

// countEdgesCypher counts logical facts: a symmetric pair counts once.
func countEdgesCypher(spec models.EdgeSpec) string {
	rel := sanitizeLabel(string(spec.Type))
	if spec.Symmetric {
		return fmt.Sprintf(`
		MATCH (a)-[:%s]-(b)
		WHERE a.pgId < b.pgId
		RETURN count(DISTINCT [a.pgId, b.pgId]) AS total`, rel)
	}
	return fmt.Sprintf(`MATCH ()-[e:%s]->() RETURN count(e) AS total`, rel)
}

func nodeIDsCypher(t models.EntityType) string {
	return fmt.Sprintf(`MATCH (n:%s) RETURN n.pgId AS pgId`, sanitizeLabel(string(t)))
}

const audienceCypher = `
		MATCH (f:Doctor)-[:CONNECTED_TO|FOLLOWS]->(a:Doctor {pgId: $authorId})
		WHERE f.pgId <> $authorId
		RETURN DISTINCT f.pgId AS pgId
		ORDER BY pgId`

func constraintCypher(t models.EntityType) string {
	label := sanitizeLabel(string(t))
	return fmt.Sprintf(`CREATE CONSTRAINT %s_pgid IF NOT EXISTS FOR (n:%s) REQUIRE n.pgId IS UNIQUE`,
		strings.ToLower(label), label)
}

func edgeParams(spec models.EdgeSpec, fact models.RelationshipFact) map[string]any {
	params := map[string]any{
		"fromId": fact.From.ID,
		"toId":   fact.To.ID,
		"props":  fact.EdgeProperties(spec),
	}
	if spec.KeyAttribute != "" {
		params["key"] = fact.Key(spec)
	}
	if spec.IsCumulative() {
		params["eventId"] = fact.ID
	}
	return params
}
