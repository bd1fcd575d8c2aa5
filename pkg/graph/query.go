package graph

import (
	"context"
	"fmt"
	"regexp"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// QueryService runs ad-hoc read-only traversals for operators.
type QueryService struct {
	client *Client
	logger ectologger.Logger
}

func NewQueryService(client *Client, logger ectologger.Logger) *QueryService {
	return &QueryService{client: client, logger: logger}
}

// QueryResult holds the deduplicated nodes and relationships plus the raw rows.
type QueryResult struct {
	Nodes         []NodeResult     `json:"nodes"`
	Relationships []RelResult      `json:"relationships"`
	Rows          []map[string]any `json:"rows"`
}

type NodeResult struct {
	ID         string         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

type RelResult struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Properties map[string]any `json:"properties"`
}

// Read paths never mutate the projection.
var writeClause = regexp.MustCompile(`(?i)\b(CREATE|MERGE|DELETE|DETACH|SET|REMOVE|DROP|LOAD\s+CSV|FOREACH)\b|\bCALL\s+apoc\.`)

// IsReadOnly reports whether cypher contains no write clauses.
func IsReadOnly(cypher string) bool {
	return !writeClause.MatchString(cypher)
}

// ExecuteQuery runs a read-only Cypher query.
func (s *QueryService) ExecuteQuery(ctx context.Context, cypher string, params map[string]any) (*QueryResult, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.QueryService.ExecuteQuery")
	defer span.End()

	if !IsReadOnly(cypher) {
		return nil, fmt.Errorf("only read queries are allowed: %w", models.ErrInvalidInput)
	}

	s.logger.WithContext(ctx).WithField("query", cypher).Debug("Executing graph query")

	res, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		return toQueryResult(records), nil
	})
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	qr, _ := res.(*QueryResult)
	return qr, nil
}

// Neighbors returns the nodes within hops of the given node.
func (s *QueryService) Neighbors(ctx context.Context, ref models.Ref, hops int) (*QueryResult, error) {
	if hops <= 0 || hops > 3 {
		hops = 1
	}
	cypher := fmt.Sprintf(`
		MATCH path = (n:%s {pgId: $pgId})-[*1..%d]-(m)
		RETURN path
		LIMIT 200`, sanitizeLabel(string(ref.Type)), hops)
	return s.ExecuteQuery(ctx, cypher, map[string]any{"pgId": ref.ID})
}

func toQueryResult(records []*neo4j.Record) *QueryResult {
	qr := &QueryResult{
		Nodes:         []NodeResult{},
		Relationships: []RelResult{},
		Rows:          make([]map[string]any, 0, len(records)),
	}
	seenNodes := map[string]bool{}
	seenRels := map[string]bool{}
	for _, record := range records {
		row := make(map[string]any, len(record.Keys))
		for i, key := range record.Keys {
			row[key] = extractValue(record.Values[i], qr, seenNodes, seenRels)
		}
		qr.Rows = append(qr.Rows, row)
	}
	return qr
}

func extractValue(val any, qr *QueryResult, seenNodes, seenRels map[string]bool) any {
	switch v := val.(type) {
	case nil:
		return nil
	case neo4j.Node:
		if !seenNodes[v.ElementId] {
			seenNodes[v.ElementId] = true
			qr.Nodes = append(qr.Nodes, NodeResult{ID: v.ElementId, Labels: v.Labels, Properties: v.Props})
		}
		return v.Props["pgId"]
	case neo4j.Relationship:
		if !seenRels[v.ElementId] {
			seenRels[v.ElementId] = true
			qr.Relationships = append(qr.Relationships, RelResult{
				ID:         v.ElementId,
				Type:       v.Type,
				From:       v.StartElementId,
				To:         v.EndElementId,
				Properties: v.Props,
			})
		}
		return v.Type
	case neo4j.Path:
		for _, node := range v.Nodes {
			extractValue(node, qr, seenNodes, seenRels)
		}
		for _, rel := range v.Relationships {
			extractValue(rel, qr, seenNodes, seenRels)
		}
		return map[string]any{"nodes": len(v.Nodes), "relationships": len(v.Relationships)}
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = extractValue(item, qr, seenNodes, seenRels)
		}
		return out
	default:
		return v
	}
}
