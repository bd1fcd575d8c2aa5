package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Store implements the merge-upsert and traversal contract over a Client.
type Store struct {
	client *Client
	logger ectologger.Logger
}

func NewStore(client *Client, logger ectologger.Logger) *Store {
	return &Store{client: client, logger: logger}
}

// Ping verifies the graph is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.VerifyConnectivity(ctx)
}

// EnsureSchema creates the pgId uniqueness constraint for every label.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.EnsureSchema")
	defer span.End()

	for _, t := range models.EntityTypes {
		cypher := constraintCypher(t)
		_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			result, err := tx.Run(ctx, cypher, nil)
			if err != nil {
				return nil, err
			}
			return result.Consume(ctx)
		})
		if err != nil {
			return fmt.Errorf("failed to create constraint for %s: %w", t, err)
		}
	}
	s.logger.WithContext(ctx).Info("Graph schema constraints ensured")
	return nil
}

// MergeNode creates the node for e or overwrites its display fields.
func (s *Store) MergeNode(ctx context.Context, e models.Entity) (models.Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.MergeNode")
	defer span.End()

	cypher := mergeNodeCypher(e.Type)
	params := map[string]any{
		"pgId":  e.ID,
		"props": e.DisplayProperties(),
	}

	res, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		summary, err := result.Consume(ctx)
		if err != nil {
			return nil, err
		}
		return summary.Counters().NodesCreated() > 0, nil
	})
	if err != nil {
		return models.OutcomeFailed, fmt.Errorf("failed to merge %s node %s: %w", e.Type, e.ID, err)
	}
	if created, _ := res.(bool); created {
		return models.OutcomeCreated, nil
	}
	return models.OutcomeUpdated, nil
}

// DeleteNode detaches and deletes the node. Deleting a missing node is not an error.
func (s *Store) DeleteNode(ctx context.Context, ref models.Ref) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.DeleteNode")
	defer span.End()

	cypher := deleteNodeCypher(ref.Type)
	res, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"pgId": ref.ID})
		if err != nil {
			return nil, err
		}
		summary, err := result.Consume(ctx)
		if err != nil {
			return nil, err
		}
		return summary.Counters().NodesDeleted() > 0, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete node %s: %w", ref, err)
	}
	deleted, _ := res.(bool)
	return deleted, nil
}

// GetNode returns the projected node, or ErrNotFound.
func (s *Store) GetNode(ctx context.Context, ref models.Ref) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.GetNode")
	defer span.End()

	cypher := getNodeCypher(ref.Type)
	res, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"pgId": ref.ID})
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, nil
		}
		props, _ := records[0].Get("props")
		m, _ := props.(map[string]any)
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read node %s: %w", ref, err)
	}
	props, _ := res.(map[string]any)
	if props == nil {
		return nil, fmt.Errorf("node %s: %w", ref, models.ErrNotFound)
	}

	entity := &models.Entity{ID: ref.ID, Type: ref.Type, Attributes: map[string]any{}}
	for k, v := range props {
		switch k {
		case "pgId":
		case "name":
			entity.Name, _ = v.(string)
		default:
			entity.Attributes[k] = v
		}
	}
	return entity, nil
}

type edgeWriteResult struct {
	matched bool
	created bool
	replay  bool
}

// MergeEdge upserts the edge for fact. Returns ErrMissingReference when an endpoint
// node has not been projected.
func (s *Store) MergeEdge(ctx context.Context, fact models.RelationshipFact) (models.Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.MergeEdge")
	defer span.End()

	spec, err := fact.Validate()
	if err != nil {
		return models.OutcomeFailed, err
	}

	cypher := mergeEdgeCypher(spec, fact)
	params := edgeParams(spec, fact)

	res, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		summary, err := result.Consume(ctx)
		if err != nil {
			return nil, err
		}
		out := edgeWriteResult{
			matched: len(records) > 0,
			created: summary.Counters().RelationshipsCreated() > 0,
		}
		if out.matched {
			if replay, ok := records[0].Get("replay"); ok {
				out.replay, _ = replay.(bool)
			}
		}
		return out, nil
	})
	if err != nil {
		return models.OutcomeFailed, fmt.Errorf("failed to merge %s %s->%s: %w", fact.Type, fact.From, fact.To, err)
	}

	out, _ := res.(edgeWriteResult)
	if !out.matched {
		return models.OutcomeSkipped, fmt.Errorf("%s %s->%s: %w", fact.Type, fact.From, fact.To, models.ErrMissingReference)
	}
	if out.created {
		return models.OutcomeCreated, nil
	}
	return models.OutcomeUpdated, nil
}

// DeleteEdge removes the edge for fact, or retracts one event of a cumulative edge.
func (s *Store) DeleteEdge(ctx context.Context, fact models.RelationshipFact) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.DeleteEdge")
	defer span.End()

	spec, ok := models.LookupEdgeSpec(fact.Type)
	if !ok {
		return false, fmt.Errorf("unknown edge type %q: %w", fact.Type, models.ErrInvalidInput)
	}

	cypher := deleteEdgeCypher(spec, fact)
	params := edgeParams(spec, fact)
	delete(params, "props")

	res, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		summary, err := result.Consume(ctx)
		if err != nil {
			return nil, err
		}
		counters := summary.Counters()
		return counters.RelationshipsDeleted() > 0 || counters.PropertiesSet() > 0, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete %s %s->%s: %w", fact.Type, fact.From, fact.To, err)
	}
	changed, _ := res.(bool)
	return changed, nil
}

// GetEdges returns every edge of type t from -> to.
func (s *Store) GetEdges(ctx context.Context, t models.EdgeType, from, to models.Ref) ([]models.GraphEdge, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.GetEdges")
	defer span.End()

	spec, ok := models.LookupEdgeSpec(t)
	if !ok {
		return nil, fmt.Errorf("unknown edge type %q: %w", t, models.ErrInvalidInput)
	}

	cypher := getEdgesCypher(spec, from, to)
	res, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"fromId": from.ID, "toId": to.ID})
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		edges := make([]models.GraphEdge, 0, len(records))
		for _, record := range records {
			props, _ := record.Get("props")
			m, _ := props.(map[string]any)
			edges = append(edges, models.GraphEdge{Type: t, From: from, To: to, Properties: m})
		}
		return edges, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s edges: %w", t, err)
	}
	edges, _ := res.([]models.GraphEdge)
	return edges, nil
}

// Audience returns the distinct doctors connected to or following authorID.
func (s *Store) Audience(ctx context.Context, authorID string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.Audience")
	defer span.End()

	res, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, audienceCypher, map[string]any{"authorId": authorID})
		if err != nil {
			return nil, err
		}
		return collectStrings(ctx, result, "pgId")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve audience of %s: %w", authorID, err)
	}
	ids, _ := res.([]string)
	return ids, nil
}

// CountNodes counts projected nodes of type t.
func (s *Store) CountNodes(ctx context.Context, t models.EntityType) (int64, error) {
	return s.count(ctx, countNodesCypher(t))
}

// CountEdges counts logical edges of type t.
func (s *Store) CountEdges(ctx context.Context, t models.EdgeType) (int64, error) {
	spec, ok := models.LookupEdgeSpec(t)
	if !ok {
		return 0, fmt.Errorf("unknown edge type %q: %w", t, models.ErrInvalidInput)
	}
	return s.count(ctx, countEdgesCypher(spec))
}

func (s *Store) count(ctx context.Context, cypher string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.count")
	defer span.End()

	res, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, nil)
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		total, _ := record.Get("total")
		n, _ := total.(int64)
		return n, nil
	})
	if err != nil {
		return 0, err
	}
	n, _ := res.(int64)
	return n, nil
}

// NodeIDs lists the pgIds of every node of type t.
func (s *Store) NodeIDs(ctx context.Context, t models.EntityType) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Store.NodeIDs")
	defer span.End()

	cypher := nodeIDsCypher(t)
	res, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, nil)
		if err != nil {
			return nil, err
		}
		return collectStrings(ctx, result, "pgId")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s ids: %w", t, err)
	}
	ids, _ := res.([]string)
	return ids, nil
}

func collectStrings(ctx context.Context, result neo4j.ResultWithContext, key string) ([]string, error) {
	var out []string
	for result.Next(ctx) {
		v, ok := result.Record().Get(key)
		if !ok {
			continue
		}
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, result.Err()
}
