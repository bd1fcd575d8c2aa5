package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Ramsey-B/fern/pkg/models"
)

type edge struct {
	spec     models.EdgeSpec
	from, to models.Ref
	key      string
	props    map[string]any
}

// Graph is an in-memory property graph keyed like the Bolt adapter: nodes by
// (label, pgId), edges by (type, from, to[, key]).
type Graph struct {
	Faults

	mu    sync.Mutex
	nodes map[models.Ref]map[string]any
	edges map[string]*edge
}

func NewGraph() *Graph {
	return &Graph{
		nodes: map[models.Ref]map[string]any{},
		edges: map[string]*edge{},
	}
}

func edgeKey(t models.EdgeType, from, to models.Ref, key string) string {
	return fmt.Sprintf("%s|%s|%s|%s", t, from, to, key)
}

func (g *Graph) Ping(context.Context) error {
	return g.read("graph")
}

func (g *Graph) MergeNode(_ context.Context, e models.Entity) (models.Outcome, error) {
	if err := g.write("node:" + e.Ref().String()); err != nil {
		return models.OutcomeFailed, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	props, exists := g.nodes[e.Ref()]
	if !exists {
		props = map[string]any{}
		g.nodes[e.Ref()] = props
	}
	for k, v := range e.DisplayProperties() {
		props[k] = v
	}
	props["pgId"] = e.ID
	if exists {
		return models.OutcomeUpdated, nil
	}
	return models.OutcomeCreated, nil
}

func (g *Graph) DeleteNode(_ context.Context, ref models.Ref) (bool, error) {
	if err := g.write("node:" + ref.String()); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[ref]; !ok {
		return false, nil
	}
	delete(g.nodes, ref)
	for k, e := range g.edges {
		if e.from == ref || e.to == ref {
			delete(g.edges, k)
		}
	}
	return true, nil
}

// GetNode returns the stored node, or ErrNotFound.
func (g *Graph) GetNode(_ context.Context, ref models.Ref) (*models.Entity, error) {
	if err := g.read("node:" + ref.String()); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	props, ok := g.nodes[ref]
	if !ok {
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

func (g *Graph) MergeEdge(_ context.Context, fact models.RelationshipFact) (models.Outcome, error) {
	spec, err := fact.Validate()
	if err != nil {
		return models.OutcomeFailed, err
	}
	if err := g.write("edge:" + fact.Identity()); err != nil {
		return models.OutcomeFailed, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	_, fromOK := g.nodes[fact.From]
	_, toOK := g.nodes[fact.To]
	if !fromOK || !toOK {
		return models.OutcomeSkipped, fmt.Errorf("%s %s->%s: %w", fact.Type, fact.From, fact.To, models.ErrMissingReference)
	}

	key := fact.Key(spec)
	props := fact.EdgeProperties(spec)
	created := g.mergeDirected(spec, fact.From, fact.To, key, props, fact.ID)
	if spec.Symmetric {
		g.mergeDirected(spec, fact.To, fact.From, key, props, fact.ID)
	}
	if created {
		return models.OutcomeCreated, nil
	}
	return models.OutcomeUpdated, nil
}

func (g *Graph) mergeDirected(spec models.EdgeSpec, from, to models.Ref, key string, props map[string]any, eventID string) bool {
	k := edgeKey(spec.Type, from, to, key)
	e, exists := g.edges[k]
	if !exists {
		e = &edge{spec: spec, from: from, to: to, key: key, props: map[string]any{}}
		if spec.KeyAttribute != "" {
			e.props[spec.KeyAttribute] = key
		}
		if spec.IsCumulative() {
			e.props[spec.CumulativeAttribute] = int64(0)
			e.props["eventIds"] = []string{}
		}
		g.edges[k] = e
	}

	if spec.IsCumulative() {
		events, _ := e.props["eventIds"].([]string)
		replay := eventID != "" && contains(events, eventID)
		if !replay {
			count, _ := e.props[spec.CumulativeAttribute].(int64)
			e.props[spec.CumulativeAttribute] = count + 1
			if eventID != "" {
				e.props["eventIds"] = append(append([]string(nil), events...), eventID)
			}
		}
	}
	for k, v := range props {
		e.props[k] = v
	}
	return !exists
}

func (g *Graph) DeleteEdge(_ context.Context, fact models.RelationshipFact) (bool, error) {
	spec, ok := models.LookupEdgeSpec(fact.Type)
	if !ok {
		return false, fmt.Errorf("unknown edge type %q: %w", fact.Type, models.ErrInvalidInput)
	}
	if err := g.write("edge:" + fact.Identity()); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	key := fact.Key(spec)
	changed := g.deleteDirected(spec, fact.From, fact.To, key, fact.ID)
	if spec.Symmetric {
		changed = g.deleteDirected(spec, fact.To, fact.From, key, fact.ID) || changed
	}
	return changed, nil
}

func (g *Graph) deleteDirected(spec models.EdgeSpec, from, to models.Ref, key, eventID string) bool {
	k := edgeKey(spec.Type, from, to, key)
	e, ok := g.edges[k]
	if !ok {
		return false
	}
	if !spec.IsCumulative() {
		delete(g.edges, k)
		return true
	}

	events, _ := e.props["eventIds"].([]string)
	if eventID != "" && !contains(events, eventID) {
		return false
	}
	count, _ := e.props[spec.CumulativeAttribute].(int64)
	if count-1 <= 0 {
		delete(g.edges, k)
		return true
	}
	e.props[spec.CumulativeAttribute] = count - 1
	remaining := make([]string, 0, len(events))
	for _, id := range events {
		if id != eventID {
			remaining = append(remaining, id)
		}
	}
	e.props["eventIds"] = remaining
	return true
}

// GetEdges returns every edge of type t from -> to.
func (g *Graph) GetEdges(_ context.Context, t models.EdgeType, from, to models.Ref) ([]models.GraphEdge, error) {
	if err := g.read("edges"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []models.GraphEdge
	for _, e := range g.edges {
		if e.spec.Type == t && e.from == from && e.to == to {
			props := make(map[string]any, len(e.props))
			for k, v := range e.props {
				props[k] = v
			}
			out = append(out, models.GraphEdge{Type: t, From: from, To: to, Properties: props})
		}
	}
	return out, nil
}

// Audience returns the distinct doctors with CONNECTED_TO or FOLLOWS towards authorID.
func (g *Graph) Audience(_ context.Context, authorID string) ([]string, error) {
	if err := g.read("audience:" + authorID); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	author := models.Ref{Type: models.EntityTypeDoctor, ID: authorID}
	seen := map[string]bool{}
	var ids []string
	for _, e := range g.edges {
		if e.to != author || e.from.Type != models.EntityTypeDoctor || e.from.ID == authorID {
			continue
		}
		if e.spec.Type != models.EdgeConnectedTo && e.spec.Type != models.EdgeFollows {
			continue
		}
		if !seen[e.from.ID] {
			seen[e.from.ID] = true
			ids = append(ids, e.from.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (g *Graph) CountNodes(_ context.Context, t models.EntityType) (int64, error) {
	if err := g.read("count"); err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	var n int64
	for ref := range g.nodes {
		if ref.Type == t {
			n++
		}
	}
	return n, nil
}

// CountEdges counts logical edges: a symmetric pair counts once.
func (g *Graph) CountEdges(_ context.Context, t models.EdgeType) (int64, error) {
	if err := g.read("count"); err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	var n int64
	for _, e := range g.edges {
		if e.spec.Type != t {
			continue
		}
		if e.spec.Symmetric && e.from.ID > e.to.ID {
			continue
		}
		n++
	}
	return n, nil
}

func (g *Graph) NodeIDs(_ context.Context, t models.EntityType) ([]string, error) {
	if err := g.read("ids"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	var ids []string
	for ref := range g.nodes {
		if ref.Type == t {
			ids = append(ids, ref.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// EdgeCount is the number of stored directed relationships, symmetric pairs counting twice.
func (g *Graph) EdgeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.edges)
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
