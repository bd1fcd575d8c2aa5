package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Canonical is an in-memory system of record.
type Canonical struct {
	Faults

	mu       sync.Mutex
	entities map[models.EntityType]map[string]models.Entity
	facts    []models.RelationshipFact
}

func NewCanonical() *Canonical {
	return &Canonical{entities: map[models.EntityType]map[string]models.Entity{}}
}

func (c *Canonical) Put(entities ...models.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entities {
		if c.entities[e.Type] == nil {
			c.entities[e.Type] = map[string]models.Entity{}
		}
		c.entities[e.Type][e.ID] = e
	}
}

func (c *Canonical) Delete(t models.EntityType, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entities[t], id)
}

func (c *Canonical) PutFacts(facts ...models.RelationshipFact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.facts = append(c.facts, facts...)
}

func (c *Canonical) Ping(context.Context) error {
	return c.read("canonical")
}

func (c *Canonical) GetEntity(_ context.Context, t models.EntityType, id string) (models.Entity, error) {
	if err := c.read("entity:" + id); err != nil {
		return models.Entity{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entities[t][id]
	if !ok {
		return models.Entity{}, fmt.Errorf("%s %s: %w", t, id, models.ErrNotFound)
	}
	return e, nil
}

func (c *Canonical) EachEntity(ctx context.Context, t models.EntityType, pageSize int, fn func([]models.Entity) error) error {
	if err := c.read("entities:" + string(t)); err != nil {
		return err
	}
	c.mu.Lock()
	all := make([]models.Entity, 0, len(c.entities[t]))
	for _, e := range c.entities[t] {
		all = append(all, e)
	}
	c.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return chunk(all, pageSize, fn)
}

func (c *Canonical) EachFact(ctx context.Context, edge models.EdgeType, pageSize int, fn func([]models.RelationshipFact) error) error {
	if err := c.read("facts:" + string(edge)); err != nil {
		return err
	}
	c.mu.Lock()
	var all []models.RelationshipFact
	for _, f := range c.facts {
		if f.Type == edge {
			all = append(all, f)
		}
	}
	c.mu.Unlock()
	return chunk(all, pageSize, fn)
}

func (c *Canonical) CountEntities(_ context.Context, t models.EntityType) (int64, error) {
	if err := c.read("count"); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.entities[t])), nil
}

// CountFacts counts distinct logical edges the same way the Postgres adapter does.
func (c *Canonical) CountFacts(_ context.Context, edge models.EdgeType) (int64, error) {
	if err := c.read("count"); err != nil {
		return 0, err
	}
	spec, ok := models.LookupEdgeSpec(edge)
	if !ok {
		return 0, fmt.Errorf("unknown edge type %q: %w", edge, models.ErrInvalidInput)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := map[string]bool{}
	for _, f := range c.facts {
		if f.Type != edge {
			continue
		}
		from, to := f.From.ID, f.To.ID
		if spec.Symmetric && from > to {
			from, to = to, from
		}
		seen[from+"|"+to+"|"+f.Key(spec)] = true
	}
	return int64(len(seen)), nil
}

// PairLinked reports whether a stored fact of edge links a and b in either direction.
func (c *Canonical) PairLinked(_ context.Context, edge models.EdgeType, a, b models.Ref) (bool, error) {
	if err := c.read("facts:" + string(edge)); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, f := range c.facts {
		if f.Type != edge {
			continue
		}
		if (f.From == a && f.To == b) || (f.From == b && f.To == a) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Canonical) ExistingIDs(_ context.Context, t models.EntityType, ids []string) (map[string]bool, error) {
	if err := c.read("ids"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	existing := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := c.entities[t][id]; ok {
			existing[id] = true
		}
	}
	return existing, nil
}

func (c *Canonical) ActiveDoctorIDs(context.Context) ([]string, error) {
	if err := c.read("doctors"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.entities[models.EntityTypeDoctor]))
	for id := range c.entities[models.EntityTypeDoctor] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func chunk[T any](items []T, size int, fn func([]T) error) error {
	if size <= 0 {
		size = len(items)
	}
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		if err := fn(items[start:end]); err != nil {
			return err
		}
	}
	return nil
}
