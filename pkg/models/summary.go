package models

import (
	"sync"
	"time"
)

// Outcome of one projection unit.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeRemoved Outcome = "removed"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// OutcomeCounts tallies outcomes for one entity or edge type.
type OutcomeCounts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func (c *OutcomeCounts) add(o Outcome) {
	switch o {
	case OutcomeCreated:
		c.Created++
	case OutcomeUpdated:
		c.Updated++
	case OutcomeRemoved:
		c.Removed++
	case OutcomeSkipped:
		c.Skipped++
	case OutcomeFailed:
		c.Failed++
	}
}

func (c OutcomeCounts) Total() int {
	return c.Created + c.Updated + c.Removed + c.Skipped + c.Failed
}

// ProjectionSummary is the per-run report of a projection. Safe for concurrent use.
type ProjectionSummary struct {
	mu         sync.Mutex
	Entities   map[EntityType]*OutcomeCounts `json:"entities"`
	Edges      map[EdgeType]*OutcomeCounts   `json:"edges"`
	StartedAt  time.Time                     `json:"started_at"`
	FinishedAt time.Time                     `json:"finished_at,omitempty"`
}

func NewProjectionSummary(startedAt time.Time) *ProjectionSummary {
	return &ProjectionSummary{
		Entities:  make(map[EntityType]*OutcomeCounts),
		Edges:     make(map[EdgeType]*OutcomeCounts),
		StartedAt: startedAt,
	}
}

func (s *ProjectionSummary) RecordEntity(t EntityType, o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts, ok := s.Entities[t]
	if !ok {
		counts = &OutcomeCounts{}
		s.Entities[t] = counts
	}
	counts.add(o)
}

func (s *ProjectionSummary) RecordEdge(t EdgeType, o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts, ok := s.Edges[t]
	if !ok {
		counts = &OutcomeCounts{}
		s.Edges[t] = counts
	}
	counts.add(o)
}

// Entity returns a copy of the counts for t.
func (s *ProjectionSummary) Entity(t EntityType) OutcomeCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	if counts, ok := s.Entities[t]; ok {
		return *counts
	}
	return OutcomeCounts{}
}

// Edge returns a copy of the counts for t.
func (s *ProjectionSummary) Edge(t EdgeType) OutcomeCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	if counts, ok := s.Edges[t]; ok {
		return *counts
	}
	return OutcomeCounts{}
}

// Totals sums every entity and edge type.
func (s *ProjectionSummary) Totals() OutcomeCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total OutcomeCounts
	for _, c := range s.Entities {
		total.Created += c.Created
		total.Updated += c.Updated
		total.Removed += c.Removed
		total.Skipped += c.Skipped
		total.Failed += c.Failed
	}
	for _, c := range s.Edges {
		total.Created += c.Created
		total.Updated += c.Updated
		total.Removed += c.Removed
		total.Skipped += c.Skipped
		total.Failed += c.Failed
	}
	return total
}

func (s *ProjectionSummary) Finish(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FinishedAt = at
}

// FanOutSummary is the outcome of one publish.
type FanOutSummary struct {
	ContentID    string    `json:"content_id"`
	AuthorID     string    `json:"author_id"`
	CreatedAt    time.Time `json:"created_at"`
	Recipients   int       `json:"recipients"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	Queued       int       `json:"queued"`
	FailedIDs    []string  `json:"failed_ids,omitempty"`
	ResolveError string    `json:"resolve_error,omitempty"`
	Duplicate    bool      `json:"duplicate,omitempty"`
}

// FailedDelivery is a queued redelivery. An empty RecipientID means the
// delivery set itself could not be resolved and the whole fan-out is pending.
type FailedDelivery struct {
	ID          string      `json:"id"`
	Content     ContentItem `json:"content"`
	RecipientID string      `json:"recipient_id,omitempty"`
	Attempts    int         `json:"attempts"`
	LastError   string      `json:"last_error,omitempty"`
	EnqueuedAt  time.Time   `json:"enqueued_at"`
}

// IsResolvePending reports whether the entry stands for an unresolved delivery set.
func (d FailedDelivery) IsResolvePending() bool {
	return d.RecipientID == ""
}

// TypeDrift compares canonical and graph counts for one type.
type TypeDrift struct {
	Canonical int64 `json:"canonical"`
	Graph     int64 `json:"graph"`
}

func (d TypeDrift) Delta() int64 {
	return d.Graph - d.Canonical
}

// ReconciliationScope limits a reconcile run. Empty slices mean everything.
type ReconciliationScope struct {
	EntityTypes []EntityType `json:"entity_types,omitempty"`
	EdgeTypes   []EdgeType   `json:"edge_types,omitempty"`
	DryRun      bool         `json:"dry_run"`
	// Prune removes graph nodes whose canonical record no longer exists.
	Prune bool `json:"prune"`
}

// ReconciliationReport is the outcome of a reconcile run.
type ReconciliationReport struct {
	ID         string                   `json:"id"`
	Scope      ReconciliationScope      `json:"scope"`
	Projection *ProjectionSummary       `json:"projection,omitempty"`
	NodeDrift  map[EntityType]TypeDrift `json:"node_drift"`
	EdgeDrift  map[EdgeType]TypeDrift   `json:"edge_drift"`
	Pruned     map[EntityType]int       `json:"pruned,omitempty"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
	Error      string                   `json:"error,omitempty"`
}

// Drifted reports whether any type's counts disagree.
func (r *ReconciliationReport) Drifted() bool {
	for _, d := range r.NodeDrift {
		if d.Delta() != 0 {
			return true
		}
	}
	for _, d := range r.EdgeDrift {
		if d.Delta() != 0 {
			return true
		}
	}
	return false
}
