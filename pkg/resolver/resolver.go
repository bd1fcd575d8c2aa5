// Package resolver computes the delivery set of an author's new content.
package resolver

import (
	"context"
	"fmt"
	"sort"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Mode selects where the delivery set comes from. It is always configured, never inferred.
type Mode string

const (
	// ModeGraph delivers to doctors connected to or following the author.
	ModeGraph Mode = "graph"
	// ModeAllMembers delivers to every doctor. Used for initial population only.
	ModeAllMembers Mode = "all_members"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeGraph, ModeAllMembers:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown recipient mode %q: %w", s, models.ErrInvalidInput)
}

// AudienceSource is the graph traversal. *graph.Store implements it.
type AudienceSource interface {
	Audience(ctx context.Context, authorID string) ([]string, error)
}

// MemberSource lists every member. The canonical repository implements it.
type MemberSource interface {
	ActiveDoctorIDs(ctx context.Context) ([]string, error)
}

// DeliverySet is sorted, free of duplicates and never contains the author.
type DeliverySet []string

func (s DeliverySet) Contains(id string) bool {
	return ectolinq.Contains(s, id)
}

type Resolver struct {
	mode    Mode
	graph   AudienceSource
	members MemberSource
	logger  ectologger.Logger
}

func New(mode Mode, graph AudienceSource, members MemberSource, logger ectologger.Logger) *Resolver {
	return &Resolver{mode: mode, graph: graph, members: members, logger: logger}
}

func (r *Resolver) Mode() Mode {
	return r.mode
}

// WithMode returns a copy of the resolver in another mode.
func (r *Resolver) WithMode(mode Mode) *Resolver {
	clone := *r
	clone.mode = mode
	return &clone
}

// Resolve returns the delivery set of authorID. An empty set is valid.
func (r *Resolver) Resolve(ctx context.Context, authorID string) (DeliverySet, error) {
	ctx, span := tracing.StartSpan(ctx, "Resolver.Resolve")
	defer span.End()

	var (
		ids []string
		err error
	)
	switch r.mode {
	case ModeGraph:
		ids, err = r.graph.Audience(ctx, authorID)
	case ModeAllMembers:
		ids, err = r.members.ActiveDoctorIDs(ctx)
	default:
		err = fmt.Errorf("unknown recipient mode %q: %w", r.mode, models.ErrInvalidInput)
	}
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to resolve delivery set of %s: %w", authorID, err)
	}

	set := dedupe(ids, authorID)
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"author_id":  authorID,
		"mode":       r.mode,
		"recipients": len(set),
	}).Debug("Resolved delivery set")
	return set, nil
}

func dedupe(ids []string, authorID string) DeliverySet {
	seen := make(map[string]bool, len(ids))
	set := make(DeliverySet, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == authorID || seen[id] {
			continue
		}
		seen[id] = true
		set = append(set, id)
	}
	sort.Strings(set)
	return set
}
