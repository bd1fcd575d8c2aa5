package models

import (
	"fmt"
	"sort"
	"time"
)

// EdgeType is the graph relationship type.
type EdgeType string

const (
	EdgeConnectedTo        EdgeType = "CONNECTED_TO"
	EdgeFollows            EdgeType = "FOLLOWS"
	EdgeMentors            EdgeType = "MENTORS"
	EdgeEndorsed           EdgeType = "ENDORSED"
	EdgeWorksAt            EdgeType = "WORKS_AT"
	EdgeAuthored           EdgeType = "AUTHORED"
	EdgeSpecializesIn      EdgeType = "SPECIALIZES_IN"
	EdgeHasSkill           EdgeType = "HAS_SKILL"
	EdgeHoldsCertification EdgeType = "HOLDS_CERTIFICATION"
	EdgePosted             EdgeType = "POSTED"
	EdgeRequiresSpecialty  EdgeType = "REQUIRES_SPECIALTY"
	EdgeRelatesTo          EdgeType = "RELATES_TO"
	EdgeParticipatedIn     EdgeType = "PARTICIPATED_IN"
	EdgeMemberOf           EdgeType = "MEMBER_OF"
	EdgeFocusesOn          EdgeType = "FOCUSES_ON"
	EdgeCollaboratesOn     EdgeType = "COLLABORATES_ON"
	EdgeSpeaksAt           EdgeType = "SPEAKS_AT"
	EdgeAttends            EdgeType = "ATTENDS"
	EdgeTeaches            EdgeType = "TEACHES"
	EdgeEnrolledIn         EdgeType = "ENROLLED_IN"
	EdgeForSpecialty       EdgeType = "FOR_SPECIALTY"
	EdgePartOf             EdgeType = "PART_OF"
	EdgeProgressOn         EdgeType = "PROGRESS_ON"
	EdgeCites              EdgeType = "CITES"
	EdgeAppliedTo          EdgeType = "APPLIED_TO"
)

// Mentorship statuses carried on MENTORS edges.
const (
	MentorshipActive    = "ACTIVE"
	MentorshipCompleted = "COMPLETED"
	MentorshipPaused    = "PAUSED"
)

// EdgeSpec describes how one relationship type is keyed and merged in the graph.
type EdgeSpec struct {
	Type EdgeType
	From []EntityType
	To   []EntityType
	// KeyAttribute joins (from, to) in the merge key so distinct facts
	// between the same pair do not collide.
	KeyAttribute string
	// CumulativeAttribute is incremented once per distinct event instead of being overwritten.
	CumulativeAttribute string
	// Symmetric edges are stored in both directions.
	Symmetric bool
	// Enums restricts attribute values.
	Enums map[string][]string
}

func (s EdgeSpec) IsCumulative() bool {
	return s.CumulativeAttribute != ""
}

func (s EdgeSpec) allowsFrom(t EntityType) bool {
	return containsType(s.From, t)
}

func (s EdgeSpec) allowsTo(t EntityType) bool {
	return containsType(s.To, t)
}

func containsType(types []EntityType, t EntityType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

var doctor = []EntityType{EntityTypeDoctor}

var edgeSpecs = map[EdgeType]EdgeSpec{
	EdgeConnectedTo: {Type: EdgeConnectedTo, From: doctor, To: doctor, Symmetric: true},
	EdgeFollows:     {Type: EdgeFollows, From: doctor, To: doctor},
	EdgeMentors: {
		Type: EdgeMentors, From: doctor, To: doctor,
		Enums: map[string][]string{"status": {MentorshipActive, MentorshipCompleted, MentorshipPaused}},
	},
	EdgeEndorsed: {
		Type: EdgeEndorsed, From: doctor, To: doctor,
		KeyAttribute: "skill", CumulativeAttribute: "count",
	},
	EdgeWorksAt:            {Type: EdgeWorksAt, From: doctor, To: []EntityType{EntityTypeInstitution}},
	EdgeAuthored:           {Type: EdgeAuthored, From: doctor, To: []EntityType{EntityTypePublication, EntityTypeCaseStudy}},
	EdgeSpecializesIn:      {Type: EdgeSpecializesIn, From: doctor, To: []EntityType{EntityTypeSpecialty}},
	EdgeHasSkill:           {Type: EdgeHasSkill, From: doctor, To: []EntityType{EntityTypeSkill}},
	EdgeHoldsCertification: {Type: EdgeHoldsCertification, From: doctor, To: []EntityType{EntityTypeCertification}},
	EdgePosted:             {Type: EdgePosted, From: []EntityType{EntityTypeInstitution}, To: []EntityType{EntityTypeJob}},
	EdgeRequiresSpecialty:  {Type: EdgeRequiresSpecialty, From: []EntityType{EntityTypeJob}, To: []EntityType{EntityTypeSpecialty}},
	EdgeRelatesTo: {
		Type: EdgeRelatesTo,
		From: []EntityType{EntityTypePublication, EntityTypeCaseStudy},
		To:   []EntityType{EntityTypeSpecialty},
	},
	EdgeParticipatedIn: {Type: EdgeParticipatedIn, From: doctor, To: []EntityType{EntityTypeCaseStudy}},
	EdgeMemberOf:       {Type: EdgeMemberOf, From: doctor, To: []EntityType{EntityTypeStudyGroup}},
	EdgeFocusesOn: {
		Type: EdgeFocusesOn,
		From: []EntityType{EntityTypeStudyGroup, EntityTypeResearchProject},
		To:   []EntityType{EntityTypeSpecialty},
	},
	EdgeCollaboratesOn: {Type: EdgeCollaboratesOn, From: doctor, To: []EntityType{EntityTypeResearchProject}},
	EdgeSpeaksAt:       {Type: EdgeSpeaksAt, From: doctor, To: []EntityType{EntityTypeEvent}},
	EdgeAttends:        {Type: EdgeAttends, From: doctor, To: []EntityType{EntityTypeEvent}},
	EdgeTeaches:        {Type: EdgeTeaches, From: doctor, To: []EntityType{EntityTypeCourse}},
	EdgeEnrolledIn:     {Type: EdgeEnrolledIn, From: doctor, To: []EntityType{EntityTypeCourse}},
	EdgeForSpecialty:   {Type: EdgeForSpecialty, From: []EntityType{EntityTypeCareerPath}, To: []EntityType{EntityTypeSpecialty}},
	EdgePartOf:         {Type: EdgePartOf, From: []EntityType{EntityTypeCareerMilestone}, To: []EntityType{EntityTypeCareerPath}},
	EdgeProgressOn:     {Type: EdgeProgressOn, From: doctor, To: []EntityType{EntityTypeCareerMilestone}},
	EdgeCites:          {Type: EdgeCites, From: []EntityType{EntityTypePublication}, To: []EntityType{EntityTypePublication}},
	EdgeAppliedTo:      {Type: EdgeAppliedTo, From: doctor, To: []EntityType{EntityTypeJob}},
}

// LookupEdgeSpec returns the registered spec for t.
func LookupEdgeSpec(t EdgeType) (EdgeSpec, bool) {
	spec, ok := edgeSpecs[t]
	return spec, ok
}

// EdgeTypes returns every registered edge type, sorted.
func EdgeTypes() []EdgeType {
	types := make([]EdgeType, 0, len(edgeSpecs))
	for t := range edgeSpecs {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// ParseEdgeType validates a raw relationship type name.
func ParseEdgeType(s string) (EdgeType, error) {
	t := EdgeType(s)
	if _, ok := edgeSpecs[t]; !ok {
		return "", fmt.Errorf("unknown edge type %q: %w", s, ErrInvalidInput)
	}
	return t, nil
}

// RelationshipFact is one canonical relationship row. ID is the canonical row ID
// and identifies the event for cumulative edges: replaying the same fact never
// increments, a fact with an empty ID always does.
type RelationshipFact struct {
	ID         string         `json:"id,omitempty"`
	Type       EdgeType       `json:"type"`
	From       Ref            `json:"from"`
	To         Ref            `json:"to"`
	Attributes map[string]any `json:"attributes,omitempty"`
	OccurredAt time.Time      `json:"occurred_at,omitempty"`
}

// Key returns the differentiating attribute value, or "" for pair-keyed edges.
func (f RelationshipFact) Key(spec EdgeSpec) string {
	if spec.KeyAttribute == "" {
		return ""
	}
	v, _ := f.Attributes[spec.KeyAttribute].(string)
	return v
}

// Identity is the merge key of the fact's edge.
func (f RelationshipFact) Identity() string {
	spec, _ := LookupEdgeSpec(f.Type)
	if key := f.Key(spec); key != "" {
		return fmt.Sprintf("%s|%s|%s|%s", f.Type, f.From, f.To, key)
	}
	return fmt.Sprintf("%s|%s|%s", f.Type, f.From, f.To)
}

// EdgeProperties returns the attributes merged onto the edge, excluding the
// key and cumulative attributes which the merge itself manages.
func (f RelationshipFact) EdgeProperties(spec EdgeSpec) map[string]any {
	props := make(map[string]any, len(f.Attributes))
	for k, v := range f.Attributes {
		if k == spec.KeyAttribute || k == spec.CumulativeAttribute || k == "eventIds" {
			continue
		}
		props[k] = GraphValue(v)
	}
	return props
}

// Validate checks the fact against its edge spec.
func (f RelationshipFact) Validate() (EdgeSpec, error) {
	spec, ok := LookupEdgeSpec(f.Type)
	if !ok {
		return EdgeSpec{}, fmt.Errorf("unknown edge type %q: %w", f.Type, ErrInvalidInput)
	}
	if f.From.ID == "" || f.To.ID == "" {
		return spec, fmt.Errorf("%s requires both endpoint ids: %w", f.Type, ErrInvalidInput)
	}
	if !spec.allowsFrom(f.From.Type) {
		return spec, fmt.Errorf("%s cannot start at %s: %w", f.Type, f.From.Type, ErrInvalidInput)
	}
	if !spec.allowsTo(f.To.Type) {
		return spec, fmt.Errorf("%s cannot end at %s: %w", f.Type, f.To.Type, ErrInvalidInput)
	}
	if spec.KeyAttribute != "" && f.Key(spec) == "" {
		return spec, fmt.Errorf("%s requires attribute %q: %w", f.Type, spec.KeyAttribute, ErrInvalidInput)
	}
	for attr, allowed := range spec.Enums {
		raw, present := f.Attributes[attr]
		if !present || raw == nil {
			continue
		}
		value, _ := raw.(string)
		valid := false
		for _, candidate := range allowed {
			if value == candidate {
				valid = true
				break
			}
		}
		if !valid {
			return spec, fmt.Errorf("%s.%s has invalid value %v: %w", f.Type, attr, raw, ErrInvalidInput)
		}
	}
	return spec, nil
}

// GraphEdge is an edge as read back from the graph.
type GraphEdge struct {
	Type       EdgeType       `json:"type"`
	From       Ref            `json:"from"`
	To         Ref            `json:"to"`
	Properties map[string]any `json:"properties,omitempty"`
}
