package models

import (
	"fmt"
	"time"
)

// EntityType is the graph label of a projected canonical entity.
type EntityType string

const (
	EntityTypeSpecialty       EntityType = "Specialty"
	EntityTypeSkill           EntityType = "Skill"
	EntityTypeInstitution     EntityType = "Institution"
	EntityTypeDoctor          EntityType = "Doctor"
	EntityTypeJob             EntityType = "Job"
	EntityTypeCertification   EntityType = "Certification"
	EntityTypeCareerPath      EntityType = "CareerPath"
	EntityTypeCareerMilestone EntityType = "CareerMilestone"
	EntityTypePublication     EntityType = "Publication"
	EntityTypeCaseStudy       EntityType = "CaseStudy"
	EntityTypeStudyGroup      EntityType = "StudyGroup"
	EntityTypeResearchProject EntityType = "ResearchProject"
	EntityTypeEvent           EntityType = "Event"
	EntityTypeCourse          EntityType = "Course"
)

// EntityTypes lists every projected type in projection order: reference data
// first, then doctors, then everything that points at doctors or reference data.
var EntityTypes = []EntityType{
	EntityTypeSpecialty,
	EntityTypeSkill,
	EntityTypeInstitution,
	EntityTypeCareerPath,
	EntityTypeDoctor,
	EntityTypeCareerMilestone,
	EntityTypeJob,
	EntityTypeCertification,
	EntityTypePublication,
	EntityTypeCaseStudy,
	EntityTypeStudyGroup,
	EntityTypeResearchProject,
	EntityTypeEvent,
	EntityTypeCourse,
}

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	for _, known := range EntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Rank is the position of t in EntityTypes, or -1.
func (t EntityType) Rank() int {
	for i, known := range EntityTypes {
		if t == known {
			return i
		}
	}
	return -1
}

// ParseEntityType validates a raw type name.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown entity type %q: %w", s, ErrInvalidInput)
	}
	return t, nil
}

// Entity is a canonical record as read from the relational store.
// Attributes only carries the display fields that are copied onto the graph node.
type Entity struct {
	ID         string         `json:"id"`
	Type       EntityType     `json:"type"`
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Ref identifies a node without its attributes.
type Ref struct {
	Type EntityType `json:"type"`
	ID   string     `json:"id"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%s", r.Type, r.ID)
}

func (e Entity) Ref() Ref {
	return Ref{Type: e.Type, ID: e.ID}
}

// Validate checks the fields every projection needs.
func (e Entity) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("entity id is required: %w", ErrInvalidInput)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("unknown entity type %q: %w", e.Type, ErrInvalidInput)
	}
	return nil
}

// DisplayProperties is the property map written onto the graph node.
// Only display fields are included so a re-projection never clobbers anything else.
func (e Entity) DisplayProperties() map[string]any {
	props := make(map[string]any, len(e.Attributes)+1)
	for k, v := range e.Attributes {
		if k == "pgId" {
			continue
		}
		props[k] = GraphValue(v)
	}
	if e.Name != "" {
		props["name"] = e.Name
	}
	return props
}

// GraphValue converts a Go value into something the Bolt protocol can store.
func GraphValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.UTC().Format(time.RFC3339Nano)
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case float32:
		return float64(val)
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	default:
		return val
	}
}
