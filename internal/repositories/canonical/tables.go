package canonical

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Column copies a table column onto a graph property.
type Column struct {
	Name     string
	Property string
}

// EntityTable binds a canonical table to an entity type.
type EntityTable struct {
	Type       models.EntityType
	Table      string
	NameColumn string
	Columns    []Column
}

// Filter keeps only rows whose column holds one of Values.
type Filter struct {
	Column string
	Values []string
}

// FactTable binds a canonical table to one relationship type. One table may
// back several facts (a jobs row yields POSTED and REQUIRES_SPECIALTY).
type FactTable struct {
	Edge       models.EdgeType
	Table      string
	FromType   models.EntityType
	FromColumn string
	ToType     models.EntityType
	ToColumn   string
	Columns    []Column
	Filter     *Filter
}

const (
	idColumn      = "id"
	updatedColumn = "updated_at"
)

var entityTables = []EntityTable{
	{Type: models.EntityTypeSpecialty, Table: "specialties", NameColumn: "name"},
	{Type: models.EntityTypeSkill, Table: "skills", NameColumn: "name"},
	{Type: models.EntityTypeInstitution, Table: "institutions", NameColumn: "name", Columns: []Column{
		{"type", "type"}, {"city", "city"}, {"state", "state"},
	}},
	{Type: models.EntityTypeCareerPath, Table: "career_paths", NameColumn: "name"},
	{Type: models.EntityTypeDoctor, Table: "doctors", NameColumn: "full_name", Columns: []Column{
		{"crm", "crm"}, {"crm_state", "crmState"}, {"profile_pic_url", "profilePicUrl"},
		{"city", "city"}, {"state", "state"}, {"graduation_year", "graduationYear"},
	}},
	{Type: models.EntityTypeCareerMilestone, Table: "career_milestones", NameColumn: "title", Columns: []Column{
		{"step_order", "order"},
	}},
	{Type: models.EntityTypeJob, Table: "jobs", NameColumn: "title", Columns: []Column{
		{"type", "type"}, {"city", "city"}, {"shift", "shift"}, {"is_active", "isActive"},
	}},
	{Type: models.EntityTypeCertification, Table: "certifications", NameColumn: "name", Columns: []Column{
		{"issuer", "issuer"},
	}},
	{Type: models.EntityTypePublication, Table: "publications", NameColumn: "title", Columns: []Column{
		{"journal", "journal"}, {"publication_type", "publicationType"},
	}},
	{Type: models.EntityTypeCaseStudy, Table: "case_studies", NameColumn: "title", Columns: []Column{
		{"status", "status"},
	}},
	{Type: models.EntityTypeStudyGroup, Table: "study_groups", NameColumn: "name", Columns: []Column{
		{"is_public", "isPublic"},
	}},
	{Type: models.EntityTypeResearchProject, Table: "research_projects", NameColumn: "title", Columns: []Column{
		{"status", "status"},
	}},
	{Type: models.EntityTypeEvent, Table: "events", NameColumn: "title", Columns: []Column{
		{"event_type", "type"}, {"city", "city"}, {"start_date", "startDate"},
	}},
	{Type: models.EntityTypeCourse, Table: "courses", NameColumn: "title", Columns: []Column{
		{"provider", "provider"},
	}},
}

var factTables = []FactTable{
	{
		Edge: models.EdgeConnectedTo, Table: "connection_requests",
		FromType: models.EntityTypeDoctor, FromColumn: "sender_id",
		ToType: models.EntityTypeDoctor, ToColumn: "receiver_id",
		Columns: []Column{{"updated_at", "since"}},
		Filter:  &Filter{Column: "status", Values: []string{"ACCEPTED"}},
	},
	{
		Edge: models.EdgeFollows, Table: "follows",
		FromType: models.EntityTypeDoctor, FromColumn: "follower_id",
		ToType: models.EntityTypeDoctor, ToColumn: "following_id",
		Columns: []Column{{"created_at", "since"}},
	},
	{
		Edge: models.EdgeMentors, Table: "mentorships",
		FromType: models.EntityTypeDoctor, FromColumn: "mentor_id",
		ToType: models.EntityTypeDoctor, ToColumn: "mentee_id",
		Columns: []Column{{"status", "status"}, {"focus_area", "focusArea"}, {"started_at", "since"}},
	},
	{
		Edge: models.EdgeEndorsed, Table: "endorsements",
		FromType: models.EntityTypeDoctor, FromColumn: "endorser_id",
		ToType: models.EntityTypeDoctor, ToColumn: "endorsed_id",
		Columns: []Column{{"skill_name", "skill"}, {"created_at", "endorsedAt"}},
	},
	{
		Edge: models.EdgeWorksAt, Table: "doctor_workplaces",
		FromType: models.EntityTypeDoctor, FromColumn: "doctor_id",
		ToType: models.EntityTypeInstitution, ToColumn: "institution_id",
		Columns: []Column{{"role", "role"}, {"start_date", "since"}},
	},
	{
		Edge: models.EdgeAuthored, Table: "publication_authors",
		FromType: models.EntityTypeDoctor, FromColumn: "doctor_id",
		ToType: models.EntityTypePublication, ToColumn: "publication_id",
		Columns: []Column{{"role", "role"}, {"author_order", "authorOrder"}},
	},
	{
		Edge: models.EdgeAuthored, Table: "case_studies",
		FromType: models.EntityTypeDoctor, FromColumn: "author_id",
		ToType: models.EntityTypeCaseStudy, ToColumn: idColumn,
	},
	{
		Edge: models.EdgeSpecializesIn, Table: "doctor_specialties",
		FromType: models.EntityTypeDoctor, FromColumn: "doctor_id",
		ToType: models.EntityTypeSpecialty, ToColumn: "specialty_id",
		Columns: []Column{{"is_primary", "isPrimary"}},
	},
	{
		Edge: models.EdgeHasSkill, Table: "doctor_skills",
		FromType: models.EntityTypeDoctor, FromColumn: "doctor_id",
		ToType: models.EntityTypeSkill, ToColumn: "skill_id",
	},
	{
		Edge: models.EdgeHoldsCertification, Table: "doctor_certifications",
		FromType: models.EntityTypeDoctor, FromColumn: "doctor_id",
		ToType: models.EntityTypeCertification, ToColumn: "certification_id",
		Columns: []Column{{"awarded_at", "awardedAt"}},
	},
	{
		Edge: models.EdgePosted, Table: "jobs",
		FromType: models.EntityTypeInstitution, FromColumn: "institution_id",
		ToType: models.EntityTypeJob, ToColumn: idColumn,
	},
	{
		Edge: models.EdgeRequiresSpecialty, Table: "jobs",
		FromType: models.EntityTypeJob, FromColumn: idColumn,
		ToType: models.EntityTypeSpecialty, ToColumn: "specialty_id",
	},
	{
		Edge: models.EdgeRelatesTo, Table: "publications",
		FromType: models.EntityTypePublication, FromColumn: idColumn,
		ToType: models.EntityTypeSpecialty, ToColumn: "specialty_id",
	},
	{
		Edge: models.EdgeRelatesTo, Table: "case_studies",
		FromType: models.EntityTypeCaseStudy, FromColumn: idColumn,
		ToType: models.EntityTypeSpecialty, ToColumn: "specialty_id",
	},
	{
		Edge: models.EdgeParticipatedIn, Table: "case_study_participants",
		FromType: models.EntityTypeDoctor, FromColumn: "doctor_id",
		ToType: models.EntityTypeCaseStudy, ToColumn: "case_study_id",
	},
	{
		Edge: models.EdgeMemberOf, Table: "study_group_members",
		FromType: models.EntityTypeDoctor, FromColumn: "doctor_id",
		ToType: models.EntityTypeStudyGroup, ToColumn: "study_group_id",
		Columns: []Column{{"role", "role"}},
	},
	{
		Edge: models.EdgeFocusesOn, Table: "study_groups",
		FromType: models.EntityTypeStudyGroup, FromColumn: idColumn,
		ToType: models.EntityTypeSpecialty, ToColumn: "specialty_id",
	},
	{
		Edge: models.EdgeFocusesOn, Table: "research_projects",
		FromType: models.EntityTypeResearchProject, FromColumn: idColumn,
		ToType: models.EntityTypeSpecialty, ToColumn: "specialty_id",
	},
	{
		Edge: models.EdgeCollaboratesOn, Table: "research_project_members",
		FromType: models.EntityTypeDoctor, FromColumn: "doctor_id",
		ToType: models.EntityTypeResearchProject, ToColumn: "research_project_id",
		Columns: []Column{{"role", "role"}},
	},
	{
		Edge: models.EdgeSpeaksAt, Table: "event_speakers",
		FromType: models.EntityTypeDoctor, FromColumn: "doctor_id",
		ToType: models.EntityTypeEvent, ToColumn: "event_id",
		Columns: []Column{{"topic", "topic"}},
	},
	{
		Edge: models.EdgeAttends, Table: "event_attendees",
		FromType: models.EntityTypeDoctor, FromColumn: "doctor_id",
		ToType: models.EntityTypeEvent, ToColumn: "event_id",
	},
	{
		Edge: models.EdgeTeaches, Table: "courses",
		FromType: models.EntityTypeDoctor, FromColumn: "instructor_id",
		ToType: models.EntityTypeCourse, ToColumn: idColumn,
	},
	{
		Edge: models.EdgeEnrolledIn, Table: "course_enrollments",
		FromType: models.EntityTypeDoctor, FromColumn: "doctor_id",
		ToType: models.EntityTypeCourse, ToColumn: "course_id",
		Columns: []Column{{"progress", "progress"}},
	},
	{
		Edge: models.EdgeForSpecialty, Table: "career_paths",
		FromType: models.EntityTypeCareerPath, FromColumn: idColumn,
		ToType: models.EntityTypeSpecialty, ToColumn: "specialty_id",
	},
	{
		Edge: models.EdgePartOf, Table: "career_milestones",
		FromType: models.EntityTypeCareerMilestone, FromColumn: idColumn,
		ToType: models.EntityTypeCareerPath, ToColumn: "career_path_id",
	},
	{
		Edge: models.EdgeProgressOn, Table: "doctor_career_progress",
		FromType: models.EntityTypeDoctor, FromColumn: "doctor_id",
		ToType: models.EntityTypeCareerMilestone, ToColumn: "milestone_id",
		Columns: []Column{{"status", "status"}},
	},
	{
		Edge: models.EdgeCites, Table: "publication_citations",
		FromType: models.EntityTypePublication, FromColumn: "citing_id",
		ToType: models.EntityTypePublication, ToColumn: "cited_id",
	},
	{
		Edge: models.EdgeAppliedTo, Table: "job_applications",
		FromType: models.EntityTypeDoctor, FromColumn: "doctor_id",
		ToType: models.EntityTypeJob, ToColumn: "job_id",
		Columns: []Column{{"status", "status"}},
	},
}

// TableNames lists every bound table once, in registry order. The CDC consumer
// subscribes to one topic per table.
func TableNames() []string {
	seen := map[string]bool{}
	var names []string
	add := func(table string) {
		if !seen[table] {
			seen[table] = true
			names = append(names, table)
		}
	}
	for _, et := range entityTables {
		add(et.Table)
	}
	for _, ft := range factTables {
		add(ft.Table)
	}
	return names
}

// EntityTableFor returns the binding for an entity type.
func EntityTableFor(t models.EntityType) (EntityTable, bool) {
	for _, et := range entityTables {
		if et.Type == t {
			return et, true
		}
	}
	return EntityTable{}, false
}

// EntityTableByName returns the entity binding of a table, if any.
func EntityTableByName(table string) (EntityTable, bool) {
	for _, et := range entityTables {
		if et.Table == table {
			return et, true
		}
	}
	return EntityTable{}, false
}

// FactTablesFor returns every table backing an edge type.
func FactTablesFor(edge models.EdgeType) []FactTable {
	var out []FactTable
	for _, ft := range factTables {
		if ft.Edge == edge {
			out = append(out, ft)
		}
	}
	return out
}

// FactTablesByName returns every fact binding of a table.
func FactTablesByName(table string) []FactTable {
	var out []FactTable
	for _, ft := range factTables {
		if ft.Table == table {
			out = append(out, ft)
		}
	}
	return out
}

func (t EntityTable) columns() []string {
	cols := []string{idColumn, t.NameColumn}
	for _, c := range t.Columns {
		cols = append(cols, c.Name)
	}
	return append(cols, updatedColumn)
}

// ToEntity converts a row image into an Entity. Missing attribute columns are omitted.
func (t EntityTable) ToEntity(row map[string]any) (models.Entity, error) {
	id := stringValue(row[idColumn])
	if id == "" {
		return models.Entity{}, fmt.Errorf("%s row without id: %w", t.Table, models.ErrInvalidInput)
	}
	entity := models.Entity{
		ID:         id,
		Type:       t.Type,
		Name:       stringValue(row[t.NameColumn]),
		Attributes: make(map[string]any, len(t.Columns)),
		UpdatedAt:  timeValue(row[updatedColumn]),
	}
	for _, c := range t.Columns {
		if v, ok := row[c.Name]; ok && v != nil {
			entity.Attributes[c.Property] = normalize(v)
		}
	}
	return entity, nil
}

func (t FactTable) columns() []string {
	seen := map[string]bool{}
	var cols []string
	add := func(c string) {
		if !seen[c] {
			seen[c] = true
			cols = append(cols, c)
		}
	}
	add(idColumn)
	add(t.FromColumn)
	add(t.ToColumn)
	for _, c := range t.Columns {
		add(c.Name)
	}
	if t.Filter != nil {
		add(t.Filter.Column)
	}
	return cols
}

// Live reports whether the row currently asserts the fact.
func (t FactTable) Live(row map[string]any) bool {
	if stringValue(row[t.FromColumn]) == "" || stringValue(row[t.ToColumn]) == "" {
		return false
	}
	if t.Filter == nil {
		return true
	}
	value := stringValue(row[t.Filter.Column])
	for _, allowed := range t.Filter.Values {
		if strings.EqualFold(value, allowed) {
			return true
		}
	}
	return false
}

// ToFact converts a row image into a RelationshipFact. The row id is the fact id,
// which for cumulative edges is the event id.
func (t FactTable) ToFact(row map[string]any) (models.RelationshipFact, error) {
	from := stringValue(row[t.FromColumn])
	to := stringValue(row[t.ToColumn])
	if from == "" || to == "" {
		return models.RelationshipFact{}, fmt.Errorf("%s row without endpoints: %w", t.Table, models.ErrInvalidInput)
	}
	fact := models.RelationshipFact{
		ID:         stringValue(row[idColumn]),
		Type:       t.Edge,
		From:       models.Ref{Type: t.FromType, ID: from},
		To:         models.Ref{Type: t.ToType, ID: to},
		Attributes: make(map[string]any, len(t.Columns)),
	}
	for _, c := range t.Columns {
		if v, ok := row[c.Name]; ok && v != nil {
			fact.Attributes[c.Property] = normalize(v)
		}
	}
	return fact, nil
}

// normalize maps driver and JSON values onto graph-friendly Go values.
func normalize(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case time.Time:
		return val.UTC()
	default:
		return val
	}
}

func stringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case json.Number:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

func timeValue(v any) time.Time {
	switch val := v.(type) {
	case time.Time:
		return val.UTC()
	case string:
		if t, err := time.Parse(time.RFC3339Nano, val); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
