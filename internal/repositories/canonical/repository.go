// Package canonical reads the relational system of record that the graph and
// feeds are derived from. It never writes.
package canonical

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const DefaultPageSize = 500

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// GetEntity loads one canonical record, or ErrNotFound.
func (r *Repository) GetEntity(ctx context.Context, t models.EntityType, id string) (models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "CanonicalRepository.GetEntity")
	defer span.End()

	table, ok := EntityTableFor(t)
	if !ok {
		return models.Entity{}, fmt.Errorf("no canonical table for %s: %w", t, models.ErrInvalidInput)
	}

	sb := database.NewSelectBuilder()
	sb.Select(table.columns()...).From(table.Table).Where(sb.Equal(idColumn, id))
	query, args := sb.Build()

	rows, err := r.queryRows(ctx, query, args...)
	if err != nil {
		return models.Entity{}, fmt.Errorf("failed to load %s %s: %w", t, id, err)
	}
	if len(rows) == 0 {
		return models.Entity{}, fmt.Errorf("%s %s: %w", t, id, models.ErrNotFound)
	}
	return table.ToEntity(rows[0])
}

// EachEntity pages through every record of t in id order.
func (r *Repository) EachEntity(ctx context.Context, t models.EntityType, pageSize int, fn func([]models.Entity) error) error {
	ctx, span := tracing.StartSpan(ctx, "CanonicalRepository.EachEntity")
	defer span.End()

	table, ok := EntityTableFor(t)
	if !ok {
		return fmt.Errorf("no canonical table for %s: %w", t, models.ErrInvalidInput)
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	after := ""
	for {
		sb := database.NewSelectBuilder()
		sb.Select(table.columns()...).From(table.Table)
		sb.Page(idColumn, after, pageSize)
		query, args := sb.Build()

		rows, err := r.queryRows(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to page %s after %q: %w", t, after, err)
		}
		if len(rows) == 0 {
			return nil
		}

		entities := make([]models.Entity, 0, len(rows))
		for _, row := range rows {
			entity, err := table.ToEntity(row)
			if err != nil {
				r.logger.WithContext(ctx).WithError(err).Warnf("Skipping malformed %s row", t)
				continue
			}
			entities = append(entities, entity)
		}
		if err := fn(entities); err != nil {
			return err
		}
		if len(rows) < pageSize {
			return nil
		}
		after = stringValue(rows[len(rows)-1][idColumn])
	}
}

// EachFact pages through every live fact of an edge type across all of its tables.
func (r *Repository) EachFact(ctx context.Context, edge models.EdgeType, pageSize int, fn func([]models.RelationshipFact) error) error {
	ctx, span := tracing.StartSpan(ctx, "CanonicalRepository.EachFact")
	defer span.End()

	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	for _, table := range FactTablesFor(edge) {
		if err := r.eachFact(ctx, table, pageSize, fn); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) eachFact(ctx context.Context, table FactTable, pageSize int, fn func([]models.RelationshipFact) error) error {
	after := ""
	for {
		sb := database.NewSelectBuilder()
		sb.Select(table.columns()...).From(table.Table)
		sb.Where(liveConditions(sb, table)...)
		sb.Page(idColumn, after, pageSize)
		query, args := sb.Build()

		rows, err := r.queryRows(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to page %s from %s after %q: %w", table.Edge, table.Table, after, err)
		}
		if len(rows) == 0 {
			return nil
		}

		facts := make([]models.RelationshipFact, 0, len(rows))
		for _, row := range rows {
			fact, err := table.ToFact(row)
			if err != nil {
				continue
			}
			facts = append(facts, fact)
		}
		if err := fn(facts); err != nil {
			return err
		}
		if len(rows) < pageSize {
			return nil
		}
		after = stringValue(rows[len(rows)-1][idColumn])
	}
}

// CountEntities counts canonical records of t.
func (r *Repository) CountEntities(ctx context.Context, t models.EntityType) (int64, error) {
	table, ok := EntityTableFor(t)
	if !ok {
		return 0, fmt.Errorf("no canonical table for %s: %w", t, models.ErrInvalidInput)
	}
	sb := database.NewSelectBuilder()
	sb.Select("COUNT(*)").From(table.Table)
	query, args := sb.Build()
	return r.count(ctx, query, args...)
}

// PairLinked reports whether any live row of edge links a and b, in either direction.
func (r *Repository) PairLinked(ctx context.Context, edge models.EdgeType, a, b models.Ref) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "CanonicalRepository.PairLinked")
	defer span.End()

	for _, table := range FactTablesFor(edge) {
		sb := database.NewSelectBuilder()
		sb.Select(idColumn).From(table.Table)
		sb.Where(liveConditions(sb, table)...)
		sb.Where(sb.Or(
			sb.And(sb.Equal(table.FromColumn, a.ID), sb.Equal(table.ToColumn, b.ID)),
			sb.And(sb.Equal(table.FromColumn, b.ID), sb.Equal(table.ToColumn, a.ID)),
		))
		sb.Limit(1)
		query, args := sb.Build()

		rows, err := r.queryRows(ctx, query, args...)
		if err != nil {
			return false, fmt.Errorf("failed to look up %s %s-%s in %s: %w", edge, a, b, table.Table, err)
		}
		if len(rows) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// CountFacts counts the logical edges the graph should hold for edge: symmetric
// pairs count once and cumulative edges count once per (from, to, key).
func (r *Repository) CountFacts(ctx context.Context, edge models.EdgeType) (int64, error) {
	spec, ok := models.LookupEdgeSpec(edge)
	if !ok {
		return 0, fmt.Errorf("unknown edge type %q: %w", edge, models.ErrInvalidInput)
	}

	var total int64
	for _, table := range FactTablesFor(edge) {
		sb := database.NewSelectBuilder()
		sb.Select(countExpression(spec, table)).From(table.Table)
		sb.Where(liveConditions(sb, table)...)
		query, args := sb.Build()

		n, err := r.count(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to count %s in %s: %w", edge, table.Table, err)
		}
		total += n
	}
	return total, nil
}

func countExpression(spec models.EdgeSpec, table FactTable) string {
	if spec.Symmetric {
		return fmt.Sprintf("COUNT(DISTINCT (LEAST(%[1]s::text, %[2]s::text), GREATEST(%[1]s::text, %[2]s::text)))",
			table.FromColumn, table.ToColumn)
	}
	if spec.KeyAttribute != "" {
		for _, c := range table.Columns {
			if c.Property == spec.KeyAttribute {
				return fmt.Sprintf("COUNT(DISTINCT (%s, %s, %s))", table.FromColumn, table.ToColumn, c.Name)
			}
		}
	}
	return fmt.Sprintf("COUNT(DISTINCT (%s, %s))", table.FromColumn, table.ToColumn)
}

func liveConditions(sb *database.SelectBuilder, table FactTable) []string {
	conds := []string{sb.IsNotNull(table.FromColumn), sb.IsNotNull(table.ToColumn)}
	if table.Filter != nil {
		values := make([]any, len(table.Filter.Values))
		for i, v := range table.Filter.Values {
			values[i] = v
		}
		conds = append(conds, sb.In(table.Filter.Column, values...))
	}
	return conds
}

// ExistingIDs returns the subset of ids that still have a canonical record.
func (r *Repository) ExistingIDs(ctx context.Context, t models.EntityType, ids []string) (map[string]bool, error) {
	ctx, span := tracing.StartSpan(ctx, "CanonicalRepository.ExistingIDs")
	defer span.End()

	table, ok := EntityTableFor(t)
	if !ok {
		return nil, fmt.Errorf("no canonical table for %s: %w", t, models.ErrInvalidInput)
	}
	existing := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	query := fmt.Sprintf("SELECT %s::text FROM %s WHERE %s::text = ANY($1)", idColumn, table.Table, idColumn)
	var found []string
	if err := r.db.SelectContext(ctx, &found, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to check %s ids: %w", t, unavailable(err))
	}
	for _, id := range found {
		existing[id] = true
	}
	return existing, nil
}

// ActiveDoctorIDs lists every doctor, used by the all-members audience mode.
func (r *Repository) ActiveDoctorIDs(ctx context.Context) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "CanonicalRepository.ActiveDoctorIDs")
	defer span.End()

	table, _ := EntityTableFor(models.EntityTypeDoctor)
	sb := database.NewSelectBuilder()
	sb.Select(idColumn + "::text").From(table.Table).OrderBy(idColumn).Asc()
	query, args := sb.Build()

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list doctors: %w", unavailable(err))
	}
	r.logger.WithContext(ctx).WithField("count", len(ids)).Debug("Listed doctors")
	return ids, nil
}

// Ping verifies the canonical store is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return unavailable(r.db.PingContext(ctx))
}

func (r *Repository) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func (r *Repository) queryRows(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		out = append(out, normalizeRow(row))
	}
	return out, rows.Err()
}

func normalizeRow(row map[string]any) map[string]any {
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			row[k] = string(b)
		}
	}
	return row
}

// unavailable marks connection level failures as transient. Query errors pass through.
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// class 08 is connection exception, 57P is operator intervention
		if pqErr.Code.Class() == "08" || pqErr.Code.Class() == "57" {
			return fmt.Errorf("%v: %w", err, models.ErrStoreUnavailable)
		}
		return err
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%v: %w", err, models.ErrStoreUnavailable)
	}
	return err
}
