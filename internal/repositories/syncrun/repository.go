package syncrun

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// SyncRunRepository persists reconcile and backfill reports.
type SyncRunRepository interface {
	Save(ctx context.Context, kind string, report *models.ReconciliationReport) error
	GetByID(ctx context.Context, id string) (*SyncRun, error)
	List(ctx context.Context, kind string, limit int) ([]*SyncRun, error)
}

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Save inserts the run, or overwrites it when the id was already recorded.
func (r *Repository) Save(ctx context.Context, kind string, report *models.ReconciliationReport) error {
	ctx, span := tracing.StartSpan(ctx, "SyncRunRepository.Save")
	defer span.End()

	row := FromReport(kind, report)
	ib := syncRunStruct.InsertInto(syncRunsTable, row)
	ib.OnConflictUpdate([]string{"id"}, "status", "report", "drifted", "error", "finished_at")
	query, args := ib.Build()

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":      report.ID,
		"kind":    kind,
		"drifted": row.Drifted.Bool,
	}).Debug("Saving sync run")

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to save sync run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save sync run")
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*SyncRun, error) {
	ctx, span := tracing.StartSpan(ctx, "SyncRunRepository.GetByID")
	defer span.End()

	sb := syncRunStruct.SelectFrom(syncRunsTable)
	sb.Where(sb.Equal("id", id))
	query, args := sb.Build()

	var row SyncRunRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "sync run not found")
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get sync run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get sync run")
	}
	return ToSyncRun(&row), nil
}

// List returns the newest runs first. An empty kind lists every kind.
func (r *Repository) List(ctx context.Context, kind string, limit int) ([]*SyncRun, error) {
	ctx, span := tracing.StartSpan(ctx, "SyncRunRepository.List")
	defer span.End()

	if limit <= 0 || limit > 100 {
		limit = 20
	}

	sb := syncRunStruct.SelectFrom(syncRunsTable)
	if kind != "" {
		sb.Where(sb.Equal("kind", kind))
	}
	sb.OrderBy("started_at").Desc()
	sb.Limit(limit)
	query, args := sb.Build()

	var rows []SyncRunRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list sync runs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list sync runs")
	}
	return ToSyncRuns(rows), nil
}
