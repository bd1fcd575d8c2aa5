package syncrun

import (
	"database/sql"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

const (
	syncRunsTable = "fern_sync_runs"

	KindReconcile = "reconcile"
	KindBackfill  = "backfill"

	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// SyncRunRow represents the database row for a reconcile or backfill run
type SyncRunRow struct {
	ID         sql.NullString                               `db:"id"`
	Kind       sql.NullString                               `db:"kind"`
	Status     sql.NullString                               `db:"status"`
	Scope      database.JSONB[models.ReconciliationScope]   `db:"scope"`
	Report     database.JSONB[*models.ReconciliationReport] `db:"report"`
	Drifted    sql.NullBool                                 `db:"drifted"`
	Error      sql.NullString                               `db:"error"`
	StartedAt  sql.NullTime                                 `db:"started_at"`
	FinishedAt sql.NullTime                                 `db:"finished_at"`
}

var syncRunStruct = database.NewStruct(new(SyncRunRow))

// SyncRun is one persisted run.
type SyncRun struct {
	ID     string                       `json:"id"`
	Kind   string                       `json:"kind"`
	Status string                       `json:"status"`
	Report *models.ReconciliationReport `json:"report"`
}

// FromReport converts a finished report to a database row
func FromReport(kind string, report *models.ReconciliationReport) *SyncRunRow {
	status := StatusCompleted
	if report.Error != "" {
		status = StatusFailed
	}
	return &SyncRunRow{
		ID:         sql.NullString{String: report.ID, Valid: report.ID != ""},
		Kind:       sql.NullString{String: kind, Valid: true},
		Status:     sql.NullString{String: status, Valid: true},
		Scope:      database.NewJSONB(report.Scope),
		Report:     database.NewJSONB(report),
		Drifted:    sql.NullBool{Bool: report.Drifted(), Valid: true},
		Error:      sql.NullString{String: report.Error, Valid: report.Error != ""},
		StartedAt:  sql.NullTime{Time: report.StartedAt, Valid: !report.StartedAt.IsZero()},
		FinishedAt: sql.NullTime{Time: report.FinishedAt, Valid: !report.FinishedAt.IsZero()},
	}
}

// ToSyncRun converts a database row to a domain model
func ToSyncRun(row *SyncRunRow) *SyncRun {
	report := row.Report.Data
	if report == nil {
		report = &models.ReconciliationReport{ID: row.ID.String, Scope: row.Scope.Data}
	}
	return &SyncRun{
		ID:     row.ID.String,
		Kind:   row.Kind.String,
		Status: row.Status.String,
		Report: report,
	}
}

func ToSyncRuns(rows []SyncRunRow) []*SyncRun {
	runs := make([]*SyncRun, len(rows))
	for i := range rows {
		runs[i] = ToSyncRun(&rows[i])
	}
	return runs
}
