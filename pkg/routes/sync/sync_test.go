package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/repositories/syncrun"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/models"
)

type fakeReconciler struct {
	scopes []models.ReconciliationScope
	kinds  []string
	err    error
}

func (f *fakeReconciler) run(kind string, scope models.ReconciliationScope) (*models.ReconciliationReport, error) {
	f.kinds = append(f.kinds, kind)
	f.scopes = append(f.scopes, scope)
	if f.err != nil {
		return &models.ReconciliationReport{ID: "r-failed", Error: f.err.Error()}, f.err
	}
	return &models.ReconciliationReport{ID: "r1", Scope: scope}, nil
}

func (f *fakeReconciler) Reconcile(_ context.Context, scope models.ReconciliationScope) (*models.ReconciliationReport, error) {
	return f.run(syncrun.KindReconcile, scope)
}

func (f *fakeReconciler) Backfill(_ context.Context, scope models.ReconciliationScope) (*models.ReconciliationReport, error) {
	return f.run(syncrun.KindBackfill, scope)
}

type fakeRuns struct {
	runs []*syncrun.SyncRun
}

func (f *fakeRuns) GetByID(_ context.Context, id string) (*syncrun.SyncRun, error) {
	for _, r := range f.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, httperror.NewHTTPError(http.StatusNotFound, "sync run not found")
}

func (f *fakeRuns) List(_ context.Context, kind string, _ int) ([]*syncrun.SyncRun, error) {
	var out []*syncrun.SyncRun
	for _, r := range f.runs {
		if kind == "" || r.Kind == kind {
			out = append(out, r)
		}
	}
	return out, nil
}

func newServer(rec *fakeReconciler, runs *fakeRuns) *echo.Echo {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger)
	NewHandler(rec, runs, logger).Register(e.Group("/api/v1/sync"))
	return e
}

func serve(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestReconcile(t *testing.T) {
	rc := &fakeReconciler{}
	e := newServer(rc, &fakeRuns{})

	rec := serve(e, http.MethodPost, "/api/v1/sync/reconcile", `{"entity_types":["Doctor"],"dry_run":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var report models.ReconciliationReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "r1", report.ID)
	require.Len(t, rc.scopes, 1)
	assert.True(t, rc.scopes[0].DryRun)
	assert.Equal(t, []models.EntityType{models.EntityTypeDoctor}, rc.scopes[0].EntityTypes)

	t.Run("empty body covers everything", func(t *testing.T) {
		rec := serve(e, http.MethodPost, "/api/v1/sync/reconcile", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, models.ReconciliationScope{}, rc.scopes[len(rc.scopes)-1])
	})

	t.Run("unknown type", func(t *testing.T) {
		rec := serve(e, http.MethodPost, "/api/v1/sync/reconcile", `{"edge_types":["LIKES"]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("backfill", func(t *testing.T) {
		rec := serve(e, http.MethodPost, "/api/v1/sync/backfill", `{}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, syncrun.KindBackfill, rc.kinds[len(rc.kinds)-1])
	})
}

func TestReconcileUnavailable(t *testing.T) {
	e := newServer(&fakeReconciler{err: fmt.Errorf("graph: %w", models.ErrStoreUnavailable)}, &fakeRuns{})

	rec := serve(e, http.MethodPost, "/api/v1/sync/reconcile", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRuns(t *testing.T) {
	runs := &fakeRuns{runs: []*syncrun.SyncRun{
		{ID: "r2", Kind: syncrun.KindBackfill, Status: syncrun.StatusCompleted},
		{ID: "r1", Kind: syncrun.KindReconcile, Status: syncrun.StatusFailed},
	}}
	e := newServer(&fakeReconciler{}, runs)

	rec := serve(e, http.MethodGet, "/api/v1/sync/runs?kind=reconcile", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []syncrun.SyncRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "r1", listed[0].ID)

	rec = serve(e, http.MethodGet, "/api/v1/sync/runs/r2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusNotFound, serve(e, http.MethodGet, "/api/v1/sync/runs/nope", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(e, http.MethodGet, "/api/v1/sync/runs?kind=other", "").Code)
}
