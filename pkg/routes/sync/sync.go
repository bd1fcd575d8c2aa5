package sync

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/repositories/syncrun"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Reconciler runs reconcile and backfill passes. *reconciler.Reconciler implements it.
type Reconciler interface {
	Reconcile(ctx context.Context, scope models.ReconciliationScope) (*models.ReconciliationReport, error)
	Backfill(ctx context.Context, scope models.ReconciliationScope) (*models.ReconciliationReport, error)
}

// RunReader reads persisted runs. *syncrun.Repository implements it.
type RunReader interface {
	GetByID(ctx context.Context, id string) (*syncrun.SyncRun, error)
	List(ctx context.Context, kind string, limit int) ([]*syncrun.SyncRun, error)
}

// Handler handles sync API endpoints
type Handler struct {
	reconciler Reconciler
	runs       RunReader
	logger     ectologger.Logger
}

// NewHandler creates a new sync handler
func NewHandler(reconciler Reconciler, runs RunReader, logger ectologger.Logger) *Handler {
	return &Handler{
		reconciler: reconciler,
		runs:       runs,
		logger:     logger,
	}
}

// Register registers the sync routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("/reconcile", h.Reconcile)
	g.POST("/backfill", h.Backfill)
	g.GET("/runs", h.ListRuns)
	g.GET("/runs/:id", h.GetRun)
}

func bindScope(c echo.Context) (models.ReconciliationScope, error) {
	var scope models.ReconciliationScope
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&scope); err != nil {
			return scope, httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	for _, t := range scope.EntityTypes {
		if _, err := models.ParseEntityType(string(t)); err != nil {
			return scope, httperror.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	for _, t := range scope.EdgeTypes {
		if _, err := models.ParseEdgeType(string(t)); err != nil {
			return scope, httperror.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	return scope, nil
}

// Reconcile compares the graph against the canonical store and heals drift
// @Summary Reconcile
// @Description Run a reconciliation pass. An empty scope covers every type.
// @Tags Sync
// @Accept json
// @Produce json
// @Param body body models.ReconciliationScope false "Scope"
// @Success 200 {object} models.ReconciliationReport
// @Failure 400 {object} httperror.HTTPError
// @Failure 503 {object} httperror.HTTPError
// @Router /api/v1/sync/reconcile [post]
func (h *Handler) Reconcile(c echo.Context) error {
	scope, err := bindScope(c)
	if err != nil {
		return err
	}
	report, err := h.reconciler.Reconcile(c.Request().Context(), scope)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// Backfill projects every canonical record of the scope into the graph
func (h *Handler) Backfill(c echo.Context) error {
	scope, err := bindScope(c)
	if err != nil {
		return err
	}
	report, err := h.reconciler.Backfill(c.Request().Context(), scope)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// ListRuns lists recent reconcile and backfill runs, newest first
// @Summary List sync runs
// @Tags Sync
// @Produce json
// @Param kind query string false "reconcile or backfill"
// @Param limit query int false "Page size (default 20)"
// @Success 200 {array} syncrun.SyncRun
// @Router /api/v1/sync/runs [get]
func (h *Handler) ListRuns(c echo.Context) error {
	kind := c.QueryParam("kind")
	if kind != "" && kind != syncrun.KindReconcile && kind != syncrun.KindBackfill {
		return httperror.NewHTTPError(http.StatusBadRequest, "kind must be reconcile or backfill")
	}
	limit := 0
	if c.QueryParam("limit") != "" {
		if err := echo.QueryParamsBinder(c).Int("limit", &limit).BindError(); err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "limit must be an integer")
		}
	}

	runs, err := h.runs.List(c.Request().Context(), kind, limit)
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []*syncrun.SyncRun{}
	}
	return c.JSON(http.StatusOK, runs)
}

func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.runs.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}
