package graph

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	graphpkg "github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolver"
)

// Querier runs read-only traversals. *graph.QueryService implements it.
type Querier interface {
	ExecuteQuery(ctx context.Context, cypher string, params map[string]any) (*graphpkg.QueryResult, error)
	Neighbors(ctx context.Context, ref models.Ref, hops int) (*graphpkg.QueryResult, error)
}

// DeliveryResolver computes delivery sets. *resolver.Resolver implements it.
type DeliveryResolver interface {
	Mode() resolver.Mode
	Resolve(ctx context.Context, authorID string) (resolver.DeliverySet, error)
}

// Handler handles graph query API endpoints
type Handler struct {
	queries  Querier
	resolver DeliveryResolver
	logger   ectologger.Logger
}

// NewHandler creates a new graph handler
func NewHandler(queries Querier, resolver DeliveryResolver, logger ectologger.Logger) *Handler {
	return &Handler{
		queries:  queries,
		resolver: resolver,
		logger:   logger,
	}
}

// Register registers the graph routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/delivery-set/:authorId", h.GetDeliverySet)
	g.POST("/query", h.ExecuteQuery)
	g.GET("/neighbors/:entityType/:entityId", h.FindNeighbors)
}

// DeliverySetResponse lists who a new post by the author would reach
type DeliverySetResponse struct {
	AuthorID   string   `json:"author_id"`
	Mode       string   `json:"mode"`
	Recipients []string `json:"recipients"`
	Count      int      `json:"count"`
}

// GetDeliverySet resolves the current delivery set of an author
// @Summary Get delivery set
// @Description Resolve the doctors a new post by the author would be delivered to
// @Tags Graph
// @Produce json
// @Param authorId path string true "Author ID"
// @Success 200 {object} DeliverySetResponse
// @Failure 503 {object} httperror.HTTPError
// @Router /api/v1/graph/delivery-set/{authorId} [get]
func (h *Handler) GetDeliverySet(c echo.Context) error {
	authorID := c.Param("authorId")
	set, err := h.resolver.Resolve(c.Request().Context(), authorID)
	if err != nil {
		return err
	}
	recipients := []string(set)
	if recipients == nil {
		recipients = []string{}
	}
	return c.JSON(http.StatusOK, DeliverySetResponse{
		AuthorID:   authorID,
		Mode:       string(h.resolver.Mode()),
		Recipients: recipients,
		Count:      len(recipients),
	})
}

// QueryRequest is the request body for executing a Cypher query
type QueryRequest struct {
	Query  string         `json:"query"`
	Params map[string]any `json:"params,omitempty"`
}

// ExecuteQuery executes a read-only Cypher query
// @Summary Execute a Cypher query
// @Description Run a read-only Cypher query against the projection
// @Tags Graph
// @Accept json
// @Produce json
// @Param body body QueryRequest true "Query request"
// @Success 200 {object} graphpkg.QueryResult
// @Failure 400 {object} httperror.HTTPError
// @Router /api/v1/graph/query [post]
func (h *Handler) ExecuteQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	if !graphpkg.IsReadOnly(req.Query) {
		return httperror.NewHTTPError(http.StatusBadRequest, "only read queries are allowed")
	}

	result, err := h.queries.ExecuteQuery(c.Request().Context(), req.Query, req.Params)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// FindNeighbors finds the entities within N hops of a node
func (h *Handler) FindNeighbors(c echo.Context) error {
	entityType, err := models.ParseEntityType(c.Param("entityType"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "unknown entity type")
	}

	hops := 1
	if c.QueryParam("hops") != "" {
		if err := echo.QueryParamsBinder(c).Int("hops", &hops).BindError(); err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "hops must be an integer")
		}
	}

	result, err := h.queries.Neighbors(c.Request().Context(), models.Ref{Type: entityType, ID: c.Param("entityId")}, hops)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}
