package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	graphpkg "github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolver"
	"github.com/Ramsey-B/fern/pkg/storetest"
)

type fakeQuerier struct {
	queries []string
	refs    []models.Ref
}

func (f *fakeQuerier) ExecuteQuery(_ context.Context, cypher string, _ map[string]any) (*graphpkg.QueryResult, error) {
	f.queries = append(f.queries, cypher)
	return &graphpkg.QueryResult{Rows: []map[string]any{{"n": 1}}}, nil
}

func (f *fakeQuerier) Neighbors(_ context.Context, ref models.Ref, _ int) (*graphpkg.QueryResult, error) {
	f.refs = append(f.refs, ref)
	return &graphpkg.QueryResult{}, nil
}

func newServer(t *testing.T, q *fakeQuerier, graph *storetest.Graph) *echo.Echo {
	t.Helper()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	r := resolver.New(resolver.ModeGraph, graph, storetest.NewCanonical(), logger)

	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger)
	NewHandler(q, r, logger).Register(e.Group("/api/v1/graph"))
	return e
}

func serve(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func doctor(id string) models.Entity {
	return models.Entity{ID: id, Type: models.EntityTypeDoctor, Name: "Dr. " + id}
}

func TestGetDeliverySet(t *testing.T) {
	ctx := context.Background()
	graph := storetest.NewGraph()
	for _, id := range []string{"d1", "d2", "d3"} {
		_, err := graph.MergeNode(ctx, doctor(id))
		require.NoError(t, err)
	}
	_, err := graph.MergeEdge(ctx, models.RelationshipFact{Type: models.EdgeFollows, From: doctor("d3").Ref(), To: doctor("d1").Ref()})
	require.NoError(t, err)

	e := newServer(t, &fakeQuerier{}, graph)
	rec := serve(e, http.MethodGet, "/api/v1/graph/delivery-set/d1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp DeliverySetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, DeliverySetResponse{AuthorID: "d1", Mode: "graph", Recipients: []string{"d3"}, Count: 1}, resp)

	t.Run("graph unavailable", func(t *testing.T) {
		graph.SetUnavailable(true)
		defer graph.SetUnavailable(false)
		assert.Equal(t, http.StatusServiceUnavailable, serve(e, http.MethodGet, "/api/v1/graph/delivery-set/d1", "").Code)
	})
}

func TestExecuteQuery(t *testing.T) {
	q := &fakeQuerier{}
	e := newServer(t, q, storetest.NewGraph())

	rec := serve(e, http.MethodPost, "/api/v1/graph/query", `{"query":"MATCH (n:Doctor) RETURN count(n) AS n"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, q.queries, 1)

	tests := []struct {
		name string
		body string
	}{
		{name: "write clause", body: `{"query":"MATCH (n) DETACH DELETE n"}`},
		{name: "missing query", body: `{}`},
		{name: "malformed body", body: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, serve(e, http.MethodPost, "/api/v1/graph/query", tt.body).Code)
		})
	}
	assert.Len(t, q.queries, 1, "rejected queries never reach the graph")
}

func TestFindNeighbors(t *testing.T) {
	q := &fakeQuerier{}
	e := newServer(t, q, storetest.NewGraph())

	rec := serve(e, http.MethodGet, fmt.Sprintf("/api/v1/graph/neighbors/%s/d1?hops=2", models.EntityTypeDoctor), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []models.Ref{{Type: models.EntityTypeDoctor, ID: "d1"}}, q.refs)

	assert.Equal(t, http.StatusBadRequest, serve(e, http.MethodGet, "/api/v1/graph/neighbors/Planet/x", "").Code)
}
