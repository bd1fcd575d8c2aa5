package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(e *echo.Echo, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	var graphErr error
	checker := NewChecker("test", map[string]Pinger{
		"postgres": PingFunc(func(context.Context) error { return nil }),
		"graph":    PingFunc(func(context.Context) error { return graphErr }),
	})
	e := echo.New()
	checker.RegisterRoutes(e)

	rec := get(e, "/api/v1/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Len(t, status.Checks, 2)

	graphErr = errors.New("connection refused")
	rec = get(e, "/api/v1/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "unhealthy", status.Checks["graph"].Status)
	assert.Equal(t, "connection refused", status.Checks["graph"].Message)
	assert.Equal(t, "healthy", status.Checks["postgres"].Status)
}

func TestLiveAndReady(t *testing.T) {
	checker := NewChecker("test", nil)
	e := echo.New()
	checker.RegisterRoutes(e)

	assert.Equal(t, http.StatusOK, get(e, "/api/v1/health/live").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(e, "/api/v1/health/ready").Code)
	checker.SetReady(true)
	assert.Equal(t, http.StatusOK, get(e, "/api/v1/health/ready").Code)
}
