package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkFunc func(context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func serve(t *testing.T, method, path string, register func(r *gin.Engine)) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	register(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestReadyReportsEachDependency(t *testing.T) {
	h := NewHealthHandler("v1", map[string]HealthChecker{
		"postgres": checkFunc(func(context.Context) error { return nil }),
		"redis":    checkFunc(func(context.Context) error { return errors.New("connection refused") }),
	})

	w := serve(t, http.MethodGet, "/ready", func(r *gin.Engine) { r.GET("/ready", h.Ready) })
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp ReadyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "not_ready", resp.Status)
	assert.True(t, resp.Dependencies["postgres"].OK)
	assert.False(t, resp.Dependencies["redis"].OK)
	assert.Equal(t, "connection refused", resp.Dependencies["redis"].Error)
}

func TestReadyWithHealthyDependencies(t *testing.T) {
	h := NewHealthHandler("v1", map[string]HealthChecker{
		"redis": checkFunc(func(context.Context) error { return nil }),
	})
	w := serve(t, http.MethodGet, "/ready", func(r *gin.Engine) { r.GET("/ready", h.Ready) })
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthIncludesVersion(t *testing.T) {
	h := NewHealthHandler("v1.2.3", nil)
	w := serve(t, http.MethodGet, "/health", func(r *gin.Engine) { r.GET("/health", h.Health) })
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "v1.2.3")
}
