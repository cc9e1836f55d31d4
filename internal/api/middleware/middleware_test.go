package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chestguard/chestguard/internal/logger"
	"github.com/chestguard/chestguard/internal/observability/metrics"
)

func TestSkipPaths(t *testing.T) {
	t.Parallel()

	skip := SkipPaths("/health", "/metrics")
	e := echo.New()

	for path, want := range map[string]bool{
		"/health":        true,
		"/metrics":       true,
		"/api/v2/health": false,
	} {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, path, http.NoBody), httptest.NewRecorder())
		assert.Equal(t, want, skip(c), path)
	}
}

func TestNewRequestID_CarriesTraceID(t *testing.T) {
	t.Parallel()

	e := echo.New()
	e.Use(NewRequestID())
	var traced string
	e.GET("/", func(c echo.Context) error {
		ctx := c.Request().Context()
		traced, _ = ctx.Value(logger.TraceIDKey).(string)
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set(echo.HeaderXRequestID, "abc123")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, "abc123", traced)
	assert.Equal(t, "abc123", rec.Header().Get(echo.HeaderXRequestID))
}

func TestNewCORS_WildcardDropsCredentials(t *testing.T) {
	t.Parallel()

	cfg := DefaultSecurityConfig()
	cfg.AllowCredentials = true

	e := echo.New()
	e.Use(NewCORS(cfg))
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set(echo.HeaderOrigin, "https://radiology.example")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowCredentials))
}

func TestNewHTTPMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := metrics.NewHTTPMetrics(reg)
	require.NoError(t, err)

	e := echo.New()
	e.Use(NewHTTPMetrics(m))
	e.Use(NewRequestLogger(logger.Global().Module("test")))
	e.GET("/ok/:id", func(c echo.Context) error { return c.String(http.StatusOK, "fine") })
	e.GET("/boom", func(c echo.Context) error { return echo.NewHTTPError(http.StatusBadGateway, "upstream") })

	for _, path := range []string{"/ok/1", "/ok/2", "/boom", "/missing"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, http.NoBody))
	}

	// 2 successful requests on one route pattern, one 502, one 404
	assert.Equal(t, 3, testutil.CollectAndCount(m, "chestguard_http_requests_total"))
	assert.Equal(t, 2, testutil.CollectAndCount(m, "chestguard_http_request_errors_total"))
	assert.Zero(t, m.InFlight())
}

func TestNewHTTPMetrics_NilMetrics(t *testing.T) {
	t.Parallel()

	e := echo.New()
	e.Use(NewHTTPMetrics(nil))
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
