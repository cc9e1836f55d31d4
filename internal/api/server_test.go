package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/datastore"
	"github.com/chestguard/chestguard/internal/detection"
	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/observability"
)

type stubDetector struct{}

func (stubDetector) Detect(context.Context, detection.Request) (*detection.Outcome, error) {
	return nil, errors.ValidationError("X-ray image is required")
}

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	s := &conf.Settings{Version: "1.2.3"}
	s.WebServer.Enabled = true
	s.WebServer.Listen = "127.0.0.1:0"
	s.WebServer.BodyLimit = "1K"
	s.Storage.Type = conf.StorageLocal
	s.Storage.Local.Path = t.TempDir()
	s.Output.SQLite.Enabled = true
	s.Output.SQLite.Path = filepath.Join(t.TempDir(), "server.db")
	return s
}

func newTestServer(t *testing.T, settings *conf.Settings, opts ...ServerOption) *Server {
	t.Helper()
	ds := datastore.New(settings)
	require.NoError(t, ds.Open())
	t.Cleanup(func() { assert.NoError(t, ds.Close()) })

	opts = append([]ServerOption{WithDataStore(ds), WithDetector(stubDetector{})}, opts...)
	s, err := New(settings, opts...)
	require.NoError(t, err)
	return s
}

func serve(s *Server, method, path string, body io.Reader) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(method, path, body))
	return rec
}

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()

	settings := &conf.Settings{}
	settings.WebServer.Listen = ":9090"
	settings.WebServer.MaxConnections = 32
	settings.Debug = true

	cfg := ConfigFromSettings(settings)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, DefaultBodyLimit, cfg.BodyLimit)
	assert.Equal(t, 32, cfg.MaxConnections)
	assert.True(t, cfg.Debug)
	require.NoError(t, cfg.Validate())
	assert.Contains(t, cfg.String(), "max_connections=32")
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxConnections = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	cfg = DefaultConfig()
	cfg.Listen = ""
	require.Error(t, cfg.Validate())
}

func TestNew_RequiresDetector(t *testing.T) {
	t.Parallel()
	settings := testSettings(t)
	ds := datastore.New(settings)
	require.NoError(t, ds.Open())
	t.Cleanup(func() { assert.NoError(t, ds.Close()) })

	_, err := New(settings, WithDataStore(ds))
	require.Error(t, err)
}

func TestServer_Liveness(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testSettings(t))

	rec := serve(s, http.MethodGet, "/health", http.NoBody)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.2.3", body["version"])
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestServer_ServesMedia(t *testing.T) {
	t.Parallel()
	settings := testSettings(t)
	dir := filepath.Join(settings.Storage.Local.Path, "xrays")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), []byte("png"), 0o600))

	s := newTestServer(t, settings)

	rec := serve(s, http.MethodGet, MediaPrefix+"/xrays/a.png", http.NoBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png", rec.Body.String())
}

func TestServer_ErrorEnvelope(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testSettings(t))

	rec := serve(s, http.MethodGet, "/no/such/route", http.NoBody)
	require.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, http.StatusNotFound, body["code"])
	assert.NotEmpty(t, body["correlation_id"])

	big := strings.NewReader(strings.Repeat("x", 4096))
	rec = serve(s, http.MethodPost, "/api/v2/patients", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestServer_CorrelationIDFollowsRequestID(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testSettings(t))

	rec := serve(s, http.MethodGet, "/no/such/route", http.NoBody)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	id := rec.Header().Get("X-Request-ID")
	require.NotEmpty(t, id)
	assert.Equal(t, id, body["correlation_id"])

	req := httptest.NewRequest(http.MethodGet, "/api/v2/detections/MR-unknown", http.NoBody)
	req.Header.Set("X-Request-ID", "radiology-42")
	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "radiology-42", body["correlation_id"])
	assert.Equal(t, false, body["success"])
}

func TestServer_MetricsRoute(t *testing.T) {
	t.Parallel()
	settings := testSettings(t)
	settings.Metrics.Enabled = true

	m, err := observability.NewMetrics()
	require.NoError(t, err)
	s := newTestServer(t, settings, WithMetrics(m))

	rec := serve(s, http.MethodGet, "/api/v2/patients/MR-404", http.NoBody)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(s, http.MethodGet, "/metrics", http.NoBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chestguard_http_requests_total")
	assert.Contains(t, rec.Body.String(), `path="/api/v2/patients/:mr_no"`)
	assert.Zero(t, m.HTTP.InFlight(), "in-flight gauge settles")
}

func TestServer_MetricsOnDedicatedListener(t *testing.T) {
	t.Parallel()
	settings := testSettings(t)
	settings.Metrics.Enabled = true
	settings.Metrics.Listen = "127.0.0.1:0"

	m, err := observability.NewMetrics()
	require.NoError(t, err)
	s := newTestServer(t, settings, WithMetrics(m))

	rec := serve(s, http.MethodGet, "/metrics", http.NoBody)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_StartShutdown(t *testing.T) {
	t.Parallel()
	settings := testSettings(t)
	settings.WebServer.MaxConnections = 4
	s := newTestServer(t, settings)

	assert.Nil(t, s.Addr())
	require.NoError(t, s.Start())
	addr := s.Addr()
	require.NotNil(t, addr)

	resp, err := http.Get("http://" + addr.String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Shutdown(t.Context()))

	_, err = http.Get("http://" + addr.String() + "/health")
	assert.Error(t, err)
}

func TestServer_StartBindFailure(t *testing.T) {
	t.Parallel()
	settings := testSettings(t)
	settings.WebServer.Listen = "256.0.0.1:80"
	s := newTestServer(t, settings)

	err := s.Start()
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
}
