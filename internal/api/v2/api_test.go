package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/datastore"
	"github.com/chestguard/chestguard/internal/detection"
	"github.com/chestguard/chestguard/internal/enrichment"
	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/inference"
)

// fakeDetector appends a fixed Pneumonia entry and notifies its observers,
// the way the pipeline does after a stored detection.
type fakeDetector struct {
	mu        sync.Mutex
	ds        datastore.Interface
	observers []detection.Observer
	requests  []detection.Request
	staged    []bool
	err       error
}

func (f *fakeDetector) AddObserver(o detection.Observer) {
	f.observers = append(f.observers, o)
}

func (f *fakeDetector) Detect(ctx context.Context, req detection.Request) (*detection.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if req.FilePath != "" {
		_, statErr := os.Stat(req.FilePath)
		f.staged = append(f.staged, statErr == nil)
		defer os.Remove(req.FilePath)
	}

	if f.err != nil {
		return nil, f.err
	}
	if strings.TrimSpace(req.MRNo) == "" {
		return nil, errors.ValidationError("Medical Record number is required")
	}
	if req.FilePath == "" {
		return nil, errors.ValidationError("X-ray image is required")
	}

	patient, err := f.ds.GetPatient(ctx, req.MRNo)
	if err != nil {
		return nil, err
	}
	entry := &datastore.DetectionEntry{
		ImageURL:   "http://localhost/media/xrays/test.jpg",
		CapturedAt: time.Now(),
		ModelUsed:  "multilabel",
		Result:     "Pneumonia",
		Confidence: 0.81,
		Probabilities: []datastore.EntryProbability{
			{ClassName: "Pneumonia", Probability: 0.81},
			{ClassName: "Normal", Probability: 0.19},
		},
	}
	history, err := f.ds.AppendDetection(ctx, req.MRNo, entry)
	if err != nil {
		return nil, err
	}
	for _, o := range f.observers {
		_ = o.Observe(ctx, &detection.Event{MRNo: req.MRNo})
	}
	return &detection.Outcome{
		Patient: patient,
		History: history,
		Entry:   entry,
		Latest: detection.LatestPrediction{
			Result:          "Pneumonia",
			Confidence:      "81.00%",
			ModelUsed:       "multilabel",
			TotalDetections: len(history.Entries),
		},
		Message: "Detection completed successfully",
	}, nil
}

type fakeModels struct{ statuses []inference.Status }

func (f fakeModels) Status(context.Context) []inference.Status { return f.statuses }

type fakeEnrichment struct {
	enabled bool
	status  enrichment.Status
	err     error
}

func (f fakeEnrichment) Enabled() bool { return f.enabled }

func (f fakeEnrichment) Status(context.Context) (enrichment.Status, error) {
	return f.status, f.err
}

type testEnv struct {
	echo     *echo.Echo
	ctrl     *Controller
	ds       datastore.Interface
	detector *fakeDetector
}

func setupTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	settings := &conf.Settings{Version: "test", BuildDate: "2026-01-01"}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = t.TempDir() + "/api.db"

	ds := datastore.New(settings)
	require.NoError(t, ds.Open())
	t.Cleanup(func() { assert.NoError(t, ds.Close()) })

	det := &fakeDetector{ds: ds}
	e := echo.New()
	opts = append([]Option{WithUploadDir(t.TempDir())}, opts...)
	ctrl, err := New(e, ds, settings, det, opts...)
	require.NoError(t, err)
	t.Cleanup(ctrl.Shutdown)

	return &testEnv{echo: e, ctrl: ctrl, ds: ds, detector: det}
}

func (env *testEnv) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func (env *testEnv) addPatient(t *testing.T, mrNo string) {
	t.Helper()
	require.NoError(t, env.ds.CreatePatient(t.Context(), &datastore.Patient{MRNo: mrNo, FullName: "Jane Roe"}))
}

func uploadRequest(t *testing.T, path, mode string, image []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if mode != "" {
		require.NoError(t, w.WriteField(FormMode, mode))
	}
	if image != nil {
		part, err := w.CreateFormFile(FormImage, "chest.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(echo.New(), nil, &conf.Settings{}, &fakeDetector{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestNew_RegistersResultsCacheObserver(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)

	require.Len(t, env.detector.observers, 1)
	assert.Same(t, env.ctrl.Results(), env.detector.observers[0])
}

func TestCreateDetection(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)
	env.addPatient(t, "MR-100")

	rec, body := env.do(t, uploadRequest(t, "/api/v2/detections/MR-100", "multilabel", []byte("png-bytes")))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, http.StatusOK, body["statusCode"])
	assert.Equal(t, "Detection completed successfully", body["message"])

	data := body["data"].(map[string]any)
	assert.Equal(t, "MR-100", data["MR_no"])
	assert.Len(t, data["detection"], 1)
	latest := data["latestPrediction"].(map[string]any)
	assert.Equal(t, "Pneumonia", latest["result"])
	assert.EqualValues(t, 1, latest["totalDetections"])

	require.Len(t, env.detector.requests, 1)
	got := env.detector.requests[0]
	assert.Equal(t, "MR-100", got.MRNo)
	assert.Equal(t, "multilabel", got.Mode)
	assert.Equal(t, "chest.png", got.FileName)
	assert.True(t, strings.HasSuffix(got.FilePath, ".png"))
	assert.Equal(t, []bool{true}, env.detector.staged, "upload must be staged before Detect")
}

func TestCreateDetection_LegacyRoute(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)
	env.addPatient(t, "MR-101")

	rec, body := env.do(t, uploadRequest(t, "/api/v2/sendImage/MR-101", "", []byte("png-bytes")))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	require.Len(t, env.detector.requests, 1)
	assert.Equal(t, "MR-101", env.detector.requests[0].MRNo)
	assert.Empty(t, env.detector.requests[0].Mode)
}

func TestCreateDetection_MissingImage(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)

	rec, body := env.do(t, uploadRequest(t, "/api/v2/detections/MR-102", "binary", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "X-ray image is required", body["message"])
	assert.NotEmpty(t, body["correlation_id"])
}

func TestCreateDetection_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{
			name:     "unknown patient",
			err:      errors.NotFoundError("patient MR-404 not found"),
			wantCode: http.StatusNotFound,
			wantMsg:  "patient MR-404 not found",
		},
		{
			name: "upload failure",
			err: errors.Newf("bucket unavailable").
				Component("storage").Category(errors.CategoryUpload).Build(),
			wantCode: http.StatusBadGateway,
			wantMsg:  "Failed to store the X-ray image",
		},
		{
			name: "prediction failure",
			err: errors.Newf("scorer returned 500").
				Component("inference").Category(errors.CategoryPrediction).Build(),
			wantCode: http.StatusBadGateway,
			wantMsg:  "Prediction failed",
		},
		{
			name: "database failure",
			err: errors.Newf("disk I/O error at /var/lib/chestguard.db").
				Component("datastore").Category(errors.CategoryDatabase).Build(),
			wantCode: http.StatusInternalServerError,
			wantMsg:  "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := setupTestEnv(t)
			env.detector.err = tt.err

			rec, body := env.do(t, uploadRequest(t, "/api/v2/detections/MR-1", "", []byte("x")))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantMsg, body["message"])
			assert.EqualValues(t, tt.wantCode, body["code"])
			assert.Equal(t, false, body["success"])
			assert.EqualValues(t, tt.wantCode, body["statusCode"])
			if tt.wantCode >= http.StatusInternalServerError {
				assert.Equal(t, tt.wantMsg, body["error"], "internals must not leak")
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	conflict := errors.Newf("duplicate").Component("datastore").Category(errors.CategoryConflict).Build()
	assert.Equal(t, http.StatusBadRequest, StatusFor(errors.ValidationError("bad")))
	assert.Equal(t, http.StatusNotFound, StatusFor(errors.NotFoundError("gone")))
	assert.Equal(t, http.StatusConflict, StatusFor(conflict))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.NewStd("plain")))
}

func TestGetDetections(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)
	env.addPatient(t, "MR-200")

	rec, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v2/detections/MR-200", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, MessageNoResults, body["message"])
	data := body["data"].(map[string]any)
	assert.Equal(t, []any{}, data["detection"])
	assert.NotNil(t, data["patient"])

	_, _ = env.do(t, uploadRequest(t, "/api/v2/detections/MR-200", "", []byte("x")))

	rec, body = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v2/getDetectedResults/MR-200", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, MessageResults, body["message"], "a stored detection must evict the cached empty history")
	data = body["data"].(map[string]any)
	assert.Len(t, data["detection"], 1)
	assert.NotEmpty(t, data["createdAt"])
}

func TestGetDetections_UnknownPatient(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)

	rec, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v2/detections/MR-404", http.NoBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.EqualValues(t, http.StatusNotFound, body["statusCode"])
	assert.Nil(t, body["data"])
}

func TestGetDetections_ServedFromCache(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)

	cached := &HistoryData{
		Patient:   &datastore.Patient{MRNo: "MR-300"},
		MRNo:      "MR-300",
		Detection: []datastore.DetectionEntry{{Result: "TB"}},
	}
	env.ctrl.Results().Set("MR-300", cached)

	rec, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v2/detections/MR-300", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code, "cached entry is served without a patient row")
	assert.Equal(t, MessageResults, body["message"])
}

func TestResultsCache_Observe(t *testing.T) {
	t.Parallel()

	rc := NewResultsCache(time.Minute)
	rc.Set(" MR-1 ", &HistoryData{MRNo: "MR-1"})
	_, ok := rc.Get("MR-1")
	require.True(t, ok)

	require.NoError(t, rc.Observe(t.Context(), &detection.Event{MRNo: "MR-1"}))
	_, ok = rc.Get("MR-1")
	assert.False(t, ok)
	assert.Equal(t, "results_cache", rc.Name())
}

// interleavingStore runs afterRead once, between the history read and the
// handler caching it.
type interleavingStore struct {
	datastore.Interface
	once      sync.Once
	afterRead func()
}

func (s *interleavingStore) GetHistory(ctx context.Context, mrNo string) (*datastore.Patient, *datastore.DetectionHistory, error) {
	patient, history, err := s.Interface.GetHistory(ctx, mrNo)
	s.once.Do(s.afterRead)
	return patient, history, err
}

func TestGetDetections_AppendDuringRead(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)
	env.addPatient(t, "MR-250")

	store := &interleavingStore{Interface: env.ds}
	det := &fakeDetector{ds: env.ds}
	e := echo.New()
	ctrl, err := New(e, store, &conf.Settings{}, det, WithUploadDir(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(ctrl.Shutdown)

	store.afterRead = func() {
		_, err := det.Detect(t.Context(), detection.Request{MRNo: "MR-250", FilePath: writeTempFile(t)})
		require.NoError(t, err)
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v2/detections/MR-250", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	_, cached := ctrl.Results().Get("MR-250")
	assert.False(t, cached, "a history read before the append must not be cached")

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v2/detections/MR-250", http.NoBody))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, MessageResults, body["message"])
	assert.Len(t, body["data"].(map[string]any)["detection"], 1)
}

func TestResultsCache_SetIfCurrent(t *testing.T) {
	t.Parallel()

	rc := NewResultsCache(time.Minute)
	gen := rc.Generation("MR-2")
	rc.Invalidate("MR-2")

	assert.False(t, rc.SetIfCurrent("MR-2", gen, &HistoryData{MRNo: "MR-2"}))
	_, ok := rc.Get("MR-2")
	assert.False(t, ok)

	assert.True(t, rc.SetIfCurrent("MR-2", rc.Generation("MR-2"), &HistoryData{MRNo: "MR-2"}))
	_, ok = rc.Get("MR-2")
	assert.True(t, ok)
}

func writeTempFile(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "xray-*.png")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestPatients(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)

	create := func(body string) (*httptest.ResponseRecorder, map[string]any) {
		req := httptest.NewRequest(http.MethodPost, "/api/v2/patients", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		return env.do(t, req)
	}

	rec, body := create(`{"MR_no":" MR-1 ","fullName":"Jane Roe","age":41,"city":"Lahore"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "MR-1", data["MR_no"])
	assert.Equal(t, "Jane Roe", data["fullName"])

	rec, _ = create(`{"MR_no":"MR-1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = create(`{"fullName":"No Number"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = create(`{"MR_no":"MR-9","age":-3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, _ = create(`{"MR_no":"MR-2"}`)

	rec, body = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v2/patients?limit=1&offset=1", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	list := body["data"].(map[string]any)
	assert.EqualValues(t, 1, list["limit"])
	patients := list["patients"].([]any)
	require.Len(t, patients, 1)
	assert.Equal(t, "MR-2", patients[0].(map[string]any)["MR_no"])

	rec, _ = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v2/patients?limit=abc", http.NoBody))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v2/patients/MR-1", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Jane Roe", body["data"].(map[string]any)["fullName"])

	rec, _ = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v2/patients/MR-404", http.NoBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetEnrichmentStatus(t *testing.T) {
	t.Parallel()

	t.Run("not configured", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)
		rec, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v2/enrichment/status", http.NoBody))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, body["data"].(map[string]any)["enabled"])
	})

	t.Run("enabled", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t, WithEnrichment(fakeEnrichment{
			enabled: true,
			status:  enrichment.Status{CanMakeCall: true, DailyCalls: 3, MaxDailyCalls: 100},
		}))
		rec, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v2/enrichment/status", http.NoBody))
		require.Equal(t, http.StatusOK, rec.Code)
		data := body["data"].(map[string]any)
		assert.Equal(t, true, data["enabled"])
		assert.Equal(t, true, data["canMakeCall"])
		assert.EqualValues(t, 3, data["dailyCalls"])
	})

	t.Run("limiter failure", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t, WithEnrichment(fakeEnrichment{
			enabled: true,
			err:     errors.Newf("quota table missing").Component("enrichment").Category(errors.CategoryDatabase).Build(),
		}))
		rec, _ := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v2/enrichment/status", http.NoBody))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	t.Run("healthy", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t, WithModelStatus(fakeModels{statuses: []inference.Status{
			{Mode: inference.ModeMultilabel, Ready: true},
		}}))
		rec, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v2/health", http.NoBody))
		require.Equal(t, http.StatusOK, rec.Code)
		data := body["data"].(map[string]any)
		assert.Equal(t, HealthHealthy, data["status"])
		assert.Equal(t, "connected", data["database_status"])
		assert.Equal(t, "test", data["version"])
		assert.Len(t, data["models"], 1)
		system := data["system"].(map[string]any)
		assert.Positive(t, system["num_cpu"])
		assert.Positive(t, system["goroutines"])
	})

	t.Run("no model ready", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t, WithModelStatus(fakeModels{statuses: []inference.Status{
			{Mode: inference.ModeBinary, Ready: false},
		}}))
		rec, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v2/health", http.NoBody))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, HealthDegraded, body["data"].(map[string]any)["status"])
	})

	t.Run("database closed", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)
		sqlDB, err := env.ds.Gorm().DB()
		require.NoError(t, err)
		require.NoError(t, sqlDB.Close())

		rec, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v2/health", http.NoBody))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "disconnected", body["data"].(map[string]any)["database_status"])
	})
}

func TestGetSystemInfo(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)

	rec, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v2/system/info", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.NotEmpty(t, data["go_version"])
	assert.NotZero(t, data["num_cpu"])
}
