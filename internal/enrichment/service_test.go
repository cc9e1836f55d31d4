package enrichment

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/fusion"
	"github.com/chestguard/chestguard/internal/httpclient"
	"github.com/chestguard/chestguard/internal/inference"
)

const structuredResponse = `{"condition":"pneumonia","findings":{"primary_findings":["Consolidation"],"severity":"mild"},"confidence":"high"}`

var (
	jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}
	pngBytes  = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
)

type fakeAnalyzer struct {
	mu       sync.Mutex
	text     string
	err      error
	requests []Request
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.text, f.err
}

func (f *fakeAnalyzer) Model() string { return "fake-vision" }

func (f *fakeAnalyzer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newTestService(t *testing.T, analyzer Analyzer) (*Service, *fakeClock, *httpmock.MockTransport) {
	t.Helper()
	clock := newFakeClock()
	mt := httpmock.NewMockTransport()
	limiter := NewLimiter(NewMemoryStore(), clock.Now, time.Minute, 50, time.UTC)
	svc := NewService(limiter, analyzer,
		WithClock(clock.Now),
		WithHTTPClient(httpclient.New(&httpclient.Config{Transport: mt})))
	return svc, clock, mt
}

func writeImage(t *testing.T, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "xray.img")
	require.NoError(t, os.WriteFile(p, data, 0o600))
	return p
}

func TestEnrich_Structured(t *testing.T) {
	t.Parallel()

	fa := &fakeAnalyzer{text: "```json\n" + structuredResponse + "\n```"}
	svc, clock, _ := newTestService(t, fa)

	r := svc.Enrich(t.Context(), inference.Source{Path: writeImage(t, jpegBytes)}, fusion.ResultPneumonia)
	assert.Equal(t, Structured, r.Kind)
	assert.True(t, r.Success())
	assert.Equal(t, "fake-vision", r.ModelUsed)
	assert.Equal(t, clock.Now(), r.Timestamp)
	assert.Equal(t, []string{"Consolidation"}, r.Analysis.PrimaryFindings)

	require.Len(t, fa.requests, 1)
	assert.Equal(t, fusion.ResultPneumonia, fa.requests[0].Condition)
	assert.Equal(t, "image/jpeg", fa.requests[0].MIMEType)
	assert.Equal(t, jpegBytes, fa.requests[0].Image)
}

func TestEnrich_FetchesURLWhenLocalFileIsGone(t *testing.T) {
	t.Parallel()

	fa := &fakeAnalyzer{text: structuredResponse}
	svc, _, mt := newTestService(t, fa)
	mt.RegisterResponder(http.MethodGet, "https://media.example.org/xrays/1.png",
		httpmock.NewBytesResponder(http.StatusOK, pngBytes))

	src := inference.Source{
		Path: filepath.Join(t.TempDir(), "removed.jpg"),
		URL:  "https://media.example.org/xrays/1.png",
	}
	r := svc.Enrich(t.Context(), src, fusion.ResultTuberculosis)
	assert.Equal(t, Structured, r.Kind)
	require.Len(t, fa.requests, 1)
	assert.Equal(t, "image/png", fa.requests[0].MIMEType)
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestEnrich_Disabled(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t, nil)
	assert.False(t, svc.Enabled())

	r := svc.Enrich(t.Context(), inference.Source{Path: writeImage(t, jpegBytes)}, fusion.ResultPneumonia)
	assert.Equal(t, Fallback, r.Kind)
	assert.Equal(t, ReasonDisabled, r.Reason)

	st, err := svc.Status(t.Context())
	require.NoError(t, err)
	assert.Zero(t, st.DailyCalls, "disabled enrichment does not use quota")
}

func TestEnrich_RateLimitedByLimiter(t *testing.T) {
	t.Parallel()

	fa := &fakeAnalyzer{text: structuredResponse}
	svc, clock, _ := newTestService(t, fa)
	src := inference.Source{Path: writeImage(t, jpegBytes)}

	first := svc.Enrich(t.Context(), src, fusion.ResultPneumonia)
	require.Equal(t, Structured, first.Kind)

	clock.Advance(30 * time.Second)
	second := svc.Enrich(t.Context(), src, fusion.ResultPneumonia)
	assert.Equal(t, Fallback, second.Kind)
	assert.Equal(t, ReasonRateLimited, second.Reason)
	assert.Equal(t, "rate_limited", second.ModelUsed)
	assert.Equal(t, 1, fa.calls(), "limited call never reaches the analyzer")
}

func TestEnrich_FailedCallConsumesQuota(t *testing.T) {
	t.Parallel()

	fa := &fakeAnalyzer{err: assert.AnError}
	svc, _, _ := newTestService(t, fa)

	r := svc.Enrich(t.Context(), inference.Source{Path: writeImage(t, jpegBytes)}, fusion.ResultBoth)
	assert.Equal(t, Fallback, r.Kind)
	assert.Equal(t, ReasonError, r.Reason)
	assert.Equal(t, assert.AnError.Error(), r.Error)

	st, err := svc.Status(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, st.DailyCalls)
	assert.False(t, st.CanMakeCall)
	assert.Equal(t, int64(60), st.SecondsUntilNextCall)
}

func TestEnrich_RemoteQuotaRejection(t *testing.T) {
	t.Parallel()

	fa := &fakeAnalyzer{err: &googleapi.Error{Code: http.StatusTooManyRequests, Message: "quota exceeded"}}
	svc, _, _ := newTestService(t, fa)

	r := svc.Enrich(t.Context(), inference.Source{Path: writeImage(t, jpegBytes)}, fusion.ResultPneumonia)
	assert.Equal(t, Fallback, r.Kind)
	assert.Equal(t, ReasonRateLimited, r.Reason)
}

func TestEnrich_EmptyResponse(t *testing.T) {
	t.Parallel()

	fa := &fakeAnalyzer{text: "  \n"}
	svc, _, _ := newTestService(t, fa)

	r := svc.Enrich(t.Context(), inference.Source{Path: writeImage(t, jpegBytes)}, fusion.ResultPneumonia)
	assert.Equal(t, Fallback, r.Kind)
	assert.Equal(t, ReasonUnparseable, r.Reason)
}

func TestEnrich_Heuristic(t *testing.T) {
	t.Parallel()

	fa := &fakeAnalyzer{text: "Patchy airspace disease in the right lower zone."}
	svc, _, _ := newTestService(t, fa)

	r := svc.Enrich(t.Context(), inference.Source{Path: writeImage(t, jpegBytes)}, fusion.ResultPneumonia)
	assert.Equal(t, HeuristicParsed, r.Kind)
	assert.True(t, r.Success())
	assert.Equal(t, fa.text, r.Analysis.RawResponse)
}

func TestEnrich_ImageUnavailable(t *testing.T) {
	t.Parallel()

	fa := &fakeAnalyzer{text: structuredResponse}
	svc, _, mt := newTestService(t, fa)
	mt.RegisterResponder(http.MethodGet, "https://media.example.org/missing.jpg",
		httpmock.NewStringResponder(http.StatusNotFound, "not found"))

	r := svc.Enrich(t.Context(), inference.Source{URL: "https://media.example.org/missing.jpg"}, fusion.ResultPneumonia)
	assert.Equal(t, Fallback, r.Kind)
	assert.Equal(t, ReasonError, r.Reason)
	assert.Zero(t, fa.calls())
}

func TestIsRateLimited(t *testing.T) {
	t.Parallel()

	assert.False(t, IsRateLimited(nil))
	assert.False(t, IsRateLimited(assert.AnError))
	assert.True(t, IsRateLimited(&googleapi.Error{Code: http.StatusTooManyRequests}))
	assert.False(t, IsRateLimited(&googleapi.Error{Code: http.StatusInternalServerError}))
}

func TestNewFromSettings(t *testing.T) {
	t.Parallel()

	svc, err := NewFromSettings(&conf.EnrichmentSettings{Enabled: true, Store: conf.EnrichmentStoreMemory}, nil, nil)
	require.NoError(t, err)
	assert.False(t, svc.Enabled(), "no API key")

	svc, err = NewFromSettings(&conf.EnrichmentSettings{Enabled: true, APIKey: "k", Timezone: "Europe/Helsinki"}, nil, nil)
	require.NoError(t, err)
	assert.True(t, svc.Enabled())

	_, err = NewFromSettings(&conf.EnrichmentSettings{Store: conf.EnrichmentStoreDatabase}, nil, nil)
	require.Error(t, err)

	_, err = NewFromSettings(&conf.EnrichmentSettings{Timezone: "Mars/Olympus"}, nil, nil)
	require.Error(t, err)

	svc, err = NewFromSettings(&conf.EnrichmentSettings{Store: conf.EnrichmentStoreDatabase}, openQuotaDB(t).Gorm(), nil)
	require.NoError(t, err)
	st, err := svc.Status(t.Context())
	require.NoError(t, err)
	assert.Equal(t, DefaultDailyLimit, st.MaxDailyCalls)
}
