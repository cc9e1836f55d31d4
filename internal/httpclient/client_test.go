package httpclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		client := New(nil)
		assert.Equal(t, DefaultTimeout, client.defaultTimeout)
		assert.Equal(t, DefaultUserAgent, client.userAgent)
		assert.Equal(t, int64(DefaultMaxDownloadBytes), client.maxDownloadBytes)
	})

	t.Run("custom config", func(t *testing.T) {
		cfg := Config{DefaultTimeout: 5 * time.Second, UserAgent: "TestAgent/1.0"}
		client := New(&cfg)
		assert.Equal(t, 5*time.Second, client.defaultTimeout)
		assert.Equal(t, "TestAgent/1.0", client.userAgent)
	})

	t.Run("zero values use defaults", func(t *testing.T) {
		cfg := Config{}
		client := New(&cfg)
		assert.Equal(t, DefaultTimeout, client.defaultTimeout)
		assert.Equal(t, DefaultUserAgent, client.userAgent)
		assert.Equal(t, Config{}, cfg, "caller config must not be mutated")
	})
}

func TestDo_InjectsUserAgent(t *testing.T) {
	client, mt := newMockedClient(t, Config{})

	var received string
	mt.RegisterResponder(http.MethodGet, "http://scorer.test/health",
		func(req *http.Request) (*http.Response, error) {
			received = req.Header.Get("User-Agent")
			return httpmock.NewStringResponse(http.StatusOK, "ok"), nil
		})

	resp, err := client.Get(t.Context(), "http://scorer.test/health")
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	assert.Equal(t, DefaultUserAgent, received)
}

func TestDo_ContextCancellation(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(http.StatusOK)
	})
	client := newTestClient(t)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	resp, err := client.Get(ctx, server.URL)
	defer closeResponseBody(t, resp)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_DefaultTimeout(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})

	cfg := Config{DefaultTimeout: 50 * time.Millisecond}
	client := newTestClientWithConfig(t, &cfg)

	resp, err := client.Get(t.Context(), server.URL)
	defer closeResponseBody(t, resp)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDo_BodyReadableAfterDefaultTimeoutApplied(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload"))
	})
	cfg := Config{DefaultTimeout: 5 * time.Second}
	client := newTestClientWithConfig(t, &cfg)

	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
}

func TestDo_Hooks(t *testing.T) {
	client, mt := newMockedClient(t, Config{})
	mt.RegisterResponder(http.MethodGet, "http://scorer.test/health",
		httpmock.NewStringResponder(http.StatusOK, "ok"))

	var beforeURL string
	var afterStatus int
	client.SetBeforeRequestHook(func(r *http.Request) { beforeURL = r.URL.String() })
	client.SetAfterResponseHook(func(_ *http.Request, resp *http.Response, err error) {
		if err == nil {
			afterStatus = resp.StatusCode
		}
	})

	resp, err := client.Get(t.Context(), "http://scorer.test/health")
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	assert.Equal(t, "http://scorer.test/health", beforeURL)
	assert.Equal(t, http.StatusOK, afterStatus)
}

type outboundObservation struct {
	host, status string
}

type recordingRecorder struct {
	mu   sync.Mutex
	seen []outboundObservation
}

func (r *recordingRecorder) RecordOutboundRequest(host, status string, duration float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, outboundObservation{host: host, status: status})
}

func TestInstrument(t *testing.T) {
	client, mt := newMockedClient(t, Config{})
	mt.RegisterResponder(http.MethodGet, "http://scorer.test/health",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "down"))
	mt.RegisterResponder(http.MethodGet, "http://scorer.test/broken",
		httpmock.NewErrorResponder(assert.AnError))

	rec := &recordingRecorder{}
	client.Instrument(rec)

	resp, err := client.Get(t.Context(), "http://scorer.test/health")
	require.NoError(t, err)
	closeResponseBody(t, resp)

	_, err = client.Get(t.Context(), "http://scorer.test/broken")
	require.Error(t, err)

	assert.Equal(t, []outboundObservation{
		{host: "scorer.test", status: "503"},
		{host: "scorer.test", status: "error"},
	}, rec.seen)
}

func TestPost_MarshalsJSON(t *testing.T) {
	client, mt := newMockedClient(t, Config{})
	mt.RegisterResponder(http.MethodPost, "http://hooks.test/event",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
			body, _ := io.ReadAll(req.Body)
			assert.JSONEq(t, `{"result":"both"}`, string(body))
			return httpmock.NewStringResponse(http.StatusCreated, ""), nil
		})

	resp, err := client.Post(t.Context(), "http://hooks.test/event", "", map[string]string{"result": "both"})
	require.NoError(t, err)
	defer closeResponseBody(t, resp)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestPostMultipart(t *testing.T) {
	client, mt := newMockedClient(t, Config{})
	mt.RegisterResponder(http.MethodPost, "http://scorer.test/predict",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, req.ParseMultipartForm(1<<20))
			file, header, err := req.FormFile("file")
			require.NoError(t, err)
			defer file.Close() //nolint:errcheck // test
			data, _ := io.ReadAll(file)
			assert.Equal(t, "xray.jpg", header.Filename)
			assert.Equal(t, "image/jpeg", header.Header.Get("Content-Type"))
			assert.Equal(t, []byte{0xFF, 0xD8, 0xFF}, data)
			return httpmock.NewStringResponse(http.StatusOK, `{}`), nil
		})

	resp, err := client.PostMultipart(t.Context(), "http://scorer.test/predict", FilePart{
		Field:       "file",
		FileName:    "xray.jpg",
		ContentType: "image/jpeg",
		Content:     bytes.NewReader([]byte{0xFF, 0xD8, 0xFF}),
	})
	require.NoError(t, err)
	defer closeResponseBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFetch(t *testing.T) {
	client, mt := newMockedClient(t, Config{MaxDownloadBytes: 8})

	mt.RegisterResponder(http.MethodGet, "http://cdn.test/small.png",
		httpmock.NewBytesResponder(http.StatusOK, []byte("png!")))
	mt.RegisterResponder(http.MethodGet, "http://cdn.test/large.png",
		httpmock.NewStringResponder(http.StatusOK, strings.Repeat("x", 64)))
	mt.RegisterResponder(http.MethodGet, "http://cdn.test/missing.png",
		httpmock.NewStringResponder(http.StatusNotFound, "nope"))

	data, err := client.Fetch(t.Context(), "http://cdn.test/small.png")
	require.NoError(t, err)
	assert.Equal(t, "png!", string(data))

	_, err = client.Fetch(t.Context(), "http://cdn.test/large.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds 8 bytes")

	_, err = client.Fetch(t.Context(), "http://cdn.test/missing.png")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
}

func TestClose(t *testing.T) {
	client := New(nil)
	client.Close()
	client.Close()
}
