package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/errors"
)

// mockTransport implements sentry.Transport for testing
type mockTransport struct {
	mu     sync.Mutex
	events []*sentry.Event
}

//nolint:gocritic // hugeParam: interface requirement
func (t *mockTransport) Configure(sentry.ClientOptions) {}

func (t *mockTransport) SendEvent(event *sentry.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
}

func (t *mockTransport) Flush(time.Duration) bool                { return true }
func (t *mockTransport) FlushWithContext(context.Context) bool { return true }
func (t *mockTransport) Close()                                  {}

func (t *mockTransport) Events() []*sentry.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*sentry.Event(nil), t.events...)
}

func setupSentry(t *testing.T) *mockTransport {
	t.Helper()
	transport := &mockTransport{}
	settings := &conf.Settings{Version: "1.2.3"}
	settings.Main.Name = "ward-3"
	settings.Telemetry.Enabled = true
	settings.Telemetry.DSN = "https://public@example.com/1"

	require.NoError(t, initSentry(settings, transport))
	t.Cleanup(func() {
		errors.SetTelemetryReporter(nil)
		sentryInitialized.Store(false)
		_ = sentry.Init(sentry.ClientOptions{})
	})
	return transport
}

func TestInitSentry_Disabled(t *testing.T) {
	require.NoError(t, InitSentry(&conf.Settings{}))
	assert.False(t, Enabled())
}

func TestInitSentry_RequiresDSN(t *testing.T) {
	settings := &conf.Settings{}
	settings.Telemetry.Enabled = true

	err := InitSentry(settings)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.False(t, Enabled())
}

func TestEnhancedErrorsAreReported(t *testing.T) {
	transport := setupSentry(t)
	assert.True(t, Enabled())

	_ = errors.Newf("gemini call failed: https://generativelanguage.googleapis.com/v1?key=AIzaSyA1234567890abcdefghij").
		Component("enrichment").
		Category(errors.CategoryEnrichment).
		Build()

	events := transport.Events()
	require.Len(t, events, 1)
	ev := events[0]
	assert.NotContains(t, ev.Message, "AIzaSy")
	assert.Equal(t, "enrichment", ev.Tags["component"])
	assert.Equal(t, "ward-3", ev.Tags["node"])
	assert.Equal(t, "chestguard@1.2.3", ev.Release)
	assert.Empty(t, ev.ServerName)
}

func TestValidationErrorsAreNotReported(t *testing.T) {
	transport := setupSentry(t)

	_ = errors.ValidationError("Medical Record number is required")
	assert.Empty(t, transport.Events())
}

func TestCaptureError(t *testing.T) {
	transport := setupSentry(t)

	CaptureError(errors.NewStd("lookup failed for mr_no=MR-000123"), "api")
	CaptureError(nil, "api")

	events := transport.Events()
	require.Len(t, events, 1)
	assert.NotContains(t, events[0].Message, "MR-000123")
	assert.Equal(t, "api", events[0].Tags["component"])

	// already reported when built
	ee := errors.Newf("db down").Category(errors.CategoryDatabase).Build()
	require.Len(t, transport.Events(), 2)
	CaptureError(ee, "api")
	assert.Len(t, transport.Events(), 2)
}

func TestBeforeSend(t *testing.T) {
	event := sentry.NewEvent()
	event.ServerName = "host-1"
	event.User = sentry.User{ID: "u"}
	event.Tags = map[string]string{"hostname": "h", "component": "x"}
	event.Extra = map[string]any{"component": "x", "path": "/home/me"}
	event.Message = "token=secret"

	out := beforeSend(event, nil)
	assert.Empty(t, out.ServerName)
	assert.True(t, out.User.IsEmpty())
	assert.NotContains(t, out.Tags, "hostname")
	assert.NotContains(t, out.Extra, "path")
	assert.NotContains(t, out.Message, "secret")
}

func TestFlush_NoopWhenDisabled(t *testing.T) {
	Flush(10 * time.Millisecond)
}
