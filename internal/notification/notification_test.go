package notification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/detection"
	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/fusion"
	"github.com/chestguard/chestguard/internal/inference"
)

var (
	_ detection.Observer = (*Notifier)(nil)
	_ Provider           = (*ShoutrrrProvider)(nil)
)

type fakeProvider struct {
	name    string
	enabled bool
	err     error

	mu   sync.Mutex
	sent []*Notification
}

func (f *fakeProvider) GetName() string { return f.name }
func (f *fakeProvider) IsEnabled() bool { return f.enabled }

func (f *fakeProvider) Send(_ context.Context, n *Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return f.err
}

type fakeRecorder struct {
	deliveries map[string]int
	failures   map[string]int
	suppressed map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{deliveries: map[string]int{}, failures: map[string]int{}, suppressed: map[string]int{}}
}

func (r *fakeRecorder) RecordDelivery(service string, err error, _ time.Duration) {
	r.deliveries[service]++
	if err != nil {
		r.failures[service]++
	}
}

func (r *fakeRecorder) RecordSuppressed(reason string) { r.suppressed[reason]++ }

func abnormalEvent() *detection.Event {
	return &detection.Event{
		MRNo:       "MR-77",
		Mode:       inference.ModeBinary,
		Result:     fusion.ResultTuberculosis,
		Confidence: 0.912,
		ImageURL:   "http://localhost:8080/media/xrays/b.png",
		Abnormal:   true,
		Enrichment: "structured",
		Timestamp:  time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Node:       "ward-3",
	}
}

func TestNotifier_SendsAbnormal(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{name: "telegram", enabled: true}
	off := &fakeProvider{name: "off", enabled: false}
	rec := newFakeRecorder()
	n := NewNotifier(rec, p, off)

	require.NoError(t, n.Observe(t.Context(), abnormalEvent()))

	require.Len(t, p.sent, 1)
	assert.Empty(t, off.sent)
	assert.Equal(t, "ChestGuard: Tuberculosis detected", p.sent[0].Title)
	assert.Contains(t, p.sent[0].Message, "Patient MR-77: Tuberculosis (91.2% confidence, binary model).")
	assert.Contains(t, p.sent[0].Message, "Radiological analysis: structured.")
	assert.Contains(t, p.sent[0].Message, "on ward-3")
	assert.Equal(t, PriorityMedium, p.sent[0].Priority)
	assert.Equal(t, 1, rec.deliveries["telegram"])
}

func TestNotifier_SkipsNormal(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{name: "telegram", enabled: true}
	rec := newFakeRecorder()
	ev := abnormalEvent()
	ev.Result = fusion.ResultNormal
	ev.Abnormal = false

	require.NoError(t, NewNotifier(rec, p).Observe(t.Context(), ev))
	assert.Empty(t, p.sent)
	assert.Equal(t, 1, rec.suppressed[SuppressedNormal])
}

func TestNotifier_BothIsHighPriority(t *testing.T) {
	t.Parallel()

	ev := abnormalEvent()
	ev.Result = fusion.ResultBoth
	ev.Enrichment = ""

	msg, err := NewNotifier(nil).Render(ev)
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, msg.Priority)
	assert.Equal(t, "ChestGuard: Pneumonia and tuberculosis detected", msg.Title)
	assert.Contains(t, msg.Message, "Radiological analysis: not performed.")
}

func TestNotifier_ProviderFailure(t *testing.T) {
	t.Parallel()

	bad := &fakeProvider{name: "bad", enabled: true, err: assert.AnError}
	good := &fakeProvider{name: "good", enabled: true}
	rec := newFakeRecorder()

	err := NewNotifier(rec, bad, good).Observe(t.Context(), abnormalEvent())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotification))
	assert.Len(t, good.sent, 1, "remaining providers still run")
	assert.Equal(t, 1, rec.failures["bad"])
}

func TestNotifier_NoEnabledProviders(t *testing.T) {
	t.Parallel()

	rec := newFakeRecorder()
	require.NoError(t, NewNotifier(rec).Observe(t.Context(), abnormalEvent()))
	assert.Equal(t, 1, rec.suppressed[SuppressedDisabled])
}

func TestShoutrrrProvider(t *testing.T) {
	t.Parallel()

	_, err := NewShoutrrrProvider("", true, nil, time.Second)
	require.Error(t, err)

	_, err = NewShoutrrrProvider("", true, []string{"nosuchservice://token@host"}, time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	p, err := NewShoutrrrProvider("", true, []string{"logger://"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "shoutrrr", p.GetName())
	require.NoError(t, p.Send(t.Context(), &Notification{Title: "t", Message: "m"}))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, p.Send(ctx, &Notification{Message: "m"}), context.Canceled)
}

func TestNewFromSettings(t *testing.T) {
	t.Parallel()

	p, err := NewFromSettings(&conf.NotificationSettings{})
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = NewFromSettings(&conf.NotificationSettings{Enabled: true, URLs: []string{"logger://"}})
	require.NoError(t, err)
	assert.True(t, p.IsEnabled())
}
