package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTT error kinds.
const (
	MQTTErrorConnect = "connect"
	MQTTErrorPublish = "publish"
	MQTTErrorTimeout = "timeout"
)

// MQTTMetrics covers detection event publishing to the broker.
type MQTTMetrics struct {
	Connected      prometheus.Gauge
	LastConnected  prometheus.Gauge
	EventsTotal    *prometheus.CounterVec
	ErrorsTotal    *prometheus.CounterVec
	Reconnects     prometheus.Counter
	PayloadBytes   prometheus.Histogram
	PublishLatency prometheus.Histogram

	registry *prometheus.Registry
}

// NewMQTTMetrics creates and registers the MQTT metrics.
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

func (m *MQTTMetrics) initMetrics() {
	m.Connected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "mqtt_connected",
		Help:      "1 while the broker connection is up",
	})

	m.LastConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "mqtt_last_connected_timestamp_seconds",
		Help:      "Unix time of the last successful broker connection",
	})

	m.EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "mqtt_events_published_total",
			Help:      "Detection events published by result topic",
		},
		[]string{"result"},
	)

	m.ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "mqtt_errors_total",
			Help:      "Broker failures by kind",
		},
		[]string{"kind"},
	)

	m.Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "mqtt_reconnect_attempts_total",
		Help:      "Reconnect attempts after a lost connection",
	})

	m.PayloadBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "mqtt_event_payload_bytes",
		Help:      "Size of published detection events",
		Buckets:   prometheus.ExponentialBuckets(128, 2, 8),
	})

	m.PublishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "mqtt_publish_duration_seconds",
		Help:      "Time until the broker acknowledged a publish",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})
}

// SetConnected tracks the connection state.
func (m *MQTTMetrics) SetConnected(connected bool) {
	if !connected {
		m.Connected.Set(0)
		return
	}
	m.Connected.Set(1)
	m.LastConnected.SetToCurrentTime()
}

// RecordPublish records one delivered event.
func (m *MQTTMetrics) RecordPublish(result string, payloadBytes int, elapsed time.Duration) {
	if result == "" {
		result = "unknown"
	}
	m.EventsTotal.WithLabelValues(result).Inc()
	m.PayloadBytes.Observe(float64(payloadBytes))
	m.PublishLatency.Observe(elapsed.Seconds())
}

// RecordError counts a failure of the given kind.
func (m *MQTTMetrics) RecordError(kind string) {
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordReconnect counts a reconnect attempt.
func (m *MQTTMetrics) RecordReconnect() {
	m.Reconnects.Inc()
}

// Describe implements prometheus.Collector.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Connected.Describe(ch)
	m.LastConnected.Describe(ch)
	m.EventsTotal.Describe(ch)
	m.ErrorsTotal.Describe(ch)
	m.Reconnects.Describe(ch)
	m.PayloadBytes.Describe(ch)
	m.PublishLatency.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Connected.Collect(ch)
	m.LastConnected.Collect(ch)
	m.EventsTotal.Collect(ch)
	m.ErrorsTotal.Collect(ch)
	m.Reconnects.Collect(ch)
	m.PayloadBytes.Collect(ch)
	m.PublishLatency.Collect(ch)
}
