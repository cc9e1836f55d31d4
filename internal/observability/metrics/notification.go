package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// NotificationMetrics covers alert delivery through shoutrrr services.
type NotificationMetrics struct {
	DeliveriesTotal  *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec
	DeliveryErrors   *prometheus.CounterVec
	Suppressed       *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewNotificationMetrics creates and registers the notification metrics.
func NewNotificationMetrics(registry *prometheus.Registry) (*NotificationMetrics, error) {
	m := &NotificationMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register notification metrics: %w", err)
	}
	return m, nil
}

func (m *NotificationMetrics) initMetrics() {
	m.DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "notification_deliveries_total",
			Help:      "Alert deliveries by service and status",
		},
		[]string{"service", "status"},
	)

	m.DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "notification_delivery_duration_seconds",
			Help:      "Time taken to hand an alert to its service",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service"},
	)

	m.DeliveryErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "notification_delivery_errors_total",
			Help:      "Failed alert deliveries by service",
		},
		[]string{"service"},
	)

	m.Suppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "notification_suppressed_total",
			Help:      "Detections that did not produce an alert, by reason",
		},
		[]string{"reason"},
	)
}

// RecordDelivery records one delivery attempt.
func (m *NotificationMetrics) RecordDelivery(service string, err error, duration time.Duration) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
		m.DeliveryErrors.WithLabelValues(service).Inc()
	}
	m.DeliveriesTotal.WithLabelValues(service, status).Inc()
	m.DeliveryDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordSuppressed counts a detection that was filtered out before sending.
func (m *NotificationMetrics) RecordSuppressed(reason string) {
	m.Suppressed.WithLabelValues(reason).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *NotificationMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.DeliveriesTotal.Describe(ch)
	m.DeliveryDuration.Describe(ch)
	m.DeliveryErrors.Describe(ch)
	m.Suppressed.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *NotificationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.DeliveriesTotal.Collect(ch)
	m.DeliveryDuration.Collect(ch)
	m.DeliveryErrors.Collect(ch)
	m.Suppressed.Collect(ch)
}
