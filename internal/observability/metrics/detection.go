package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DetectionMetrics covers the detection pipeline: outcomes, latency, stage
// failures, alternate-input retries and enrichment provenance.
type DetectionMetrics struct {
	DetectionsTotal    *prometheus.CounterVec
	DetectionDuration  *prometheus.HistogramVec
	StageFailures      *prometheus.CounterVec
	AlternateInputs    *prometheus.CounterVec
	EnrichmentsTotal   *prometheus.CounterVec
	OperationsTotal    *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	OperationErrors    *prometheus.CounterVec
	LastProcessingTime prometheus.Gauge

	registry *prometheus.Registry
}

// NewDetectionMetrics creates and registers the pipeline metrics.
func NewDetectionMetrics(registry *prometheus.Registry) (*DetectionMetrics, error) {
	m := &DetectionMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register detection metrics: %w", err)
	}
	return m, nil
}

func (m *DetectionMetrics) initMetrics() {
	m.DetectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "detections_total",
			Help:      "Stored detections by model mode and fused result.",
		},
		[]string{"mode", "result"},
	)

	m.DetectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "detection_duration_seconds",
			Help:      "End to end detection time, upload to stored entry.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"mode"},
	)

	m.StageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "detection_stage_failures_total",
			Help:      "Failed detections by pipeline stage.",
		},
		[]string{"stage"},
	)

	m.AlternateInputs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "prediction_alternate_input_total",
			Help:      "Predictions retried with the stored image URL after the local file failed.",
		},
		[]string{"mode"},
	)

	m.EnrichmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "enrichments_total",
			Help:      "Enrichment attempts by provenance and fallback reason.",
		},
		[]string{"provenance", "reason"},
	)

	m.OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Generic operations by status.",
		},
		[]string{"operation", "status"},
	)

	m.OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Generic operation durations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"operation"},
	)

	m.OperationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operation_errors_total",
			Help:      "Generic operation errors by type.",
		},
		[]string{"operation", "error_type"},
	)

	m.LastProcessingTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "detection_last_processing_milliseconds",
			Help:      "Processing time of the most recent detection in milliseconds.",
		},
	)
}

// RecordDetection counts a stored detection and its latency.
func (m *DetectionMetrics) RecordDetection(mode, result string, duration time.Duration) {
	m.DetectionsTotal.WithLabelValues(mode, result).Inc()
	m.DetectionDuration.WithLabelValues(mode).Observe(duration.Seconds())
	m.LastProcessingTime.Set(float64(duration.Milliseconds()))
}

// RecordStageFailure counts a detection that failed at stage.
func (m *DetectionMetrics) RecordStageFailure(stage string) {
	m.StageFailures.WithLabelValues(stage).Inc()
}

// RecordAlternateInput counts an alternate-input retry.
func (m *DetectionMetrics) RecordAlternateInput(mode string) {
	m.AlternateInputs.WithLabelValues(mode).Inc()
}

// RecordEnrichment counts an enrichment by provenance. reason is empty for
// successful analyses.
func (m *DetectionMetrics) RecordEnrichment(provenance, reason string) {
	if reason == "" {
		reason = "none"
	}
	m.EnrichmentsTotal.WithLabelValues(provenance, reason).Inc()
}

// RecordOperation implements Recorder.
func (m *DetectionMetrics) RecordOperation(operation, status string) {
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements Recorder.
func (m *DetectionMetrics) RecordDuration(operation string, seconds float64) {
	m.OperationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements Recorder.
func (m *DetectionMetrics) RecordError(operation, errorType string) {
	m.OperationErrors.WithLabelValues(operation, errorType).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *DetectionMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.DetectionsTotal.Describe(ch)
	m.DetectionDuration.Describe(ch)
	m.StageFailures.Describe(ch)
	m.AlternateInputs.Describe(ch)
	m.EnrichmentsTotal.Describe(ch)
	m.OperationsTotal.Describe(ch)
	m.OperationDuration.Describe(ch)
	m.OperationErrors.Describe(ch)
	ch <- m.LastProcessingTime.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *DetectionMetrics) Collect(ch chan<- prometheus.Metric) {
	m.DetectionsTotal.Collect(ch)
	m.DetectionDuration.Collect(ch)
	m.StageFailures.Collect(ch)
	m.AlternateInputs.Collect(ch)
	m.EnrichmentsTotal.Collect(ch)
	m.OperationsTotal.Collect(ch)
	m.OperationDuration.Collect(ch)
	m.OperationErrors.Collect(ch)
	ch <- m.LastProcessingTime
}
