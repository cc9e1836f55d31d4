// Package detection runs a chest X-ray through the diagnostic pipeline:
// validation, upload, inference, fusion, optional enrichment and the
// append-only patient record.
//
// The pipeline is independent of the transport. The HTTP API and the CLI
// both build a Request and call Pipeline.Detect.
package detection

import (
	"context"
	"time"

	"github.com/chestguard/chestguard/internal/datastore"
	"github.com/chestguard/chestguard/internal/enrichment"
	"github.com/chestguard/chestguard/internal/fusion"
	"github.com/chestguard/chestguard/internal/inference"
)

// Request is one detection request. FilePath is a temporary copy of the
// upload owned by the pipeline: it is removed before Detect returns.
type Request struct {
	MRNo     string
	FilePath string
	FileName string
	Mode     string
}

// Outcome is a completed detection.
type Outcome struct {
	Patient *datastore.Patient
	History *datastore.DetectionHistory
	Entry   *datastore.DetectionEntry
	Latest  LatestPrediction
	Message string
}

// Event describes a stored detection for the side channels.
type Event struct {
	MRNo           string
	Mode           inference.Mode
	Result         fusion.Result
	Confidence     float64
	Probabilities  []inference.ClassProbability
	ImageURL       string
	Abnormal       bool
	Enrichment     string // provenance tag, empty when not attempted
	ProcessingTime time.Duration
	Timestamp      time.Time
	Node           string
}

// Predictor routes a prediction to the strategy selected by mode.
type Predictor interface {
	Predict(ctx context.Context, mode inference.Mode, src inference.Source) (*inference.Prediction, error)
}

// Enricher adds a radiological reading to an abnormal result. It never
// fails; problems come back as fallback results.
type Enricher interface {
	Enrich(ctx context.Context, src inference.Source, condition fusion.Result) enrichment.Result
}

// Observer is a side channel notified after a detection is stored.
// Errors are logged and never reach the caller.
type Observer interface {
	Name() string
	Observe(ctx context.Context, ev *Event) error
}

// MetricsRecorder receives pipeline measurements.
type MetricsRecorder interface {
	RecordDetection(mode, result string, duration time.Duration)
	RecordStageFailure(stage string)
	RecordAlternateInput(mode string)
	RecordEnrichment(provenance, reason string)
}

// Pipeline stages, used in logs and failure metrics.
const (
	StageValidate = "validate"
	StageUpload   = "upload"
	StagePredict  = "predict"
	StageRecord   = "record"
)
