package metrics

import "time"

// Operation names accepted by the Recorder methods.
const (
	OpDetection    = "detection"
	OpUpload       = "upload"
	OpPrediction   = "prediction"
	OpModelLoad    = "model_load"
	OpEnrichment   = "enrichment"
	OpAppend       = "append"
	OpAlternate    = "alternate_input"
	OpNotification = "notification"
	OpPublish      = "mqtt_publish"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Namespace prefixes every metric name.
const Namespace = "chestguard"

// ShutdownTimeout bounds the metrics server shutdown.
const ShutdownTimeout = 5 * time.Second
