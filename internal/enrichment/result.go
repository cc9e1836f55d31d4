package enrichment

import (
	"encoding/json"
	"time"

	"github.com/chestguard/chestguard/internal/fusion"
	"github.com/chestguard/chestguard/internal/logger"
)

// Kind tags how a Result was produced.
type Kind int

const (
	// Structured results decoded from a JSON block in the model response.
	Structured Kind = iota
	// HeuristicParsed results were scraped from free text.
	HeuristicParsed
	// Fallback results were synthesized without a usable response.
	Fallback
)

// String returns the provenance tag persisted with findings.
func (k Kind) String() string {
	switch k {
	case Structured:
		return "structured"
	case HeuristicParsed:
		return "heuristic"
	default:
		return "fallback"
	}
}

// MarshalText encodes the provenance tag.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Reason explains a Fallback result.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonRateLimited Reason = "rate_limited"
	ReasonError       Reason = "error"
	ReasonDisabled    Reason = "disabled"
	ReasonUnparseable Reason = "unparseable"
)

// Analysis is the radiological reading, whichever way it was obtained.
// Location values are free text such as "yes", "no" or "unknown".
type Analysis struct {
	Condition         string            `json:"condition"`
	PrimaryFindings   []string          `json:"primary_findings"`
	SecondaryFindings []string          `json:"secondary_findings,omitempty"`
	Location          map[string]string `json:"location,omitempty"`
	Severity          string            `json:"severity,omitempty"`
	Pattern           string            `json:"pattern,omitempty"`
	AdditionalNotes   string            `json:"additional_notes,omitempty"`
	Confidence        string            `json:"confidence"`
	Recommendations   []string          `json:"recommendations,omitempty"`
	RawResponse       string            `json:"raw_response,omitempty"`
}

// Result is the outcome of one enrichment attempt.
type Result struct {
	Kind      Kind      `json:"kind"`
	Reason    Reason    `json:"reason,omitempty"`
	Analysis  Analysis  `json:"analysis"`
	Timestamp time.Time `json:"timestamp"`
	ModelUsed string    `json:"model_used"`
	Error     string    `json:"error,omitempty"`
}

// Success reports whether the model produced the analysis.
func (r *Result) Success() bool { return r.Kind != Fallback }

// RawJSON encodes the result for the raw enrichment payload column.
func (r *Result) RawJSON() string {
	payload := struct {
		Success bool `json:"success"`
		*Result
	}{Success: r.Success(), Result: r}
	b, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(b)
}

// Degraded describes an enrichment that fell back. It is logged, never
// returned as an error.
type Degraded struct {
	Condition fusion.Result
	Reason    Reason
	Cause     error
}

// Fields returns the log fields describing d.
func (d Degraded) Fields() []logger.Field {
	fields := []logger.Field{
		logger.String("condition", string(d.Condition)),
		logger.String("reason", string(d.Reason)),
		logger.String("category", "enrichment"),
	}
	if d.Cause != nil {
		fields = append(fields, logger.Error(d.Cause))
	}
	return fields
}
