// Package fusion reduces a normalized prediction to a single diagnosis with
// fixed probability thresholds.
package fusion

import (
	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/inference"
)

// Result is the fused diagnosis.
type Result string

const (
	ResultNormal       Result = "normal"
	ResultPneumonia    Result = "pneumonia"
	ResultTuberculosis Result = "tuberculosis"
	ResultBoth         Result = "both"
)

// Default thresholds.
const (
	DefaultPneumoniaThreshold = 0.50
	DefaultTBThreshold        = 0.30
	DefaultNormalThreshold    = 0.50
)

// Thresholds are inclusive lower bounds.
type Thresholds struct {
	Pneumonia float64
	TB        float64
	Normal    float64
}

// DefaultThresholds returns pneumonia 0.50, tuberculosis 0.30, normal 0.50.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Pneumonia: DefaultPneumoniaThreshold,
		TB:        DefaultTBThreshold,
		Normal:    DefaultNormalThreshold,
	}
}

// FromSettings fills unset thresholds with the defaults.
func FromSettings(s *conf.FusionSettings) Thresholds {
	t := DefaultThresholds()
	if s == nil {
		return t
	}
	if s.PneumoniaThreshold > 0 {
		t.Pneumonia = s.PneumoniaThreshold
	}
	if s.TBThreshold > 0 {
		t.TB = s.TBThreshold
	}
	if s.NormalThreshold > 0 {
		t.Normal = s.NormalThreshold
	}
	return t
}

// ThresholdResult is a fused diagnosis and its confidence.
type ThresholdResult struct {
	Result     Result  `json:"result"`
	Confidence float64 `json:"confidence"`
}

// Apply fuses pred with the default thresholds.
func Apply(pred *inference.Prediction) ThresholdResult {
	return DefaultThresholds().Apply(pred)
}

// Apply fuses pred. The rules are checked in order:
//  1. both diseases at or above threshold: both, max of the two
//  2. one disease at or above threshold: that disease
//  3. normal at or above threshold: normal
//  4. otherwise the highest class, ties going to pneumonia, tuberculosis,
//     normal in that order
//
// Missing classes count as 0.
func (t Thresholds) Apply(pred *inference.Prediction) ThresholdResult {
	var pneumonia, tb, normal float64
	if pred != nil {
		pneumonia = pred.Probability(inference.ClassPneumonia)
		tb = pred.Probability(inference.ClassTuberculosis)
		normal = pred.Probability(inference.ClassNormal)
	}

	hasPneumonia := pneumonia >= t.Pneumonia
	hasTB := tb >= t.TB

	switch {
	case hasPneumonia && hasTB:
		return ThresholdResult{Result: ResultBoth, Confidence: max(pneumonia, tb)}
	case hasPneumonia:
		return ThresholdResult{Result: ResultPneumonia, Confidence: pneumonia}
	case hasTB:
		return ThresholdResult{Result: ResultTuberculosis, Confidence: tb}
	case normal >= t.Normal:
		return ThresholdResult{Result: ResultNormal, Confidence: normal}
	}

	best := ThresholdResult{Result: ResultPneumonia, Confidence: pneumonia}
	if tb > best.Confidence {
		best = ThresholdResult{Result: ResultTuberculosis, Confidence: tb}
	}
	if normal > best.Confidence {
		best = ThresholdResult{Result: ResultNormal, Confidence: normal}
	}
	return best
}

// IsAbnormal is true for pneumonia, tuberculosis and both.
func IsAbnormal(r Result) bool {
	switch r {
	case ResultPneumonia, ResultTuberculosis, ResultBoth:
		return true
	}
	return false
}

// ClassName maps a result to the class name used in prompts and labels.
func (r Result) ClassName() string {
	switch r {
	case ResultPneumonia:
		return inference.ClassPneumonia
	case ResultTuberculosis:
		return inference.ClassTuberculosis
	case ResultBoth:
		return inference.ClassBoth
	default:
		return inference.ClassNormal
	}
}

func (r Result) String() string { return string(r) }
