// Package inference defines the normalized prediction shared by every
// inference strategy and routes a request to the strategy picked by mode.
package inference

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/chestguard/chestguard/internal/errors"
)

// Mode selects an inference strategy.
type Mode string

const (
	ModeMultilabel Mode = "multilabel"
	ModeBinary     Mode = "binary"
)

// Class names produced by the predictors.
const (
	ClassNormal       = "Normal"
	ClassPneumonia    = "Pneumonia"
	ClassTuberculosis = "Tuberculosis"
	ClassBoth         = "Both"
)

// Classes is the canonical class order. Predictors emit probabilities in
// this order and ties in ranking keep it.
var Classes = []string{ClassNormal, ClassPneumonia, ClassTuberculosis}

// ParseMode matches s case-insensitively. An empty value selects multilabel.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeMultilabel:
		return ModeMultilabel, nil
	case ModeBinary:
		return ModeBinary, nil
	}
	return "", errors.Newf("invalid model type %q: must be multilabel or binary", s).
		Component("inference").
		Category(errors.CategoryValidation).
		Context("model_mode", s).
		Build()
}

func (m Mode) String() string { return string(m) }

// Confidence is the qualitative bucket of a probability.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Bucket maps p to high (>0.5), medium (>0.3) or low.
func Bucket(p float64) Confidence {
	switch {
	case p > 0.5:
		return ConfidenceHigh
	case p > 0.3:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// ClassProbability is one ranked class.
type ClassProbability struct {
	ClassName   string     `json:"className"`
	Probability float64    `json:"probability"`
	Confidence  Confidence `json:"confidence"`
}

// BinaryDetails carries the remote scorer's own verdict.
type BinaryDetails struct {
	PneumoniaDetected bool   `json:"pneumonia_detected"`
	TBDetected        bool   `json:"tb_detected"`
	FinalDiagnosis    string `json:"final_diagnosis"`
	Recommendation    string `json:"recommendation"`
}

// Quality summarizes how decisive a prediction is.
type Quality struct {
	IsConfident      bool    `json:"isConfident"`
	UncertaintyScore float64 `json:"uncertaintyScore"`
}

// Prediction is the normalized output of either strategy.
type Prediction struct {
	Mode    Mode               `json:"mode"`
	Model   string             `json:"modelType"`
	Ranked  []ClassProbability `json:"results"`
	Top     ClassProbability   `json:"top"`
	Quality Quality            `json:"predictionQuality"`
	Binary  *BinaryDetails     `json:"binary,omitempty"`
}

// NewPrediction ranks probs (keyed by class name) in descending order and
// takes the first entry as the top class. Values are clamped to [0,1].
func NewPrediction(mode Mode, model string, probs map[string]float64) *Prediction {
	ranked := make([]ClassProbability, 0, len(probs))
	seen := make(map[string]bool, len(probs))
	add := func(name string) {
		p := Clamp(probs[name])
		ranked = append(ranked, ClassProbability{ClassName: name, Probability: p, Confidence: Bucket(p)})
		seen[name] = true
	}
	for _, name := range Classes {
		if _, ok := probs[name]; ok {
			add(name)
		}
	}
	extra := make([]string, 0)
	for name := range probs {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	slices.Sort(extra)
	for _, name := range extra {
		add(name)
	}

	slices.SortStableFunc(ranked, func(a, b ClassProbability) int {
		return cmp.Compare(b.Probability, a.Probability)
	})

	pred := &Prediction{Mode: mode, Model: model, Ranked: ranked}
	if len(ranked) > 0 {
		pred.SetTop(ranked[0].ClassName, ranked[0].Probability)
	}
	return pred
}

// SetTop overrides the top label, e.g. with Both.
func (p *Prediction) SetTop(class string, probability float64) {
	p.Top = ClassProbability{ClassName: class, Probability: probability, Confidence: Bucket(probability)}
	p.Quality = Quality{
		IsConfident:      probability > 0.5,
		UncertaintyScore: 1 - probability,
	}
}

// Probability returns the probability of class, or 0 when it is missing.
func (p *Prediction) Probability(class string) float64 {
	for _, c := range p.Ranked {
		if strings.EqualFold(c.ClassName, class) {
			return c.Probability
		}
	}
	return 0
}

// Clamp limits v to [0,1].
func Clamp(v float64) float64 {
	return min(max(v, 0), 1)
}

// Source is a stored image. Path is preferred when both are set.
type Source struct {
	Path string
	URL  string
}

// IsZero reports whether s names no image.
func (s Source) IsZero() bool { return s.Path == "" && s.URL == "" }

// Describe returns a loggable reference to the image.
func (s Source) Describe() string {
	if s.Path != "" {
		return "file"
	}
	return "url"
}

// Predictor runs one inference strategy.
type Predictor interface {
	Predict(ctx context.Context, src Source) (*Prediction, error)
}

// Status is a predictor's readiness report.
type Status struct {
	Mode    Mode           `json:"mode"`
	Ready   bool           `json:"ready"`
	Details map[string]any `json:"details,omitempty"`
}

// StatusReporter is implemented by predictors that can report readiness.
type StatusReporter interface {
	Status(ctx context.Context) Status
}
