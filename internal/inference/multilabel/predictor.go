// Package multilabel runs the local three-class chest X-ray classifier.
package multilabel

import (
	"context"
	"fmt"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/httpclient"
	"github.com/chestguard/chestguard/internal/inference"
)

// ModelTag identifies predictions from this strategy.
const ModelTag = "multilabel"

// confidenceThreshold is reported in the status for clients.
const confidenceThreshold = 0.5

// Predictor implements inference.Predictor with a local TFLite model.
type Predictor struct {
	loader    *Loader
	labels    []string
	inputSize int
	client    *httpclient.Client
}

// New builds a predictor that loads the model from settings on first use.
func New(settings *conf.MultilabelSettings, client *httpclient.Client) (*Predictor, error) {
	s := *settings
	load := func(context.Context) (Classifier, error) { return OpenModel(&s) }
	return NewWithLoader(settings, client, NewLoader(load, s.MaxRetries, s.RetryDelay, s.LoadTimeout))
}

// NewWithLoader builds a predictor around an existing loader.
func NewWithLoader(settings *conf.MultilabelSettings, client *httpclient.Client, loader *Loader) (*Predictor, error) {
	labels, err := LoadLabels(settings.LabelPath)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryLabelLoad).
			Context("label_path", settings.LabelPath).
			Build()
	}
	size := settings.InputSize
	if size <= 0 {
		size = conf.DefaultInputSize
	}
	if client == nil {
		client = httpclient.New(nil)
	}
	return &Predictor{loader: loader, labels: labels, inputSize: size, client: client}, nil
}

// Warmup loads the model ahead of the first request.
func (p *Predictor) Warmup(ctx context.Context) error {
	_, err := p.loader.Get(ctx)
	return err
}

// Predict classifies the image at src.
func (p *Predictor) Predict(ctx context.Context, src inference.Source) (*inference.Prediction, error) {
	model, err := p.loader.Get(ctx)
	if err != nil {
		return nil, errors.PredictionError(err, ModelTag)
	}

	data, err := inference.ReadSource(ctx, p.client, src)
	if err != nil {
		return nil, err
	}

	tensor, err := Preprocess(data, p.inputSize)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryImageDecode).
			Context("source", src.Describe()).
			Build()
	}

	output, err := model.Classify(tensor)
	if err != nil {
		return nil, errors.PredictionError(err, ModelTag)
	}
	if len(output) < len(p.labels) {
		return nil, errors.PredictionError(
			fmt.Errorf("model produced %d outputs for %d labels", len(output), len(p.labels)), ModelTag)
	}

	probs := make(map[string]float64, len(p.labels))
	for i, label := range p.labels {
		probs[label] = float64(output[i])
	}
	return inference.NewPrediction(inference.ModeMultilabel, ModelTag, probs), nil
}

// Status reports model readiness.
func (p *Predictor) Status(_ context.Context) inference.Status {
	return inference.Status{
		Mode:  inference.ModeMultilabel,
		Ready: p.loader.Loaded(),
		Details: map[string]any{
			"loaded":              p.loader.Loaded(),
			"loading":             p.loader.Loading(),
			"inputSize":           []int{p.inputSize, p.inputSize},
			"classes":             p.labels,
			"confidenceThreshold": confidenceThreshold,
		},
	}
}

// Close releases the model.
func (p *Predictor) Close() error {
	return p.loader.Close()
}
