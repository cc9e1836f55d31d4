package inference

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/logger"
)

// Router maps a mode to its predictor. Each mode has exactly one
// predictor and a failure is never retried on another mode.
type Router struct {
	mu         sync.RWMutex
	predictors map[Mode]Predictor
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{predictors: make(map[Mode]Predictor)}
}

// Register installs p for mode, replacing any previous predictor.
func (r *Router) Register(mode Mode, p Predictor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.predictors[mode] = p
}

// Modes returns the registered modes in a stable order.
func (r *Router) Modes() []Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	modes := make([]Mode, 0, len(r.predictors))
	for m := range r.predictors {
		modes = append(modes, m)
	}
	slices.Sort(modes)
	return modes
}

// Predict runs the predictor registered for mode.
func (r *Router) Predict(ctx context.Context, mode Mode, src Source) (*Prediction, error) {
	r.mu.RLock()
	p, ok := r.predictors[mode]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.PredictionError(fmt.Errorf("no predictor configured for mode %s", mode), string(mode))
	}
	if src.IsZero() {
		return nil, errors.ValidationError("image source is empty")
	}

	start := time.Now()
	pred, err := p.Predict(ctx, src)
	if err != nil {
		GetLogger().Warn("prediction failed",
			logger.String("mode", string(mode)),
			logger.String("source", src.Describe()),
			logger.Duration("elapsed", time.Since(start)),
			logger.Error(err))
		if errors.IsPrediction(err) || errors.IsValidation(err) {
			return nil, err
		}
		return nil, errors.PredictionError(err, string(mode))
	}
	pred.Mode = mode

	GetLogger().Debug("prediction completed",
		logger.String("mode", string(mode)),
		logger.String("top", pred.Top.ClassName),
		logger.Float64("probability", pred.Top.Probability),
		logger.Duration("elapsed", time.Since(start)))
	return pred, nil
}

// Status reports readiness of every registered predictor. Predictors that
// cannot report are assumed ready.
func (r *Router) Status(ctx context.Context) []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.predictors))
	for mode, p := range r.predictors {
		st := Status{Mode: mode, Ready: true}
		if sr, ok := p.(StatusReporter); ok {
			st = sr.Status(ctx)
			st.Mode = mode
		}
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b Status) int { return cmp.Compare(a.Mode, b.Mode) })
	return out
}
