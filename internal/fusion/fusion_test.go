package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/inference"
)

func pred(normal, pneumonia, tb float64) *inference.Prediction {
	return inference.NewPrediction(inference.ModeMultilabel, "multilabel", map[string]float64{
		inference.ClassNormal:       normal,
		inference.ClassPneumonia:    pneumonia,
		inference.ClassTuberculosis: tb,
	})
}

func TestApply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		pred       *inference.Prediction
		want       Result
		confidence float64
	}{
		{"both meet thresholds", pred(0.1, 0.6, 0.4), ResultBoth, 0.6},
		{"both uses larger", pred(0.1, 0.5, 0.9), ResultBoth, 0.9},
		{"pneumonia only", pred(0.7, 0.55, 0.1), ResultPneumonia, 0.55},
		{"tb at exact threshold", pred(0.8, 0.2, 0.3), ResultTuberculosis, 0.3},
		{"pneumonia just below", pred(0.6, 0.49, 0.29), ResultNormal, 0.6},
		{"normal threshold", pred(0.5, 0.1, 0.1), ResultNormal, 0.5},
		{"highest fallback", pred(0.4, 0.45, 0.2), ResultPneumonia, 0.45},
		{"highest fallback normal", pred(0.49, 0.1, 0.2), ResultNormal, 0.49},
		{"tie favours pneumonia", pred(0.2, 0.2, 0.2), ResultPneumonia, 0.2},
		{"tie tb over normal", pred(0.25, 0.1, 0.25), ResultTuberculosis, 0.25},
		{"all zero", pred(0, 0, 0), ResultPneumonia, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Apply(tt.pred)
			assert.Equal(t, tt.want, got.Result)
			assert.InDelta(t, tt.confidence, got.Confidence, 1e-9)
		})
	}
}

func TestApply_MissingClasses(t *testing.T) {
	t.Parallel()

	p := inference.NewPrediction(inference.ModeBinary, "binary", map[string]float64{
		inference.ClassTuberculosis: 0.35,
	})
	assert.Equal(t, ThresholdResult{Result: ResultTuberculosis, Confidence: 0.35}, Apply(p))
	assert.Equal(t, ResultPneumonia, Apply(nil).Result)
}

func TestApply_IgnoresTopLabel(t *testing.T) {
	t.Parallel()

	p := pred(0.05, 0.62, 0.81)
	p.SetTop(inference.ClassBoth, 0.81)
	assert.Equal(t, ResultBoth, Apply(p).Result)
}

func TestFromSettings(t *testing.T) {
	t.Parallel()

	th := FromSettings(&conf.FusionSettings{TBThreshold: 0.4})
	assert.InDelta(t, 0.5, th.Pneumonia, 1e-9)
	assert.InDelta(t, 0.4, th.TB, 1e-9)
	assert.Equal(t, ResultNormal, th.Apply(pred(0.6, 0.1, 0.35)).Result)
	assert.Equal(t, DefaultThresholds(), FromSettings(nil))
}

func TestIsAbnormal(t *testing.T) {
	t.Parallel()
	assert.False(t, IsAbnormal(ResultNormal))
	assert.True(t, IsAbnormal(ResultPneumonia))
	assert.True(t, IsAbnormal(ResultTuberculosis))
	assert.True(t, IsAbnormal(ResultBoth))
	assert.False(t, IsAbnormal("unknown"))
}
