package detection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/chestguard/chestguard/internal/datastore"
)

func TestSummarize(t *testing.T) {
	t.Parallel()

	entry := &datastore.DetectionEntry{
		Result:     "tuberculosis",
		Confidence: 0.4567,
		ModelUsed:  "binary",
		Probabilities: []datastore.EntryProbability{
			{ClassName: "Normal", Probability: 0.5},
			{ClassName: "TUBERCULOSIS", Probability: 0.4567},
			{ClassName: "pneumonia", Probability: 0.0449},
		},
	}
	history := &datastore.DetectionHistory{Entries: []datastore.DetectionEntry{{}, {}}}

	lp := Summarize(history, entry, 1234*time.Millisecond+600*time.Microsecond, false)
	assert.Equal(t, "tuberculosis", lp.Result)
	assert.Equal(t, "45.7%", lp.Confidence)
	assert.Equal(t, "1234ms", lp.ProcessingTime)
	assert.Equal(t, "binary", lp.ModelUsed)
	assert.Equal(t, 2, lp.TotalDetections)
	assert.False(t, lp.HasDetailedAnalysis)
	assert.Equal(t, MessagePlain, lp.Message)
	assert.Equal(t, []ClassPercentage{
		{Class: "Normal", Probability: "50.0%"},
		{Class: "Tuberculosis", Probability: "45.7%"},
		{Class: "Pneumonia", Probability: "4.5%"},
	}, lp.DetailedProbabilities)
}

func TestSummarize_Enriched(t *testing.T) {
	t.Parallel()

	entry := &datastore.DetectionEntry{
		Result:   "both",
		Findings: &datastore.Findings{Severity: "severe"},
	}
	lp := Summarize(nil, entry, 0, true)
	assert.True(t, lp.HasDetailedAnalysis)
	assert.Equal(t, MessageDetailed, lp.Message)
	assert.Equal(t, "0ms", lp.ProcessingTime)
	assert.Equal(t, "0.0%", lp.Confidence)
	assert.Empty(t, lp.DetailedProbabilities)
	assert.Zero(t, lp.TotalDetections)
}
