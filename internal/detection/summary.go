package detection

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/chestguard/chestguard/internal/datastore"
)

// Response messages.
const (
	MessageDetailed = "AI prediction with detailed radiological analysis completed successfully"
	MessagePlain    = "AI prediction completed successfully"
)

// ClassPercentage is one formatted probability.
type ClassPercentage struct {
	Class       string `json:"class"`
	Probability string `json:"probability"`
}

// LatestPrediction is the display summary of the newest entry.
type LatestPrediction struct {
	Result                string            `json:"result"`
	Confidence            string            `json:"confidence"`
	DetailedProbabilities []ClassPercentage `json:"detailedProbabilities"`
	ProcessingTime        string            `json:"processingTime"`
	ModelUsed             string            `json:"model_used"`
	HasDetailedAnalysis   bool              `json:"hasDetailedAnalysis"`
	TotalDetections       int               `json:"totalDetections"`
	Message               string            `json:"-"`
}

// Summarize formats entry for the response. enriched is true when the
// enrichment produced a real analysis rather than a fallback.
func Summarize(history *datastore.DetectionHistory, entry *datastore.DetectionEntry, elapsed time.Duration, enriched bool) LatestPrediction {
	lp := LatestPrediction{
		Result:                entry.Result,
		Confidence:            percent(entry.Confidence),
		DetailedProbabilities: make([]ClassPercentage, 0, len(entry.Probabilities)),
		ProcessingTime:        fmt.Sprintf("%dms", elapsed.Milliseconds()),
		ModelUsed:             entry.ModelUsed,
		HasDetailedAnalysis:   entry.Findings != nil,
		Message:               MessagePlain,
	}
	title := cases.Title(language.English)
	for _, p := range entry.Probabilities {
		lp.DetailedProbabilities = append(lp.DetailedProbabilities, ClassPercentage{
			Class:       title.String(strings.ToLower(p.ClassName)),
			Probability: percent(p.Probability),
		})
	}
	if history != nil {
		lp.TotalDetections = len(history.Entries)
	}
	if enriched {
		lp.Message = MessageDetailed
	}
	return lp
}

func percent(p float64) string {
	return fmt.Sprintf("%.1f%%", p*100)
}
