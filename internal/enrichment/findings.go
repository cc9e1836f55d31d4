package enrichment

import (
	"time"

	"github.com/chestguard/chestguard/internal/datastore"
)

const unknown = "unknown"

// ExtractFindings maps a result onto the persisted findings and returns the
// recommendations kept with the entry. Missing values get the stored
// defaults: unknown lobes, severity and pattern, medium confidence and an
// "AI detected: <condition>" primary finding.
func ExtractFindings(r *Result) (*datastore.Findings, []string) {
	a := r.Analysis
	loc := a.Location

	f := &datastore.Findings{
		LocationsAffected: datastore.Locations{
			UpperRightLobe:    orDefault(loc["upper_right_lobe"], unknown),
			MiddleRightLobe:   orDefault(loc["middle_right_lobe"], unknown),
			LowerRightLobe:    orDefault(loc["lower_right_lobe"], unknown),
			UpperLeftLobe:     orDefault(loc["upper_left_lobe"], unknown),
			LowerLeftLobe:     orDefault(loc["lower_left_lobe"], unknown),
			Bilateral:         orDefault(loc["bilateral"], unknown),
			ApicalInvolvement: orDefault(loc["apical_involvement"], unknown),
			CavitationPresent: orDefault(loc["cavitation_present"], unknown),
			Note:              orDefault(loc["note"], "AI analysis completed"),
		},
		Severity:          orDefault(a.Severity, unknown),
		PrimaryFindings:   a.PrimaryFindings,
		SecondaryFindings: a.SecondaryFindings,
		Pattern:           orDefault(a.Pattern, unknown),
		Confidence:        orDefault(a.Confidence, "medium"),
		AnalysisTimestamp: r.Timestamp,
		Success:           r.Success(),
		Provenance:        r.Kind.String(),
	}
	if len(f.PrimaryFindings) == 0 {
		f.PrimaryFindings = []string{"AI detected: " + orDefault(a.Condition, unknown)}
	}
	if f.SecondaryFindings == nil {
		f.SecondaryFindings = []string{}
	}
	if f.AnalysisTimestamp.IsZero() {
		f.AnalysisTimestamp = time.Now()
	}

	var recs []string
	if len(a.Recommendations) > 0 {
		recs = append(recs, a.Recommendations...)
	}
	return f, recs
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
