package enrichment

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/antonholmquist/jason"

	"github.com/chestguard/chestguard/internal/fusion"
)

// heuristicPrefix is how much of a free text response becomes the primary
// finding.
const heuristicPrefix = 100

var jsonBlock = regexp.MustCompile(`\{[\s\S]*\}`)

// locationKeys are the lobe fields read from a structured response.
var locationKeys = []string{
	"upper_right_lobe",
	"middle_right_lobe",
	"lower_right_lobe",
	"upper_left_lobe",
	"lower_left_lobe",
	"bilateral",
	"apical_involvement",
	"cavitation_present",
	"note",
}

// Parse reads a model response. The outermost {...} block is decoded when
// it is valid JSON, otherwise the text is kept as a heuristic reading.
func Parse(text string, condition fusion.Result) (Analysis, Kind) {
	if block := jsonBlock.FindString(text); block != "" {
		if a, ok := parseStructured(block, condition); ok {
			return a, Structured
		}
	}
	return parseHeuristic(text, condition), HeuristicParsed
}

// NewResult wraps a parsed response.
func NewResult(text string, condition fusion.Result, model string, now time.Time) Result {
	a, kind := Parse(text, condition)
	return Result{Kind: kind, Analysis: a, Timestamp: now, ModelUsed: model}
}

// NewFallback builds the placeholder used when no response is available.
func NewFallback(condition fusion.Result, reason Reason, cause error, now time.Time) Result {
	cond := string(condition)
	a := Analysis{
		Condition:       cond,
		PrimaryFindings: []string{"AI prediction: " + cond},
		AdditionalNotes: fallbackNote(reason),
		Confidence:      "low",
		Recommendations: []string{"Manual radiologist review recommended"},
	}
	if condition != fusion.ResultNormal {
		a.Location = map[string]string{
			"bilateral": "unknown",
			"note":      "Gemini analysis unavailable",
		}
		a.Severity = "unknown"
	}

	r := Result{
		Kind:      Fallback,
		Reason:    reason,
		Analysis:  a,
		Timestamp: now,
		ModelUsed: "fallback",
	}
	if reason == ReasonRateLimited {
		r.ModelUsed = "rate_limited"
	}
	if cause != nil {
		r.Error = cause.Error()
	}
	return r
}

func fallbackNote(reason Reason) string {
	switch reason {
	case ReasonRateLimited:
		return "Gemini analysis skipped due to rate limits"
	case ReasonDisabled:
		return "Gemini analysis disabled"
	case ReasonUnparseable:
		return "Gemini returned an empty response"
	default:
		return "Gemini analysis failed"
	}
}

func parseStructured(block string, condition fusion.Result) (Analysis, bool) {
	obj, err := jason.NewObjectFromBytes([]byte(block))
	if err != nil {
		return Analysis{}, false
	}

	// Findings usually sit under "findings" but some responses flatten them.
	findings, err := obj.GetObject("findings")
	if err != nil {
		findings = obj
	}

	a := Analysis{
		Condition:         firstString(obj, "condition"),
		PrimaryFindings:   stringList(findings, "primary_findings"),
		SecondaryFindings: stringList(findings, "secondary_findings"),
		Severity:          firstString(findings, "severity"),
		Pattern:           firstString(findings, "pattern"),
		AdditionalNotes:   firstString(findings, "additional_notes", "lung_fields"),
		Confidence:        strings.ToLower(firstString(obj, "confidence")),
		Recommendations:   stringList(obj, "recommendations"),
	}
	if a.Condition == "" {
		a.Condition = string(condition)
	}
	if len(a.Recommendations) == 0 {
		a.Recommendations = stringList(findings, "recommendations")
	}
	a.Location = readLocation(findings)
	return a, true
}

func parseHeuristic(text string, condition fusion.Result) Analysis {
	a := Analysis{
		Condition:       string(condition),
		PrimaryFindings: []string{truncate(strings.TrimSpace(text), heuristicPrefix) + "..."},
		AdditionalNotes: "Parsed from text response",
		Confidence:      "medium",
		Recommendations: []string{"Manual review recommended"},
		RawResponse:     text,
	}
	if condition != fusion.ResultNormal {
		a.Location = map[string]string{"bilateral": "unknown"}
		a.Severity = "unknown"
	}
	return a
}

func readLocation(findings *jason.Object) map[string]string {
	var loc *jason.Object
	for _, key := range []string{"location", "locations_affected"} {
		if o, err := findings.GetObject(key); err == nil {
			loc = o
			break
		}
	}
	if loc == nil {
		return nil
	}

	out := make(map[string]string, len(locationKeys))
	for _, key := range locationKeys {
		v, err := loc.GetValue(key)
		if err != nil {
			continue
		}
		if s := valueString(v); s != "" {
			out[key] = s
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// valueString reads strings, booleans and numbers alike. Booleans become
// "yes" or "no".
func valueString(v *jason.Value) string {
	if s, err := v.String(); err == nil {
		return strings.TrimSpace(s)
	}
	if b, err := v.Boolean(); err == nil {
		if b {
			return "yes"
		}
		return "no"
	}
	if n, err := v.Number(); err == nil {
		return n.String()
	}
	return ""
}

func firstString(obj *jason.Object, keys ...string) string {
	for _, key := range keys {
		v, err := obj.GetValue(key)
		if err != nil {
			continue
		}
		if s := valueString(v); s != "" {
			return s
		}
	}
	return ""
}

// stringList accepts either an array or a single string.
func stringList(obj *jason.Object, key string) []string {
	v, err := obj.GetValue(key)
	if err != nil {
		return nil
	}
	if arr, err := v.Array(); err == nil {
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			if s := valueString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	if s := valueString(v); s != "" {
		return []string{s}
	}
	return nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
