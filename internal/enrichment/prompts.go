package enrichment

import (
	"github.com/chestguard/chestguard/internal/fusion"
)

const pneumoniaPrompt = `Analyze this chest X-ray for pneumonia. Respond in JSON only:
{
  "condition": "pneumonia",
  "findings": {
    "primary_findings": ["main findings"],
    "secondary_findings": ["other observations"],
    "location": {
      "upper_right_lobe": "yes/no", "middle_right_lobe": "yes/no", "lower_right_lobe": "yes/no",
      "upper_left_lobe": "yes/no", "lower_left_lobe": "yes/no", "bilateral": "yes/no"
    },
    "severity": "mild/moderate/severe",
    "pattern": "lobar/interstitial/bronchopneumonia"
  },
  "confidence": "high/medium/low",
  "recommendations": ["next steps"]
}`

const tuberculosisPrompt = `Analyze this chest X-ray for tuberculosis. Respond in JSON only:
{
  "condition": "tuberculosis",
  "findings": {
    "primary_findings": ["main findings"],
    "secondary_findings": ["other observations"],
    "location": {
      "upper_right_lobe": "yes/no", "upper_left_lobe": "yes/no", "bilateral": "yes/no",
      "apical_involvement": "yes/no", "cavitation_present": "yes/no"
    },
    "severity": "minimal/moderate/advanced",
    "pattern": "miliary/cavitary/fibrotic"
  },
  "confidence": "high/medium/low",
  "recommendations": ["next steps"]
}`

const bothPrompt = `Analyze this chest X-ray for co-existing pneumonia and tuberculosis. Respond in JSON only:
{
  "condition": "both",
  "findings": {
    "primary_findings": ["main findings for each disease"],
    "secondary_findings": ["other observations"],
    "location": {
      "upper_right_lobe": "yes/no", "middle_right_lobe": "yes/no", "lower_right_lobe": "yes/no",
      "upper_left_lobe": "yes/no", "lower_left_lobe": "yes/no", "bilateral": "yes/no",
      "apical_involvement": "yes/no", "cavitation_present": "yes/no"
    },
    "severity": "mild/moderate/severe",
    "pattern": "dominant radiological pattern"
  },
  "confidence": "high/medium/low",
  "recommendations": ["next steps"]
}`

const genericPrompt = `Analyze this chest X-ray. Respond in JSON only:
{
  "condition": "normal",
  "findings": {
    "primary_findings": ["findings"],
    "lung_fields": "description of the lung fields"
  },
  "confidence": "high/medium/low"
}`

// Prompt returns the instruction sent with the image for condition.
func Prompt(condition fusion.Result) string {
	switch condition {
	case fusion.ResultPneumonia:
		return pneumoniaPrompt
	case fusion.ResultTuberculosis:
		return tuberculosisPrompt
	case fusion.ResultBoth:
		return bothPrompt
	default:
		return genericPrompt
	}
}
