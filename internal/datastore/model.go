// model.go this code defines the persisted data model
package datastore

import (
	"time"

	"gorm.io/gorm"
)

// Patient is a registered patient identified by medical record number.
type Patient struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	MRNo      string    `gorm:"column:mr_no;size:64;uniqueIndex;not null" json:"MR_no"`
	FullName  string    `gorm:"size:255" json:"fullName"`
	Email     string    `gorm:"size:255" json:"email,omitempty"`
	Age       int       `json:"age,omitempty"`
	Gender    string    `gorm:"size:32" json:"gender,omitempty"`
	City      string    `gorm:"size:128" json:"city,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// DetectionHistory owns a patient's detection entries in insertion order.
// A patient has at most one history.
type DetectionHistory struct {
	ID        uint             `gorm:"primaryKey" json:"-"`
	PatientID uint             `gorm:"uniqueIndex;not null" json:"-"`
	MRNo      string           `gorm:"column:mr_no;size:64;index;not null" json:"MR_no"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
	Entries   []DetectionEntry `gorm:"foreignKey:HistoryID" json:"detection"`
}

// DetectionEntry is one immutable detection record.
type DetectionEntry struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	HistoryID  uint      `gorm:"uniqueIndex:idx_entry_history_seq;not null" json:"-"`
	Sequence   int       `gorm:"uniqueIndex:idx_entry_history_seq;not null" json:"sequence"`
	ImageURL   string    `gorm:"size:1024;not null" json:"imageUrl"`
	CapturedAt time.Time `gorm:"index;not null" json:"timestamp"`
	ModelUsed  string    `gorm:"size:32;not null" json:"model_used"`
	Result     string    `gorm:"size:32;not null" json:"result"`
	Confidence float64   `json:"confidence"`

	Probabilities   []EntryProbability `gorm:"foreignKey:EntryID" json:"detailedProbabilities"`
	Findings        *Findings          `gorm:"serializer:json;type:text" json:"detailed_findings,omitempty"`
	Recommendations []string           `gorm:"serializer:json;type:text" json:"recommendations,omitempty"`
	RawEnrichment   string             `gorm:"type:text" json:"full_gemini_analysis,omitempty"`
}

// EntryProbability is one row of an entry's probability breakdown.
type EntryProbability struct {
	ID          uint    `gorm:"primaryKey" json:"-"`
	EntryID     uint    `gorm:"index;not null" json:"-"`
	Position    int     `gorm:"not null" json:"-"`
	ClassName   string  `gorm:"size:32;not null" json:"className"`
	Probability float64 `json:"probability"`
}

// Locations records lobe involvement. Values are free text such as
// "yes", "no" or "unknown".
type Locations struct {
	UpperRightLobe    string `json:"upper_right_lobe"`
	MiddleRightLobe   string `json:"middle_right_lobe"`
	LowerRightLobe    string `json:"lower_right_lobe"`
	UpperLeftLobe     string `json:"upper_left_lobe"`
	LowerLeftLobe     string `json:"lower_left_lobe"`
	Bilateral         string `json:"bilateral"`
	ApicalInvolvement string `json:"apical_involvement"`
	CavitationPresent string `json:"cavitation_present"`
	Note              string `json:"note"`
}

// Findings is the persisted radiological analysis of an entry.
type Findings struct {
	LocationsAffected Locations `json:"locations_affected"`
	Severity          string    `json:"severity"`
	PrimaryFindings   []string  `json:"primary_findings"`
	SecondaryFindings []string  `json:"secondary_findings"`
	Pattern           string    `json:"pattern"`
	Confidence        string    `json:"gemini_confidence"`
	AnalysisTimestamp time.Time `json:"analysis_timestamp"`
	Success           bool      `json:"gemini_success"`
	Provenance        string    `json:"provenance"`
}

// EnrichmentQuota is the shared enrichment limiter state. Version guards
// the conditional update that reserves a call.
type EnrichmentQuota struct {
	Name       string `gorm:"primaryKey;size:64"`
	LastCallAt *time.Time
	Day        string `gorm:"size:10"`
	Calls      int
	Version    int
	UpdatedAt  time.Time
}

// TableName keeps the quota table name short across drivers.
func (EnrichmentQuota) TableName() string { return "enrichment_quota" }

// BeforeUpdate rejects any update of a stored entry.
func (e *DetectionEntry) BeforeUpdate(_ *gorm.DB) error {
	return ErrImmutableEntry
}

// BeforeDelete rejects any deletion of a stored entry.
func (e *DetectionEntry) BeforeDelete(_ *gorm.DB) error {
	return ErrImmutableEntry
}

// BeforeUpdate rejects any update of a stored probability row.
func (p *EntryProbability) BeforeUpdate(_ *gorm.DB) error {
	return ErrImmutableEntry
}

// BeforeDelete rejects any deletion of a stored probability row.
func (p *EntryProbability) BeforeDelete(_ *gorm.DB) error {
	return ErrImmutableEntry
}
