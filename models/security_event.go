package models

import "time"

// SecurityEvent is one append-only audit row per validation attempt, success
// or failure. It never stores raw file bytes or unsanitized client text:
// threat matches are recorded as pattern categories only, so the log cannot
// become a secondary injection vector.
type SecurityEvent struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	CandidateID       string    `gorm:"size:64;index" json:"candidate_id"`
	Outcome           string    `gorm:"size:16;not null" json:"outcome"` // accepted / rejected
	FailureKind       string    `gorm:"size:64;index" json:"failure_kind,omitempty"`
	DetectedType      string    `gorm:"size:32" json:"detected_type,omitempty"`
	ThreatCategory    string    `gorm:"size:64" json:"threat_category,omitempty"`
	SizeBytes         int64     `json:"size_bytes"`
	ElapsedMillis     int64     `json:"elapsed_millis"`
	SanitizedFilename string    `gorm:"size:255" json:"sanitized_filename"`
	SourceIdentifier  string    `gorm:"size:64;index" json:"source_identifier"`
	CreatedAt         time.Time `gorm:"index" json:"created_at"`
}
