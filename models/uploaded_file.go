package models

import "time"

// UploadedFile records accepted uploads stored locally so the background
// cleaner can expire them. Only validated content ever reaches this table.
type UploadedFile struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CandidateID  string    `gorm:"size:64;index" json:"candidate_id"`
	FilePath     string    `gorm:"size:1024;not null" json:"file_path"` // absolute or relative filesystem path
	URL          string    `gorm:"size:1024;not null" json:"url"`       // public URL like /static/uploads/...
	DetectedType string    `gorm:"size:32" json:"detected_type"`
	SizeBytes    int64     `json:"size_bytes"`
	ExpireAt     time.Time `gorm:"index" json:"expire_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
