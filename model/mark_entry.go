package model

import (
	"time"
)

// MarkEntry stores the raw marks one student obtained on one CLO within one
// assessment. The composite unique index is the natural upsert key, which makes
// bulk writes idempotent. Entries are mutable only until the owning assessment
// is finalized.
type MarkEntry struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	AssessmentID  uint      `gorm:"not null;index;uniqueIndex:idx_mark_entry_key" json:"assessment_id"`
	StudentID     uint      `gorm:"not null;index;uniqueIndex:idx_mark_entry_key" json:"student_id"`
	CloID         uint      `gorm:"not null;uniqueIndex:idx_mark_entry_key" json:"clo_id"`
	MarksObtained float64   `gorm:"not null" json:"marks_obtained"`
	EnteredBy     uint      `json:"entered_by"`

	// Relationships
	Assessment Assessment    `gorm:"foreignKey:AssessmentID;constraint:OnDelete:CASCADE" json:"-"`
	Student    Student       `gorm:"foreignKey:StudentID;constraint:OnDelete:CASCADE" json:"-"`
	Clo        CourseOutcome `gorm:"foreignKey:CloID;constraint:OnDelete:CASCADE" json:"-"`
}
