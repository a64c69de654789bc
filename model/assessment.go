package model

import (
	"math"
	"time"

	"gorm.io/gorm"
)

// AssessmentType categorizes a graded event
type AssessmentType string

const (
	AssessmentContinuous  AssessmentType = "CONTINUOUS"
	AssessmentMidTerm     AssessmentType = "MID_TERM"
	AssessmentSemesterEnd AssessmentType = "SEMESTER_END"
	AssessmentOther       AssessmentType = "OTHER"
)

// ValidAssessmentType reports whether t is a known assessment type
func ValidAssessmentType(t AssessmentType) bool {
	switch t {
	case AssessmentContinuous, AssessmentMidTerm, AssessmentSemesterEnd, AssessmentOther:
		return true
	}
	return false
}

// AssessmentMode is how the assessment is conducted
type AssessmentMode string

const (
	ModeOffline AssessmentMode = "OFFLINE"
	ModeOnline  AssessmentMode = "ONLINE"
)

// ValidAssessmentMode reports whether m is a known assessment mode
func ValidAssessmentMode(m AssessmentMode) bool {
	return m == ModeOffline || m == ModeOnline
}

// Assessment represents a single graded event within a course. Its lifecycle is
// draft (marks editable) -> finalized (terminal, immutable).
type Assessment struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
	CourseID         uint           `gorm:"not null;index" json:"course_id"`
	Title            string         `gorm:"not null" json:"title"`
	Type             AssessmentType `gorm:"type:varchar(20);not null" json:"type"`
	Mode             AssessmentMode `gorm:"type:varchar(20);default:'OFFLINE'" json:"mode"`
	MaxMarks         float64        `gorm:"not null" json:"max_marks"`
	ScheduledDate    *time.Time     `json:"scheduled_date"`
	CreatedBy        uint           `gorm:"index" json:"created_by"`
	IsMarksFinalized bool           `gorm:"not null;default:false;index" json:"is_marks_finalized"`
	MarksFinalizedAt *time.Time     `json:"marks_finalized_at"`
	MarksFinalizedBy *uint          `json:"marks_finalized_by"`

	// Relationships
	Course      Course                    `gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE" json:"course,omitempty"`
	Allocations []AssessmentCloAllocation `gorm:"foreignKey:AssessmentID;constraint:OnDelete:CASCADE" json:"allocations,omitempty"`
	MarkEntries []MarkEntry               `gorm:"foreignKey:AssessmentID;constraint:OnDelete:CASCADE" json:"-"`
}

// AssessmentCloAllocation distributes a portion of an assessment's max marks to
// one CLO, with an optional per-assessment threshold override.
type AssessmentCloAllocation struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	AssessmentID   uint      `gorm:"not null;index;uniqueIndex:idx_assessment_clo" json:"assessment_id"`
	CloID          uint      `gorm:"not null;index;uniqueIndex:idx_assessment_clo" json:"clo_id"`
	MarksAllocated float64   `gorm:"not null" json:"marks_allocated"`
	Threshold      float64   `gorm:"default:50" json:"threshold"` // percentage, 0-100

	// Relationships
	Assessment Assessment    `gorm:"foreignKey:AssessmentID;constraint:OnDelete:CASCADE" json:"-"`
	Clo        CourseOutcome `gorm:"foreignKey:CloID;constraint:OnDelete:CASCADE" json:"clo,omitempty"`
}

// Weightage returns the display-only percentage this allocation represents of
// the assessment's max marks. Never authoritative.
func (a *AssessmentCloAllocation) Weightage(assessmentMaxMarks float64) float64 {
	if assessmentMaxMarks <= 0 {
		return 0
	}
	return math.Round(a.MarksAllocated / assessmentMaxMarks * 100)
}
