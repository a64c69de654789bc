package model

import (
	"time"

	"gorm.io/gorm"
)

// MarksPerCredit is the fixed multiplier that converts course credits into the
// total marks budget available for assessments.
const MarksPerCredit = 25

// Course represents a course offering owned by a department (e.g., CS301 in semester 5)
type Course struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Name      string         `gorm:"not null" json:"name"`
	Code      string         `gorm:"uniqueIndex;not null" json:"code"` // e.g., "CS301"
	Credits   int            `gorm:"not null" json:"credits"`
	Semester  int            `gorm:"not null" json:"semester"`
	Year      int            `gorm:"not null" json:"year"`
	CreatedBy uint           `gorm:"index" json:"created_by"`

	// Relationships
	Outcomes    []CourseOutcome `gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE" json:"outcomes,omitempty"`
	Assessments []Assessment    `gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE" json:"assessments,omitempty"`
	Students    []Student       `gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE" json:"-"`
	Faculty     []FacultyCourse `gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE" json:"-"`
}

// TotalMarksBudget returns the marks budget available for distributing across
// the course's assessments.
func (c *Course) TotalMarksBudget() float64 {
	return float64(c.Credits * MarksPerCredit)
}

// BloomLevel classifies a CLO by cognitive complexity
type BloomLevel string

const (
	BloomRemember   BloomLevel = "REMEMBER"
	BloomUnderstand BloomLevel = "UNDERSTAND"
	BloomApply      BloomLevel = "APPLY"
	BloomAnalyze    BloomLevel = "ANALYZE"
	BloomEvaluate   BloomLevel = "EVALUATE"
	BloomCreate     BloomLevel = "CREATE"
)

// ValidBloomLevel reports whether l is one of the six Bloom taxonomy levels
func ValidBloomLevel(l BloomLevel) bool {
	switch l {
	case BloomRemember, BloomUnderstand, BloomApply, BloomAnalyze, BloomEvaluate, BloomCreate:
		return true
	}
	return false
}

// DefaultAttainmentThreshold is the percentage a student must score on a CLO
// to count as having attained it, unless overridden per CLO or per allocation.
const DefaultAttainmentThreshold = 50.0

// CourseOutcome represents a Course Learning Outcome (CLO)
type CourseOutcome struct {
	ID                  uint           `gorm:"primaryKey" json:"id"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	DeletedAt           gorm.DeletedAt `gorm:"index" json:"-"`
	CourseID            uint           `gorm:"not null;index;uniqueIndex:idx_course_clo_code" json:"course_id"`
	Code                string         `gorm:"not null;type:varchar(20);uniqueIndex:idx_course_clo_code" json:"code"` // e.g., "CLO1"
	Statement           string         `gorm:"type:text;not null" json:"statement"`
	BloomLevel          BloomLevel     `gorm:"type:varchar(20);not null" json:"bloom_level"`
	AttainmentThreshold float64        `gorm:"default:50" json:"attainment_threshold"` // percentage, 0-100

	// Relationships
	Course     Course         `gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE" json:"course,omitempty"`
	PoMappings []CloPoMapping `gorm:"foreignKey:CloID;constraint:OnDelete:CASCADE" json:"po_mappings,omitempty"`
}

// Program outcome types
const (
	OutcomeTypePO  = "PO"
	OutcomeTypePSO = "PSO"
)

// ProgramOutcome represents an institution-level Program Outcome (PO) or
// Program Specific Outcome (PSO) that CLOs map onto
type ProgramOutcome struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Code      string         `gorm:"uniqueIndex;not null;type:varchar(20)" json:"code"` // e.g., "PO1", "PSO2"
	Statement string         `gorm:"type:text;not null" json:"statement"`
	Type      string         `gorm:"type:varchar(10);not null" json:"type"` // PO, PSO
}

// CloPoMapping correlates a CLO with a PO/PSO at a strength of 1 (low) to 3 (high)
type CloPoMapping struct {
	CloID            uint      `gorm:"primaryKey" json:"clo_id"`
	ProgramOutcomeID uint      `gorm:"primaryKey" json:"program_outcome_id"`
	CorrelationLevel int       `gorm:"not null;default:1" json:"correlation_level"` // 1-3
	CreatedAt        time.Time `json:"created_at"`

	// Relationships
	Clo            CourseOutcome  `gorm:"foreignKey:CloID;constraint:OnDelete:CASCADE" json:"-"`
	ProgramOutcome ProgramOutcome `gorm:"foreignKey:ProgramOutcomeID;constraint:OnDelete:CASCADE" json:"program_outcome,omitempty"`
}
