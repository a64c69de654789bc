package model

import (
	"time"

	"gorm.io/gorm"
)

// Student represents a student enrolled in a course. The roster drives the
// marks-entry completion statistics (total students vs students with marks).
type Student struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
	CourseID   uint           `gorm:"not null;index;uniqueIndex:idx_course_roll" json:"course_id"`
	RollNumber string         `gorm:"not null;type:varchar(50);uniqueIndex:idx_course_roll" json:"roll_number"`
	Name       string         `gorm:"not null" json:"name"`

	// Relationships
	Course      Course      `gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE" json:"course,omitempty"`
	MarkEntries []MarkEntry `gorm:"foreignKey:StudentID;constraint:OnDelete:CASCADE" json:"-"`
}
