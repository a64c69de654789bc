package model

import (
	"time"

	"gorm.io/datatypes"
)

// Snapshot scopes
const (
	SnapshotScopeAssessment = "assessment"
	SnapshotScopeCombined   = "combined"
)

// AttainmentSnapshot persists a computed attainment report so dashboards can
// read precomputed results. Refreshed by the cron job after finalization.
type AttainmentSnapshot struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	CourseID     uint           `gorm:"not null;index;uniqueIndex:idx_snapshot_scope" json:"course_id"`
	AssessmentID uint           `gorm:"not null;default:0;uniqueIndex:idx_snapshot_scope" json:"assessment_id"` // 0 for combined reports
	Scope        string         `gorm:"type:varchar(20);not null;uniqueIndex:idx_snapshot_scope" json:"scope"`
	Report       datatypes.JSON `gorm:"type:jsonb" json:"report"`
	GeneratedAt  time.Time      `gorm:"not null" json:"generated_at"`

	// Relationships
	Course Course `gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for AttainmentSnapshot
func (AttainmentSnapshot) TableName() string {
	return "attainment_snapshots"
}
