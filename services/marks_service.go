package services

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/outcome-edu/obe-backend/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MarksService is the marks ledger: per-student, per-CLO raw marks for an
// assessment, with all-or-nothing bulk upserts validated against allocation
// caps and frozen by finalization.
type MarksService struct {
	db *gorm.DB
}

// NewMarksService creates a new marks service
func NewMarksService(db *gorm.DB) *MarksService {
	return &MarksService{db: db}
}

// MarkEntryInput is one student's marks on one CLO, as submitted by faculty
type MarkEntryInput struct {
	StudentID     uint    `json:"student_id"`
	CloID         uint    `json:"clo_id"`
	MarksObtained float64 `json:"marks_obtained"`
}

// BulkUpsertMarks validates and upserts a batch of mark entries for one
// assessment. The batch is all-or-nothing: either every entry passes
// validation and is written, or the caller receives the itemized failures and
// nothing is applied. Keyed by (assessment, student, CLO), so replaying the
// same batch is idempotent.
func (s *MarksService) BulkUpsertMarks(ctx context.Context, assessmentID uint, entries []MarkEntryInput, actorID uint) (int, error) {
	if len(entries) == 0 {
		return 0, NewValidationError("entries", "at least one mark entry is required")
	}

	saved := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var assessment model.Assessment
		if err := tx.First(&assessment, assessmentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to fetch assessment: %w", err)
		}

		// Touch the assessment row while re-checking the finalized flag. This
		// takes the row lock that finalize also needs, so a finalize that
		// commits first makes this write fail and an in-flight batch holds the
		// lock until it commits ("finalize-wins" serialization per assessment).
		guard := tx.Model(&model.Assessment{}).
			Where("id = ? AND is_marks_finalized = ?", assessmentID, false).
			Update("is_marks_finalized", false)
		if guard.Error != nil {
			return fmt.Errorf("failed to lock assessment: %w", guard.Error)
		}
		if guard.RowsAffected == 0 {
			return ErrAssessmentFinalized
		}

		var allocations []model.AssessmentCloAllocation
		if err := tx.Where("assessment_id = ?", assessmentID).Find(&allocations).Error; err != nil {
			return fmt.Errorf("failed to fetch CLO allocations: %w", err)
		}
		capByClo := make(map[uint]float64, len(allocations))
		for _, a := range allocations {
			capByClo[a.CloID] = a.MarksAllocated
		}

		var students []model.Student
		if err := tx.Select("id").Where("course_id = ?", assessment.CourseID).Find(&students).Error; err != nil {
			return fmt.Errorf("failed to fetch course roster: %w", err)
		}
		enrolled := make(map[uint]bool, len(students))
		for _, st := range students {
			enrolled[st.ID] = true
		}

		ve := &ValidationError{}
		type entryKey struct{ student, clo uint }
		seen := make(map[entryKey]bool, len(entries))
		rows := make([]model.MarkEntry, 0, len(entries))
		for i, e := range entries {
			field := fmt.Sprintf("entries[%d]", i)
			if !enrolled[e.StudentID] {
				ve.Add(field+".student_id", fmt.Sprintf("student %d is not enrolled in this course", e.StudentID))
			}
			allocated, ok := capByClo[e.CloID]
			if !ok {
				ve.Add(field+".clo_id", fmt.Sprintf("CLO %d is not allocated on this assessment", e.CloID))
			} else {
				if e.MarksObtained < 0 {
					ve.Add(field+".marks_obtained", "marks cannot be negative")
				}
				if e.MarksObtained > allocated {
					ve.Add(field+".marks_obtained", fmt.Sprintf(
						"marks %.1f exceed the %.1f allocated to CLO %d", e.MarksObtained, allocated, e.CloID))
				}
			}
			k := entryKey{e.StudentID, e.CloID}
			if seen[k] {
				ve.Add(field, fmt.Sprintf("duplicate entry for student %d, CLO %d in batch", e.StudentID, e.CloID))
			}
			seen[k] = true

			rows = append(rows, model.MarkEntry{
				AssessmentID:  assessmentID,
				StudentID:     e.StudentID,
				CloID:         e.CloID,
				MarksObtained: e.MarksObtained,
				EnteredBy:     actorID,
			})
		}
		if ve.HasErrors() {
			return ve
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "assessment_id"}, {Name: "student_id"}, {Name: "clo_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"marks_obtained", "entered_by", "updated_at",
			}),
		}).Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to upsert mark entries: %w", err)
		}

		saved = len(rows)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return saved, nil
}

// StudentMarks is one student's row in the ledger view
type StudentMarks struct {
	StudentID  uint              `json:"student_id"`
	RollNumber string            `json:"roll_number"`
	Name       string            `json:"name"`
	MarksByClo map[uint]*float64 `json:"marks_by_clo"` // nil value = not yet entered
}

// MarksStatistics summarizes ledger completeness for one assessment
type MarksStatistics struct {
	TotalStudents     int     `json:"total_students"`
	MissingMarks      int     `json:"missing_marks"`      // students with no or partial CLO entries
	PercentageEntered float64 `json:"percentage_entered"` // rounded to 1 decimal place
}

// AssessmentMarks is the full ledger view for one assessment
type AssessmentMarks struct {
	Assessment model.Assessment                `json:"assessment"`
	Clos       []model.AssessmentCloAllocation `json:"clos"`
	Students   []StudentMarks                  `json:"students"`
	Statistics MarksStatistics                 `json:"statistics"`
}

// GetAssessmentMarks returns the ledger for one assessment: every enrolled
// student with their per-CLO marks plus completion statistics. Students
// without an entry for a CLO show nil there; for attainment math a missing
// entry counts as zero, the distinction only feeds the completion stats.
func (s *MarksService) GetAssessmentMarks(ctx context.Context, assessmentID uint) (*AssessmentMarks, error) {
	db := s.db.WithContext(ctx)

	var assessment model.Assessment
	if err := db.First(&assessment, assessmentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch assessment: %w", err)
	}

	var allocations []model.AssessmentCloAllocation
	if err := db.Preload("Clo").Where("assessment_id = ?", assessmentID).Find(&allocations).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch CLO allocations: %w", err)
	}

	var students []model.Student
	if err := db.Where("course_id = ?", assessment.CourseID).Order("roll_number ASC").Find(&students).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch course roster: %w", err)
	}

	var entries []model.MarkEntry
	if err := db.Where("assessment_id = ?", assessmentID).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch mark entries: %w", err)
	}
	byStudent := make(map[uint]map[uint]float64, len(students))
	for _, e := range entries {
		if byStudent[e.StudentID] == nil {
			byStudent[e.StudentID] = make(map[uint]float64)
		}
		byStudent[e.StudentID][e.CloID] = e.MarksObtained
	}

	rows := make([]StudentMarks, 0, len(students))
	complete := 0
	for _, st := range students {
		row := StudentMarks{
			StudentID:  st.ID,
			RollNumber: st.RollNumber,
			Name:       st.Name,
			MarksByClo: make(map[uint]*float64, len(allocations)),
		}
		entered := 0
		for _, a := range allocations {
			if marks, ok := byStudent[st.ID][a.CloID]; ok {
				m := marks
				row.MarksByClo[a.CloID] = &m
				entered++
			} else {
				row.MarksByClo[a.CloID] = nil
			}
		}
		if len(allocations) > 0 && entered == len(allocations) {
			complete++
		}
		rows = append(rows, row)
	}

	stats := MarksStatistics{
		TotalStudents: len(students),
		MissingMarks:  len(students) - complete,
	}
	if stats.TotalStudents > 0 {
		stats.PercentageEntered = Round1(float64(complete) / float64(stats.TotalStudents) * 100)
	}

	return &AssessmentMarks{
		Assessment: assessment,
		Clos:       allocations,
		Students:   rows,
		Statistics: stats,
	}, nil
}

// ledgerStatistics computes completion statistics without materializing the
// full per-student view. Shared with the finalization status endpoint.
func ledgerStatistics(db *gorm.DB, assessment *model.Assessment) (MarksStatistics, error) {
	stats := MarksStatistics{}

	var totalStudents int64
	if err := db.Model(&model.Student{}).Where("course_id = ?", assessment.CourseID).Count(&totalStudents).Error; err != nil {
		return stats, fmt.Errorf("failed to count students: %w", err)
	}
	stats.TotalStudents = int(totalStudents)

	var cloCount int64
	if err := db.Model(&model.AssessmentCloAllocation{}).Where("assessment_id = ?", assessment.ID).Count(&cloCount).Error; err != nil {
		return stats, fmt.Errorf("failed to count CLO allocations: %w", err)
	}

	// A student is complete when they have an entry for every mapped CLO.
	var complete int64
	if cloCount > 0 {
		sub := db.Model(&model.MarkEntry{}).
			Select("student_id").
			Where("assessment_id = ?", assessment.ID).
			Group("student_id").
			Having("COUNT(DISTINCT clo_id) >= ?", cloCount)
		if err := db.Table("(?) AS complete_students", sub).Count(&complete).Error; err != nil {
			return stats, fmt.Errorf("failed to count completed students: %w", err)
		}
	}

	stats.MissingMarks = stats.TotalStudents - int(complete)
	if stats.MissingMarks < 0 {
		stats.MissingMarks = 0
	}
	if stats.TotalStudents > 0 {
		stats.PercentageEntered = Round1(float64(complete) / float64(stats.TotalStudents) * 100)
	}
	return stats, nil
}

// Round1 rounds a percentage to one decimal place for display. Threshold
// comparisons always use unrounded values.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}
