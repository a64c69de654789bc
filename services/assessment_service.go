package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/outcome-edu/obe-backend/model"
	"gorm.io/gorm"
)

// AssessmentService manages assessment lifecycle: creation and edits under the
// course marks budget, the one-way finalization transition, and deletion rules.
type AssessmentService struct {
	db *gorm.DB
}

// NewAssessmentService creates a new assessment service
func NewAssessmentService(db *gorm.DB) *AssessmentService {
	return &AssessmentService{db: db}
}

// AssessmentInput carries the fields a caller may set on an assessment
type AssessmentInput struct {
	CourseID      uint
	Title         string
	Type          model.AssessmentType
	Mode          model.AssessmentMode
	MaxMarks      float64
	ScheduledDate *time.Time
	Allocations   []CloAllocationInput
}

// ValidateDistributionForCourse runs the pure distribution rules against the
// course's current assessments. excludeID is the assessment being edited, 0
// for a new one.
func (s *AssessmentService) ValidateDistributionForCourse(ctx context.Context, courseID uint, candidateMaxMarks float64, excludeID uint) error {
	var course model.Course
	if err := s.db.WithContext(ctx).First(&course, courseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to fetch course: %w", err)
	}

	weights, err := s.assessmentWeights(ctx, s.db, courseID)
	if err != nil {
		return err
	}

	return ValidateDistribution(course.TotalMarksBudget(), weights, candidateMaxMarks, excludeID)
}

// CreateAssessment validates the proposed assessment against the course budget
// and CLO allocation rules, then persists the assessment and its allocations
// in one transaction.
func (s *AssessmentService) CreateAssessment(ctx context.Context, in AssessmentInput, actorID uint) (*model.Assessment, error) {
	if err := s.validateBasics(in); err != nil {
		return nil, err
	}

	var created model.Assessment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var course model.Course
		if err := tx.First(&course, in.CourseID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to fetch course: %w", err)
		}

		weights, err := s.assessmentWeights(ctx, tx, in.CourseID)
		if err != nil {
			return err
		}
		if err := ValidateDistribution(course.TotalMarksBudget(), weights, in.MaxMarks, 0); err != nil {
			return err
		}

		allocs, err := s.resolveAllocations(tx, in.CourseID, in.MaxMarks, in.Allocations)
		if err != nil {
			return err
		}

		created = model.Assessment{
			CourseID:      in.CourseID,
			Title:         in.Title,
			Type:          in.Type,
			Mode:          in.Mode,
			MaxMarks:      in.MaxMarks,
			ScheduledDate: in.ScheduledDate,
			CreatedBy:     actorID,
		}
		if err := tx.Create(&created).Error; err != nil {
			return fmt.Errorf("failed to create assessment: %w", err)
		}

		for i := range allocs {
			allocs[i].AssessmentID = created.ID
		}
		if err := tx.Create(&allocs).Error; err != nil {
			return fmt.Errorf("failed to create CLO allocations: %w", err)
		}
		created.Allocations = allocs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateAssessment re-validates distribution (excluding the assessment itself)
// and replaces the CLO allocations. Rejected once the assessment is finalized.
// Existing mark entries must still fit the new allocation caps.
func (s *AssessmentService) UpdateAssessment(ctx context.Context, assessmentID uint, in AssessmentInput, actorID uint) (*model.Assessment, error) {
	if err := s.validateBasics(in); err != nil {
		return nil, err
	}

	var updated model.Assessment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var assessment model.Assessment
		if err := tx.First(&assessment, assessmentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to fetch assessment: %w", err)
		}
		if assessment.IsMarksFinalized {
			return ErrAssessmentFinalized
		}

		var course model.Course
		if err := tx.First(&course, assessment.CourseID).Error; err != nil {
			return fmt.Errorf("failed to fetch course: %w", err)
		}

		weights, err := s.assessmentWeights(ctx, tx, assessment.CourseID)
		if err != nil {
			return err
		}
		if err := ValidateDistribution(course.TotalMarksBudget(), weights, in.MaxMarks, assessmentID); err != nil {
			return err
		}

		allocs, err := s.resolveAllocations(tx, assessment.CourseID, in.MaxMarks, in.Allocations)
		if err != nil {
			return err
		}

		// Shrinking an allocation below marks already entered would break the
		// ledger invariant, so reject the edit with itemized errors.
		if err := s.checkEntriesAgainstAllocations(tx, assessmentID, allocs); err != nil {
			return err
		}

		assessment.Title = in.Title
		assessment.Type = in.Type
		assessment.Mode = in.Mode
		assessment.MaxMarks = in.MaxMarks
		assessment.ScheduledDate = in.ScheduledDate
		if err := tx.Save(&assessment).Error; err != nil {
			return fmt.Errorf("failed to update assessment: %w", err)
		}

		if err := tx.Where("assessment_id = ?", assessmentID).Delete(&model.AssessmentCloAllocation{}).Error; err != nil {
			return fmt.Errorf("failed to clear CLO allocations: %w", err)
		}
		for i := range allocs {
			allocs[i].AssessmentID = assessmentID
		}
		if err := tx.Create(&allocs).Error; err != nil {
			return fmt.Errorf("failed to create CLO allocations: %w", err)
		}

		assessment.Allocations = allocs
		updated = assessment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteAssessment removes a draft assessment. Finalized assessments and
// assessments with mark entries are never deletable.
func (s *AssessmentService) DeleteAssessment(ctx context.Context, assessmentID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var assessment model.Assessment
		if err := tx.First(&assessment, assessmentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to fetch assessment: %w", err)
		}
		if assessment.IsMarksFinalized {
			return ErrAssessmentFinalized
		}

		var entryCount int64
		if err := tx.Model(&model.MarkEntry{}).Where("assessment_id = ?", assessmentID).Count(&entryCount).Error; err != nil {
			return fmt.Errorf("failed to count mark entries: %w", err)
		}
		if entryCount > 0 {
			return NewValidationError("assessment", "cannot delete an assessment that already has mark entries")
		}

		if err := tx.Where("assessment_id = ?", assessmentID).Delete(&model.AssessmentCloAllocation{}).Error; err != nil {
			return fmt.Errorf("failed to delete CLO allocations: %w", err)
		}
		if err := tx.Delete(&assessment).Error; err != nil {
			return fmt.Errorf("failed to delete assessment: %w", err)
		}
		return nil
	})
}

// FinalizeAssessment performs the one-way DRAFT -> FINALIZED transition.
// The flip is a conditional update on is_marks_finalized so that exactly one
// finalize wins and any concurrent or later mutation observes the lock.
func (s *AssessmentService) FinalizeAssessment(ctx context.Context, assessmentID uint, actorID uint) (*model.Assessment, error) {
	var finalized model.Assessment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var assessment model.Assessment
		if err := tx.First(&assessment, assessmentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to fetch assessment: %w", err)
		}

		now := time.Now()
		res := tx.Model(&model.Assessment{}).
			Where("id = ? AND is_marks_finalized = ?", assessmentID, false).
			Updates(map[string]interface{}{
				"is_marks_finalized": true,
				"marks_finalized_at": now,
				"marks_finalized_by": actorID,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to finalize assessment: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAssessmentFinalized
		}

		if err := tx.First(&finalized, assessmentID).Error; err != nil {
			return fmt.Errorf("failed to reload assessment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &finalized, nil
}

// FinalizationStatus reports whether an assessment can be finalized and how
// complete its marks entry is. Missing marks never hard-block finalization;
// the caller is expected to confirm explicitly ("finalize anyway").
type FinalizationStatus struct {
	Assessment  model.Assessment `json:"assessment"`
	Statistics  MarksStatistics  `json:"statistics"`
	CanFinalize bool             `json:"can_finalize"`
}

// GetFinalizationStatus returns the assessment, its ledger completion
// statistics and whether the finalize transition is currently available.
func (s *AssessmentService) GetFinalizationStatus(ctx context.Context, assessmentID uint) (*FinalizationStatus, error) {
	var assessment model.Assessment
	if err := s.db.WithContext(ctx).Preload("Allocations").First(&assessment, assessmentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch assessment: %w", err)
	}

	stats, err := ledgerStatistics(s.db.WithContext(ctx), &assessment)
	if err != nil {
		return nil, err
	}

	return &FinalizationStatus{
		Assessment:  assessment,
		Statistics:  stats,
		CanFinalize: !assessment.IsMarksFinalized,
	}, nil
}

// GetAssessment fetches one assessment with its CLO allocations
func (s *AssessmentService) GetAssessment(ctx context.Context, assessmentID uint) (*model.Assessment, error) {
	var assessment model.Assessment
	if err := s.db.WithContext(ctx).
		Preload("Allocations").
		Preload("Allocations.Clo").
		First(&assessment, assessmentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch assessment: %w", err)
	}
	return &assessment, nil
}

// ListAssessments returns all assessments of a course, oldest first
func (s *AssessmentService) ListAssessments(ctx context.Context, courseID uint) ([]model.Assessment, error) {
	var assessments []model.Assessment
	if err := s.db.WithContext(ctx).
		Preload("Allocations").
		Where("course_id = ?", courseID).
		Order("created_at ASC").
		Find(&assessments).Error; err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	return assessments, nil
}

func (s *AssessmentService) validateBasics(in AssessmentInput) error {
	ve := &ValidationError{}
	if in.Title == "" {
		ve.Add("title", "title is required")
	}
	if !model.ValidAssessmentType(in.Type) {
		ve.Add("type", "type must be one of CONTINUOUS, MID_TERM, SEMESTER_END, OTHER")
	}
	if !model.ValidAssessmentMode(in.Mode) {
		ve.Add("mode", "mode must be OFFLINE or ONLINE")
	}
	if in.MaxMarks <= 0 {
		ve.Add("max_marks", "max marks must be a positive number")
	}
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func (s *AssessmentService) assessmentWeights(ctx context.Context, tx *gorm.DB, courseID uint) ([]AssessmentWeight, error) {
	var rows []model.Assessment
	if err := tx.Select("id", "max_marks").Where("course_id = ?", courseID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list course assessments: %w", err)
	}
	weights := make([]AssessmentWeight, 0, len(rows))
	for _, a := range rows {
		weights = append(weights, AssessmentWeight{AssessmentID: a.ID, MaxMarks: a.MaxMarks})
	}
	return weights, nil
}

// resolveAllocations validates the CLO allocation inputs and materializes model
// rows. A threshold left at zero inherits the CLO's configured default.
func (s *AssessmentService) resolveAllocations(tx *gorm.DB, courseID uint, maxMarks float64, inputs []CloAllocationInput) ([]model.AssessmentCloAllocation, error) {
	if err := ValidateCloAllocations(maxMarks, inputs); err != nil {
		return nil, err
	}

	cloIDs := make([]uint, 0, len(inputs))
	for _, in := range inputs {
		cloIDs = append(cloIDs, in.CloID)
	}
	var clos []model.CourseOutcome
	if err := tx.Where("course_id = ? AND id IN ?", courseID, cloIDs).Find(&clos).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch CLOs: %w", err)
	}
	byID := make(map[uint]model.CourseOutcome, len(clos))
	for _, c := range clos {
		byID[c.ID] = c
	}

	ve := &ValidationError{}
	allocs := make([]model.AssessmentCloAllocation, 0, len(inputs))
	for i, in := range inputs {
		clo, ok := byID[in.CloID]
		if !ok {
			ve.Add(fmt.Sprintf("allocations[%d].clo_id", i), fmt.Sprintf("CLO %d does not belong to this course", in.CloID))
			continue
		}
		// nil inherits the CLO default; an explicit 0 is kept as 0.
		threshold := clo.AttainmentThreshold
		if in.Threshold != nil {
			threshold = *in.Threshold
		}
		allocs = append(allocs, model.AssessmentCloAllocation{
			CloID:          in.CloID,
			MarksAllocated: in.MarksAllocated,
			Threshold:      threshold,
		})
	}
	if ve.HasErrors() {
		return nil, ve
	}
	return allocs, nil
}

// checkEntriesAgainstAllocations rejects allocation edits that would leave
// existing mark entries above their CLO cap.
func (s *AssessmentService) checkEntriesAgainstAllocations(tx *gorm.DB, assessmentID uint, allocs []model.AssessmentCloAllocation) error {
	var entries []model.MarkEntry
	if err := tx.Where("assessment_id = ?", assessmentID).Find(&entries).Error; err != nil {
		return fmt.Errorf("failed to fetch mark entries: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	capByClo := make(map[uint]float64, len(allocs))
	for _, a := range allocs {
		capByClo[a.CloID] = a.MarksAllocated
	}

	ve := &ValidationError{}
	for _, e := range entries {
		allocated, ok := capByClo[e.CloID]
		if !ok {
			ve.Add("allocations", fmt.Sprintf("CLO %d has existing mark entries and cannot be removed", e.CloID))
			continue
		}
		if e.MarksObtained > allocated {
			ve.Add("allocations", fmt.Sprintf(
				"student %d has %.1f marks on CLO %d, above the new allocation of %.1f",
				e.StudentID, e.MarksObtained, e.CloID, allocated))
		}
	}
	if ve.HasErrors() {
		return ve
	}
	return nil
}
