package services

import (
	"context"
	"errors"
	"testing"

	"github.com/outcome-edu/obe-backend/model"
)

func TestCreateAssessmentPersistsAllocations(t *testing.T) {
	db := openTestDB(t)
	course, clos, _ := seedCourse(t, db)
	svc := NewAssessmentService(db)

	assessment, err := svc.CreateAssessment(context.Background(), AssessmentInput{
		CourseID: course.ID,
		Title:    "Mid Term 1",
		Type:     model.AssessmentMidTerm,
		Mode:     model.ModeOffline,
		MaxMarks: 30,
		Allocations: []CloAllocationInput{
			{CloID: clos[0].ID, MarksAllocated: 20, Threshold: pct(55)},
			{CloID: clos[1].ID, MarksAllocated: 10}, // inherits CLO2's 60
		},
	}, 1)
	if err != nil {
		t.Fatalf("CreateAssessment() error = %v", err)
	}

	if assessment.ID == 0 {
		t.Fatal("assessment was not persisted")
	}
	if len(assessment.Allocations) != 2 {
		t.Fatalf("len(Allocations) = %d, want 2", len(assessment.Allocations))
	}
	if assessment.Allocations[0].Threshold != 55 {
		t.Errorf("explicit threshold = %.0f, want 55", assessment.Allocations[0].Threshold)
	}
	if assessment.Allocations[1].Threshold != 60 {
		t.Errorf("inherited threshold = %.0f, want the CLO default 60", assessment.Allocations[1].Threshold)
	}
}

func TestCreateAssessmentKeepsExplicitZeroThreshold(t *testing.T) {
	db := openTestDB(t)
	course, clos, _ := seedCourse(t, db)
	svc := NewAssessmentService(db)

	assessment, err := svc.CreateAssessment(context.Background(), AssessmentInput{
		CourseID: course.ID,
		Title:    "Participation",
		Type:     model.AssessmentContinuous,
		Mode:     model.ModeOffline,
		MaxMarks: 10,
		Allocations: []CloAllocationInput{
			{CloID: clos[0].ID, MarksAllocated: 10, Threshold: pct(0)},
		},
	}, 1)
	if err != nil {
		t.Fatalf("CreateAssessment() error = %v", err)
	}

	// An explicit 0% override must not fall back to the CLO default.
	if got := assessment.Allocations[0].Threshold; got != 0 {
		t.Errorf("threshold = %.0f, want the explicit 0", got)
	}
}

func TestCreateAssessmentEnforcesBudget(t *testing.T) {
	db := openTestDB(t)
	course, clos, _ := seedCourse(t, db)
	svc := NewAssessmentService(db)
	ctx := context.Background()

	mk := func(title string, maxMarks float64) error {
		_, err := svc.CreateAssessment(ctx, AssessmentInput{
			CourseID: course.ID,
			Title:    title,
			Type:     model.AssessmentContinuous,
			Mode:     model.ModeOffline,
			MaxMarks: maxMarks,
			Allocations: []CloAllocationInput{
				{CloID: clos[0].ID, MarksAllocated: maxMarks},
			},
		}, 1)
		return err
	}

	// Budget is 100 (4 credits x 25). A single 60-mark assessment breaks the
	// concentration cap.
	if err := mk("Too big", 60); err == nil {
		t.Error("expected concentration cap violation")
	}

	if err := mk("CT 1", 40); err != nil {
		t.Fatalf("first assessment rejected: %v", err)
	}

	// Completing the budget with only two assessments must fail.
	if err := mk("End Sem", 60); err == nil {
		t.Error("expected minimum-spread violation when completing budget with 2 assessments")
	}

	if err := mk("CT 2", 30); err != nil {
		t.Fatalf("second assessment rejected: %v", err)
	}
	// Third assessment may complete the budget.
	if err := mk("End Sem", 30); err != nil {
		t.Errorf("third assessment completing the budget rejected: %v", err)
	}
	// Budget is exhausted now.
	if err := mk("Extra", 5); err == nil {
		t.Error("expected budget-exceeded violation")
	}
}

func TestCreateAssessmentRejectsForeignClo(t *testing.T) {
	db := openTestDB(t)
	course, _, _ := seedCourse(t, db)
	svc := NewAssessmentService(db)

	other := model.Course{Name: "Databases", Code: "CS302", Credits: 4, Semester: 5, Year: 2026}
	if err := db.Create(&other).Error; err != nil {
		t.Fatalf("failed to create course: %v", err)
	}
	foreign := model.CourseOutcome{CourseID: other.ID, Code: "CLO1", Statement: "Normalize a schema", BloomLevel: model.BloomApply}
	if err := db.Create(&foreign).Error; err != nil {
		t.Fatalf("failed to create CLO: %v", err)
	}

	_, err := svc.CreateAssessment(context.Background(), AssessmentInput{
		CourseID: course.ID,
		Title:    "CT 1",
		Type:     model.AssessmentContinuous,
		Mode:     model.ModeOffline,
		MaxMarks: 30,
		Allocations: []CloAllocationInput{
			{CloID: foreign.ID, MarksAllocated: 20},
		},
	}, 1)
	if _, ok := AsValidationError(err); !ok {
		t.Errorf("expected validation error for CLO from another course, got %v", err)
	}
}

func TestUpdateAssessmentRejectsShrinkBelowEntries(t *testing.T) {
	db := openTestDB(t)
	course, clos, students := seedCourse(t, db)
	svc := NewAssessmentService(db)
	marks := NewMarksService(db)
	ctx := context.Background()

	assessment, err := svc.CreateAssessment(ctx, AssessmentInput{
		CourseID: course.ID,
		Title:    "CT 1",
		Type:     model.AssessmentContinuous,
		Mode:     model.ModeOffline,
		MaxMarks: 30,
		Allocations: []CloAllocationInput{
			{CloID: clos[0].ID, MarksAllocated: 20},
		},
	}, 1)
	if err != nil {
		t.Fatalf("CreateAssessment() error = %v", err)
	}

	if _, err := marks.BulkUpsertMarks(ctx, assessment.ID, []MarkEntryInput{
		{StudentID: students[0].ID, CloID: clos[0].ID, MarksObtained: 18},
	}, 1); err != nil {
		t.Fatalf("BulkUpsertMarks() error = %v", err)
	}

	// Shrinking CLO1 to 15 would leave the 18-mark entry above the cap.
	_, err = svc.UpdateAssessment(ctx, assessment.ID, AssessmentInput{
		CourseID: course.ID,
		Title:    "CT 1",
		Type:     model.AssessmentContinuous,
		Mode:     model.ModeOffline,
		MaxMarks: 30,
		Allocations: []CloAllocationInput{
			{CloID: clos[0].ID, MarksAllocated: 15},
		},
	}, 1)
	if _, ok := AsValidationError(err); !ok {
		t.Errorf("expected validation error for shrinking below existing entries, got %v", err)
	}

	// Growing the allocation is fine.
	if _, err := svc.UpdateAssessment(ctx, assessment.ID, AssessmentInput{
		CourseID: course.ID,
		Title:    "CT 1 revised",
		Type:     model.AssessmentContinuous,
		Mode:     model.ModeOffline,
		MaxMarks: 30,
		Allocations: []CloAllocationInput{
			{CloID: clos[0].ID, MarksAllocated: 20},
			{CloID: clos[1].ID, MarksAllocated: 10},
		},
	}, 1); err != nil {
		t.Errorf("UpdateAssessment() error = %v", err)
	}
}

func TestFinalizeAssessmentIsTerminal(t *testing.T) {
	db := openTestDB(t)
	course, clos, _ := seedCourse(t, db)
	svc := NewAssessmentService(db)
	ctx := context.Background()

	assessment, err := svc.CreateAssessment(ctx, AssessmentInput{
		CourseID: course.ID,
		Title:    "CT 1",
		Type:     model.AssessmentContinuous,
		Mode:     model.ModeOffline,
		MaxMarks: 30,
		Allocations: []CloAllocationInput{
			{CloID: clos[0].ID, MarksAllocated: 30},
		},
	}, 1)
	if err != nil {
		t.Fatalf("CreateAssessment() error = %v", err)
	}

	finalized, err := svc.FinalizeAssessment(ctx, assessment.ID, 42)
	if err != nil {
		t.Fatalf("FinalizeAssessment() error = %v", err)
	}
	if !finalized.IsMarksFinalized {
		t.Error("assessment not marked finalized")
	}
	if finalized.MarksFinalizedAt == nil {
		t.Error("MarksFinalizedAt not recorded")
	}
	if finalized.MarksFinalizedBy == nil || *finalized.MarksFinalizedBy != 42 {
		t.Error("MarksFinalizedBy not recorded")
	}

	// Second finalize must report the conflict.
	if _, err := svc.FinalizeAssessment(ctx, assessment.ID, 42); !errors.Is(err, ErrAssessmentFinalized) {
		t.Errorf("second finalize error = %v, want ErrAssessmentFinalized", err)
	}

	// Edits after finalization are rejected.
	_, err = svc.UpdateAssessment(ctx, assessment.ID, AssessmentInput{
		CourseID: course.ID,
		Title:    "CT 1 edited",
		Type:     model.AssessmentContinuous,
		Mode:     model.ModeOffline,
		MaxMarks: 30,
		Allocations: []CloAllocationInput{
			{CloID: clos[0].ID, MarksAllocated: 30},
		},
	}, 1)
	if !errors.Is(err, ErrAssessmentFinalized) {
		t.Errorf("update after finalize error = %v, want ErrAssessmentFinalized", err)
	}

	// So is deletion.
	if err := svc.DeleteAssessment(ctx, assessment.ID); !errors.Is(err, ErrAssessmentFinalized) {
		t.Errorf("delete after finalize error = %v, want ErrAssessmentFinalized", err)
	}
}

func TestDeleteAssessmentWithEntries(t *testing.T) {
	db := openTestDB(t)
	course, clos, students := seedCourse(t, db)
	svc := NewAssessmentService(db)
	marks := NewMarksService(db)
	ctx := context.Background()

	assessment, err := svc.CreateAssessment(ctx, AssessmentInput{
		CourseID: course.ID,
		Title:    "CT 1",
		Type:     model.AssessmentContinuous,
		Mode:     model.ModeOffline,
		MaxMarks: 30,
		Allocations: []CloAllocationInput{
			{CloID: clos[0].ID, MarksAllocated: 30},
		},
	}, 1)
	if err != nil {
		t.Fatalf("CreateAssessment() error = %v", err)
	}

	if _, err := marks.BulkUpsertMarks(ctx, assessment.ID, []MarkEntryInput{
		{StudentID: students[0].ID, CloID: clos[0].ID, MarksObtained: 12},
	}, 1); err != nil {
		t.Fatalf("BulkUpsertMarks() error = %v", err)
	}

	if err := svc.DeleteAssessment(ctx, assessment.ID); err == nil {
		t.Error("expected deletion of an assessment with entries to fail")
	}
}

func TestGetFinalizationStatus(t *testing.T) {
	db := openTestDB(t)
	course, clos, students := seedCourse(t, db)
	svc := NewAssessmentService(db)
	marks := NewMarksService(db)
	ctx := context.Background()

	assessment, err := svc.CreateAssessment(ctx, AssessmentInput{
		CourseID: course.ID,
		Title:    "CT 1",
		Type:     model.AssessmentContinuous,
		Mode:     model.ModeOffline,
		MaxMarks: 30,
		Allocations: []CloAllocationInput{
			{CloID: clos[0].ID, MarksAllocated: 20},
			{CloID: clos[1].ID, MarksAllocated: 10},
		},
	}, 1)
	if err != nil {
		t.Fatalf("CreateAssessment() error = %v", err)
	}

	// One of three students has complete marks, one partial, one none.
	if _, err := marks.BulkUpsertMarks(ctx, assessment.ID, []MarkEntryInput{
		{StudentID: students[0].ID, CloID: clos[0].ID, MarksObtained: 15},
		{StudentID: students[0].ID, CloID: clos[1].ID, MarksObtained: 8},
		{StudentID: students[1].ID, CloID: clos[0].ID, MarksObtained: 10},
	}, 1); err != nil {
		t.Fatalf("BulkUpsertMarks() error = %v", err)
	}

	status, err := svc.GetFinalizationStatus(ctx, assessment.ID)
	if err != nil {
		t.Fatalf("GetFinalizationStatus() error = %v", err)
	}

	if !status.CanFinalize {
		t.Error("draft assessment should be finalizable")
	}
	if status.Statistics.TotalStudents != 3 {
		t.Errorf("TotalStudents = %d, want 3", status.Statistics.TotalStudents)
	}
	// Missing marks warn but never block finalization.
	if status.Statistics.MissingMarks != 2 {
		t.Errorf("MissingMarks = %d, want 2 (partial counts as missing)", status.Statistics.MissingMarks)
	}
	if status.Statistics.PercentageEntered != 33.3 {
		t.Errorf("PercentageEntered = %.1f, want 33.3", status.Statistics.PercentageEntered)
	}

	if _, err := svc.FinalizeAssessment(ctx, assessment.ID, 1); err != nil {
		t.Fatalf("FinalizeAssessment() error = %v", err)
	}
	status, err = svc.GetFinalizationStatus(ctx, assessment.ID)
	if err != nil {
		t.Fatalf("GetFinalizationStatus() error = %v", err)
	}
	if status.CanFinalize {
		t.Error("finalized assessment must not be finalizable again")
	}
}
