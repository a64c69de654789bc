package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/outcome-edu/obe-backend/model"
	"gorm.io/gorm"
)

// seedAssessment creates a draft 30-mark assessment with 20 marks on CLO1 and
// 10 on CLO2.
func seedAssessment(t *testing.T, db *gorm.DB, course model.Course, clos []model.CourseOutcome) *model.Assessment {
	t.Helper()

	assessment, err := NewAssessmentService(db).CreateAssessment(context.Background(), AssessmentInput{
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
		t.Fatalf("failed to seed assessment: %v", err)
	}
	return assessment
}

func countEntries(t *testing.T, db *gorm.DB, assessmentID uint) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&model.MarkEntry{}).Where("assessment_id = ?", assessmentID).Count(&n).Error; err != nil {
		t.Fatalf("failed to count mark entries: %v", err)
	}
	return n
}

func TestBulkUpsertMarksWritesBatch(t *testing.T) {
	db := openTestDB(t)
	course, clos, students := seedCourse(t, db)
	assessment := seedAssessment(t, db, course, clos)
	svc := NewMarksService(db)
	ctx := context.Background()

	saved, err := svc.BulkUpsertMarks(ctx, assessment.ID, []MarkEntryInput{
		{StudentID: students[0].ID, CloID: clos[0].ID, MarksObtained: 15},
		{StudentID: students[0].ID, CloID: clos[1].ID, MarksObtained: 8},
		{StudentID: students[1].ID, CloID: clos[0].ID, MarksObtained: 11.5},
	}, 7)
	if err != nil {
		t.Fatalf("BulkUpsertMarks() error = %v", err)
	}
	if saved != 3 {
		t.Errorf("saved = %d, want 3", saved)
	}
	if n := countEntries(t, db, assessment.ID); n != 3 {
		t.Errorf("stored entries = %d, want 3", n)
	}

	var entry model.MarkEntry
	if err := db.Where("assessment_id = ? AND student_id = ? AND clo_id = ?",
		assessment.ID, students[1].ID, clos[0].ID).First(&entry).Error; err != nil {
		t.Fatalf("failed to load entry: %v", err)
	}
	if entry.MarksObtained != 11.5 {
		t.Errorf("MarksObtained = %.1f, want 11.5", entry.MarksObtained)
	}
	if entry.EnteredBy != 7 {
		t.Errorf("EnteredBy = %d, want 7", entry.EnteredBy)
	}
}

func TestBulkUpsertMarksIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	course, clos, students := seedCourse(t, db)
	assessment := seedAssessment(t, db, course, clos)
	svc := NewMarksService(db)
	ctx := context.Background()

	batch := []MarkEntryInput{
		{StudentID: students[0].ID, CloID: clos[0].ID, MarksObtained: 15},
	}
	if _, err := svc.BulkUpsertMarks(ctx, assessment.ID, batch, 1); err != nil {
		t.Fatalf("first batch error = %v", err)
	}
	// Replaying the same key overwrites instead of duplicating.
	batch[0].MarksObtained = 17
	if _, err := svc.BulkUpsertMarks(ctx, assessment.ID, batch, 2); err != nil {
		t.Fatalf("replay error = %v", err)
	}

	if n := countEntries(t, db, assessment.ID); n != 1 {
		t.Fatalf("stored entries = %d, want 1", n)
	}
	var entry model.MarkEntry
	if err := db.Where("assessment_id = ?", assessment.ID).First(&entry).Error; err != nil {
		t.Fatalf("failed to load entry: %v", err)
	}
	if entry.MarksObtained != 17 {
		t.Errorf("MarksObtained = %.1f, want the replayed 17", entry.MarksObtained)
	}
	if entry.EnteredBy != 2 {
		t.Errorf("EnteredBy = %d, want the replaying actor 2", entry.EnteredBy)
	}
}

func TestBulkUpsertMarksAllOrNothing(t *testing.T) {
	db := openTestDB(t)
	course, clos, students := seedCourse(t, db)
	assessment := seedAssessment(t, db, course, clos)
	svc := NewMarksService(db)
	ctx := context.Background()

	// The first entry is valid; the rest each violate one rule. None may be
	// written.
	_, err := svc.BulkUpsertMarks(ctx, assessment.ID, []MarkEntryInput{
		{StudentID: students[0].ID, CloID: clos[0].ID, MarksObtained: 15},
		{StudentID: 9999, CloID: clos[0].ID, MarksObtained: 10},                   // not enrolled
		{StudentID: students[1].ID, CloID: 9999, MarksObtained: 5},                // CLO not allocated
		{StudentID: students[1].ID, CloID: clos[1].ID, MarksObtained: 12},         // above the 10 allocated
		{StudentID: students[2].ID, CloID: clos[0].ID, MarksObtained: -1},         // negative
		{StudentID: students[0].ID, CloID: clos[0].ID, MarksObtained: 16},         // duplicate key in batch
	}, 1)

	verr, ok := AsValidationError(err)
	if !ok {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(verr.Errors) < 5 {
		t.Errorf("itemized errors = %d, want at least 5: %v", len(verr.Errors), verr.Errors)
	}
	for _, fe := range verr.Errors {
		if !strings.HasPrefix(fe.Field, "entries[") {
			t.Errorf("field %q is not itemized per entry", fe.Field)
		}
	}

	if n := countEntries(t, db, assessment.ID); n != 0 {
		t.Errorf("stored entries = %d, want 0 after a rejected batch", n)
	}
}

func TestBulkUpsertMarksRejectsEmptyBatch(t *testing.T) {
	db := openTestDB(t)
	course, clos, _ := seedCourse(t, db)
	assessment := seedAssessment(t, db, course, clos)

	_, err := NewMarksService(db).BulkUpsertMarks(context.Background(), assessment.ID, nil, 1)
	if _, ok := AsValidationError(err); !ok {
		t.Errorf("expected validation error for empty batch, got %v", err)
	}
}

func TestBulkUpsertMarksAfterFinalize(t *testing.T) {
	db := openTestDB(t)
	course, clos, students := seedCourse(t, db)
	assessment := seedAssessment(t, db, course, clos)
	ctx := context.Background()

	if _, err := NewAssessmentService(db).FinalizeAssessment(ctx, assessment.ID, 1); err != nil {
		t.Fatalf("FinalizeAssessment() error = %v", err)
	}

	_, err := NewMarksService(db).BulkUpsertMarks(ctx, assessment.ID, []MarkEntryInput{
		{StudentID: students[0].ID, CloID: clos[0].ID, MarksObtained: 15},
	}, 1)
	if !errors.Is(err, ErrAssessmentFinalized) {
		t.Errorf("error = %v, want ErrAssessmentFinalized", err)
	}
	if n := countEntries(t, db, assessment.ID); n != 0 {
		t.Errorf("stored entries = %d, want 0 after finalize", n)
	}
}

func TestBulkUpsertMarksUnknownAssessment(t *testing.T) {
	db := openTestDB(t)
	seedCourse(t, db)

	_, err := NewMarksService(db).BulkUpsertMarks(context.Background(), 9999, []MarkEntryInput{
		{StudentID: 1, CloID: 1, MarksObtained: 5},
	}, 1)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestGetAssessmentMarksLedgerView(t *testing.T) {
	db := openTestDB(t)
	course, clos, students := seedCourse(t, db)
	assessment := seedAssessment(t, db, course, clos)
	svc := NewMarksService(db)
	ctx := context.Background()

	// Asha complete, Bala partial, Chitra untouched.
	if _, err := svc.BulkUpsertMarks(ctx, assessment.ID, []MarkEntryInput{
		{StudentID: students[0].ID, CloID: clos[0].ID, MarksObtained: 15},
		{StudentID: students[0].ID, CloID: clos[1].ID, MarksObtained: 8},
		{StudentID: students[1].ID, CloID: clos[0].ID, MarksObtained: 10},
	}, 1); err != nil {
		t.Fatalf("BulkUpsertMarks() error = %v", err)
	}

	ledger, err := svc.GetAssessmentMarks(ctx, assessment.ID)
	if err != nil {
		t.Fatalf("GetAssessmentMarks() error = %v", err)
	}

	if len(ledger.Clos) != 2 {
		t.Fatalf("len(Clos) = %d, want 2", len(ledger.Clos))
	}
	if len(ledger.Students) != 3 {
		t.Fatalf("len(Students) = %d, want every enrolled student", len(ledger.Students))
	}

	byRoll := make(map[string]StudentMarks, len(ledger.Students))
	for _, s := range ledger.Students {
		byRoll[s.RollNumber] = s
	}

	asha := byRoll["R001"]
	if got := asha.MarksByClo[clos[0].ID]; got == nil || *got != 15 {
		t.Errorf("Asha CLO1 = %v, want 15", got)
	}
	if got := asha.MarksByClo[clos[1].ID]; got == nil || *got != 8 {
		t.Errorf("Asha CLO2 = %v, want 8", got)
	}

	bala := byRoll["R002"]
	if got := bala.MarksByClo[clos[1].ID]; got != nil {
		t.Errorf("Bala CLO2 = %v, want nil for a missing entry", *got)
	}

	chitra := byRoll["R003"]
	for cloID, got := range chitra.MarksByClo {
		if got != nil {
			t.Errorf("Chitra CLO %d = %v, want nil", cloID, *got)
		}
	}

	// Only Asha has a complete row.
	if ledger.Statistics.TotalStudents != 3 {
		t.Errorf("TotalStudents = %d, want 3", ledger.Statistics.TotalStudents)
	}
	if ledger.Statistics.MissingMarks != 2 {
		t.Errorf("MissingMarks = %d, want 2", ledger.Statistics.MissingMarks)
	}
	if ledger.Statistics.PercentageEntered != 33.3 {
		t.Errorf("PercentageEntered = %.1f, want 33.3", ledger.Statistics.PercentageEntered)
	}
}

func TestGetAssessmentMarksUnknownAssessment(t *testing.T) {
	db := openTestDB(t)
	seedCourse(t, db)

	_, err := NewMarksService(db).GetAssessmentMarks(context.Background(), 9999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}
