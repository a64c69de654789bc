package services

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/outcome-edu/obe-backend/model"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openTestDB returns an isolated in-memory database with the full schema
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	err = db.AutoMigrate(
		&model.User{},
		&model.FacultyCourse{},
		&model.Course{},
		&model.CourseOutcome{},
		&model.ProgramOutcome{},
		&model.CloPoMapping{},
		&model.Student{},
		&model.Assessment{},
		&model.AssessmentCloAllocation{},
		&model.MarkEntry{},
		&model.AttainmentSnapshot{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

// seedCourse creates a 4-credit course (100-mark budget) with two CLOs and
// three enrolled students.
func seedCourse(t *testing.T, db *gorm.DB) (model.Course, []model.CourseOutcome, []model.Student) {
	t.Helper()

	course := model.Course{
		Name:     "Operating Systems",
		Code:     "CS301",
		Credits:  4,
		Semester: 5,
		Year:     2026,
	}
	if err := db.Create(&course).Error; err != nil {
		t.Fatalf("failed to seed course: %v", err)
	}

	clos := []model.CourseOutcome{
		{CourseID: course.ID, Code: "CLO1", Statement: "Explain process scheduling policies", BloomLevel: model.BloomUnderstand, AttainmentThreshold: 50},
		{CourseID: course.ID, Code: "CLO2", Statement: "Design a page replacement strategy", BloomLevel: model.BloomCreate, AttainmentThreshold: 60},
	}
	if err := db.Create(&clos).Error; err != nil {
		t.Fatalf("failed to seed CLOs: %v", err)
	}

	students := []model.Student{
		{CourseID: course.ID, RollNumber: "R001", Name: "Asha"},
		{CourseID: course.ID, RollNumber: "R002", Name: "Bala"},
		{CourseID: course.ID, RollNumber: "R003", Name: "Chitra"},
	}
	if err := db.Create(&students).Error; err != nil {
		t.Fatalf("failed to seed students: %v", err)
	}

	return course, clos, students
}

// pct builds an explicit threshold override for allocation inputs
func pct(v float64) *float64 {
	return &v
}
