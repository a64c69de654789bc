package marks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/outcome-edu/obe-backend/model"
	"github.com/outcome-edu/obe-backend/services"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

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

type fixture struct {
	course     model.Course
	clos       []model.CourseOutcome
	students   []model.Student
	assessment model.Assessment
	assigned   model.User
	outsider   model.User
}

// seedLedger builds a course with one draft 30-mark assessment, an assigned
// faculty member and a faculty member teaching some other course.
func seedLedger(t *testing.T, db *gorm.DB) fixture {
	t.Helper()

	course := model.Course{Name: "Operating Systems", Code: "CS301", Credits: 4, Semester: 5, Year: 2026}
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
	}
	if err := db.Create(&students).Error; err != nil {
		t.Fatalf("failed to seed students: %v", err)
	}

	assessment := model.Assessment{
		CourseID: course.ID,
		Title:    "Class Test 1",
		Type:     model.AssessmentContinuous,
		Mode:     model.ModeOffline,
		MaxMarks: 30,
		Allocations: []model.AssessmentCloAllocation{
			{CloID: clos[0].ID, MarksAllocated: 20, Threshold: 50},
			{CloID: clos[1].ID, MarksAllocated: 10, Threshold: 60},
		},
	}
	if err := db.Create(&assessment).Error; err != nil {
		t.Fatalf("failed to seed assessment: %v", err)
	}

	assigned := model.User{Email: "chitra@univ.edu", PasswordHash: "x", Name: "Chitra", Role: model.RoleFaculty}
	outsider := model.User{Email: "dinesh@univ.edu", PasswordHash: "x", Name: "Dinesh", Role: model.RoleFaculty}
	if err := db.Create(&assigned).Error; err != nil {
		t.Fatalf("failed to seed faculty: %v", err)
	}
	if err := db.Create(&outsider).Error; err != nil {
		t.Fatalf("failed to seed faculty: %v", err)
	}
	if err := db.Create(&model.FacultyCourse{UserID: assigned.ID, CourseID: course.ID}).Error; err != nil {
		t.Fatalf("failed to assign faculty: %v", err)
	}

	return fixture{course: course, clos: clos, students: students, assessment: assessment, assigned: assigned, outsider: outsider}
}

// newTestApp wires the handler behind a stub auth layer that attaches the
// given user to every request, the way the real middleware does after
// verifying a token.
func newTestApp(h *MarksHandler, user *model.User) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user", user)
		c.Locals("user_id", user.ID)
		c.Locals("user_role", user.Role)
		return c.Next()
	})
	app.Post("/api/v1/assessments/:id/marks", h.BulkUpsert)
	app.Get("/api/v1/assessments/:id/marks", h.GetLedger)
	return app
}

func countEntries(t *testing.T, db *gorm.DB, assessmentID uint) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&model.MarkEntry{}).Where("assessment_id = ?", assessmentID).Count(&n).Error; err != nil {
		t.Fatalf("failed to count mark entries: %v", err)
	}
	return n
}

func TestBulkUpsertForbiddenForUnassignedFaculty(t *testing.T) {
	db := openTestDB(t)
	fx := seedLedger(t, db)
	h := NewMarksHandler(db, services.NewPerformanceService(db, nil))
	app := newTestApp(h, &fx.outsider)

	body, _ := json.Marshal(fiber.Map{
		"entries": []fiber.Map{
			{"student_id": fx.students[0].ID, "clo_id": fx.clos[0].ID, "marks_obtained": 15},
		},
	})
	req := httptest.NewRequest(fiber.MethodPost, fmt.Sprintf("/api/v1/assessments/%d/marks", fx.assessment.ID), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusForbidden)
	}
	if n := countEntries(t, db, fx.assessment.ID); n != 0 {
		t.Errorf("mark entries persisted = %d, want none", n)
	}
}

func TestGetLedgerForbiddenForUnassignedFaculty(t *testing.T) {
	db := openTestDB(t)
	fx := seedLedger(t, db)
	h := NewMarksHandler(db, services.NewPerformanceService(db, nil))
	app := newTestApp(h, &fx.outsider)

	req := httptest.NewRequest(fiber.MethodGet, fmt.Sprintf("/api/v1/assessments/%d/marks", fx.assessment.ID), nil)

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusForbidden)
	}
}

func TestBulkUpsertAllowedForAssignedFaculty(t *testing.T) {
	db := openTestDB(t)
	fx := seedLedger(t, db)
	h := NewMarksHandler(db, services.NewPerformanceService(db, nil))
	app := newTestApp(h, &fx.assigned)

	body, _ := json.Marshal(fiber.Map{
		"entries": []fiber.Map{
			{"student_id": fx.students[0].ID, "clo_id": fx.clos[0].ID, "marks_obtained": 15},
			{"student_id": fx.students[1].ID, "clo_id": fx.clos[0].ID, "marks_obtained": 12},
		},
	})
	req := httptest.NewRequest(fiber.MethodPost, fmt.Sprintf("/api/v1/assessments/%d/marks", fx.assessment.ID), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
	if n := countEntries(t, db, fx.assessment.ID); n != 2 {
		t.Errorf("mark entries persisted = %d, want 2", n)
	}
}
