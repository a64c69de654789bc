package assessment

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

// seedCourse creates a 4-credit course with two CLOs, an assigned faculty
// member and a faculty member teaching some other course.
func seedCourse(t *testing.T, db *gorm.DB) (model.Course, []model.CourseOutcome, model.User, model.User) {
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

	assigned := model.User{Email: "asha@univ.edu", PasswordHash: "x", Name: "Asha", Role: model.RoleFaculty}
	outsider := model.User{Email: "bala@univ.edu", PasswordHash: "x", Name: "Bala", Role: model.RoleFaculty}
	if err := db.Create(&assigned).Error; err != nil {
		t.Fatalf("failed to seed faculty: %v", err)
	}
	if err := db.Create(&outsider).Error; err != nil {
		t.Fatalf("failed to seed faculty: %v", err)
	}
	if err := db.Create(&model.FacultyCourse{UserID: assigned.ID, CourseID: course.ID}).Error; err != nil {
		t.Fatalf("failed to assign faculty: %v", err)
	}

	return course, clos, assigned, outsider
}

// newTestApp wires the handler behind a stub auth layer that attaches the
// given user to every request, the way the real middleware does after
// verifying a token.
func newTestApp(h *AssessmentHandler, user *model.User) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user", user)
		c.Locals("user_id", user.ID)
		c.Locals("user_role", user.Role)
		return c.Next()
	})
	app.Post("/api/v1/courses/:id/assessments", h.CreateAssessment)
	return app
}

func TestCreateAssessmentForbiddenForUnassignedFaculty(t *testing.T) {
	db := openTestDB(t)
	course, clos, _, outsider := seedCourse(t, db)
	h := NewAssessmentHandler(db, services.NewPerformanceService(db, nil))
	app := newTestApp(h, &outsider)

	body, _ := json.Marshal(fiber.Map{
		"title":     "Class Test 1",
		"type":      "CONTINUOUS",
		"max_marks": 20,
		"allocations": []fiber.Map{
			{"clo_id": clos[0].ID, "marks_allocated": 20},
		},
	})
	req := httptest.NewRequest(fiber.MethodPost, fmt.Sprintf("/api/v1/courses/%d/assessments", course.ID), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusForbidden)
	}

	var count int64
	db.Model(&model.Assessment{}).Count(&count)
	if count != 0 {
		t.Errorf("assessments persisted = %d, want none", count)
	}
}

func TestCreateAssessmentAllowedForAssignedFaculty(t *testing.T) {
	db := openTestDB(t)
	course, clos, assigned, _ := seedCourse(t, db)
	h := NewAssessmentHandler(db, services.NewPerformanceService(db, nil))
	app := newTestApp(h, &assigned)

	body, _ := json.Marshal(fiber.Map{
		"title":     "Class Test 1",
		"type":      "CONTINUOUS",
		"max_marks": 20,
		"allocations": []fiber.Map{
			{"clo_id": clos[0].ID, "marks_allocated": 20},
		},
	})
	req := httptest.NewRequest(fiber.MethodPost, fmt.Sprintf("/api/v1/courses/%d/assessments", course.ID), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusCreated)
	}

	var count int64
	db.Model(&model.Assessment{}).Where("course_id = ?", course.ID).Count(&count)
	if count != 1 {
		t.Errorf("assessments persisted = %d, want 1", count)
	}
}
