package performance

import (
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

// seedCourse builds a course with one draft assessment and a faculty member
// who teaches some other course.
func seedCourse(t *testing.T, db *gorm.DB) (model.Course, model.Assessment, model.User) {
	t.Helper()

	course := model.Course{Name: "Operating Systems", Code: "CS301", Credits: 4, Semester: 5, Year: 2026}
	if err := db.Create(&course).Error; err != nil {
		t.Fatalf("failed to seed course: %v", err)
	}

	clo := model.CourseOutcome{CourseID: course.ID, Code: "CLO1", Statement: "Explain process scheduling policies", BloomLevel: model.BloomUnderstand, AttainmentThreshold: 50}
	if err := db.Create(&clo).Error; err != nil {
		t.Fatalf("failed to seed CLO: %v", err)
	}

	assessment := model.Assessment{
		CourseID: course.ID,
		Title:    "Class Test 1",
		Type:     model.AssessmentContinuous,
		Mode:     model.ModeOffline,
		MaxMarks: 20,
		Allocations: []model.AssessmentCloAllocation{
			{CloID: clo.ID, MarksAllocated: 20, Threshold: 50},
		},
	}
	if err := db.Create(&assessment).Error; err != nil {
		t.Fatalf("failed to seed assessment: %v", err)
	}

	outsider := model.User{Email: "dinesh@univ.edu", PasswordHash: "x", Name: "Dinesh", Role: model.RoleFaculty}
	if err := db.Create(&outsider).Error; err != nil {
		t.Fatalf("failed to seed faculty: %v", err)
	}

	return course, assessment, outsider
}

// newTestApp wires the handler behind a stub auth layer that attaches the
// given user to every request, the way the real middleware does after
// verifying a token.
func newTestApp(db *gorm.DB, user *model.User) *fiber.App {
	performance := services.NewPerformanceService(db, nil)
	h := NewPerformanceHandler(db, performance, services.NewExportService(performance, nil))

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user", user)
		c.Locals("user_id", user.ID)
		c.Locals("user_role", user.Role)
		return c.Next()
	})
	app.Get("/api/v1/assessments/:id/performance", h.AssessmentReport)
	app.Get("/api/v1/courses/:id/performance", h.CourseReport)
	return app
}

func TestAssessmentReportForbiddenForUnassignedFaculty(t *testing.T) {
	db := openTestDB(t)
	_, assessment, outsider := seedCourse(t, db)
	app := newTestApp(db, &outsider)

	req := httptest.NewRequest(fiber.MethodGet, fmt.Sprintf("/api/v1/assessments/%d/performance", assessment.ID), nil)

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusForbidden)
	}
}

func TestCourseReportForbiddenForUnassignedFaculty(t *testing.T) {
	db := openTestDB(t)
	course, _, outsider := seedCourse(t, db)
	app := newTestApp(db, &outsider)

	req := httptest.NewRequest(fiber.MethodGet, fmt.Sprintf("/api/v1/courses/%d/performance", course.ID), nil)

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusForbidden)
	}
}
