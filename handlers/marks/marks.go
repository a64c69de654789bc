package marks

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/outcome-edu/obe-backend/handlers"
	"github.com/outcome-edu/obe-backend/model"
	"github.com/outcome-edu/obe-backend/services"
	"github.com/outcome-edu/obe-backend/utils/middleware"
	"github.com/outcome-edu/obe-backend/utils/response"
	"github.com/outcome-edu/obe-backend/utils/validation"
	"gorm.io/gorm"
)

// MarksHandler handles marks ledger requests
type MarksHandler struct {
	db          *gorm.DB
	validator   *validation.Validator
	marks       *services.MarksService
	performance *services.PerformanceService
}

// NewMarksHandler creates a new marks handler
func NewMarksHandler(db *gorm.DB, performance *services.PerformanceService) *MarksHandler {
	return &MarksHandler{
		db:          db,
		validator:   validation.NewValidator(),
		marks:       services.NewMarksService(db),
		performance: performance,
	}
}

// MarkEntryRequest is one student/CLO cell of the marks sheet
type MarkEntryRequest struct {
	StudentID     uint    `json:"student_id" validate:"required,min=1"`
	CloID         uint    `json:"clo_id" validate:"required,min=1"`
	MarksObtained float64 `json:"marks_obtained" validate:"min=0"`
}

// BulkMarksRequest carries a batch of mark entries for one assessment
type BulkMarksRequest struct {
	Entries []MarkEntryRequest `json:"entries" validate:"required,min=1,max=2000,dive"`
}

// BulkUpsert handles POST /api/v1/assessments/:id/marks. The batch is
// all-or-nothing: any invalid entry rejects the whole request with itemized
// failures.
func (h *MarksHandler) BulkUpsert(c *fiber.Ctx) error {
	assessmentID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid assessment ID")
	}

	assessment, err := h.loadAssessment(c, assessmentID)
	if err != nil {
		return handlers.ServiceError(c, err)
	}

	user, _ := middleware.GetUser(c)

	var req BulkMarksRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, validation.FormatValidationErrors(err))
	}

	entries := make([]services.MarkEntryInput, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, services.MarkEntryInput{
			StudentID:     e.StudentID,
			CloID:         e.CloID,
			MarksObtained: e.MarksObtained,
		})
	}

	written, err := h.marks.BulkUpsertMarks(c.Context(), assessmentID, entries, user.ID)
	if err != nil {
		return handlers.ServiceError(c, err)
	}

	// Any cached report for this course is stale now
	h.performance.InvalidateCourse(c.Context(), assessment.CourseID, assessmentID)

	return response.Success(c, fiber.Map{"entries_written": written})
}

// GetLedger handles GET /api/v1/assessments/:id/marks
func (h *MarksHandler) GetLedger(c *fiber.Ctx) error {
	assessmentID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid assessment ID")
	}

	if _, err := h.loadAssessment(c, assessmentID); err != nil {
		return handlers.ServiceError(c, err)
	}

	ledger, err := h.marks.GetAssessmentMarks(c.Context(), assessmentID)
	if err != nil {
		return handlers.ServiceError(c, err)
	}

	return response.Success(c, ledger)
}

// loadAssessment fetches the assessment and enforces course access. It
// returns sentinel errors; the call site maps them through
// handlers.ServiceError when it aborts.
func (h *MarksHandler) loadAssessment(c *fiber.Ctx, assessmentID uint) (*model.Assessment, error) {
	var assessment model.Assessment
	if err := h.db.First(&assessment, assessmentID).Error; err != nil {
		return nil, err
	}
	if err := handlers.RequireCourseAccess(c, h.db, assessment.CourseID); err != nil {
		return nil, err
	}
	return &assessment, nil
}

func parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(param), 10, 32)
	if err != nil || id == 0 {
		return 0, fiber.ErrBadRequest
	}
	return uint(id), nil
}
