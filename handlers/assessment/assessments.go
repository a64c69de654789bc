package assessment

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/outcome-edu/obe-backend/handlers"
	"github.com/outcome-edu/obe-backend/model"
	"github.com/outcome-edu/obe-backend/services"
	"github.com/outcome-edu/obe-backend/utils/middleware"
	"github.com/outcome-edu/obe-backend/utils/response"
	"github.com/outcome-edu/obe-backend/utils/validation"
	"gorm.io/gorm"
)

// AssessmentHandler handles assessment lifecycle requests
type AssessmentHandler struct {
	db          *gorm.DB
	validator   *validation.Validator
	assessments *services.AssessmentService
	performance *services.PerformanceService
}

// NewAssessmentHandler creates a new assessment handler
func NewAssessmentHandler(db *gorm.DB, performance *services.PerformanceService) *AssessmentHandler {
	return &AssessmentHandler{
		db:          db,
		validator:   validation.NewValidator(),
		assessments: services.NewAssessmentService(db),
		performance: performance,
	}
}

// CloAllocationRequest distributes part of the assessment's marks to one CLO.
// Threshold left out of the payload inherits the CLO's default; an explicit
// value, including 0, is kept as given.
type CloAllocationRequest struct {
	CloID          uint     `json:"clo_id" validate:"required,min=1"`
	MarksAllocated float64  `json:"marks_allocated" validate:"min=0"`
	Threshold      *float64 `json:"threshold" validate:"omitempty,min=0,max=100"`
}

// CreateAssessmentRequest represents the request body for creating an assessment
type CreateAssessmentRequest struct {
	Title         string                 `json:"title" validate:"required,min=3,max=255"`
	Type          string                 `json:"type" validate:"required,oneof=CONTINUOUS MID_TERM SEMESTER_END OTHER"`
	Mode          string                 `json:"mode" validate:"omitempty,oneof=OFFLINE ONLINE"`
	MaxMarks      float64                `json:"max_marks" validate:"required,gt=0"`
	ScheduledDate *time.Time             `json:"scheduled_date"`
	Allocations   []CloAllocationRequest `json:"allocations" validate:"required,min=1,dive"`
}

// ValidateDistributionRequest previews whether a candidate max-marks value
// would fit the course's marks budget
type ValidateDistributionRequest struct {
	MaxMarks  float64 `json:"max_marks" validate:"required,gt=0"`
	ExcludeID uint    `json:"exclude_id"`
}

// ListAssessments handles GET /api/v1/courses/:id/assessments
func (h *AssessmentHandler) ListAssessments(c *fiber.Ctx) error {
	courseID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid course ID")
	}

	if err := h.requireAccess(c, courseID); err != nil {
		return handlers.ServiceError(c, err)
	}

	assessments, err := h.assessments.ListAssessments(c.Context(), courseID)
	if err != nil {
		return handlers.ServiceError(c, err)
	}

	return response.Success(c, assessments)
}

// GetAssessment handles GET /api/v1/assessments/:id
func (h *AssessmentHandler) GetAssessment(c *fiber.Ctx) error {
	assessmentID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid assessment ID")
	}

	assessment, err := h.assessments.GetAssessment(c.Context(), assessmentID)
	if err != nil {
		return handlers.ServiceError(c, err)
	}

	if err := h.requireAccess(c, assessment.CourseID); err != nil {
		return handlers.ServiceError(c, err)
	}

	return response.Success(c, assessment)
}

// CreateAssessment handles POST /api/v1/courses/:id/assessments
func (h *AssessmentHandler) CreateAssessment(c *fiber.Ctx) error {
	courseID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid course ID")
	}

	if err := h.requireAccess(c, courseID); err != nil {
		return handlers.ServiceError(c, err)
	}

	user, _ := middleware.GetUser(c)

	var req CreateAssessmentRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, validation.FormatValidationErrors(err))
	}

	assessment, err := h.assessments.CreateAssessment(c.Context(), h.toInput(courseID, req), user.ID)
	if err != nil {
		return handlers.ServiceError(c, err)
	}

	return response.Created(c, assessment)
}

// UpdateAssessment handles PUT /api/v1/assessments/:id
func (h *AssessmentHandler) UpdateAssessment(c *fiber.Ctx) error {
	assessmentID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid assessment ID")
	}

	existing, err := h.assessments.GetAssessment(c.Context(), assessmentID)
	if err != nil {
		return handlers.ServiceError(c, err)
	}
	if err := h.requireAccess(c, existing.CourseID); err != nil {
		return handlers.ServiceError(c, err)
	}

	user, _ := middleware.GetUser(c)

	var req CreateAssessmentRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, validation.FormatValidationErrors(err))
	}

	assessment, err := h.assessments.UpdateAssessment(c.Context(), assessmentID, h.toInput(existing.CourseID, req), user.ID)
	if err != nil {
		return handlers.ServiceError(c, err)
	}

	h.performance.InvalidateCourse(c.Context(), assessment.CourseID, assessment.ID)

	return response.Success(c, assessment)
}

// DeleteAssessment handles DELETE /api/v1/assessments/:id
func (h *AssessmentHandler) DeleteAssessment(c *fiber.Ctx) error {
	assessmentID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid assessment ID")
	}

	existing, err := h.assessments.GetAssessment(c.Context(), assessmentID)
	if err != nil {
		return handlers.ServiceError(c, err)
	}
	if err := h.requireAccess(c, existing.CourseID); err != nil {
		return handlers.ServiceError(c, err)
	}

	if err := h.assessments.DeleteAssessment(c.Context(), assessmentID); err != nil {
		return handlers.ServiceError(c, err)
	}

	h.performance.InvalidateCourse(c.Context(), existing.CourseID, assessmentID)

	return response.SuccessWithMessage(c, "Assessment deleted successfully", nil)
}

// ValidateDistribution handles POST /api/v1/courses/:id/assessments/validate.
// It runs the budget and concentration rules without writing anything, so
// clients can validate a form before submission.
func (h *AssessmentHandler) ValidateDistribution(c *fiber.Ctx) error {
	courseID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid course ID")
	}

	if err := h.requireAccess(c, courseID); err != nil {
		return handlers.ServiceError(c, err)
	}

	var req ValidateDistributionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, validation.FormatValidationErrors(err))
	}

	if err := h.assessments.ValidateDistributionForCourse(c.Context(), courseID, req.MaxMarks, req.ExcludeID); err != nil {
		if verr, ok := services.AsValidationError(err); ok {
			return response.Success(c, fiber.Map{"valid": false, "errors": verr.Errors})
		}
		return handlers.ServiceError(c, err)
	}

	return response.Success(c, fiber.Map{"valid": true})
}

// Finalize handles POST /api/v1/assessments/:id/finalize. Finalization is
// terminal; a second call reports a conflict.
func (h *AssessmentHandler) Finalize(c *fiber.Ctx) error {
	assessmentID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid assessment ID")
	}

	existing, err := h.assessments.GetAssessment(c.Context(), assessmentID)
	if err != nil {
		return handlers.ServiceError(c, err)
	}
	if err := h.requireAccess(c, existing.CourseID); err != nil {
		return handlers.ServiceError(c, err)
	}

	user, _ := middleware.GetUser(c)

	assessment, err := h.assessments.FinalizeAssessment(c.Context(), assessmentID, user.ID)
	if err != nil {
		return handlers.ServiceError(c, err)
	}

	// Reports built before finalization are stale now
	h.performance.InvalidateCourse(c.Context(), assessment.CourseID, assessment.ID)

	return response.Success(c, assessment)
}

// FinalizationStatus handles GET /api/v1/assessments/:id/finalization-status
func (h *AssessmentHandler) FinalizationStatus(c *fiber.Ctx) error {
	assessmentID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid assessment ID")
	}

	existing, err := h.assessments.GetAssessment(c.Context(), assessmentID)
	if err != nil {
		return handlers.ServiceError(c, err)
	}
	if err := h.requireAccess(c, existing.CourseID); err != nil {
		return handlers.ServiceError(c, err)
	}

	status, err := h.assessments.GetFinalizationStatus(c.Context(), assessmentID)
	if err != nil {
		return handlers.ServiceError(c, err)
	}

	return response.Success(c, status)
}

func (h *AssessmentHandler) toInput(courseID uint, req CreateAssessmentRequest) services.AssessmentInput {
	mode := model.AssessmentMode(req.Mode)
	if req.Mode == "" {
		mode = model.ModeOffline
	}

	allocations := make([]services.CloAllocationInput, 0, len(req.Allocations))
	for _, a := range req.Allocations {
		allocations = append(allocations, services.CloAllocationInput{
			CloID:          a.CloID,
			MarksAllocated: a.MarksAllocated,
			Threshold:      a.Threshold,
		})
	}

	return services.AssessmentInput{
		CourseID:      courseID,
		Title:         validation.SanitizeString(req.Title),
		Type:          model.AssessmentType(req.Type),
		Mode:          mode,
		MaxMarks:      req.MaxMarks,
		ScheduledDate: req.ScheduledDate,
		Allocations:   allocations,
	}
}

// requireAccess returns sentinel errors; the call site maps them through
// handlers.ServiceError when it aborts.
func (h *AssessmentHandler) requireAccess(c *fiber.Ctx, courseID uint) error {
	return handlers.RequireCourseAccess(c, h.db, courseID)
}

func parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(param), 10, 32)
	if err != nil || id == 0 {
		return 0, fiber.ErrBadRequest
	}
	return uint(id), nil
}
