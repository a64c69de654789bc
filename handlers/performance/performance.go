package performance

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/outcome-edu/obe-backend/handlers"
	"github.com/outcome-edu/obe-backend/model"
	"github.com/outcome-edu/obe-backend/services"
	"github.com/outcome-edu/obe-backend/utils/response"
	"gorm.io/gorm"
)

// PerformanceHandler serves attainment analytics
type PerformanceHandler struct {
	db          *gorm.DB
	performance *services.PerformanceService
	exports     *services.ExportService
}

// NewPerformanceHandler creates a new performance handler
func NewPerformanceHandler(db *gorm.DB, performance *services.PerformanceService, exports *services.ExportService) *PerformanceHandler {
	return &PerformanceHandler{
		db:          db,
		performance: performance,
		exports:     exports,
	}
}

// AssessmentReport handles GET /api/v1/assessments/:id/performance
func (h *PerformanceHandler) AssessmentReport(c *fiber.Ctx) error {
	assessmentID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid assessment ID")
	}

	if err := h.requireAssessmentAccess(c, assessmentID); err != nil {
		return handlers.ServiceError(c, err)
	}

	report, err := h.performance.AnalyzeByAssessment(c.Context(), assessmentID)
	if err != nil {
		return handlers.ServiceError(c, err)
	}

	return response.Success(c, report)
}

// CourseReport handles GET /api/v1/courses/:id/performance
func (h *PerformanceHandler) CourseReport(c *fiber.Ctx) error {
	courseID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid course ID")
	}

	if err := h.requireCourseAccess(c, courseID); err != nil {
		return handlers.ServiceError(c, err)
	}

	report, err := h.performance.AnalyzeCourse(c.Context(), courseID)
	if err != nil {
		return handlers.ServiceError(c, err)
	}

	return response.Success(c, report)
}

// ExportAssessmentReport handles POST /api/v1/assessments/:id/performance/export
func (h *PerformanceHandler) ExportAssessmentReport(c *fiber.Ctx) error {
	assessmentID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid assessment ID")
	}

	if err := h.requireAssessmentAccess(c, assessmentID); err != nil {
		return handlers.ServiceError(c, err)
	}

	result, err := h.exports.ExportAssessmentReport(c.Context(), assessmentID)
	if err != nil {
		if errors.Is(err, services.ErrExportUnavailable) {
			return response.Error(c, fiber.StatusServiceUnavailable, "Report export storage is not configured", "EXPORT_UNAVAILABLE")
		}
		return handlers.ServiceError(c, err)
	}

	return response.Success(c, result)
}

// ExportCourseReport handles POST /api/v1/courses/:id/performance/export
func (h *PerformanceHandler) ExportCourseReport(c *fiber.Ctx) error {
	courseID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid course ID")
	}

	if err := h.requireCourseAccess(c, courseID); err != nil {
		return handlers.ServiceError(c, err)
	}

	result, err := h.exports.ExportCourseReport(c.Context(), courseID)
	if err != nil {
		if errors.Is(err, services.ErrExportUnavailable) {
			return response.Error(c, fiber.StatusServiceUnavailable, "Report export storage is not configured", "EXPORT_UNAVAILABLE")
		}
		return handlers.ServiceError(c, err)
	}

	return response.Success(c, result)
}

// The access guards return sentinel errors; call sites map them through
// handlers.ServiceError when they abort.
func (h *PerformanceHandler) requireAssessmentAccess(c *fiber.Ctx, assessmentID uint) error {
	var assessment model.Assessment
	if err := h.db.First(&assessment, assessmentID).Error; err != nil {
		return err
	}
	return h.requireCourseAccess(c, assessment.CourseID)
}

func (h *PerformanceHandler) requireCourseAccess(c *fiber.Ctx, courseID uint) error {
	return handlers.RequireCourseAccess(c, h.db, courseID)
}

func parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(param), 10, 32)
	if err != nil || id == 0 {
		return 0, fiber.ErrBadRequest
	}
	return uint(id), nil
}
