package course

import (
	"github.com/gofiber/fiber/v2"
	"github.com/outcome-edu/obe-backend/handlers"
	"github.com/outcome-edu/obe-backend/model"
	"github.com/outcome-edu/obe-backend/utils/response"
	"github.com/outcome-edu/obe-backend/utils/validation"
	"gorm.io/gorm"
)

// CreateCloRequest represents the request body for creating a CLO
type CreateCloRequest struct {
	Code                string   `json:"code" validate:"required,min=2,max=20"`
	Statement           string   `json:"statement" validate:"required,min=5"`
	BloomLevel          string   `json:"bloom_level" validate:"required,oneof=REMEMBER UNDERSTAND APPLY ANALYZE EVALUATE CREATE"`
	AttainmentThreshold *float64 `json:"attainment_threshold" validate:"omitempty,min=0,max=100"`
}

// UpdateCloRequest represents the request body for updating a CLO
type UpdateCloRequest struct {
	Statement           string   `json:"statement" validate:"omitempty,min=5"`
	BloomLevel          string   `json:"bloom_level" validate:"omitempty,oneof=REMEMBER UNDERSTAND APPLY ANALYZE EVALUATE CREATE"`
	AttainmentThreshold *float64 `json:"attainment_threshold" validate:"omitempty,min=0,max=100"`
}

// ListClos handles GET /api/v1/courses/:id/clos
func (h *CourseHandler) ListClos(c *fiber.Ctx) error {
	courseID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid course ID")
	}

	if err := h.requireAccess(c, courseID); err != nil {
		return handlers.ServiceError(c, err)
	}

	var clos []model.CourseOutcome
	if err := h.db.Where("course_id = ?", courseID).
		Preload("PoMappings.ProgramOutcome").
		Order("code ASC").
		Find(&clos).Error; err != nil {
		return response.InternalServerError(c, "Failed to fetch course outcomes")
	}

	return response.Success(c, clos)
}

// CreateClo handles POST /api/v1/courses/:id/clos
func (h *CourseHandler) CreateClo(c *fiber.Ctx) error {
	courseID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid course ID")
	}

	var req CreateCloRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, validation.FormatValidationErrors(err))
	}

	var course model.Course
	if err := h.db.First(&course, courseID).Error; err != nil {
		return handlers.ServiceError(c, err)
	}

	req.Code = validation.SanitizeString(req.Code)

	var existing model.CourseOutcome
	if err := h.db.Where("course_id = ? AND code = ?", courseID, req.Code).
		First(&existing).Error; err == nil {
		return response.Conflict(c, "A CLO with this code already exists in the course")
	} else if err != gorm.ErrRecordNotFound {
		return response.InternalServerError(c, "Failed to check existing outcomes")
	}

	clo := model.CourseOutcome{
		CourseID:            courseID,
		Code:                req.Code,
		Statement:           validation.SanitizeString(req.Statement),
		BloomLevel:          model.BloomLevel(req.BloomLevel),
		AttainmentThreshold: model.DefaultAttainmentThreshold,
	}
	if req.AttainmentThreshold != nil {
		clo.AttainmentThreshold = *req.AttainmentThreshold
	}

	if err := h.db.Create(&clo).Error; err != nil {
		return response.InternalServerError(c, "Failed to create course outcome")
	}

	return response.Created(c, clo)
}

// UpdateClo handles PUT /api/v1/courses/:id/clos/:cloId
func (h *CourseHandler) UpdateClo(c *fiber.Ctx) error {
	courseID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid course ID")
	}
	cloID, err := parseID(c, "cloId")
	if err != nil {
		return response.BadRequest(c, "Invalid CLO ID")
	}

	var req UpdateCloRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, validation.FormatValidationErrors(err))
	}

	var clo model.CourseOutcome
	if err := h.db.Where("id = ? AND course_id = ?", cloID, courseID).
		First(&clo).Error; err != nil {
		return handlers.ServiceError(c, err)
	}

	updates := map[string]interface{}{}
	if req.Statement != "" {
		updates["statement"] = validation.SanitizeString(req.Statement)
	}
	if req.BloomLevel != "" {
		updates["bloom_level"] = req.BloomLevel
	}
	if req.AttainmentThreshold != nil {
		updates["attainment_threshold"] = *req.AttainmentThreshold
	}
	if len(updates) == 0 {
		return response.BadRequest(c, "No fields to update")
	}

	if err := h.db.Model(&clo).Updates(updates).Error; err != nil {
		return response.InternalServerError(c, "Failed to update course outcome")
	}

	return response.Success(c, clo)
}

// DeleteClo handles DELETE /api/v1/courses/:id/clos/:cloId
func (h *CourseHandler) DeleteClo(c *fiber.Ctx) error {
	courseID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid course ID")
	}
	cloID, err := parseID(c, "cloId")
	if err != nil {
		return response.BadRequest(c, "Invalid CLO ID")
	}

	var clo model.CourseOutcome
	if err := h.db.Where("id = ? AND course_id = ?", cloID, courseID).
		First(&clo).Error; err != nil {
		return handlers.ServiceError(c, err)
	}

	// A CLO referenced by assessment allocations cannot be removed
	var allocations int64
	if err := h.db.Model(&model.AssessmentCloAllocation{}).
		Where("clo_id = ?", cloID).
		Count(&allocations).Error; err != nil {
		return response.InternalServerError(c, "Failed to check allocations")
	}
	if allocations > 0 {
		return response.Conflict(c, "CLO is used by assessment allocations and cannot be deleted")
	}

	if err := h.db.Delete(&clo).Error; err != nil {
		return response.InternalServerError(c, "Failed to delete course outcome")
	}

	return response.SuccessWithMessage(c, "Course outcome deleted successfully", nil)
}
