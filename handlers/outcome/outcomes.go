package outcome

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/outcome-edu/obe-backend/handlers"
	"github.com/outcome-edu/obe-backend/model"
	"github.com/outcome-edu/obe-backend/utils/response"
	"github.com/outcome-edu/obe-backend/utils/validation"
	"gorm.io/gorm"
)

// OutcomeHandler handles program outcome (PO/PSO) requests
type OutcomeHandler struct {
	db        *gorm.DB
	validator *validation.Validator
}

// NewOutcomeHandler creates a new program outcome handler
func NewOutcomeHandler(db *gorm.DB) *OutcomeHandler {
	return &OutcomeHandler{
		db:        db,
		validator: validation.NewValidator(),
	}
}

// CreateOutcomeRequest represents the request body for creating a PO/PSO
type CreateOutcomeRequest struct {
	Code      string `json:"code" validate:"required,min=2,max=20"`
	Statement string `json:"statement" validate:"required,min=5"`
	Type      string `json:"type" validate:"required,oneof=PO PSO"`
}

// UpdateOutcomeRequest represents the request body for updating a PO/PSO
type UpdateOutcomeRequest struct {
	Statement string `json:"statement" validate:"omitempty,min=5"`
}

// MapCloRequest correlates a CLO with this program outcome
type MapCloRequest struct {
	CloID            uint `json:"clo_id" validate:"required,min=1"`
	CorrelationLevel int  `json:"correlation_level" validate:"required,min=1,max=3"`
}

// ListOutcomes handles GET /api/v1/outcomes
func (h *OutcomeHandler) ListOutcomes(c *fiber.Ctx) error {
	outcomeType := c.Query("type", "")

	query := h.db.Model(&model.ProgramOutcome{})
	if outcomeType != "" {
		query = query.Where("type = ?", outcomeType)
	}

	var outcomes []model.ProgramOutcome
	if err := query.Order("code ASC").Find(&outcomes).Error; err != nil {
		return response.InternalServerError(c, "Failed to fetch program outcomes")
	}

	return response.Success(c, outcomes)
}

// CreateOutcome handles POST /api/v1/outcomes
func (h *OutcomeHandler) CreateOutcome(c *fiber.Ctx) error {
	var req CreateOutcomeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, validation.FormatValidationErrors(err))
	}

	req.Code = validation.SanitizeString(req.Code)

	var existing model.ProgramOutcome
	if err := h.db.Where("code = ?", req.Code).First(&existing).Error; err == nil {
		return response.Conflict(c, "A program outcome with this code already exists")
	} else if err != gorm.ErrRecordNotFound {
		return response.InternalServerError(c, "Failed to check existing outcomes")
	}

	outcome := model.ProgramOutcome{
		Code:      req.Code,
		Statement: validation.SanitizeString(req.Statement),
		Type:      req.Type,
	}

	if err := h.db.Create(&outcome).Error; err != nil {
		return response.InternalServerError(c, "Failed to create program outcome")
	}

	return response.Created(c, outcome)
}

// UpdateOutcome handles PUT /api/v1/outcomes/:id
func (h *OutcomeHandler) UpdateOutcome(c *fiber.Ctx) error {
	outcomeID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid outcome ID")
	}

	var req UpdateOutcomeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, validation.FormatValidationErrors(err))
	}
	if req.Statement == "" {
		return response.BadRequest(c, "No fields to update")
	}

	var outcome model.ProgramOutcome
	if err := h.db.First(&outcome, outcomeID).Error; err != nil {
		return handlers.ServiceError(c, err)
	}

	if err := h.db.Model(&outcome).
		Update("statement", validation.SanitizeString(req.Statement)).Error; err != nil {
		return response.InternalServerError(c, "Failed to update program outcome")
	}

	return response.Success(c, outcome)
}

// DeleteOutcome handles DELETE /api/v1/outcomes/:id
func (h *OutcomeHandler) DeleteOutcome(c *fiber.Ctx) error {
	outcomeID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid outcome ID")
	}

	var outcome model.ProgramOutcome
	if err := h.db.First(&outcome, outcomeID).Error; err != nil {
		return handlers.ServiceError(c, err)
	}

	var mappings int64
	if err := h.db.Model(&model.CloPoMapping{}).
		Where("program_outcome_id = ?", outcomeID).
		Count(&mappings).Error; err != nil {
		return response.InternalServerError(c, "Failed to check mappings")
	}
	if mappings > 0 {
		return response.Conflict(c, "Program outcome is mapped to CLOs and cannot be deleted")
	}

	if err := h.db.Delete(&outcome).Error; err != nil {
		return response.InternalServerError(c, "Failed to delete program outcome")
	}

	return response.SuccessWithMessage(c, "Program outcome deleted successfully", nil)
}

// MapClo handles POST /api/v1/outcomes/:id/mappings
func (h *OutcomeHandler) MapClo(c *fiber.Ctx) error {
	outcomeID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid outcome ID")
	}

	var req MapCloRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, validation.FormatValidationErrors(err))
	}

	var outcome model.ProgramOutcome
	if err := h.db.First(&outcome, outcomeID).Error; err != nil {
		return handlers.ServiceError(c, err)
	}

	var clo model.CourseOutcome
	if err := h.db.First(&clo, req.CloID).Error; err != nil {
		return response.NotFound(c, "CLO not found")
	}

	mapping := model.CloPoMapping{
		CloID:            req.CloID,
		ProgramOutcomeID: outcomeID,
		CorrelationLevel: req.CorrelationLevel,
	}

	// Upsert on the composite key so re-mapping adjusts the level
	result := h.db.Where("clo_id = ? AND program_outcome_id = ?", req.CloID, outcomeID).
		Assign(model.CloPoMapping{CorrelationLevel: req.CorrelationLevel}).
		FirstOrCreate(&mapping)
	if result.Error != nil {
		return response.InternalServerError(c, "Failed to map CLO")
	}

	return response.Created(c, mapping)
}

// UnmapClo handles DELETE /api/v1/outcomes/:id/mappings/:cloId
func (h *OutcomeHandler) UnmapClo(c *fiber.Ctx) error {
	outcomeID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid outcome ID")
	}
	cloID, err := parseID(c, "cloId")
	if err != nil {
		return response.BadRequest(c, "Invalid CLO ID")
	}

	result := h.db.Where("clo_id = ? AND program_outcome_id = ?", cloID, outcomeID).
		Delete(&model.CloPoMapping{})
	if result.Error != nil {
		return response.InternalServerError(c, "Failed to remove mapping")
	}
	if result.RowsAffected == 0 {
		return response.NotFound(c, "Mapping not found")
	}

	return response.SuccessWithMessage(c, "Mapping removed", nil)
}

func parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(param), 10, 32)
	if err != nil || id == 0 {
		return 0, fiber.ErrBadRequest
	}
	return uint(id), nil
}
