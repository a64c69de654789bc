package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/outcome-edu/obe-backend/services"
	"github.com/outcome-edu/obe-backend/utils/response"
	"gorm.io/gorm"
)

// ServiceError maps service-layer errors onto HTTP responses. Validation
// failures carry their itemized field errors through to the client.
func ServiceError(c *fiber.Ctx, err error) error {
	if verr, ok := services.AsValidationError(err); ok {
		return response.ValidationError(c, verr.Errors)
	}

	switch {
	case errors.Is(err, services.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return response.NotFound(c, "Resource not found")
	case errors.Is(err, services.ErrAssessmentFinalized):
		return response.Conflict(c, "Assessment marks have been finalized and can no longer be modified")
	case errors.Is(err, services.ErrAssessmentNotFinalized):
		return response.Conflict(c, "Assessment marks must be finalized first")
	case errors.Is(err, services.ErrForbidden):
		return response.Forbidden(c, "You are not assigned to this course")
	case errors.Is(err, ErrUnauthenticated):
		return response.Unauthorized(c, "Authentication required")
	}

	return response.InternalServerError(c, "An unexpected error occurred")
}
