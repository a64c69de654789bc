package auth

import (
	"github.com/gofiber/fiber/v2"
	"github.com/outcome-edu/obe-backend/model"
	authutil "github.com/outcome-edu/obe-backend/utils/auth"
	"github.com/outcome-edu/obe-backend/utils/middleware"
	"github.com/outcome-edu/obe-backend/utils/response"
	"github.com/outcome-edu/obe-backend/utils/validation"
)

// UpdateProfileRequest represents a profile update request
type UpdateProfileRequest struct {
	Name       string `json:"name" validate:"omitempty,min=2,max=255"`
	Department string `json:"department" validate:"omitempty,max=100"`
}

// ChangePasswordRequest represents a password change request
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

// Profile returns the authenticated user's profile
func (h *AuthHandler) Profile(c *fiber.Ctx) error {
	user, ok := middleware.GetUser(c)
	if !ok || user == nil {
		return response.Unauthorized(c, "Authentication required")
	}

	return response.Success(c, newUserResponse(user))
}

// UpdateProfile updates mutable profile fields
func (h *AuthHandler) UpdateProfile(c *fiber.Ctx) error {
	user, ok := middleware.GetUser(c)
	if !ok || user == nil {
		return response.Unauthorized(c, "Authentication required")
	}

	var req UpdateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, validation.FormatValidationErrors(err))
	}

	updates := map[string]interface{}{}
	if req.Name != "" {
		updates["name"] = validation.SanitizeString(req.Name)
	}
	if req.Department != "" {
		updates["department"] = validation.SanitizeString(req.Department)
	}
	if len(updates) == 0 {
		return response.BadRequest(c, "No fields to update")
	}

	if err := h.db.Model(user).Updates(updates).Error; err != nil {
		return response.InternalServerError(c, "Failed to update profile")
	}

	return response.Success(c, newUserResponse(user))
}

// ChangePassword verifies the current password and replaces it. All existing
// sessions are invalidated afterwards.
func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	user, ok := middleware.GetUser(c)
	if !ok || user == nil {
		return response.Unauthorized(c, "Authentication required")
	}

	var req ChangePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, validation.FormatValidationErrors(err))
	}

	if err := authutil.VerifyPassword(user.PasswordHash, req.CurrentPassword); err != nil {
		return response.Unauthorized(c, "Current password is incorrect")
	}

	if ok, problems := validation.ValidatePassword(req.NewPassword); !ok {
		return response.ErrorWithDetails(c, fiber.StatusBadRequest, "Password does not meet requirements", "WEAK_PASSWORD", problems)
	}

	newHash, err := authutil.HashPassword(req.NewPassword)
	if err != nil {
		return response.InternalServerError(c, "Failed to process password")
	}

	if err := h.db.Model(&model.User{}).Where("id = ?", user.ID).
		Updates(map[string]interface{}{
			"password_hash": newHash,
			"token_version": user.TokenVersion + 1,
		}).Error; err != nil {
		return response.InternalServerError(c, "Failed to change password")
	}

	return response.SuccessWithMessage(c, "Password changed successfully. Please log in again.", nil)
}
