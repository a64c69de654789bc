package auth

import (
	"github.com/gofiber/fiber/v2"
	"github.com/outcome-edu/obe-backend/model"
	authutil "github.com/outcome-edu/obe-backend/utils/auth"
	"github.com/outcome-edu/obe-backend/utils/response"
	"github.com/outcome-edu/obe-backend/utils/validation"
	"gorm.io/gorm"
)

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required,min=8"`
	Name       string `json:"name" validate:"required,min=2,max=255"`
	Role       string `json:"role" validate:"omitempty,oneof=admin hod faculty"`
	Department string `json:"department" validate:"omitempty,max=100"`
}

// RegisterResponse represents a successful registration response
type RegisterResponse struct {
	User         UserResponse `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int          `json:"expires_in"` // in seconds
}

// Register handles user registration
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, validation.FormatValidationErrors(err))
	}

	// Validate password strength
	if ok, problems := validation.ValidatePassword(req.Password); !ok {
		return response.ErrorWithDetails(c, fiber.StatusBadRequest, "Password does not meet requirements", "WEAK_PASSWORD", problems)
	}

	// Default role is faculty
	if req.Role == "" {
		req.Role = model.RoleFaculty
	}

	req.Name = validation.SanitizeString(req.Name)
	req.Department = validation.SanitizeString(req.Department)

	// Check for an existing account
	var existing model.User
	if err := h.db.Where("email = ?", req.Email).First(&existing).Error; err == nil {
		return response.Conflict(c, "An account with this email already exists")
	} else if err != gorm.ErrRecordNotFound {
		return response.InternalServerError(c, "Failed to check existing users")
	}

	passwordHash, err := authutil.HashPassword(req.Password)
	if err != nil {
		return response.InternalServerError(c, "Failed to process password")
	}

	user := model.User{
		Email:        req.Email,
		PasswordHash: passwordHash,
		Name:         req.Name,
		Role:         req.Role,
		Department:   req.Department,
	}

	if err := h.db.Create(&user).Error; err != nil {
		return response.InternalServerError(c, "Failed to create user")
	}

	accessToken, _, err := h.jwtManager.GenerateAccessToken(user.ID, user.Email, user.Role, user.TokenVersion)
	if err != nil {
		return response.InternalServerError(c, "Failed to generate access token")
	}

	refreshToken, _, err := h.jwtManager.GenerateRefreshToken(user.ID, user.Email, user.Role, user.TokenVersion)
	if err != nil {
		return response.InternalServerError(c, "Failed to generate refresh token")
	}

	res := RegisterResponse{
		User:         newUserResponse(&user),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(h.jwtManager.AccessTokenExpiry().Seconds()),
	}

	return response.Created(c, res)
}
