package handlers

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/outcome-edu/obe-backend/model"
	"github.com/outcome-edu/obe-backend/services"
	"github.com/outcome-edu/obe-backend/utils/middleware"
	"gorm.io/gorm"
)

// ErrUnauthenticated is returned when no authenticated user is attached to
// the request context.
var ErrUnauthenticated = errors.New("authentication required")

// CanAccessCourse reports whether the user may work with the given course.
// Admins and HODs can access every course; faculty only the courses they
// are assigned to teach.
func CanAccessCourse(db *gorm.DB, user *model.User, courseID uint) (bool, error) {
	if user == nil {
		return false, nil
	}
	if user.IsHOD() {
		return true, nil
	}

	var count int64
	if err := db.Model(&model.FacultyCourse{}).
		Where("user_id = ? AND course_id = ?", user.ID, courseID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("check course assignment: %w", err)
	}
	return count > 0, nil
}

// RequireCourseAccess enforces the course access rule for the current request.
// It returns sentinel errors instead of writing the HTTP response; a response
// helper's return value is nil on a successfully written body, so a guard
// built on one never aborts its caller. Handlers map the sentinels through
// ServiceError at the point they actually return.
func RequireCourseAccess(c *fiber.Ctx, db *gorm.DB, courseID uint) error {
	user, ok := middleware.GetUser(c)
	if !ok || user == nil {
		return ErrUnauthenticated
	}
	allowed, err := CanAccessCourse(db, user, courseID)
	if err != nil {
		return err
	}
	if !allowed {
		return services.ErrForbidden
	}
	return nil
}
