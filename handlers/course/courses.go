package course

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/outcome-edu/obe-backend/handlers"
	"github.com/outcome-edu/obe-backend/model"
	"github.com/outcome-edu/obe-backend/utils/middleware"
	"github.com/outcome-edu/obe-backend/utils/response"
	"github.com/outcome-edu/obe-backend/utils/validation"
	"gorm.io/gorm"
)

// CourseHandler handles course-related requests
type CourseHandler struct {
	db        *gorm.DB
	validator *validation.Validator
}

// NewCourseHandler creates a new course handler
func NewCourseHandler(db *gorm.DB) *CourseHandler {
	return &CourseHandler{
		db:        db,
		validator: validation.NewValidator(),
	}
}

// CreateCourseRequest represents the request body for creating a course
type CreateCourseRequest struct {
	Name     string `json:"name" validate:"required,min=3,max=255"`
	Code     string `json:"code" validate:"required,min=2,max=50"`
	Credits  int    `json:"credits" validate:"required,min=1,max=10"`
	Semester int    `json:"semester" validate:"required,min=1,max=12"`
	Year     int    `json:"year" validate:"required,min=2000,max=2100"`
}

// UpdateCourseRequest represents the request body for updating a course
type UpdateCourseRequest struct {
	Name     string `json:"name" validate:"omitempty,min=3,max=255"`
	Code     string `json:"code" validate:"omitempty,min=2,max=50"`
	Credits  *int   `json:"credits" validate:"omitempty,min=1,max=10"`
	Semester *int   `json:"semester" validate:"omitempty,min=1,max=12"`
	Year     *int   `json:"year" validate:"omitempty,min=2000,max=2100"`
}

// AssignFacultyRequest assigns a faculty member to teach a course
type AssignFacultyRequest struct {
	UserID uint `json:"user_id" validate:"required,min=1"`
}

// BudgetSummary describes how much of a course's marks budget is in use
type BudgetSummary struct {
	TotalBudget     float64 `json:"total_budget"`
	Allocated       float64 `json:"allocated"`
	Remaining       float64 `json:"remaining"`
	AssessmentCount int     `json:"assessment_count"`
}

// ListCourses handles GET /api/v1/courses
func (h *CourseHandler) ListCourses(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "10"))
	search := c.Query("search", "")
	semester := c.Query("semester", "")

	user, ok := middleware.GetUser(c)
	if !ok || user == nil {
		return response.Unauthorized(c, "Authentication required")
	}

	query := h.db.Model(&model.Course{})

	// Faculty only see their assigned courses
	if !user.IsHOD() {
		query = query.Joins("JOIN faculty_courses fc ON fc.course_id = courses.id AND fc.user_id = ?", user.ID)
	}

	if search != "" {
		query = query.Where("name ILIKE ? OR code ILIKE ?", "%"+search+"%", "%"+search+"%")
	}
	if semester != "" {
		query = query.Where("semester = ?", semester)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return response.InternalServerError(c, "Failed to count courses")
	}

	offset := (page - 1) * limit
	pagination := response.CalculatePagination(page, limit, total)

	var courses []model.Course
	if err := query.Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&courses).Error; err != nil {
		return response.InternalServerError(c, "Failed to fetch courses")
	}

	return response.Paginated(c, courses, pagination)
}

// GetCourse handles GET /api/v1/courses/:id
func (h *CourseHandler) GetCourse(c *fiber.Ctx) error {
	courseID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid course ID")
	}

	if err := h.requireAccess(c, courseID); err != nil {
		return handlers.ServiceError(c, err)
	}

	var course model.Course
	if err := h.db.Preload("Outcomes").
		Preload("Assessments").
		First(&course, courseID).Error; err != nil {
		return handlers.ServiceError(c, err)
	}

	return response.Success(c, course)
}

// CreateCourse handles POST /api/v1/courses
func (h *CourseHandler) CreateCourse(c *fiber.Ctx) error {
	user, ok := middleware.GetUser(c)
	if !ok || user == nil {
		return response.Unauthorized(c, "Authentication required")
	}

	var req CreateCourseRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, validation.FormatValidationErrors(err))
	}

	req.Name = validation.SanitizeString(req.Name)
	req.Code = validation.SanitizeString(req.Code)

	var existing model.Course
	if err := h.db.Where("code = ?", req.Code).First(&existing).Error; err == nil {
		return response.Conflict(c, "A course with this code already exists")
	} else if err != gorm.ErrRecordNotFound {
		return response.InternalServerError(c, "Failed to check existing courses")
	}

	course := model.Course{
		Name:      req.Name,
		Code:      req.Code,
		Credits:   req.Credits,
		Semester:  req.Semester,
		Year:      req.Year,
		CreatedBy: user.ID,
	}

	if err := h.db.Create(&course).Error; err != nil {
		return response.InternalServerError(c, "Failed to create course")
	}

	return response.Created(c, course)
}

// UpdateCourse handles PUT /api/v1/courses/:id
func (h *CourseHandler) UpdateCourse(c *fiber.Ctx) error {
	courseID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid course ID")
	}

	var req UpdateCourseRequest
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

	updates := map[string]interface{}{}
	if req.Name != "" {
		updates["name"] = validation.SanitizeString(req.Name)
	}
	if req.Code != "" {
		updates["code"] = validation.SanitizeString(req.Code)
	}
	if req.Semester != nil {
		updates["semester"] = *req.Semester
	}
	if req.Year != nil {
		updates["year"] = *req.Year
	}

	// Shrinking credits shrinks the marks budget; refuse when assessments
	// already use more than the reduced budget would allow.
	if req.Credits != nil && *req.Credits != course.Credits {
		newBudget := float64(*req.Credits * model.MarksPerCredit)

		var allocated float64
		if err := h.db.Model(&model.Assessment{}).
			Where("course_id = ?", courseID).
			Select("COALESCE(SUM(max_marks), 0)").
			Scan(&allocated).Error; err != nil {
			return response.InternalServerError(c, "Failed to compute allocated marks")
		}
		if allocated > newBudget {
			return response.Conflict(c, "Existing assessments exceed the reduced marks budget")
		}
		updates["credits"] = *req.Credits
	}

	if len(updates) == 0 {
		return response.BadRequest(c, "No fields to update")
	}

	if err := h.db.Model(&course).Updates(updates).Error; err != nil {
		return response.InternalServerError(c, "Failed to update course")
	}

	return response.Success(c, course)
}

// DeleteCourse handles DELETE /api/v1/courses/:id
func (h *CourseHandler) DeleteCourse(c *fiber.Ctx) error {
	courseID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid course ID")
	}

	var course model.Course
	if err := h.db.First(&course, courseID).Error; err != nil {
		return handlers.ServiceError(c, err)
	}

	// Refuse deletion once any assessment has been finalized
	var finalized int64
	if err := h.db.Model(&model.Assessment{}).
		Where("course_id = ? AND is_marks_finalized = ?", courseID, true).
		Count(&finalized).Error; err != nil {
		return response.InternalServerError(c, "Failed to check assessments")
	}
	if finalized > 0 {
		return response.Conflict(c, "Cannot delete a course with finalized assessments")
	}

	if err := h.db.Delete(&course).Error; err != nil {
		return response.InternalServerError(c, "Failed to delete course")
	}

	return response.SuccessWithMessage(c, "Course deleted successfully", nil)
}

// GetBudget handles GET /api/v1/courses/:id/budget
func (h *CourseHandler) GetBudget(c *fiber.Ctx) error {
	courseID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid course ID")
	}

	if err := h.requireAccess(c, courseID); err != nil {
		return handlers.ServiceError(c, err)
	}

	var course model.Course
	if err := h.db.First(&course, courseID).Error; err != nil {
		return handlers.ServiceError(c, err)
	}

	var allocated float64
	var count int64
	if err := h.db.Model(&model.Assessment{}).
		Where("course_id = ?", courseID).
		Count(&count).Error; err != nil {
		return response.InternalServerError(c, "Failed to count assessments")
	}
	if err := h.db.Model(&model.Assessment{}).
		Where("course_id = ?", courseID).
		Select("COALESCE(SUM(max_marks), 0)").
		Scan(&allocated).Error; err != nil {
		return response.InternalServerError(c, "Failed to compute allocated marks")
	}

	budget := course.TotalMarksBudget()
	return response.Success(c, BudgetSummary{
		TotalBudget:     budget,
		Allocated:       allocated,
		Remaining:       budget - allocated,
		AssessmentCount: int(count),
	})
}

// AssignFaculty handles POST /api/v1/courses/:id/faculty
func (h *CourseHandler) AssignFaculty(c *fiber.Ctx) error {
	courseID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid course ID")
	}

	var req AssignFacultyRequest
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

	var faculty model.User
	if err := h.db.First(&faculty, req.UserID).Error; err != nil {
		return response.NotFound(c, "User not found")
	}

	assignment := model.FacultyCourse{UserID: faculty.ID, CourseID: courseID}
	if err := h.db.FirstOrCreate(&assignment, assignment).Error; err != nil {
		return response.InternalServerError(c, "Failed to assign faculty")
	}

	return response.Created(c, assignment)
}

// UnassignFaculty handles DELETE /api/v1/courses/:id/faculty/:userId
func (h *CourseHandler) UnassignFaculty(c *fiber.Ctx) error {
	courseID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid course ID")
	}
	userID, err := parseID(c, "userId")
	if err != nil {
		return response.BadRequest(c, "Invalid user ID")
	}

	result := h.db.Where("user_id = ? AND course_id = ?", userID, courseID).
		Delete(&model.FacultyCourse{})
	if result.Error != nil {
		return response.InternalServerError(c, "Failed to remove assignment")
	}
	if result.RowsAffected == 0 {
		return response.NotFound(c, "Assignment not found")
	}

	return response.SuccessWithMessage(c, "Faculty assignment removed", nil)
}

// requireAccess returns sentinel errors; the call site maps them through
// handlers.ServiceError when it aborts.
func (h *CourseHandler) requireAccess(c *fiber.Ctx, courseID uint) error {
	return handlers.RequireCourseAccess(c, h.db, courseID)
}

func parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(param), 10, 32)
	if err != nil || id == 0 {
		return 0, fiber.ErrBadRequest
	}
	return uint(id), nil
}
