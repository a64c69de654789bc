package student

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/outcome-edu/obe-backend/handlers"
	"github.com/outcome-edu/obe-backend/model"
	"github.com/outcome-edu/obe-backend/utils/response"
	"github.com/outcome-edu/obe-backend/utils/validation"
	"gorm.io/gorm"
)

// StudentHandler handles course roster requests
type StudentHandler struct {
	db        *gorm.DB
	validator *validation.Validator
}

// NewStudentHandler creates a new student handler
func NewStudentHandler(db *gorm.DB) *StudentHandler {
	return &StudentHandler{
		db:        db,
		validator: validation.NewValidator(),
	}
}

// EnrollStudentRequest represents the request body for enrolling one student
type EnrollStudentRequest struct {
	RollNumber string `json:"roll_number" validate:"required,min=1,max=50"`
	Name       string `json:"name" validate:"required,min=2,max=255"`
}

// BulkEnrollRequest enrolls a batch of students in one call
type BulkEnrollRequest struct {
	Students []EnrollStudentRequest `json:"students" validate:"required,min=1,max=500,dive"`
}

// UpdateStudentRequest represents the request body for updating a student
type UpdateStudentRequest struct {
	Name string `json:"name" validate:"required,min=2,max=255"`
}

// ListStudents handles GET /api/v1/courses/:id/students
func (h *StudentHandler) ListStudents(c *fiber.Ctx) error {
	courseID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid course ID")
	}

	if err := h.requireAccess(c, courseID); err != nil {
		return handlers.ServiceError(c, err)
	}

	var students []model.Student
	if err := h.db.Where("course_id = ?", courseID).
		Order("roll_number ASC").
		Find(&students).Error; err != nil {
		return response.InternalServerError(c, "Failed to fetch students")
	}

	return response.Success(c, students)
}

// EnrollStudent handles POST /api/v1/courses/:id/students
func (h *StudentHandler) EnrollStudent(c *fiber.Ctx) error {
	courseID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid course ID")
	}

	if err := h.requireAccess(c, courseID); err != nil {
		return handlers.ServiceError(c, err)
	}

	var req EnrollStudentRequest
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

	req.RollNumber = validation.SanitizeString(req.RollNumber)

	var existing model.Student
	if err := h.db.Where("course_id = ? AND roll_number = ?", courseID, req.RollNumber).
		First(&existing).Error; err == nil {
		return response.Conflict(c, "A student with this roll number is already enrolled")
	} else if err != gorm.ErrRecordNotFound {
		return response.InternalServerError(c, "Failed to check roster")
	}

	student := model.Student{
		CourseID:   courseID,
		RollNumber: req.RollNumber,
		Name:       validation.SanitizeString(req.Name),
	}

	if err := h.db.Create(&student).Error; err != nil {
		return response.InternalServerError(c, "Failed to enroll student")
	}

	return response.Created(c, student)
}

// BulkEnroll handles POST /api/v1/courses/:id/students/bulk. The whole batch
// is applied in one transaction; duplicate roll numbers reject the batch.
func (h *StudentHandler) BulkEnroll(c *fiber.Ctx) error {
	courseID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid course ID")
	}

	if err := h.requireAccess(c, courseID); err != nil {
		return handlers.ServiceError(c, err)
	}

	var req BulkEnrollRequest
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

	seen := make(map[string]bool, len(req.Students))
	students := make([]model.Student, 0, len(req.Students))
	for _, s := range req.Students {
		roll := validation.SanitizeString(s.RollNumber)
		if seen[roll] {
			return response.Conflict(c, "Duplicate roll number in batch: "+roll)
		}
		seen[roll] = true
		students = append(students, model.Student{
			CourseID:   courseID,
			RollNumber: roll,
			Name:       validation.SanitizeString(s.Name),
		})
	}

	err = h.db.Transaction(func(tx *gorm.DB) error {
		var existing int64
		rolls := make([]string, 0, len(students))
		for _, s := range students {
			rolls = append(rolls, s.RollNumber)
		}
		if err := tx.Model(&model.Student{}).
			Where("course_id = ? AND roll_number IN ?", courseID, rolls).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return gorm.ErrDuplicatedKey
		}
		return tx.Create(&students).Error
	})
	if err != nil {
		if err == gorm.ErrDuplicatedKey {
			return response.Conflict(c, "Some roll numbers are already enrolled in this course")
		}
		return response.InternalServerError(c, "Failed to enroll students")
	}

	return response.Created(c, students)
}

// UpdateStudent handles PUT /api/v1/courses/:id/students/:studentId
func (h *StudentHandler) UpdateStudent(c *fiber.Ctx) error {
	courseID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid course ID")
	}
	studentID, err := parseID(c, "studentId")
	if err != nil {
		return response.BadRequest(c, "Invalid student ID")
	}

	if err := h.requireAccess(c, courseID); err != nil {
		return handlers.ServiceError(c, err)
	}

	var req UpdateStudentRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, validation.FormatValidationErrors(err))
	}

	var student model.Student
	if err := h.db.Where("id = ? AND course_id = ?", studentID, courseID).
		First(&student).Error; err != nil {
		return handlers.ServiceError(c, err)
	}

	if err := h.db.Model(&student).
		Update("name", validation.SanitizeString(req.Name)).Error; err != nil {
		return response.InternalServerError(c, "Failed to update student")
	}

	return response.Success(c, student)
}

// RemoveStudent handles DELETE /api/v1/courses/:id/students/:studentId
func (h *StudentHandler) RemoveStudent(c *fiber.Ctx) error {
	courseID, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "Invalid course ID")
	}
	studentID, err := parseID(c, "studentId")
	if err != nil {
		return response.BadRequest(c, "Invalid student ID")
	}

	if err := h.requireAccess(c, courseID); err != nil {
		return handlers.ServiceError(c, err)
	}

	var student model.Student
	if err := h.db.Where("id = ? AND course_id = ?", studentID, courseID).
		First(&student).Error; err != nil {
		return handlers.ServiceError(c, err)
	}

	// Students with recorded marks cannot be removed from the roster
	var entries int64
	if err := h.db.Model(&model.MarkEntry{}).
		Where("student_id = ?", studentID).
		Count(&entries).Error; err != nil {
		return response.InternalServerError(c, "Failed to check mark entries")
	}
	if entries > 0 {
		return response.Conflict(c, "Student has recorded marks and cannot be removed")
	}

	if err := h.db.Delete(&student).Error; err != nil {
		return response.InternalServerError(c, "Failed to remove student")
	}

	return response.SuccessWithMessage(c, "Student removed from roster", nil)
}

// requireAccess returns sentinel errors; the call site maps them through
// handlers.ServiceError when it aborts.
func (h *StudentHandler) requireAccess(c *fiber.Ctx, courseID uint) error {
	return handlers.RequireCourseAccess(c, h.db, courseID)
}

func parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(param), 10, 32)
	if err != nil || id == 0 {
		return 0, fiber.ErrBadRequest
	}
	return uint(id), nil
}
