package router

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/outcome-edu/obe-backend/config"
	"github.com/outcome-edu/obe-backend/database"
	"github.com/outcome-edu/obe-backend/handlers"
	assessment_handlers "github.com/outcome-edu/obe-backend/handlers/assessment"
	auth_handlers "github.com/outcome-edu/obe-backend/handlers/auth"
	course_handlers "github.com/outcome-edu/obe-backend/handlers/course"
	marks_handlers "github.com/outcome-edu/obe-backend/handlers/marks"
	outcome_handlers "github.com/outcome-edu/obe-backend/handlers/outcome"
	performance_handlers "github.com/outcome-edu/obe-backend/handlers/performance"
	student_handlers "github.com/outcome-edu/obe-backend/handlers/student"
	"github.com/outcome-edu/obe-backend/services"
	"github.com/outcome-edu/obe-backend/services/spaces"
	"github.com/outcome-edu/obe-backend/utils/auth"
	"github.com/outcome-edu/obe-backend/utils/cache"
	"github.com/outcome-edu/obe-backend/utils/middleware"
)

// Dependencies carries the shared infrastructure handed to route setup
type Dependencies struct {
	Store       database.Storage
	Env         *config.EnviornmentVariable
	RedisCache  *cache.RedisCache
	Spaces      *spaces.SpacesClient
	Performance *services.PerformanceService
}

func SetupRoutes(app *fiber.App, deps Dependencies) {
	if deps.Env.JWT_SECRET == "" {
		log.Fatal("JWT_SECRET environment variable is not set")
	}

	jwtIssuer := deps.Env.JWT_ISSUER
	if jwtIssuer == "" {
		jwtIssuer = "obe-backend-api"
	}

	jwtConfig := auth.JWTConfig{
		Secret:        deps.Env.JWT_SECRET,
		Expiry:        24 * time.Hour,     // Access token expires in 24 hours
		RefreshExpiry: 7 * 24 * time.Hour, // Refresh token expires in 7 days
		Issuer:        jwtIssuer,
	}
	jwtManager := auth.NewJWTManager(jwtConfig)

	db := deps.Store.DB()

	// Brute force protection needs Redis; without it login is unprotected
	var bruteForceProtection *middleware.BruteForceProtection
	if deps.RedisCache != nil {
		bruteForceProtection = middleware.NewBruteForceProtection(deps.RedisCache)
	}

	authMiddleware := middleware.NewAuthMiddleware(jwtManager, db)

	// Services shared across handlers
	exportService := services.NewExportService(deps.Performance, deps.Spaces)

	// Handlers
	authHandler := auth_handlers.NewAuthHandler(db, jwtManager, bruteForceProtection)
	courseHandler := course_handlers.NewCourseHandler(db)
	outcomeHandler := outcome_handlers.NewOutcomeHandler(db)
	studentHandler := student_handlers.NewStudentHandler(db)
	assessmentHandler := assessment_handlers.NewAssessmentHandler(db, deps.Performance)
	marksHandler := marks_handlers.NewMarksHandler(db, deps.Performance)
	performanceHandler := performance_handlers.NewPerformanceHandler(db, deps.Performance, exportService)

	// Apply security middleware
	middleware.SetupSecurity(app, middleware.SecurityConfig{
		AllowedOrigins:    deps.Env.ALLOWED_ORIGINS,
		RateLimitRequests: 100,             // 100 requests
		RateLimitWindow:   1 * time.Minute, // per minute
	})

	// Health check endpoint (public)
	app.Get("/ping", func(c *fiber.Ctx) error {
		return handlers.HandleCheckHealth(c, deps.Store)
	})

	// API v1 group
	api := app.Group("/api/v1")

	// Auth routes (public)
	authGroup := api.Group("/auth")
	authGroup.Post("/register", authHandler.Register)

	// Login with brute force protection
	if bruteForceProtection != nil {
		authGroup.Post("/login", bruteForceProtection.CheckAndRecordAttempt(), authHandler.Login)
	} else {
		authGroup.Post("/login", authHandler.Login)
	}

	authGroup.Post("/refresh", authHandler.Refresh)

	// Protected auth routes
	authGroup.Post("/logout", authMiddleware.Required(), authHandler.Logout)
	authGroup.Post("/logout-all", authMiddleware.Required(), authHandler.LogoutAll)
	authGroup.Get("/profile", authMiddleware.Required(), authHandler.Profile)
	authGroup.Put("/profile", authMiddleware.Required(), authHandler.UpdateProfile)
	authGroup.Post("/change-password", authMiddleware.Required(), authHandler.ChangePassword)

	// Course routes. Reads are open to assigned faculty; setup is HOD-only.
	courses := api.Group("/courses", authMiddleware.Required())
	courses.Get("/", courseHandler.ListCourses)
	courses.Post("/", authMiddleware.RequireHOD(), middleware.AuditLog(db, "course_create", "courses"), courseHandler.CreateCourse)
	courses.Get("/:id", courseHandler.GetCourse)
	courses.Put("/:id", authMiddleware.RequireHOD(), middleware.AuditLog(db, "course_update", "courses"), courseHandler.UpdateCourse)
	courses.Delete("/:id", authMiddleware.RequireHOD(), middleware.AuditLog(db, "course_delete", "courses"), courseHandler.DeleteCourse)
	courses.Get("/:id/budget", courseHandler.GetBudget)
	courses.Post("/:id/faculty", authMiddleware.RequireHOD(), courseHandler.AssignFaculty)
	courses.Delete("/:id/faculty/:userId", authMiddleware.RequireHOD(), courseHandler.UnassignFaculty)

	// CLO routes
	courses.Get("/:id/clos", courseHandler.ListClos)
	courses.Post("/:id/clos", authMiddleware.RequireHOD(), courseHandler.CreateClo)
	courses.Put("/:id/clos/:cloId", authMiddleware.RequireHOD(), courseHandler.UpdateClo)
	courses.Delete("/:id/clos/:cloId", authMiddleware.RequireHOD(), courseHandler.DeleteClo)

	// Program outcome routes (institution level, HOD-managed)
	outcomes := api.Group("/outcomes", authMiddleware.Required())
	outcomes.Get("/", outcomeHandler.ListOutcomes)
	outcomes.Post("/", authMiddleware.RequireHOD(), outcomeHandler.CreateOutcome)
	outcomes.Put("/:id", authMiddleware.RequireHOD(), outcomeHandler.UpdateOutcome)
	outcomes.Delete("/:id", authMiddleware.RequireHOD(), outcomeHandler.DeleteOutcome)
	outcomes.Post("/:id/mappings", authMiddleware.RequireHOD(), outcomeHandler.MapClo)
	outcomes.Delete("/:id/mappings/:cloId", authMiddleware.RequireHOD(), outcomeHandler.UnmapClo)

	// Roster routes
	courses.Get("/:id/students", studentHandler.ListStudents)
	courses.Post("/:id/students", studentHandler.EnrollStudent)
	courses.Post("/:id/students/bulk", studentHandler.BulkEnroll)
	courses.Put("/:id/students/:studentId", studentHandler.UpdateStudent)
	courses.Delete("/:id/students/:studentId", studentHandler.RemoveStudent)

	// Assessment routes
	courses.Get("/:id/assessments", assessmentHandler.ListAssessments)
	courses.Post("/:id/assessments", assessmentHandler.CreateAssessment)
	courses.Post("/:id/assessments/validate", assessmentHandler.ValidateDistribution)

	assessments := api.Group("/assessments", authMiddleware.Required())
	assessments.Get("/:id", assessmentHandler.GetAssessment)
	assessments.Put("/:id", assessmentHandler.UpdateAssessment)
	assessments.Delete("/:id", assessmentHandler.DeleteAssessment)
	assessments.Post("/:id/finalize", middleware.AuditLog(db, "assessment_finalize", "assessments"), assessmentHandler.Finalize)
	assessments.Get("/:id/finalization-status", assessmentHandler.FinalizationStatus)

	// Marks ledger routes
	assessments.Post("/:id/marks", marksHandler.BulkUpsert)
	assessments.Get("/:id/marks", marksHandler.GetLedger)

	// Attainment analytics routes
	assessments.Get("/:id/performance", performanceHandler.AssessmentReport)
	assessments.Post("/:id/performance/export", performanceHandler.ExportAssessmentReport)
	courses.Get("/:id/performance", performanceHandler.CourseReport)
	courses.Post("/:id/performance/export", performanceHandler.ExportCourseReport)
}
