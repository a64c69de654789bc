package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/outcome-edu/obe-backend/database"
)

// HandleCheckHealth reports service liveness and database reachability.
func HandleCheckHealth(c *fiber.Ctx, store database.Storage) error {
	status := "ok"
	dbStatus := "ok"

	if err := store.Ping(); err != nil {
		status = "degraded"
		dbStatus = "unreachable"
	}

	return c.JSON(fiber.Map{
		"status":   status,
		"database": dbStatus,
	})
}
