package middleware

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/outcome-edu/obe-backend/model"
	"gorm.io/gorm"
)

// AuditLog records a privileged action after the handler runs. Only successful
// requests (2xx) are logged; the write happens off the request path.
func AuditLog(db *gorm.DB, action, resource string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Parse resource ID from params if available
		var resourceID uint
		if id := c.Params("id"); id != "" {
			if parsedID, err := strconv.ParseUint(id, 10, 32); err == nil {
				resourceID = uint(parsedID)
			}
		}

		// Execute the actual handler
		err := c.Next()
		if err != nil {
			return err
		}

		status := c.Response().StatusCode()
		if status < 200 || status >= 300 {
			return nil
		}

		userID, ok := GetUserID(c)
		if !ok {
			return nil
		}

		entry := model.AdminAuditLog{
			AdminID:     userID,
			Action:      action,
			Resource:    resource,
			ResourceID:  resourceID,
			IPAddress:   c.IP(),
			Description: c.Method() + " " + c.Path(),
		}

		go func() {
			db.Create(&entry)
		}()

		return nil
	}
}
