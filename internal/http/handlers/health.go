package handlers

import (
	"database/sql"
	"time"

	"github.com/gabriel/chapter-tracker/internal/repository"
	"github.com/gofiber/fiber/v2"
)

type HealthHandler struct {
	db *sql.DB
}

func NewHealthHandler(db *sql.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// Check reports database reachability and the sources currently backed off
// after failed scrapes.
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	now := time.Now().UTC()
	services, err := repository.NewServiceRepository(h.db).List(c.Context())
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "degraded",
			"db":     "down",
			"time":   now.Format(time.RFC3339),
		})
	}

	backedOff := make([]string, 0)
	for _, service := range services {
		if service.DisabledUntil != nil && service.DisabledUntil.After(now) {
			backedOff = append(backedOff, service.Key)
		}
	}

	return c.JSON(fiber.Map{
		"status":    "ok",
		"db":        "up",
		"services":  len(services),
		"backedOff": backedOff,
		"time":      now.Format(time.RFC3339),
	})
}
