package handlers

import (
	"database/sql"
	"strings"
	"time"

	"github.com/gabriel/chapter-tracker/internal/repository"
	"github.com/gofiber/fiber/v2"
)

type createScheduledRunRequest struct {
	MangaID   int64  `json:"mangaId"`
	ServiceID int64  `json:"serviceId"`
	CreatedBy string `json:"createdBy"`
}

type ScheduledRunsHandler struct {
	db *sql.DB
}

func NewScheduledRunsHandler(db *sql.DB) *ScheduledRunsHandler {
	return &ScheduledRunsHandler{db: db}
}

func (h *ScheduledRunsHandler) List(c *fiber.Ctx) error {
	items, err := repository.NewScheduledRunRepository(h.db).List(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "failed to list scheduled runs"})
	}
	return c.JSON(fiber.Map{"items": items})
}

func (h *ScheduledRunsHandler) Create(c *fiber.Ctx) error {
	var req createScheduledRunRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid json body"})
	}
	if req.MangaID <= 0 || req.ServiceID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "mangaId and serviceId are required"})
	}
	createdBy := strings.TrimSpace(req.CreatedBy)
	if createdBy == "" {
		createdBy = "api"
	}

	ctx := c.Context()
	ms, err := repository.NewMangaRepository(h.db).GetService(ctx, req.MangaID, req.ServiceID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "failed to validate manga service"})
	}
	if ms == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "manga is not tracked on that service"})
	}

	if err := repository.NewScheduledRunRepository(h.db).Create(ctx, req.MangaID, req.ServiceID, createdBy, time.Now()); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "failed to create scheduled run"})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"mangaId": req.MangaID, "serviceId": req.ServiceID, "createdBy": createdBy})
}
