package handlers

import (
	"database/sql"

	"github.com/gabriel/chapter-tracker/internal/models"
	"github.com/gabriel/chapter-tracker/internal/repository"
	"github.com/gofiber/fiber/v2"
)

type serviceResponse struct {
	models.Service
	Config models.ServiceConfig `json:"config"`
	Whole  *models.ServiceWhole `json:"whole,omitempty"`
}

type ServicesHandler struct {
	db *sql.DB
}

func NewServicesHandler(db *sql.DB) *ServicesHandler {
	return &ServicesHandler{db: db}
}

func (h *ServicesHandler) List(c *fiber.Ctx) error {
	ctx := c.Context()
	repo := repository.NewServiceRepository(h.db)

	services, err := repo.List(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "failed to list services"})
	}

	items := make([]serviceResponse, 0, len(services))
	for _, service := range services {
		cfg, err := repo.GetConfig(ctx, service.ID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "failed to load service config"})
		}
		whole, err := repo.GetWhole(ctx, service.ID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "failed to load service feed"})
		}
		items = append(items, serviceResponse{Service: service, Config: cfg, Whole: whole})
	}

	return c.JSON(fiber.Map{"items": items})
}
