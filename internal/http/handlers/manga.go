package handlers

import (
	"database/sql"
	"strconv"
	"strings"

	"github.com/gabriel/chapter-tracker/internal/models"
	"github.com/gabriel/chapter-tracker/internal/repository"
	"github.com/gofiber/fiber/v2"
)

type mangaDetail struct {
	models.Manga
	Aliases  []string              `json:"aliases"`
	Services []models.MangaService `json:"services"`
	Info     *models.MangaInfo     `json:"info,omitempty"`
}

type MangaHandler struct {
	db *sql.DB
}

func NewMangaHandler(db *sql.DB) *MangaHandler {
	return &MangaHandler{db: db}
}

func (h *MangaHandler) Search(c *fiber.Ctx) error {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "q is required"})
	}

	items, err := repository.NewMangaRepository(h.db).Search(c.Context(), query, c.QueryInt("limit", 50))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "failed to search manga"})
	}
	return c.JSON(fiber.Map{"items": items})
}

func (h *MangaHandler) GetByID(c *fiber.Ctx) error {
	id, err := parseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid manga id"})
	}

	ctx := c.Context()
	repo := repository.NewMangaRepository(h.db)
	manga, err := repo.GetByID(ctx, id)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "failed to load manga"})
	}
	if manga == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "manga not found"})
	}

	detail := mangaDetail{Manga: *manga}
	if detail.Aliases, err = repo.ListAliases(ctx, id); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "failed to load aliases"})
	}
	if detail.Services, err = repo.ListServices(ctx, id); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "failed to load services"})
	}
	if detail.Info, err = repo.GetInfo(ctx, id); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "failed to load manga info"})
	}
	return c.JSON(detail)
}

func (h *MangaHandler) Chapters(c *fiber.Ctx) error {
	id, err := parseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid manga id"})
	}

	ctx := c.Context()
	manga, err := repository.NewMangaRepository(h.db).GetByID(ctx, id)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "failed to load manga"})
	}
	if manga == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "manga not found"})
	}

	items, err := repository.NewChapterRepository(h.db).ListByManga(ctx, id, c.QueryInt("limit", 100))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "failed to list chapters"})
	}
	return c.JSON(fiber.Map{"items": items})
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, strconv.ErrRange
	}
	return id, nil
}
