package handlers

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/gabriel/chapter-tracker/internal/connectors"
	"github.com/gofiber/fiber/v2"
)

type ConnectorsHandler struct {
	registry      *connectors.Registry
	healthTimeout time.Duration
}

func NewConnectorsHandler(registry *connectors.Registry, healthTimeout time.Duration) *ConnectorsHandler {
	if healthTimeout <= 0 {
		healthTimeout = 5 * time.Second
	}
	return &ConnectorsHandler{registry: registry, healthTimeout: healthTimeout}
}

// List returns the registered connectors. ?capability=series|service|grammars
// narrows the list.
func (h *ConnectorsHandler) List(c *fiber.Ctx) error {
	items := h.registry.List()
	if capability := strings.ToLower(strings.TrimSpace(c.Query("capability"))); capability != "" {
		filtered := make([]connectors.Descriptor, 0, len(items))
		for _, item := range items {
			if slices.Contains(item.Capabilities, capability) {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}
	return c.JSON(fiber.Map{"items": items})
}

func (h *ConnectorsHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), h.healthTimeout)
	defer cancel()
	return c.JSON(fiber.Map{"items": h.registry.Health(ctx)})
}

func (h *ConnectorsHandler) HealthByKey(c *fiber.Ctx) error {
	connector, ok := h.registry.Get(c.Params("key"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "connector not found"})
	}

	ctx, cancel := context.WithTimeout(c.Context(), h.healthTimeout)
	defer cancel()

	status := connectors.HealthStatus{
		Key:     connector.Key(),
		Name:    connector.Name(),
		Kind:    connector.Kind(),
		Healthy: true,
	}
	if err := connector.HealthCheck(ctx); err != nil {
		status.Healthy = false
		status.Error = err.Error()
		return c.Status(fiber.StatusServiceUnavailable).JSON(status)
	}
	return c.JSON(status)
}
