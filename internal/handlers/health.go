package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/soltixdb/morgoth/internal/models"
)

// Health handles health check requests
func (h *Handler) Health(c *fiber.Ctx) error {
	resp := models.HealthResponse{
		Status:    "healthy",
		Timestamp: h.now().Format(time.RFC3339),
		Version:   Version,
	}
	if h.deps.Detector != nil {
		resp.Detector = h.deps.Detector.Name()
	}
	return c.JSON(resp)
}

// NotFound handles 404 errors
func (h *Handler) NotFound(c *fiber.Ctx) error {
	return fail(c, fiber.StatusNotFound, "NOT_FOUND", "Route not found")
}
