package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/emilioaray-dev/bcv-service-sub000/internal/queue"
)

// QueueHandler exposes durable-queue observability.
type QueueHandler struct {
	Store  *queue.Store
	Logger *zap.Logger
}

func NewQueueHandler(store *queue.Store, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{
		Store:  store,
		Logger: logger,
	}
}

// GetStats handles GET /api/v1/queue/stats, returning item counts per
// status.
func (h *QueueHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.Store.Stats(c.Context())
	if err != nil {
		h.Logger.Error("Failed to query queue stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch queue stats",
		})
	}
	return c.JSON(stats)
}
