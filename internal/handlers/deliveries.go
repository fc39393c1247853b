package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/emilioaray-dev/bcv-service-sub000/internal/delivery"
	"github.com/emilioaray-dev/bcv-service-sub000/internal/models"
)

// DeliveriesHandler serves the delivery audit read paths.
type DeliveriesHandler struct {
	Recorder *delivery.Recorder
	Logger   *zap.Logger
}

func NewDeliveriesHandler(recorder *delivery.Recorder, logger *zap.Logger) *DeliveriesHandler {
	return &DeliveriesHandler{
		Recorder: recorder,
		Logger:   logger,
	}
}

// GetDeliveries handles GET /api/v1/deliveries.
// Query parameters:
//   - event (optional): filter by event name
//   - url (optional): filter by destination URL
//   - limit (optional, default 25)
func (h *DeliveriesHandler) GetDeliveries(c *fiber.Ctx) error {
	limit := 25
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
			})
		}
		limit = parsed
	}

	var (
		records []models.DeliveryRecord
		err     error
	)
	switch {
	case c.Query("event") != "":
		records, err = h.Recorder.ByEvent(c.Context(), c.Query("event"), limit)
	case c.Query("url") != "":
		records, err = h.Recorder.ByURL(c.Context(), c.Query("url"), limit)
	default:
		records, err = h.Recorder.Recent(c.Context(), limit)
	}
	if err != nil {
		h.Logger.Error("Failed to query delivery records", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch deliveries",
		})
	}

	return c.JSON(fiber.Map{
		"deliveries": records,
		"count":      len(records),
	})
}

// GetStats handles GET /api/v1/deliveries/stats.
// Query parameters:
//   - event (optional): scope to one event name
//   - hours (optional): scope to a trailing time window
func (h *DeliveriesHandler) GetStats(c *fiber.Ctx) error {
	filter := delivery.StatsFilter{
		Event: c.Query("event"),
	}
	if hoursStr := c.Query("hours"); hoursStr != "" {
		hours, err := strconv.Atoi(hoursStr)
		if err != nil || hours <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "hours must be a positive integer",
			})
		}
		filter.Since = time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	}

	stats, err := h.Recorder.GetStats(c.Context(), filter)
	if err != nil {
		h.Logger.Error("Failed to compute delivery stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to compute stats",
		})
	}

	return c.JSON(stats)
}
