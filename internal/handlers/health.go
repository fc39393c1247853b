package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/emilioaray-dev/bcv-service-sub000/internal/database"
	"github.com/emilioaray-dev/bcv-service-sub000/internal/rabbitmq"
)

// HealthHandler reports the health of the service's dependencies.
type HealthHandler struct {
	DB  *gorm.DB
	RMQ *rabbitmq.Connection
}

// NewHealthHandler creates a health handler. RMQ may be nil when the
// AMQP ingress is disabled.
func NewHealthHandler(db *gorm.DB, rmq *rabbitmq.Connection) *HealthHandler {
	return &HealthHandler{DB: db, RMQ: rmq}
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// HealthCheck handles GET /health.
func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	services := make(map[string]string)
	status := "healthy"

	if err := database.HealthCheck(ctx, h.DB); err != nil {
		services["database"] = "unhealthy: " + err.Error()
		status = "unhealthy"
	} else {
		services["database"] = "healthy"
	}

	if h.RMQ != nil {
		if h.RMQ.IsHealthy() {
			services["rabbitmq"] = "healthy"
		} else {
			services["rabbitmq"] = "unhealthy: connection closed"
			status = "unhealthy"
		}
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
	}

	if status == "unhealthy" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(response)
	}
	return c.JSON(response)
}
