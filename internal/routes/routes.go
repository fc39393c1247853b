package routes

import (
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emilioaray-dev/bcv-service-sub000/internal/handlers"
)

// SetupRoutes configures all application routes with dependencies.
func SetupRoutes(app *fiber.App, health *handlers.HealthHandler, deliveries *handlers.DeliveriesHandler, queue *handlers.QueueHandler) {
	app.Get("/health", health.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")
	{
		api.Get("/deliveries", deliveries.GetDeliveries)
		api.Get("/deliveries/stats", deliveries.GetStats)
		api.Get("/queue/stats", queue.GetStats)
	}
}
