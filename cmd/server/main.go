package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/emilioaray-dev/bcv-service-sub000/internal/config"
	"github.com/emilioaray-dev/bcv-service-sub000/internal/database"
	"github.com/emilioaray-dev/bcv-service-sub000/internal/delivery"
	"github.com/emilioaray-dev/bcv-service-sub000/internal/handlers"
	"github.com/emilioaray-dev/bcv-service-sub000/internal/ingress"
	"github.com/emilioaray-dev/bcv-service-sub000/internal/logger"
	"github.com/emilioaray-dev/bcv-service-sub000/internal/queue"
	"github.com/emilioaray-dev/bcv-service-sub000/internal/rabbitmq"
	"github.com/emilioaray-dev/bcv-service-sub000/internal/routes"
	"github.com/emilioaray-dev/bcv-service-sub000/internal/sender"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}

	log, err := logger.Init(cfg.LogLevel)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync(log)

	// Connect to PostgreSQL and apply migrations
	db, err := database.Connect(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, log); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()

	if err := database.RunMigrations(&cfg.Database, log); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Core webhook pipeline: recorder -> store -> sender -> worker
	recorder := delivery.NewRecorder(db, log)
	store := queue.NewStore(db, log, queue.SystemClock())
	snd := sender.NewSender(cfg.Webhook, cfg.Queue.MaxAttempts, store, recorder, log)

	worker := queue.NewWorker(store, snd, recorder, log, queue.WorkerOptions{
		Interval:      cfg.Queue.PollInterval(),
		BatchSize:     cfg.Queue.BatchSize,
		RetentionDays: cfg.Queue.RetentionDays,
	})
	worker.Start()
	defer worker.Stop()

	// Optional AMQP ingress: rate/status/deployment events trigger sends
	var rmq *rabbitmq.Connection
	var ing *ingress.Ingress
	if cfg.RabbitMQ.Enabled() {
		rmq = rabbitmq.NewConnection(&cfg.RabbitMQ, log)
		if err := rmq.Connect(); err != nil {
			log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer rmq.Close()

		ing = ingress.NewIngress(&cfg.RabbitMQ, rmq, snd, log)
		if err := ing.Start(); err != nil {
			log.Fatal("Failed to start ingress", zap.Error(err))
		}
	} else {
		log.Info("RabbitMQ not configured, ingress disabled")
	}

	app := fiber.New(fiber.Config{
		AppName:      "BCV Notify Service",
		ServerHeader: "Fiber",
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	routes.SetupRoutes(app,
		handlers.NewHealthHandler(db, rmq),
		handlers.NewDeliveriesHandler(recorder, log),
		handlers.NewQueueHandler(store, log),
	)

	go func() {
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		log.Info("Server starting", zap.String("address", addr))
		if err := app.Listen(addr); err != nil {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		log.Error("Error during server shutdown", zap.Error(err))
	}

	if ing != nil {
		if err := ing.Stop(); err != nil {
			log.Error("Error stopping ingress", zap.Error(err))
		}
	}
	worker.Stop()

	log.Info("Server stopped")
}
