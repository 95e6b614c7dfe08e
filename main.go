package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"booking-service-server/config"
	"booking-service-server/database"
	"booking-service-server/dispatcher"
	"booking-service-server/jobs"
	"booking-service-server/middleware"
	"booking-service-server/models"
	"booking-service-server/routes"
	"booking-service-server/services"
	"booking-service-server/store"
	ws "booking-service-server/websocket"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := config.Load()

	db, err := database.Initialize(cfg)
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}

	if cfg.Server.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	st := store.NewGormStore(db)

	// WebSocket hub for the in-app channel
	hub := ws.NewHub()
	go hub.Run()

	// Notification dispatch pipeline
	router := dispatcher.NewChannelRouter(dispatcher.NewLogTransport(), hub, st)
	disp := dispatcher.New(st, router)
	disp.RegisterQueue(dispatcher.QueueConfig{
		Name:           models.QueueBookingEvents,
		Concurrency:    cfg.Dispatcher.BookingConcurrency,
		MaxRetries:     cfg.Dispatcher.MaxRetries,
		BaseDelay:      cfg.Dispatcher.BaseDelay,
		AttemptTimeout: cfg.Dispatcher.AttemptTimeout,
		PollInterval:   cfg.Dispatcher.PollInterval,
		Retention:      cfg.Dispatcher.Retention,
	})
	disp.RegisterQueue(dispatcher.QueueConfig{
		Name:           models.QueueNotifications,
		Concurrency:    cfg.Dispatcher.NotificationConcurrency,
		MaxRetries:     cfg.Dispatcher.MaxRetries,
		BaseDelay:      cfg.Dispatcher.BaseDelay,
		AttemptTimeout: cfg.Dispatcher.AttemptTimeout,
		PollInterval:   cfg.Dispatcher.PollInterval,
		Retention:      cfg.Dispatcher.Retention,
	})
	disp.RegisterQueue(dispatcher.QueueConfig{
		Name:            models.QueuePaymentEvents,
		Concurrency:     cfg.Dispatcher.PaymentConcurrency,
		MaxRetries:      cfg.Dispatcher.MaxRetries,
		BaseDelay:       cfg.Dispatcher.BaseDelay,
		DefaultPriority: models.PriorityHigh,
		AttemptTimeout:  cfg.Dispatcher.AttemptTimeout,
		PollInterval:    cfg.Dispatcher.PollInterval,
		Retention:       cfg.Dispatcher.Retention,
	})
	disp.Start()
	defer disp.Stop()

	// Booking core
	resolver := services.NewConflictResolver(cfg.Booking.Buffer())
	matcher := services.NewGeoMatcher(st, cfg.Booking.DefaultRadiusKm, cfg.Booking.MaxRadiusKm)
	lifecycle := services.NewBookingLifecycle(
		cfg.Booking, st, resolver, matcher, disp, services.NewLogPaymentProvider())

	// Background housekeeping
	retention := jobs.NewRetentionJob(disp, 0)
	retention.Start()
	defer retention.Stop()

	// HTTP surface
	engine := gin.New()
	engine.Use(gin.Logger())
	engine.Use(gin.Recovery())
	engine.RedirectTrailingSlash = false
	engine.RedirectFixedPath = false

	engine.Use(middleware.SecurityHeadersMiddleware())
	engine.Use(middleware.RateLimitMiddleware())
	engine.Use(middleware.CORSMiddleware())

	routes.Register(engine, &routes.Deps{
		Cfg:        cfg,
		Store:      st,
		Lifecycle:  lifecycle,
		Matcher:    matcher,
		Dispatcher: disp,
		Hub:        hub,
	})

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("🚀 Server starting on port %s", cfg.Server.Port)
		serverErr <- engine.Run(":" + cfg.Server.Port)
	}()

	// Block until shutdown or listen failure; either way the deferred
	// stops drain the pipeline before exit.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		log.Printf("❌ Server error: %v", err)
	case <-quit:
		log.Println("🛑 Shutting down...")
	}
}
