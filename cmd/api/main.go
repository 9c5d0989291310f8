package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/high-cuisine/vetclinic-bot/internal/api/router"
	"github.com/high-cuisine/vetclinic-bot/internal/booking"
	appconfig "github.com/high-cuisine/vetclinic-bot/internal/config"
	"github.com/high-cuisine/vetclinic-bot/internal/crm"
	"github.com/high-cuisine/vetclinic-bot/internal/http/handlers"
	"github.com/high-cuisine/vetclinic-bot/internal/interpreter"
	"github.com/high-cuisine/vetclinic-bot/internal/notify"
	"github.com/high-cuisine/vetclinic-bot/internal/observability/metrics"
	"github.com/high-cuisine/vetclinic-bot/internal/scene"
	"github.com/high-cuisine/vetclinic-bot/internal/session"
	"github.com/high-cuisine/vetclinic-bot/internal/slots"
	"github.com/high-cuisine/vetclinic-bot/internal/store"
	"github.com/high-cuisine/vetclinic-bot/pkg/logging"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting vetclinic-bot API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	botMetrics := metrics.NewBotMetrics(nil)

	// Clinic CRM API and the services built on it
	api := crm.NewAPI(cfg.CRMBaseURL, cfg.CRMAPIKey,
		crm.WithTimeout(cfg.CRMTimeout),
		crm.WithLogger(logger),
	)
	slotResolver := slots.New(api, cfg.DefaultClinic, cfg.SlotWindowDays, logger)
	coordinator := booking.New(api, cfg.DefaultClinic, logger, booking.WithMetrics(botMetrics))

	// Step interpreter and moderator notifications
	classifier := interpreter.New(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.InterpreterTimeout, logger)
	transport := notify.NewTransport(cfg.TransportBaseURL, cfg.ModeratorPhones, notify.WithLogger(logger))

	// Session storage
	rdb := store.NewRedisClient(cfg)
	sessions := store.NewSessionStore(rdb, cfg.SessionTTL, cfg.HistoryLimit)

	// Conversation flows
	createFlow := scene.NewCreateFlow(scene.CreateDeps{
		Booker:           coordinator,
		Doctors:          api,
		Slots:            slotResolver,
		ClinicID:         cfg.DefaultClinic,
		LiveQueueDoctors: cfg.LiveQueueDoctors,
		Interp:           classifier,
		Logger:           logger,
	})
	cancelFlow := scene.NewCancelFlow(scene.CancelDeps{
		Finder:    coordinator,
		Canceller: coordinator,
		Interp:    classifier,
		Logger:    logger,
	})
	moveFlow := scene.NewMoveFlow(scene.MoveDeps{
		Finder:                 coordinator,
		Canceller:              coordinator,
		Rescheduler:            coordinator,
		Slots:                  slotResolver,
		LiveQueueDoctors:       cfg.LiveQueueDoctors,
		AppointmentOnlyDoctors: cfg.AppointmentOnlyDoctors,
		Interp:                 classifier,
		Logger:                 logger,
	})
	showFlow := scene.NewShowFlow(scene.ShowDeps{
		Finder: coordinator,
		Interp: classifier,
		Logger: logger,
	})

	manager := session.NewManager(sessions, classifier, transport, botMetrics, logger,
		session.NewRunner(interpreter.FlowCreate, createFlow),
		session.NewRunner(interpreter.FlowCancel, cancelFlow),
		session.NewRunner(interpreter.FlowMove, moveFlow),
		session.NewRunner(interpreter.FlowShow, showFlow),
	)

	// Setup router
	r := router.New(&router.Config{
		Logger:         logger,
		Webhook:        handlers.NewWebhookHandler(manager, logger),
		MetricsHandler: promhttp.Handler(),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := rdb.Close(); err != nil {
		logger.Error("redis close failed", "error", err)
	}

	logger.Info("Server exited gracefully")
}
