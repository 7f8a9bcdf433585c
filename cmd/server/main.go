package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/atlasfm/be-am-workflows/internal/client"
	"github.com/atlasfm/be-am-workflows/internal/config"
	"github.com/atlasfm/be-am-workflows/internal/database"
	"github.com/atlasfm/be-am-workflows/internal/handler"
	"github.com/atlasfm/be-am-workflows/internal/middleware"
	"github.com/atlasfm/be-am-workflows/internal/reminder"
	"github.com/atlasfm/be-am-workflows/internal/repository"
	"github.com/atlasfm/be-am-workflows/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := newLogger(cfg)

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Maintenance Workflow Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Name,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Connect to NATS; an empty URL runs the service without event publishing.
	var natsConn *nats.Conn
	if cfg.NATS.URL != "" {
		natsConn, err = nats.Connect(cfg.NATS.URL, nats.Name(cfg.Service.Name))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer natsConn.Drain()
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	} else {
		log.Warn().Msg("NATS URL not configured; event publishing disabled")
	}

	// Initialize repositories
	workflowRepo := repository.NewWorkflowRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// External collaborators
	events := client.NewNotificationPublisher(natsConn, log)
	assetsAddr := getEnv("ASSETS_URL", "http://localhost:8081")
	assetsClient := client.NewAssetsClient(assetsAddr)

	// Initialize services
	approvalService := service.NewApprovalService(workflowRepo, roleRepo, auditRepo, events, log)
	schedulingService := service.NewSchedulingService(templateRepo, workflowRepo, assetsClient, roleRepo, auditRepo, events, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(approvalService, schedulingService, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Workflow routes
	mux.HandleFunc("/api/v1/workflows", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			httpHandler.ScheduleWorkflow(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/workflows/get", httpHandler.GetWorkflow)
	mux.HandleFunc("/api/v1/workflows/steps", httpHandler.GetWorkflowSteps)
	mux.HandleFunc("/api/v1/workflows/approve", httpHandler.ApproveStep)
	mux.HandleFunc("/api/v1/workflows/reject", httpHandler.RejectStep)
	mux.HandleFunc("/api/v1/workflows/escalate", httpHandler.EscalateStep)
	mux.HandleFunc("/api/v1/workflows/migrate", httpHandler.MigrateWorkflow)
	mux.HandleFunc("/api/v1/workflows/history", httpHandler.WorkflowHistory)
	mux.HandleFunc("/api/v1/approvals/pending", httpHandler.PendingApprovals)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log)(h)
	h = middleware.Recovery(&log)(h)
	h = middleware.Timeout(cfg.Server.WriteTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start the advance-warning scanner
	var scanner *reminder.Scanner
	if cfg.Reminder.Enabled {
		scanner = reminder.NewScanner(workflowRepo, events, cfg.Reminder.Window, log)
		if err := scanner.Start(cfg.Reminder.Schedule); err != nil {
			log.Fatal().Err(err).Msg("Failed to start reminder scanner")
		}
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if scanner != nil {
		scanner.Stop()
	}

	log.Info().Msg("Server stopped")
}

// newLogger builds the service logger: console output in development,
// JSON elsewhere.
func newLogger(cfg *config.Config) zerolog.Logger {
	var log zerolog.Logger
	if cfg.Service.Environment == "development" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.With().
		Timestamp().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Logger()
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
