package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"fabula/internal/api/handler"
	"fabula/internal/api/router"
	"fabula/internal/config"
	"fabula/internal/engine"
	"fabula/internal/events"
	"fabula/internal/gateway"
	"fabula/internal/jobs"
	"fabula/internal/stages"
	"fabula/shared/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
	})

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize the model gateway. The token bucket allows a burst of one
	// minute's quota and refills at the per-second equivalent of the RPM
	// limit.
	limiter := gateway.NewTokenBucket(cfg.Gemini.RPMLimit, float64(cfg.Gemini.RPMLimit)/60.0)
	client := gateway.NewClient(gateway.Config{
		APIKey:         cfg.Gemini.APIKey,
		BaseURL:        cfg.Gemini.BaseURL,
		Model:          cfg.Gemini.Model,
		TimeoutSeconds: cfg.Gemini.TimeoutSeconds,
	}, limiter, appLogger,
		gateway.WithRetryMaxAttempts(cfg.Gemini.Retry.Attempts),
		gateway.WithRetryBackoff(cfg.Gemini.Retry.BaseDelay, cfg.Gemini.Retry.MaxDelay, cfg.Gemini.Retry.Multiplier),
	)

	appLogger.Info("Model gateway initialized",
		slog.String("model", cfg.Gemini.Model),
		slog.Int("rpm_limit", cfg.Gemini.RPMLimit),
	)

	// Initialize the workflow engine and job service
	eng, err := engine.New(stages.Pipeline(client), engine.NewSnapshotStore(), appLogger)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}

	bus := events.NewBus()
	jobService := jobs.NewService(eng, bus, appLogger)

	// Initialize router
	r := initRouter(cfg, appLogger, jobService, eng, bus)

	// Create HTTP server. WriteTimeout stays unset so SSE connections are
	// not cut off mid-stream.
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, jobService *jobs.Service, eng *engine.Engine, bus *events.Bus) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	handlerDeps := &handler.Dependencies{
		Logger:            logger,
		Jobs:              jobService,
		Engine:            eng,
		Bus:               bus,
		HeartbeatInterval: cfg.Pipeline.HeartbeatInterval,
		WordsPerScene:     cfg.Pipeline.WordsPerScene,
	}

	return router.SetupRouter(handlerDeps)
}
