package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/fieldclock/internal/agent/localapi"
	"github.com/cuongbtq/fieldclock/internal/agent/queue"
	"github.com/cuongbtq/fieldclock/internal/agent/syncer"
	"github.com/cuongbtq/fieldclock/internal/agent/transport"
	"github.com/cuongbtq/fieldclock/internal/config"
	"github.com/cuongbtq/fieldclock/shared/logger"
	"github.com/cuongbtq/fieldclock/shared/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
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
	defaultConfigPath := os.Getenv("SYNC_AGENT_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/sync-agent/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAgentConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting sync agent",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("api_base_url", cfg.Agent.APIBaseURL),
	)

	// Open the on-device queue database
	dbClient, err := sqlite.NewClient(&sqlite.Config{Path: cfg.Agent.DatabasePath}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize queue database: %w", err)
	}
	defer dbClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := queue.NewSQLiteStore(ctx, dbClient.GetDB(), appLogger.Logger, queue.Config{
		MaxDepth: cfg.Agent.MaxQueueDepth,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize queue store: %w", err)
	}

	engine := syncer.NewEngine(&syncer.Config{
		Logger: appLogger.Logger,
		Queue:  store,
		Transport: transport.NewClient(transport.Config{
			BaseURL: cfg.Agent.APIBaseURL,
			Token:   cfg.Agent.Token,
			Timeout: cfg.Agent.RequestTimeout,
		}, appLogger.Logger),
		PollInterval:  cfg.Agent.PollInterval,
		Retention:     cfg.Agent.Retention,
		PurgeInterval: cfg.Agent.PurgeInterval,
	})

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.Agent.ListenAddr,
		Handler:           localapi.SetupRouter(appLogger.Logger, localapi.NewHandler(appLogger.Logger, store, cfg.Agent.AllowedOrigins)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return engine.Run(gctx)
	})
	g.Go(func() error {
		return engine.RunPurge(gctx)
	})
	g.Go(func() error {
		appLogger.Info("Local API listening", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("local API failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down sync agent...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("Sync agent stopped with error", slog.Any("error", err))
		return err
	}

	appLogger.Info("Sync agent shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}
