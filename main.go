package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"kalichat/api"
	"kalichat/chat"
	"kalichat/config"
	"kalichat/llm"
	"kalichat/policy"
	"kalichat/session"
	"kalichat/store"
	"kalichat/summary"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting chat backend",
		zap.String("host", cfg.APIHost),
		zap.Int("port", cfg.APIPort),
		zap.String("database", cfg.DatabasePath),
		zap.String("llm_base_url", cfg.LLMBaseURL),
		zap.String("default_model", cfg.DefaultModel))

	prompts, err := config.LoadPrompts(os.Getenv("PROMPTS_PATH"))
	if err != nil {
		logger.Fatal("failed to load prompts", zap.Error(err))
	}

	// Initialize store
	db, err := store.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize store", zap.Error(err))
	}
	defer db.Close()

	// Initialize session registry
	registry, err := session.NewRegistry(cfg, db, logger)
	if err != nil {
		logger.Fatal("failed to initialize session registry", zap.Error(err))
	}

	// Initialize LLM client
	llmClient := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMTimeout, logger)

	// Initialize policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		logger.Fatal("failed to initialize policy engine", zap.Error(err))
	}

	// Initialize services
	summarySvc := summary.NewService(llmClient, cfg, prompts, logger)
	chatSvc := chat.NewService(db, registry, llmClient, summarySvc, cfg, prompts, logger)

	// Sweep expired ephemeral sessions hourly
	sweepDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := registry.SweepExpired(); n > 0 {
					logger.Info("swept expired ephemeral sessions", zap.Int("removed", n))
				}
			case <-sweepDone:
				return
			}
		}
	}()

	// Initialize handler
	h := api.NewHandler(chatSvc, registry, db, llmClient, policyEngine, cfg, logger)

	// Create Echo server
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Register routes
	h.RegisterRoutes(e)

	// Start server
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	logger.Info("API started", zap.Int("port", cfg.APIPort))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	close(sweepDone)

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server gracefully", zap.Error(err))
	}

	// Let in-flight summarizations finish before closing the store.
	chatSvc.Wait()

	logger.Info("stopped")
}

func newLogger(debug bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if debug {
		zcfg = zap.NewDevelopmentConfig()
	}
	return zcfg.Build()
}
