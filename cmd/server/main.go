// Roomlink - room-scoped bridge between the session pipeline and the
// knowledge backend.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avelensk/roomlink/internal/api"
	"github.com/avelensk/roomlink/internal/bridge"
	"github.com/avelensk/roomlink/internal/config"
	"github.com/avelensk/roomlink/internal/knowledge"
	"github.com/avelensk/roomlink/internal/middleware"
	"github.com/avelensk/roomlink/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	jobsCfg := knowledge.DefaultClientConfig()
	jobsCfg.BaseURL = cfg.BackendAPIURL
	jobsCfg.APIKey = cfg.BackendAPIKey
	jobs := knowledge.NewClient(jobsCfg, logger)

	// Environment overrides apply on top of the bridge defaults.
	bridgeCfg := bridge.DefaultConfig()
	if cfg.Bridge.QuestionTimeout > 0 {
		bridgeCfg.QuestionTimeout = cfg.Bridge.QuestionTimeout
	}
	if cfg.Bridge.ReportTimeout > 0 {
		bridgeCfg.ReportTimeout = cfg.Bridge.ReportTimeout
	}
	if cfg.Bridge.ReconnectDelay > 0 {
		bridgeCfg.ReconnectDelay = cfg.Bridge.ReconnectDelay
	}
	if cfg.Bridge.MaxReconnectAttempts > 0 {
		bridgeCfg.MaxReconnectAttempts = cfg.Bridge.MaxReconnectAttempts
	}
	if cfg.Bridge.MaxBufferSize > 0 {
		bridgeCfg.MaxBufferSize = cfg.Bridge.MaxBufferSize
	}
	if cfg.Bridge.MaxBufferAge > 0 {
		bridgeCfg.MaxBufferAge = cfg.Bridge.MaxBufferAge
	}

	dialer := bridge.NewWebsocketDialer(cfg.BackendWSURL)
	manager := bridge.NewManager(bridgeCfg, dialer, jobs, logger)
	slog.Info("Bridge manager initialized", "backend_ws_url", cfg.BackendWSURL)

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, manager, jobs)
	roomHandler := api.NewRoomHandler(baseHandler)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{cfg.AllowedOrigin}))
	r.Use(middleware.APIKey(cfg.PipelineKey))

	roomHandler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// Report requests block for up to the report timeout, so the write
		// timeout has to outlast it.
		WriteTimeout: bridgeCfg.ReportTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start idle-room worker.
	manager.StartIdleWorker(ctx, cfg.RoomIdleTTL)
	slog.Info("Idle-room worker started", "room_idle_ttl", cfg.RoomIdleTTL)

	// Start session cleanup worker.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deleted, err := repo.CleanupEndedSessions(ctx, 24*time.Hour)
				if err != nil {
					slog.Error("Session cleanup failed", "error", err)
					continue
				}
				if deleted > 0 {
					slog.Info("Cleaned up ended sessions", "deleted", deleted)
				}
			}
		}
	}()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Close every room connection cleanly before exiting.
	manager.Shutdown()

	slog.Info("Server stopped successfully")
}
