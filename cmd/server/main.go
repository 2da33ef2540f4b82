// devroom - collaborative project chat server with an AI assistant
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

	"github.com/avekdev/devroom/internal/api"
	"github.com/avekdev/devroom/internal/assistant"
	"github.com/avekdev/devroom/internal/auth"
	"github.com/avekdev/devroom/internal/config"
	"github.com/avekdev/devroom/internal/middleware"
	"github.com/avekdev/devroom/internal/room"
	"github.com/avekdev/devroom/internal/session"
	"github.com/avekdev/devroom/internal/store"
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

	tokens := auth.NewJWTVerifier([]byte(cfg.JWTSecret), cfg.JWTTTL)

	// Assistant gateway (optional).
	var gateway assistant.Gateway
	if cfg.AIEnabled() {
		client, err := assistant.NewClient(assistant.ClientConfig{
			BaseURL: cfg.AI.BaseURL,
			Model:   cfg.AI.Model,
			APIKey:  cfg.AI.APIKey,
			Timeout: cfg.AI.Timeout,
		}, logger)
		if err != nil {
			slog.Error("Failed to initialize assistant client", "error", err)
			os.Exit(1)
		}
		gateway = client
		slog.Info("Assistant gateway enabled", "model", cfg.AI.Model)
	} else {
		slog.Info("Assistant disabled (AI_API_KEY not set)")
	}

	// Realtime layer.
	rooms := room.NewRegistry()
	router := session.NewRouter(rooms, gateway)
	sessionGateway := session.NewGateway(repo, tokens, rooms, cfg.FrontendURL, cfg.IsDevelopment())
	sessionGateway.Handle(session.EventProjectMessage, router.HandleProjectMessage)

	// REST handlers.
	userHandler := api.NewUserHandler(repo, tokens)
	projectHandler := api.NewProjectHandler(repo, tokens)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	userHandler.RegisterRoutes(r)
	projectHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/socket", sessionGateway.ServeHTTP)

	// Create server. WebSocket connections are long-lived; the write
	// timeout stays off so broadcasts are not cut mid-session.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	slog.Info("Server stopped successfully")
}
