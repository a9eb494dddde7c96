/*
Package main is the entry point for the relaychat server.

It is responsible for loading configuration, initializing the global logging system,
opening the message store, setting up the HTTP server and the chat hub,
and gracefully handling operating system interrupt signals (SIGINT, SIGTERM)
to ensure a smooth server shutdown.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/db"
	"relaychat/internal/app/user"
	"relaychat/internal/configs"
	"relaychat/internal/handler"
	"relaychat/internal/pkg/auth/jwt"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/pow"
)

func main() {
	// Load configuration from the config file and environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logx.InitGlobalLogger(cfg.IsDevelopment(), cfg.LogLevel)
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("database_driver", cfg.DatabaseDriver).
		Int("pow_difficulty", cfg.PowDifficulty).
		Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		logx.Fatal(err, "Failed to open database", "driver", cfg.DatabaseDriver)
	}
	defer store.Close()

	if cfg.SuperuserUsername != "" {
		created, err := user.EnsureSuperuser(ctx, store, cfg.SuperuserUsername, cfg.SuperuserPassword)
		if err != nil {
			logx.Fatal(err, "Failed to seed superuser", "username", cfg.SuperuserUsername)
		}
		if created {
			logx.Info("Superuser created", "username", cfg.SuperuserUsername)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := chat.NewMetrics(registry)

	hub := chat.NewHub(metrics)
	services := &chat.Services{
		Hub:      hub,
		Store:    store,
		Verifier: jwt.NewVerifier(cfg.JWTSecret),
		Config:   cfg,
		Metrics:  metrics,
	}

	powManager := pow.NewManager(cfg.PowDifficulty)
	defer powManager.Stop()

	router := handler.Router(&handler.AppDeps{
		Config:     cfg,
		Store:      store,
		Chat:       services,
		ChatRouter: chat.NewRouter(services),
		Pow:        powManager,
		Gatherer:   registry,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("relaychat server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	// Hijacked WebSocket connections are not tracked by the server, close them first.
	hub.Shutdown()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	logx.Info("Server gracefully stopped.")
}
