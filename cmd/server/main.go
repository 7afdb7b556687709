package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/darkodi/snaplink/internal/config"
	"github.com/darkodi/snaplink/internal/handler"
	"github.com/darkodi/snaplink/internal/logger"
	"github.com/darkodi/snaplink/internal/middleware"
	"github.com/darkodi/snaplink/internal/repository"
	"github.com/darkodi/snaplink/internal/service"
	"github.com/darkodi/snaplink/internal/web"
)

func main() {
	// ============================================================
	// LOAD CONFIGURATION
	// ============================================================
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log)
	logStartup(log, cfg)

	// ============================================================
	// INITIALIZE LAYERS
	// ============================================================
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	repo, err := repository.Open(ctx, cfg.Store, log.Logger)
	cancel()
	if err != nil {
		log.Error("failed to open link store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}

	svc := service.NewLinkService(repo, cfg.App.BaseURL, log.Logger).
		WithAttempts(cfg.App.ShortIDAttempts)

	pages, err := web.NewRenderer()
	if err != nil {
		log.Error("failed to parse templates", "error", err)
		os.Exit(1)
	}

	h := handler.NewLinkHandler(svc, pages, cfg.App.BaseURL, log)

	// ============================================================
	// BUILD MIDDLEWARE CHAIN
	// ============================================================
	router := middleware.Chain(
		h.Routes(middleware.Metrics),
		middleware.RequestID,
		middleware.Recovery(log),
		middleware.Logging(log),
	)

	// ============================================================
	// CREATE SERVER WITH CONFIG TIMEOUTS
	// ============================================================
	addr := ":" + cfg.Server.Port
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)

	go func() {
		log.Info("server listening", "addr", addr)
		serverErr <- server.ListenAndServe()
	}()

	// ============================================================
	// WAIT FOR SHUTDOWN OR ERROR
	// ============================================================
	select {
	case err := <-serverErr:
		log.Error("server error", "error", err)
		repo.Close()
		os.Exit(1)

	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
			if err := server.Close(); err != nil {
				log.Error("forced shutdown failed", "error", err)
			}
		}

		if err := repo.Close(); err != nil {
			log.Error("failed to close link store", "error", err)
		}

		log.Info("server stopped")
	}
}

func logStartup(log *logger.Logger, cfg *config.Config) {
	log.Info("starting snaplink",
		"environment", cfg.App.Environment,
		"store", cfg.Store.Driver,
		"base_url", cfg.App.BaseURL,
		"level", cfg.Log.Level,
	)

	if cfg.IsDevelopment() {
		log.Info("endpoints",
			"create", "POST /api/urls",
			"list", "GET /api/urls",
			"lookup", "GET /api/urls/{shortId}",
			"redirect", "GET /{shortId}",
			"stats", "GET /stats/{shortId}",
			"health", "GET /health",
		)
	}

	// one sqlite file cannot be shared between replicas
	if cfg.IsProduction() && cfg.Store.Driver == config.DriverSQLite {
		log.Warn("sqlite store in production", "path", cfg.Store.Path)
	}
}
