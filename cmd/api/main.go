package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/papershelf/internal/api"
	"github.com/timmy/papershelf/internal/api/handler"
	"github.com/timmy/papershelf/internal/app"
	"github.com/timmy/papershelf/internal/config"
	"github.com/timmy/papershelf/internal/logger"
)

func main() {
	appLogger := logger.NewFromEnv(nil)
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// CONFIG_PATH overrides the default config search path
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	services, err := app.New(cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize services")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	services.Start(ctx)

	var history handler.JobHistory
	if services.History != nil {
		history = services.History
	}

	router := api.SetupRouter(&api.Services{
		Conversions: services.Conversions,
		Library:     services.Library,
		Search:      services.Search,
		Tools:       services.Tools,
		Events:      services.Hub,
		Ingest:      services.Ingest,
		History:     history,
		StagingRoot: cfg.Ingest.StagingRoot,
		JobCount:    func() int { return len(services.Tracker.List()) },
		Info:        handler.ServerInfo{Name: app.Name, Version: app.Version},
	}, &cfg.Server, appLogger)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port":         cfg.Server.Port,
			"mode":         cfg.Server.Mode,
			"storage_root": cfg.Storage.Root,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}
	// in-flight conversions get whatever is left of the deadline
	if err := services.Close(shutdownCtx); err != nil {
		appLogger.WithError(err).Warn("Conversions cancelled during shutdown")
	}
	stop()

	appLogger.Info("Server exited")
}
