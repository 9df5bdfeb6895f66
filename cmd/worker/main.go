// Package main provides the scheduled reconciliation worker for the token claim service.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pegged-token/claimer/internal/app"
	"github.com/pegged-token/claimer/internal/config"
	"github.com/pegged-token/claimer/internal/logging"
	"github.com/pegged-token/claimer/internal/worker"
)

func main() {
	fmt.Println("Token Claimer Sync Worker")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	application, err := app.New(startCtx, cfg)
	startCancel()
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize claim service")
	}
	defer application.Close()

	if application.Redis == nil {
		logger.Warn("Redis is not configured; the account lock only covers this process, do not run alongside the API server")
	}

	syncWorker, err := worker.NewSyncWorker(&worker.SyncWorkerConfig{
		Syncer:     application.Service,
		Schedule:   cfg.Sync.Schedule,
		RunOnStart: true,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create sync worker")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := syncWorker.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start sync worker")
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer stopCancel()
	if err := syncWorker.Stop(stopCtx); err != nil {
		logger.WithError(err).Error("Sync worker did not stop cleanly")
	}

	status := syncWorker.Status()
	logger.WithFields(map[string]interface{}{
		"runs":     status.Runs,
		"failures": status.Failures,
	}).Info("Worker exited")
}
