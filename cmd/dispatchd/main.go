package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"emergency-response/internal/config"
	"emergency-response/internal/dispatch"
	"emergency-response/internal/repository"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded")
	}

	dbURL := config.GetDBURL()
	redisCfg := config.GetRedisConfig()
	if dbURL == "" {
		logger.Fatal("DATABASE_URL is empty")
	}
	if redisCfg.Addr == "" {
		logger.Fatal("REDIS_ADDR is empty")
	}
	cfg := config.GetDispatchConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storage, err := repository.NewStorage(dbURL, redisCfg)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize storage")
	}

	if err := storage.CreateTables(ctx); err != nil {
		logger.WithError(err).Fatal("failed to create tables")
	}

	svc := dispatch.NewService(storage, logger)
	h := dispatch.NewHandler(logger, svc)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: dispatch.NewRouter(h),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server ListenAndServe error")
		}
	}()

	logger.WithField("addr", cfg.ListenAddr).Info("dispatch authority started")

	worker := dispatch.NewWebhookWorker(storage, logger, cfg.WebhookURL)
	go worker.Run(ctx)

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("server forced to shutdown")
	} else {
		logger.Info("Server stopped gracefully")
	}

	if err := storage.Close(); err != nil {
		logger.WithError(err).Warn("storage close error")
	} else {
		logger.Info("Storage closed")
	}
}
