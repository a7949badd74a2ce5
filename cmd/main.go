package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"emergency-response/internal/api"
	"emergency-response/internal/config"
	"emergency-response/internal/engine"
	"emergency-response/internal/handler"
	"emergency-response/internal/location"
	"emergency-response/internal/service"
	"emergency-response/internal/session"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded")
	}

	cfg := config.GetCompanionConfig()
	if cfg.DispatchURL == "" {
		logger.Fatal("DISPATCH_URL is empty")
	}
	if cfg.ResponderID == "" {
		logger.Fatal("RESPONDER_ID is empty")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := api.NewHTTPClient(cfg.DispatchURL, cfg.ResponderID, logger)
	sess := session.New(client, logger)
	if _, ok := sess.Load(ctx); !ok {
		logger.Warn("responder profile not loaded yet, operations suspended until it is")
	}

	enricher := location.NewEnricher(
		location.EnvSource{},
		location.NewHTTPGeocoder(cfg.GeocoderURL),
		logger,
	)

	eng := engine.New(client, sess, enricher, logger)

	h := handler.NewHandler(logger, eng)
	mux := http.NewServeMux()
	h.Register(mux)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server ListenAndServe error")
		}
	}()

	logger.WithField("addr", cfg.ListenAddr).Info("responder companion started")

	worker := service.NewPollWorker(eng, cfg.PollInterval, logger)
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
}
