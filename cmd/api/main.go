package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paintEstimator/internal/config"
	"paintEstimator/internal/estimates"
	"paintEstimator/internal/estimator"
	"paintEstimator/internal/events"
	"paintEstimator/internal/llm"
	"paintEstimator/internal/logging"
	"paintEstimator/internal/media"
	"paintEstimator/internal/server"
	"paintEstimator/internal/storage"
)

func main() {
	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logging.Default("info").Fatal().Err(err).Msg("failed to load config")
	}
	logger := logging.Default(cfg.LogLevel)

	ctx := context.Background()
	store, err := storage.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init store")
	}
	defer store.Close()
	if cfg.DatabaseURL == "" {
		logger.Info().Msg("store: in-memory (DATABASE_URL not set)")
	}

	var uploader media.Uploader
	if cfg.Media.Enabled() {
		uploader, err = media.NewUploader(ctx, cfg.Media)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init media uploader")
		}
	} else {
		uploader, err = media.NewLocalUploader("")
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init local media storage")
		}
		logger.Info().Msg("media uploader: using local temp storage (S3 config missing)")
	}

	client, err := llm.NewClient(cfg.Gemini, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init gemini client")
	}
	if cfg.Gemini.APIKey == "" && cfg.Gemini.Backend == llm.BackendGeminiAPI {
		logger.Warn().Msg("GEMINI_API_KEY not set; requests must send X-Gemini-Api-Key")
	}

	broker := events.NewBroker()
	svc := estimator.New(store, uploader, client, broker, cfg.CacheTTL, logger)

	handler := estimates.Handler{
		Estimator:  svc,
		Store:      store,
		Events:     broker,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Log:        logger,
	}
	srv := server.New(cfg.Port, handler, logger)

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownChan
		logger.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown error")
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server failed")
	}
}
