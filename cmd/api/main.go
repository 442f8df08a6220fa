package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/atticusjxn/FlynnAIapp-sub006/cmd/mainconfig"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/api/router"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/availability"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/calls"
	appconfig "github.com/atticusjxn/FlynnAIapp-sub006/internal/config"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/events"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/extraction"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/http/handlers"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/jobs"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/messaging"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/notify"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/observability/metrics"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/recordings"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/reminders"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/routing"
	"github.com/atticusjxn/FlynnAIapp-sub006/internal/transcription"
	"github.com/atticusjxn/FlynnAIapp-sub006/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting flynn intake API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	pipelineMetrics := metrics.NewPipelineMetrics(registry)

	// Stores
	callRepo := calls.NewPostgresRepository(pool)
	jobRepo := jobs.NewPostgresRepository(pool)
	reminderStore := reminders.NewPostgresStore(pool)
	reminderSettings := reminders.NewPostgresSettings(pool)
	history := events.NewPostgresHistory(pool)
	processed := events.NewProcessedStore(pool)
	directory := routing.NewPostgresDirectory(pool)

	// Outbound messaging and owner alerts
	smsSender := messaging.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger)
	notifier := notify.NewService(buildEmailSender(cfg, awsCfg, logger), notify.NewPostgresContacts(pool), callRepo, logger)

	// Reminder engine
	scheduler, err := reminders.NewScheduler(reminders.SchedulerConfig{
		Jobs:       jobRepo,
		Store:      reminderStore,
		Settings:   reminderSettings,
		Logger:     logger,
		MaxRetries: cfg.ReminderMaxRetries,
	})
	if err != nil {
		logger.Error("failed to build reminder scheduler", "error", err)
		os.Exit(1)
	}
	processor, err := reminders.NewProcessor(reminders.ProcessorConfig{
		Store:      reminderStore,
		Jobs:       jobRepo,
		Settings:   reminderSettings,
		Sender:     smsSender,
		History:    history,
		Lock:       buildRunLock(cfg),
		Alerter:    notifier,
		Metrics:    pipelineMetrics,
		Logger:     logger,
		Interval:   cfg.ReminderInterval,
		BatchSize:  cfg.ReminderBatchSize,
		RetryDelay: cfg.ReminderRetryDelay,
	})
	if err != nil {
		logger.Error("failed to build reminder processor", "error", err)
		os.Exit(1)
	}
	go processor.Run(ctx)

	// Transcript -> job extraction
	llm, err := buildLLMClient(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to build LLM client", "error", err)
		os.Exit(1)
	}
	extractor, err := extraction.New(extraction.Config{
		LLM:       llm,
		ModelID:   cfg.BedrockModelID,
		Calls:     callRepo,
		Jobs:      jobRepo,
		Owners:    directory,
		Scheduler: scheduler,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to build extractor", "error", err)
		os.Exit(1)
	}

	// Recording -> transcript pipeline
	coordinatorCfg := transcription.CoordinatorConfig{
		Repo:        callRepo,
		Fetcher:     recordings.NewFetcher(cfg.TwilioAccountSID, cfg.TwilioAuthToken, logger),
		Transcriber: transcription.NewWhisperClient(cfg.OpenAIAPIKey, cfg.WhisperModel, cfg.TranscribeTimeout, logger),
		Extractor:   extractor,
		Alerter:     notifier,
		Logger:      logger,
		Metrics:     pipelineMetrics,
	}
	if cfg.RecordingsBucket != "" {
		coordinatorCfg.Archive = recordings.NewArchive(s3.NewFromConfig(awsCfg), cfg.RecordingsBucket, cfg.RecordingURLTTL, logger)
	}
	coordinator := transcription.NewCoordinator(coordinatorCfg)

	// HTTP surface
	telephonyHandler := handlers.NewTelephonyHandler(handlers.TelephonyHandlerConfig{
		AuthToken:           cfg.TwilioAuthToken,
		PublicBaseURL:       cfg.PublicBaseURL,
		StreamURL:           cfg.ReceptionistStreamURL,
		MaxRecordingSeconds: cfg.MaxRecordingSeconds,
		Router:              routing.NewRouter(directory, logger),
		Calls:               callRepo,
		Pipeline:            coordinator,
		Processed:           processed,
		History:             history,
		Metrics:             pipelineMetrics,
		Logger:              logger,
	})
	availSource := availability.NewPostgresSource(pool)
	r := router.New(&router.Config{
		Logger:         logger,
		Telephony:      telephonyHandler,
		Jobs:           jobs.NewHandler(jobRepo, smsSender, reminderStore, logger),
		Availability:   handlers.NewAvailabilityHandler(availability.NewCalculator(availSource, availSource, logger), logger),
		JWTSecret:      cfg.APIJWTSecret,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// buildLLMClient wires Bedrock as the primary extraction model with Gemini
// as an optional fallback.
func buildLLMClient(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (extraction.LLMClient, error) {
	var primary extraction.LLMClient
	if cfg.BedrockModelID != "" {
		primary = extraction.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg))
	}
	if cfg.GeminiAPIKey != "" {
		gemini, err := extraction.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, err
		}
		if primary == nil {
			return gemini, nil
		}
		return extraction.NewFallbackLLMClient(primary, gemini, logger), nil
	}
	if primary == nil {
		return nil, errors.New("either BEDROCK_MODEL_ID or GEMINI_API_KEY must be set")
	}
	return primary, nil
}

func buildRunLock(cfg *appconfig.Config) *reminders.RunLock {
	if cfg.RedisAddr == "" {
		return nil
	}
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return reminders.NewRunLock(redis.NewClient(opts), 0)
}

// buildEmailSender returns nil (alerts disabled) when the selected provider
// is not fully configured. The constructors return typed nils, hence the
// explicit checks.
func buildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	switch cfg.EmailProvider {
	case "ses":
		if cfg.SESFromEmail == "" {
			return nil
		}
		if s := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{FromEmail: cfg.SESFromEmail, FromName: "Flynn"}, logger); s != nil {
			return s
		}
	default:
		if s := notify.NewSendGridSender(notify.SendGridConfig{APIKey: cfg.SendGridAPIKey, FromEmail: cfg.SendGridFromEmail, FromName: "Flynn"}, logger); s != nil {
			return s
		}
	}
	return nil
}
