package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/clinicware/turnero/internal/api/router"
	"github.com/clinicware/turnero/internal/availability"
	"github.com/clinicware/turnero/internal/booking"
	"github.com/clinicware/turnero/internal/calendar"
	"github.com/clinicware/turnero/internal/channel/telegram"
	appconfig "github.com/clinicware/turnero/internal/config"
	"github.com/clinicware/turnero/internal/conversation"
	"github.com/clinicware/turnero/internal/observability/metrics"
	"github.com/clinicware/turnero/internal/transcript"
	"github.com/clinicware/turnero/pkg/logging"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	// A local .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting turnero bot",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error("invalid timezone", "timezone", cfg.Timezone, "error", err)
		os.Exit(1)
	}

	calendars, err := cfg.ProviderCalendars()
	if err != nil {
		logger.Error("invalid provider table", "error", err)
		os.Exit(1)
	}
	directory, err := booking.NewDirectory(calendars)
	if err != nil {
		logger.Error("invalid provider table", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	botMetrics := metrics.NewBotMetrics(registry)

	store, err := calendar.NewGoogleClient(ctx, cfg.GoogleCredentialsFile, cfg.Timezone,
		logger.Component("calendar"),
		calendar.WithTimeout(cfg.RemoteCallTimeout),
		calendar.WithCalendarMetrics(botMetrics))
	if err != nil {
		logger.Error("calendar client init failed", "error", err)
		os.Exit(1)
	}

	engine, err := availability.NewEngine(store, loc, cfg.OfficeOpen, cfg.OfficeClose,
		cfg.SlotDuration, logger.Component("availability"))
	if err != nil {
		logger.Error("availability engine init failed", "error", err)
		os.Exit(1)
	}

	manager := booking.NewManager(store, directory, engine, cfg.MaxListedBookings,
		logger.Component("booking"), booking.WithMetrics(botMetrics))

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("redis unreachable", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}
	sessions := conversation.NewRedisSessionStore(redisClient, cfg.SessionTTL)

	// Transcript archiving is optional; without a database the bot still runs.
	var transcriptStore *transcript.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("postgres pool init failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		transcriptStore = transcript.NewStore(pool, logger.Component("transcript"))
	} else {
		logger.Warn("DATABASE_URL not set, transcript archiving disabled")
	}

	sender, err := telegram.New(telegram.Config{
		Token:   cfg.TelegramToken,
		Timeout: cfg.RemoteCallTimeout,
		Logger:  logger.Component("telegram"),
	})
	if err != nil {
		logger.Error("telegram client init failed", "error", err)
		os.Exit(1)
	}

	machine := conversation.NewMachine(manager, engine, directory, loc,
		cfg.OperatorChatID, logger.Component("conversation"))

	// The TranscriptRecorder interface hides the nil store behind a typed nil,
	// so pass it explicitly only when configured.
	var recorder conversation.TranscriptRecorder
	if transcriptStore != nil {
		recorder = transcriptStore
	}
	dispatcher := conversation.NewDispatcher(sessions, machine, sender, recorder,
		botMetrics, cfg.DispatchTimeout, logger.Component("dispatcher"))

	webhook := telegram.NewWebhookHandler(dispatcher, cfg.TelegramWebhookSecret,
		logger.Component("webhook"))

	r := router.New(&router.Config{
		Logger:          logger,
		TelegramWebhook: webhook,
		MetricsHandler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		WebhookRate:     20,
		WebhookBurst:    40,
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

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
