// Package router assembles the HTTP surface: the chat webhook, health
// check, and Prometheus metrics.
package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	httpmiddleware "github.com/clinicware/turnero/internal/http/middleware"
	"github.com/clinicware/turnero/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger          *logging.Logger
	TelegramWebhook http.Handler
	MetricsHandler  http.Handler

	// WebhookRate limits inbound webhook calls per IP; zero disables.
	WebhookRate  float64
	WebhookBurst int
}

// New creates a chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", healthCheck)

	if cfg.TelegramWebhook != nil {
		if cfg.WebhookRate > 0 {
			r.With(httpmiddleware.RateLimit(cfg.WebhookRate, cfg.WebhookBurst)).
				Post("/webhooks/telegram", cfg.TelegramWebhook.ServeHTTP)
		} else {
			r.Post("/webhooks/telegram", cfg.TelegramWebhook.ServeHTTP)
		}
	}

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	return r
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
