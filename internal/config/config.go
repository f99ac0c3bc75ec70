package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Telegram channel
	TelegramToken         string
	TelegramWebhookSecret string
	OperatorChatID        int64

	// Google Calendar
	GoogleCredentialsFile string
	ProviderCalendarsJSON string

	// Scheduling rules
	Timezone          string
	OfficeOpen        string
	OfficeClose       string
	SlotDuration      time.Duration
	MaxListedBookings int
	RemoteCallTimeout time.Duration
	SessionTTL        time.Duration
	DispatchTimeout   time.Duration

	// Stores
	RedisAddr     string
	RedisPassword string
	DatabaseURL   string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		TelegramToken:         getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramWebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),
		OperatorChatID:        getEnvAsInt64("OPERATOR_CHAT_ID", 0),

		GoogleCredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", "credentials.json"),
		ProviderCalendarsJSON: getEnv("PROVIDER_CALENDARS_JSON", ""),

		Timezone:          getEnv("BUSINESS_TIMEZONE", "America/Argentina/Buenos_Aires"),
		OfficeOpen:        getEnv("OFFICE_OPEN", "09:00"),
		OfficeClose:       getEnv("OFFICE_CLOSE", "18:00"),
		SlotDuration:      getEnvAsDuration("SLOT_DURATION", 30*time.Minute),
		MaxListedBookings: getEnvAsInt("MAX_LISTED_BOOKINGS", 5),
		RemoteCallTimeout: getEnvAsDuration("REMOTE_CALL_TIMEOUT", 10*time.Second),
		SessionTTL:        getEnvAsDuration("SESSION_TTL", 24*time.Hour),
		DispatchTimeout:   getEnvAsDuration("DISPATCH_TIMEOUT", 30*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
	}
}

// Validate checks that the configuration is complete enough to accept
// sessions. A missing required value is a startup error, not a degraded mode.
func (c *Config) Validate() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("config: TELEGRAM_BOT_TOKEN is required")
	}
	if c.ProviderCalendarsJSON == "" {
		return fmt.Errorf("config: PROVIDER_CALENDARS_JSON is required")
	}
	if _, err := c.ProviderCalendars(); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: invalid BUSINESS_TIMEZONE %q: %w", c.Timezone, err)
	}
	if c.SlotDuration <= 0 {
		return fmt.Errorf("config: SLOT_DURATION must be positive")
	}
	return nil
}

// ProviderCalendars decodes the provider name -> calendar ID map.
func (c *Config) ProviderCalendars() (map[string]string, error) {
	var m map[string]string
	if err := json.Unmarshal([]byte(c.ProviderCalendarsJSON), &m); err != nil {
		return nil, fmt.Errorf("config: invalid PROVIDER_CALENDARS_JSON: %w", err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("config: PROVIDER_CALENDARS_JSON defines no providers")
	}
	return m, nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
