package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

var ErrMissingConfig = errors.New("missing required configuration")

// Config holds all application configuration.
type Config struct {
	Port        string
	Environment string

	DatabasePath string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleTokenURL     string
	CalendarAPIBaseURL string

	Timezone string

	SweepIntervalMinutes int
	WorkerPollSeconds    int

	CalendarAPIRPS   int
	CalendarAPIBurst int
	RateLimitRPS     int
	RateLimitBurst   int

	LogRetentionDays int
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first if present.
func Load() (*Config, error) {
	// Ignore error; .env is optional in production.
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "production"),

		DatabasePath: getEnv("DATABASE_PATH", "./data/famsync.db"),

		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleTokenURL:     getEnv("GOOGLE_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		CalendarAPIBaseURL: getEnv("CALENDAR_API_BASE_URL", "https://www.googleapis.com/calendar/v3"),

		Timezone: getEnv("TIMEZONE", "America/New_York"),

		SweepIntervalMinutes: getEnvInt("SWEEP_INTERVAL_MINUTES", 10),
		WorkerPollSeconds:    getEnvInt("WORKER_POLL_SECONDS", 5),

		CalendarAPIRPS:   getEnvInt("CALENDAR_API_RPS", 5),
		CalendarAPIBurst: getEnvInt("CALENDAR_API_BURST", 10),
		RateLimitRPS:     getEnvInt("RATE_LIMIT_RPS", 10),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", 20),

		LogRetentionDays: getEnvInt("LOG_RETENTION_DAYS", 30),
	}

	var missing []string
	if cfg.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}
	if cfg.GoogleClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}

	return cfg, nil
}

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
