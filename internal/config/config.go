package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	// Auth
	JWTSecret string
	JWTExpiry time.Duration

	// Retraction policy. Source deployments disagree on the window
	// (60s vs 5m), so it is configured rather than fixed.
	RetractionWindow  time.Duration
	AdminBypassWindow bool

	// History replay
	HistoryLimit int

	// Rate limiting
	RateLimitWhitelist []string
	AutoBlockEnabled   bool

	// Bootstrap superadmin credentials, created on first start if the
	// account does not exist yet.
	AdminUsername string
	AdminPassword string
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		Env:               getEnv("ENV", "development"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SQLitePath:        os.Getenv("SQLITE_PATH"),
		RedisURL:          os.Getenv("REDIS_URL"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		JWTExpiry:         getDuration("JWT_EXPIRY", 2*time.Hour),
		RetractionWindow:  getDuration("RETRACTION_WINDOW", 60*time.Second),
		AdminBypassWindow: getEnv("ADMIN_BYPASS_WINDOW", "true") == "true",
		HistoryLimit:      getInt("HISTORY_LIMIT", 100),
		AutoBlockEnabled:  getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
		AdminUsername:     getEnv("ADMIN_USERNAME", "superadmin"),
		AdminPassword:     os.Getenv("ADMIN_INITIAL_PASSWORD"),
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	if cfg.JWTSecret == "" {
		if cfg.Env == "production" {
			panic("JWT_SECRET is required in production")
		}
		cfg.JWTSecret = "dev-secret-do-not-use"
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
