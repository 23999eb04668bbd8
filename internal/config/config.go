// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/server and cmd/ops.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config is populated from environment variables.
type Config struct {
	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// Rate limiting (REST surface only; the socket is one long-lived request)
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// State store
	StoreBackend   string // memory | postgres
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// Risk evaluation
	ReactionTime      float64 // seconds
	Deceleration      float64 // m/s^2
	SafetyBuffer      float64 // meters
	OuterFactor       float64
	MinAlertSpeed     float64 // m/s
	DebounceDelta     float64 // meters
	DriverPresenceTTL time.Duration
	SweepInterval     time.Duration
	SweepWorkers      int

	// External classifier sidecar
	ClassifierURL     string
	ClassifierTimeout time.Duration

	// Frame upload bucket (empty = uploads disabled)
	GCSBucket            string
	GCSCrosswalkPrefix   string
	GCSNoCrosswalkPrefix string

	// REST response cache
	CacheEnabled bool
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	backend := envOr("STORE_BACKEND", StoreMemory)
	if backend != StoreMemory && backend != StorePostgres {
		return nil, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreMemory, StorePostgres, backend)
	}

	dbURL := envOr("DATABASE_URL", "")
	if backend == StorePostgres && dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set when STORE_BACKEND=postgres")
	}

	return &Config{
		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		StoreBackend:   backend,
		DatabaseURL:    dbURL,
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		ReactionTime:      envFloat("REACTION_TIME_SECONDS", 1.5),
		Deceleration:      envFloat("AVERAGE_DECELERATION", 3.0),
		SafetyBuffer:      envFloat("SAFETY_BUFFER_METERS", 20.0),
		OuterFactor:       envFloat("OUTER_ALERT_FACTOR", 2.5),
		MinAlertSpeed:     envFloat("MIN_ALERT_SPEED", 1.0),
		DebounceDelta:     envFloat("DEBOUNCE_MIN_DISTANCE_DELTA", 3.0),
		DriverPresenceTTL: time.Duration(envFloat("DRIVER_PRESENCE_TTL_SECONDS", 3.0) * float64(time.Second)),
		SweepInterval:     time.Duration(envFloat("SWEEP_INTERVAL_SECONDS", 1.0) * float64(time.Second)),
		SweepWorkers:      envInt("SWEEP_WORKERS", 4),

		ClassifierURL:     envOr("CLASSIFIER_URL", ""),
		ClassifierTimeout: time.Duration(envInt("CLASSIFIER_TIMEOUT_SECONDS", 20)) * time.Second,

		GCSBucket:            envOr("GCS_BUCKET", ""),
		GCSCrosswalkPrefix:   envOr("GCS_CROSSWALK_PREFIX", "crosswalk/"),
		GCSNoCrosswalkPrefix: envOr("GCS_NO_CROSSWALK_PREFIX", "no_crosswalk/"),

		CacheEnabled: envBool("CACHE_ENABLED", true),
	}, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
