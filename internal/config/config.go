package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the whole application configuration, populated from
// environment variables.
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Redis    RedisConfig
	MinIO    MinIOConfig
	LLM      LLMConfig
	Pipeline PipelineConfig
	Webhook  WebhookConfig
	Listing  ListingConfig
}

type AppConfig struct {
	Name        string
	Environment string // development, staging, production
	Port        string
	Version     string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

type RedisConfig struct {
	Host     string
	Password string
	DB       int
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type LLMConfig struct {
	APIKey            string
	Model             string
	MaxTokens         int
	Temperature       float64
	RequestsPerMinute int
}

// PipelineConfig tunes the stage machinery: retry budget, snapshot
// freshness, image downscaling, and the stuck-status sweep.
type PipelineConfig struct {
	MaxRetries        int
	RetryBaseDelay    time.Duration
	MarketDataMaxAge  time.Duration
	ImageMaxDimension int
	StuckAfter        time.Duration
	SweepSchedule     string
}

type WebhookConfig struct {
	// Secrets per platform, from WEBHOOK_SECRET_<PLATFORM>.
	DedupeTTL time.Duration
}

type ListingConfig struct {
	// Platforms enabled for new listings, comma separated.
	Platforms []string
	BaseURL   string
	APIKey    string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:        getEnv("APP_NAME", "Bookresale API"),
			Environment: getEnv("APP_ENV", "development"),
			Port:        getEnv("APP_PORT", "8080"),
			Version:     getEnv("APP_VERSION", "1.0.0"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "bookresale"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 25),
			MinConns: getEnvInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    getEnv("MINIO_BUCKET", "bookresale"),
			UseSSL:    getEnv("MINIO_USE_SSL", "false") == "true",
		},
		LLM: LLMConfig{
			APIKey:            getEnv("ANTHROPIC_API_KEY", ""),
			Model:             getEnv("LLM_MODEL", ""),
			MaxTokens:         getEnvInt("LLM_MAX_TOKENS", 4096),
			Temperature:       getEnvFloat("LLM_TEMPERATURE", 0.2),
			RequestsPerMinute: getEnvInt("LLM_REQUESTS_PER_MINUTE", 50),
		},
		Pipeline: PipelineConfig{
			MaxRetries:        getEnvInt("PIPELINE_MAX_RETRIES", 3),
			RetryBaseDelay:    getEnvDuration("PIPELINE_RETRY_BASE_DELAY", time.Second),
			MarketDataMaxAge:  getEnvDuration("MARKET_DATA_MAX_AGE", 7*24*time.Hour),
			ImageMaxDimension: getEnvInt("IMAGE_MAX_DIMENSION", 1024),
			StuckAfter:        getEnvDuration("PIPELINE_STUCK_AFTER", 30*time.Minute),
			SweepSchedule:     getEnv("PIPELINE_SWEEP_SCHEDULE", "*/15 * * * *"),
		},
		Webhook: WebhookConfig{
			DedupeTTL: getEnvDuration("WEBHOOK_DEDUPE_TTL", 24*time.Hour),
		},
		Listing: ListingConfig{
			Platforms: splitList(getEnv("LISTING_PLATFORMS", "shoplocal")),
			BaseURL:   getEnv("LISTING_API_URL", "http://localhost:9090"),
			APIKey:    getEnv("LISTING_API_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.App.Environment == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD must be set in production")
		}
		if c.LLM.APIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY must be set in production")
		}
	}
	if c.Pipeline.MaxRetries < 1 {
		return fmt.Errorf("PIPELINE_MAX_RETRIES must be at least 1")
	}
	return nil
}

// WebhookSecret returns the shared secret for a platform's sale
// webhook, empty when unconfigured.
func (c *Config) WebhookSecret(platform string) string {
	return os.Getenv("WEBHOOK_SECRET_" + toEnvKey(platform))
}

// Helper functions
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func toEnvKey(s string) string {
	return strings.ToUpper(strings.ReplaceAll(s, "-", "_"))
}
