package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all uploader settings in their typed form
type Config struct {
	DatabaseURL string
	LogLevel    string

	JobsBackend   string // "file" or "db"
	JobsFile      string
	FlushDebounce time.Duration

	PollInterval    time.Duration
	StaleAfter      time.Duration
	MaintenanceCron string
	JobRetention    time.Duration
	MetricsAddr     string

	YouTube YouTubeConfig
}

// YouTubeConfig holds the OAuth client and API endpoints
type YouTubeConfig struct {
	ClientID      string
	ClientSecret  string
	TokenURL      string
	APIURL        string
	UploadURL     string
	UploadTimeout time.Duration
}

// Load reads optional .env files and then the process environment
func Load() (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("failed to load env files: %w", err)
	}

	cfg := &Config{
		DatabaseURL:     getEnv("DATABASE_URL", "sqlite://./ytbatch.db"),
		LogLevel:        strings.ToUpper(getEnv("LOG_LEVEL", "INFO")),
		JobsBackend:     strings.ToLower(getEnv("JOBS_BACKEND", "file")),
		JobsFile:        getEnv("JOBS_FILE", "data/jobs.json"),
		FlushDebounce:   getEnvDuration("FLUSH_DEBOUNCE", time.Second),
		PollInterval:    getEnvDuration("POLL_INTERVAL", 5*time.Second),
		StaleAfter:      getEnvDuration("STALE_PROCESSING_AFTER", 6*time.Hour),
		MaintenanceCron: getEnv("MAINTENANCE_CRON", "0 3 * * *"),
		JobRetention:    getEnvDuration("JOB_RETENTION", 30*24*time.Hour),
		MetricsAddr:     getEnv("METRICS_ADDR", ""),
		YouTube: YouTubeConfig{
			ClientID:      getEnv("YOUTUBE_CLIENT_ID", ""),
			ClientSecret:  getEnv("YOUTUBE_CLIENT_SECRET", ""),
			TokenURL:      getEnv("YOUTUBE_TOKEN_URL", "https://oauth2.googleapis.com/token"),
			APIURL:        getEnv("YOUTUBE_API_URL", "https://www.googleapis.com/youtube/v3"),
			UploadURL:     getEnv("YOUTUBE_UPLOAD_URL", "https://www.googleapis.com/upload/youtube/v3"),
			UploadTimeout: getEnvDuration("UPLOAD_TIMEOUT", 2*time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise break the worker at runtime
func (c *Config) Validate() error {
	if c.JobsBackend != "file" && c.JobsBackend != "db" {
		return fmt.Errorf("JOBS_BACKEND must be 'file' or 'db', got %q", c.JobsBackend)
	}
	if c.JobsBackend == "file" && strings.TrimSpace(c.JobsFile) == "" {
		return fmt.Errorf("JOBS_FILE is required when JOBS_BACKEND=file")
	}
	if c.PollInterval <= 0 {
		log.Printf("WARNING: POLL_INTERVAL must be positive, resetting to 5s")
		c.PollInterval = 5 * time.Second
	}
	if c.FlushDebounce < 0 {
		c.FlushDebounce = 0
	}
	if c.FlushDebounce > 10*time.Second {
		log.Printf("WARNING: FLUSH_DEBOUNCE %v is too large, capping at 10s", c.FlushDebounce)
		c.FlushDebounce = 10 * time.Second
	}
	return nil
}

// loadEnvFiles loads .env, .env.<ENVIRONMENT> and .env.local when present.
// .env only fills variables the process environment does not set.
// .env.<ENVIRONMENT> and .env.local override both, later files winning.
func loadEnvFiles() error {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}
	}

	if env := os.Getenv("ENVIRONMENT"); env != "" {
		envFile := fmt.Sprintf(".env.%s", env)
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Overload(envFile); err != nil {
				return fmt.Errorf("failed to load %s: %w", envFile, err)
			}
		}
	}

	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Overload(".env.local"); err != nil {
			return fmt.Errorf("failed to load .env.local: %w", err)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// GetEnvInt retrieves an integer from environment variable with default fallback
func GetEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// GetEnvDuration retrieves a duration from environment variable with default fallback
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	return getEnvDuration(key, defaultValue)
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultValue
}
