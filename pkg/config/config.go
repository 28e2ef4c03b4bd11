package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	// Load environment variables from .env files when present.
	_ "github.com/joho/godotenv/autoload"
)

// Config holds all application configuration
type Config struct {
	Ingest        IngestConfig
	Database      DatabaseConfig
	Observability ObservabilityConfig
}

// IngestConfig configures the watched-inbox ingestion pipeline.
type IngestConfig struct {
	InboxDir    string
	ArchiveDir  string
	RescanCron  string // cron spec for the periodic inbox re-scan
	DateGapDays int    // txn/posting date gap beyond which the posting date wins

	ProbeSettle   time.Duration
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	MetricsPort    int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Ingest: IngestConfig{
			InboxDir:      getEnv("INBOX_DIR", "./inbox"),
			ArchiveDir:    getEnv("ARCHIVE_DIR", "./archive"),
			RescanCron:    getEnv("INBOX_RESCAN_CRON", "*/5 * * * *"),
			DateGapDays:   getEnvAsInt("DATE_GAP_DAYS", 31),
			ProbeSettle:   getEnvAsDuration("PROBE_SETTLE", 2*time.Second),
			ProbeInterval: getEnvAsDuration("PROBE_INTERVAL", 500*time.Millisecond),
			ProbeTimeout:  getEnvAsDuration("PROBE_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "finance-tracker"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			MetricsPort:    getEnvAsInt("METRICS_PORT", 9090),
		},
	}

	if cfg.Ingest.DateGapDays <= 0 {
		cfg.Ingest.DateGapDays = 31
	}

	return cfg, nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
