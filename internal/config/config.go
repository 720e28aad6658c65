// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the databases, always absolute
	Port     int
	LogLevel string
	DevMode  bool

	QuoteTTL            time.Duration // how long a manual quote stays fresh
	SnapshotSchedule    string        // cron expression for the daily dashboard snapshot
	SweepSchedule       string        // cron expression for the expiration sweep
	QuotePurgeSchedule  string        // cron expression for the quote-cache purge
	BackupSchedule      string        // cron expression for the nightly backup
	MaintenanceSchedule string        // cron expression for WAL checkpointing
	BackupRetentionDays int

	Backup *BackupConfig // nil when remote backups are not configured
}

// BackupConfig holds S3-compatible storage credentials for backups.
type BackupConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("FOLIO_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("FOLIO_PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		QuoteTTL:            getEnvAsDuration("QUOTE_TTL", 24*time.Hour),
		SnapshotSchedule:    getEnv("SNAPSHOT_SCHEDULE", "30 23 * * *"),
		SweepSchedule:       getEnv("SWEEP_SCHEDULE", "0 6 * * *"),
		QuotePurgeSchedule:  getEnv("QUOTE_PURGE_SCHEDULE", "@hourly"),
		BackupSchedule:      getEnv("BACKUP_SCHEDULE", "0 3 * * *"),
		MaintenanceSchedule: getEnv("MAINTENANCE_SCHEDULE", "0 4 * * *"),
		BackupRetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
	}

	// Remote backups only when the full credential set is present.
	backup := &BackupConfig{
		Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
		Region:          getEnv("BACKUP_S3_REGION", ""),
		AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
		Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
	}
	if backup.AccessKeyID != "" && backup.SecretAccessKey != "" && backup.Bucket != "" {
		cfg.Backup = backup
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if dur, err := time.ParseDuration(value); err == nil {
			return dur
		}
	}
	return defaultValue
}
