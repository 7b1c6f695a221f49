package config

import (
	"os"
	"strconv"
)

// Config holds the application configuration.
type Config struct {
	ServerPort        int
	DatabasePath      string
	JWTSecret         string
	AdminEmail        string // Seed admin account, created on first boot
	AdminPassword     string
	RetentionDays     int // Hard upper bound for automatic backup cleanup
	DiskWatchPath     string
	DiskAlertPercent  float64
	StaleBackupMaxAge int // Minutes before an in_progress backup is reconciled to failed

	// Static schedules, recreated in the task registry on every start.
	// An empty expression disables the task.
	FullBackupCron        string
	IncrementalBackupCron string
}

// Load loads configuration from environment variables or sets defaults.
func Load() (*Config, error) {
	portStr := getEnv("PORT", "8080")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}

	retention, err := strconv.Atoi(getEnv("BACKUP_RETENTION_DAYS", "30"))
	if err != nil {
		return nil, err
	}

	diskAlert, err := strconv.ParseFloat(getEnv("DISK_ALERT_PERCENT", "90"), 64)
	if err != nil {
		return nil, err
	}

	staleAge, err := strconv.Atoi(getEnv("STALE_BACKUP_MAX_AGE_MINUTES", "60"))
	if err != nil {
		return nil, err
	}

	return &Config{
		ServerPort:        port,
		DatabasePath:      getEnv("DATABASE_PATH", "./folio.db"),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		AdminEmail:        getEnv("ADMIN_EMAIL", "admin@localhost"),
		AdminPassword:     getEnv("ADMIN_PASSWORD", ""),
		RetentionDays:     retention,
		DiskWatchPath:     getEnv("DISK_WATCH_PATH", "."),
		DiskAlertPercent:  diskAlert,
		StaleBackupMaxAge: staleAge,

		FullBackupCron:        getEnv("FULL_BACKUP_CRON", "0 3 * * 0"),
		IncrementalBackupCron: getEnv("INCREMENTAL_BACKUP_CRON", "0 4 * * 1-6"),
	}, nil
}

// Helper to get an environment variable with a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
