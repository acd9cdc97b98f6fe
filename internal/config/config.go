// Package config loads the immutable, env-backed configuration value
// threaded through every component (spec.md §6.3, §9 "process-global
// configuration" redesign flag). There is no global state: Load returns
// one Config and every caller passes it explicitly from there on.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is immutable once returned by Load.
type Config struct {
	DatabaseURL string

	BackupStorageRoot        string
	ValidatedBackupsBasePath string

	ScannerIntervalMinutes                int
	ScannerReportCollectionWindowMinutes  int
	MaxStatusFileAgeDays                  int
	ExpectedBackupDaysOfWeek              []string

	SMTPHost                 string
	SMTPPort                 string
	SMTPUser                 string
	SMTPPass                 string
	SMTPSender               string
	AdminRecipient           string
	NotifyRateLimitPerMinute float64

	// AgentConcurrency bounds per-pass parallelism across distinct agent
	// directories and across jobs (spec.md §5); not part of the original env surface,
	// added so a pass can be tuned without a code change.
	AgentConcurrency int

	// APIPort serves the read-only catalogue/history surface (spec.md
	// §1's "thin, out of scope" REST/WS layer).
	APIPort string

	LogLevel string
}

func (c Config) ScannerInterval() time.Duration {
	return time.Duration(c.ScannerIntervalMinutes) * time.Minute
}

func (c Config) ScannerReportCollectionWindow() time.Duration {
	return time.Duration(c.ScannerReportCollectionWindowMinutes) * time.Minute
}

func (c Config) MaxStatusFileAge() time.Duration {
	return time.Duration(c.MaxStatusFileAgeDays) * 24 * time.Hour
}

// Load reads every key from the environment, applying the defaults
// from spec.md §6.3, and fails fast on the one value that has no safe
// default: DATABASE_URL.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:                          os.Getenv("DATABASE_URL"),
		BackupStorageRoot:                    getEnvString("BACKUP_STORAGE_ROOT", "/mnt/backups"),
		ValidatedBackupsBasePath:             getEnvString("VALIDATED_BACKUPS_BASE_PATH", "/mnt/backups/validated"),
		ScannerIntervalMinutes:               getEnvInt("SCANNER_INTERVAL_MINUTES", 15),
		ScannerReportCollectionWindowMinutes: getEnvInt("SCANNER_REPORT_COLLECTION_WINDOW_MINUTES", 60),
		MaxStatusFileAgeDays:                 getEnvInt("MAX_STATUS_FILE_AGE_DAYS", 1),
		ExpectedBackupDaysOfWeek:             getEnvList("EXPECTED_BACKUP_DAYS_OF_WEEK", []string{"Mo", "Tu", "We", "Th", "Fr", "Sa"}),
		SMTPHost:                             os.Getenv("SMTP_HOST"),
		SMTPPort:                             getEnvString("SMTP_PORT", "587"),
		SMTPUser:                             os.Getenv("SMTP_USER"),
		SMTPPass:                             os.Getenv("SMTP_PASS"),
		SMTPSender:                           os.Getenv("SMTP_SENDER"),
		AdminRecipient:                       os.Getenv("SMTP_ADMIN_RECIPIENT"),
		NotifyRateLimitPerMinute:             getEnvFloat("NOTIFY_RATE_LIMIT_PER_MINUTE", 30),
		AgentConcurrency:                     getEnvInt("SCANNER_AGENT_CONCURRENCY", 8),
		APIPort:                              getEnvString("API_PORT", "8080"),
		LogLevel:                             getEnvString("LOG_LEVEL", "info"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: DATABASE_URL is required")
	}
	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
