package common

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// PollMinuteChoices enumerates the accepted source polling frequencies.
var PollMinuteChoices = map[int]struct{}{1: {}, 5: {}, 10: {}, 15: {}, 30: {}, 60: {}}

// Config holds all application configuration
type Config struct {
	Log       LogConfig
	Database  DatabaseConfig
	QueueDB   QueueDBConfig
	Source    SourceConfig
	Scanner   ScannerConfig
	Retention RetentionConfig
	Pipeline  PipelineConfig
	Notify    NotifyConfig
	Metrics   MetricsConfig
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Format string
	Level  string
}

// DatabaseConfig holds database-related configuration. An empty DSN selects
// the in-memory repositories.
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// QueueDBConfig holds the durable queue store location.
type QueueDBConfig struct {
	Path string // sqlite file; ":memory:" for tests
}

// SourceConfig describes the drop-folder source being scanned.
type SourceConfig struct {
	Kind     string // "local" | "ftp" | "sftp"
	Addr     string // host:port for remote kinds
	User     string
	Password string
	Root     string // remote root folder
}

// ScannerConfig holds source scanning configuration.
type ScannerConfig struct {
	Enabled        bool
	PollMinutes    int
	MinFileAge     time.Duration
	UnprocessedDir string
	ProcessedDir   string
	FailedDir      string
	StagingDir     string // local landing area for remote downloads
	WatchLocal     bool   // fsnotify watcher on UnprocessedDir in addition to polling
}

// RetentionConfig controls re-upload of soft-deleted documents and cleanup
// of processed files. Zero days means unlimited retention.
type RetentionConfig struct {
	Days int
}

// PipelineConfig tunes the extraction pipeline.
type PipelineConfig struct {
	TemplatesFile  string // YAML template definitions, optional
	ProcessTimeout time.Duration
}

// NotifyConfig holds outbound notification settings.
type NotifyConfig struct {
	Email           string // recipient for pipeline notifications; empty disables
	Provider        string
	SMTPHost        string
	SMTPPort        int
	SMTPUser        string
	SMTPPassword    string
	From            string
	RateCapacity    int
	RateRefill      int
	RateRefillEvery time.Duration
}

// MetricsConfig holds the prometheus endpoint and heartbeat settings.
type MetricsConfig struct {
	Addr              string
	HeartbeatInterval time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Log: LogConfig{
			Format: getEnv("LOG_FORMAT", "json"),
			Level:  getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		QueueDB: QueueDBConfig{
			Path: getEnv("QUEUE_DB_PATH", "./docflow-queue.db"),
		},
		Source: SourceConfig{
			Kind:     getEnv("SOURCE_KIND", "local"),
			Addr:     getEnv("SOURCE_ADDR", ""),
			User:     getEnv("SOURCE_USER", ""),
			Password: getEnv("SOURCE_PASSWORD", ""),
			Root:     getEnv("SOURCE_ROOT", ""),
		},
		Scanner: ScannerConfig{
			Enabled:        getEnvAsBool("SCANNER_ENABLED", true),
			PollMinutes:    getEnvAsInt("SCANNER_POLL_MINUTES", 5),
			MinFileAge:     getEnvAsDuration("SCANNER_MIN_FILE_AGE", 30*time.Second),
			UnprocessedDir: getEnv("SCANNER_UNPROCESSED_DIR", "./data/unprocessed"),
			ProcessedDir:   getEnv("SCANNER_PROCESSED_DIR", "./data/processed"),
			FailedDir:      getEnv("SCANNER_FAILED_DIR", "./data/failed"),
			StagingDir:     getEnv("SCANNER_STAGING_DIR", "./data/staging"),
			WatchLocal:     getEnvAsBool("SCANNER_WATCH_LOCAL", false),
		},
		Retention: RetentionConfig{
			Days: getEnvAsInt("RETENTION_DAYS", 0),
		},
		Pipeline: PipelineConfig{
			TemplatesFile:  getEnv("TEMPLATES_FILE", ""),
			ProcessTimeout: getEnvAsDuration("PROCESS_TIMEOUT", 3*time.Minute),
		},
		Notify: NotifyConfig{
			Email:           getEnv("NOTIFY_EMAIL", ""),
			Provider:        getEnv("NOTIFY_PROVIDER", "smtp"),
			SMTPHost:        getEnv("SMTP_HOST", ""),
			SMTPPort:        getEnvAsInt("SMTP_PORT", 587),
			SMTPUser:        getEnv("SMTP_USER", ""),
			SMTPPassword:    getEnv("SMTP_PASSWORD", ""),
			From:            getEnv("SMTP_FROM", ""),
			RateCapacity:    getEnvAsInt("NOTIFY_RATE_CAPACITY", 10),
			RateRefill:      getEnvAsInt("NOTIFY_RATE_REFILL", 10),
			RateRefillEvery: getEnvAsDuration("NOTIFY_RATE_REFILL_EVERY", time.Second),
		},
		Metrics: MetricsConfig{
			Addr:              getEnv("METRICS_ADDR", ":9091"),
			HeartbeatInterval: getEnvAsDuration("HEARTBEAT_INTERVAL", 15*time.Second),
		},
	}
}

// Helper functions for environment variable parsing
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

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if _, ok := PollMinuteChoices[c.Scanner.PollMinutes]; !ok {
		return NewAppError("CONFIG_ERROR",
			fmt.Sprintf("SCANNER_POLL_MINUTES must be one of 1,5,10,15,30,60 (got %d)", c.Scanner.PollMinutes),
			ErrInvalidInput)
	}
	if c.Scanner.Enabled && c.Scanner.UnprocessedDir == "" {
		return NewAppError("CONFIG_ERROR", "SCANNER_UNPROCESSED_DIR is required", ErrInvalidInput)
	}
	if c.Source.Kind != "local" && c.Source.Addr == "" {
		return NewAppError("CONFIG_ERROR", "SOURCE_ADDR is required for remote sources", ErrInvalidInput)
	}
	if c.QueueDB.Path == "" {
		return NewAppError("CONFIG_ERROR", "QUEUE_DB_PATH is required", ErrInvalidInput)
	}
	if c.Retention.Days < 0 {
		return NewAppError("CONFIG_ERROR", "RETENTION_DAYS must not be negative", ErrInvalidInput)
	}
	if c.Notify.Email != "" && c.Notify.SMTPHost == "" {
		return NewAppError("CONFIG_ERROR", "SMTP_HOST is required when NOTIFY_EMAIL is set", ErrInvalidInput)
	}
	return nil
}
