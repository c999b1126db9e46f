package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	JudgeURL             string `env:"JUDGE_URL,required=true"`
	JudgeModel           string `env:"JUDGE_MODEL,default=gemini-2.0-flash-001"`
	JudgeRateLimitPerSec int    `env:"JUDGE_RATE_LIMIT_PER_SEC,default=5"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT,default=587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	FromEmail    string `env:"FROM_EMAIL,default=noreply@company.com"`
	AlertEmail   string `env:"ALERT_EMAIL,required=true"`

	AccuracyThreshold float64 `env:"ACCURACY_THRESHOLD,default=0.85"`
	SubBatchSize      int     `env:"SUB_BATCH_SIZE,default=50"`
	WorkerConcurrency int     `env:"WORKER_CONCURRENCY,default=3"`
	MaxRetries        int     `env:"MAX_RETRIES,default=3"`

	RecoveryLookbackDays int    `env:"RECOVERY_LOOKBACK_DAYS,default=7"`
	RetentionDays        int    `env:"RETENTION_DAYS,default=90"`
	RunTime              string `env:"RUN_TIME,default=00:01"`
	Timezone             string `env:"TIMEZONE,default=Local"`

	ReportDir   string `env:"REPORT_DIR,default=./reports"`
	MetricsPort int    `env:"METRICS_PORT,default=9090"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if _, _, err := cfg.ParseRunTime(); err != nil {
		return nil, err
	}
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	if cfg.AccuracyThreshold <= 0 || cfg.AccuracyThreshold > 1 {
		return nil, fmt.Errorf("ACCURACY_THRESHOLD must be in (0, 1], got %v", cfg.AccuracyThreshold)
	}
	return &cfg, nil
}

// ParseRunTime splits the configured daily fire time into hour and minute.
func (c *Config) ParseRunTime() (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(c.RunTime), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid RUN_TIME %q, expected HH:MM", c.RunTime)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid RUN_TIME hour %q", parts[0])
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid RUN_TIME minute %q", parts[1])
	}
	return hour, minute, nil
}

// Location resolves the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" || strings.EqualFold(name, "Local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}
