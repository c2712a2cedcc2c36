package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config (optional; run lock + admin rate limiting)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS SES
	AWSRegion    string
	SESFromEmail string

	// Escalation engine
	RunInterval    time.Duration // how often the scheduler attempts a run
	SendTimeout    time.Duration // per-email delivery timeout
	Concurrency    int           // invoices processed in parallel per run
	Timezone       string        // IANA name of the reporting timezone
	SummaryWebhook string        // optional URL to POST the run summary to
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "reminderd",
		DBPassword: "",
		DBName:     "stockflow",
		DBSSLMode:  "disable",

		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		AWSRegion:    "us-east-1",
		SESFromEmail: "billing@stockflow.local",

		RunInterval: 1 * time.Hour,
		SendTimeout: 10 * time.Second,
		Concurrency: 4,
		Timezone:    "UTC",
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	// Engine config
	if interval := os.Getenv("RUN_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid RUN_INTERVAL: %w", err)
		}
		cfg.RunInterval = d
	}

	if timeout := os.Getenv("SEND_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SEND_TIMEOUT: %w", err)
		}
		cfg.SendTimeout = d
	}

	if conc := os.Getenv("WORKER_CONCURRENCY"); conc != "" {
		c, err := strconv.Atoi(conc)
		if err != nil {
			return nil, fmt.Errorf("invalid WORKER_CONCURRENCY: %w", err)
		}
		if c < 1 {
			return nil, fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c)
		}
		cfg.Concurrency = c
	}

	if tz := os.Getenv("REMINDER_TZ"); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("invalid REMINDER_TZ: %w", err)
		}
		cfg.Timezone = tz
	}

	if url := os.Getenv("SUMMARY_WEBHOOK_URL"); url != "" {
		cfg.SummaryWebhook = url
	}

	return cfg, nil
}

// Location resolves the configured reporting timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
