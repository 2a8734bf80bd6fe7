// Package config loads runtime settings from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/goldtrader/gold-ledger/ledger"
	"github.com/goldtrader/gold-ledger/logger"
)

// Storage backends selectable through DB_TYPE.
const (
	DBSQLite = "sqlite"
	DBMongo  = "mongo"
	DBMemory = "memory"
)

type Config struct {
	Port string

	// Storage
	DBType        string
	SQLitePath    string
	MongoURL      string
	MongoDatabase string

	// Ledger behaviour
	MergeBatches  bool
	DepleteOnSell bool
	RetryAttempts int

	// Background audit; zero disables it.
	AuditInterval time.Duration

	CORSOrigins []string

	// Logging
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

// Load reads .env files (missing files are fine) and then the environment.
func Load(envFiles ...string) (*Config, error) {
	// godotenv never overrides variables already set in the environment.
	_ = godotenv.Load(envFiles...)

	merge, err := getBool("MERGE_BATCHES", true)
	if err != nil {
		return nil, err
	}
	deplete, err := getBool("DEPLETE_ON_SELL", false)
	if err != nil {
		return nil, err
	}
	attempts, err := strconv.Atoi(getEnv("RETRY_ATTEMPTS", "5"))
	if err != nil {
		return nil, fmt.Errorf("RETRY_ATTEMPTS: %w", err)
	}
	interval, err := time.ParseDuration(getEnv("AUDIT_INTERVAL", "0s"))
	if err != nil {
		return nil, fmt.Errorf("AUDIT_INTERVAL: %w", err)
	}

	config := &Config{
		Port:          getEnv("PORT", "8080"),
		DBType:        strings.ToLower(getEnv("DB_TYPE", DBSQLite)),
		SQLitePath:    getEnv("SQLITE_PATH", "./data/gold.db"),
		MongoURL:      getEnv("MONGO_URL", ""),
		MongoDatabase: getEnv("MONGO_DATABASE", "gold_ledger"),
		MergeBatches:  merge,
		DepleteOnSell: deplete,
		RetryAttempts: attempts,
		AuditInterval: interval,
		CORSOrigins:   splitList(getEnv("CORS_ORIGINS", "*")),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "console"),
		LogTimeFormat: getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:     getEnv("LOG_OUTPUT", "stdout"),
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

func (c *Config) validate() error {
	switch c.DBType {
	case DBSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for DB_TYPE=sqlite")
		}
	case DBMongo:
		if c.MongoURL == "" {
			return fmt.Errorf("MONGO_URL is required for DB_TYPE=mongo")
		}
	case DBMemory:
	default:
		return fmt.Errorf("DB_TYPE must be sqlite, mongo or memory, got %q", c.DBType)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("RETRY_ATTEMPTS must be at least 1")
	}
	if c.AuditInterval < 0 {
		return fmt.Errorf("AUDIT_INTERVAL must not be negative")
	}
	return nil
}

// LedgerOptions returns the engine options derived from the config.
func (c *Config) LedgerOptions() ledger.Options {
	return ledger.Options{
		MergeBatches:  c.MergeBatches,
		DepleteOnSell: c.DepleteOnSell,
		RetryAttempts: c.RetryAttempts,
	}
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
