// Package config loads ReceiptGate's server configuration from environment
// variables, in the teacher's Load()-from-os.Getenv style, plus an optional
// YAML deployment profile for settings better expressed as structured data
// than as single env vars.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds server configuration (§9, §11).
type Config struct {
	Port               string
	LogLevel           string
	HealthPort         string
	DatabaseURL        string
	APIKey             string
	AllowInsecureDev   bool
	AutoMigrate        bool
	ReceiptBodyMaxBytes int64
	EnableGraphLayer   bool
	EnableSemanticLayer bool

	maxConcurrentWrites int64
}

// Load reads Config from the process environment, applying the same
// defaulting posture as the teacher's config.Load: every var has a safe
// default except the database URL, which has none (Validate rejects it
// empty), and the ones that gate authentication, which default closed.
func Load() *Config {
	return &Config{
		Port:                getEnvDefault("RECEIPTGATE_PORT", "8080"),
		LogLevel:            getEnvDefault("RECEIPTGATE_LOG_LEVEL", "INFO"),
		HealthPort:          getEnvDefault("RECEIPTGATE_HEALTH_PORT", "8081"),
		DatabaseURL:         os.Getenv("RECEIPTGATE_DATABASE_URL"),
		APIKey:              os.Getenv("RECEIPTGATE_API_KEY"),
		AllowInsecureDev:    os.Getenv("RECEIPTGATE_ALLOW_INSECURE_DEV") == "true",
		AutoMigrate:         getEnvBoolDefault("RECEIPTGATE_AUTO_MIGRATE_ON_STARTUP", true),
		ReceiptBodyMaxBytes: getEnvInt64Default("RECEIPTGATE_RECEIPT_BODY_MAX_BYTES", 262144),
		EnableGraphLayer:    os.Getenv("RECEIPTGATE_ENABLE_GRAPH_LAYER") == "true",
		EnableSemanticLayer: os.Getenv("RECEIPTGATE_ENABLE_SEMANTIC_LAYER") == "true",
	}
}

// Validate reports a startup-time misconfiguration: an empty database URL,
// or auth left neither keyed nor explicitly insecure.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: RECEIPTGATE_DATABASE_URL is required")
	}
	if c.APIKey == "" && !c.AllowInsecureDev {
		return fmt.Errorf("config: RECEIPTGATE_API_KEY is required unless RECEIPTGATE_ALLOW_INSECURE_DEV=true")
	}
	return nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt64Default(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
