// Package config loads dispatch configuration from environment variables,
// with YAML dispatch profiles for tuned per-deployment pipeline settings.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds process-level configuration.
type Config struct {
	LogLevel           string
	RedisAddr          string // empty selects the in-memory cache backend
	ProofDBPath        string // SQLite path; empty selects the in-memory store
	ProofDSN           string // Postgres DSN; takes precedence over ProofDBPath
	OTLPEndpoint       string
	TelemetryEnabled   bool
	SettlementWebhook  string
	ProfilePath        string // optional dispatch profile YAML
	CacheTTL           time.Duration
	MaxConcurrent      int
	BreakerIdleCleanup time.Duration
}

// Load reads configuration from environment variables, falling back to
// defaults suitable for a single local node.
func Load() *Config {
	return &Config{
		LogLevel:           envString("LOG_LEVEL", "INFO"),
		RedisAddr:          os.Getenv("DISPATCH_REDIS_ADDR"),
		ProofDBPath:        os.Getenv("DISPATCH_PROOF_DB"),
		ProofDSN:           os.Getenv("DISPATCH_PROOF_DSN"),
		OTLPEndpoint:       envString("OTLP_ENDPOINT", "localhost:4317"),
		TelemetryEnabled:   os.Getenv("DISPATCH_TELEMETRY") == "true",
		SettlementWebhook:  os.Getenv("DISPATCH_SETTLEMENT_WEBHOOK"),
		ProfilePath:        os.Getenv("DISPATCH_PROFILE"),
		CacheTTL:           envDuration("DISPATCH_CACHE_TTL", 10*time.Second),
		MaxConcurrent:      envInt("DISPATCH_MAX_CONCURRENT", 10),
		BreakerIdleCleanup: envDuration("DISPATCH_BREAKER_IDLE", 10*time.Minute),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
