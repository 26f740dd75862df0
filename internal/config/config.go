// Package config loads the reconciliation engine's tunables from the
// environment, following the same getEnv/getEnvInt pattern the gateway
// config layer uses.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable recognised by the core per spec §6.
type Config struct {
	// Server
	Addr            string
	Env             string
	GracefulTimeout time.Duration

	// Durable store
	DatabaseURL string

	// Coordination cache
	RedisURL string

	// Comparison tolerances
	AmountTolerance     float64
	TimeToleranceSecs   int

	// Cache key TTLs
	StageTTLSeconds     int
	LockTTLSeconds      int
	ThrottleTTLSeconds  int
	StatsCacheTTLSeconds int
	CacheTimeoutSeconds int

	// Closed set of expected source stream names.
	Sources []string

	// Home currency used when a view omits currency.
	HomeCurrency string

	// Ingestion
	KafkaBrokers []string
	KafkaGroupID string

	// Audit / alerting
	ClickHouseDSN   string
	PagerDutyRoutingKey string

	// Dashboard HTTP API
	APIKey          string
	APIKeyHeader    string
	RateLimitEnabled bool
	RateLimitRPM    int
	RequestTimeoutSeconds int
	MaxBodyBytes    int64
	AllowedOrigins  []string

	LogLevel string
}

// Load reads configuration from the environment and an optional .env
// file, applying the defaults given in spec §6.
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("RECON_GRACEFUL_TIMEOUT_SEC", 15)

	cfg := &Config{
		Addr:            getEnv("RECON_ADDR", ":8080"),
		Env:             getEnv("ENV", "development"),
		GracefulTimeout: time.Duration(gracefulSec) * time.Second,

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		AmountTolerance:   getEnvFloat("AMOUNT_TOLERANCE", 0.01),
		TimeToleranceSecs: getEnvInt("TIME_TOLERANCE_SECONDS", 300),

		StageTTLSeconds:      getEnvInt("STAGE_TTL_SECONDS", 300),
		LockTTLSeconds:       getEnvInt("LOCK_TTL_SECONDS", 30),
		ThrottleTTLSeconds:   getEnvInt("THROTTLE_TTL_SECONDS", 5),
		StatsCacheTTLSeconds: getEnvInt("STATS_CACHE_TTL_SECONDS", 120),
		CacheTimeoutSeconds:  getEnvInt("CACHE_TIMEOUT_SECONDS", 5),

		Sources: getEnvList("RECON_SOURCES", []string{"core", "gateway", "mobile"}),

		HomeCurrency: getEnv("HOME_CURRENCY", "USD"),

		KafkaBrokers: getEnvList("KAFKA_BROKERS", nil),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "reconcile-engine"),

		ClickHouseDSN:       getEnv("CLICKHOUSE_DSN", ""),
		PagerDutyRoutingKey: getEnv("PAGERDUTY_ROUTING_KEY", ""),

		APIKey:                getEnv("RECON_API_KEY", ""),
		APIKeyHeader:          getEnv("RECON_API_KEY_HEADER", "Authorization"),
		RateLimitEnabled:      getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRPM:          getEnvInt("RATE_LIMIT_RPM", 120),
		RequestTimeoutSeconds: getEnvInt("REQUEST_TIMEOUT_SECONDS", 10),
		MaxBodyBytes:          int64(getEnvInt("MAX_BODY_BYTES", 1<<20)),
		AllowedOrigins:        getEnvList("ALLOWED_ORIGINS", []string{"*"}),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

// RequestTimeout converts RequestTimeoutSeconds into a time.Duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// LockTTL, StageTTL, ThrottleTTL and StatsCacheTTL convert the
// configured second counts into time.Duration for the cache layer.
func (c *Config) LockTTL() time.Duration      { return time.Duration(c.LockTTLSeconds) * time.Second }
func (c *Config) StageTTL() time.Duration     { return time.Duration(c.StageTTLSeconds) * time.Second }
func (c *Config) ThrottleTTL() time.Duration  { return time.Duration(c.ThrottleTTLSeconds) * time.Second }
func (c *Config) StatsCacheTTL() time.Duration {
	return time.Duration(c.StatsCacheTTLSeconds) * time.Second
}
func (c *Config) CacheTimeout() time.Duration {
	return time.Duration(c.CacheTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
