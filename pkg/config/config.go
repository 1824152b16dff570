// Package config reads environment-driven settings for the relay, optionally
// seeded from a .env file, plus an optional YAML preset file for broker
// symbol mappings.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the relay.
type Config struct {
	// HTTP
	ListenAddr string

	// Database
	DBPath string

	// Auth
	JWTSecret string

	// Heartbeat / registry
	HeartbeatInterval    time.Duration
	HeartbeatMissedLimit int

	// Dispatch
	RelayWorkers int

	// Delivery retries
	SendRetries   int
	SendRetryBase time.Duration
	DedupeTTL     time.Duration

	// Bridge
	BridgeWriteTimeout time.Duration
	BridgePongTimeout  time.Duration
	BridgePingInterval time.Duration
	DecodeFailLimit    int

	// Audit retention
	RetentionMaxAge   time.Duration
	RetentionInterval time.Duration

	// Optional YAML file with broker symbol mapping presets.
	PresetsPath string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the relay still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/relay.db")
	}

	addr := getEnv("LISTEN_ADDR", "")
	if addr == "" {
		addr = ":" + getEnv("PORT", "8080")
	}

	return &Config{
		ListenAddr:           addr,
		DBPath:               dbPath,
		JWTSecret:            getEnv("JWT_SECRET", "dev-secret"),
		HeartbeatInterval:    getEnvDuration("HEARTBEAT_INTERVAL", 10*time.Second),
		HeartbeatMissedLimit: getEnvInt("HEARTBEAT_MISSED_LIMIT", 3),
		RelayWorkers:         getEnvInt("RELAY_WORKERS", 4),
		SendRetries:          getEnvInt("SEND_RETRIES", 3),
		SendRetryBase:        getEnvDuration("SEND_RETRY_BASE", 200*time.Millisecond),
		DedupeTTL:            getEnvDuration("DEDUPE_TTL", 60*time.Second),
		BridgeWriteTimeout:   getEnvDuration("BRIDGE_WRITE_TIMEOUT", 5*time.Second),
		BridgePongTimeout:    getEnvDuration("BRIDGE_PONG_TIMEOUT", 60*time.Second),
		BridgePingInterval:   getEnvDuration("BRIDGE_PING_INTERVAL", 25*time.Second),
		DecodeFailLimit:      getEnvInt("DECODE_FAIL_LIMIT", 5),
		RetentionMaxAge:      getEnvDuration("RETENTION_MAX_AGE", 7*24*time.Hour),
		RetentionInterval:    getEnvDuration("RETENTION_INTERVAL", time.Hour),
		PresetsPath:          getEnv("SYMBOL_PRESETS_PATH", ""),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
