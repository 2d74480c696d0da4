package api

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the server configuration, loaded from environment variables.
type Config struct {
	ListenAddr      string
	ServerDBPath    string
	TenantDataDir   string
	ShutdownTimeout time.Duration
	LogFormat       string // "json" (default) or "text"
	LogLevel        string // "debug", "info" (default), "warn", "error"

	RateLimitPush  int // POST /v1/sync/* per API key per minute (default: 120)
	RateLimitPull  int // GET /v1/sync/* per API key per minute (default: 240)
	RateLimitOther int // everything else per API key per minute (default: 300)
	RateLimitIP    int // unauthenticated requests per IP per minute (default: 30)

	MaxBatchSize int // changes accepted per batch request (default: 500)

	CORSAllowedOrigins []string // allowed browser origins; empty = disabled

	RateLimitEventRetention time.Duration // retention period for rate limit events (default: 30 days)
}

// LoadConfig reads configuration from environment variables with sensible
// defaults. Variables from envFiles (".env" when none are given) are loaded
// first without overriding ones already set; missing files are ignored.
func LoadConfig(envFiles ...string) Config {
	_ = godotenv.Load(envFiles...)

	cfg := Config{
		ListenAddr:      ":8080",
		ServerDBPath:    "./data/server.db",
		TenantDataDir:   "./data/tenants",
		ShutdownTimeout: 30 * time.Second,
		LogFormat:       "json",
		LogLevel:        "info",

		RateLimitPush:  120,
		RateLimitPull:  240,
		RateLimitOther: 300,
		RateLimitIP:    30,

		MaxBatchSize: 500,

		RateLimitEventRetention: 30 * 24 * time.Hour,
	}

	if v := os.Getenv("SYNC_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("SYNC_SERVER_DB_PATH"); v != "" {
		cfg.ServerDBPath = v
	}
	if v := os.Getenv("SYNC_TENANT_DATA_DIR"); v != "" {
		cfg.TenantDataDir = v
	}
	if v := os.Getenv("SYNC_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("SYNC_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("SYNC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	envInt("SYNC_RATE_LIMIT_PUSH", &cfg.RateLimitPush)
	envInt("SYNC_RATE_LIMIT_PULL", &cfg.RateLimitPull)
	envInt("SYNC_RATE_LIMIT_OTHER", &cfg.RateLimitOther)
	envInt("SYNC_RATE_LIMIT_IP", &cfg.RateLimitIP)
	envInt("SYNC_MAX_BATCH_SIZE", &cfg.MaxBatchSize)

	if v := os.Getenv("SYNC_RATE_LIMIT_EVENT_RETENTION"); v != "" {
		if d := parseDaysDuration(v); d > 0 {
			cfg.RateLimitEventRetention = d
		}
	}

	if v := os.Getenv("SYNC_CORS_ALLOWED_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
			}
		}
	}

	return cfg
}

// envInt overwrites *dst with a positive integer from the environment.
func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

// parseDaysDuration parses a string like "90d", "30d" into a time.Duration.
// Falls back to time.ParseDuration for standard Go durations.
func parseDaysDuration(s string) time.Duration {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		numStr := strings.TrimSuffix(s, "d")
		if n, err := strconv.Atoi(numStr); err == nil && n > 0 {
			return time.Duration(n) * 24 * time.Hour
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return 0
}
