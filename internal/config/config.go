package config

import (
	"os"
	"strconv"
	"time"
)

// Registry backends accepted by REGISTRY_BACKEND.
const (
	RegistryRedis    = "redis"
	RegistryPostgres = "postgres"
	RegistryFile     = "file"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ServiceName  string

	RedisAddr     string
	PostgresDSN   string
	ClickHouseDSN string
	GeoIPDB       string

	// Adapter registry
	RegistryBackend string
	AdapterFile     string

	// Waterfall defaults applied to /auction requests
	WaterfallMaxAttempts         int
	WaterfallInitialRetryDelayMS int
	WaterfallMaxRetryDelayMS     int
	WaterfallBackoffMultiplier   float64
	WaterfallEnabled             bool
	// Request overrides are clamped to this and to WaterfallMaxRetryDelayMS
	WaterfallAttemptLimit        int

	// Auction executor
	AdapterTimeout      time.Duration
	RateLimitEnabled    bool
	RateLimitCapacity   int
	RateLimitRefillRate int
	CircuitMaxFailures  int
	CircuitResetTimeout time.Duration
	HedgeDelay          time.Duration
	DebuggerCapacity    int

	AnalyticsEnabled bool
	StatsLogInterval time.Duration

	// Database connection pooling configuration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	CHMaxOpenConns    int

	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.Port = getenv("PORT", "8080")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 10*time.Second)
	cfg.ServiceName = getenv("SERVICE_NAME", "mediation-auction")

	cfg.RedisAddr = getenv("REDIS_ADDR", "localhost:6379")
	cfg.PostgresDSN = getenv("POSTGRES_DSN", "postgres://postgres@127.0.0.1:5432/postgres?sslmode=disable")
	cfg.ClickHouseDSN = getenv("CLICKHOUSE_DSN", "clickhouse://default:@localhost:9000/default?async_insert=1&wait_for_async_insert=0")
	cfg.GeoIPDB = getenv("GEOIP_DB", "")

	cfg.RegistryBackend = getenv("REGISTRY_BACKEND", RegistryRedis)
	cfg.AdapterFile = getenv("ADAPTER_FILE", "adapters.yaml")

	cfg.WaterfallMaxAttempts = envInt("WATERFALL_MAX_ATTEMPTS", 3)
	cfg.WaterfallInitialRetryDelayMS = envInt("WATERFALL_INITIAL_RETRY_DELAY_MS", 50)
	cfg.WaterfallMaxRetryDelayMS = envInt("WATERFALL_MAX_RETRY_DELAY_MS", 500)
	cfg.WaterfallBackoffMultiplier = envFloat("WATERFALL_BACKOFF_MULTIPLIER", 2)
	cfg.WaterfallEnabled = envBool("WATERFALL_ENABLED", true)
	cfg.WaterfallAttemptLimit = envInt("WATERFALL_ATTEMPT_LIMIT", 10)

	cfg.AdapterTimeout = envDuration("ADAPTER_TIMEOUT", 300*time.Millisecond)
	cfg.RateLimitEnabled = envBool("RATE_LIMIT_ENABLED", false)
	cfg.RateLimitCapacity = envInt("RATE_LIMIT_CAPACITY", 200)
	cfg.RateLimitRefillRate = envInt("RATE_LIMIT_REFILL_RATE", 100)
	cfg.CircuitMaxFailures = envInt("CIRCUIT_MAX_FAILURES", 5)
	cfg.CircuitResetTimeout = envDuration("CIRCUIT_RESET_TIMEOUT", 30*time.Second)
	// Zero disables hedged adapter requests
	cfg.HedgeDelay = envDuration("HEDGE_DELAY", 0)
	cfg.DebuggerCapacity = envInt("DEBUGGER_CAPACITY", 100)

	cfg.AnalyticsEnabled = envBool("ANALYTICS_ENABLED", true)
	cfg.StatsLogInterval = envDuration("STATS_LOG_INTERVAL", time.Minute)

	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute)
	// ClickHouse gets a larger pool; waterfall events are written on every request
	cfg.CHMaxOpenConns = envInt("CH_MAX_OPEN_CONNS", 50)

	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	return cfg
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. Accepted values are those
// supported by strconv.ParseBool. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}
