package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv string

	HTTPAddr    string
	DatabaseURL string
	DBDebug     bool

	JWTSecret string
	JWTIssuer string

	// shared secret for service-to-service routes under /internal
	InternalSecret string

	DBAutoMigrate bool

	// Redis (fast tier)
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	HistoryKeyPrefix string
	HistoryTTL       time.Duration

	// per-call timeouts, one per tier
	FastStoreTimeout    time.Duration
	DurableStoreTimeout time.Duration

	// Reconciliation
	SyncEnabled      bool
	SyncInterval     time.Duration
	SyncInitialDelay time.Duration

	NodeID int64

	// RabbitMQ
	RabbitURL      string
	RabbitExchange string
	RabbitQueue    string

	// fire-and-forget recording
	RecordWorkers int
	RecordQueue   int

	PageSizeDefault int
	PageSizeMax     int

	// Rate Limiting
	RLEnabled bool
	RLLimit   int
	RLWindow  time.Duration

	LogLevel  string
	LogFormat string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.AppEnv = getEnv("APP_ENV", "dev")
	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8085")
	cfg.DatabaseURL = getEnv("DATABASE_URL", buildPostgresURL())
	cfg.DBDebug = getBool("DB_DEBUG", false)

	cfg.JWTSecret = getEnv("JWT_SECRET", "")
	cfg.JWTIssuer = getEnv("JWT_ISSUER", "")
	cfg.InternalSecret = getEnv("INTERNAL_SECRET", "")
	cfg.DBAutoMigrate = getBool("DB_AUTO_MIGRATE", true)

	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = getInt("REDIS_DB", 0)
	cfg.HistoryKeyPrefix = getEnv("HISTORY_KEY_PREFIX", "history:")
	cfg.HistoryTTL = getDuration("HISTORY_TTL", time.Hour)

	cfg.FastStoreTimeout = getDuration("FAST_STORE_TIMEOUT", 500*time.Millisecond)
	cfg.DurableStoreTimeout = getDuration("DURABLE_STORE_TIMEOUT", 2*time.Second)

	cfg.SyncEnabled = getBool("SYNC_ENABLED", true)
	cfg.SyncInterval = getDuration("SYNC_INTERVAL", 50*time.Minute)
	cfg.SyncInitialDelay = getDuration("SYNC_INITIAL_DELAY", 10*time.Second)

	cfg.NodeID = int64(getInt("NODE_ID", 1))

	cfg.RabbitURL = getEnv("RABBIT_URL", "")
	cfg.RabbitExchange = getEnv("RABBIT_EXCHANGE", "city.events")
	cfg.RabbitQueue = getEnv("RABBIT_QUEUE", "history-service.logins")

	cfg.RecordWorkers = getInt("RECORD_WORKERS", 4)
	cfg.RecordQueue = getInt("RECORD_QUEUE", 256)

	cfg.PageSizeDefault = getInt("PAGE_SIZE_DEFAULT", 20)
	cfg.PageSizeMax = getInt("PAGE_SIZE_MAX", 100)

	cfg.RLEnabled = getBool("RL_ENABLED", true)
	cfg.RLLimit = getInt("RL_IP_LIMIT", 300)
	cfg.RLWindow = getDuration("RL_IP_WINDOW", time.Minute)

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "console")

	cfg.HTTPReadTimeout = getDuration("HTTP_READ_TIMEOUT", 10*time.Second)
	cfg.HTTPWriteTimeout = getDuration("HTTP_WRITE_TIMEOUT", 20*time.Second)
	cfg.HTTPIdleTimeout = getDuration("HTTP_IDLE_TIMEOUT", 60*time.Second)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("missing DATABASE_URL")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("missing JWT_SECRET")
	}
	// snowflake node bits
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("NODE_ID must be within [0,1023], got %d", c.NodeID)
	}
	if c.HistoryTTL <= 0 {
		return fmt.Errorf("HISTORY_TTL must be positive")
	}
	if c.SyncEnabled && c.SyncInterval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive when SYNC_ENABLED=true")
	}
	if c.PageSizeDefault <= 0 || c.PageSizeMax < c.PageSizeDefault {
		return fmt.Errorf("invalid page size bounds: default=%d max=%d", c.PageSizeDefault, c.PageSizeMax)
	}
	if c.RecordWorkers <= 0 {
		c.RecordWorkers = 1
	}
	if c.RecordQueue <= 0 {
		c.RecordQueue = c.RecordWorkers * 2
	}

	if c.AppEnv != "dev" && c.InternalSecret == "" {
		return fmt.Errorf("missing INTERNAL_SECRET (required when APP_ENV != dev)")
	}

	// Rabbit: optional in dev
	if c.AppEnv != "dev" && c.RabbitURL == "" {
		return fmt.Errorf("missing RABBIT_URL (required when APP_ENV != dev)")
	}
	return nil
}

// buildPostgresURL assembles a DSN from POSTGRES_* parts when DATABASE_URL is not set.
func buildPostgresURL() string {
	host := getEnv("POSTGRES_HOST", "")
	if host == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		getEnv("POSTGRES_USER", "postgres"),
		os.Getenv("POSTGRES_PASSWORD"),
		host,
		getEnv("POSTGRES_PORT", "5432"),
		getEnv("POSTGRES_DB", "history"),
		getEnv("POSTGRES_SSLMODE", "disable"),
	)
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getBool(k string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
