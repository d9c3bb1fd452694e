package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"callwatch/pkg/errors"
)

type Config struct {
	App           AppConfig
	HTTP          HTTPConfig
	Postgres      PostgresConfig
	ClickHouse    ClickHouseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Telegram      TelegramConfig
	Sync          SyncConfig
	Pricing       PricingConfig
	Health        HealthConfig
	ErrorTracking ErrorTrackingConfig
	Workers       WorkerConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"callwatch"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Version  string `envconfig:"APP_VERSION" default:"dev"`
}

type HTTPConfig struct {
	Port                  int           `envconfig:"HTTP_PORT" default:"8080"`
	OpsToken              string        `envconfig:"OPS_API_TOKEN"`
	WebhookProcessTimeout time.Duration `envconfig:"WEBHOOK_PROCESS_TIMEOUT" default:"25s"`
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" required:"true"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" required:"true"`
	Password string `envconfig:"POSTGRES_PASSWORD" required:"true"`
	Database string `envconfig:"POSTGRES_DB" required:"true"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"25"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type ClickHouseConfig struct {
	Enabled       bool          `envconfig:"CLICKHOUSE_ENABLED" default:"false"`
	Host          string        `envconfig:"CLICKHOUSE_HOST" default:"localhost"`
	Port          int           `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User          string        `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password      string        `envconfig:"CLICKHOUSE_PASSWORD"`
	Database      string        `envconfig:"CLICKHOUSE_DB" default:"callwatch"`
	BatchSize     int           `envconfig:"CLICKHOUSE_BATCH_SIZE" default:"200"`
	FlushInterval time.Duration `envconfig:"CLICKHOUSE_FLUSH_INTERVAL" default:"10s"`
}

type RedisConfig struct {
	Host     string        `envconfig:"REDIS_HOST" required:"true"`
	Port     int           `envconfig:"REDIS_PORT" default:"6379"`
	Password string        `envconfig:"REDIS_PASSWORD"`
	DB       int           `envconfig:"REDIS_DB" default:"0"`
	TopicTTL time.Duration `envconfig:"REDIS_TOPIC_TTL" default:"10m"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Enabled bool     `envconfig:"KAFKA_ENABLED" default:"true"`
	Brokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	GroupID string   `envconfig:"KAFKA_GROUP_ID" default:"callwatch"`
}

type TelegramConfig struct {
	BotToken       string   `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	Mode           string   `envconfig:"TELEGRAM_MODE" default:"webhook"` // webhook | polling
	WebhookURL     string   `envconfig:"TELEGRAM_WEBHOOK_URL"` // registered with setWebhook on startup when set
	WebhookSecret  string   `envconfig:"TELEGRAM_WEBHOOK_SECRET"`
	AnnounceChatID int64    `envconfig:"TELEGRAM_ANNOUNCE_CHAT_ID"`
	SuperCallers   []string `envconfig:"TELEGRAM_SUPER_CALLERS"`
	SendPerSecond  int      `envconfig:"TELEGRAM_SEND_PER_SECOND" default:"20"`
	PollTimeout    int      `envconfig:"TELEGRAM_POLL_TIMEOUT" default:"0"` // getUpdates long-poll seconds
}

// Polling reports whether updates are pulled with getUpdates instead of pushed
func (c TelegramConfig) Polling() bool {
	return c.Mode == "polling"
}

type SyncConfig struct {
	BatchSize          int           `envconfig:"SYNC_BATCH_SIZE" default:"50"`
	MaxBatchSize       int           `envconfig:"SYNC_MAX_BATCH_SIZE" default:"100"`
	CancelPollInterval time.Duration `envconfig:"SYNC_CANCEL_POLL_INTERVAL" default:"5s"`
	BackoffMin         time.Duration `envconfig:"SYNC_BACKOFF_MIN" default:"5s"`
	BackoffMax         time.Duration `envconfig:"SYNC_BACKOFF_MAX" default:"5m"`
	CleanupEnabled     bool          `envconfig:"SYNC_CLEANUP_ENABLED" default:"true"`
	CleanupLimit       int           `envconfig:"SYNC_CLEANUP_LIMIT" default:"500"`
}

type PricingConfig struct {
	BaseURL    string        `envconfig:"PRICING_BASE_URL" default:"https://api.binance.com"`
	Quote      string        `envconfig:"PRICING_QUOTE" default:"USDT"`
	Timeout    time.Duration `envconfig:"PRICING_TIMEOUT" default:"5s"`
	CacheTTL   time.Duration `envconfig:"PRICING_CACHE_TTL" default:"15s"`
	RatePerSec float64       `envconfig:"PRICING_RATE_PER_SEC" default:"10"`
}

type HealthConfig struct {
	AutoRepair       bool          `envconfig:"HEALTH_AUTO_REPAIR" default:"false"`
	RepairBelowScore int           `envconfig:"HEALTH_REPAIR_BELOW_SCORE" default:"60"`
	StaleJobAfter    time.Duration `envconfig:"HEALTH_STALE_JOB_AFTER" default:"30m"`
}

type ErrorTrackingConfig struct {
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// WorkerConfig contains intervals for background workers
type WorkerConfig struct {
	SyncInterval   time.Duration `envconfig:"WORKER_SYNC_INTERVAL" default:"30s"`
	HealthInterval time.Duration `envconfig:"WORKER_HEALTH_INTERVAL" default:"5m"`
}

// Load reads configuration from environment variables.
// A .env file is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Telegram.Mode {
	case "webhook", "polling":
	default:
		return errors.NewValidationError("TELEGRAM_MODE", "must be webhook or polling", c.Telegram.Mode)
	}
	if c.Sync.MaxBatchSize <= 0 || c.Sync.MaxBatchSize > 100 {
		return errors.NewValidationError("SYNC_MAX_BATCH_SIZE", "must be between 1 and 100", c.Sync.MaxBatchSize)
	}
	if c.Sync.BackoffMin <= 0 || c.Sync.BackoffMax < c.Sync.BackoffMin {
		return errors.NewValidationError("SYNC_BACKOFF_MAX", "must be >= SYNC_BACKOFF_MIN > 0", c.Sync.BackoffMax)
	}
	return nil
}
