package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"

	pkgconfig "github.com/privateness-network/bot-access/pkg/config"
)

const (
	RenewalExtend = "extend"
	RenewalReject = "reject"
)

// Node lookups sit on the request path; anything slower is reported unreachable.
const maxChainTimeout = 30 * time.Second

// Config holds the runtime configuration for the access-gateway.
type Config struct {
	ServiceName      string
	Env              string
	LogLevel         string
	Port             int
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	HTTPBodyLimit    int
	CORSOrigins      string

	// Ledger store
	StoreDriver         string
	DatabaseURL         string
	SQLitePath          string
	AutoMigrate         bool
	PGMaxConns          int
	PGMinConns          int
	PGMaxConnLifetime   time.Duration
	PGMaxConnIdleTime   time.Duration
	PGHealthCheckPeriod time.Duration

	// Transaction cache; empty RedisAddr selects the in-process cache.
	RedisAddr string
	RedisDB   int
	RedisPass string

	// Event sinks; each is disabled when its URL is empty.
	NATSURL             string
	AMQPURL             string
	AMQPExchange        string
	EventPublishTimeout time.Duration

	AWSRegion       string
	AWSSecretID     string
	SecretsCacheTTL time.Duration

	ProductsFile string
	AccessPeriod time.Duration

	// Chain node
	NodeURL          string
	ChainTimeout     time.Duration
	ChainCacheTTL    time.Duration
	ChainRetryMax    int
	ChainRatePerSec  int
	ChainBurst       int
	BalanceTimeout   time.Duration
	MinConfirmations int

	RenewalPolicy  string
	ReservationTTL time.Duration
	SweepInterval  time.Duration

	VerifyRatePerMin int
	AdminToken       string
	RequireInitData  bool
	InitDataMaxAge   time.Duration

	// Telegram bot companion
	TelegramBotToken    string
	TelegramAPIURL      string
	TelegramPolling     bool
	TelegramPollTimeout time.Duration
	TelegramAdminChatID string
	WebAppURL           string
	NotifyGrants        bool
}

// Load loads configuration from environment variables and optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServiceName:      pkgconfig.GetEnv("SERVICE_NAME", "access-gateway"),
		Env:              pkgconfig.GetEnv("ENV", "dev"),
		LogLevel:         pkgconfig.GetEnv("LOG_LEVEL", "info"),
		Port:             pkgconfig.GetEnvInt("PORT", 5000),
		HTTPReadTimeout:  pkgconfig.GetEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		HTTPWriteTimeout: pkgconfig.GetEnvDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
		HTTPIdleTimeout:  pkgconfig.GetEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		HTTPBodyLimit:    pkgconfig.GetEnvInt("HTTP_BODY_LIMIT", 64*1024),
		CORSOrigins:      pkgconfig.GetEnv("CORS_ORIGINS", "*"),

		StoreDriver:         strings.ToLower(pkgconfig.GetEnv("STORE_DRIVER", "sqlite")),
		DatabaseURL:         pkgconfig.GetEnv("DATABASE_URL", ""),
		SQLitePath:          pkgconfig.GetEnv("SQLITE_PATH", "data/bot_access.db"),
		AutoMigrate:         pkgconfig.GetEnvBool("AUTO_MIGRATE", true),
		PGMaxConns:          pkgconfig.GetEnvInt("PG_MAX_CONNS", 10),
		PGMinConns:          pkgconfig.GetEnvInt("PG_MIN_CONNS", 2),
		PGMaxConnLifetime:   pkgconfig.GetEnvDuration("PG_MAX_CONN_LIFETIME", 30*time.Minute),
		PGMaxConnIdleTime:   pkgconfig.GetEnvDuration("PG_MAX_CONN_IDLE_TIME", 5*time.Minute),
		PGHealthCheckPeriod: pkgconfig.GetEnvDuration("PG_HEALTH_CHECK_PERIOD", 1*time.Minute),

		RedisAddr: pkgconfig.GetEnv("REDIS_ADDR", ""),
		RedisDB:   pkgconfig.GetEnvInt("REDIS_DB", 0),
		RedisPass: pkgconfig.GetEnv("REDIS_PASS", ""),

		NATSURL:             pkgconfig.GetEnv("NATS_URL", ""),
		AMQPURL:             pkgconfig.GetEnv("AMQP_URL", ""),
		AMQPExchange:        pkgconfig.GetEnv("AMQP_EXCHANGE", "access.events"),
		EventPublishTimeout: pkgconfig.GetEnvDuration("EVENT_PUBLISH_TIMEOUT", 5*time.Second),

		AWSRegion:       pkgconfig.GetEnv("AWS_REGION", "us-east-2"),
		AWSSecretID:     pkgconfig.GetEnv("AWS_SECRET_ID", ""),
		SecretsCacheTTL: pkgconfig.GetEnvDuration("SECRETS_CACHE_TTL", 1*time.Hour),

		ProductsFile: pkgconfig.GetEnv("PRODUCTS_FILE", "products.yaml"),
		AccessPeriod: pkgconfig.GetEnvDays("ACCESS_PERIOD", pkgconfig.GetEnvDays("SUBSCRIPTION_DURATION_DAYS", 30*24*time.Hour)),

		NodeURL:          pkgconfig.GetEnv("NODE_URL", pkgconfig.GetEnv("RPC_URL", "http://127.0.0.1:6660")),
		ChainTimeout:     pkgconfig.GetEnvDuration("CHAIN_TIMEOUT", 8*time.Second),
		ChainCacheTTL:    pkgconfig.GetEnvDuration("CHAIN_CACHE_TTL", 10*time.Second),
		ChainRetryMax:    pkgconfig.GetEnvInt("CHAIN_RETRY_MAX", 2),
		ChainRatePerSec:  pkgconfig.GetEnvInt("CHAIN_RATE_PER_SEC", 20),
		ChainBurst:       pkgconfig.GetEnvInt("CHAIN_BURST", 40),
		BalanceTimeout:   pkgconfig.GetEnvDuration("BALANCE_TIMEOUT", 5*time.Second),
		MinConfirmations: pkgconfig.GetEnvInt("MIN_CONFIRMATIONS", 1),

		RenewalPolicy:  strings.ToLower(pkgconfig.GetEnv("RENEWAL_POLICY", RenewalExtend)),
		ReservationTTL: pkgconfig.GetEnvDuration("RESERVATION_TTL", 10*time.Minute),
		SweepInterval:  pkgconfig.GetEnvDuration("SWEEP_INTERVAL", 1*time.Minute),

		VerifyRatePerMin: pkgconfig.GetEnvInt("VERIFY_RATE_PER_MIN", 10),
		AdminToken:       pkgconfig.GetEnv("ADMIN_TOKEN", ""),
		RequireInitData:  pkgconfig.GetEnvBool("REQUIRE_INIT_DATA", false),
		InitDataMaxAge:   pkgconfig.GetEnvDuration("INIT_DATA_MAX_AGE", 24*time.Hour),

		TelegramBotToken:    pkgconfig.GetEnv("TELEGRAM_BOT_TOKEN", pkgconfig.GetEnv("BOT_TOKEN", "")),
		TelegramAPIURL:      pkgconfig.GetEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
		TelegramPolling:     pkgconfig.GetEnvBool("TELEGRAM_POLLING", false),
		TelegramPollTimeout: pkgconfig.GetEnvDuration("TELEGRAM_POLL_TIMEOUT", 30*time.Second),
		TelegramAdminChatID: pkgconfig.GetEnv("CHAT_ID", ""),
		WebAppURL:           pkgconfig.GetEnv("WEBAPP_URL", ""),
		NotifyGrants:        pkgconfig.GetEnvBool("NOTIFY_GRANTS", true),
	}
}

// Validate checks cross-field constraints that Load cannot express with defaults.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER=sqlite")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be one of postgres, sqlite, memory (got %q)", c.StoreDriver)
	}
	if c.RenewalPolicy != RenewalExtend && c.RenewalPolicy != RenewalReject {
		return fmt.Errorf("RENEWAL_POLICY must be %q or %q (got %q)", RenewalExtend, RenewalReject, c.RenewalPolicy)
	}
	if c.NodeURL == "" {
		return fmt.Errorf("NODE_URL is required")
	}
	if c.MinConfirmations < 0 {
		return fmt.Errorf("MIN_CONFIRMATIONS must be >= 0")
	}
	if c.ChainTimeout <= 0 || c.BalanceTimeout <= 0 {
		return fmt.Errorf("CHAIN_TIMEOUT and BALANCE_TIMEOUT must be positive")
	}
	if c.ChainTimeout > maxChainTimeout || c.BalanceTimeout > maxChainTimeout {
		return fmt.Errorf("CHAIN_TIMEOUT and BALANCE_TIMEOUT must not exceed %s", maxChainTimeout)
	}
	if c.RequireInitData && c.TelegramBotToken == "" {
		return fmt.Errorf("REQUIRE_INIT_DATA needs TELEGRAM_BOT_TOKEN to verify signatures")
	}
	if c.TelegramPolling && c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_POLLING needs TELEGRAM_BOT_TOKEN")
	}
	return nil
}
