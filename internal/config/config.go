// Package config loads the service configuration from environment variables.
// envconfig maps variables onto the Config struct; a local .env file, when
// present, is loaded first with godotenv.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

// EnvProduction is the APP_ENV value that turns on production safety checks.
const EnvProduction = "production"

// Config holds ALL application settings.
type Config struct {
	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	// Civil time zone of the business; release windows are evaluated in it.
	BusinessTimezone string `envconfig:"BUSINESS_TIMEZONE" required:"true"`

	// --- Database ---
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"tokenshop"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"token_shop"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Auth ---
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
	// Argon2id hash of the admin API key (scripts/generate_hash.go).
	// Empty disables the admin adjustment route.
	AdminAPIKeyHash string `envconfig:"ADMIN_API_KEY_HASH"`

	// --- Stripe ---
	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeAPIURL        string `envconfig:"STRIPE_API_URL"`

	// --- PayPal ---
	PayPalClientID     string `envconfig:"PAYPAL_CLIENT_ID"`
	PayPalClientSecret string `envconfig:"PAYPAL_CLIENT_SECRET"`
	PayPalWebhookID    string `envconfig:"PAYPAL_WEBHOOK_ID"`
	PayPalBaseURL      string `envconfig:"PAYPAL_BASE_URL" default:"https://api-m.sandbox.paypal.com"`

	// --- Payments ---
	PaymentCurrency       string        `envconfig:"PAYMENT_CURRENCY" default:"USD"`
	GatewayTimeout        time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"12s"`
	DuplicateIntentWindow time.Duration `envconfig:"DUPLICATE_INTENT_WINDOW" default:"30m"`
	OpenPaymentTTL        time.Duration `envconfig:"OPEN_PAYMENT_TTL" default:"24h"`
	// Only for local testing against provider CLIs; refused in production.
	WebhookVerifyDisabled bool `envconfig:"WEBHOOK_VERIFY_DISABLED" default:"false"`

	// --- Sweeps ---
	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"5m"`
	SweepBatchSize    int           `envconfig:"SWEEP_BATCH_SIZE" default:"200"`
	SweepConcurrency  int           `envconfig:"SWEEP_CONCURRENCY" default:"4"`

	// --- Release windows ---
	// Category A: purchases between 03:00 and 11:00 are released at 11:00 next day.
	ReleaseMorningLocations []string `envconfig:"RELEASE_MORNING_LOCATIONS"`
	ReleaseMorningCron      string   `envconfig:"RELEASE_MORNING_CRON" default:"0 11 * * *"`
	// Category B: purchases between 23:00 and 10:00 are released at 10:00.
	ReleaseOvernightLocations []string `envconfig:"RELEASE_OVERNIGHT_LOCATIONS"`
	ReleaseOvernightCron      string   `envconfig:"RELEASE_OVERNIGHT_CRON" default:"0 10 * * *"`

	// --- Optional integrations ---
	RedisURL             string `envconfig:"REDIS_URL"`
	TelegramBotToken     string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramNotifyChatID int64  `envconfig:"TELEGRAM_NOTIFY_CHAT_ID"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// DatabaseDSN returns the PostgreSQL connection string.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, EnvProduction)
}

// StripeEnabled reports whether the card-intent provider is configured.
func (c *Config) StripeEnabled() bool {
	return c.StripeSecretKey != ""
}

// PayPalEnabled reports whether the order-capture provider is configured.
func (c *Config) PayPalEnabled() bool {
	return c.PayPalClientID != "" && c.PayPalClientSecret != ""
}

// TelegramEnabled reports whether staff notifications go to Telegram.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramNotifyChatID != 0
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.WebhookVerifyDisabled && c.IsProduction() {
		return fmt.Errorf("WEBHOOK_VERIFY_DISABLED cannot be set when APP_ENV=%s", EnvProduction)
	}
	if !c.StripeEnabled() && !c.PayPalEnabled() {
		return fmt.Errorf("no payment provider configured (STRIPE_SECRET_KEY or PAYPAL_CLIENT_ID/PAYPAL_CLIENT_SECRET)")
	}
	if !c.WebhookVerifyDisabled {
		if c.StripeEnabled() && c.StripeWebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when Stripe is enabled")
		}
		if c.PayPalEnabled() && c.PayPalWebhookID == "" {
			return fmt.Errorf("PAYPAL_WEBHOOK_ID is required when PayPal is enabled")
		}
	}
	if c.GatewayTimeout < time.Second || c.GatewayTimeout > time.Minute {
		return fmt.Errorf("GATEWAY_TIMEOUT must be between 1s and 60s")
	}
	if c.DuplicateIntentWindow <= 0 {
		return fmt.Errorf("DUPLICATE_INTENT_WINDOW must be > 0")
	}
	if c.OpenPaymentTTL < c.DuplicateIntentWindow {
		return fmt.Errorf("OPEN_PAYMENT_TTL must be >= DUPLICATE_INTENT_WINDOW")
	}
	if c.ReconcileInterval < 30*time.Second {
		return fmt.Errorf("RECONCILE_INTERVAL must be >= 30s")
	}
	if c.SweepBatchSize <= 0 || c.SweepConcurrency <= 0 {
		return fmt.Errorf("SWEEP_BATCH_SIZE and SWEEP_CONCURRENCY must be > 0")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("invalid DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	return nil
}

// Load reads a local .env (if any), then the process environment, and
// validates the result.
func Load() (*Config, error) {
	loadDotEnv()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.ReleaseMorningLocations = trimAll(cfg.ReleaseMorningLocations)
	cfg.ReleaseOvernightLocations = trimAll(cfg.ReleaseOvernightLocations)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv() {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	// Process environment wins over the file.
	if err := godotenv.Load(".env"); err != nil {
		log.WithError(err).Warn("Failed to load .env")
		return
	}
	log.Debug("Loaded .env")
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
