package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"brokerapi/pkg/errors"
)

type Config struct {
	App           AppConfig
	Binance       BinanceConfig
	Kraken        KrakenConfig
	Crypto        CryptoConfig
	ErrorTracking ErrorTrackingConfig
	Metrics       MetricsConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"brokerctl"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

type BinanceConfig struct {
	BaseURL     string        `envconfig:"BINANCE_BASE_URL" default:"https://api.binance.com"`
	KeyFile     string        `envconfig:"BINANCE_KEY_FILE"`
	RecvWindow  time.Duration `envconfig:"BINANCE_RECV_WINDOW" default:"10s"`
	HTTPTimeout time.Duration `envconfig:"BINANCE_HTTP_TIMEOUT" default:"10s"`
}

type KrakenConfig struct {
	KeyFile     string        `envconfig:"KRAKEN_KEY_FILE"`
	HTTPTimeout time.Duration `envconfig:"KRAKEN_HTTP_TIMEOUT" default:"10s"`
}

type CryptoConfig struct {
	// When set, key files are read as sealed files (32 bytes for AES-256)
	EncryptionKey string `envconfig:"CREDENTIALS_ENCRYPTION_KEY"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"false"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

type MetricsConfig struct {
	Addr string `envconfig:"METRICS_ADDR" default:":9090"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	if c.Binance.RecvWindow <= 0 || c.Binance.RecvWindow > time.Minute {
		return errors.NewValidationError("BINANCE_RECV_WINDOW", "must be in (0, 60s]", c.Binance.RecvWindow)
	}
	if c.Crypto.EncryptionKey != "" && len(c.Crypto.EncryptionKey) != 32 {
		return errors.NewValidationError("CREDENTIALS_ENCRYPTION_KEY", "must be exactly 32 bytes", len(c.Crypto.EncryptionKey))
	}
	if c.ErrorTracking.Enabled && c.ErrorTracking.SentryDSN == "" {
		return errors.NewValidationError("SENTRY_DSN", "required when error tracking is enabled", "")
	}
	return nil
}
