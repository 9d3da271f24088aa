package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerapi/pkg/errors"
)

// unsetEnv clears key for the duration of the test.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	unsetEnv(t, "APP_NAME", "BINANCE_BASE_URL", "BINANCE_RECV_WINDOW", "KRAKEN_HTTP_TIMEOUT",
		"CREDENTIALS_ENCRYPTION_KEY", "ERROR_TRACKING_ENABLED", "METRICS_ADDR")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "brokerctl", cfg.App.Name)
	assert.Equal(t, "https://api.binance.com", cfg.Binance.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Binance.RecvWindow)
	assert.Equal(t, 10*time.Second, cfg.Kraken.HTTPTimeout)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.False(t, cfg.ErrorTracking.Enabled)
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	unsetEnv(t, "ERROR_TRACKING_ENABLED")
	t.Setenv("BINANCE_KEY_FILE", "/etc/keys/binance")
	t.Setenv("BINANCE_RECV_WINDOW", "5s")
	t.Setenv("KRAKEN_KEY_FILE", "/etc/keys/kraken")
	t.Setenv("CREDENTIALS_ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/etc/keys/binance", cfg.Binance.KeyFile)
	assert.Equal(t, 5*time.Second, cfg.Binance.RecvWindow)
	assert.Equal(t, "/etc/keys/kraken", cfg.Kraken.KeyFile)
	assert.Len(t, cfg.Crypto.EncryptionKey, 32)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{Binance: BinanceConfig{RecvWindow: 10 * time.Second}}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"recv window zero", func(c *Config) { c.Binance.RecvWindow = 0 }, "BINANCE_RECV_WINDOW"},
		{"recv window too large", func(c *Config) { c.Binance.RecvWindow = 2 * time.Minute }, "BINANCE_RECV_WINDOW"},
		{"short encryption key", func(c *Config) { c.Crypto.EncryptionKey = "short" }, "CREDENTIALS_ENCRYPTION_KEY"},
		{"tracking without dsn", func(c *Config) { c.ErrorTracking.Enabled = true }, "SENTRY_DSN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidInput)

			var verr *errors.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	cfg := base()
	assert.NoError(t, cfg.Validate())
}
