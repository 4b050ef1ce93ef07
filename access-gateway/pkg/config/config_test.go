package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"STORE_DRIVER", "ACCESS_PERIOD", "SUBSCRIPTION_DURATION_DAYS", "NODE_URL", "RPC_URL", "RENEWAL_POLICY"} {
		t.Setenv(k, "")
	}
	cfg := Load()

	assert.Equal(t, "access-gateway", cfg.ServiceName)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, 30*24*time.Hour, cfg.AccessPeriod)
	assert.Equal(t, "http://127.0.0.1:6660", cfg.NodeURL)
	assert.Equal(t, 8*time.Second, cfg.ChainTimeout)
	assert.Equal(t, 10*time.Second, cfg.ChainCacheTTL)
	assert.Equal(t, 5*time.Second, cfg.BalanceTimeout)
	assert.Equal(t, 1, cfg.MinConfirmations)
	assert.Equal(t, RenewalExtend, cfg.RenewalPolicy)
	require.NoError(t, cfg.Validate())
}

func TestLoad_LegacyVariableNames(t *testing.T) {
	t.Setenv("NODE_URL", "")
	t.Setenv("RPC_URL", "http://node:6420")
	t.Setenv("ACCESS_PERIOD", "")
	t.Setenv("SUBSCRIPTION_DURATION_DAYS", "7")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("BOT_TOKEN", "123:abc")

	cfg := Load()
	assert.Equal(t, "http://node:6420", cfg.NodeURL)
	assert.Equal(t, 7*24*time.Hour, cfg.AccessPeriod)
	assert.Equal(t, "123:abc", cfg.TelegramBotToken)
}

func TestLoad_TimeoutsAreNeverDays(t *testing.T) {
	t.Setenv("CHAIN_TIMEOUT", "8")
	t.Setenv("BALANCE_TIMEOUT", "5s")
	t.Setenv("HTTP_READ_TIMEOUT", "10")

	cfg := Load()
	assert.Equal(t, 8*time.Second, cfg.ChainTimeout, "bare integer falls back to the default")
	assert.Equal(t, 5*time.Second, cfg.BalanceTimeout)
	assert.Equal(t, 10*time.Second, cfg.HTTPReadTimeout)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			StoreDriver:    "memory",
			RenewalPolicy:  RenewalExtend,
			NodeURL:        "http://node",
			ChainTimeout:   time.Second,
			BalanceTimeout: time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"ok", func(c *Config) {}, ""},
		{"postgres without url", func(c *Config) { c.StoreDriver = "postgres" }, "DATABASE_URL"},
		{"unknown driver", func(c *Config) { c.StoreDriver = "mongo" }, "STORE_DRIVER"},
		{"bad renewal policy", func(c *Config) { c.RenewalPolicy = "stack" }, "RENEWAL_POLICY"},
		{"init data without token", func(c *Config) { c.RequireInitData = true }, "TELEGRAM_BOT_TOKEN"},
		{"polling without token", func(c *Config) { c.TelegramPolling = true }, "TELEGRAM_BOT_TOKEN"},
		{"negative confirmations", func(c *Config) { c.MinConfirmations = -1 }, "MIN_CONFIRMATIONS"},
		{"chain timeout too long", func(c *Config) { c.ChainTimeout = 8 * 24 * time.Hour }, "must not exceed"},
		{"balance timeout too long", func(c *Config) { c.BalanceTimeout = time.Hour }, "must not exceed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
