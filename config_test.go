package agentpay

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_RequiresWalletKey(t *testing.T) {
	t.Setenv("WALLET_PRIVATE_KEY", "")
	_, err := LoadConfig()
	require.ErrorIs(t, err, ErrMissingSigningKey)
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("WALLET_PRIVATE_KEY", testWalletKey)
	for _, name := range []string{
		"NETWORK", "RPC_URL", "REDIS_URL", "LISTEN_ADDR",
		"PAYMENT_VALID_MINUTES", "PAYMENT_ENFORCE_EXPIRY",
		"MAX_SINGLE_PAYMENT", "MAX_DAILY_SPENDING", "MIN_TREASURY_BALANCE",
		"WORKER_CONCURRENCY",
	} {
		t.Setenv(name, "")
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "base-sepolia", cfg.Network)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Empty(t, cfg.RedisURL)
	require.Equal(t, 30*time.Minute, cfg.PaymentValidFor)
	require.False(t, cfg.EnforceExpiry)
	require.True(t, cfg.MaxSinglePayment.Equal(decimal.NewFromInt(100)))
	require.True(t, cfg.MaxDailySpending.Equal(decimal.NewFromInt(500)))
	require.True(t, cfg.MinTreasuryBalance.Equal(decimal.NewFromInt(10)))
	require.Equal(t, 3, cfg.Concurrency)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("WALLET_PRIVATE_KEY", testWalletKey)
	t.Setenv("NETWORK", "base")
	t.Setenv("RPC_URL", "https://mainnet.base.org")
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("PAYMENT_VALID_MINUTES", "5")
	t.Setenv("PAYMENT_ENFORCE_EXPIRY", "true")
	t.Setenv("MAX_SINGLE_PAYMENT", "25.50")
	t.Setenv("WORKER_CONCURRENCY", "8")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "base", cfg.Network)
	require.Equal(t, "https://mainnet.base.org", cfg.RPCURL)
	require.Equal(t, "redis://localhost:6379/1", cfg.RedisURL)
	require.Equal(t, ":9090", cfg.ListenAddr)
	require.Equal(t, 5*time.Minute, cfg.PaymentValidFor)
	require.True(t, cfg.EnforceExpiry)
	require.True(t, cfg.MaxSinglePayment.Equal(decimal.RequireFromString("25.50")))
	require.Equal(t, 8, cfg.Concurrency)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("WALLET_PRIVATE_KEY", testWalletKey)

	t.Run("network", func(t *testing.T) {
		t.Setenv("NETWORK", "dogechain")
		_, err := LoadConfig()
		require.Error(t, err)
	})
	t.Run("valid minutes", func(t *testing.T) {
		t.Setenv("PAYMENT_VALID_MINUTES", "-1")
		_, err := LoadConfig()
		require.Error(t, err)
	})
	t.Run("enforce expiry", func(t *testing.T) {
		t.Setenv("PAYMENT_ENFORCE_EXPIRY", "maybe")
		_, err := LoadConfig()
		require.Error(t, err)
	})
	t.Run("max single payment", func(t *testing.T) {
		t.Setenv("MAX_SINGLE_PAYMENT", "lots")
		_, err := LoadConfig()
		require.Error(t, err)
	})
	t.Run("concurrency", func(t *testing.T) {
		t.Setenv("WORKER_CONCURRENCY", "many")
		_, err := LoadConfig()
		require.Error(t, err)
	})
}
