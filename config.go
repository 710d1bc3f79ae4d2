package agentpay

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config is the process configuration, read once at startup and passed into
// each component's constructor. Nothing reads the environment after Load.
type Config struct {
	// WalletPrivateKey is the hex-encoded signing key for the agent's wallet.
	// Required: the payment verifier cannot operate without it.
	WalletPrivateKey string
	// Network selects the target ledger network ("base" or "base-sepolia").
	Network string
	// RPCURL is the ledger JSON-RPC endpoint.
	RPCURL string
	// RedisURL is the backing-store connection URL. Empty or unreachable
	// selects the in-process fallback.
	RedisURL string
	// ListenAddr is the HTTP API bind address.
	ListenAddr string

	// PaymentValidFor is how long a payment request stays valid.
	PaymentValidFor time.Duration
	// EnforceExpiry makes payment proofs submitted after the request's
	// validUntil fail verification. Off by default.
	EnforceExpiry bool

	// Spending limits. Checked in SendPayment; daily aggregation is a
	// collaborator responsibility and only declared here.
	MaxSinglePayment   decimal.Decimal
	MaxDailySpending   decimal.Decimal
	MinTreasuryBalance decimal.Decimal

	// Concurrency is the scheduler worker-pool size.
	Concurrency int
	// MaxAttempts bounds scheduler retries per task before dead-lettering.
	MaxAttempts int
	// PollInterval is the fallback-mode queue poll tick.
	PollInterval time.Duration
}

// DefaultConfig returns baseline values for everything except the signing key.
func DefaultConfig() *Config {
	return &Config{
		Network:            "base-sepolia",
		RPCURL:             "https://sepolia.base.org",
		ListenAddr:         ":8080",
		PaymentValidFor:    30 * time.Minute,
		MaxSinglePayment:   decimal.NewFromInt(100),
		MaxDailySpending:   decimal.NewFromInt(500),
		MinTreasuryBalance: decimal.NewFromInt(10),
		Concurrency:        3,
		MaxAttempts:        3,
		PollInterval:       500 * time.Millisecond,
	}
}

// LoadConfig builds a Config from the environment, reading a .env file first
// if one exists. A missing wallet key is a fatal startup error.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	cfg.WalletPrivateKey = os.Getenv("WALLET_PRIVATE_KEY")
	if cfg.WalletPrivateKey == "" {
		return nil, ErrMissingSigningKey
	}
	if v := os.Getenv("NETWORK"); v != "" {
		cfg.Network = v
	}
	if _, err := LookupNetwork(cfg.Network); err != nil {
		return nil, err
	}
	if v := os.Getenv("RPC_URL"); v != "" {
		cfg.RPCURL = v
	}
	cfg.RedisURL = os.Getenv("REDIS_URL")
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("PAYMENT_VALID_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid PAYMENT_VALID_MINUTES %q", v)
		}
		cfg.PaymentValidFor = time.Duration(n) * time.Minute
	}
	if v := os.Getenv("PAYMENT_ENFORCE_EXPIRY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PAYMENT_ENFORCE_EXPIRY %q", v)
		}
		cfg.EnforceExpiry = b
	}
	var err error
	if cfg.MaxSinglePayment, err = decimalEnv("MAX_SINGLE_PAYMENT", cfg.MaxSinglePayment); err != nil {
		return nil, err
	}
	if cfg.MaxDailySpending, err = decimalEnv("MAX_DAILY_SPENDING", cfg.MaxDailySpending); err != nil {
		return nil, err
	}
	if cfg.MinTreasuryBalance, err = decimalEnv("MIN_TREASURY_BALANCE", cfg.MinTreasuryBalance); err != nil {
		return nil, err
	}
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid WORKER_CONCURRENCY %q", v)
		}
		cfg.Concurrency = n
	}
	return cfg, nil
}

func decimalEnv(name string, def decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q", name, v)
	}
	return d, nil
}
