package agentpay

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// usdcDecimals is the number of base-unit decimals of the stablecoin.
const usdcDecimals = 6

// Network describes a supported ledger network and its stablecoin contract.
type Network struct {
	Name    string
	ChainID int64
	USDC    common.Address
}

var networks = map[string]Network{
	"base": {
		Name:    "base",
		ChainID: 8453,
		USDC:    common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
	},
	"base-sepolia": {
		Name:    "base-sepolia",
		ChainID: 84532,
		USDC:    common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
	},
}

// LookupNetwork resolves a network selector from configuration.
func LookupNetwork(name string) (Network, error) {
	n, ok := networks[name]
	if !ok {
		return Network{}, fmt.Errorf("agentpay: unknown network %q", name)
	}
	return n, nil
}

// PaymentRequest asks a requester to settle a task's price on-chain. It is
// ephemeral: regenerated on demand from the task, never persisted.
type PaymentRequest struct {
	TaskID      string    `json:"taskId"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency"`
	Network     string    `json:"network"`
	Recipient   string    `json:"recipient"`
	ValidUntil  time.Time `json:"validUntil"`
	Description string    `json:"description"`
}

// PaymentRequiredBody is the JSON body of an x402 response.
type PaymentRequiredBody struct {
	Error      string         `json:"error"`
	Payment    PaymentRequest `json:"payment"`
	PaymentURL string         `json:"paymentUrl"`
}

// PaymentRequired is the protocol-level "payment required" response: HTTP
// status 402 plus structured metadata headers and a wallet-followable link.
type PaymentRequired struct {
	StatusCode int
	Headers    map[string]string
	Body       PaymentRequiredBody
}

// PaymentProof is a caller-supplied claim that a payment settled on-chain.
type PaymentProof struct {
	TxHash  string `json:"txHash"`
	Network string `json:"network"`
}

// VerifyResult is the outcome of checking a payment proof against the ledger.
// Failures are data, not Go errors: the Error string is surfaced verbatim to
// the requester.
type VerifyResult struct {
	Valid  bool   `json:"valid"`
	Sender string `json:"sender,omitempty"`
	Amount string `json:"amount,omitempty"`
	Error  string `json:"error,omitempty"`
}

func invalid(reason string) VerifyResult { return VerifyResult{Valid: false, Error: reason} }

// toBaseUnits converts a decimal amount string ("5.00") into stablecoin base
// units (5000000). Fractions below one base unit are rejected.
func toBaseUnits(amount string) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("agentpay: invalid amount %q: %w", amount, err)
	}
	shifted := d.Shift(usdcDecimals)
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("agentpay: amount %q has sub-unit precision", amount)
	}
	return shifted.BigInt(), nil
}

// fromBaseUnits renders base units as a human-readable two-decimal string.
func fromBaseUnits(v *big.Int) string {
	return decimal.NewFromBigInt(v, -usdcDecimals).StringFixed(2)
}
