package agentpay

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// transferTopic is keccak256("Transfer(address,address,uint256)"), the
// standard ERC-20 transfer event signature. Payments are detected by scanning
// receipt logs for this topic on the configured stablecoin contract.
var transferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

var (
	transferSelector  = []byte{0xa9, 0x05, 0x9c, 0xbb} // transfer(address,uint256)
	balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31} // balanceOf(address)
)

// erc20TransferGas is a fixed gas limit generous enough for any USDC transfer.
const erc20TransferGas = 100_000

// LedgerClient is the subset of an Ethereum JSON-RPC client the verifier
// needs. *ethclient.Client satisfies it; tests inject crafted receipts.
type LedgerClient interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Verifier implements the x402 payment-required protocol over a single
// stablecoin on a single network: it builds payment requests, renders
// wallet-payable links, and verifies settlement against the ledger.
type Verifier struct {
	client  LedgerClient
	key     *ecdsa.PrivateKey
	address common.Address
	network Network

	validFor    time.Duration
	maxSingle   string
	minTreasury string
	log         Logger
}

// NewVerifier derives the agent's wallet from the configured signing key.
// A missing or malformed key is a construction error; callers should treat it
// as fatal at startup.
func NewVerifier(cfg *Config, client LedgerClient, log Logger) (*Verifier, error) {
	if cfg.WalletPrivateKey == "" {
		return nil, ErrMissingSigningKey
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.WalletPrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("agentpay: invalid wallet key: %w", err)
	}
	network, err := LookupNetwork(cfg.Network)
	if err != nil {
		return nil, err
	}
	validFor := cfg.PaymentValidFor
	if validFor <= 0 {
		validFor = 30 * time.Minute
	}
	return &Verifier{
		client:      client,
		key:         key,
		address:     crypto.PubkeyToAddress(key.PublicKey),
		network:     network,
		validFor:    validFor,
		maxSingle:   cfg.MaxSinglePayment.String(),
		minTreasury: cfg.MinTreasuryBalance.String(),
		log:         orNoop(log),
	}, nil
}

// Address returns the agent's wallet address, the recipient of all payments.
func (v *Verifier) Address() string { return v.address.Hex() }

// Network returns the configured ledger network.
func (v *Verifier) Network() Network { return v.network }

// GeneratePaymentRequest builds a fresh request for a task. validFor <= 0
// uses the configured default window. The window is advisory unless expiry
// enforcement is switched on (see Config.EnforceExpiry).
func (v *Verifier) GeneratePaymentRequest(taskID, amount, description string, validFor time.Duration) PaymentRequest {
	if validFor <= 0 {
		validFor = v.validFor
	}
	return PaymentRequest{
		TaskID:      taskID,
		Amount:      amount,
		Currency:    "USDC",
		Network:     v.network.Name,
		Recipient:   v.address.Hex(),
		ValidUntil:  time.Now().UTC().Add(validFor),
		Description: description,
	}
}

// PaymentLink encodes the transfer call as an EIP-681 wallet deep link.
func (v *Verifier) PaymentLink(req PaymentRequest) (string, error) {
	units, err := toBaseUnits(req.Amount)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ethereum:%s@%d/transfer?address=%s&uint256=%s",
		v.network.USDC.Hex(), v.network.ChainID, req.Recipient, units.String()), nil
}

// FormatAsPaymentRequired renders the request as an x402 response: status 402,
// structured metadata headers, and a JSON body with a human-followable link.
func (v *Verifier) FormatAsPaymentRequired(req PaymentRequest) *PaymentRequired {
	link, err := v.PaymentLink(req)
	if err != nil {
		// The amount came from the pricing engine; a bad one is a programming
		// error, but the response must still render.
		v.log.Errorf("payment link for task %s: %v", req.TaskID, err)
	}
	return &PaymentRequired{
		StatusCode: 402,
		Headers: map[string]string{
			"payment-required": "true",
			"currency":         req.Currency,
			"network":          req.Network,
			"amount":           req.Amount,
			"recipient":        req.Recipient,
			"valid-until":      req.ValidUntil.Format(time.RFC3339),
			"task-id":          req.TaskID,
		},
		Body: PaymentRequiredBody{
			Error:      "payment_required",
			Payment:    req,
			PaymentURL: link,
		},
	}
}

// VerifyPayment checks a payment proof against the ledger. It is
// deterministic for a fixed receipt and keeps no state between calls.
// Overpayment is accepted; anything below expectedAmount is not.
// expectedSender is optional; when set, the decoded sender must match it.
func (v *Verifier) VerifyPayment(ctx context.Context, proof PaymentProof, expectedAmount, expectedSender string) VerifyResult {
	txHash := common.HexToHash(proof.TxHash)
	receipt, err := v.client.TransactionReceipt(ctx, txHash)
	if err != nil || receipt == nil {
		return invalid("Transaction not found")
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return invalid("Transaction failed on-chain")
	}

	var transfer *types.Log
	for _, lg := range receipt.Logs {
		if lg.Address == v.network.USDC && len(lg.Topics) == 3 && lg.Topics[0] == transferTopic {
			transfer = lg
			break
		}
	}
	if transfer == nil {
		return invalid("No USDC transfer found in transaction")
	}

	sender := common.BytesToAddress(transfer.Topics[1].Bytes())
	recipient := common.BytesToAddress(transfer.Topics[2].Bytes())
	amount := new(big.Int).SetBytes(transfer.Data)

	if recipient != v.address {
		return invalid("Payment sent to wrong recipient")
	}
	expected, err := toBaseUnits(expectedAmount)
	if err != nil {
		return invalid(err.Error())
	}
	if amount.Cmp(expected) < 0 {
		return invalid(fmt.Sprintf("Insufficient payment: received %s USDC, expected %s USDC",
			fromBaseUnits(amount), fromBaseUnits(expected)))
	}
	if expectedSender != "" && sender != common.HexToAddress(expectedSender) {
		return invalid("Payment from wrong sender")
	}
	return VerifyResult{Valid: true, Sender: sender.Hex(), Amount: fromBaseUnits(amount)}
}

// SendPayment transfers USDC out of the agent's wallet: refunds, delegated
// work, anything outbound. It enforces the single-payment cap and the
// treasury floor, then signs, submits and waits for the receipt.
func (v *Verifier) SendPayment(ctx context.Context, to, amount string) (string, error) {
	units, err := toBaseUnits(amount)
	if err != nil {
		return "", err
	}
	// big.Int.Bytes encodes the absolute value, so a negative amount would
	// slip past the limit checks and transfer |amount|. Reject it here.
	if units.Sign() <= 0 {
		return "", fmt.Errorf("agentpay: amount %q is not positive", amount)
	}
	maxSingle, _ := toBaseUnits(v.maxSingle)
	if maxSingle != nil && maxSingle.Sign() > 0 && units.Cmp(maxSingle) > 0 {
		return "", ErrPaymentTooLarge
	}
	balance, err := v.balanceBaseUnits(ctx)
	if err != nil {
		return "", fmt.Errorf("agentpay: balance check: %w", err)
	}
	floor, _ := toBaseUnits(v.minTreasury)
	required := new(big.Int).Set(units)
	if floor != nil {
		required.Add(required, floor)
	}
	if balance.Cmp(required) < 0 {
		return "", ErrInsufficientBalance
	}

	nonce, err := v.client.PendingNonceAt(ctx, v.address)
	if err != nil {
		return "", fmt.Errorf("agentpay: nonce: %w", err)
	}
	gasPrice, err := v.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("agentpay: gas price: %w", err)
	}

	data := make([]byte, 0, 4+32+32)
	data = append(data, transferSelector...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(to).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(units.Bytes(), 32)...)

	tx := types.NewTransaction(nonce, v.network.USDC, big.NewInt(0), erc20TransferGas, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(v.network.ChainID)), v.key)
	if err != nil {
		return "", fmt.Errorf("agentpay: sign: %w", err)
	}
	if err := v.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("agentpay: submit: %w", err)
	}
	txHash := signed.Hash()
	v.log.Infof("payment submitted: to=%s amount=%s tx=%s", to, amount, txHash.Hex())

	receipt, err := v.waitMined(ctx, txHash)
	if err != nil {
		return "", err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("agentpay: payment transaction %s reverted", txHash.Hex())
	}
	return txHash.Hex(), nil
}

func (v *Verifier) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		receipt, err := v.client.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Balance reads the agent's USDC balance. Failures degrade to "0" since
// balance display is advisory.
func (v *Verifier) Balance(ctx context.Context) string {
	b, err := v.balanceBaseUnits(ctx)
	if err != nil {
		v.log.Warnf("balance read failed: %v", err)
		return "0"
	}
	return fromBaseUnits(b)
}

func (v *Verifier) balanceBaseUnits(ctx context.Context) (*big.Int, error) {
	data := make([]byte, 0, 4+32)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(v.address.Bytes(), 32)...)
	usdc := v.network.USDC
	out, err := v.client.CallContract(ctx, ethereum.CallMsg{To: &usdc, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(out), nil
}
