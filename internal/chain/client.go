package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/openrelief/reliefd/internal/circuitbreaker"
)

// Minimal ABI fragments for the two contracts. The full contracts live in a
// separate repo; only the functions the orchestrator calls are declared.
const reliefTokenABI = `[
	{"inputs":[{"name":"beneficiary","type":"address"},{"name":"name","type":"string"},{"name":"region","type":"string"}],"name":"whitelistBeneficiary","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"},{"name":"campaignId","type":"string"},{"name":"purpose","type":"string"}],"name":"mintForCampaign","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"account","type":"address"}],"name":"isWhitelisted","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"}
]`

const spendingControllerABI = `[
	{"inputs":[{"name":"merchant","type":"address"},{"name":"name","type":"string"},{"name":"category","type":"uint8"},{"name":"location","type":"string"}],"name":"registerMerchant","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"beneficiary","type":"address"},{"name":"foodAllowance","type":"uint256"},{"name":"medicalAllowance","type":"uint256"},{"name":"shelterAllowance","type":"uint256"},{"name":"utilitiesAllowance","type":"uint256"},{"name":"transportAllowance","type":"uint256"}],"name":"setAllAllowances","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

const (
	// DefaultGasLimit for contract writes when estimation fails
	DefaultGasLimit = uint64(500000)

	// DefaultConfirmationTimeout bounds the receipt wait. On-chain
	// confirmation is minutes-scale; callers run adapter calls off any
	// latency-sensitive path.
	DefaultConfirmationTimeout = 2 * time.Minute

	// ConfirmationPollInterval between receipt checks
	ConfirmationPollInterval = 2 * time.Second

	// breakerKey: all calls share one RPC endpoint, so one circuit.
	breakerKey = "rpc"

	// BreakerThreshold consecutive RPC failures trip the circuit.
	BreakerThreshold = 5

	// BreakerOpenDuration before a probe call is allowed through.
	BreakerOpenDuration = 30 * time.Second
)

// EthClient abstracts the go-ethereum client for testing
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Config for creating a chain client
type Config struct {
	RPCURL                     string
	PrivateKey                 string // Hex string, with or without 0x prefix
	ChainID                    int64
	ReliefTokenContract        string
	SpendingControllerContract string
}

// Option configures the client
type Option func(*Client)

// WithClient sets a custom Ethereum client (useful for testing)
func WithClient(client EthClient) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithConfirmationTimeout overrides the default receipt wait.
func WithConfirmationTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.confirmTimeout = d
	}
}

// Client signs and submits contract calls as the relief admin account.
type Client struct {
	client         EthClient
	privateKey     *ecdsa.PrivateKey
	address        common.Address
	chainID        *big.Int
	token          common.Address
	controller     common.Address
	tokenABI       abi.ABI
	controllerABI  abi.ABI
	confirmTimeout time.Duration
	breaker        *circuitbreaker.Breaker
}

// Compile-time interface check
var _ Adapter = (*Client)(nil)

// New creates a chain client for the relief contracts.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: failed to derive public key", ErrInvalidPrivateKey)
	}

	tokenABI, err := abi.JSON(strings.NewReader(reliefTokenABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse relief token ABI: %w", err)
	}
	controllerABI, err := abi.JSON(strings.NewReader(spendingControllerABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse spending controller ABI: %w", err)
	}

	c := &Client{
		privateKey:     privateKey,
		address:        crypto.PubkeyToAddress(*publicKey),
		chainID:        big.NewInt(cfg.ChainID),
		token:          common.HexToAddress(cfg.ReliefTokenContract),
		controller:     common.HexToAddress(cfg.SpendingControllerContract),
		tokenABI:       tokenABI,
		controllerABI:  controllerABI,
		confirmTimeout: DefaultConfirmationTimeout,
		breaker:        circuitbreaker.New(BreakerThreshold, BreakerOpenDuration),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		c.client = client
	}

	return c, nil
}

func validateConfig(cfg Config) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
	}
	key := strings.TrimPrefix(cfg.PrivateKey, "0x")
	if len(key) != 64 {
		return fmt.Errorf("%w: must be 64 hex characters", ErrInvalidPrivateKey)
	}
	if cfg.ChainID == 0 {
		return fmt.Errorf("chain ID required")
	}
	if cfg.ReliefTokenContract == "" {
		return fmt.Errorf("%w: relief token address required", ErrNotConfigured)
	}
	if cfg.SpendingControllerContract == "" {
		return fmt.Errorf("%w: spending controller address required", ErrNotConfigured)
	}
	return nil
}

// Address returns the admin account address.
func (c *Client) Address() string {
	return c.address.Hex()
}

// Whitelist authorizes a beneficiary wallet on the relief token contract.
func (c *Client) Whitelist(ctx context.Context, addr, name, region string) (string, error) {
	if !common.IsHexAddress(addr) {
		return "", &CallError{Op: "whitelist", Err: ErrInvalidAddress}
	}
	data, err := c.tokenABI.Pack("whitelistBeneficiary", common.HexToAddress(addr), name, region)
	if err != nil {
		return "", &CallError{Op: "whitelist", Err: err}
	}
	return c.send(ctx, "whitelist", c.token, data)
}

// Mint creates campaign funds on the relief token contract.
func (c *Client) Mint(ctx context.Context, to string, amount *big.Int, campaignID, purpose string) (string, error) {
	if !common.IsHexAddress(to) {
		return "", &CallError{Op: "mint", Err: ErrInvalidAddress}
	}
	data, err := c.tokenABI.Pack("mintForCampaign", common.HexToAddress(to), amount, campaignID, purpose)
	if err != nil {
		return "", &CallError{Op: "mint", Err: err}
	}
	return c.send(ctx, "mint", c.token, data)
}

// Transfer sends relief tokens to a beneficiary wallet.
func (c *Client) Transfer(ctx context.Context, to string, amount *big.Int) (string, error) {
	if !common.IsHexAddress(to) {
		return "", &CallError{Op: "transfer", Err: ErrInvalidAddress}
	}
	data, err := c.tokenABI.Pack("transfer", common.HexToAddress(to), amount)
	if err != nil {
		return "", &CallError{Op: "transfer", Err: err}
	}
	return c.send(ctx, "transfer", c.token, data)
}

// SetAllowances sets all five category ceilings on the spending controller.
func (c *Client) SetAllowances(ctx context.Context, addr string, a Allowances) (string, error) {
	if !common.IsHexAddress(addr) {
		return "", &CallError{Op: "set_allowances", Err: ErrInvalidAddress}
	}
	data, err := c.controllerABI.Pack("setAllAllowances", common.HexToAddress(addr),
		orZero(a.Food), orZero(a.Medical), orZero(a.Shelter), orZero(a.Utilities), orZero(a.Transport))
	if err != nil {
		return "", &CallError{Op: "set_allowances", Err: err}
	}
	return c.send(ctx, "set_allowances", c.controller, data)
}

// RegisterMerchant registers an approved merchant on the spending controller.
func (c *Client) RegisterMerchant(ctx context.Context, addr, name string, category SpendingCategory, location string) (string, error) {
	if !common.IsHexAddress(addr) {
		return "", &CallError{Op: "register_merchant", Err: ErrInvalidAddress}
	}
	data, err := c.controllerABI.Pack("registerMerchant", common.HexToAddress(addr), name, uint8(category), location)
	if err != nil {
		return "", &CallError{Op: "register_merchant", Err: err}
	}
	return c.send(ctx, "register_merchant", c.controller, data)
}

// BalanceOf reads the relief token balance of an address.
func (c *Client) BalanceOf(ctx context.Context, addr string) (*big.Int, error) {
	if !common.IsHexAddress(addr) {
		return nil, &CallError{Op: "balance_of", Err: ErrInvalidAddress}
	}
	data, err := c.tokenABI.Pack("balanceOf", common.HexToAddress(addr))
	if err != nil {
		return nil, &CallError{Op: "balance_of", Err: err}
	}

	if !c.breaker.Allow(breakerKey) {
		return nil, &CallError{Op: "balance_of", Err: ErrCircuitOpen}
	}
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &c.token, Data: data}, nil)
	if err != nil {
		c.breaker.RecordFailure(breakerKey)
		return nil, &CallError{Op: "balance_of", Err: err}
	}
	c.breaker.RecordSuccess(breakerKey)

	return new(big.Int).SetBytes(result), nil
}

// IsWhitelisted reads the authoritative on-chain whitelist state.
func (c *Client) IsWhitelisted(ctx context.Context, addr string) (bool, error) {
	if !common.IsHexAddress(addr) {
		return false, &CallError{Op: "is_whitelisted", Err: ErrInvalidAddress}
	}
	data, err := c.tokenABI.Pack("isWhitelisted", common.HexToAddress(addr))
	if err != nil {
		return false, &CallError{Op: "is_whitelisted", Err: err}
	}

	if !c.breaker.Allow(breakerKey) {
		return false, &CallError{Op: "is_whitelisted", Err: ErrCircuitOpen}
	}
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &c.token, Data: data}, nil)
	if err != nil {
		c.breaker.RecordFailure(breakerKey)
		return false, &CallError{Op: "is_whitelisted", Err: err}
	}
	c.breaker.RecordSuccess(breakerKey)

	out, err := c.tokenABI.Unpack("isWhitelisted", result)
	if err != nil || len(out) == 0 {
		return false, &CallError{Op: "is_whitelisted", Err: fmt.Errorf("unpack: %w", err)}
	}
	whitelisted, ok := out[0].(bool)
	if !ok {
		return false, &CallError{Op: "is_whitelisted", Err: errors.New("unexpected return type")}
	}
	return whitelisted, nil
}

// Close closes the underlying RPC connection.
func (c *Client) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}

// send builds, signs, submits a contract write, and waits for its receipt.
// A reverted transaction is an error carrying the hash for the audit trail.
// Only RPC transport failures count against the circuit breaker; reverts
// and slow confirmations mean the endpoint itself is fine.
func (c *Client) send(ctx context.Context, op string, to common.Address, data []byte) (string, error) {
	if !c.breaker.Allow(breakerKey) {
		return "", &CallError{Op: op, Err: ErrCircuitOpen}
	}

	nonce, err := c.client.PendingNonceAt(ctx, c.address)
	if err != nil {
		c.breaker.RecordFailure(breakerKey)
		return "", &CallError{Op: op, Err: err}
	}

	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		c.breaker.RecordFailure(breakerKey)
		return "", &CallError{Op: op, Err: err}
	}

	gasLimit, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.address,
		To:    &to,
		Value: big.NewInt(0),
		Data:  data,
	})
	if err != nil {
		// Use default if estimation fails
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.privateKey)
	if err != nil {
		return "", &CallError{Op: op, Err: err}
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		c.breaker.RecordFailure(breakerKey)
		return "", &CallError{Op: op, TxHash: signedTx.Hash().Hex(), Err: err}
	}
	c.breaker.RecordSuccess(breakerKey)

	txHash := signedTx.Hash().Hex()
	if err := c.waitForReceipt(ctx, op, signedTx.Hash()); err != nil {
		return "", err
	}
	return txHash, nil
}

// waitForReceipt polls until the transaction is mined or the timeout expires.
func (c *Client) waitForReceipt(ctx context.Context, op string, hash common.Hash) error {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(ConfirmationPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return &CallError{Op: op, TxHash: hash.Hex(), Err: ErrTimeout}
			}
			return &CallError{Op: op, TxHash: hash.Hex(), Err: ctx.Err()}

		case <-ticker.C:
			receipt, err := c.client.TransactionReceipt(ctx, hash)
			if err != nil {
				// Not yet mined, keep waiting
				continue
			}
			if receipt.Status == 0 {
				return &CallError{Op: op, TxHash: hash.Hex(), Err: ErrTxFailed}
			}
			return nil
		}
	}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
