package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/scanchain/scanchain/internal/logging"
	"github.com/scanchain/scanchain/internal/util"
)

// Backend is the chain access used by the ledger. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// ChainConfig holds configuration for the chain client
type ChainConfig struct {
	RPCURL             string
	ChainID            int64
	BlockConfirmations int
	GasLimitMultiplier float64 // Multiplier for estimated gas (default: 1.2)
	MaxGasPrice        *big.Int
	ReadTimeout        time.Duration
	ConfirmTimeout     time.Duration
	ConfirmPoll        time.Duration
	RetryConfig        *util.RetryConfig
}

// DefaultChainConfig returns defaults for BNB Smart Chain testnet.
func DefaultChainConfig() *ChainConfig {
	return &ChainConfig{
		RPCURL:             "https://data-seed-prebsc-1-s1.binance.org:8545",
		ChainID:            97,
		BlockConfirmations: 1,
		GasLimitMultiplier: 1.2,
		MaxGasPrice:        big.NewInt(50e9), // 50 gwei max
		ReadTimeout:        30 * time.Second,
		ConfirmTimeout:     2 * time.Minute,
		ConfirmPoll:        2 * time.Second,
		RetryConfig:        util.DefaultRetryConfig(),
	}
}

// ChainClient signs and submits transactions and tracks the sender nonce.
type ChainClient struct {
	config     *ChainConfig
	backend    Backend
	closeFn    func()
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int

	// Nonce management
	nonceMu      sync.Mutex
	pendingNonce uint64

	connected bool
	mu        sync.RWMutex
}

// NewChainClient creates an unconnected client. privateKey may be nil for a
// read-only client.
func NewChainClient(config *ChainConfig, privateKey *ecdsa.PrivateKey) *ChainClient {
	if config == nil {
		config = DefaultChainConfig()
	}

	cc := &ChainClient{
		config:     config,
		privateKey: privateKey,
		chainID:    big.NewInt(config.ChainID),
	}
	if privateKey != nil {
		cc.address = crypto.PubkeyToAddress(privateKey.PublicKey)
	}
	return cc
}

// NewChainClientWithBackend wraps an already connected backend.
func NewChainClientWithBackend(ctx context.Context, config *ChainConfig, backend Backend, privateKey *ecdsa.PrivateKey) (*ChainClient, error) {
	cc := NewChainClient(config, privateKey)
	if err := cc.attach(ctx, backend); err != nil {
		return nil, err
	}
	return cc, nil
}

// Connect dials the RPC endpoint, checks the chain ID and loads the nonce.
// A wrong chain is a configuration error and is not retried.
func (cc *ChainClient) Connect(ctx context.Context) error {
	retry := *cc.retryConfig()
	if retry.RetryIf == nil {
		retry.RetryIf = util.RetryUnless(context.Canceled)
	}

	client, result := util.RetryWithValue(ctx, &retry, func() (*ethclient.Client, error) {
		dialCtx, cancel := context.WithTimeout(ctx, cc.readTimeout())
		defer cancel()

		c, err := ethclient.DialContext(dialCtx, cc.config.RPCURL)
		if err != nil {
			return nil, err
		}
		// Dialing HTTP is lazy; query the chain ID so retries cover an unreachable node.
		chainID, err := c.ChainID(dialCtx)
		if err != nil {
			c.Close()
			return nil, err
		}
		if chainID.Cmp(cc.chainID) != 0 {
			c.Close()
			return nil, util.MarkNonRetryable(fmt.Errorf("%w: expected %d, got %d", ErrChainMismatch, cc.chainID, chainID))
		}
		return c, nil
	})
	if result.LastError != nil {
		if util.IsNonRetryable(result.LastError) {
			return fmt.Errorf("failed to connect to %s: %w", cc.config.RPCURL, result.LastError)
		}
		return fmt.Errorf("%w: failed to connect to %s: %v", ErrUnavailable, cc.config.RPCURL, result.LastError)
	}

	if err := cc.attach(ctx, client); err != nil {
		client.Close()
		return err
	}
	cc.mu.Lock()
	cc.closeFn = client.Close
	cc.mu.Unlock()

	logging.Info("connected to chain",
		"rpc", cc.config.RPCURL,
		"chain_id", cc.config.ChainID,
		"network", NetworkName(cc.config.ChainID),
		"attempts", result.Attempts,
		logging.Component("ledger"))
	return nil
}

func (cc *ChainClient) attach(ctx context.Context, backend Backend) error {
	readCtx, cancel := context.WithTimeout(ctx, cc.readTimeout())
	defer cancel()

	chainID, err := backend.ChainID(readCtx)
	if err != nil {
		return fmt.Errorf("%w: failed to get chain ID: %v", ErrUnavailable, err)
	}
	if chainID.Cmp(cc.chainID) != 0 {
		return fmt.Errorf("%w: expected %d, got %d", ErrChainMismatch, cc.chainID, chainID)
	}

	if cc.privateKey != nil {
		nonce, err := backend.PendingNonceAt(readCtx, cc.address)
		if err != nil {
			return fmt.Errorf("%w: failed to get nonce: %v", ErrUnavailable, err)
		}
		cc.nonceMu.Lock()
		cc.pendingNonce = nonce
		cc.nonceMu.Unlock()
	}

	cc.mu.Lock()
	cc.backend = backend
	cc.connected = true
	cc.mu.Unlock()
	return nil
}

// Close closes the connection
func (cc *ChainClient) Close() {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if cc.closeFn != nil {
		cc.closeFn()
		cc.closeFn = nil
	}
	cc.backend = nil
	cc.connected = false
}

// IsConnected returns true if connected
func (cc *ChainClient) IsConnected() bool {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return cc.connected
}

// Backend returns the underlying chain backend, or nil when not connected.
func (cc *ChainClient) Backend() Backend {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return cc.backend
}

// Address returns the signer address (zero for read-only clients).
func (cc *ChainClient) Address() common.Address {
	return cc.address
}

// CanSign reports whether a private key is loaded.
func (cc *ChainClient) CanSign() bool {
	return cc.privateKey != nil
}

// ChainID returns the chain ID
func (cc *ChainClient) ChainID() *big.Int {
	return cc.chainID
}

func (cc *ChainClient) retryConfig() *util.RetryConfig {
	if cc.config.RetryConfig != nil {
		return cc.config.RetryConfig
	}
	return util.DefaultRetryConfig()
}

func (cc *ChainClient) readTimeout() time.Duration {
	if cc.config.ReadTimeout > 0 {
		return cc.config.ReadTimeout
	}
	return 30 * time.Second
}

func (cc *ChainClient) connectedBackend() (Backend, error) {
	backend := cc.Backend()
	if backend == nil {
		return nil, fmt.Errorf("%w: not connected", ErrUnavailable)
	}
	return backend, nil
}

// TransactOpts creates signing options with a capped gas price and the next nonce.
func (cc *ChainClient) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if cc.privateKey == nil {
		return nil, fmt.Errorf("%w: no signing key configured", ErrRejected)
	}

	backend, err := cc.connectedBackend()
	if err != nil {
		return nil, err
	}

	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get gas price: %v", ErrUnavailable, err)
	}
	if cc.config.MaxGasPrice != nil && gasPrice.Cmp(cc.config.MaxGasPrice) > 0 {
		gasPrice = new(big.Int).Set(cc.config.MaxGasPrice)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(cc.privateKey, cc.chainID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create transactor: %v", ErrRejected, err)
	}
	auth.Context = ctx
	auth.GasPrice = gasPrice

	cc.nonceMu.Lock()
	auth.Nonce = new(big.Int).SetUint64(cc.pendingNonce)
	cc.pendingNonce++
	cc.nonceMu.Unlock()

	return auth, nil
}

// EstimateGas estimates gas for msg and applies the configured multiplier.
func (cc *ChainClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	backend, err := cc.connectedBackend()
	if err != nil {
		return 0, err
	}

	gas, err := backend.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("failed to estimate gas: %w", err)
	}

	multiplier := cc.config.GasLimitMultiplier
	if multiplier < 1 {
		multiplier = 1
	}
	return uint64(float64(gas) * multiplier), nil
}

// Send signs a call to `to` with auth and submits it. The signed transaction
// is returned even when submission fails, so its hash is always known.
func (cc *ChainClient) Send(ctx context.Context, auth *bind.TransactOpts, to common.Address, data []byte) (*ethtypes.Transaction, error) {
	backend, err := cc.connectedBackend()
	if err != nil {
		return nil, err
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    auth.Nonce.Uint64(),
		GasPrice: auth.GasPrice,
		Gas:      auth.GasLimit,
		To:       &to,
		Data:     data,
	})
	signed, err := auth.Signer(auth.From, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to sign transaction: %v", ErrRejected, err)
	}
	return signed, backend.SendTransaction(ctx, signed)
}

// SyncNonce reloads the pending nonce from the network.
func (cc *ChainClient) SyncNonce(ctx context.Context) error {
	backend, err := cc.connectedBackend()
	if err != nil {
		return err
	}

	nonce, err := backend.PendingNonceAt(ctx, cc.address)
	if err != nil {
		return fmt.Errorf("failed to get nonce: %w", err)
	}

	cc.nonceMu.Lock()
	cc.pendingNonce = nonce
	cc.nonceMu.Unlock()
	return nil
}

// WaitForReceipt waits, bounded by the confirm timeout, until tx is mined and
// has the configured number of confirmations.
func (cc *ChainClient) WaitForReceipt(ctx context.Context, tx *ethtypes.Transaction) (*ethtypes.Receipt, error) {
	backend, err := cc.connectedBackend()
	if err != nil {
		return nil, err
	}

	if cc.config.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cc.config.ConfirmTimeout)
		defer cancel()
	}

	receipt, err := bind.WaitMined(ctx, backend, tx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for transaction %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status == ethtypes.ReceiptStatusFailed {
		return receipt, errReverted
	}

	if cc.config.BlockConfirmations <= 1 {
		return receipt, nil
	}

	poll := cc.config.ConfirmPoll
	if poll <= 0 {
		poll = 2 * time.Second
	}
	target := receipt.BlockNumber.Uint64() + uint64(cc.config.BlockConfirmations) - 1
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		current, err := backend.BlockNumber(ctx)
		if err == nil && current >= target {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return receipt, fmt.Errorf("waiting for %d confirmations: %w", cc.config.BlockConfirmations, ctx.Err())
		case <-ticker.C:
		}
	}
}

// BlockNumber returns the current block number
func (cc *ChainClient) BlockNumber(ctx context.Context) (uint64, error) {
	backend, err := cc.connectedBackend()
	if err != nil {
		return 0, err
	}
	return backend.BlockNumber(ctx)
}

var errReverted = errors.New("transaction reverted")

// ErrChainMismatch means the RPC endpoint serves a different chain than configured.
var ErrChainMismatch = errors.New("chain ID mismatch")
