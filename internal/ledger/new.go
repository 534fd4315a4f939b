package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/scanchain/scanchain/internal/logging"
)

// ErrNotConfigured is returned when neither a contract nor simulation mode is configured.
var ErrNotConfigured = errors.New("ledger not configured: set rpc_url and contract_address, or enable simulation")

// Options selects and configures a ledger.
type Options struct {
	Chain           *ChainConfig
	ContractAddress string
	PrivateKey      *ecdsa.PrivateKey // nil makes the contract ledger read-only
	Simulation      bool
	SimulatedOwner  string
}

// New connects to the configured contract, or falls back to a SimulatedLedger
// when simulation mode is enabled. Any other combination is an error.
func New(ctx context.Context, opts Options) (Ledger, error) {
	chainCfg := opts.Chain
	if chainCfg == nil {
		chainCfg = DefaultChainConfig()
	}

	if opts.ContractAddress != "" && chainCfg.RPCURL != "" {
		if !common.IsHexAddress(opts.ContractAddress) {
			return nil, fmt.Errorf("invalid contract address %q", opts.ContractAddress)
		}

		chain := NewChainClient(chainCfg, opts.PrivateKey)
		if err := chain.Connect(ctx); err != nil {
			return nil, err
		}

		cl, err := NewContractLedger(chain, common.HexToAddress(opts.ContractAddress))
		if err != nil {
			chain.Close()
			return nil, err
		}

		if !chain.CanSign() {
			logging.Warn("ledger is read-only: no wallet configured, uploads will be rejected",
				logging.Component("ledger"))
		}
		logging.Info("ledger configured",
			logging.Backend("contract"),
			"contract", cl.Address().Hex(),
			"signer", chain.Address().Hex(),
			logging.Component("ledger"))
		return cl, nil
	}

	if opts.Simulation {
		owner := opts.SimulatedOwner
		if owner == "" {
			owner = common.Address{}.Hex()
		}
		logging.Warn("SIMULATION MODE: ledger records are held in memory and receipts are fabricated",
			logging.Backend("simulated"),
			logging.Component("ledger"))
		return NewSimulatedLedger(owner), nil
	}

	return nil, ErrNotConfigured
}
