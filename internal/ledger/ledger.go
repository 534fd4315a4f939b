// Package ledger records product digests on an EVM chain and reads them back.
//
// Two implementations exist: ContractLedger talks to a deployed ProductRegistry
// contract through a ChainClient, SimulatedLedger keeps records in memory and is
// only available when simulation mode is enabled.
package ledger

import (
	"context"
	"errors"

	"github.com/scanchain/scanchain/internal/hashing"
	"github.com/scanchain/scanchain/pkg/types"
)

var (
	// ErrNotFound means the ledger has no record for the product.
	ErrNotFound = errors.New("product not recorded on ledger")

	// ErrUncertain means a transaction was sent but its outcome is unknown.
	// The record may or may not exist; callers must not assume either.
	ErrUncertain = errors.New("ledger write outcome uncertain")

	// ErrRejected means the write definitely did not happen: it failed
	// estimation, signing or submission, or the transaction reverted.
	ErrRejected = errors.New("ledger write rejected")

	// ErrUnavailable means the chain could not be reached before anything was sent.
	ErrUnavailable = errors.New("ledger unavailable")
)

// Receipt identifies the transaction that recorded a digest.
type Receipt struct {
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber,omitempty"`
	Simulated   bool   `json:"simulated,omitempty"`
}

// NetworkInfo describes the chain a ledger is attached to.
type NetworkInfo struct {
	ChainID         int64  `json:"chainId"`
	Name            string `json:"name"`
	BlockNumber     uint64 `json:"blockNumber"`
	ContractAddress string `json:"contractAddress,omitempty"`
	Simulated       bool   `json:"simulated,omitempty"`
}

// Ledger is the append-only product registry.
type Ledger interface {
	// Put records digest for productID. A productID is written at most once.
	Put(ctx context.Context, productID string, digest hashing.Digest) (Receipt, error)

	// Get returns the stored record or ErrNotFound.
	Get(ctx context.Context, productID string) (types.ProductRecord, error)

	// Exists reports whether productID has a record.
	Exists(ctx context.Context, productID string) (bool, error)

	NetworkInfo(ctx context.Context) (NetworkInfo, error)

	Simulated() bool
}

// IsDefinitelyNotRecorded reports whether err proves a Put left no record.
// Uncertain outcomes and unknown errors return false.
func IsDefinitelyNotRecorded(err error) bool {
	if err == nil || errors.Is(err, ErrUncertain) {
		return false
	}
	return errors.Is(err, ErrRejected) || errors.Is(err, ErrUnavailable)
}

// NetworkName maps well-known chain IDs to a display name.
func NetworkName(chainID int64) string {
	switch chainID {
	case 1:
		return "mainnet"
	case 56:
		return "bsc"
	case 97:
		return "bsc-testnet"
	case 8453:
		return "base"
	case 84532:
		return "base-sepolia"
	case 1337, 31337:
		return "localnet"
	default:
		return "unknown"
	}
}
