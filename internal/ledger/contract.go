package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/scanchain/scanchain/internal/hashing"
	"github.com/scanchain/scanchain/internal/logging"
	"github.com/scanchain/scanchain/pkg/types"
)

// ContractLedger provides the Ledger interface on top of the ProductRegistry contract.
type ContractLedger struct {
	chain        *ChainClient
	contract     *bind.BoundContract
	contractABI  abi.ABI
	contractAddr common.Address
}

// NewContractLedger binds the registry contract at contractAddr.
func NewContractLedger(chain *ChainClient, contractAddr common.Address) (*ContractLedger, error) {
	if chain == nil {
		return nil, fmt.Errorf("chain client is required (use NewSimulatedLedger for simulation)")
	}
	backend := chain.Backend()
	if backend == nil {
		return nil, fmt.Errorf("chain client not connected to RPC")
	}
	if contractAddr == (common.Address{}) {
		return nil, fmt.Errorf("contract address is required")
	}

	parsed, err := registryABI()
	if err != nil {
		return nil, err
	}

	return &ContractLedger{
		chain:        chain,
		contract:     bind.NewBoundContract(contractAddr, parsed, backend, backend, backend),
		contractABI:  parsed,
		contractAddr: contractAddr,
	}, nil
}

// Simulated implements Ledger.
func (cl *ContractLedger) Simulated() bool { return false }

// Address returns the contract address.
func (cl *ContractLedger) Address() common.Address { return cl.contractAddr }

// Chain returns the underlying chain client.
func (cl *ContractLedger) Chain() *ChainClient { return cl.chain }

func (cl *ContractLedger) readCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, cl.chain.readTimeout())
}

// Put estimates, signs and sends storeProductHash, then waits for the receipt.
// Once the transaction is sent, any failure to confirm it yields ErrUncertain
// together with the receipt carrying the transaction hash.
func (cl *ContractLedger) Put(ctx context.Context, productID string, digest hashing.Digest) (Receipt, error) {
	input, err := cl.contractABI.Pack(methodStore, productID, string(digest))
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: failed to encode call: %v", ErrRejected, err)
	}

	sendCtx, cancel := cl.readCtx(ctx)
	defer cancel()

	gas, err := cl.chain.EstimateGas(sendCtx, ethereum.CallMsg{
		From: cl.chain.Address(),
		To:   &cl.contractAddr,
		Data: input,
	})
	if err != nil {
		return Receipt{}, classifyPreSend(err)
	}

	auth, err := cl.chain.TransactOpts(sendCtx)
	if err != nil {
		return Receipt{}, err
	}
	auth.GasLimit = gas

	tx, err := cl.chain.Send(sendCtx, auth, cl.contractAddr, input)
	if tx == nil {
		return Receipt{}, err
	}
	receipt := Receipt{TxHash: tx.Hash().Hex()}
	if err != nil {
		if syncErr := cl.chain.SyncNonce(ctx); syncErr != nil {
			logging.Warn("failed to resync nonce after send failure",
				logging.Err(syncErr),
				logging.Component("ledger"))
		}
		sendErr := classifySend(receipt.TxHash, err)
		if errors.Is(sendErr, ErrRejected) {
			return Receipt{}, sendErr
		}
		return receipt, sendErr
	}

	logging.Info("ledger transaction sent",
		logging.ProductID(productID),
		"tx_hash", receipt.TxHash,
		"gas", gas,
		logging.Component("ledger"))

	mined, err := cl.chain.WaitForReceipt(ctx, tx)
	if mined != nil && mined.BlockNumber != nil {
		receipt.BlockNumber = mined.BlockNumber.Uint64()
	}
	switch {
	case errors.Is(err, errReverted):
		return receipt, fmt.Errorf("%w: transaction %s reverted", ErrRejected, receipt.TxHash)
	case err != nil:
		return receipt, fmt.Errorf("%w: transaction %s: %v", ErrUncertain, receipt.TxHash, err)
	}

	logging.Info("ledger transaction confirmed",
		logging.ProductID(productID),
		"tx_hash", receipt.TxHash,
		"block", receipt.BlockNumber,
		logging.Component("ledger"))
	return receipt, nil
}

// Get reads getProductInfo. An empty file hash means the product is unknown.
func (cl *ContractLedger) Get(ctx context.Context, productID string) (types.ProductRecord, error) {
	ctx, cancel := cl.readCtx(ctx)
	defer cancel()

	var out []interface{}
	if err := cl.contract.Call(&bind.CallOpts{Context: ctx}, &out, methodGetInfo, productID); err != nil {
		return types.ProductRecord{}, fmt.Errorf("%w: failed to get product info: %v", ErrUnavailable, err)
	}
	if len(out) < 3 {
		return types.ProductRecord{}, fmt.Errorf("%w: unexpected getProductInfo output (%d values)", ErrUnavailable, len(out))
	}

	fileHash, _ := out[0].(string)
	owner, _ := out[1].(common.Address)
	timestamp, _ := out[2].(*big.Int)

	if fileHash == "" {
		return types.ProductRecord{}, fmt.Errorf("%w: %s", ErrNotFound, productID)
	}

	record := types.ProductRecord{
		ProductID: productID,
		FileHash:  fileHash,
	}
	if owner != (common.Address{}) {
		record.Owner = owner.Hex()
	}
	if timestamp != nil && timestamp.Sign() > 0 {
		record.Timestamp = time.Unix(timestamp.Int64(), 0).UTC()
	}
	return record, nil
}

// Exists reads productExists.
func (cl *ContractLedger) Exists(ctx context.Context, productID string) (bool, error) {
	ctx, cancel := cl.readCtx(ctx)
	defer cancel()

	var out []interface{}
	if err := cl.contract.Call(&bind.CallOpts{Context: ctx}, &out, methodExists, productID); err != nil {
		return false, fmt.Errorf("%w: failed to check product: %v", ErrUnavailable, err)
	}
	if len(out) == 0 {
		return false, nil
	}
	exists, _ := out[0].(bool)
	return exists, nil
}

// NetworkInfo implements Ledger.
func (cl *ContractLedger) NetworkInfo(ctx context.Context) (NetworkInfo, error) {
	ctx, cancel := cl.readCtx(ctx)
	defer cancel()

	block, err := cl.chain.BlockNumber(ctx)
	if err != nil {
		return NetworkInfo{}, fmt.Errorf("%w: failed to get block number: %v", ErrUnavailable, err)
	}

	chainID := cl.chain.ChainID().Int64()
	return NetworkInfo{
		ChainID:         chainID,
		Name:            NetworkName(chainID),
		BlockNumber:     block,
		ContractAddress: cl.contractAddr.Hex(),
	}, nil
}

// classifySend maps a SendTransaction failure. Only a JSON-RPC error means
// the node answered and refused the transaction; a transport or context error
// may have come after the node accepted it.
func classifySend(txHash string, err error) error {
	var rpcErr rpc.Error
	var dataErr rpc.DataError
	if errors.As(err, &rpcErr) || errors.As(err, &dataErr) {
		return fmt.Errorf("%w: node refused transaction %s: %v", ErrRejected, txHash, err)
	}
	return fmt.Errorf("%w: transaction %s may have been delivered: %v", ErrUncertain, txHash, err)
}

// classifyPreSend maps an estimation failure. A revert is a rejection by the
// contract; anything else means the node could not be asked. Neither sent a
// transaction.
func classifyPreSend(err error) error {
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRejected) {
		return err
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "revert") || strings.Contains(msg, "insufficient funds") || strings.Contains(msg, "gas required exceeds") {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
