package ledger

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

type fakeProduct struct {
	fileHash  string
	owner     common.Address
	timestamp int64
}

// fakeBackend is an in-memory chain that executes the product registry
// contract's calls and transactions directly.
type fakeBackend struct {
	chainID *big.Int

	mu       sync.Mutex
	products map[string]fakeProduct
	receipts map[common.Hash]*ethtypes.Receipt
	logs     []ethtypes.Log
	block    uint64
	nonce    uint64
	lastTx   *ethtypes.Transaction
	sent     int
	gasPrice *big.Int

	estimateErr     error
	sendErr         error
	callErr         error
	revert          bool
	withholdReceipt bool
	lostResponse    bool // apply the transaction, then fail as if the reply timed out
}

// jsonRPCError is an error object returned by the node, as ethclient surfaces it.
type jsonRPCError struct {
	code int
	msg  string
}

func (e *jsonRPCError) Error() string  { return e.msg }
func (e *jsonRPCError) ErrorCode() int { return e.code }

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	return &fakeBackend{
		chainID:  big.NewInt(97),
		products: make(map[string]fakeProduct),
		receipts: make(map[common.Hash]*ethtypes.Receipt),
		block:    100,
		gasPrice: big.NewInt(5e9),
	}
}

func (f *fakeBackend) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (f *fakeBackend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callErr != nil {
		return nil, f.callErr
	}

	parsed, err := registryABI()
	if err != nil {
		return nil, err
	}
	method, err := parsed.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	p := f.products[args[0].(string)]

	switch method.Name {
	case methodGetInfo:
		return method.Outputs.Pack(p.fileHash, p.owner, big.NewInt(p.timestamp))
	case methodGetHash:
		return method.Outputs.Pack(p.fileHash)
	case methodExists:
		return method.Outputs.Pack(p.fileHash != "")
	}
	return nil, errors.New("unexpected call " + method.Name)
}

func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &ethtypes.Header{Number: new(big.Int).SetUint64(f.block)}, nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1e9), nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 50000, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}

	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(f.chainID), tx)
	if err != nil {
		return err
	}
	parsed, _ := registryABI()
	method, err := parsed.MethodById(tx.Data()[:4])
	if err != nil {
		return err
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		return err
	}

	f.sent++
	f.nonce++
	f.block++
	f.lastTx = tx

	status := ethtypes.ReceiptStatusSuccessful
	if f.revert {
		status = ethtypes.ReceiptStatusFailed
	} else {
		productID, fileHash := args[0].(string), args[1].(string)
		f.products[productID] = fakeProduct{fileHash: fileHash, owner: sender, timestamp: 1700000000}
		f.logs = append(f.logs, storedLog(tx.To(), productID, fileHash, sender, f.block, tx.Hash()))
	}

	if !f.withholdReceipt {
		f.receipts[tx.Hash()] = &ethtypes.Receipt{
			Status:      status,
			TxHash:      tx.Hash(),
			BlockNumber: new(big.Int).SetUint64(f.block),
		}
	}
	if f.lostResponse {
		return context.DeadlineExceeded
	}
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ethtypes.Log
	for _, l := range f.logs {
		if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeBackend) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- ethtypes.Log) (ethereum.Subscription, error) {
	return nil, errors.New("subscriptions not supported")
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.block, nil
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return f.chainID, nil
}

func storedLog(contract *common.Address, productID, fileHash string, owner common.Address, block uint64, txHash common.Hash) ethtypes.Log {
	parsed, _ := registryABI()
	ev := parsed.Events[eventStored]
	data, _ := ev.Inputs.NonIndexed().Pack(fileHash)

	var addr common.Address
	if contract != nil {
		addr = *contract
	}
	return ethtypes.Log{
		Address: addr,
		Topics: []common.Hash{
			ev.ID,
			crypto.Keccak256Hash([]byte(productID)),
			common.BytesToHash(owner.Bytes()),
		},
		Data:        data,
		BlockNumber: block,
		TxHash:      txHash,
	}
}

func testChainConfig() *ChainConfig {
	cfg := DefaultChainConfig()
	cfg.RPCURL = "http://fake"
	cfg.ChainID = 97
	cfg.ReadTimeout = time.Second
	cfg.ConfirmTimeout = 2 * time.Second
	cfg.ConfirmPoll = 10 * time.Millisecond
	return cfg
}

var testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

func newTestContractLedger(t *testing.T, backend *fakeBackend, cfg *ChainConfig) *ContractLedger {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	chain, err := NewChainClientWithBackend(context.Background(), cfg, backend, key)
	if err != nil {
		t.Fatalf("failed to attach backend: %v", err)
	}
	cl, err := NewContractLedger(chain, testContract)
	if err != nil {
		t.Fatalf("failed to bind contract: %v", err)
	}
	return cl
}
