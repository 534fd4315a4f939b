package ledger

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/scanchain/scanchain/internal/hashing"
	"github.com/scanchain/scanchain/pkg/types"
)

// SimulatedTxPrefix starts every receipt fabricated by SimulatedLedger. It is
// not valid hex, so a simulated receipt cannot pass for a real transaction.
const SimulatedTxPrefix = "0xsim"

// SimulatedChainID is reported by SimulatedLedger.NetworkInfo.
const SimulatedChainID = 1337

// SimulatedLedger is an in-memory ledger for simulation mode and tests.
type SimulatedLedger struct {
	owner string

	mu      sync.RWMutex
	records map[string]types.ProductRecord
	seq     uint64
	block   uint64

	// Fault injection
	faultMu     sync.RWMutex
	putErr      error
	putRecorded bool
	getErr      error
	delay       time.Duration
}

// NewSimulatedLedger creates an empty ledger whose records are owned by owner.
func NewSimulatedLedger(owner string) *SimulatedLedger {
	return &SimulatedLedger{
		owner:   owner,
		records: make(map[string]types.ProductRecord),
		block:   1,
	}
}

// Simulated implements Ledger.
func (sl *SimulatedLedger) Simulated() bool { return true }

// SetPutFault makes Put fail with err. When recorded is true the record is
// still written, modelling a transaction that landed but was not confirmed.
func (sl *SimulatedLedger) SetPutFault(err error, recorded bool) {
	sl.faultMu.Lock()
	defer sl.faultMu.Unlock()
	sl.putErr = err
	sl.putRecorded = recorded
}

// SetGetError makes Get and Exists fail with err (nil clears).
func (sl *SimulatedLedger) SetGetError(err error) {
	sl.faultMu.Lock()
	defer sl.faultMu.Unlock()
	sl.getErr = err
}

// SetDelay adds latency to every call.
func (sl *SimulatedLedger) SetDelay(d time.Duration) {
	sl.faultMu.Lock()
	defer sl.faultMu.Unlock()
	sl.delay = d
}

func (sl *SimulatedLedger) wait(ctx context.Context) error {
	sl.faultMu.RLock()
	d := sl.delay
	sl.faultMu.RUnlock()

	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Put implements Ledger. Records are write-once.
func (sl *SimulatedLedger) Put(ctx context.Context, productID string, digest hashing.Digest) (Receipt, error) {
	if err := sl.wait(ctx); err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sl.faultMu.RLock()
	injected, recorded := sl.putErr, sl.putRecorded
	sl.faultMu.RUnlock()

	if injected != nil && !recorded {
		return Receipt{}, injected
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	if _, exists := sl.records[productID]; exists {
		return Receipt{}, fmt.Errorf("%w: product %s already recorded", ErrRejected, productID)
	}

	sl.seq++
	sl.block++
	sl.records[productID] = types.ProductRecord{
		ProductID: productID,
		FileHash:  string(digest),
		Owner:     sl.owner,
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Simulated: true,
	}

	receipt := Receipt{
		TxHash:      simulatedTxHash(productID, digest, sl.seq),
		BlockNumber: sl.block,
		Simulated:   true,
	}
	if injected != nil {
		return receipt, injected
	}
	return receipt, nil
}

// Get implements Ledger.
func (sl *SimulatedLedger) Get(ctx context.Context, productID string) (types.ProductRecord, error) {
	if err := sl.readFault(ctx); err != nil {
		return types.ProductRecord{}, err
	}

	sl.mu.RLock()
	defer sl.mu.RUnlock()
	record, ok := sl.records[productID]
	if !ok {
		return types.ProductRecord{}, fmt.Errorf("%w: %s", ErrNotFound, productID)
	}
	return record, nil
}

// Exists implements Ledger.
func (sl *SimulatedLedger) Exists(ctx context.Context, productID string) (bool, error) {
	if err := sl.readFault(ctx); err != nil {
		return false, err
	}

	sl.mu.RLock()
	defer sl.mu.RUnlock()
	_, ok := sl.records[productID]
	return ok, nil
}

func (sl *SimulatedLedger) readFault(ctx context.Context) error {
	if err := sl.wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	sl.faultMu.RLock()
	defer sl.faultMu.RUnlock()
	return sl.getErr
}

// NetworkInfo implements Ledger.
func (sl *SimulatedLedger) NetworkInfo(ctx context.Context) (NetworkInfo, error) {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return NetworkInfo{
		ChainID:     SimulatedChainID,
		Name:        "simulated",
		BlockNumber: sl.block,
		Simulated:   true,
	}, nil
}

// Len returns the number of recorded products.
func (sl *SimulatedLedger) Len() int {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return len(sl.records)
}

func simulatedTxHash(productID string, digest hashing.Digest, seq uint64) string {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], seq)
	sum := crypto.Keccak256([]byte(productID), []byte(digest), n[:])
	return SimulatedTxPrefix + hex.EncodeToString(sum)[:59]
}
