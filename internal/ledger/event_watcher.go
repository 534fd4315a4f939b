package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/scanchain/scanchain/internal/logging"
	"github.com/scanchain/scanchain/internal/util"
)

const (
	eventBackfillBlocks = 100 // blocks to backfill on first poll
	eventMaxRange       = 5000
	eventPollDefault    = 15 * time.Second
)

// ProductStoredEvent is a decoded ProductStored log. The product ID is an
// indexed string, so only its Keccak hash is available.
type ProductStoredEvent struct {
	ProductIDHash common.Hash    `json:"productIdHash"`
	FileHash      string         `json:"fileHash"`
	Owner         common.Address `json:"owner"`
	TxHash        string         `json:"txHash"`
	BlockNumber   uint64         `json:"blockNumber"`
}

// MatchesProduct reports whether the event was emitted for productID.
func (e ProductStoredEvent) MatchesProduct(productID string) bool {
	return e.ProductIDHash == crypto.Keccak256Hash([]byte(productID))
}

// EventWatcher polls the registry contract for ProductStored logs and hands
// each one to a handler. Polling keeps it usable against plain HTTP RPC nodes.
type EventWatcher struct {
	chain        *ChainClient
	contractAddr common.Address
	contractABI  abi.ABI
	interval     time.Duration
	handler      func(ProductStoredEvent)

	lastBlock atomic.Uint64
	running   atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewEventWatcher creates a watcher for the contract at contractAddr.
func NewEventWatcher(chain *ChainClient, contractAddr common.Address, interval time.Duration, handler func(ProductStoredEvent)) (*EventWatcher, error) {
	parsed, err := registryABI()
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = eventPollDefault
	}
	return &EventWatcher{
		chain:        chain,
		contractAddr: contractAddr,
		contractABI:  parsed,
		interval:     interval,
		handler:      handler,
	}, nil
}

// Start begins polling in the background.
func (ew *EventWatcher) Start(ctx context.Context) error {
	if ew.running.Load() {
		return nil
	}
	if ew.chain == nil || !ew.chain.IsConnected() {
		logging.Info("event watcher: no chain connection, skipping", logging.Component("ledger"))
		return nil
	}

	ctx, ew.cancel = context.WithCancel(ctx)
	ew.running.Store(true)

	ew.wg.Add(1)
	util.SafeGoWithName("ledger-event-watcher", func() {
		defer ew.wg.Done()
		ew.run(ctx)
	})

	logging.Info("event watcher started",
		"contract", ew.contractAddr.Hex(),
		"interval", ew.interval.String(),
		logging.Component("ledger"))
	return nil
}

// Stop stops polling and waits for the poll goroutine to exit.
func (ew *EventWatcher) Stop() {
	if !ew.running.Load() {
		return
	}
	ew.cancel()
	ew.wg.Wait()
	ew.running.Store(false)
	logging.Info("event watcher stopped", logging.Component("ledger"))
}

// LastBlock returns the highest block already scanned.
func (ew *EventWatcher) LastBlock() uint64 {
	return ew.lastBlock.Load()
}

func (ew *EventWatcher) run(ctx context.Context) {
	ticker := time.NewTicker(ew.interval)
	defer ticker.Stop()

	for {
		if _, err := ew.poll(ctx); err != nil && ctx.Err() == nil {
			logging.Warn("event watcher: poll failed", logging.Err(err), logging.Component("ledger"))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll scans blocks after the last seen one and returns the number of events handled.
func (ew *EventWatcher) poll(ctx context.Context) (int, error) {
	backend, err := ew.chain.connectedBackend()
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, ew.chain.readTimeout())
	defer cancel()

	current, err := backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get block number: %w", err)
	}

	last := ew.lastBlock.Load()
	var from uint64
	if last == 0 {
		if current > eventBackfillBlocks {
			from = current - eventBackfillBlocks
		}
	} else {
		from = last + 1
	}
	if from > current {
		return 0, nil
	}
	to := current
	if to-from > eventMaxRange {
		to = from + eventMaxRange
	}

	ev := ew.contractABI.Events[eventStored]
	logs, err := backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{ew.contractAddr},
		Topics:    [][]common.Hash{{ev.ID}},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to filter logs: %w", err)
	}

	handled := 0
	for _, log := range logs {
		event, err := ew.parse(log)
		if err != nil {
			logging.Debug("event watcher: skipping malformed log", logging.Err(err))
			continue
		}
		if ew.handler != nil {
			ew.handler(event)
		}
		handled++
	}

	ew.lastBlock.Store(to)
	if handled > 0 {
		logging.Info("event watcher: product events",
			"count", handled,
			"from_block", from,
			"to_block", to,
			logging.Component("ledger"))
	}
	return handled, nil
}

func (ew *EventWatcher) parse(log ethtypes.Log) (ProductStoredEvent, error) {
	if len(log.Topics) < 3 {
		return ProductStoredEvent{}, fmt.Errorf("expected 3 topics, got %d", len(log.Topics))
	}
	values, err := ew.contractABI.Unpack(eventStored, log.Data)
	if err != nil {
		return ProductStoredEvent{}, fmt.Errorf("failed to unpack %s: %w", eventStored, err)
	}
	fileHash := ""
	if len(values) > 0 {
		fileHash, _ = values[0].(string)
	}

	return ProductStoredEvent{
		ProductIDHash: log.Topics[1],
		FileHash:      fileHash,
		Owner:         common.BytesToAddress(log.Topics[2].Bytes()),
		TxHash:        log.TxHash.Hex(),
		BlockNumber:   log.BlockNumber,
	}, nil
}
