package doctor

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/scanchain/scanchain/internal/config"
	"github.com/scanchain/scanchain/internal/ledger"
)

// LedgerChecker dials the RPC endpoint, compares the chain ID and looks for
// contract code at the configured address.
type LedgerChecker struct {
	rpcURL   string
	chainID  int64
	contract string
}

func NewLedgerChecker(cfg *config.Config) *LedgerChecker {
	return &LedgerChecker{
		rpcURL:   cfg.Ledger.RPCURL,
		chainID:  cfg.Ledger.ChainID,
		contract: cfg.Ledger.ContractAddress,
	}
}

func (c *LedgerChecker) Name() string       { return "Ledger RPC" }
func (c *LedgerChecker) Category() Category { return CategoryLedger }

func (c *LedgerChecker) Check(ctx context.Context) CheckResult {
	if c.contract == "" {
		return result(c, StatusSkipped, "Ledger: simulated, no contract configured")
	}

	client, err := ethclient.DialContext(ctx, c.rpcURL)
	if err != nil {
		r := result(c, StatusError, "Ledger: cannot dial RPC")
		r.Details = err.Error()
		return r
	}
	defer client.Close()

	id, err := client.ChainID(ctx)
	if err != nil {
		r := result(c, StatusError, "Ledger: RPC unreachable")
		r.Details = fmt.Sprintf("%s: %v", c.rpcURL, err)
		return r
	}
	if id.Int64() != c.chainID {
		r := result(c, StatusError, fmt.Sprintf("Ledger: chain ID %d, config expects %d", id.Int64(), c.chainID))
		r.Details = "Check ledger.rpc_url and ledger.chain_id"
		return r
	}

	code, err := client.CodeAt(ctx, common.HexToAddress(c.contract), nil)
	if err != nil {
		r := result(c, StatusError, "Ledger: unable to read contract code")
		r.Details = err.Error()
		return r
	}
	if len(code) == 0 {
		r := result(c, StatusError, "Ledger: no contract deployed at address")
		r.Details = fmt.Sprintf("%s on %s", c.contract, ledger.NetworkName(c.chainID))
		return r
	}

	block, err := client.BlockNumber(ctx)
	if err != nil {
		return result(c, StatusOK, fmt.Sprintf("Ledger: %s", ledger.NetworkName(c.chainID)))
	}
	return result(c, StatusOK, fmt.Sprintf("Ledger: %s at block %d", ledger.NetworkName(c.chainID), block))
}
