package doctor

import (
	"context"
	"errors"
	"fmt"

	"github.com/scanchain/scanchain/internal/config"
	"github.com/scanchain/scanchain/internal/wallet"
)

// WalletChecker checks that the ledger signing wallet exists and can be
// unlocked without a prompt. Only a contract ledger needs it.
type WalletChecker struct {
	keystoreDir  string
	passwordFile string
	needed       bool
}

func NewWalletChecker(cfg *config.Config) *WalletChecker {
	return &WalletChecker{
		keystoreDir:  cfg.Ledger.KeystoreDir,
		passwordFile: cfg.Ledger.WalletPasswordFile,
		needed:       cfg.Ledger.ContractAddress != "",
	}
}

func (c *WalletChecker) Name() string       { return "Wallet" }
func (c *WalletChecker) Category() Category { return CategoryLedger }

func (c *WalletChecker) Check(ctx context.Context) CheckResult {
	if !c.needed {
		return result(c, StatusSkipped, "Wallet: not needed for the simulated ledger")
	}

	w, err := wallet.Load(c.keystoreDir)
	if errors.Is(err, wallet.ErrNoWallet) {
		r := result(c, StatusError, "Wallet: not configured")
		r.Details = "Uploads are rejected without a signing key"
		r.FixCommand = "scanchain wallet create"
		return r
	}
	if err != nil {
		r := result(c, StatusError, "Wallet: unable to read keystore")
		r.Details = err.Error()
		return r
	}

	addr := w.Address().Hex()
	short := addr[:6] + "..." + addr[len(addr)-4:]

	password, source, err := wallet.ResolvePassword(c.passwordFile)
	if err != nil {
		r := result(c, StatusWarning, fmt.Sprintf("Wallet: %s, password not available", short))
		r.Details = fmt.Sprintf("Set %s, ledger.wallet_password_file, or store it in the keyring", wallet.PasswordEnv)
		return r
	}
	if _, err := w.PrivateKey(password); err != nil {
		r := result(c, StatusError, fmt.Sprintf("Wallet: %s, password from %s does not unlock it", short, source))
		r.Details = err.Error()
		return r
	}
	w.ClearCachedKey()

	return result(c, StatusOK, fmt.Sprintf("Wallet: %s (unlocked via %s)", short, source))
}
