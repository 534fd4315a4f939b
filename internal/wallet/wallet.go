// Package wallet holds the ledger signing key in a geth V3 keystore.
package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNoWallet is returned by Load when the keystore directory holds no account.
var ErrNoWallet = errors.New("no wallet found in keystore")

// Scrypt parameters used for new keystore files. Tests lower them.
var (
	scryptN = keystore.StandardScryptN
	scryptP = keystore.StandardScryptP
)

// Wallet is the signer behind the contract ledger.
type Wallet struct {
	keystore *keystore.KeyStore
	dir      string
	address  common.Address

	mu         sync.Mutex
	privateKey *ecdsa.PrivateKey
}

func openKeystore(dir string) (*keystore.KeyStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}
	return keystore.NewKeyStore(dir, scryptN, scryptP), nil
}

// Load opens the first account in dir. It returns ErrNoWallet when there is none.
func Load(dir string) (*Wallet, error) {
	ks, err := openKeystore(dir)
	if err != nil {
		return nil, err
	}
	found := ks.Accounts()
	if len(found) == 0 {
		return nil, ErrNoWallet
	}
	return &Wallet{keystore: ks, dir: dir, address: found[0].Address}, nil
}

// Create generates a new key in dir, encrypted with password.
func Create(dir, password string) (*Wallet, error) {
	ks, err := openKeystore(dir)
	if err != nil {
		return nil, err
	}
	if len(ks.Accounts()) > 0 {
		return nil, fmt.Errorf("wallet already exists in %s", dir)
	}

	account, err := ks.NewAccount(password)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return &Wallet{keystore: ks, dir: dir, address: account.Address}, nil
}

// Import stores a hex private key (with or without 0x) in dir, encrypted with password.
func Import(dir, privKeyHex, password string) (*Wallet, error) {
	ks, err := openKeystore(dir)
	if err != nil {
		return nil, err
	}
	if len(ks.Accounts()) > 0 {
		return nil, fmt.Errorf("wallet already exists in %s", dir)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}

	account, err := ks.ImportECDSA(privateKey, password)
	if err != nil {
		return nil, fmt.Errorf("failed to import key: %w", err)
	}
	return &Wallet{keystore: ks, dir: dir, address: account.Address}, nil
}

// Address returns the account address.
func (w *Wallet) Address() common.Address {
	return w.address
}

// Dir returns the keystore directory.
func (w *Wallet) Dir() string {
	return w.dir
}

// PrivateKey decrypts the key with password and caches it.
func (w *Wallet) PrivateKey(password string) (*ecdsa.PrivateKey, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.privateKey != nil {
		return w.privateKey, nil
	}

	account, err := w.keystore.Find(accounts.Account{Address: w.address})
	if err != nil {
		return nil, fmt.Errorf("failed to find account %s: %w", w.address.Hex(), err)
	}

	keyJSON, err := os.ReadFile(account.URL.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	key, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key: %w", err)
	}

	w.privateKey = key.PrivateKey
	return key.PrivateKey, nil
}

// ClearCachedKey zeros and drops the cached private key.
func (w *Wallet) ClearCachedKey() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.privateKey != nil {
		w.privateKey.D.SetUint64(0)
		w.privateKey = nil
	}
}

// SignHash signs a 32-byte hash with the wallet key.
func (w *Wallet) SignHash(hash []byte, password string) ([]byte, error) {
	privateKey, err := w.PrivateKey(password)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(hash, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign hash: %w", err)
	}
	return signature, nil
}
