package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/scanchain/scanchain/internal/logging"
)

// PasswordEnv names the environment variable checked first for the wallet password.
const PasswordEnv = "SCANCHAIN_WALLET_PASSWORD"

// ErrNoPassword means no password source produced a value.
var ErrNoPassword = errors.New("wallet password not found (set " + PasswordEnv + ", a password file, or store it in the keyring)")

// PasswordSource names where a password came from.
type PasswordSource string

const (
	SourceEnv     PasswordSource = "env"
	SourceFile    PasswordSource = "file"
	SourceKeyring PasswordSource = "keyring"
)

// ResolvePassword looks up the wallet password in the environment, then
// passwordFile (if set), then the OS keyring.
func ResolvePassword(passwordFile string) (string, PasswordSource, error) {
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, SourceEnv, nil
	}

	if passwordFile != "" {
		info, err := os.Stat(passwordFile)
		if err != nil {
			return "", "", fmt.Errorf("failed to stat password file: %w", err)
		}
		if info.Mode().Perm()&0077 != 0 {
			logging.Warn("wallet password file is readable by other users",
				"path", passwordFile,
				"mode", info.Mode().Perm().String(),
				logging.Component("wallet"))
		}
		data, err := os.ReadFile(passwordFile)
		if err != nil {
			return "", "", fmt.Errorf("failed to read password file: %w", err)
		}
		if pw := strings.TrimRight(string(data), "\r\n"); pw != "" {
			return pw, SourceFile, nil
		}
	}

	pw, err := RetrievePassword()
	if err != nil {
		logging.Debug("keyring unavailable", logging.Err(err), logging.Component("wallet"))
		return "", "", ErrNoPassword
	}
	if pw == "" {
		return "", "", ErrNoPassword
	}
	return pw, SourceKeyring, nil
}

// LoadKey opens the wallet in dir and decrypts its key with the resolved password.
func LoadKey(dir, passwordFile string) (*ecdsa.PrivateKey, *Wallet, error) {
	w, err := Load(dir)
	if err != nil {
		return nil, nil, err
	}

	password, source, err := ResolvePassword(passwordFile)
	if err != nil {
		return nil, nil, err
	}

	key, err := w.PrivateKey(password)
	if err != nil {
		return nil, nil, err
	}

	logging.Info("wallet unlocked",
		"address", w.Address().Hex(),
		"source", string(source),
		logging.Component("wallet"))
	return key, w, nil
}
