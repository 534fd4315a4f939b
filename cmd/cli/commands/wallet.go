package commands

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/scanchain/scanchain/internal/wallet"
)

// NewWalletCmd creates the wallet command group
func NewWalletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage the server's ledger wallet",
		Long: `Manage the Ethereum wallet the API server signs ledger writes with.

The wallet is stored as an encrypted keystore file (geth V3 format) in the
keystore directory from config. Without a wallet the server can read the
ledger but rejects uploads.

The password can be stored in your platform keyring so the server unlocks
the wallet at startup:
  macOS:  Keychain
  Linux:  GNOME Keyring / KDE Wallet
  Other:  set ` + wallet.PasswordEnv + ` or ledger.wallet_password_file

Examples:
  scanchain wallet create   # Generate a new wallet
  scanchain wallet import   # Import from a private key
  scanchain wallet show     # Show address and keystore path`,
	}

	cmd.AddCommand(newWalletCreateCmd())
	cmd.AddCommand(newWalletImportCmd())
	cmd.AddCommand(newWalletShowCmd())
	cmd.AddCommand(newWalletExportCmd())
	cmd.AddCommand(newWalletForgetPasswordCmd())

	return cmd
}

// storePasswordInKeyring saves the password in the platform keyring, or
// explains the alternatives when there is none.
func storePasswordInKeyring(password string) {
	if backend, err := wallet.StorePassword(password); err == nil {
		fmt.Printf("  Password saved to %s\n", backend)
		fmt.Println("  The server will unlock the wallet automatically at startup.")
		return
	}

	fmt.Println("  Could not store password in system keyring.")
	fmt.Println("  For automatic wallet unlock, set one of:")
	fmt.Println("    - " + wallet.PasswordEnv + " environment variable")
	fmt.Println("    - ledger.wallet_password_file in config.yaml")
}

// promptNewPassword asks for a password twice, up to three attempts.
func promptNewPassword() (string, error) {
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fmt.Fprint(os.Stderr, "Enter wallet password: ")
		password, err := readPasswordNoEcho()
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}

		if len(password) < 8 {
			Warning("Password must be at least 8 characters. Try again.")
			continue
		}

		fmt.Fprint(os.Stderr, "Confirm wallet password: ")
		confirm, err := readPasswordNoEcho()
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read confirmation: %w", err)
		}

		if password != confirm {
			Warning("Passwords do not match. Try again.")
			continue
		}
		return password, nil
	}
	return "", fmt.Errorf("too many failed attempts")
}

// checkNoWallet fails when dir already holds a wallet.
func checkNoWallet(dir string) error {
	w, err := wallet.Load(dir)
	if errors.Is(err, wallet.ErrNoWallet) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check keystore: %w", err)
	}
	return fmt.Errorf("wallet already exists at %s (address: %s)", dir, w.Address().Hex())
}

func newWalletCreateCmd() *cobra.Command {
	var keystoreDir string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new wallet",
		Long:  "Create a new Ethereum wallet with a password-encrypted keystore file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if keystoreDir == "" {
				keystoreDir = GetKeystoreDir()
			}
			if err := checkNoWallet(keystoreDir); err != nil {
				return err
			}

			password, err := promptNewPassword()
			if err != nil {
				return err
			}

			w, err := wallet.Create(keystoreDir, password)
			if err != nil {
				return err
			}

			fmt.Println()
			Success("Wallet created!")
			fmt.Println(StatusBox("Wallet", [][2]string{
				{"Address", w.Address().Hex()},
				{"Keystore", keystoreDir},
			}))
			storePasswordInKeyring(password)
			fmt.Println()
			Warning("Fund this address with gas before uploading documents.")
			fmt.Println(Hint("Back up your keystore directory and remember your password."))
			return nil
		},
	}

	cmd.Flags().StringVar(&keystoreDir, "keystore", "", "Path to keystore directory (default: from config)")

	return cmd
}

func newWalletImportCmd() *cobra.Command {
	var keystoreDir string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a wallet from a private key",
		Long:  "Import an existing Ethereum private key into an encrypted keystore file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if keystoreDir == "" {
				keystoreDir = GetKeystoreDir()
			}
			if err := checkNoWallet(keystoreDir); err != nil {
				return err
			}

			const maxAttempts = 3
			var privKeyHex string
			for attempt := 1; attempt <= maxAttempts; attempt++ {
				fmt.Fprint(os.Stderr, "Enter private key (hex, with or without 0x prefix): ")
				input, err := readPasswordNoEcho()
				fmt.Fprintln(os.Stderr)
				if err != nil {
					return fmt.Errorf("failed to read private key: %w", err)
				}

				input = strings.TrimPrefix(strings.TrimSpace(input), "0x")
				if len(input) != 64 {
					Warning(fmt.Sprintf("Private key must be 64 hex characters (32 bytes), got %d. Try again.", len(input)))
					continue
				}
				privKeyHex = input
				break
			}
			if privKeyHex == "" {
				return fmt.Errorf("too many failed attempts")
			}

			password, err := promptNewPassword()
			if err != nil {
				return err
			}

			w, err := wallet.Import(keystoreDir, privKeyHex, password)
			if err != nil {
				return err
			}

			fmt.Println()
			Success("Wallet imported!")
			fmt.Println(StatusBox("Wallet", [][2]string{
				{"Address", w.Address().Hex()},
				{"Keystore", keystoreDir},
			}))
			storePasswordInKeyring(password)
			return nil
		},
	}

	cmd.Flags().StringVar(&keystoreDir, "keystore", "", "Path to keystore directory (default: from config)")

	return cmd
}

func newWalletShowCmd() *cobra.Command {
	var keystoreDir string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show wallet address and keystore path",
		Long:  "Display the wallet address and keystore directory. No password needed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if keystoreDir == "" {
				keystoreDir = GetKeystoreDir()
			}
			w, err := wallet.Load(keystoreDir)
			if errors.Is(err, wallet.ErrNoWallet) {
				Info("No wallet found.")
				fmt.Println(Hint("Create one with: scanchain wallet create"))
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to load wallet: %w", err)
			}

			pwStatus := "not stored (manual unlock required)"
			if pw, err := wallet.RetrievePassword(); err == nil && pw != "" {
				pwStatus = "stored in platform keyring"
			} else if os.Getenv(wallet.PasswordEnv) != "" {
				pwStatus = "set in " + wallet.PasswordEnv
			}

			if jsonOutput() {
				return printJSON(map[string]string{
					"address":  w.Address().Hex(),
					"keystore": keystoreDir,
					"password": pwStatus,
				})
			}
			fmt.Println(StatusBox("Wallet", [][2]string{
				{"Address", w.Address().Hex()},
				{"Keystore", keystoreDir},
				{"Password", pwStatus},
			}))

			return nil
		},
	}

	cmd.Flags().StringVar(&keystoreDir, "keystore", "", "Path to keystore directory (default: from config)")

	return cmd
}

func newWalletExportCmd() *cobra.Command {
	var keystoreDir string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the wallet's private key",
		Long: `Export the wallet's private key in hex format.

WARNING: The private key controls the ledger signer and its funds.
Never share it, and clear your terminal history after use.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if keystoreDir == "" {
				keystoreDir = GetKeystoreDir()
			}
			w, err := wallet.Load(keystoreDir)
			if err != nil {
				return fmt.Errorf("failed to load wallet: %w", err)
			}

			fmt.Fprintf(os.Stderr, "WARNING: This will display your private key in plain text.\n\n")
			fmt.Fprint(os.Stderr, "Enter wallet password: ")
			password, err := readPasswordNoEcho()
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}

			privKey, err := w.PrivateKey(password)
			if err != nil {
				return fmt.Errorf("failed to export key (wrong password?): %w", err)
			}
			defer w.ClearCachedKey()

			fmt.Println()
			fmt.Printf("Address:     %s\n", w.Address().Hex())
			fmt.Printf("Private Key: %s\n", hex.EncodeToString(crypto.FromECDSA(privKey)))
			fmt.Println()
			fmt.Fprintln(os.Stderr, "Clear your terminal history: history -c && history -w")

			return nil
		},
	}

	cmd.Flags().StringVar(&keystoreDir, "keystore", "", "Path to keystore directory (default: from config)")

	return cmd
}

func newWalletForgetPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget-password",
		Short: "Remove the wallet password from the system keyring",
		Long: `Remove the stored wallet password from the platform keyring.

After this the server needs ` + wallet.PasswordEnv + ` or a password file
to unlock the wallet.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wallet.DeletePassword(); err != nil {
				return fmt.Errorf("failed to remove password: %w", err)
			}
			Success("Removed password from platform keyring")
			return nil
		},
	}
}

// readPasswordNoEcho reads a line from stdin with echo disabled.
func readPasswordNoEcho() (string, error) {
	password, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	return string(password), nil
}
