package commands

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/scanchain/scanchain/internal/config"
	"github.com/scanchain/scanchain/internal/wallet"
)

var initNonInteractive bool

func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive setup wizard",
		Long: `Write a server configuration with a guided wizard.

Walks you through:
  1. Choose a mode:
     - Simulation: in-memory ledger and storage, no chain needed
     - Live:       BNB Smart Chain contract plus S3 or IPFS storage
  2. Ledger RPC and contract address (live mode)
  3. Object store backend and bucket
  4. Create or import the ledger wallet (live mode)

Use Shift+Tab to go back to previous steps.
Press Ctrl+C at any time to cancel without making changes.

Creates: ~/.scanchain/config.yaml

With --non-interactive a simulation config is written.`,
		RunE: runInit,
	}

	cmd.Flags().BoolVar(&initNonInteractive, "non-interactive", false, "Write a simulation config without prompts")

	return cmd
}

// initAnswers are the wizard results.
type initAnswers struct {
	mode      string
	rpcURL    string
	contract  string
	storage   string
	bucket    string
	endpoint  string
	ipfsAPI   string
	port      string
	walletOp  string
	demoUsers bool
}

// buildConfig applies the answers to the defaults.
func buildConfig(a initAnswers) (*config.Config, error) {
	cfg := config.DefaultConfig()

	if a.port != "" {
		port, err := strconv.Atoi(a.port)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", a.port)
		}
		cfg.Server.Port = port
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
	}
	cfg.Auth.JWTSecret = hex.EncodeToString(secret)
	cfg.Auth.DemoUsers = a.demoUsers

	if a.mode == "simulation" {
		cfg.Simulation.Enabled = true
		cfg.Storage.Backend = "memory"
		cfg.Registry.Backend = "memory"
		return cfg, nil
	}

	if a.rpcURL != "" {
		cfg.Ledger.RPCURL = a.rpcURL
	}
	cfg.Ledger.ContractAddress = common.HexToAddress(a.contract).Hex()
	cfg.Storage.Backend = a.storage
	if a.bucket != "" {
		cfg.Storage.Bucket = a.bucket
	}
	cfg.Storage.Endpoint = a.endpoint
	if a.ipfsAPI != "" {
		cfg.Storage.IPFSAPI = a.ipfsAPI
	}
	return cfg, nil
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigPath()
	_, statErr := os.Stat(configPath)
	hasExistingConfig := statErr == nil

	if initNonInteractive || !isTTY() {
		if hasExistingConfig {
			return fmt.Errorf("config already exists at %s", configPath)
		}
		cfg, err := buildConfig(initAnswers{mode: "simulation", demoUsers: true})
		if err != nil {
			return err
		}
		return writeConfig(cfg, configPath)
	}

	fmt.Println()
	fmt.Println(StatusBox(Logo()+" Setup", [][2]string{
		{"", "Welcome! Let's configure your ScanChain server."},
		{"", "Use Shift+Tab to go back, Ctrl+C to cancel."},
	}))
	fmt.Println()

	keystoreDir := GetKeystoreDir()
	existingWallet, err := wallet.Load(keystoreDir)
	if err != nil && !errors.Is(err, wallet.ErrNoWallet) {
		return err
	}

	var (
		a         = initAnswers{mode: "simulation", storage: "s3", demoUsers: true}
		overwrite bool
		confirm   bool
	)

	walletDesc := "The server signs ledger writes with this wallet"
	if existingWallet != nil {
		walletDesc = fmt.Sprintf("Existing wallet found: %s", FormatAddress(existingWallet.Address().Hex()))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("How will this server run?").
				Options(
					huh.NewOption("Simulation: in-memory ledger and storage (development)", "simulation"),
					huh.NewOption("Live: BNB Smart Chain contract and real object storage", "live"),
				).
				Value(&a.mode),
			huh.NewInput().
				Title("HTTP port").
				Placeholder("3001").
				Validate(func(s string) error {
					if s == "" {
						return nil
					}
					if p, err := strconv.Atoi(s); err != nil || p < 1 || p > 65535 {
						return fmt.Errorf("port must be 1-65535")
					}
					return nil
				}).
				Value(&a.port),
			huh.NewConfirm().
				Title("Seed demo accounts?").
				Description("manufacturer@techcorp.com and supplier@logistics.com").
				Value(&a.demoUsers),
		),

		huh.NewGroup(
			huh.NewInput().
				Title("Ledger RPC URL").
				Placeholder(config.DefaultConfig().Ledger.RPCURL).
				Validate(validateHTTPURL).
				Value(&a.rpcURL),
			huh.NewInput().
				Title("Registry contract address").
				Validate(func(s string) error {
					if !common.IsHexAddress(s) {
						return fmt.Errorf("must be a 0x-prefixed 40 hex character address")
					}
					return nil
				}).
				Value(&a.contract),
		).WithHideFunc(func() bool { return a.mode != "live" }),

		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Object store").
				Options(
					huh.NewOption("S3-compatible (AWS, MinIO, Greenfield gateway)", "s3"),
					huh.NewOption("IPFS node", "ipfs"),
				).
				Value(&a.storage),
		).WithHideFunc(func() bool { return a.mode != "live" }),

		huh.NewGroup(
			huh.NewInput().
				Title("Bucket").
				Placeholder(config.DefaultConfig().Storage.Bucket).
				Value(&a.bucket),
			huh.NewInput().
				Title("Endpoint").
				Description("Leave empty for AWS").
				Validate(validateHTTPURL).
				Value(&a.endpoint),
		).WithHideFunc(func() bool { return a.mode != "live" || a.storage != "s3" }),

		huh.NewGroup(
			huh.NewInput().
				Title("IPFS API address").
				Placeholder("localhost:5001").
				Value(&a.ipfsAPI),
		).WithHideFunc(func() bool { return a.mode != "live" || a.storage != "ipfs" }),

		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Wallet setup").
				Description(walletDesc).
				Options(
					huh.NewOption("Create new wallet", "create"),
					huh.NewOption("Import existing private key", "import"),
					huh.NewOption("Skip (configure later with: scanchain wallet create)", "skip"),
				).
				Value(&a.walletOp),
		).WithHideFunc(func() bool { return a.mode != "live" || existingWallet != nil }),

		huh.NewGroup(
			huh.NewConfirm().
				Title("Config file already exists. Overwrite?").
				Description(configPath).
				Affirmative("Overwrite").
				Negative("Keep existing").
				Value(&overwrite),
		).WithHideFunc(func() bool { return !hasExistingConfig }),

		huh.NewGroup(
			huh.NewConfirm().
				Title("Apply this configuration?").
				DescriptionFunc(func() string {
					lines := []string{fmt.Sprintf("Mode:    %s", a.mode)}
					if a.mode == "live" {
						lines = append(lines,
							fmt.Sprintf("Ledger:  %s", FormatAddress(a.contract)),
							fmt.Sprintf("Storage: %s", a.storage))
					}
					lines = append(lines, fmt.Sprintf("Config:  %s", configPath))
					return strings.Join(lines, "\n")
				}, &a).
				Affirmative("Confirm").
				Negative("Cancel").
				Value(&confirm),
		),
	).WithTheme(huh.ThemeBase())

	if err := form.Run(); err != nil {
		return err
	}

	if !confirm || (hasExistingConfig && !overwrite) {
		Info("Setup cancelled, no changes made")
		return nil
	}

	cfg, err := buildConfig(a)
	if err != nil {
		return err
	}

	switch a.walletOp {
	case "create":
		walletCmd := newWalletCreateCmd()
		if err := walletCmd.RunE(walletCmd, nil); err != nil {
			Warning(fmt.Sprintf("Wallet creation failed: %v", err))
			fmt.Println(Hint("Create later with: scanchain wallet create"))
		}
	case "import":
		walletCmd := newWalletImportCmd()
		if err := walletCmd.RunE(walletCmd, nil); err != nil {
			Warning(fmt.Sprintf("Wallet import failed: %v", err))
			fmt.Println(Hint("Import later with: scanchain wallet import"))
		}
	}

	if err := writeConfig(cfg, configPath); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(Hint("Next: scanchain-api --config " + configPath))
	return nil
}

func writeConfig(cfg *config.Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := cfg.Save(path); err != nil {
		return err
	}
	Success(fmt.Sprintf("Config written to %s", path))
	return nil
}

func validateHTTPURL(s string) error {
	if s == "" {
		return nil
	}
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return fmt.Errorf("must start with http:// or https://")
	}
	if _, err := url.ParseRequestURI(s); err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	return nil
}
