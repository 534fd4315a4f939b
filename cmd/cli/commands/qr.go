package commands

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/scanchain/scanchain/internal/qr"
)

// NewQRCmd creates the qr command group.
func NewQRCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qr",
		Short: "Build and read product QR payloads",
		Long: `Build and read the JSON payloads printed as QR codes on packaging.

Examples:
  scanchain qr generate BATCH-001 --contract 0x... --meta manufacturer=Acme
  scanchain qr parse '{"productId":"BATCH-001",...}' --check`,
	}

	cmd.AddCommand(newQRGenerateCmd())
	cmd.AddCommand(newQRParseCmd())
	return cmd
}

func newQRGenerateCmd() *cobra.Command {
	var (
		contract string
		meta     map[string]string
	)

	cmd := &cobra.Command{
		Use:   "generate <product-id>",
		Short: "Build a QR payload for a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if contract == "" {
				if cfg := loadConfigQuiet(); cfg != nil {
					contract = cfg.Ledger.ContractAddress
				}
			}
			if contract == "" {
				return fmt.Errorf("contract address not provided (use --contract or set ledger.contract_address)")
			}
			if common.IsHexAddress(contract) {
				contract = common.HexToAddress(contract).Hex()
			}

			payload, err := qr.Generate(args[0], contract, meta, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(payload)
			return nil
		},
	}

	cmd.Flags().StringVar(&contract, "contract", "", "Registry contract address (default: from config)")
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "Extra payload fields, key=value")
	return cmd
}

func newQRParseCmd() *cobra.Command {
	var (
		file  string
		check bool
	)

	cmd := &cobra.Command{
		Use:   "parse [qr-payload]",
		Short: "Validate and display a QR payload",
		Long: `Validate a QR payload locally. With --check the server also reports
whether the product is registered on the ledger.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := payloadArg(args, file)
			if err != nil {
				return err
			}
			p, err := qr.Parse(raw)
			if err != nil {
				return err
			}
			md := qr.MetadataFor(p)

			verifyURL := ""
			if cfg := loadConfigQuiet(); cfg != nil {
				verifyURL = qr.VerificationURL(cfg.Server.PublicBaseURL, p.ProductID)
			} else {
				verifyURL = qr.VerificationURL("", p.ProductID)
			}

			var exists *bool
			if check {
				resp, err := GetClient().QRParse(raw)
				if err != nil {
					return describeError(err)
				}
				exists = &resp.ProductExists
				verifyURL = resp.VerificationURL
			}

			if jsonOutput() {
				return printJSON(map[string]any{
					"qrData":          p,
					"metadata":        md,
					"productExists":   exists,
					"verificationUrl": verifyURL,
				})
			}

			fields := [][2]string{
				{"Contract", md.ContractAddress},
				{"Created", md.CreatedAt},
				{"Version", p.Version},
				{"Platform", p.Platform},
			}
			if md.Manufacturer != "" {
				fields = append(fields, [2]string{"Manufacturer", md.Manufacturer})
			}
			if md.ProductName != "" {
				fields = append(fields, [2]string{"Product", md.ProductName})
			}
			if exists != nil {
				status := "not found"
				if *exists {
					status = "ok"
				}
				fields = append(fields, [2]string{"On ledger", StatusBadge(status)})
			}
			fields = append(fields, [2]string{"Verify at", verifyURL})
			fmt.Println(StatusBox("QR "+p.ProductID, fields))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the payload from a file (- for stdin)")
	cmd.Flags().BoolVar(&check, "check", false, "Ask the server whether the product is registered")
	return cmd
}

// payloadArg returns the QR payload from the argument, or from file
// ("-" reads stdin).
func payloadArg(args []string, file string) (string, error) {
	switch {
	case len(args) == 1 && file != "":
		return "", fmt.Errorf("give the payload as an argument or with --file, not both")
	case len(args) == 1:
		return args[0], nil
	case file == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", file, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return "", fmt.Errorf("QR payload required")
}
