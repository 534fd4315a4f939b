package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/scanchain/scanchain/internal/client"
	"github.com/scanchain/scanchain/internal/hashing"
)

// NewUploadCmd creates the document upload command.
func NewUploadCmd() *cobra.Command {
	var req client.UploadRequest

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Store a document and record its fingerprint on the ledger",
		Long: `Upload a PDF or JSON document as a new product. The server hashes it,
stores it in the object store and records the digest on the ledger.

The product ID must be unique; re-uploading an ID fails with a conflict.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireSession()
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			req.Data = data
			req.FileName = filepath.Base(args[0])
			if req.ContentType == "" {
				req.ContentType = contentTypeFor(req.FileName)
			}
			local := hashing.Sum(data)

			var resp *client.UploadResponse
			err = WithSpinner("Uploading and recording on ledger", func() error {
				var uploadErr error
				resp, uploadErr = c.Upload(&req)
				return uploadErr
			})
			if err != nil {
				var apiErr *client.APIError
				if errors.As(err, &apiErr) && apiErr.Uncertain {
					Warning("The ledger write could not be confirmed. Check the transaction before retrying.")
					fmt.Println(KeyValue("Tx hash", apiErr.TxHash))
					fmt.Println(KeyValue("Locator", apiErr.Locator))
				}
				return describeError(err)
			}

			if resp.FileHash != local.String() {
				Warning(fmt.Sprintf("Server digest %s differs from local digest %s", resp.FileHash, local))
			}

			if jsonOutput() {
				return printJSON(resp)
			}
			Success(resp.Message)
			status := "ok"
			if resp.Simulated {
				status = "simulated"
			}
			fmt.Println(StatusBox("Product "+resp.ProductID, [][2]string{
				{"Batch", resp.BatchName},
				{"Manufacturer", resp.ManufacturerName},
				{"Digest", resp.FileHash},
				{"Locator", resp.StorageLocator},
				{"Tx hash", resp.TxHash},
				{"Block", strconv.FormatUint(resp.LedgerReceipt.BlockNumber, 10)},
				{"Contract", resp.ContractAddress},
				{"Ledger", StatusBadge(status)},
			}))
			if resp.QRCodeData != "" {
				fmt.Println(SectionHeader("QR payload"))
				fmt.Println(resp.QRCodeData)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&req.ProductID, "product-id", "p", "", "Product ID to register")
	cmd.Flags().StringVarP(&req.ManufacturerName, "manufacturer", "m", "", "Manufacturer name")
	cmd.Flags().StringVarP(&req.BatchName, "batch", "b", "", "Batch name (defaults to the product ID)")
	cmd.Flags().StringVarP(&req.ProductType, "type", "t", "", "Product type")
	cmd.Flags().StringVar(&req.Description, "description", "", "Description")
	cmd.Flags().StringVar(&req.ContentType, "content-type", "", "Content type (detected from the file when empty)")
	cmd.MarkFlagRequired("product-id")
	return cmd
}

// contentTypeFor prefers the extension for the two accepted document types.
func contentTypeFor(name string) string {
	switch filepath.Ext(name) {
	case ".pdf":
		return "application/pdf"
	case ".json":
		return "application/json"
	}
	return ""
}

// NewVerifyCmd creates the verification command.
func NewVerifyCmd() *cobra.Command {
	var (
		locator string
		file    string
	)

	cmd := &cobra.Command{
		Use:   "verify <product-id>",
		Short: "Check a stored document against its ledger fingerprint",
		Long: `Re-download the document, re-hash it and compare it with the digest
recorded on the ledger. Without --locator the document recorded for the
product's batch is used.

With --file the local copy is also compared against the ledger digest.
Exits non-zero when the product is not authentic.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireSession()
			if err != nil {
				return err
			}

			var resp *client.VerifyResponse
			err = WithSpinner("Verifying", func() error {
				var verifyErr error
				resp, verifyErr = c.Verify(args[0], locator)
				return verifyErr
			})
			if err != nil {
				return describeError(err)
			}

			var localMatch *bool
			if file != "" && resp.StoredHash != "" {
				digest, _, err := hashing.SumFile(file)
				if err != nil {
					return err
				}
				m := hashing.Equal(digest.String(), resp.StoredHash)
				localMatch = &m
			}

			if jsonOutput() {
				if err := printJSON(struct {
					*client.VerifyResponse
					LocalMatch *bool `json:"localMatch,omitempty"`
				}{resp, localMatch}); err != nil {
					return err
				}
			} else {
				printVerdict(resp, localMatch)
			}

			if !resp.IsVerified || (localMatch != nil && !*localMatch) {
				return errNotAuthentic
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&locator, "locator", "l", "", "Storage locator of the document")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Local copy to compare as well")
	return cmd
}

var errNotAuthentic = errors.New("product is not authentic")

func printVerdict(resp *client.VerifyResponse, localMatch *bool) {
	status := "authentic"
	switch {
	case resp.StoredHash == "":
		status = "not found"
	case !resp.IsVerified:
		status = "tampered"
	}

	fields := [][2]string{
		{"Verdict", StatusBadge(status)},
		{"Stored", orDash(resp.StoredHash)},
		{"Current", orDash(resp.CurrentHash)},
		{"Checked", formatTime(resp.CheckedAt)},
	}
	if localMatch != nil {
		local := "authentic"
		if !*localMatch {
			local = "tampered"
		}
		fields = append(fields, [2]string{"Local file", StatusBadge(local)})
	}
	if resp.Simulated {
		fields = append(fields, [2]string{"Ledger", StatusBadge("simulated")})
	}
	fmt.Println(StatusBox("Product "+resp.ProductID, fields))
	fmt.Println(Hint(resp.Message))
}

// NewScanCmd creates the supplier scan command.
func NewScanCmd() *cobra.Command {
	var (
		supplier string
		location string
		qrFile   string
	)

	cmd := &cobra.Command{
		Use:   "scan [qr-payload]",
		Short: "Record a supplier scan of a product QR code",
		Long: `Record that a supplier scanned a product's QR code. The payload is the
JSON printed in the QR code, given as an argument or with --file (- for stdin).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireSession()
			if err != nil {
				return err
			}
			payload, err := payloadArg(args, qrFile)
			if err != nil {
				return err
			}

			resp, err := c.Scan(payload, supplier, location)
			if err != nil {
				return describeError(err)
			}

			if jsonOutput() {
				return printJSON(resp)
			}
			Success(resp.Message)
			fmt.Println(StatusBox("Batch "+resp.BatchInfo.BatchID, [][2]string{
				{"Name", resp.BatchInfo.BatchName},
				{"Manufacturer", resp.BatchInfo.ManufacturerName},
				{"Type", resp.BatchInfo.ProductType},
				{"Scan ID", resp.ScanRecord.ScanID},
				{"Scanned", formatTime(resp.ScanRecord.Timestamp)},
			}))
			return nil
		},
	}

	cmd.Flags().StringVarP(&supplier, "supplier", "s", "", "Supplier name")
	cmd.Flags().StringVar(&location, "location", "", "Supplier location")
	cmd.Flags().StringVarP(&qrFile, "file", "f", "", "Read the QR payload from a file (- for stdin)")
	cmd.MarkFlagRequired("supplier")
	return cmd
}

// NewProductCmd creates the ledger record lookup command.
func NewProductCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "product <product-id>",
		Short: "Show the ledger record of a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireSession()
			if err != nil {
				return err
			}
			p, err := c.Product(args[0])
			if err != nil {
				return describeError(err)
			}
			if jsonOutput() {
				return printJSON(p)
			}
			fields := [][2]string{
				{"Digest", p.FileHash},
				{"Owner", p.Owner},
				{"Recorded", formatTime(p.Timestamp)},
			}
			if p.Simulated {
				fields = append(fields, [2]string{"Ledger", StatusBadge("simulated")})
			}
			fmt.Println(StatusBox("Product "+p.ProductID, fields))
			return nil
		},
	}
}

// NewBatchCmd creates the batch lookup command. It needs no login.
func NewBatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch <batch-id>",
		Short: "Show a batch and its scan history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := GetClient().Batch(args[0])
			if err != nil {
				return describeError(err)
			}
			if jsonOutput() {
				return printJSON(resp)
			}

			b := resp.Batch
			lastScan := "-"
			if resp.Stats.LastScanAt != nil {
				lastScan = formatTime(*resp.Stats.LastScanAt)
			}
			fmt.Println(StatusBox("Batch "+b.BatchID, [][2]string{
				{"Name", b.BatchName},
				{"Manufacturer", b.ManufacturerName},
				{"Type", b.ProductType},
				{"Status", b.Status},
				{"Digest", b.FileHash},
				{"Document", b.DocumentURL},
				{"Tx hash", b.TxHash},
				{"Created", formatTime(b.CreatedAt)},
				{"Scans", strconv.Itoa(resp.Stats.TotalScans)},
				{"Suppliers", strconv.Itoa(resp.Stats.UniqueSuppliers)},
				{"Last scan", lastScan},
			}))

			if len(b.Scans) > 0 {
				rows := make([][]string, 0, len(b.Scans))
				for _, s := range b.Scans {
					rows = append(rows, []string{truncateID(s.ID, 12), s.SupplierName, s.SupplierLocation, formatTime(s.Timestamp)})
				}
				fmt.Println(SectionHeader("Scans"))
				fmt.Println(RenderTable([]string{"ID", "SUPPLIER", "LOCATION", "TIME"}, rows))
			}
			return nil
		},
	}
}

// NewSearchCmd creates the product search command.
func NewSearchCmd() *cobra.Command {
	var criteria string

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search registered products",
		Long: `Search products by substring. --by restricts the match to one field:
productId, batchName, manufacturer or productType.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireSession()
			if err != nil {
				return err
			}
			resp, err := c.Search(args[0], criteria)
			if err != nil {
				return describeError(err)
			}
			if jsonOutput() {
				return printJSON(resp)
			}
			if resp.Total == 0 {
				Info(fmt.Sprintf("No products match %q", resp.Query))
				return nil
			}
			rows := make([][]string, 0, len(resp.Results))
			for _, p := range resp.Results {
				rows = append(rows, []string{
					p.ProductID,
					p.BatchName,
					p.ManufacturerName,
					truncateID(p.FileHash, 16),
					formatTime(p.CreatedAt),
				})
			}
			fmt.Println(RenderTable([]string{"PRODUCT", "BATCH", "MANUFACTURER", "DIGEST", "CREATED"}, rows))
			fmt.Println(Hint(fmt.Sprintf("%d result(s)", resp.Total)))
			return nil
		},
	}

	cmd.Flags().StringVar(&criteria, "by", "", "Field to match (default: all)")
	return cmd
}

// NewStatusCmd shows server health and ledger network.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server health and ledger network",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := GetClient()
			health, err := c.Health()
			if err != nil {
				return describeError(err)
			}

			var network *client.NetworkInfo
			if c.Token() != "" {
				network, _ = c.Network()
			}

			if jsonOutput() {
				return printJSON(map[string]any{"health": health, "network": network})
			}

			status := health.Status
			if health.Simulated {
				status = "simulated"
			}
			fields := [][2]string{
				{"Server", c.BaseURL()},
				{"Status", StatusBadge(status)},
				{"Version", health.Version},
				{"Uptime", health.Uptime},
				{"Ledger", health.Ledger},
				{"Storage", health.Storage},
				{"Contract", FormatAddress(health.Contract)},
			}
			if network != nil {
				fields = append(fields,
					[2]string{"Network", network.Name},
					[2]string{"Chain ID", strconv.FormatInt(network.ChainID, 10)},
					[2]string{"Block", strconv.FormatUint(network.BlockNumber, 10)})
			}
			fmt.Println(StatusBox(Logo(), fields))
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
