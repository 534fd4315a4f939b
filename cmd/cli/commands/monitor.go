package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scanchain/scanchain/internal/client"
)

func NewMonitorCmd() *cobra.Command {
	var (
		channels []string
		product  string
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Stream live product events",
		Long: `Stream live events from the server: documents stored, verifications,
supplier scans and ledger events.

Filter with --event (product.stored, product.verified, product.scanned,
ledger.event) or --product to follow a single product.

Press Ctrl+C to exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if product != "" {
				channels = append(channels, "product:"+product)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c := GetClient()
			if !jsonOutput() {
				Info(fmt.Sprintf("Streaming events from %s (Ctrl+C to exit)", c.BaseURL()))
			}
			return c.Events(ctx, channels, printEvent)
		},
	}

	cmd.Flags().StringSliceVar(&channels, "event", nil, "Event types to show")
	cmd.Flags().StringVar(&product, "product", "", "Only show events for this product ID")
	return cmd
}

func printEvent(ev client.Event) {
	if jsonOutput() {
		json.NewEncoder(os.Stdout).Encode(ev)
		return
	}

	var data map[string]any
	json.Unmarshal(ev.Data, &data)
	str := func(k string) string {
		s, _ := data[k].(string)
		return s
	}

	ts := StyleMuted.Render(ev.Timestamp.Local().Format("15:04:05"))
	if !isTTY() {
		ts = ev.Timestamp.Local().Format("15:04:05")
	}

	var line string
	switch ev.Type {
	case "product.stored":
		line = fmt.Sprintf("stored    %s  %s  tx %s", str("productId"), truncateID(str("fileHash"), 16), truncateID(str("txHash"), 14))
	case "product.verified":
		verdict := "tampered"
		if ok, _ := data["isVerified"].(bool); ok {
			verdict = "authentic"
		}
		line = fmt.Sprintf("verified  %s  %s", str("productId"), StatusBadge(verdict))
	case "product.scanned":
		line = fmt.Sprintf("scanned   %s  by %s", str("batchId"), str("supplierName"))
	case "ledger.event":
		line = fmt.Sprintf("ledger    block %v  tx %s", data["blockNumber"], truncateID(str("txHash"), 14))
	default:
		line = fmt.Sprintf("%-9s %s", ev.Type, string(ev.Data))
	}
	fmt.Println(ts + "  " + line)
}
