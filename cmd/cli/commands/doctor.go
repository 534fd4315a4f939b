package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scanchain/scanchain/internal/config"
	"github.com/scanchain/scanchain/internal/doctor"
)

func NewDoctorCmd() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the server configuration and its backends",
		Long: `Run preflight checks for the API server configuration:

  config    config file loads and validates
  ledger    wallet unlocks, RPC answers on the right chain, contract deployed
  storage   object store and registry directory are usable
  services  Redis is reachable when it backs the product locks
  system    file descriptor limit

Exits non-zero when any check fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := GetConfigPath()
			// An invalid file falls back to defaults; the config check reports why.
			cfg, err := config.Load(path)
			if err != nil {
				cfg = config.DefaultConfig()
			}

			d := doctor.New(cfg, path, doctor.Options{
				JSON:     jsonOutput(),
				Category: doctor.Category(category),
			})
			report, err := d.Run(cmd.Context())
			if err != nil {
				return err
			}
			if !report.Summary.IsHealthy() {
				return fmt.Errorf("%d check(s) failed", report.Summary.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Only run checks in this category (config, ledger, storage, services, system)")
	return cmd
}
