package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scanchain/scanchain/internal/hashing"
)

type hashResult struct {
	File   string `json:"file"`
	Digest string `json:"fileHash"`
	Size   int64  `json:"size"`
	Match  *bool  `json:"match,omitempty"`
}

// NewHashCmd creates the local document hashing command.
func NewHashCmd() *cobra.Command {
	var expect string

	cmd := &cobra.Command{
		Use:   "hash <file>...",
		Short: "Compute the SHA-256 fingerprint of documents",
		Long: `Compute the lowercase hex SHA-256 digest of each file, the same fingerprint
the server records on the ledger. No server is contacted.

With --expect, exits non-zero unless every file matches the given digest.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var want hashing.Digest
			if expect != "" {
				d, err := hashing.Parse(expect)
				if err != nil {
					return err
				}
				want = d
			}

			results := make([]hashResult, 0, len(args))
			mismatches := 0
			for _, path := range args {
				digest, size, err := hashing.SumFile(path)
				if err != nil {
					return err
				}
				r := hashResult{File: path, Digest: digest.String(), Size: size}
				if want != "" {
					match := digest == want
					r.Match = &match
					if !match {
						mismatches++
					}
				}
				results = append(results, r)
			}

			if jsonOutput() {
				if err := printJSON(results); err != nil {
					return err
				}
			} else {
				for _, r := range results {
					line := fmt.Sprintf("%s  %s", r.Digest, r.File)
					if r.Match != nil {
						status := "authentic"
						if !*r.Match {
							status = "tampered"
						}
						line += "  " + StatusBadge(status)
					}
					fmt.Println(line)
				}
			}

			if mismatches > 0 {
				return fmt.Errorf("%d of %d files do not match %s", mismatches, len(results), want)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&expect, "expect", "", "Expected digest to compare against")
	return cmd
}
