package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

// NewManCmd creates the man command for generating man pages.
func NewManCmd() *cobra.Command {
	var (
		outputDir string
		markdown  bool
	)

	cmd := &cobra.Command{
		Use:    "man",
		Short:  "Generate man pages",
		Long:   "Generate man pages (or markdown with --markdown) for every scanchain command.",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(outputDir, 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}

			root := cmd.Root()
			root.DisableAutoGenTag = true

			if markdown {
				if err := doc.GenMarkdownTree(root, outputDir); err != nil {
					return fmt.Errorf("failed to generate markdown: %w", err)
				}
			} else {
				now := time.Now()
				header := &doc.GenManHeader{
					Title:   "SCANCHAIN",
					Section: "1",
					Date:    &now,
					Source:  "ScanChain " + GetVersion(),
					Manual:  "ScanChain Manual",
				}
				if err := doc.GenManTree(root, header, outputDir); err != nil {
					return fmt.Errorf("failed to generate man pages: %w", err)
				}
			}

			Success(fmt.Sprintf("Docs generated in %s", outputDir))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "dir", "d", filepath.Join(".", "man"), "Output directory")
	cmd.Flags().BoolVar(&markdown, "markdown", false, "Generate markdown instead of man pages")
	return cmd
}
